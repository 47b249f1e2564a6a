package quadtree

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/scene"
	"github.com/MickWest/Sitrec2/tilekey"
)

func newTextureMap(t *testing.T, f *fakeFetcher, em *ElevationMap, opts Options) (*TextureMap, *scene.Group) {
	t.Helper()
	group := scene.NewGroup()
	tm, err := NewTextureMap(group, em, opts, testDeps(f))
	require.NoError(t, err)
	return tm, group
}

// vertexAt is where vertex (col, row) of tile should sit for the given elevation.
func vertexAt(tm *TextureMap, tile *Tile, col, row int, elevation float64) mgl64.Vec3 {
	p := tm.deps.Projection
	n := tile.Mesh.Geometry.Side()
	fx := math.Min(float64(col)/float64(n-1), edgeFraction)
	fy := math.Min(float64(row)/float64(n-1), edgeFraction)
	lat := p.NorthLatitude(float64(tile.Key.Y)+fy, tile.Key.Z)
	lon := p.LeftLongitude(float64(tile.Key.X)+fx, tile.Key.Z)
	return tm.deps.World.GeoToWorld(lat, lon, elevation, tm.radius).Sub(tile.Mesh.Position)
}

func TestTextureStaticGridLoads(t *testing.T) {
	f := newFakeFetcher(0)
	fired := 0
	opts := testOptions()
	opts.OnLoaded = func() { fired++ }
	tm, group := newTextureMap(t, f, nil, opts)
	defer tm.Clean()

	require.Equal(t, 9, tm.Cache().Len())
	for _, tile := range tm.Cache().Tiles() {
		assert.True(t, tile.Active())
		assert.False(t, tile.Added(), "not shown before its imagery")
		assert.Equal(t, 25, tile.Mesh.Geometry.VertexCount())
	}
	assert.Zero(t, group.Len())

	settle(t, tm.Map)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 9, group.Len())
	for _, tile := range tm.Cache().Tiles() {
		assert.True(t, tile.Loaded())
		assert.True(t, tile.Added())
		assert.True(t, group.Contains(tile.Mesh))
		assert.IsType(t, &scene.TextureMaterial{}, tile.Mesh.Material)
	}
	assert.Equal(t, 9, f.totalCalls())
}

func TestTextureMeshPlacement(t *testing.T) {
	tm, _ := newTextureMap(t, newFakeFetcher(0), nil, testOptions())
	defer tm.Clean()

	key := tileAt(11)
	tile, ok := tm.Tile(key)
	require.True(t, ok)
	north, south, west, east := projection.TileBounds(tm.deps.Projection, key.Z, key.X, key.Y)
	want := tm.deps.World.GeoToWorld((north+south)/2, (west+east)/2, 0, tm.radius)
	assert.InDeltaSlice(t, want[:], tile.Mesh.Position[:], 1e-6)

	got := tile.Mesh.Geometry.Positions[0]
	wantNW := vertexAt(tm, tile, 0, 0, 0)
	assert.InDeltaSlice(t, wantNW[:], got[:], 1e-6)
	assert.Greater(t, tile.Mesh.Geometry.BoundingSphere.Radius, 0.)
}

func TestTextureFailureShowsWireframe(t *testing.T) {
	f := newFakeFetcher(0)
	key := tileAt(11)
	f.failURL(fetch.Expand(testTemplates.Texture, key))
	tm, group := newTextureMap(t, f, nil, testOptions())
	defer tm.Clean()

	settle(t, tm.Map)
	tile, _ := tm.Tile(key)
	assert.True(t, tile.Failed())
	assert.True(t, tile.Loaded())
	assert.True(t, tile.Added())
	assert.True(t, group.Contains(tile.Mesh))
	assert.IsType(t, &scene.WireframeMaterial{}, tile.Mesh.Material)
	assert.Equal(t, Counts{Loaded: 8, Failed: 1}, tm.Counts())
}

func TestTextureElevationOnly(t *testing.T) {
	f := newFakeFetcher(0)
	opts := testOptions()
	opts.ElevationOnly = true
	tm, group := newTextureMap(t, f, nil, opts)
	defer tm.Clean()

	assert.Equal(t, 9, group.Len())
	assert.Zero(t, f.totalCalls())
	tm.Update()
	assert.True(t, tm.Loaded())
}

func TestTextureDebugMaterial(t *testing.T) {
	f := newFakeFetcher(0)
	opts := testOptions()
	opts.DebugTextures = true
	tm, group := newTextureMap(t, f, nil, opts)
	defer tm.Clean()

	assert.Equal(t, 9, group.Len())
	assert.Zero(t, f.totalCalls())
	for _, tile := range tm.Cache().Tiles() {
		mat, ok := tile.Mesh.Material.(*scene.TextureMaterial)
		require.True(t, ok)
		assert.NotNil(t, mat.Map)
	}
}

func TestTextureWithoutElevation(t *testing.T) {
	tm, _ := newTextureMap(t, newFakeFetcher(0), nil, testOptions())
	defer tm.Clean()
	assert.Zero(t, tm.ElevationInterpolated(testLat, testLon, -1))
}

func TestTextureSeaLevelClamp(t *testing.T) {
	f := newFakeFetcher(-50)
	em, err := NewElevationMap(testOptions(), testDeps(f))
	require.NoError(t, err)
	defer em.Clean()
	settle(t, em.Map)
	require.InDelta(t, -50, em.ElevationInterpolated(testLat, testLon, -1), 1e-3)

	tm, _ := newTextureMap(t, f, em, testOptions())
	defer tm.Clean()
	tile, _ := tm.Tile(tileAt(11))
	for _, cr := range [][2]int{{0, 0}, {2, 2}, {4, 1}} {
		want := vertexAt(tm, tile, cr[0], cr[1], 0)
		got := tile.Mesh.Geometry.Positions[cr[1]*5+cr[0]]
		assert.InDeltaSlice(t, want[:], got[:], 1e-6)
	}
}

func TestElevationTileLoadedRecurves(t *testing.T) {
	f := newFakeFetcher(500)
	em, err := NewElevationMap(testOptions(), testDeps(f))
	require.NoError(t, err)
	defer em.Clean()

	tm, _ := newTextureMap(t, f, em, testOptions())
	defer tm.Clean()
	recurved := 0
	em.OnElevationTileLoaded = func(et *Tile) { recurved += tm.ElevationTileLoaded(et) }

	tile, _ := tm.Tile(tileAt(11))
	flat := vertexAt(tm, tile, 2, 2, 0)
	assert.InDeltaSlice(t, flat[:], tile.Mesh.Geometry.Positions[12][:], 1e-6)

	settle(t, em.Map)
	assert.Greater(t, recurved, 0)
	raised := vertexAt(tm, tile, 2, 2, 500)
	assert.InDeltaSlice(t, raised[:], tile.Mesh.Geometry.Positions[12][:], 1e-3)
}

func TestTextureSubdivideKeepsParentUntilChildrenLoad(t *testing.T) {
	opts := testOptions()
	opts.SubdivideSize = 10
	tm, group := newTextureMap(t, newFakeFetcher(0), nil, opts)
	defer tm.Clean()
	settle(t, tm.Map)

	split := tm.SubdivideTiles(nearCamera())
	require.Equal(t, Subdivide, split.Type)
	parent, _ := tm.Tile(split.Key)
	assert.False(t, parent.Active())
	assert.True(t, parent.Added(), "parent stays visible while children load")
	assert.True(t, group.Contains(parent.Mesh))

	settle(t, tm.Map)
	tm.SubdivideTiles(nearCamera())
	assert.False(t, parent.Added())
	assert.False(t, group.Contains(parent.Mesh))
	for _, k := range split.Key.Children() {
		child, _ := tm.Tile(k)
		assert.True(t, group.Contains(child.Mesh))
	}
}

func TestTextureMergeHidesChildrenAtOnce(t *testing.T) {
	opts := testOptions()
	opts.SubdivideSize = 10
	tm, group := newTextureMap(t, newFakeFetcher(0), nil, opts)
	defer tm.Clean()
	settle(t, tm.Map)

	split := tm.SubdivideTiles(nearCamera())
	require.Equal(t, Subdivide, split.Type)
	settle(t, tm.Map)

	var merged Action
	for i := 0; i < 20 && merged.Type != Merge; i++ {
		merged = tm.SubdivideTiles(farCamera())
	}
	require.Equal(t, Merge, merged.Type)
	parent, _ := tm.Tile(merged.Key)
	assert.True(t, parent.Active())
	assert.True(t, parent.Added())
	assert.True(t, group.Contains(parent.Mesh))
	for _, k := range merged.Key.Children() {
		child, _ := tm.Tile(k)
		assert.False(t, child.Active())
		assert.False(t, child.Added())
		assert.False(t, group.Contains(child.Mesh))
	}
}

func TestTextureCanSubdivideNeedsGeometry(t *testing.T) {
	tm, _ := newTextureMap(t, newFakeFetcher(0), nil, testOptions())
	defer tm.Clean()
	bare := newTile(tm.Map, tilekey.New(11, 0, 0))
	assert.False(t, tm.canSubdivide(bare))
	tile, _ := tm.Tile(tileAt(11))
	assert.True(t, tm.canSubdivide(tile))
}

func TestTextureClean(t *testing.T) {
	f := newFakeFetcher(0)
	tm, group := newTextureMap(t, f, nil, testOptions())
	settle(t, tm.Map)
	tiles := tm.Cache().Tiles()
	require.Len(t, tiles, 9)

	tm.Clean()
	assert.Zero(t, group.Len())
	assert.Zero(t, tm.Cache().Len())
	assert.Nil(t, tm.scene)
	for _, tile := range tiles {
		assert.True(t, tile.Mesh.Geometry.Disposed())
		assert.True(t, tile.Mesh.Material.Disposed())
		mat := tile.Mesh.Material.(*scene.TextureMaterial)
		assert.True(t, mat.Map.Disposed())
	}
}

func TestTextureCleanDisposesQuadrantTextures(t *testing.T) {
	tm, _ := newTextureMap(t, newFakeFetcher(0), nil, testOptions())
	settle(t, tm.Map)
	tile, _ := tm.Tile(tileAt(11))
	mat := tile.Mesh.Material.(*scene.TextureMaterial)
	mat.Uniforms = make(map[string]*scene.Texture)
	for _, name := range scene.QuadUniforms {
		mat.Uniforms[name] = scene.NewTexture(nil)
	}

	tm.Clean()
	for _, name := range scene.QuadUniforms {
		assert.True(t, mat.Uniforms[name].Disposed(), name)
	}
}

func TestRecalculateCurveMap(t *testing.T) {
	f := newFakeFetcher(0)
	f.block = make(chan struct{})
	tm, _ := newTextureMap(t, f, nil, testOptions())
	defer tm.Clean()

	radius := tm.Radius()
	assert.NoError(t, tm.RecalculateCurveMap(radius, false), "same radius is a no-op")
	assert.ErrorIs(t, tm.RecalculateCurveMap(radius*2, false), ErrNotLoaded)
	assert.Equal(t, radius, tm.Radius())

	close(f.block)
	settle(t, tm.Map)

	tile, _ := tm.Tile(tileAt(11))
	before := tile.WorldSphere()
	require.NoError(t, tm.RecalculateCurveMap(radius*2, false))
	assert.Equal(t, radius*2, tm.Radius())
	after := tile.WorldSphere()
	assert.NotEqual(t, before.Radius, after.Radius)

	want := vertexAt(tm, tile, 1, 3, 0)
	assert.InDeltaSlice(t, want[:], tile.Mesh.Geometry.Positions[3*5+1][:], 1e-6)

	assert.NoError(t, tm.RecalculateCurveMap(radius*2, true), "forced recalculation")
}

func TestTextureActivationWithoutScenePanics(t *testing.T) {
	tm, _ := newTextureMap(t, newFakeFetcher(0), nil, testOptions())
	tm.Clean()
	assert.Panics(t, func() { tm.activateTile(tileAt(11)) })
}
