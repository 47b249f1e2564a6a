package terrain

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/geo"
	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/quadtree"
	"github.com/MickWest/Sitrec2/scene"
	"github.com/MickWest/Sitrec2/tilekey"
	"github.com/MickWest/Sitrec2/view"
)

const (
	lat    = 34.0
	lon    = -118.0
	height = 300.0
)

type stubFetcher struct {
	elevation []byte
	imagery   []byte
	calls     atomic.Int32
}

func newStubFetcher(t *testing.T) *stubFetcher {
	t.Helper()
	encode := func(img image.Image) []byte {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		return buf.Bytes()
	}
	dem := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	v := height + 32768
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			dem.SetNRGBA(x, y, color.NRGBA{R: uint8(int(v) / 256), G: uint8(int(v) % 256), A: 255})
		}
	}
	return &stubFetcher{elevation: encode(dem), imagery: encode(image.NewRGBA(image.Rect(0, 0, 2, 2)))}
}

func (f *stubFetcher) FetchTile(_ context.Context, kind fetch.Kind, _ tilekey.Key, _ string) ([]byte, error) {
	f.calls.Add(1)
	if kind == fetch.Elevation {
		return f.elevation, nil
	}
	return f.imagery, nil
}

func newTerrain(t *testing.T, opts quadtree.Options) (*Terrain, *scene.Group, *stubFetcher) {
	t.Helper()
	f := newStubFetcher(t)
	group := scene.NewGroup()
	deps := quadtree.Deps{
		Projection: projection.WebMercator(),
		World:      geo.NewLocalFrame(lat, lon),
		Source: fetch.Templates{
			Elevation: "mem://dem/{z}/{x}/{y}.png",
			Texture:   "mem://img/{z}/{x}/{y}.png",
		},
		Fetcher: f,
	}
	tr, err := New(group, opts, deps)
	require.NoError(t, err)
	t.Cleanup(tr.Clean)
	return tr, group, f
}

func options() quadtree.Options {
	return quadtree.Options{Lat: lat, Lon: lon, TileSegments: 4, Logger: zap.NewNop().Sugar()}
}

func centerTile() tilekey.Key {
	x, y := projection.WebMercator().Geo2Tile(lat, lon, 11)
	return tilekey.New(11, x, y)
}

func TestTerrainLoads(t *testing.T) {
	fired := 0
	opts := options()
	opts.OnLoaded = func() { fired++ }
	tr, group, f := newTerrain(t, opts)

	tile, ok := tr.Texture.Tile(centerTile())
	require.True(t, ok)
	flat := tile.Mesh.Geometry.Positions[12]

	require.NoError(t, tr.Settle(context.Background()))
	assert.True(t, tr.Loaded())
	assert.Equal(t, 1, fired)
	assert.Equal(t, 9, group.Len())
	assert.Equal(t, int32(18), f.calls.Load())
	assert.InDelta(t, height, tr.ElevationAt(lat, lon), 1e-3)

	raised := tile.Mesh.Geometry.Positions[12]
	assert.InDelta(t, height, raised.Sub(flat).Len(), 1e-3)
}

func TestTerrainFootprints(t *testing.T) {
	tr, _, _ := newTerrain(t, options())
	require.NoError(t, tr.Settle(context.Background()))

	layers := make(map[string]int)
	for _, fp := range tr.Footprints() {
		layers[fp.Layer]++
		assert.True(t, fp.Active)
		assert.True(t, fp.Loaded)
		assert.Len(t, fp.Geometry, 1)
	}
	assert.Equal(t, map[string]int{ElevationLayer: 9, TextureLayer: 9}, layers)
}

func TestTerrainSubdivide(t *testing.T) {
	opts := options()
	opts.SubdivideSize = 10
	tr, group, _ := newTerrain(t, opts)
	require.NoError(t, tr.Settle(context.Background()))

	cam := view.NewPerspectiveCamera(mgl64.Vec3{0, 30000, 30000}, mgl64.Vec3{}, 60, 1, 10, 1e7)
	texture, elevation := tr.Subdivide(cam)
	assert.Equal(t, quadtree.Subdivide, texture.Type)
	assert.Equal(t, quadtree.Subdivide, elevation.Type)
	assert.Equal(t, 12, tr.Texture.Cache().CountActive())

	require.NoError(t, tr.Settle(context.Background()))
	assert.Equal(t, 13, group.Len(), "split parent stays until the next pass")
	tr.Subdivide(cam)
	assert.Equal(t, 12+3, tr.Texture.Cache().CountActive())
}

func TestTerrainClean(t *testing.T) {
	tr, group, _ := newTerrain(t, options())
	require.NoError(t, tr.Settle(context.Background()))
	tr.Clean()
	assert.Zero(t, group.Len())
	assert.Zero(t, tr.Texture.Cache().Len())
	assert.Zero(t, tr.Elevation.Cache().Len())
}

func TestNewRejectsMissingScene(t *testing.T) {
	_, err := New(nil, options(), quadtree.Deps{})
	assert.Error(t, err)
}
