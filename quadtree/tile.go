package quadtree

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/MickWest/Sitrec2/heightmap"
	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/scene"
	"github.com/MickWest/Sitrec2/tilekey"
	"github.com/MickWest/Sitrec2/view"
)

// edgeFraction keeps the last row and column of vertices inside the tile.
const edgeFraction = 1 - 1e-6

// Tile is one cell of a map. Parents and children are derived from Key, never stored.
type Tile struct {
	Key tilekey.Key

	active bool
	added  bool
	loaded bool
	failed bool

	Mesh *scene.Mesh

	Elevation *heightmap.Grid
	Stats     heightmap.Stats

	sphere       view.Sphere
	sphereRadius float64 // world radius the sphere was computed for, 0 when unset

	m *Map
}

func newTile(m *Map, key tilekey.Key) *Tile {
	return &Tile{Key: key, m: m}
}

func (t *Tile) Active() bool { return t.active }
func (t *Tile) Added() bool  { return t.added }
func (t *Tile) Loaded() bool { return t.loaded }

// Failed reports that the payload could not be fetched or decoded.
func (t *Tile) Failed() bool { return t.failed }

func (t *Tile) String() string {
	return fmt.Sprintf("%s active=%t added=%t loaded=%t", t.Key, t.active, t.added, t.loaded)
}

// WorldSphere bounds the tile's four corners at sea level. It is recomputed when the map's
// radius changed since the last call.
func (t *Tile) WorldSphere() view.Sphere {
	radius := t.m.radius
	if t.sphereRadius == radius {
		return t.sphere
	}
	north, south, west, east := projection.TileBounds(t.m.deps.Projection, t.Key.Z, t.Key.X, t.Key.Y)
	corners := [4]mgl64.Vec3{
		t.m.deps.World.GeoToWorld(south, west, 0, radius),
		t.m.deps.World.GeoToWorld(north, west, 0, radius),
		t.m.deps.World.GeoToWorld(south, east, 0, radius),
		t.m.deps.World.GeoToWorld(north, east, 0, radius),
	}
	center := corners[0].Add(corners[1]).Add(corners[2]).Add(corners[3]).Mul(0.25)
	r := 0.
	for _, c := range corners {
		r = math.Max(r, c.Sub(center).Len())
	}
	t.sphere = view.Sphere{Center: center, Radius: r}
	t.sphereRadius = radius
	return t.sphere
}

func (t *Tile) invalidateSphere() {
	t.sphereRadius = 0
}

// center is the world position of the tile's mid latitude and longitude at sea level.
func (t *Tile) center() mgl64.Vec3 {
	north, south, west, east := projection.TileBounds(t.m.deps.Projection, t.Key.Z, t.Key.X, t.Key.Y)
	return t.m.deps.World.GeoToWorld((north+south)/2, (west+east)/2, 0, t.m.radius)
}

func (t *Tile) buildMesh() {
	g := scene.NewPlaneGeometry(t.m.opts.TileSize, int(t.m.opts.TileSegments))
	t.Mesh = scene.NewMesh(t.Key.String(), g, scene.NewWireframeMaterial())
}

// RecalculateCurve places every mesh vertex on the terrain, relative to the mesh position.
// Elevation below sea level is raised to 0.
func (t *Tile) RecalculateCurve(radius float64) {
	if t.Mesh == nil || t.Mesh.Geometry == nil {
		panic(fmt.Errorf("tile %s has no geometry to curve", t.Key))
	}
	g := t.Mesh.Geometry
	p := t.m.deps.Projection
	n := g.Side()
	for i := range g.Positions {
		fx := math.Min(float64(i%n)/float64(n-1), edgeFraction)
		fy := math.Min(float64(i/n)/float64(n-1), edgeFraction)

		lat := p.NorthLatitude(float64(t.Key.Y)+fy, t.Key.Z)
		lon := p.LeftLongitude(float64(t.Key.X)+fx, t.Key.Z)

		elevation := math.Max(0, t.m.kind.elevationAt(lat, lon))

		v := t.m.deps.World.GeoToWorld(lat, lon, elevation, radius).Sub(t.Mesh.Position)
		if math.IsNaN(v.X()) || math.IsNaN(v.Y()) || math.IsNaN(v.Z()) {
			panic(fmt.Errorf("tile %s vertex %d is NaN (lat %v, lon %v, elevation %v)", t.Key, i, lat, lon, elevation))
		}
		g.Positions[i] = v
	}
	g.ComputeVertexNormals()
	g.ComputeBoundingBox()
	g.ComputeBoundingSphere()
}

// dispose releases the mesh's geometry, material and any quadrant textures.
func (t *Tile) dispose() {
	if t.Mesh == nil {
		return
	}
	t.Mesh.Geometry.Dispose()
	if tm, ok := t.Mesh.Material.(*scene.TextureMaterial); ok {
		for _, name := range scene.QuadUniforms {
			if tex, ok := tm.Uniforms[name]; ok && tex != nil {
				tex.Dispose()
			}
		}
		if tm.Map != nil {
			tm.Map.Dispose()
		}
	}
	t.Mesh.Material.Dispose()
}
