// Package terrain pairs an elevation map with the texture map it displaces, the way a host
// application drives them.
package terrain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MickWest/Sitrec2/geomhelp"
	"github.com/MickWest/Sitrec2/gpkg"
	"github.com/MickWest/Sitrec2/quadtree"
	"github.com/MickWest/Sitrec2/scene"
	"github.com/MickWest/Sitrec2/view"
)

const (
	ElevationLayer = "elevation"
	TextureLayer   = "texture"
)

// Terrain owns both maps. All methods must be called from the goroutine that owns the scene.
type Terrain struct {
	Elevation *quadtree.ElevationMap
	Texture   *quadtree.TextureMap

	deps quadtree.Deps
	log  *zap.SugaredLogger
}

// New builds the elevation map first, then the texture map on top of it. opts.OnLoaded is
// attached to the texture map only.
func New(sc scene.Scene, opts quadtree.Options, deps quadtree.Deps) (*Terrain, error) {
	eopts := opts
	eopts.OnLoaded = nil
	em, err := quadtree.NewElevationMap(eopts, deps)
	if err != nil {
		return nil, fmt.Errorf("elevation map: %w", err)
	}
	tm, err := quadtree.NewTextureMap(sc, em, opts, deps)
	if err != nil {
		em.Clean()
		return nil, fmt.Errorf("texture map: %w", err)
	}
	t := &Terrain{Elevation: em, Texture: tm, deps: deps, log: tm.Options().Logger}
	em.OnElevationTileLoaded = t.elevationTileLoaded
	return t, nil
}

func (t *Terrain) elevationTileLoaded(et *quadtree.Tile) {
	n := t.Texture.ElevationTileLoaded(et)
	t.log.Debugw("re-curved texture tiles", "tile", et.Key.String(), "count", n)
}

// Subdivide lets each map make its one level of detail change for this frame.
func (t *Terrain) Subdivide(cameras ...view.Camera) (texture, elevation quadtree.Action) {
	elevation = t.Elevation.SubdivideTiles(cameras...)
	texture = t.Texture.SubdivideTiles(cameras...)
	return texture, elevation
}

// Update applies finished loads, elevation first so that imagery lands on curved meshes.
func (t *Terrain) Update() int {
	return t.Elevation.Update() + t.Texture.Update()
}

// Settle waits until neither map has loads in flight.
func (t *Terrain) Settle(ctx context.Context) error {
	for t.Elevation.Pending() > 0 || t.Texture.Pending() > 0 {
		if err := t.Elevation.Settle(ctx); err != nil {
			return err
		}
		if err := t.Texture.Settle(ctx); err != nil {
			return err
		}
	}
	t.Update()
	return nil
}

func (t *Terrain) Loaded() bool {
	return t.Elevation.Loaded() && t.Texture.Loaded()
}

// ElevationAt is the height at lat/lon from the deepest active elevation tile.
func (t *Terrain) ElevationAt(lat, lon float64) float64 {
	return t.Elevation.ElevationInterpolated(lat, lon, -1)
}

// Footprints lists every cached tile of both maps.
func (t *Terrain) Footprints() []gpkg.Footprint {
	var out []gpkg.Footprint
	for _, layer := range []struct {
		name string
		m    *quadtree.Map
	}{{ElevationLayer, t.Elevation.Map}, {TextureLayer, t.Texture.Map}} {
		for _, tile := range layer.m.Cache().Tiles() {
			out = append(out, gpkg.Footprint{
				Layer:    layer.name,
				Key:      tile.Key,
				Active:   tile.Active(),
				Loaded:   tile.Loaded(),
				Failed:   tile.Failed(),
				Geometry: geomhelp.TileFootprint(t.deps.Projection, tile.Key),
			})
		}
	}
	return out
}

// Clean releases both maps. The terrain cannot be used afterwards.
func (t *Terrain) Clean() {
	t.Texture.Clean()
	t.Elevation.Clean()
}
