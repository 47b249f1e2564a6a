package quadtree

import (
	"context"
	"fmt"
	"math"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/heightmap"
	"github.com/MickWest/Sitrec2/mathhelp"
	"github.com/MickWest/Sitrec2/tilekey"
)

// ElevationMap holds elevation-only tiles and answers height queries at whatever zoom
// level has data, independent of the texture map's level of detail.
type ElevationMap struct {
	*Map

	// OnElevationTileLoaded is called on the owner goroutine after a tile's elevation was stored.
	OnElevationTileLoaded func(t *Tile)

	lastTile *Tile
}

// TileFraction is a location in fractional tile coordinates at Zoom.
type TileFraction struct {
	X, Y float64
	Zoom int
}

func (f TileFraction) key() tilekey.Key {
	return tilekey.New(f.Zoom, int(math.Floor(f.X)), int(math.Floor(f.Y)))
}

func NewElevationMap(opts Options, deps Deps) (*ElevationMap, error) {
	m, err := newMap(opts, deps)
	if err != nil {
		return nil, err
	}
	em := &ElevationMap{Map: m}
	m.kind = em
	m.initTiles()
	return em, nil
}

func (em *ElevationMap) canSubdivide(*Tile) bool {
	return true
}

// activateTile stores tiles under their wrapped key, so lookups at any longitude find them.
func (em *ElevationMap) activateTile(key tilekey.Key) {
	if key.Z > em.opts.MaxZoom {
		panic(fmt.Errorf("elevation tile %s is deeper than max zoom %d", key, em.opts.MaxZoom))
	}
	key = key.Wrapped(em.deps.Projection.MatrixWidth(key.Z))
	t, ok := em.cache.Get(key)
	if !ok {
		t = newTile(em.Map, key)
		em.cache.Set(t)
		em.scheduleElevation(t)
	}
	t.active = true
}

func (em *ElevationMap) deactivateTile(key tilekey.Key, _ bool) {
	key = key.Wrapped(em.deps.Projection.MatrixWidth(key.Z))
	if t, ok := em.cache.Get(key); ok {
		t.active = false
	}
}

func (em *ElevationMap) scheduleElevation(t *Tile) {
	url := em.deps.Source.ElevationURL(t.Key)
	key := t.Key
	em.schedule(t, func(ctx context.Context) (func(), error) {
		if url == "" {
			return nil, fmt.Errorf("no elevation source for %s", key)
		}
		data, err := em.deps.Fetcher.FetchTile(ctx, fetch.Elevation, key, url)
		if err != nil {
			return nil, em.fetchError(err)
		}
		if ctx.Err() != nil {
			return nil, fetch.ErrAborted
		}
		grid, stats, err := heightmap.Decode(data, url)
		if err != nil {
			return nil, fmt.Errorf("elevation tile %s: %w", key, err)
		}
		return func() {
			t.Elevation = grid
			t.Stats = stats
			t.loaded = true
			em.log.Debugw("elevation tile loaded", "tile", key.String(), "n", grid.N,
				"min", stats.Min, "max", stats.Max, "nan", stats.NaNCount)
			if em.OnElevationTileLoaded != nil {
				em.OnElevationTileLoaded(t)
			}
		}, nil
	}, nil)
}

// elevationAt is never used to curve a mesh here, elevation tiles have none.
func (em *ElevationMap) elevationAt(lat, lon float64) float64 {
	return em.ElevationInterpolated(lat, lon, -1)
}

func (em *ElevationMap) fraction(lat, lon float64, zoom int) TileFraction {
	p := em.deps.Projection
	x := mathhelp.FloatMod(p.Lon2Tile(lon, zoom), float64(p.MatrixWidth(zoom)))
	return TileFraction{X: x, Y: p.Lat2Tile(lat, zoom), Zoom: zoom}
}

// TileFractionAndZoom finds the tile that should answer a height query at lat/lon.
// With desiredZoom >= 0 it looks at that zoom, falling back to the nearest ancestor with
// elevation data. Otherwise it takes the deepest active tile. ok is false when no tile
// covers the location.
func (em *ElevationMap) TileFractionAndZoom(lat, lon float64, desiredZoom int) (TileFraction, bool) {
	if t := em.lastTile; t != nil && t.active && t.Elevation != nil && (desiredZoom < 0 || desiredZoom == t.Key.Z) {
		f := em.fraction(lat, lon, t.Key.Z)
		if f.key() == t.Key {
			return f, true
		}
	}
	em.lastTile = nil

	if desiredZoom >= 0 {
		f := em.fraction(lat, lon, desiredZoom)
		if t, ok := em.cache.Get(f.key()); ok && t.active && t.Elevation != nil {
			em.lastTile = t
			return f, true
		}
		for zoom := desiredZoom - 1; zoom >= 0; zoom-- {
			f = em.fraction(lat, lon, zoom)
			if t, ok := em.cache.Get(f.key()); ok && t.Elevation != nil {
				return f, true
			}
		}
		return TileFraction{}, false
	}

	for zoom := em.opts.MaxZoom; zoom >= 0; zoom-- {
		f := em.fraction(lat, lon, zoom)
		if t, ok := em.cache.Get(f.key()); ok && t.active {
			em.lastTile = t
			return f, true
		}
	}
	return TileFraction{}, false
}

// ElevationInterpolated is the height at lat/lon in meters times ZScale, bilinear within one
// tile. It is 0 where no elevation is loaded. desiredZoom < 0 means the deepest active tile.
func (em *ElevationMap) ElevationInterpolated(lat, lon float64, desiredZoom int) float64 {
	f, ok := em.TileFractionAndZoom(lat, lon, desiredZoom)
	if !ok {
		return 0
	}
	key := f.key()
	t, ok := em.cache.Get(key)
	if !ok || t.Elevation == nil {
		return 0
	}
	return t.Elevation.Bilinear(f.X-float64(key.X), f.Y-float64(key.Y)) * em.opts.ZScale
}

// Clean cancels pending fetches and empties the cache.
func (em *ElevationMap) Clean() {
	em.clean()
	em.lastTile = nil
}
