package quadtree

import (
	"context"
	"fmt"

	"github.com/go-spatial/geom"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/geomhelp"
	"github.com/MickWest/Sitrec2/scene"
	"github.com/MickWest/Sitrec2/tilekey"
)

// TextureMap holds the visible mesh tiles. Their vertices are displaced by the attached
// ElevationMap and their imagery is fetched asynchronously.
type TextureMap struct {
	*Map

	elevation *ElevationMap
}

// NewTextureMap builds the initial tiles right away, so sc must be usable. elevation may be nil,
// in which case the terrain stays at sea level.
func NewTextureMap(sc scene.Scene, elevation *ElevationMap, opts Options, deps Deps) (*TextureMap, error) {
	if sc == nil {
		return nil, fmt.Errorf("texture map needs a scene")
	}
	m, err := newMap(opts, deps)
	if err != nil {
		return nil, err
	}
	m.scene = sc
	tm := &TextureMap{Map: m, elevation: elevation}
	m.kind = tm
	m.initTiles()
	return tm, nil
}

func (tm *TextureMap) canSubdivide(t *Tile) bool {
	return t.Mesh != nil && t.Mesh.Geometry != nil
}

func (tm *TextureMap) activateTile(key tilekey.Key) {
	if tm.scene == nil {
		panic(fmt.Errorf("texture map has no scene, tile %s cannot be activated", key))
	}
	t, ok := tm.cache.Get(key)
	if ok {
		tm.show(t)
	} else {
		t = newTile(tm.Map, key)
		t.buildMesh()
		t.Mesh.Position = t.center()
		t.RecalculateCurve(tm.radius)
		tm.cache.Set(t)
		tm.applyMaterial(t)
	}
	t.active = true
}

func (tm *TextureMap) deactivateTile(key tilekey.Key, instant bool) {
	t, ok := tm.cache.Get(key)
	if !ok || !t.active {
		return
	}
	t.active = false
	if instant {
		tm.hide(t)
	}
}

// applyMaterial shows the tile once its imagery is in. Tiles without imagery show their
// wireframe straight away, and so do tiles whose imagery failed to load.
func (tm *TextureMap) applyMaterial(t *Tile) {
	if tm.opts.DebugTextures {
		t.Mesh.Material.Dispose()
		t.Mesh.Material = scene.NewDebugMaterial(t.Key.String())
		t.loaded = true
		tm.show(t)
		return
	}
	wrapped := t.Key.Wrapped(tm.deps.Projection.MatrixWidth(t.Key.Z))
	url := tm.deps.Source.TextureURL(wrapped)
	if url == "" || tm.opts.ElevationOnly {
		t.loaded = true
		tm.show(t)
		return
	}

	tm.schedule(t, func(ctx context.Context) (func(), error) {
		data, err := tm.deps.Fetcher.FetchTile(ctx, fetch.Texture, wrapped, url)
		if err != nil {
			return nil, tm.fetchError(err)
		}
		if ctx.Err() != nil {
			return nil, fetch.ErrAborted
		}
		img, _, err := fetch.DecodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("texture tile %s: %w", wrapped, err)
		}
		return func() {
			t.Mesh.Material.Dispose()
			t.Mesh.Material = scene.NewTextureMaterial(scene.NewTexture(img))
			t.loaded = true
			// a merge may have retired the tile while its imagery was on the way
			if t.active {
				tm.show(t)
			}
		}, nil
	}, func(error) {
		t.loaded = true
		if t.active {
			tm.show(t)
		}
	})
}

func (tm *TextureMap) elevationAt(lat, lon float64) float64 {
	return tm.ElevationInterpolated(lat, lon, -1)
}

// ElevationInterpolated asks the attached ElevationMap. Without one it warns and answers 0.
func (tm *TextureMap) ElevationInterpolated(lat, lon float64, desiredZoom int) float64 {
	if tm.elevation == nil {
		tm.log.Warnw("no elevation map available for interpolation")
		return 0
	}
	return tm.elevation.ElevationInterpolated(lat, lon, desiredZoom)
}

// RecalculateCurveMap re-curves every tile for a new world radius. It does nothing when the
// radius is unchanged unless force is set, and refuses before the map has loaded.
func (tm *TextureMap) RecalculateCurveMap(radius float64, force bool) error {
	if !force && radius == tm.radius {
		tm.log.Debugw("radius unchanged, curve kept", "radius", radius)
		return nil
	}
	if !tm.loaded {
		return ErrNotLoaded
	}
	tm.radius = radius
	tm.cache.Each(func(t *Tile) bool {
		t.invalidateSphere()
		t.Mesh.Position = t.center()
		t.RecalculateCurve(radius)
		return true
	})
	return nil
}

// ElevationTileLoaded re-curves the active tiles that overlap a freshly loaded elevation tile.
func (tm *TextureMap) ElevationTileLoaded(et *Tile) int {
	footprint := geomhelp.TileExtent(et.m.deps.Projection, et.Key)
	n := 0
	tm.cache.Each(func(t *Tile) bool {
		if !t.active || t.Mesh == nil {
			return true
		}
		if overlaps(footprint, geomhelp.TileExtent(tm.deps.Projection, t.Key)) {
			t.RecalculateCurve(tm.radius)
			n++
		}
		return true
	})
	return n
}

// overlaps compares lon/lat extents, trying a full turn either way for tiles whose column wrapped.
func overlaps(a, b *geom.Extent) bool {
	for _, shift := range [...]float64{0, 360, -360} {
		moved := geom.Extent{b.MinX() + shift, b.MinY(), b.MaxX() + shift, b.MaxY()}
		if geomhelp.ExtentsIntersect(a, &moved) {
			return true
		}
	}
	return false
}

// Clean cancels pending loads, takes every mesh out of the scene, releases geometry, materials
// and textures, and drops the cache and the scene.
func (tm *TextureMap) Clean() {
	tm.cancel()
	tm.cache.Each(func(t *Tile) bool {
		if t.Mesh != nil {
			tm.hide(t)
			t.dispose()
		}
		return true
	})
	tm.clean()
	tm.scene = nil
}
