// Package quadtree selects, loads and caches terrain tiles at the level of detail the cameras need.
//
// A Map is driven from one goroutine: SubdivideTiles, Update and the elevation queries all
// mutate or read the tile cache without locking. Fetching and decoding run on worker
// goroutines and are handed back through Update.
package quadtree

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/scene"
	"github.com/MickWest/Sitrec2/tilekey"
	"github.com/MickWest/Sitrec2/view"
)

// forcedSubdivisionZoom is the first zoom level whose tiles are judged by screen size.
const forcedSubdivisionZoom = 3

var ErrNotLoaded = errors.New("map has not finished loading")

// tileKind is what the texture and elevation maps add to the shared control loop.
type tileKind interface {
	canSubdivide(t *Tile) bool
	activateTile(key tilekey.Key)
	deactivateTile(key tilekey.Key, instant bool)
	// elevationAt is the height, unclamped and scaled, used to curve meshes.
	elevationAt(lat, lon float64) float64
}

// ActionType is the structural change a SubdivideTiles call made.
type ActionType int

const (
	NoAction ActionType = iota
	Subdivide
	Merge
)

func (a ActionType) String() string {
	switch a {
	case Subdivide:
		return "subdivide"
	case Merge:
		return "merge"
	}
	return "none"
}

type Action struct {
	Type ActionType
	// Key is the tile that was split, or the parent that was restored.
	Key tilekey.Key
}

// Counts summarizes load outcomes applied by Update.
type Counts struct {
	Loaded  int
	Aborted int
	Failed  int
}

// Map is the part shared by ElevationMap and TextureMap: the cache, the subdivide and merge
// loop, and the asynchronous loads.
type Map struct {
	opts Options
	deps Deps
	kind tileKind
	log  *zap.SugaredLogger

	cache  *TileCache
	scene  scene.Scene
	radius float64

	ctx    context.Context
	cancel context.CancelFunc
	loader *loader

	loaded bool
	counts Counts
}

func newMap(opts Options, deps Deps) (*Map, error) {
	o, err := getOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkDeps(deps); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Map{
		opts:   o,
		deps:   deps,
		log:    o.Logger,
		cache:  NewTileCache(),
		radius: o.Radius,
		ctx:    ctx,
		cancel: cancel,
		loader: newLoader(ctx, o.Concurrency),
	}, nil
}

func (m *Map) Options() Options {
	return m.opts
}

func (m *Map) Cache() *TileCache {
	return m.cache
}

func (m *Map) Radius() float64 {
	return m.radius
}

// Loaded reports whether OnLoaded has fired.
func (m *Map) Loaded() bool {
	return m.loaded
}

func (m *Map) Counts() Counts {
	return m.counts
}

func (m *Map) Tile(key tilekey.Key) (*Tile, bool) {
	return m.cache.Get(key)
}

// initTiles activates the starting tiles: the root for a dynamic map, otherwise an
// NTiles×NTiles block around the center at Zoom. Rows outside the tile matrix are skipped.
func (m *Map) initTiles() {
	if m.opts.Dynamic {
		m.kind.activateTile(tilekey.New(0, 0, 0))
		return
	}
	m.initTilePositions()
}

func (m *Map) initTilePositions() {
	zoom := m.opts.Zoom
	cx, cy := m.deps.Projection.Geo2Tile(m.opts.Lat, m.opts.Lon, zoom)
	offset := m.opts.NTiles / 2
	for i := 0; i < m.opts.NTiles; i++ {
		for j := 0; j < m.opts.NTiles; j++ {
			key := tilekey.New(zoom, cx+i-offset, cy+j-offset)
			wrapped := key.Wrapped(m.deps.Projection.MatrixWidth(zoom))
			if !m.deps.Projection.Contains(zoom, wrapped.X, wrapped.Y) {
				continue
			}
			m.kind.activateTile(key)
		}
	}
}

// SubdivideTiles makes at most one level of detail change: it splits one tile that appears
// too large on screen, or merges four children back into a parent that no longer needs them.
// Without cameras the map's default cameras are used.
func (m *Map) SubdivideTiles(cameras ...view.Camera) Action {
	if len(cameras) == 0 {
		cameras = m.deps.Cameras
	}
	frustums := make([]view.Frustum, len(cameras))
	for i, cam := range cameras {
		frustums[i] = view.NewFrustum(cam)
	}

	action := Action{Type: NoAction}
	m.cache.Each(func(t *Tile) bool {
		if t.added && !t.active && t.Mesh != nil && m.childrenLoaded(t.Key) {
			m.hide(t)
		}
		if !m.kind.canSubdivide(t) {
			return true
		}
		childrenActive := m.childrenActive(t.Key)
		if !t.active && !childrenActive {
			return true
		}

		size, visible := m.largestProjection(t, cameras, frustums)
		if t.Key.Z < forcedSubdivisionZoom {
			size, visible = math.Inf(1), true
		}
		big := visible && size > m.opts.SubdivideSize

		if t.active && t.Key.Z < m.opts.MaxZoom && big {
			m.log.Debugw("subdivide", "tile", t.Key.String(), "size", size)
			for _, child := range t.Key.Children() {
				m.kind.activateTile(child)
			}
			m.kind.deactivateTile(t.Key, false)
			action = Action{Type: Subdivide, Key: t.Key}
			return false
		}
		if !t.active && !big && childrenActive {
			m.log.Debugw("merge", "tile", t.Key.String(), "size", size)
			m.kind.activateTile(t.Key)
			for _, child := range t.Key.Children() {
				m.kind.deactivateTile(child, true)
			}
			action = Action{Type: Merge, Key: t.Key}
			return false
		}
		return true
	})
	return action
}

// largestProjection is the biggest on-screen size of the tile over all cameras, and whether
// the camera that sees it biggest has it in view.
func (m *Map) largestProjection(t *Tile, cameras []view.Camera, frustums []view.Frustum) (float64, bool) {
	sphere := t.WorldSphere()
	maxSize, visible := 0., false
	for i, cam := range cameras {
		size := view.ProjectedSize(cam, sphere, m.opts.ReferenceWidth)
		if size > maxSize {
			maxSize = size
			visible = frustums[i].IntersectsSphere(sphere)
		}
	}
	return maxSize, visible
}

func (m *Map) children(key tilekey.Key) ([4]*Tile, bool) {
	var out [4]*Tile
	for i, k := range key.Children() {
		t, ok := m.cache.Get(k)
		if !ok {
			return out, false
		}
		out[i] = t
	}
	return out, true
}

func (m *Map) childrenActive(key tilekey.Key) bool {
	children, ok := m.children(key)
	if !ok {
		return false
	}
	for _, c := range children {
		if !c.active {
			return false
		}
	}
	return true
}

func (m *Map) childrenLoaded(key tilekey.Key) bool {
	children, ok := m.children(key)
	if !ok {
		return false
	}
	for _, c := range children {
		if !c.loaded {
			return false
		}
	}
	return true
}

func (m *Map) show(t *Tile) {
	if m.scene == nil {
		panic(fmt.Errorf("no scene to add tile %s to", t.Key))
	}
	m.scene.Add(t.Mesh)
	t.added = true
}

func (m *Map) hide(t *Tile) {
	if m.scene != nil && t.Mesh != nil {
		m.scene.Remove(t.Mesh)
	}
	t.added = false
}

// schedule queues a load for t. Nothing is applied until Update runs.
func (m *Map) schedule(t *Tile, run work, fail func(error)) {
	m.loader.schedule(&task{tile: t, run: run, fail: fail})
}

// Update applies finished loads. Results for tiles no longer in the cache are dropped, and
// aborted loads are dropped silently. OnLoaded fires the first time nothing is pending.
func (m *Map) Update() int {
	applied := 0
	for _, c := range m.loader.drain() {
		if c.task == nil {
			continue
		}
		switch c.outcome {
		case Aborted:
			m.counts.Aborted++
			continue
		case Failed:
			m.counts.Failed++
		case Loaded:
			m.counts.Loaded++
		}
		if !m.cache.holds(c.task.tile) {
			continue
		}
		if c.outcome == Failed {
			m.log.Warnw("tile load failed", "tile", c.task.tile.Key.String(), "error", c.err)
			c.task.tile.failed = true
			if c.task.fail != nil {
				c.task.fail(c.err)
			}
			applied++
			continue
		}
		c.apply()
		applied++
	}
	if !m.loaded && m.ctx.Err() == nil && m.loader.idle() {
		m.loaded = true
		if m.opts.OnLoaded != nil {
			m.opts.OnLoaded()
		}
	}
	return applied
}

// Settle applies loads until none are pending or ctx is done.
func (m *Map) Settle(ctx context.Context) error {
	for {
		m.Update()
		if m.loader.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.loader.notify:
		}
	}
}

// Pending is the number of loads scheduled and not yet applied.
func (m *Map) Pending() int {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	return m.loader.pending
}

// clean cancels every load and forgets all tiles. In-flight loads end up Aborted.
func (m *Map) clean() {
	m.cancel()
	m.cache.Clear()
}

func (m *Map) fetchError(err error) error {
	if errors.Is(err, fetch.ErrAborted) || m.ctx.Err() != nil {
		return fetch.ErrAborted
	}
	return err
}
