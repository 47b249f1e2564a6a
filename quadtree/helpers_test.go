package quadtree

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/geo"
	"github.com/MickWest/Sitrec2/heightmap"
	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/tilekey"
	"github.com/MickWest/Sitrec2/view"
)

const (
	testLat = 34.0
	testLon = -118.0
)

var errBoom = errors.New("boom")

// fakeFetcher serves synthetic elevation and imagery tiles.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	height float64
	side   int
	fail   map[string]bool
	// elevation, when set, is served for every elevation tile instead of a flat terrarium png
	elevation []byte

	// block, when set, holds every fetch until it is closed or the context ends
	block   chan struct{}
	started chan string
}

func newFakeFetcher(height float64) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), height: height, side: 4, fail: make(map[string]bool)}
}

func (f *fakeFetcher) FetchTile(ctx context.Context, kind fetch.Kind, _ tilekey.Key, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	failing := f.fail[url]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- url
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, errBoom
	}
	if kind == fetch.Elevation && f.elevation != nil {
		return f.elevation, nil
	}
	if kind == fetch.Elevation {
		return terrariumPNG(f.side, f.height), nil
	}
	return imageryPNG(), nil
}

func (f *fakeFetcher) failURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = true
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func terrariumPNG(side int, height float64) []byte {
	v := height + 32768
	r := math.Floor(v / 256)
	g := math.Floor(v - r*256)
	b := math.Round((v - r*256 - g) * 256)
	img := image.NewNRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func imageryPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var testTemplates = fetch.Templates{
	Elevation: "mem://dem/{z}/{x}/{y}.png",
	Texture:   "mem://img/{z}/{x}/{y}.png",
}

func testDeps(f fetch.TileFetcher) Deps {
	return Deps{
		Projection: projection.WebMercator(),
		World:      geo.NewLocalFrame(testLat, testLon),
		Source:     testTemplates,
		Fetcher:    f,
	}
}

func testOptions() Options {
	return Options{
		Lat:          testLat,
		Lon:          testLon,
		TileSegments: 4,
		Logger:       zap.NewNop().Sugar(),
	}
}

func nearCamera() view.Camera {
	return view.NewPerspectiveCamera(mgl64.Vec3{0, 30000, 30000}, mgl64.Vec3{}, 60, 1, 10, 1e7)
}

func farCamera() view.Camera {
	return view.NewPerspectiveCamera(mgl64.Vec3{0, 1e9, 1e9}, mgl64.Vec3{}, 45, 1, 10, 1e10)
}

func settle(t *testing.T, m *Map) {
	t.Helper()
	require.NoError(t, m.Settle(context.Background()))
}

// putTile places a tile straight into the cache, with elevation samples when given.
func putTile(t *testing.T, m *Map, key tilekey.Key, active bool, samples ...float32) *Tile {
	t.Helper()
	tile := newTile(m, key)
	tile.active = active
	if samples != nil {
		g, err := heightmap.GridFromSamples(samples)
		require.NoError(t, err)
		tile.Elevation = g
		tile.loaded = true
	}
	m.cache.Set(tile)
	return tile
}

func tileAt(zoom int) tilekey.Key {
	x, y := projection.WebMercator().Geo2Tile(testLat, testLon, zoom)
	return tilekey.New(zoom, x, y)
}
