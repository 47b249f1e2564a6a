package quadtree

import (
	"fmt"
	"io"

	"github.com/MickWest/Sitrec2/geomhelp"
)

// DumpWKT writes one line per cached tile: key, flags and lon/lat footprint as WKT.
func (m *Map) DumpWKT(w io.Writer, maxLen uint) error {
	var err error
	m.cache.Each(func(t *Tile) bool {
		footprint := geomhelp.TileFootprint(m.deps.Projection, t.Key)
		_, err = fmt.Fprintf(w, "%s\tactive=%t\tadded=%t\tloaded=%t\t%s\n",
			t.Key, t.active, t.added, t.loaded, geomhelp.WktMustEncode(footprint, maxLen))
		return err == nil
	})
	return err
}

// ActiveByZoom counts active tiles per zoom level.
func (m *Map) ActiveByZoom() map[int]int {
	counts := make(map[int]int)
	m.cache.Each(func(t *Tile) bool {
		if t.active {
			counts[t.Key.Z]++
		}
		return true
	})
	return counts
}

// ActiveTiles lists the active tiles in cache order.
func (m *Map) ActiveTiles() []*Tile {
	var out []*Tile
	for _, t := range m.cache.Tiles() {
		if t.active {
			out = append(out, t)
		}
	}
	return out
}
