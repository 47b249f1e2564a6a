package quadtree

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/MickWest/Sitrec2/mapslicehelp"
	"github.com/MickWest/Sitrec2/tilekey"
)

// TileCache maps keys to tiles and iterates in insertion order.
// It is only touched from the goroutine that owns the map.
type TileCache struct {
	tiles *orderedmap.OrderedMap[tilekey.Key, *Tile]
}

func NewTileCache() *TileCache {
	return &TileCache{tiles: orderedmap.New[tilekey.Key, *Tile]()}
}

func (c *TileCache) Get(key tilekey.Key) (*Tile, bool) {
	return c.tiles.Get(key)
}

func (c *TileCache) Set(t *Tile) {
	c.tiles.Set(t.Key, t)
}

// holds reports whether t itself, not just a tile with its key, is still cached.
func (c *TileCache) holds(t *Tile) bool {
	cached, ok := c.tiles.Get(t.Key)
	return ok && cached == t
}

func (c *TileCache) Len() int {
	return c.tiles.Len()
}

func (c *TileCache) Keys() []tilekey.Key {
	return mapslicehelp.OrderedMapKeys(c.tiles)
}

func (c *TileCache) Tiles() []*Tile {
	return mapslicehelp.OrderedMapValues(c.tiles)
}

func (c *TileCache) CountActive() int {
	return mapslicehelp.CountWhere(c.tiles, func(t *Tile) bool { return t.active })
}

// Each calls fn in insertion order until it returns false. Tiles added by fn are not visited.
func (c *TileCache) Each(fn func(t *Tile) bool) {
	n := c.tiles.Len()
	for p := c.tiles.Oldest(); p != nil && n > 0; p = p.Next() {
		if !fn(p.Value) {
			return
		}
		n--
	}
}

func (c *TileCache) Clear() {
	c.tiles = orderedmap.New[tilekey.Key, *Tile]()
}
