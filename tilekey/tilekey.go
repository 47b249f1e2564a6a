// Package tilekey identifies quad-tree tiles by zoom, column and row.
package tilekey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MickWest/Sitrec2/mathhelp"
	"github.com/MickWest/Sitrec2/morton"
)

// MaxZoom is the deepest level any tile matrix in this module is defined for.
const MaxZoom = 20

// Key is a tile address. X may lie outside the matrix because longitude wraps, Y may not.
type Key struct {
	Z int
	X int
	Y int
}

func New(z, x, y int) Key {
	return Key{Z: z, X: x, Y: y}
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

func Parse(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf(`tile key "%s" should look like zoom/x/y`, s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Key{}, fmt.Errorf(`tile key "%s": %w`, s, err)
		}
		v[i] = n
	}
	k := Key{Z: v[0], X: v[1], Y: v[2]}
	if !k.Valid() {
		return Key{}, fmt.Errorf(`tile key "%s" is out of range`, s)
	}
	return k, nil
}

func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Valid checks zoom and row. The column is not checked.
func (k Key) Valid() bool {
	return mathhelp.BetweenInc(k.Z, 0, MaxZoom) && k.Y >= 0 && k.Y < int(mathhelp.Pow2(uint(k.Z)))
}

// Children returns (2x,2y), (2x,2y+1), (2x+1,2y), (2x+1,2y+1) one level down.
func (k Key) Children() [4]Key {
	z, x, y := k.Z+1, k.X*2, k.Y*2
	return [4]Key{
		{Z: z, X: x, Y: y},
		{Z: z, X: x, Y: y + 1},
		{Z: z, X: x + 1, Y: y},
		{Z: z, X: x + 1, Y: y + 1},
	}
}

func (k Key) Parent() (Key, bool) {
	if k.Z == 0 {
		return Key{}, false
	}
	return Key{Z: k.Z - 1, X: mathhelp.FloorDiv(k.X, 2), Y: mathhelp.FloorDiv(k.Y, 2)}, true
}

// Wrapped returns the key with its column folded into [0, width).
func (k Key) Wrapped(width int) Key {
	k.X = mathhelp.EuclidianMod(k.X, width)
	return k
}

// Bytes is a compact sortable key for byte stores. The column must already be wrapped.
func (k Key) Bytes() []byte {
	if k.X < 0 || !k.Valid() {
		panic(fmt.Errorf("cannot encode tile key %v, wrap it first", k))
	}
	return morton.TileKey(uint8(k.Z), uint32(k.X), uint32(k.Y))
}

func FromBytes(b []byte) (Key, error) {
	z, x, y, err := morton.ParseTileKey(b)
	if err != nil {
		return Key{}, err
	}
	return Key{Z: int(z), X: int(x), Y: int(y)}, nil
}
