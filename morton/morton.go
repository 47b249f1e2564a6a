// Package morton encodes tile coordinates as Z-order (Morton) codes, so that the four
// children of a tile are adjacent when keys are sorted.
package morton

import (
	"encoding/binary"
	"fmt"
)

type Z = uint64

var (
	masks = [...]uint64{
		0x5555555555555555,
		0x3333333333333333,
		0x0F0F0F0F0F0F0F0F,
		0x00FF00FF00FF00FF,
		0x0000FFFF0000FFFF,
		0x00000000FFFFFFFF,
	}
	shifts = [...]uint{1, 2, 4, 8, 16}
)

// KeyLen is the length of an encoded tile key: one zoom byte and an eight byte code.
const KeyLen = 9

func spread(v uint32) uint64 {
	w := uint64(v)
	for i := len(shifts) - 1; i >= 0; i-- {
		w = (w | (w << shifts[i])) & masks[i]
	}
	return w
}

func compact(w uint64) uint32 {
	w &= masks[0]
	for i := 0; i < len(shifts); i++ {
		w = (w | (w >> shifts[i])) & masks[i+1]
	}
	return uint32(w)
}

func ToZ(x, y uint32) Z {
	return spread(x) | (spread(y) << 1)
}

func FromZ(z Z) (x, y uint32) {
	return compact(z), compact(z >> 1)
}

// TileKey returns a sortable byte key: the zoom followed by the big-endian Z code.
func TileKey(zoom uint8, x, y uint32) []byte {
	b := make([]byte, KeyLen)
	b[0] = zoom
	binary.BigEndian.PutUint64(b[1:], ToZ(x, y))
	return b
}

func ParseTileKey(b []byte) (zoom uint8, x, y uint32, err error) {
	if len(b) != KeyLen {
		return 0, 0, 0, fmt.Errorf("morton tile key should be %d bytes, got %d", KeyLen, len(b))
	}
	x, y = FromZ(binary.BigEndian.Uint64(b[1:]))
	return b[0], x, y, nil
}
