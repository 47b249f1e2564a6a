package mathhelp

import (
	"math"

	"golang.org/x/exp/constraints"
)

func Pow2(n uint) uint {
	return 1 << n
}

// BetweenInc reports whether f lies in [p, q] (or [q, p]).
func BetweenInc[T constraints.Ordered](f, p, q T) bool {
	if p <= q {
		return p <= f && f <= q
	}
	return q <= f && f <= p
}

func EuclidianMod[T constraints.Integer](d, m T) T {
	r := d % m
	if (r < 0 && m > 0) || (r > 0 && m < 0) {
		return r + m
	}
	return r
}

// FloatMod is EuclidianMod for tile coordinates that carry a fraction.
func FloatMod(d, m float64) float64 {
	r := math.Mod(d, m)
	if r < 0 {
		r += m
	}
	return r
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// FloorDiv divides rounding towards negative infinity, so parents of tiles with a wrapped
// (negative) column stay consistent with key arithmetic.
func FloorDiv[T constraints.Integer](d, m T) T {
	q := d / m
	if (d%m != 0) && ((d < 0) != (m < 0)) {
		q--
	}
	return q
}
