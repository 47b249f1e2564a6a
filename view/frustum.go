package view

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Plane keeps points p with Normal·p + D >= 0 on its inside.
type Plane struct {
	Normal mgl64.Vec3
	D      float64
}

func (p Plane) Distance(pt mgl64.Vec3) float64 {
	return p.Normal.Dot(pt) + p.D
}

func planeFrom(v mgl64.Vec4) Plane {
	n := v.Vec3()
	l := n.Len()
	return Plane{Normal: n.Mul(1 / l), D: v.W() / l}
}

type Frustum [6]Plane

// FrustumFromMatrix extracts the clip planes of a combined projection × view matrix
// (Gribb and Hartmann).
func FrustumFromMatrix(m mgl64.Mat4) Frustum {
	r0, r1, r2, r3 := m.Row(0), m.Row(1), m.Row(2), m.Row(3)
	return Frustum{
		planeFrom(r3.Add(r0)),
		planeFrom(r3.Sub(r0)),
		planeFrom(r3.Add(r1)),
		planeFrom(r3.Sub(r1)),
		planeFrom(r3.Add(r2)),
		planeFrom(r3.Sub(r2)),
	}
}

// NewFrustum builds the frustum of cam from projection × inverse(world).
func NewFrustum(cam Camera) Frustum {
	return FrustumFromMatrix(cam.ProjectionMatrix().Mul4(cam.WorldMatrix().Inv()))
}

func (f Frustum) IntersectsSphere(s Sphere) bool {
	for _, p := range f {
		if p.Distance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}

func (f Frustum) ContainsPoint(pt mgl64.Vec3) bool {
	return f.IntersectsSphere(Sphere{Center: pt})
}
