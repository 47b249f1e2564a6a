package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/MickWest/Sitrec2/view"
)

type Box struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

func (b Box) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Geometry is a regular grid of (Segments+1)² vertices. Vertex i sits at column
// i % (Segments+1) and row i / (Segments+1).
type Geometry struct {
	Segments  int
	Positions []mgl64.Vec3
	Normals   []mgl64.Vec3
	Indices   []uint32

	BoundingBox    Box
	BoundingSphere view.Sphere

	disposed bool
}

// NewPlaneGeometry lays a size×size plane in the XZ plane, centered on the origin.
func NewPlaneGeometry(size float64, segments int) *Geometry {
	n := segments + 1
	g := &Geometry{
		Segments:  segments,
		Positions: make([]mgl64.Vec3, n*n),
		Normals:   make([]mgl64.Vec3, n*n),
		Indices:   make([]uint32, 0, segments*segments*6),
	}
	step := size / float64(segments)
	for iy := 0; iy < n; iy++ {
		for ix := 0; ix < n; ix++ {
			i := iy*n + ix
			g.Positions[i] = mgl64.Vec3{float64(ix)*step - size/2, 0, float64(iy)*step - size/2}
			g.Normals[i] = mgl64.Vec3{0, 1, 0}
		}
	}
	for iy := 0; iy < segments; iy++ {
		for ix := 0; ix < segments; ix++ {
			a := uint32(iy*n + ix)
			b := uint32((iy+1)*n + ix)
			c := b + 1
			d := a + 1
			g.Indices = append(g.Indices, a, b, d, b, c, d)
		}
	}
	g.ComputeBoundingBox()
	g.ComputeBoundingSphere()
	return g
}

func (g *Geometry) VertexCount() int {
	return len(g.Positions)
}

// Side is the number of vertices along one edge.
func (g *Geometry) Side() int {
	return g.Segments + 1
}

func (g *Geometry) ComputeVertexNormals() {
	for i := range g.Normals {
		g.Normals[i] = mgl64.Vec3{}
	}
	for t := 0; t+2 < len(g.Indices); t += 3 {
		ia, ib, ic := g.Indices[t], g.Indices[t+1], g.Indices[t+2]
		a, b, c := g.Positions[ia], g.Positions[ib], g.Positions[ic]
		face := b.Sub(a).Cross(c.Sub(a))
		g.Normals[ia] = g.Normals[ia].Add(face)
		g.Normals[ib] = g.Normals[ib].Add(face)
		g.Normals[ic] = g.Normals[ic].Add(face)
	}
	for i, n := range g.Normals {
		if n.Len() > 0 {
			g.Normals[i] = n.Normalize()
		}
	}
}

func (g *Geometry) ComputeBoundingBox() {
	inf := math.Inf(1)
	box := Box{Min: mgl64.Vec3{inf, inf, inf}, Max: mgl64.Vec3{-inf, -inf, -inf}}
	for _, p := range g.Positions {
		for k := 0; k < 3; k++ {
			box.Min[k] = math.Min(box.Min[k], p[k])
			box.Max[k] = math.Max(box.Max[k], p[k])
		}
	}
	g.BoundingBox = box
}

// ComputeBoundingSphere centers on the bounding box, which must be current.
func (g *Geometry) ComputeBoundingSphere() {
	center := g.BoundingBox.Center()
	r := 0.
	for _, p := range g.Positions {
		r = math.Max(r, p.Sub(center).Len())
	}
	g.BoundingSphere = view.Sphere{Center: center, Radius: r}
}

func (g *Geometry) Dispose() {
	g.disposed = true
	g.Positions, g.Normals, g.Indices = nil, nil, nil
}

func (g *Geometry) Disposed() bool {
	return g.disposed
}
