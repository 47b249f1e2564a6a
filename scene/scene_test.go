package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaneGeometry(t *testing.T) {
	g := NewPlaneGeometry(600, 4)
	require.Equal(t, 25, g.VertexCount())
	assert.Equal(t, 5, g.Side())
	assert.Len(t, g.Indices, 4*4*6)
	assert.Equal(t, mgl64.Vec3{-300, 0, -300}, g.Positions[0])
	assert.Equal(t, mgl64.Vec3{300, 0, 300}, g.Positions[24])
	// second vertex is one column to the right of the first
	assert.Equal(t, mgl64.Vec3{-150, 0, -300}, g.Positions[1])

	assert.Equal(t, mgl64.Vec3{}, g.BoundingBox.Center())
	assert.InDelta(t, 300*1.4142135623730951, g.BoundingSphere.Radius, 1e-9)
}

func TestComputeVertexNormals(t *testing.T) {
	g := NewPlaneGeometry(2, 2)
	g.ComputeVertexNormals()
	for _, n := range g.Normals {
		assert.InDelta(t, 1, n.Y(), 1e-12)
	}

	// raise the middle vertex: neighbours tilt away from it
	g.Positions[4] = mgl64.Vec3{0, 1, 0}
	g.ComputeVertexNormals()
	assert.InDelta(t, 1, g.Normals[4].Len(), 1e-12)
	assert.Less(t, g.Normals[3].X(), 0.)
	assert.Greater(t, g.Normals[5].X(), 0.)

	g.ComputeBoundingBox()
	assert.Equal(t, 1., g.BoundingBox.Max.Y())
}

func TestGroup(t *testing.T) {
	grp := NewGroup()
	a := NewMesh("a", NewPlaneGeometry(1, 1), NewWireframeMaterial())
	b := NewMesh("b", NewPlaneGeometry(1, 1), NewWireframeMaterial())
	c := NewMesh("c", NewPlaneGeometry(1, 1), NewWireframeMaterial())

	grp.Add(a)
	grp.Add(b)
	grp.Add(a)
	grp.Add(c)
	assert.Equal(t, 3, grp.Len())

	grp.Remove(a)
	assert.False(t, grp.Contains(a))
	assert.True(t, grp.Contains(b))
	assert.True(t, grp.Contains(c))
	assert.ElementsMatch(t, []*Mesh{b, c}, grp.Meshes())

	grp.Remove(a)
	assert.Equal(t, 2, grp.Len())
}

func TestDisposal(t *testing.T) {
	g := NewPlaneGeometry(1, 1)
	g.Dispose()
	assert.True(t, g.Disposed())
	assert.Nil(t, g.Positions)

	m := NewDebugMaterial("11/352/817")
	require.NotNil(t, m.Map.Image)
	assert.Equal(t, 512, m.Map.Image.Bounds().Dx())
	m.Map.Dispose()
	m.Dispose()
	assert.True(t, m.Disposed())
	assert.True(t, m.Map.Disposed())
}
