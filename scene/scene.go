// Package scene is the minimal render surface the tile maps populate: meshes with geometry
// and a material, added to and removed from a scene.
package scene

import (
	"github.com/go-gl/mathgl/mgl64"
)

type Mesh struct {
	Name     string
	Geometry *Geometry
	Material Material
	// Position is the world-space origin the geometry's vertices are relative to.
	Position mgl64.Vec3
}

func NewMesh(name string, g *Geometry, m Material) *Mesh {
	return &Mesh{Name: name, Geometry: g, Material: m}
}

// Scene is an opaque container of meshes.
type Scene interface {
	Add(m *Mesh)
	Remove(m *Mesh)
}

// Group is an in-memory Scene that remembers insertion order.
type Group struct {
	meshes []*Mesh
	index  map[*Mesh]int
}

func NewGroup() *Group {
	return &Group{index: make(map[*Mesh]int)}
}

func (g *Group) Add(m *Mesh) {
	if _, ok := g.index[m]; ok {
		return
	}
	g.index[m] = len(g.meshes)
	g.meshes = append(g.meshes, m)
}

func (g *Group) Remove(m *Mesh) {
	i, ok := g.index[m]
	if !ok {
		return
	}
	last := len(g.meshes) - 1
	g.meshes[i] = g.meshes[last]
	g.index[g.meshes[i]] = i
	g.meshes = g.meshes[:last]
	delete(g.index, m)
}

func (g *Group) Contains(m *Mesh) bool {
	_, ok := g.index[m]
	return ok
}

func (g *Group) Len() int {
	return len(g.meshes)
}

func (g *Group) Meshes() []*Mesh {
	out := make([]*Mesh, len(g.meshes))
	copy(out, g.meshes)
	return out
}
