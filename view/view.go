// Package view holds the camera abstraction the tile maps evaluate level of detail against.
package view

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/s1"
)

// Camera is a perspective camera in world space.
type Camera interface {
	ProjectionMatrix() mgl64.Mat4
	// WorldMatrix is the camera-to-world transform.
	WorldMatrix() mgl64.Mat4
	Position() mgl64.Vec3
	// EffectiveFOV is the vertical field of view in degrees after zoom.
	EffectiveFOV() float64
}

type Sphere struct {
	Center mgl64.Vec3
	Radius float64
}

// ProjectedSize estimates how many pixels across the sphere appears for a viewport
// referenceWidth pixels tall.
func ProjectedSize(cam Camera, s Sphere, referenceWidth float64) float64 {
	fov := (s1.Angle(cam.EffectiveFOV()) * s1.Degree).Radians()
	distance := cam.Position().Sub(s.Center).Len()
	height := 2 * math.Tan(fov/2) * distance
	return (2 * s.Radius) / height * referenceWidth
}

// PerspectiveCamera is a plain look-at camera.
type PerspectiveCamera struct {
	Eye    mgl64.Vec3
	Target mgl64.Vec3
	Up     mgl64.Vec3
	FOV    float64 // vertical, degrees
	Aspect float64
	Near   float64
	Far    float64
	Zoom   float64
}

func NewPerspectiveCamera(eye, target mgl64.Vec3, fov, aspect, near, far float64) *PerspectiveCamera {
	return &PerspectiveCamera{
		Eye:    eye,
		Target: target,
		Up:     mgl64.Vec3{0, 1, 0},
		FOV:    fov,
		Aspect: aspect,
		Near:   near,
		Far:    far,
		Zoom:   1,
	}
}

func (c *PerspectiveCamera) EffectiveFOV() float64 {
	zoom := c.Zoom
	if zoom == 0 {
		zoom = 1
	}
	half := (s1.Angle(c.FOV) * s1.Degree).Radians() / 2
	return s1.Angle(2 * math.Atan(math.Tan(half)/zoom)).Degrees()
}

func (c *PerspectiveCamera) ProjectionMatrix() mgl64.Mat4 {
	fov := (s1.Angle(c.EffectiveFOV()) * s1.Degree).Radians()
	return mgl64.Perspective(fov, c.Aspect, c.Near, c.Far)
}

func (c *PerspectiveCamera) WorldMatrix() mgl64.Mat4 {
	return mgl64.LookAtV(c.Eye, c.Target, c.Up).Inv()
}

func (c *PerspectiveCamera) Position() mgl64.Vec3 {
	return c.Eye
}
