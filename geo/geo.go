// Package geo places geographic positions in the local East-Up-South world frame the
// terrain meshes are built in.
package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/s1"
)

// EarthRadius is the sphere radius used for world placement, the WGS84 equatorial radius.
const EarthRadius = 6378137.0

// WorldTransform converts latitude and longitude in degrees and altitude in meters into
// world coordinates on a sphere of the given radius.
type WorldTransform interface {
	GeoToWorld(lat, lon, alt, radius float64) mgl64.Vec3
}

// ECEF is the earth-centered position on a sphere of radius.
func ECEF(lat, lon, alt, radius float64) mgl64.Vec3 {
	phi := (s1.Angle(lat) * s1.Degree).Radians()
	lambda := (s1.Angle(lon) * s1.Degree).Radians()
	r := radius + alt
	return mgl64.Vec3{
		r * math.Cos(phi) * math.Cos(lambda),
		r * math.Cos(phi) * math.Sin(lambda),
		r * math.Sin(phi),
	}
}

// LocalFrame is an EUS frame (x east, y up, z south) tangent to the sphere at its origin.
type LocalFrame struct {
	Lat float64
	Lon float64

	enu mgl64.Mat3
}

func NewLocalFrame(lat, lon float64) *LocalFrame {
	phi := (s1.Angle(lat) * s1.Degree).Radians()
	lambda := (s1.Angle(lon) * s1.Degree).Radians()
	sp, cp := math.Sin(phi), math.Cos(phi)
	sl, cl := math.Sin(lambda), math.Cos(lambda)
	// rows are east, north, up expressed in ECEF
	return &LocalFrame{
		Lat: lat,
		Lon: lon,
		enu: mgl64.Mat3FromRows(
			mgl64.Vec3{-sl, cl, 0},
			mgl64.Vec3{-sp * cl, -sp * sl, cp},
			mgl64.Vec3{cp * cl, cp * sl, sp},
		),
	}
}

func (f *LocalFrame) GeoToWorld(lat, lon, alt, radius float64) mgl64.Vec3 {
	d := ECEF(lat, lon, alt, radius).Sub(ECEF(f.Lat, f.Lon, 0, radius))
	enu := f.enu.Mul3x1(d)
	return mgl64.Vec3{enu.X(), enu.Z(), -enu.Y()}
}
