// Package projection maps geographic coordinates to fractional tile coordinates of a tile
// matrix set and back.
package projection

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/golang/geo/s1"

	"github.com/MickWest/Sitrec2/tms"
)

// Projection is what the quad-tree maps need from a tiling scheme. Tile coordinates are
// fractional: the integer part is the column or row, the rest is the position inside it.
type Projection interface {
	Geo2Tile(lat, lon float64, zoom int) (x, y int)
	Geo2TileFraction(lat, lon float64, zoom int) (x, y float64)
	Lon2Tile(lon float64, zoom int) float64
	Lat2Tile(lat float64, zoom int) float64
	// NorthLatitude is the latitude of the top edge of row y
	NorthLatitude(y float64, zoom int) float64
	// LeftLongitude is the longitude of the left edge of column x
	LeftLongitude(x float64, zoom int) float64
	MatrixWidth(zoom int) int
	MatrixHeight(zoom int) int
	// Contains reports whether column x and row y exist at zoom, without wrapping.
	Contains(zoom, x, y int) bool
}

// MaxMercatorLatitude is where Web Mercator's square world ends.
const MaxMercatorLatitude = 85.05112877980659

const mercatorRadius = 6378137.0

// TileMatrixProjection implements Projection on top of an OGC tile matrix set in either
// EPSG:3857 or a geographic CRS (CRS84, EPSG:4326 with lon/lat ordering).
type TileMatrixProjection struct {
	set      tms.TileMatrixSet
	mercator bool
}

func New(set tms.TileMatrixSet) (*TileMatrixProjection, error) {
	p := &TileMatrixProjection{set: set}
	switch {
	case set.CRS.IsGeographic():
	case set.CRS.AuthorityCode == "3857":
		p.mercator = true
	default:
		return nil, fmt.Errorf("tile matrix set %s: unsupported crs %s", set.ID, set.CRS.URI)
	}
	return p, nil
}

// ByName loads one of the embedded tile matrix sets as a projection.
func ByName(id string) (*TileMatrixProjection, error) {
	set, err := tms.LoadEmbeddedTileMatrixSet(id)
	if err != nil {
		return nil, err
	}
	return New(set)
}

func mustByName(id string) *TileMatrixProjection {
	p, err := ByName(id)
	if err != nil {
		panic(err)
	}
	return p
}

// WebMercator is the GoogleMapsCompatible scheme used by most imagery and Terrarium tiles.
func WebMercator() *TileMatrixProjection {
	return mustByName(tms.WebMercatorQuad)
}

// CRS84 is the equirectangular GoogleCRS84Quad scheme, two columns wide at zoom 0.
func CRS84() *TileMatrixProjection {
	return mustByName(tms.WorldCRS84Quad)
}

func (p *TileMatrixProjection) ID() string {
	return p.set.ID
}

func (p *TileMatrixProjection) toNative(lat, lon float64) geom.Point {
	if !p.mercator {
		return geom.Point{lon, lat}
	}
	lat = math.Max(-MaxMercatorLatitude, math.Min(MaxMercatorLatitude, lat))
	phi := (s1.Angle(lat) * s1.Degree).Radians()
	lambda := (s1.Angle(lon) * s1.Degree).Radians()
	return geom.Point{mercatorRadius * lambda, mercatorRadius * math.Log(math.Tan(math.Pi/4+phi/2))}
}

func (p *TileMatrixProjection) fromNative(pt geom.Point) (lat, lon float64) {
	if !p.mercator {
		return pt.Y(), pt.X()
	}
	lon = s1.Angle(pt.X() / mercatorRadius).Degrees()
	lat = s1.Angle(2*math.Atan(math.Exp(pt.Y()/mercatorRadius)) - math.Pi/2).Degrees()
	return lat, lon
}

func (p *TileMatrixProjection) fraction(lat, lon float64, zoom int) (float64, float64) {
	x, y, ok := p.set.FractionFromNative(zoom, p.toNative(lat, lon))
	if !ok {
		panic(fmt.Errorf("projection %s has no tile matrix for zoom %d", p.set.ID, zoom))
	}
	return x, y
}

func (p *TileMatrixProjection) Geo2TileFraction(lat, lon float64, zoom int) (float64, float64) {
	return p.fraction(lat, lon, zoom)
}

func (p *TileMatrixProjection) Geo2Tile(lat, lon float64, zoom int) (int, int) {
	x, y := p.fraction(lat, lon, zoom)
	return int(math.Floor(x)), int(math.Floor(y))
}

func (p *TileMatrixProjection) Lon2Tile(lon float64, zoom int) float64 {
	x, _ := p.fraction(0, lon, zoom)
	return x
}

func (p *TileMatrixProjection) Lat2Tile(lat float64, zoom int) float64 {
	_, y := p.fraction(lat, 0, zoom)
	return y
}

func (p *TileMatrixProjection) native(x, y float64, zoom int) geom.Point {
	pt, ok := p.set.NativeFromFraction(zoom, x, y)
	if !ok {
		panic(fmt.Errorf("projection %s has no tile matrix for zoom %d", p.set.ID, zoom))
	}
	return pt
}

func (p *TileMatrixProjection) NorthLatitude(y float64, zoom int) float64 {
	lat, _ := p.fromNative(p.native(0, y, zoom))
	return lat
}

func (p *TileMatrixProjection) LeftLongitude(x float64, zoom int) float64 {
	_, lon := p.fromNative(p.native(x, 0, zoom))
	return lon
}

func (p *TileMatrixProjection) size(zoom int) *slippy.Tile {
	size, ok := p.set.Size(uint(zoom))
	if zoom < 0 || !ok {
		panic(fmt.Errorf("projection %s has no tile matrix for zoom %d", p.set.ID, zoom))
	}
	return size
}

func (p *TileMatrixProjection) MatrixWidth(zoom int) int {
	return int(p.size(zoom).X)
}

func (p *TileMatrixProjection) MatrixHeight(zoom int) int {
	return int(p.size(zoom).Y)
}

func (p *TileMatrixProjection) Contains(zoom, x, y int) bool {
	_, ok := p.set.ToSlippy(zoom, x, y)
	return ok
}

// TileBounds returns the geographic edges of an integer tile.
func TileBounds(p Projection, zoom, x, y int) (north, south, west, east float64) {
	north = p.NorthLatitude(float64(y), zoom)
	south = p.NorthLatitude(float64(y+1), zoom)
	west = p.LeftLongitude(float64(x), zoom)
	east = p.LeftLongitude(float64(x+1), zoom)
	return north, south, west, east
}
