// Package geomhelp turns tiles into go-spatial geometries for intersection tests and debug output.
package geomhelp

import (
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"

	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/tilekey"
)

// TileExtent is the lon/lat extent of a tile. Columns outside the matrix give longitudes
// outside [-180, 180].
func TileExtent(p projection.Projection, key tilekey.Key) *geom.Extent {
	north, south, west, east := projection.TileBounds(p, key.Z, key.X, key.Y)
	return &geom.Extent{west, south, east, north}
}

// ExtentPolygon is the closed counter-clockwise ring around e.
func ExtentPolygon(e *geom.Extent) geom.Polygon {
	return geom.Polygon{{
		{e.MinX(), e.MinY()},
		{e.MaxX(), e.MinY()},
		{e.MaxX(), e.MaxY()},
		{e.MinX(), e.MaxY()},
	}}
}

func TileFootprint(p projection.Projection, key tilekey.Key) geom.Polygon {
	return ExtentPolygon(TileExtent(p, key))
}

// ExtentsIntersect reports overlap, shared edges included.
func ExtentsIntersect(a, b *geom.Extent) bool {
	_, ok := a.Intersect(b)
	return ok
}

// WktMustEncode encodes g as WKT, cut to maxLen characters when maxLen is not 0.
func WktMustEncode(g geom.Geometry, maxLen uint) string {
	s := wkt.MustEncode(g)
	if maxLen == 0 {
		return s
	}
	return truncate.StringWithTail(s, maxLen, "...")
}
