// Package tms loads OGC Tile Matrix Set (v2.0) definitions and converts between native CRS
// coordinates and fractional tile coordinates.
// See https://www.ogc.org/standard/tms/
package tms

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"
)

const (
	WebMercatorQuad = "WebMercatorQuad"
	WorldCRS84Quad  = "WorldCRS84Quad"
)

var (
	//go:embed tilematrixsets/*.json
	embeddedTileMatrixSetsJSONFS embed.FS
	embeddedTileMatrixSetsCache  = make(map[string]*TileMatrixSet)
	embeddedMu                   sync.Mutex
)

func LoadEmbeddedTileMatrixSet(id string) (TileMatrixSet, error) {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()

	var tms TileMatrixSet
	if cached, ok := embeddedTileMatrixSetsCache[id]; ok {
		return *cached, nil
	}
	tmsJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + id + ".json")
	if err != nil {
		return tms, fmt.Errorf("unknown tile matrix set %s: %w", id, err)
	}
	if err = json.Unmarshal(tmsJSON, &tms); err != nil {
		return tms, fmt.Errorf("tile matrix set %s: %w", id, err)
	}
	embeddedTileMatrixSetsCache[id] = &tms
	return tms, nil
}

func MustLoadEmbeddedTileMatrixSet(id string) TileMatrixSet {
	tms, err := LoadEmbeddedTileMatrixSet(id)
	if err != nil {
		panic(err)
	}
	return tms
}

type TileMatrixSet struct {
	ID                string   `json:"id,omitempty"`
	Title             string   `json:"title,omitempty"`
	URI               string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes       []string `validate:"omitempty,min=1" json:"orderedAxes"`
	WellKnownScaleSet string   `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`
	// Coordinate Reference System, only the URI form is supported
	CRS URICRS `validate:"required" json:"-"`
	// keyed by zoom
	TileMatrices map[int]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(tms)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	if err = tms.CRS.UnmarshalJSONFromMap(rawCrs); err != nil {
		return err
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices interface{}) (map[int]TileMatrix, error) {
	rawTileMatricesList, ok := rawTileMatrices.([]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[int]TileMatrix, len(rawTileMatricesList))
	for _, rawTileMatrix := range rawTileMatricesList {
		var tileMatrix TileMatrix
		if err := tileMatrix.UnmarshalJSONFromMap(rawTileMatrix); err != nil {
			return nil, err
		}
		zoom, err := strconv.Atoi(tileMatrix.ID)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[zoom] = tileMatrix
	}
	return tileMatrices, nil
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+)::(?P<code>[^:]+)$")
)

type URICRS struct {
	URI           string `validate:"required,uri"`
	AuthorityName string `validate:"required"`
	AuthorityCode string `validate:"required"`
}

// UnmarshalJSONFromMap accepts both `"crs": "uri"` and `"crs": {"uri": "..."}`.
func (crs *URICRS) UnmarshalJSONFromMap(data interface{}) error {
	switch v := data.(type) {
	case string:
		crs.URI = v
	case map[string]interface{}:
		rawURI, ok := v["uri"]
		if !ok {
			return fmt.Errorf(`uri property not found`)
		}
		crs.URI, ok = rawURI.(string)
		if !ok {
			return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
		}
	default:
		return fmt.Errorf(`wrong type key "crs": %T`, data)
	}

	uriParts := crsURIRegexURL.FindStringSubmatch(crs.URI)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(crs.URI)
	}
	if uriParts == nil {
		return fmt.Errorf(`could not parse crs uri "%v"`, crs.URI)
	}
	crs.AuthorityName = uriParts[1]
	crs.AuthorityCode = uriParts[2]

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(crs)
}

// IsGeographic is true for CRSs whose native units are degrees of longitude and latitude.
func (crs URICRS) IsGeographic() bool {
	return crs.AuthorityCode == "CRS84" || crs.AuthorityCode == "4326"
}

type TwoDPoint [2]float64

func (p TwoDPoint) XY() [2]float64 {
	return p
}

// A tile matrix, corresponding to one zoom level of a TileMatrixSet.
type TileMatrix struct {
	ID               string  `validate:"required" json:"id"`
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	CellSize         float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner used as the origin for numbering tile rows and columns.
	CornerOfOrigin CornerOfOrigin `default:"topLeft" validate:"omitempty,oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	PointOfOrigin  TwoDPoint      `validate:"required" json:"pointOfOrigin"`
	TileWidth      uint           `validate:"required,min=1" json:"tileWidth"`
	TileHeight     uint           `validate:"required,min=1" json:"tileHeight"`
	MatrixWidth    uint           `validate:"required,min=1" json:"matrixWidth"`
	MatrixHeight   uint           `validate:"required,min=1" json:"matrixHeight"`
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data interface{}) error {
	err := defaults.Set(tm)
	if err != nil {
		return err
	}

	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`data is not a map but a %T`, data)
	}

	_, err = marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

func (tm TileMatrix) tileSpan() (float64, float64) {
	return float64(tm.TileWidth) * tm.CellSize, float64(tm.TileHeight) * tm.CellSize
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

func (c *CornerOfOrigin) UnmarshalJSONFromMap(data interface{}) error {
	dataString, ok := data.(string)
	if !ok {
		return fmt.Errorf(`CornerOfOrigin data is not a string but a %T`, data)
	}
	switch dataString {
	case "", string(TopLeft):
		*c = TopLeft
	case string(BottomLeft):
		*c = BottomLeft
	default:
		return fmt.Errorf(`unknown CornerOfOrigin: %v`, data)
	}
	return nil
}

func (tms *TileMatrixSet) Matrix(zoom int) (TileMatrix, bool) {
	tm, ok := tms.TileMatrices[zoom]
	return tm, ok
}

// Size returns the matrix dimensions at zoom as a slippy tile (X = width, Y = height).
func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

// FractionFromNative gives the fractional tile column and row of a native point.
// The result is not clamped to the matrix.
func (tms *TileMatrixSet) FractionFromNative(zoom int, pt geom.Point) (fx, fy float64, ok bool) {
	tm, ok := tms.TileMatrices[zoom]
	if !ok {
		return 0, 0, false
	}
	spanX, spanY := tm.tileSpan()
	origin := tm.PointOfOrigin.XY()
	fx = (pt.X() - origin[0]) / spanX
	switch tm.CornerOfOrigin {
	case BottomLeft:
		fy = (pt.Y() - origin[1]) / spanY
	default:
		fy = (origin[1] - pt.Y()) / spanY
	}
	return fx, fy, true
}

// NativeFromFraction is the inverse of FractionFromNative: the native position of the
// top-left corner of fractional tile (fx, fy).
func (tms *TileMatrixSet) NativeFromFraction(zoom int, fx, fy float64) (geom.Point, bool) {
	tm, ok := tms.TileMatrices[zoom]
	if !ok {
		return geom.Point{}, false
	}
	spanX, spanY := tm.tileSpan()
	origin := tm.PointOfOrigin.XY()
	pt := geom.Point{origin[0] + fx*spanX, 0}
	switch tm.CornerOfOrigin {
	case BottomLeft:
		pt[1] = origin[1] + fy*spanY
	default:
		pt[1] = origin[1] - fy*spanY
	}
	return pt, true
}

// ToSlippy converts an integer tile to a slippy tile, rejecting tiles outside the matrix.
func (tms *TileMatrixSet) ToSlippy(zoom, x, y int) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[zoom]
	if !ok || x < 0 || y < 0 || uint(x) >= tm.MatrixWidth || uint(y) >= tm.MatrixHeight {
		return nil, false
	}
	return slippy.NewTile(uint(zoom), uint(x), uint(y)), true
}
