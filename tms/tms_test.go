package tms

import (
	"encoding/json"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedTileMatrixSet(t *testing.T) {
	tests := []struct {
		id       string
		geo      bool
		width0   uint
		height0  uint
		maxLevel int
	}{
		{id: WebMercatorQuad, width0: 1, height0: 1, maxLevel: 20},
		{id: WorldCRS84Quad, geo: true, width0: 2, height0: 1, maxLevel: 20},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := LoadEmbeddedTileMatrixSet(tt.id)
			require.NoErrorf(t, err, "LoadEmbeddedTileMatrixSet() error = %v", err)
			assert.Equal(t, tt.id, got.ID)
			assert.Equal(t, tt.geo, got.CRS.IsGeographic())
			assert.Len(t, got.TileMatrices, tt.maxLevel+1)

			size, ok := got.Size(0)
			require.True(t, ok)
			assert.Equal(t, &slippy.Tile{Z: 0, X: tt.width0, Y: tt.height0}, size)
		})
	}

	_, err := LoadEmbeddedTileMatrixSet("NoSuchQuad")
	assert.Error(t, err)
}

func TestUnmarshalValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "missing crs", json: `{"id":"x","tileMatrices":[]}`},
		{name: "missing tileMatrices", json: `{"id":"x","crs":"http://www.opengis.net/def/crs/EPSG/0/3857"}`},
		{name: "bad crs", json: `{"id":"x","crs":"nonsense","tileMatrices":[]}`},
		{name: "empty tileMatrices", json: `{"id":"x","crs":"http://www.opengis.net/def/crs/EPSG/0/3857","tileMatrices":[]}`},
		{name: "bad corner", json: `{"id":"x","crs":"http://www.opengis.net/def/crs/EPSG/0/3857","tileMatrices":[
			{"id":"0","scaleDenominator":1,"cellSize":1,"cornerOfOrigin":"middle","pointOfOrigin":[0,0],
			 "tileWidth":256,"tileHeight":256,"matrixWidth":1,"matrixHeight":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tms TileMatrixSet
			assert.Error(t, json.Unmarshal([]byte(tt.json), &tms))
		})
	}
}

func TestCRSObjectForm(t *testing.T) {
	var tms TileMatrixSet
	err := json.Unmarshal([]byte(`{"id":"x","crs":{"uri":"urn:ogc:def:crs:EPSG::4326"},"tileMatrices":[
		{"id":"0","scaleDenominator":1,"cellSize":1,"pointOfOrigin":[-180,90],
		 "tileWidth":180,"tileHeight":180,"matrixWidth":2,"matrixHeight":1}]}`), &tms)
	require.NoError(t, err)
	assert.Equal(t, "4326", tms.CRS.AuthorityCode)
	assert.True(t, tms.CRS.IsGeographic())
	tm, ok := tms.Matrix(0)
	require.True(t, ok)
	assert.Equal(t, TopLeft, tm.CornerOfOrigin)
}

func TestFractionRoundTrip(t *testing.T) {
	tests := []struct {
		id   string
		zoom int
		pt   geom.Point
		fx   float64
		fy   float64
	}{
		{id: WorldCRS84Quad, zoom: 0, pt: geom.Point{0, 0}, fx: 1, fy: 0.5},
		{id: WorldCRS84Quad, zoom: 2, pt: geom.Point{-180, 90}, fx: 0, fy: 0},
		{id: WebMercatorQuad, zoom: 1, pt: geom.Point{0, 0}, fx: 1, fy: 1},
		{id: WebMercatorQuad, zoom: 3, pt: geom.Point{20037508.3427892, -20037508.3427892}, fx: 8, fy: 8},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			tms := MustLoadEmbeddedTileMatrixSet(tt.id)
			fx, fy, ok := tms.FractionFromNative(tt.zoom, tt.pt)
			require.True(t, ok)
			assert.InDelta(t, tt.fx, fx, 1e-9)
			assert.InDelta(t, tt.fy, fy, 1e-9)

			back, ok := tms.NativeFromFraction(tt.zoom, fx, fy)
			require.True(t, ok)
			assert.InDelta(t, tt.pt.X(), back.X(), 1e-6)
			assert.InDelta(t, tt.pt.Y(), back.Y(), 1e-6)
		})
	}
	tms := MustLoadEmbeddedTileMatrixSet(WebMercatorQuad)
	_, _, ok := tms.FractionFromNative(25, geom.Point{})
	assert.False(t, ok)
}

func TestToSlippy(t *testing.T) {
	tms := MustLoadEmbeddedTileMatrixSet(WorldCRS84Quad)
	tile, ok := tms.ToSlippy(1, 3, 1)
	require.True(t, ok)
	assert.Equal(t, &slippy.Tile{Z: 1, X: 3, Y: 1}, tile)
	_, ok = tms.ToSlippy(1, 4, 0)
	assert.False(t, ok)
	_, ok = tms.ToSlippy(1, 0, -1)
	assert.False(t, ok)
}
