package gpkg

import (
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MickWest/Sitrec2/geomhelp"
	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/tilekey"
)

func footprints(keys ...tilekey.Key) []Footprint {
	out := make([]Footprint, 0, len(keys))
	for _, k := range keys {
		out = append(out, Footprint{
			Layer:    "texture",
			Key:      k,
			Active:   true,
			Loaded:   true,
			Geometry: geomhelp.TileFootprint(projection.WebMercator(), k),
		})
	}
	return out
}

func TestFootprintWriter(t *testing.T) {
	tests := []struct {
		name     string
		pagesize int
		keys     []tilekey.Key
	}{
		{name: "empty", pagesize: 10},
		{name: "one page", pagesize: 10, keys: []tilekey.Key{tilekey.New(1, 0, 0), tilekey.New(1, 1, 0)}},
		{name: "several pages", pagesize: 2, keys: []tilekey.Key{
			tilekey.New(2, 0, 0), tilekey.New(2, 1, 0), tilekey.New(2, 0, 1), tilekey.New(2, 1, 1), tilekey.New(2, 3, 3),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), "footprints.gpkg")
			w, err := Create(file, "tiles", tt.pagesize, false)
			require.NoError(t, err)
			require.NoError(t, w.Write(footprints(tt.keys...)...))
			require.NoError(t, w.Flush())

			n, err := w.Count()
			require.NoError(t, err)
			assert.Equal(t, len(tt.keys), n)
			assert.NoError(t, w.Close())
		})
	}
}

func TestFootprintWriterOverwrite(t *testing.T) {
	file := filepath.Join(t.TempDir(), "footprints.gpkg")
	keys := []tilekey.Key{tilekey.New(3, 1, 2), tilekey.New(3, 2, 2)}

	w, err := Create(file, "tiles", 10, false)
	require.NoError(t, err)
	require.NoError(t, w.Write(footprints(keys...)...))
	require.NoError(t, w.Close())

	w, err = Create(file, "tiles", 10, false)
	require.NoError(t, err)
	require.NoError(t, w.Write(footprints(keys...)...))
	require.NoError(t, w.Flush())
	n, err := w.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n, "appends without overwrite")
	require.NoError(t, w.Close())

	w, err = Create(file, "tiles", 10, true)
	require.NoError(t, err)
	n, err = w.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, w.Close())
}

func TestFootprintWriterExtentOnlyCoversCommittedRows(t *testing.T) {
	file := filepath.Join(t.TempDir(), "footprints.gpkg")
	w, err := Create(file, "tiles", 10, false)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.handle.Exec(`CREATE TRIGGER reject_z9 BEFORE INSERT ON "tiles" WHEN NEW.z = 9 ` +
		`BEGIN SELECT RAISE(ABORT, 'rejected'); END;`)
	require.NoError(t, err)

	require.NoError(t, w.Write(footprints(tilekey.New(2, 0, 0), tilekey.New(9, 0, 0))...))
	require.Error(t, w.Flush())
	assert.Nil(t, w.extent, "rolled back page must not grow the extent")
	n, err := w.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = w.handle.Exec(`DROP TRIGGER reject_z9;`)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	n, err = w.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want, err := geom.NewExtentFromGeometry(geomhelp.TileFootprint(projection.WebMercator(), tilekey.New(2, 0, 0)))
	require.NoError(t, err)
	require.NotNil(t, w.extent)
	assert.InDelta(t, want.MinX(), w.extent.MinX(), 1e-9)
	assert.InDelta(t, want.MaxY(), w.extent.MaxY(), 1e-9)
}
