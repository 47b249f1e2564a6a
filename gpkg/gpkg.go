// Package gpkg exports tile footprints to a GeoPackage, for inspection in a GIS.
package gpkg

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"

	"github.com/MickWest/Sitrec2/tilekey"
)

const (
	geometryColumn = "geom"
	wgs84          = 4326
)

var srsWGS84 = gpkg.SpatialReferenceSystem{
	Name:                   "WGS 84 geodetic",
	ID:                     wgs84,
	Organization:           "EPSG",
	OrganizationCoordsysID: wgs84,
	Definition: `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,` +
		`AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],` +
		`UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`,
	Description: "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid",
}

// Footprint is one tile's lon/lat outline and state.
type Footprint struct {
	Layer    string
	Key      tilekey.Key
	Active   bool
	Loaded   bool
	Failed   bool
	Geometry geom.Polygon
}

// FootprintWriter appends footprints to a single feature table, pagesize rows per transaction.
type FootprintWriter struct {
	table    string
	pagesize int
	handle   *gpkg.Handle
	buffer   []Footprint
	extent   *geom.Extent
}

// Create opens (or creates) the GeoPackage at file and makes sure table exists.
// With overwrite an existing file is removed first.
func Create(file, table string, pagesize int, overwrite bool) (*FootprintWriter, error) {
	if overwrite {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not remove target file: %w", err)
		}
	}
	if pagesize < 1 {
		pagesize = 1
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage: %w", err)
	}
	w := &FootprintWriter{table: table, pagesize: pagesize, handle: handle}
	if err := w.createTable(); err != nil {
		handle.Close()
		return nil, err
	}
	return w, nil
}

func (w *FootprintWriter) createTable() error {
	if err := w.handle.UpdateSRS(srsWGS84); err != nil {
		return fmt.Errorf("error adding SRS to GeoPackage: %w", err)
	}
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%v"(`+
		`fid INTEGER PRIMARY KEY AUTOINCREMENT, layer TEXT NOT NULL, tile TEXT NOT NULL, `+
		`z INTEGER NOT NULL, x INTEGER NOT NULL, y INTEGER NOT NULL, `+
		`active BOOLEAN, loaded BOOLEAN, failed BOOLEAN, %v POLYGON);`, w.table, geometryColumn)
	if _, err := w.handle.Exec(create); err != nil {
		return fmt.Errorf("error building table in GeoPackage: %w", err)
	}
	err := w.handle.AddGeometryTable(gpkg.TableDescription{
		Name:          w.table,
		ShortName:     w.table,
		Description:   "terrain tile footprints",
		GeometryField: geometryColumn,
		GeometryType:  gpkg.Polygon,
		SRS:           wgs84,
		Z:             gpkg.Prohibited,
		M:             gpkg.Prohibited,
	})
	if err != nil {
		return fmt.Errorf("error adding geometry table in GeoPackage: %w", err)
	}
	return nil
}

// Write buffers footprints and flushes every full page.
func (w *FootprintWriter) Write(footprints ...Footprint) error {
	for _, f := range footprints {
		w.buffer = append(w.buffer, f)
		if len(w.buffer) >= w.pagesize {
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes the buffered footprints in one transaction and updates the table extent.
func (w *FootprintWriter) Flush() error {
	if len(w.buffer) == 0 {
		return nil
	}
	tx, err := w.handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO "%v"(layer, tile, z, x, y, active, loaded, failed, %v) `+
		`VALUES(?,?,?,?,?,?,?,?,?)`, w.table, geometryColumn))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	var page *geom.Extent
	for _, f := range w.buffer {
		sb, err := gpkg.NewBinary(wgs84, f.Geometry)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("could not create a binary geometry for %s: %w", f.Key, err)
		}
		_, err = stmt.Exec(f.Layer, f.Key.String(), f.Key.Z, f.Key.X, f.Key.Y, f.Active, f.Loaded, f.Failed, sb)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("could not insert tile %s: %w", f.Key, err)
		}
		if page == nil {
			page, _ = geom.NewExtentFromGeometry(f.Geometry)
		} else {
			_ = page.AddGeometry(f.Geometry)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit footprints: %w", err)
	}
	w.buffer = w.buffer[:0]
	// only committed rows count towards the table extent
	if page != nil {
		if w.extent == nil {
			w.extent = page
		} else {
			w.extent.Add(page)
		}
	}
	if w.extent != nil {
		if err := w.handle.UpdateGeometryExtent(w.table, w.extent); err != nil {
			return fmt.Errorf("failed to update extent: %w", err)
		}
	}
	return nil
}

// Count is the number of rows in the table.
func (w *FootprintWriter) Count() (int, error) {
	var n int
	row := w.handle.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%v";`, w.table))
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close flushes what is buffered and closes the GeoPackage.
func (w *FootprintWriter) Close() error {
	err := w.Flush()
	return errors.Join(err, w.handle.Close())
}
