package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/MickWest/Sitrec2/config"
	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/geo"
	"github.com/MickWest/Sitrec2/gpkg"
	"github.com/MickWest/Sitrec2/mapslicehelp"
	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/quadtree"
	"github.com/MickWest/Sitrec2/scene"
	"github.com/MickWest/Sitrec2/terrain"
	"github.com/MickWest/Sitrec2/tilestore"
	"github.com/MickWest/Sitrec2/view"
)

const CONFIGDIR string = `configDir`
const VERBOSE string = `verbose`
const LAT string = `lat`
const LON string = `lon`
const ZOOM string = `zoom`
const DYNAMIC string = `dynamic`
const ALTITUDE string = `altitude`
const FRAMES string = `frames`
const TIMEOUT string = `timeout`
const TARGET string = `targetGpkg`
const OVERWRITE string = `overwrite`
const PAGESIZE string = `pagesize`
const MAXLEN string = `maxlen`

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "sitrec-terrain"
	app.Usage = "Drive the quad-tree terrain tiler headless"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    CONFIGDIR,
			Aliases: []string{"c"},
			Usage:   "Directory holding config.toml and config/config.toml",
			Value:   ".",
			EnvVars: []string{strcase.ToScreamingSnake(CONFIGDIR)},
		},
		&cli.BoolFlag{
			Name:    VERBOSE,
			Aliases: []string{"v"},
			Usage:   "Development logging at debug level",
			EnvVars: []string{strcase.ToScreamingSnake(VERBOSE)},
		},
		&cli.Float64Flag{
			Name:    LAT,
			Usage:   "Latitude of the terrain center, overrides the config",
			EnvVars: []string{strcase.ToScreamingSnake(LAT)},
		},
		&cli.Float64Flag{
			Name:    LON,
			Usage:   "Longitude of the terrain center, overrides the config",
			EnvVars: []string{strcase.ToScreamingSnake(LON)},
		},
		&cli.IntFlag{
			Name:    ZOOM,
			Aliases: []string{"z"},
			Usage:   "Zoom level of the initial grid, overrides the config",
			EnvVars: []string{strcase.ToScreamingSnake(ZOOM)},
		},
		&cli.BoolFlag{
			Name:    DYNAMIC,
			Usage:   "Start from the root tile instead of a fixed grid",
			EnvVars: []string{strcase.ToScreamingSnake(DYNAMIC)},
		},
		&cli.Float64Flag{
			Name:    ALTITUDE,
			Aliases: []string{"a"},
			Usage:   "Camera height above the center in meters",
			Value:   20000,
			EnvVars: []string{strcase.ToScreamingSnake(ALTITUDE)},
		},
		&cli.IntFlag{
			Name:    FRAMES,
			Aliases: []string{"f"},
			Usage:   "Number of subdivide passes to run",
			Value:   100,
			EnvVars: []string{strcase.ToScreamingSnake(FRAMES)},
		},
		&cli.DurationFlag{
			Name:    TIMEOUT,
			Usage:   "How long to wait for tiles to load",
			Value:   2 * time.Minute,
			EnvVars: []string{strcase.ToScreamingSnake(TIMEOUT)},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:  "simulate",
			Usage: "Run the subdivide loop and report the tiles per zoom level",
			Action: func(c *cli.Context) error {
				return withTerrain(c, func(t *terrain.Terrain) error {
					return report(c.App.Writer, t)
				})
			},
		},
		{
			Name:  "dump",
			Usage: "Print every texture tile with its flags and WKT footprint",
			Flags: []cli.Flag{
				&cli.UintFlag{
					Name:    MAXLEN,
					Usage:   "Cut WKT to this many characters, 0 for no limit",
					EnvVars: []string{strcase.ToScreamingSnake(MAXLEN)},
				},
			},
			Action: func(c *cli.Context) error {
				return withTerrain(c, func(t *terrain.Terrain) error {
					return t.Texture.DumpWKT(c.App.Writer, c.Uint(MAXLEN))
				})
			},
		},
		{
			Name:  "export",
			Usage: "Write the tile footprints of both maps to a GeoPackage",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     TARGET,
					Aliases:  []string{"t"},
					Usage:    "Target GPKG",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(TARGET)},
				},
				&cli.BoolFlag{
					Name:    OVERWRITE,
					Aliases: []string{"o"},
					Usage:   "Overwrite the target GPKG if it exists",
					EnvVars: []string{strcase.ToScreamingSnake(OVERWRITE)},
				},
				&cli.IntFlag{
					Name:    PAGESIZE,
					Aliases: []string{"p"},
					Usage:   "How many footprints are written per transaction",
					Value:   1000,
					EnvVars: []string{strcase.ToScreamingSnake(PAGESIZE)},
				},
			},
			Action: func(c *cli.Context) error {
				return withTerrain(c, func(t *terrain.Terrain) error {
					w, err := gpkg.Create(c.String(TARGET), "tiles", c.Int(PAGESIZE), c.Bool(OVERWRITE))
					if err != nil {
						return err
					}
					footprints := t.Footprints()
					if err := w.Write(footprints...); err != nil {
						_ = w.Close()
						return err
					}
					zap.S().Infow("exported footprints", "target", c.String(TARGET), "count", len(footprints))
					return w.Close()
				})
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// withTerrain builds the terrain from config and flags, runs the subdivide loop and hands the
// settled terrain to fn.
func withTerrain(c *cli.Context, fn func(t *terrain.Terrain) error) error {
	logger, err := newLogger(c.Bool(VERBOSE))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()
	sugar := logger.Sugar()

	cfg, err := config.Load(c.String(CONFIGDIR))
	if err != nil {
		return err
	}
	applyFlags(c, &cfg)
	cfg.Map.Logger = sugar

	proj, err := projection.ByName(cfg.Projection)
	if err != nil {
		return err
	}
	fetcher, closeStore, err := newTileFetcher(cfg, sugar)
	if err != nil {
		return err
	}
	defer closeStore()

	altitude := c.Float64(ALTITUDE)
	camera := view.NewPerspectiveCamera(mgl64.Vec3{0, altitude, altitude / 2}, mgl64.Vec3{}, 45, 16.0/9, 1, 1e8)
	deps := quadtree.Deps{
		Projection: proj,
		World:      geo.NewLocalFrame(cfg.Map.Lat, cfg.Map.Lon),
		Source:     cfg.Services,
		Fetcher:    fetcher,
		Cameras:    []view.Camera{camera},
	}
	t, err := terrain.New(scene.NewGroup(), cfg.Map, deps)
	if err != nil {
		return err
	}
	defer t.Clean()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(TIMEOUT))
	defer cancel()
	if err := run(ctx, t, c.Int(FRAMES), sugar); err != nil {
		return err
	}
	return fn(t)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(LAT) {
		cfg.Map.Lat = c.Float64(LAT)
	}
	if c.IsSet(LON) {
		cfg.Map.Lon = c.Float64(LON)
	}
	if c.IsSet(ZOOM) {
		cfg.Map.Zoom = c.Int(ZOOM)
	}
	if c.IsSet(DYNAMIC) {
		cfg.Map.Dynamic = c.Bool(DYNAMIC)
	}
}

// newTileFetcher puts the configured stores, fastest first, in front of the HTTP fetcher.
func newTileFetcher(cfg config.Config, logger *zap.SugaredLogger) (fetch.TileFetcher, func(), error) {
	httpFetcher := fetch.NewHTTPFetcher()
	httpFetcher.Retries = cfg.Fetch.Retries
	httpFetcher.Backoff = cfg.Fetch.Backoff
	httpFetcher.Client.Timeout = cfg.Fetch.Timeout

	stores := tilestore.NewLayered(logger)
	if cfg.Store.RedisAddr != "" {
		stores.Stores = append(stores.Stores, tilestore.NewRedis(cfg.Store.RedisAddr, cfg.Store.RedisDB, cfg.Store.RedisPrefix, cfg.Store.RedisTTL))
	}
	if cfg.Store.BoltPath != "" {
		bolt, err := tilestore.OpenBolt(cfg.Store.BoltPath)
		if err != nil {
			_ = stores.Close()
			return nil, nil, err
		}
		stores.Stores = append(stores.Stores, bolt)
	}
	if len(stores.Stores) == 0 {
		return fetch.Direct{Fetcher: httpFetcher}, func() {}, nil
	}
	closeStores := func() {
		if err := stores.Close(); err != nil {
			logger.Warnw("closing tile stores failed", "error", err)
		}
	}
	return tilestore.NewCachingFetcher(stores, httpFetcher, logger), closeStores, nil
}

// run is the host frame loop: one subdivide pass per frame, then whatever loads have finished.
// It stops early once a frame changes nothing and no loads are pending.
func run(ctx context.Context, t *terrain.Terrain, frames int, logger *zap.SugaredLogger) error {
	for frame := 0; frame < frames; frame++ {
		texture, elevation := t.Subdivide()
		if texture.Type != quadtree.NoAction || elevation.Type != quadtree.NoAction {
			logger.Debugw("frame", "n", frame, "texture", texture.Type.String(), "textureTile", texture.Key.String(),
				"elevation", elevation.Type.String(), "elevationTile", elevation.Key.String())
		}
		if err := t.Settle(ctx); err != nil {
			return err
		}
		if texture.Type == quadtree.NoAction && elevation.Type == quadtree.NoAction {
			logger.Infow("terrain settled", "frames", frame+1)
			break
		}
	}
	return nil
}

func report(w io.Writer, t *terrain.Terrain) error {
	for _, layer := range []struct {
		name string
		m    *quadtree.Map
	}{{terrain.ElevationLayer, t.Elevation.Map}, {terrain.TextureLayer, t.Texture.Map}} {
		byZoom := layer.m.ActiveByZoom()
		counts := layer.m.Counts()
		if _, err := fmt.Fprintf(w, "%s: %d cached, %d loaded, %d failed, %d aborted\n",
			layer.name, layer.m.Cache().Len(), counts.Loaded, counts.Failed, counts.Aborted); err != nil {
			return err
		}
		for _, zoom := range mapslicehelp.SortedKeys(byZoom) {
			if _, err := fmt.Fprintf(w, "  zoom %2d: %d active\n", zoom, byZoom[zoom]); err != nil {
				return err
			}
		}
	}
	return nil
}
