package quadtree

import (
	"fmt"
	"math"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/geo"
	"github.com/MickWest/Sitrec2/projection"
	"github.com/MickWest/Sitrec2/tilekey"
	"github.com/MickWest/Sitrec2/view"
)

// MaxTileSegments caps mesh complexity per tile edge.
const MaxTileSegments = 256

// Options configure a map. Zero values take the default, so a zoom, n_tiles or max_zoom of 0
// cannot be requested and a z_scale of 0 means 1. Flatten terrain with a small z_scale instead.
type Options struct {
	// Lat and Lon are the geographic center of the initial static grid.
	Lat float64 `toml:"lat" validate:"min=-90,max=90"`
	Lon float64 `toml:"lon" validate:"min=-180,max=180"`

	NTiles       int     `toml:"n_tiles" default:"3" validate:"min=1"`
	Zoom         int     `toml:"zoom" default:"11" validate:"min=0,max=20"`
	TileSize     float64 `toml:"tile_size" default:"600" validate:"gt=0"`
	TileSegments float64 `toml:"tile_segments" default:"100" validate:"gt=0"`
	ZScale       float64 `toml:"z_scale" default:"1"`
	MaxZoom      int     `toml:"max_zoom" default:"15" validate:"min=0,max=20"`
	Dynamic      bool    `toml:"dynamic"`

	// SubdivideSize is the projected diameter in pixels above which a tile splits.
	SubdivideSize float64 `toml:"subdivide_size" default:"2000" validate:"gt=0"`
	// ReferenceWidth is the notional viewport the projected size is measured against.
	ReferenceWidth float64 `toml:"reference_width" default:"1024" validate:"gt=0"`
	Radius         float64 `toml:"radius" default:"6378137" validate:"gt=0"`
	Concurrency    int64   `toml:"concurrency" default:"5" validate:"min=1"`

	// ElevationOnly keeps texture tiles on their wireframe material and fetches no imagery.
	ElevationOnly bool `toml:"elevation_only"`
	DebugTextures bool `toml:"debug_textures"`

	Logger *zap.SugaredLogger `toml:"-" validate:"-"`
	// OnLoaded is called once, from Update, when the loads scheduled so far have all settled.
	OnLoaded func() `toml:"-" validate:"-"`
}

// Deps are the collaborators a map works against.
type Deps struct {
	Projection projection.Projection `validate:"required"`
	World      geo.WorldTransform    `validate:"required"`
	Source     fetch.Source          `validate:"required"`
	Fetcher    fetch.TileFetcher     `validate:"required"`
	// Cameras are used by SubdivideTiles when it is called without any.
	Cameras []view.Camera
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func getOptions(provided Options) (Options, error) {
	o := provided
	if err := defaults.Set(&o); err != nil {
		return o, fmt.Errorf("failed to set default options: %w", err)
	}
	if err := validate.Struct(&o); err != nil {
		return o, fmt.Errorf("invalid map options: %w", err)
	}
	if o.MaxZoom > tilekey.MaxZoom {
		o.MaxZoom = tilekey.MaxZoom
	}
	o.TileSegments = math.Min(MaxTileSegments, math.Round(o.TileSegments))
	if o.TileSegments < 1 {
		o.TileSegments = 1
	}
	if o.Logger == nil {
		o.Logger = zap.S()
	}
	return o, nil
}

func checkDeps(d Deps) error {
	if err := validate.Struct(&d); err != nil {
		return fmt.Errorf("invalid map collaborators: %w", err)
	}
	return nil
}
