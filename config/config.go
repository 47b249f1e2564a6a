// Package config reads the TOML settings for the terrain driver.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/quadtree"
	"github.com/MickWest/Sitrec2/tms"
)

// Files are decoded in this order, later ones overriding earlier ones.
const (
	FolderConfigPath = "config/config.toml"
	RootConfigPath   = "config.toml"
)

// StoreConfig selects the tile byte stores put in front of the network. Empty fields disable a store.
type StoreConfig struct {
	BoltPath    string        `toml:"bolt_path"`
	RedisAddr   string        `toml:"redis_addr"`
	RedisDB     int           `toml:"redis_db"`
	RedisPrefix string        `toml:"redis_prefix" default:"sitrec"`
	RedisTTL    time.Duration `toml:"redis_ttl" default:"24h"`
}

type FetchConfig struct {
	Retries int           `toml:"retries" default:"3"`
	Backoff time.Duration `toml:"backoff" default:"100ms"`
	Timeout time.Duration `toml:"timeout" default:"30s"`
}

type Config struct {
	// Projection is the id of an embedded tile matrix set.
	Projection string           `toml:"projection" default:"WebMercatorQuad"`
	Map        quadtree.Options `toml:"map"`
	Services   fetch.Templates  `toml:"services"`
	Fetch      FetchConfig      `toml:"fetch"`
	Store      StoreConfig      `toml:"store"`
}

// Default is the configuration used when no file sets anything.
func Default() Config {
	c := Config{Projection: tms.WebMercatorQuad}
	if err := defaults.Set(&c.Store); err != nil {
		panic(err)
	}
	if err := defaults.Set(&c.Fetch); err != nil {
		panic(err)
	}
	return c
}

// Load merges dir/config/config.toml and dir/config.toml over Default. Missing files are skipped.
func Load(dir string) (Config, error) {
	c := Default()
	for _, name := range []string{FolderConfigPath, RootConfigPath} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		if err := LoadFile(path, &c); err != nil {
			return c, err
		}
	}
	return c, nil
}

// LoadFile decodes one file into c, leaving keys it does not mention untouched.
func LoadFile(path string, c *Config) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	return nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
