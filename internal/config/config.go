// Package config handles configuration loading and shared processing defaults.
//
// A Config is loaded once at startup and passed by value into the components
// that need it; nothing in this package or its consumers mutates it afterwards.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Reframe holds defaults for the tile reframing stage.
type Reframe struct {
	Order  int `yaml:"order,omitempty"`  // interpolation order: 0 nearest, 1 linear, 3 cubic
	Margin int `yaml:"margin,omitempty"` // extra pixels around the tile on each side
}

// Warp holds defaults for the tile warping stage.
type Warp struct {
	Compression string  `yaml:"compression,omitempty"` // GeoTIFF COMPRESS creation option
	NoData      float64 `yaml:"nodata,omitempty"`
}

// Match holds defaults for tie-point matching.
type Match struct {
	WindowSize  int     `yaml:"window_size,omitempty"`
	MaxCorners  int     `yaml:"max_corners,omitempty"`
	Quality     float64 `yaml:"quality,omitempty"`
	MinDistance float64 `yaml:"min_distance,omitempty"`
}

// Config represents the root configuration file structure.
type Config struct {
	TileDB  string  `yaml:"tile_db"`            // path to the s2tiles SQLite database
	WorkDir string  `yaml:"work_dir,omitempty"` // scratch directory for intermediate rasters
	Reframe Reframe `yaml:"reframe,omitempty"`
	Warp    Warp    `yaml:"warp,omitempty"`
	Match   Match   `yaml:"match,omitempty"`
}

// Default returns the built-in processing defaults.
func Default() Config {
	return Config{
		WorkDir: os.TempDir(),
		Reframe: Reframe{Order: 3},
		Warp:    Warp{Compression: "LZW", NoData: 0},
		Match: Match{
			WindowSize:  25,
			MaxCorners:  20000,
			Quality:     0.1,
			MinDistance: 10,
		},
	}
}

// Load reads and parses the YAML configuration file from the specified path.
// Fields absent from the file keep the Default() values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.TileDB == "" {
		return nil, fmt.Errorf("%s: tile_db is required", path)
	}

	return &cfg, nil
}
