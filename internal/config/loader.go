package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr             string `json:"addr" yaml:"addr" toml:"addr"`
	WeightsDir       string `json:"weights_dir" yaml:"weights_dir" toml:"weights_dir"`
	DefaultModel     string `json:"default_model" yaml:"default_model" toml:"default_model"`
	MaxResolution    int    `json:"max_resolution" yaml:"max_resolution" toml:"max_resolution"`
	TileSize         int    `json:"tile_size" yaml:"tile_size" toml:"tile_size"`
	TilePad          int    `json:"tile_pad" yaml:"tile_pad" toml:"tile_pad"`
	PrePad           int    `json:"pre_pad" yaml:"pre_pad" toml:"pre_pad"`
	EncodeQuality    int    `json:"encode_quality" yaml:"encode_quality" toml:"encode_quality"`
	RequestTimeoutS  int    `json:"request_timeout_s" yaml:"request_timeout_s" toml:"request_timeout_s"`
	CleanupIntervalS int    `json:"cleanup_interval_s" yaml:"cleanup_interval_s" toml:"cleanup_interval_s"`
	MaxUploadMB      int    `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
