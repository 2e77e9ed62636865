package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"routex/internal/manifest"
)

const SupportedSchema = "v1"

var validate = validator.New()

// LoadManifest parses a pipeline YAML, validates schema_version, and
// returns the parsed manifest and an absolute path to the source properties
// file (if set).
func LoadManifest(path string) (manifest.File, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest.File{}, "", err
	}
	return ParseManifest(raw, filepath.Dir(path))
}

// ParseManifest is LoadManifest for a manifest already in memory. A
// relative source config path is resolved against baseDir.
func ParseManifest(raw []byte, baseDir string) (manifest.File, string, error) {
	var cfg manifest.File
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", fmt.Errorf("pipeline manifest: %w", err)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, "", fmt.Errorf("pipeline manifest: %w", err)
	}
	confPath := cfg.Source.Config
	if confPath != "" && !filepath.IsAbs(confPath) {
		abs, err := filepath.Abs(filepath.Join(baseDir, confPath))
		if err != nil {
			return cfg, "", err
		}
		confPath = abs
	}
	return cfg, confPath, nil
}
