// Package geocr generates Croissant JSON-LD records with geospatial
// extension terms from a YAML configuration and, optionally, a directory
// of GeoTIFF assets.
//
//	cfg, _ := geocr.LoadConfig(ctx, "geocr.yml")
//	rec, err := geocr.Generate(ctx, cfg, geocr.LocalAssets("data/hls_burn_scars"))
package geocr

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/dnswlt/geocr/internal/config"
	"github.com/dnswlt/geocr/internal/croissant"
	"github.com/dnswlt/geocr/internal/extract"
	"github.com/dnswlt/geocr/internal/generator"
	"github.com/dnswlt/geocr/internal/store"
)

type (
	Config = config.Config
	Record = croissant.Record
	Option = generator.Option
)

var (
	// ErrInvalidConfig is returned for missing or invalid configuration fields.
	ErrInvalidConfig = config.ErrInvalidConfig
	// ErrExtraction is returned if the asset directory cannot be read or
	// contains no recognizable assets.
	ErrExtraction = extract.ErrExtraction
)

// LoadConfig reads a YAML configuration file.
func LoadConfig(ctx context.Context, file string) (*Config, error) {
	return config.LoadFile(ctx, file)
}

// LocalAssets scans the local directory dir. The directory's base name is
// the dataset name if the configuration has none.
func LocalAssets(dir string) Option {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	st := store.NewDiskStore(filepath.Dir(abs))
	assets := generator.WithAssets(st, filepath.Base(abs))
	location := generator.WithLocation(filepath.ToSlash(filepath.Clean(dir)), "local_directory")
	u := generator.WithURL(fileURL(abs))
	return func(g *generator.Generator) {
		assets(g)
		location(g)
		u(g)
	}
}

// fileURL returns the file:// URL of an absolute path.
func fileURL(abs string) string {
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p // Windows drive letter
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// Generate builds the record for cfg. cfg is not modified.
func Generate(ctx context.Context, cfg *Config, opts ...Option) (*Record, error) {
	res, err := generator.New(cfg, opts...).Generate(ctx)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// GenerateFromFile loads the configuration at file and builds the record,
// scanning the configured assetDir if there is one.
func GenerateFromFile(ctx context.Context, file string) (*Record, error) {
	cfg, err := LoadConfig(ctx, file)
	if err != nil {
		return nil, err
	}
	var opts []Option
	if cfg.AssetDir != "" {
		opts = append(opts, LocalAssets(cfg.AssetDir))
	}
	return Generate(ctx, cfg, opts...)
}

// Marshal serializes rec with the indentation and overrides of cfg.
func Marshal(rec *Record, cfg *Config) ([]byte, error) {
	data, err := generator.Marshal(rec, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}
	return data, nil
}
