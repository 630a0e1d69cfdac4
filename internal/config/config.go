package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/dnswlt/geocr/internal/crs"
	"github.com/dnswlt/geocr/internal/filter"
	"github.com/dnswlt/geocr/internal/store"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	CroissantSpec    = "http://mlcommons.org/croissant/1.1"
	GeoCroissantSpec = "http://mlcommons.org/croissant/geo/1.0"
)

// Creator is a person or organization credited for the dataset.
type Creator struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"` // "Person" (default) or "Organization"
	Email string `yaml:"email"`
	URL   string `yaml:"url"`
}

// Output controls serialization of the generated record.
type Output struct {
	Path   string `yaml:"path"`   // Destination file or bucket URL. Empty means CLI default.
	Indent int    `yaml:"indent"` // JSON indentation; 0 produces compact output.
	// SaveMetadataCache writes the raw extraction result as metadata_cache.json
	// into the asset directory.
	SaveMetadataCache bool `yaml:"saveMetadataCache"`
	// ReuseMetadataCache skips extraction if the asset directory holds a
	// metadata cache whose assets are unchanged.
	ReuseMetadataCache bool `yaml:"reuseMetadataCache"`
}

// Extraction toggles the optional parts of asset extraction.
type Extraction struct {
	ComputeStatistics       bool   `yaml:"computeStatistics"`
	ExtractSpectralMetadata bool   `yaml:"extractSpectralMetadata"`
	DetectSensor            bool   `yaml:"detectSensor"`
	Filter                  string `yaml:"filter"` // CEL expression over asset.{path,name,split,kind,size}
	Strict                  bool   `yaml:"strict"` // Abort on the first unreadable asset.
}

// Geo carries pre-extracted geospatial attributes, used when no asset
// directory is scanned.
type Geo struct {
	BBox              []float64 `yaml:"bbox"` // west, south, east, north in WGS84 degrees
	CRS               string    `yaml:"crs"`
	TemporalCoverage  string    `yaml:"temporalCoverage"`
	SpatialResolution float64   `yaml:"spatialResolution"`
	ResolutionUnit    string    `yaml:"resolutionUnit"`
}

// Config is the dataset description read from the YAML configuration file.
type Config struct {
	Name          string    `yaml:"name"`
	Description   string    `yaml:"description"`
	License       string    `yaml:"license"`
	URL           string    `yaml:"url"`
	Version       string    `yaml:"version"`
	DatePublished string    `yaml:"datePublished"`
	CiteAs        string    `yaml:"citeAs"`
	Keywords      []string  `yaml:"keywords"`
	Creators      []Creator `yaml:"creators"`
	ConformsTo    []string  `yaml:"conformsTo"`
	// AssetDir is the directory to scan, relative to the config file's store.
	AssetDir string `yaml:"assetDir"`

	Output     Output     `yaml:"output"`
	Extraction Extraction `yaml:"extraction"`
	Geo        *Geo       `yaml:"geo"`
	// Overrides are applied to the serialized record. Keys are sjson paths.
	Overrides map[string]any `yaml:"overrides"`
}

// Default returns a Config with all defaults set and no dataset fields.
func Default() *Config {
	return &Config{
		Version:    "1.0",
		ConformsTo: []string{CroissantSpec, GeoCroissantSpec},
		Output: Output{
			Indent: 2,
		},
		Extraction: Extraction{
			ComputeStatistics:       true,
			ExtractSpectralMetadata: true,
			DetectSensor:            true,
		},
	}
}

// Parse decodes YAML into a copy of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Load reads the configuration at configPath from st.
func Load(ctx context.Context, st store.Store, configPath string) (*Config, error) {
	bs, err := st.ReadFile(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read config %q: %v", ErrInvalidConfig, configPath, err)
	}
	cfg, err := Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("in %q: %w", configPath, err)
	}
	if cfg.AssetDir != "" && !path.IsAbs(cfg.AssetDir) {
		cfg.AssetDir = path.Join(path.Dir(configPath), cfg.AssetDir)
	}
	return cfg, nil
}

// LoadFile reads a configuration from the local file system. Relative
// assetDir and output.path values are resolved against the config file's
// directory.
func LoadFile(ctx context.Context, file string) (*Config, error) {
	dir, base := filepath.Split(file)
	if dir == "" {
		dir = "."
	}
	cfg, err := Load(ctx, store.NewDiskStore(dir), base)
	if err != nil {
		return nil, err
	}
	if cfg.AssetDir != "" && !filepath.IsAbs(cfg.AssetDir) {
		cfg.AssetDir = filepath.Join(dir, filepath.FromSlash(cfg.AssetDir))
	}
	if p := cfg.Output.Path; p != "" && p != "-" && !strings.Contains(p, "://") && !filepath.IsAbs(p) {
		cfg.Output.Path = filepath.Join(dir, filepath.FromSlash(p))
	}
	return cfg, nil
}

// ApplyDefaults fills fields that can be derived from the asset directory.
// The directory's base name becomes the dataset name if none is configured.
// Configurations built without Default get the default conformsTo.
func (c *Config) ApplyDefaults(assetDir string) {
	if c.Name == "" && assetDir != "" {
		base := path.Base(filepath.ToSlash(strings.TrimRight(assetDir, `/\`)))
		if base != "." && base != "/" {
			c.Name = base
		}
	}
	if len(c.ConformsTo) == 0 {
		c.ConformsTo = []string{CroissantSpec, GeoCroissantSpec}
	}
	for i := range c.Creators {
		if c.Creators[i].Type == "" {
			c.Creators[i].Type = "Person"
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks required fields and value constraints.
func (c *Config) Validate() error {
	if c.Name == "" {
		return invalid("missing required field name")
	}
	if strings.ContainsFunc(c.Name, unicode.IsControl) {
		return invalid("name %q contains control characters", c.Name)
	}
	if c.License == "" {
		return invalid("missing required field license")
	}
	if c.Version != "" && !semver.IsValid("v"+strings.TrimPrefix(c.Version, "v")) {
		return invalid("version %q is not a semantic version", c.Version)
	}
	if c.DatePublished != "" {
		if _, err := time.Parse(time.DateOnly, c.DatePublished); err != nil {
			return invalid("datePublished %q is not a YYYY-MM-DD date", c.DatePublished)
		}
	}
	for i, cr := range c.Creators {
		if cr.Name == "" {
			return invalid("creators[%d]: missing name", i)
		}
		switch cr.Type {
		case "", "Person", "Organization":
		default:
			return invalid("creators[%d]: type must be Person or Organization, got %q", i, cr.Type)
		}
	}
	if c.Output.Indent < 0 || c.Output.Indent > 8 {
		return invalid("output.indent must be between 0 and 8, got %d", c.Output.Indent)
	}
	if _, err := filter.Compile(c.Extraction.Filter); err != nil {
		return invalid("extraction.filter: %v", err)
	}
	for p := range c.Overrides {
		if p == "" || strings.HasPrefix(p, ".") || strings.HasPrefix(p, "@") || strings.ContainsAny(p, "*?") {
			return invalid("overrides: invalid path %q", p)
		}
	}
	if c.Geo != nil {
		if err := c.Geo.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (g *Geo) validate() error {
	if len(g.BBox) > 0 {
		if len(g.BBox) != 4 {
			return invalid("geo.bbox must have 4 values (west, south, east, north), got %d", len(g.BBox))
		}
		w, s, e, n := g.BBox[0], g.BBox[1], g.BBox[2], g.BBox[3]
		if w < -180 || e > 180 || s < -90 || n > 90 {
			return invalid("geo.bbox %v is outside WGS84 range", g.BBox)
		}
		if w > e || s > n {
			return invalid("geo.bbox %v: west must not exceed east and south must not exceed north", g.BBox)
		}
	}
	if g.CRS != "" {
		if _, err := crs.ParseEPSG(g.CRS); err != nil {
			return invalid("geo.crs: %v", err)
		}
	}
	if g.SpatialResolution < 0 {
		return invalid("geo.spatialResolution must not be negative")
	}
	return nil
}
