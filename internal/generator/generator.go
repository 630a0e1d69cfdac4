// Package generator merges a dataset configuration and extracted asset
// metadata into a GeoCroissant record.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dnswlt/geocr/internal/config"
	"github.com/dnswlt/geocr/internal/croissant"
	"github.com/dnswlt/geocr/internal/crs"
	"github.com/dnswlt/geocr/internal/extract"
	"github.com/dnswlt/geocr/internal/filter"
	"github.com/dnswlt/geocr/internal/store"
	"github.com/tidwall/sjson"
)

const dataRepoID = "data_repo"

// Generator builds one record from a configuration and, optionally, a
// directory of assets in a store.
type Generator struct {
	cfg      *config.Config
	st       store.Store
	dir      string
	location string
	format   string
	url      string
	now      func() time.Time
}

type Option func(*Generator)

// WithAssets makes the generator scan dir in st for assets.
func WithAssets(st store.Store, dir string) Option {
	return func(g *Generator) {
		g.st = st
		g.dir = dir
	}
}

// WithLocation sets the contentUrl and encodingFormat of the directory's
// FileObject, e.g. ("file:///data/hls", "local_directory").
func WithLocation(url, encodingFormat string) Option {
	return func(g *Generator) {
		g.location = url
		g.format = encodingFormat
	}
}

// WithURL sets the dataset url used when the configuration has none.
// It defaults to the location given by WithLocation.
func WithURL(url string) Option {
	return func(g *Generator) {
		g.url = url
	}
}

// WithClock replaces time.Now, which determines the default datePublished.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New returns a generator for cfg. cfg is not modified.
func New(cfg *config.Config, opts ...Option) *Generator {
	c := *cfg
	c.Creators = slices.Clone(cfg.Creators)
	g := &Generator{
		cfg:    &c,
		format: "local_directory",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Result is the outcome of a successful run.
type Result struct {
	Record *croissant.Record
	// Extraction is nil if no assets were scanned.
	Extraction *extract.Result
}

// Generate validates the configuration, extracts asset metadata if an
// asset directory is set and builds the record. Errors wrap
// config.ErrInvalidConfig or extract.ErrExtraction.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	cfg := g.cfg
	if g.st != nil {
		cfg.ApplyDefaults(g.dir)
	} else {
		cfg.ApplyDefaults("")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var res *extract.Result
	if g.st != nil && cfg.Output.ReuseMetadataCache {
		res = g.cached(ctx)
	}
	if g.st != nil && res == nil {
		f, err := filter.Compile(cfg.Extraction.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		res, err = extract.Extract(ctx, g.st, g.dir, extract.Options{
			ComputeStatistics: cfg.Extraction.ComputeStatistics,
			DetectSensor:      cfg.Extraction.DetectSensor,
			Filter:            f,
			Strict:            cfg.Extraction.Strict,
		})
		if err != nil {
			return nil, err
		}
	}

	rec := g.build(res)
	if err := croissant.Validate(rec); err != nil {
		return nil, err
	}

	if res != nil && cfg.Output.SaveMetadataCache {
		if err := extract.SaveCache(ctx, g.st, res); err != nil {
			if errors.Is(err, store.ErrReadOnly) {
				log.Printf("Warning: metadata cache not saved: asset store is read-only")
			} else {
				log.Printf("Warning: %v", err)
			}
		} else {
			log.Printf("Metadata cache saved to %s", path.Join(res.Dir, extract.CacheFile))
		}
	}
	return &Result{Record: rec, Extraction: res}, nil
}

// cached returns the extraction result saved in g.dir, or nil if there is
// none or its assets changed.
func (g *Generator) cached(ctx context.Context) *extract.Result {
	res, err := extract.LoadCache(ctx, g.st, g.dir)
	if err != nil {
		log.Printf("No usable metadata cache in %q: %v", g.dir, err)
		return nil
	}
	if res.Dir != g.dir || !res.Fresh(ctx, g.st) {
		log.Printf("Metadata cache in %q is stale, extracting again", g.dir)
		return nil
	}
	log.Printf("Reusing metadata cache %s", path.Join(g.dir, extract.CacheFile))
	return res
}

func (g *Generator) build(res *extract.Result) *croissant.Record {
	cfg := g.cfg
	rec := &croissant.Record{
		Context:       croissant.DefaultContext(),
		Type:          croissant.TypeDataset,
		Name:          cfg.Name,
		Description:   cfg.Description,
		URL:           cfg.URL,
		DatePublished: cfg.DatePublished,
		Version:       cfg.Version,
		License:       cfg.License,
		ConformsTo:    cfg.ConformsTo,
		Keywords:      slices.Clone(cfg.Keywords),
		Distribution:  []croissant.DistributionItem{},
		RecordSets:    []croissant.RecordSet{},
	}
	if rec.DatePublished == "" {
		rec.DatePublished = g.now().Format(time.DateOnly)
	}
	if rec.URL == "" && res != nil {
		rec.URL = g.url
		if rec.URL == "" {
			rec.URL = g.location
		}
	}
	if rec.Description == "" {
		if res != nil {
			rec.Description = fmt.Sprintf("Geospatial dataset extracted from %s directory", cfg.Name)
		} else {
			rec.Description = fmt.Sprintf("%s dataset", cfg.Name)
		}
	}
	rec.CiteAs = cfg.CiteAs
	if rec.CiteAs == "" && rec.URL != "" {
		rec.CiteAs = fmt.Sprintf("@dataset{%s, title={%s geospatial dataset}, year={%s}, url={%s}}",
			cfg.Name, cfg.Name, rec.DatePublished[:4], rec.URL)
	}
	for _, c := range cfg.Creators {
		rec.Creators = append(rec.Creators, croissant.Creator{Type: c.Type, Name: c.Name, Email: c.Email, URL: c.URL})
	}

	if res != nil {
		g.addExtracted(rec, res)
	}
	if cfg.Geo != nil {
		addConfiguredGeo(rec, cfg.Geo)
	}
	return rec
}

func (g *Generator) addExtracted(rec *croissant.Record, res *extract.Result) {
	cfg := g.cfg
	images := res.Images()
	sample := res.Assets[0]
	if len(images) > 0 {
		sample = images[0]
	}
	sensor := sample.Sensor
	if sensor == "" && len(res.Sensors) > 0 {
		sensor = res.Sensors[0]
	}

	// Temporal
	if !res.Start.IsZero() {
		start := res.Start.Format(time.DateOnly)
		if res.Start.Equal(res.End) {
			rec.TemporalCoverage = start
		} else {
			rec.TemporalCoverage = start + "/" + res.End.Format(time.DateOnly)
		}
	}
	if res.TemporalResolutionDays > 0 {
		rec.TemporalResolution = croissant.NewQuantity(res.TemporalResolutionDays, "days")
	}

	rec.Keywords = appendUnique(rec.Keywords, cfg.Name)
	for _, s := range res.Sensors {
		rec.Keywords = appendUnique(rec.Keywords, s)
	}
	if strings.Contains(strings.ToLower(cfg.Name), "burn") {
		rec.Keywords = appendUnique(rec.Keywords, "burn scars", "fire", "remote sensing")
	}

	if len(rec.Creators) == 0 {
		if v := sample.Tags["AUTHOR"]; v != "" {
			rec.Creators = []croissant.Creator{{Type: "Person", Name: v}}
		} else if v := sample.Tags["ORGANIZATION"]; v != "" {
			rec.Creators = []croissant.Creator{{Type: "Organization", Name: v}}
		}
	}

	// Spatial
	if b := res.BBox; b != nil {
		rec.SpatialCoverage = croissant.NewPlace(b[0], b[1], b[2], b[3])
	}
	rec.CRS = croissant.CRSList(slices.Clone(res.CRSs))
	if sample.Resolution != nil && sample.CRSUnits != "" {
		rec.SpatialResolution = croissant.NewQuantity(math.Abs(sample.Resolution[0]), sample.CRSUnits)
	}
	rec.SamplingStrategy = samplingStrategy(sample.Name)

	// Bands
	if len(images) > 0 && len(images[0].Bands) > 0 {
		names := bandNames(images[0], sensor)
		rec.BandConfiguration = croissant.NewBandConfiguration(names)
		if cfg.Extraction.ExtractSpectralMetadata {
			rec.SpectralBandMetadata = spectralMetadata(names, sensor)
		}
	}

	// Distribution and record set
	fileSetID := "tiff-files-for-" + cfg.Name
	location := g.location
	if location == "" {
		location = res.Dir
	}
	rec.Distribution = []croissant.DistributionItem{
		{
			Type:           croissant.TypeFileObject,
			ID:             dataRepoID,
			Name:           dataRepoID,
			Description:    "Directory containing the dataset files",
			ContentURL:     location,
			ContentSize:    fmt.Sprintf("%d B", res.TotalSize()),
			EncodingFormat: g.format,
			SHA256:         res.Digest(),
		},
		{
			Type:           croissant.TypeFileSet,
			ID:             fileSetID,
			Name:           fileSetID,
			Description:    fileSetDescription(res),
			ContainedIn:    &croissant.Ref{ID: dataRepoID},
			EncodingFormat: "image/tiff",
			Includes:       "**/*.tif*",
		},
	}
	if rs, ok := recordSet(cfg.Name, fileSetID, res, sensor); ok {
		rec.RecordSets = []croissant.RecordSet{rs}
	}
}

func fileSetDescription(res *extract.Result) string {
	var splits []string
	for s := range res.Splits {
		if s != extract.SplitUnknown {
			splits = append(splits, s)
		}
	}
	if len(splits) == 0 {
		return "TIFF files of the dataset."
	}
	slices.Sort(splits)
	return fmt.Sprintf("TIFF files organized in %s splits.", strings.Join(splits, "/"))
}

func addConfiguredGeo(rec *croissant.Record, geo *config.Geo) {
	if len(geo.BBox) == 4 {
		rec.SpatialCoverage = croissant.NewPlace(geo.BBox[0], geo.BBox[1], geo.BBox[2], geo.BBox[3])
	}
	if geo.CRS != "" {
		code, err := crs.ParseEPSG(geo.CRS)
		if err == nil {
			rec.CRS = croissant.CRSList{fmt.Sprintf("EPSG:%d", code)}
		}
	}
	if geo.TemporalCoverage != "" {
		rec.TemporalCoverage = geo.TemporalCoverage
	}
	if geo.SpatialResolution > 0 {
		unit := geo.ResolutionUnit
		if unit == "" {
			unit = crs.UnitMeters
		}
		rec.SpatialResolution = croissant.NewQuantity(geo.SpatialResolution, unit)
	}
}

func appendUnique(list []string, vs ...string) []string {
	for _, v := range vs {
		if v != "" && !slices.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}

var windowSizeRe = regexp.MustCompile(`(\d+)x(\d+)`)

func samplingStrategy(name string) string {
	n := strings.ToLower(name)
	if strings.Contains(n, "subsetted") {
		if m := windowSizeRe.FindStringSubmatch(name); m != nil {
			return fmt.Sprintf("Subsetted to %sx%s pixel windows", m[1], m[2])
		}
	}
	switch {
	case strings.Contains(n, "window"):
		return "Windowed sampling"
	case strings.Contains(n, "tile"):
		return "Tiled sampling"
	}
	return ""
}

// bandNames prefers band descriptions, then the sensor's reference band
// names, then "Band N".
func bandNames(a *extract.Asset, sensor string) []string {
	names := make([]string, len(a.Bands))
	for i, b := range a.Bands {
		switch ref, ok := lookupBand(sensor, b.Index-1); {
		case b.Description != "":
			names[i] = b.Description
		case ok:
			names[i] = ref.name
		default:
			names[i] = fmt.Sprintf("Band %d", b.Index)
		}
	}
	return names
}

func spectralMetadata(names []string, sensor string) []croissant.SpectralBand {
	var bands []croissant.SpectralBand
	for i, name := range names {
		ref, ok := lookupBand(sensor, i)
		if !ok {
			continue
		}
		bands = append(bands, croissant.SpectralBand{
			Type:             croissant.TypeSpectralBand,
			Name:             name,
			CenterWavelength: croissant.NewQuantity(ref.wavelength, "nm"),
			Bandwidth:        croissant.NewQuantity(ref.bandwidth, "nm"),
		})
	}
	return bands
}

func recordSet(name, fileSetID string, res *extract.Result, sensor string) (croissant.RecordSet, bool) {
	images, masks := res.Images(), res.Masks()
	rs := croissant.RecordSet{
		Type:        croissant.TypeRecordSet,
		ID:          name,
		Name:        name,
		Description: fmt.Sprintf("%s dataset with satellite imagery and mask annotations.", name),
		Fields:      []croissant.Field{},
	}
	source := func(regex string) croissant.Source {
		return croissant.Source{
			FileSet:   croissant.Ref{ID: fileSetID},
			Extract:   croissant.Extract{FileProperty: "fullpath"},
			Transform: &croissant.Transform{Regex: regex},
		}
	}
	if len(images) > 0 {
		regex := `.*(?<!mask)\.tif$`
		if slices.ContainsFunc(images, func(a *extract.Asset) bool { return strings.Contains(a.Name, "_merged") }) {
			regex = `.*_merged\.tif$`
		}
		f := croissant.Field{
			Type:        croissant.TypeField,
			ID:          name + "/image",
			Name:        name + "/image",
			Description: "Satellite imagery with multiple spectral bands converted to reflectance.",
			DataType:    croissant.TypeImageObject,
			Source:      source(regex),
		}
		if len(images[0].Bands) > 0 {
			f.BandConfiguration = croissant.NewBandConfiguration(bandNames(images[0], sensor))
		}
		rs.Fields = append(rs.Fields, f)
	}
	if len(masks) > 0 {
		regex := `.*mask.*\.tif$`
		if slices.ContainsFunc(masks, func(a *extract.Asset) bool { return strings.Contains(a.Name, ".mask.") }) {
			regex = `.*\.mask\.tif$`
		}
		f := croissant.Field{
			Type:        croissant.TypeField,
			ID:          name + "/mask",
			Name:        name + "/mask",
			Description: "Mask annotations with values representing different classes.",
			DataType:    croissant.TypeImageObject,
			Source:      source(regex),
		}
		if n := masks[0].Count; n > 0 {
			names := make([]string, n)
			for i := range names {
				names[i] = "mask"
			}
			f.BandConfiguration = croissant.NewBandConfiguration(names)
		}
		rs.Fields = append(rs.Fields, f)
	}
	if len(rs.Fields) == 0 {
		return croissant.RecordSet{}, false
	}
	return rs, true
}

// Marshal serializes rec with the configured indentation and applies the
// configured overrides. Overrides are applied in sorted path order.
func Marshal(rec *croissant.Record, cfg *config.Config) ([]byte, error) {
	data, err := croissant.Marshal(rec, cfg.Output.Indent)
	if err != nil {
		return nil, err
	}
	if len(cfg.Overrides) == 0 {
		return data, nil
	}
	paths := make([]string, 0, len(cfg.Overrides))
	for p := range cfg.Overrides {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		data, err = sjson.SetBytes(data, p, cfg.Overrides[p])
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", p, err)
		}
	}
	data = bytes.TrimSpace(data)
	var buf bytes.Buffer
	if cfg.Output.Indent > 0 {
		err = json.Indent(&buf, data, "", strings.Repeat(" ", cfg.Output.Indent))
	} else {
		err = json.Compact(&buf, data)
	}
	if err != nil {
		return nil, fmt.Errorf("overrides produced invalid JSON: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
