package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dnswlt/geocr/internal/config"
	"github.com/dnswlt/geocr/internal/croissant"
	"github.com/dnswlt/geocr/internal/extract"
	"github.com/dnswlt/geocr/internal/gitclient"
	"github.com/dnswlt/geocr/internal/store"
	"github.com/dnswlt/geocr/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"
)

const datasetName = "hls_burn_scars"

func fixedClock() time.Time {
	return time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)
}

func minimalConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("name: hls_burn_scars\nlicense: CC-BY-4.0\n"))
	if err != nil {
		t.Fatalf("config.Parse() failed: %v", err)
	}
	return cfg
}

func hlsTile(east float64) testutil.GeoTIFF {
	return testutil.GeoTIFF{
		Width:      4,
		Height:     2,
		Bands:      2,
		PixelScale: []float64{30, 30, 0},
		Tiepoint:   []float64{0, 0, 0, east, 4000000, 0},
		GeoKeys:    testutil.EPSGKeys(32610),
		GDALMetadata: `<GDALMetadata>
  <Item name="DESCRIPTION" sample="0" role="description">Blue</Item>
  <Item name="AUTHOR">Jane Doe</Item>
</GDALMetadata>`,
		Pixel: func(b, x, y int) float64 { return float64(b + x + y) },
	}
}

// writeDataset creates <tmp>/hls_burn_scars with training and validation
// splits and returns the parent directory.
func writeDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, datasetName)
	hlsTile(500000).WriteFile(t, dir, "training/subsetted_512x512_HLS.S30.T10SEH.2018190.v1.4_merged.tif")
	testutil.GeoTIFF{Width: 4, Height: 2, BitsPerSample: 8}.WriteFile(t, dir, "training/subsetted_512x512_HLS.S30.T10SEH.2018190.v1.4.mask.tif")
	hlsTile(501000).WriteFile(t, dir, "validation/subsetted_512x512_HLS.S30.T10SEH.2018200.v1.4_merged.tif")
	return root
}

func generate(t *testing.T, cfg *config.Config, opts ...Option) *Result {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	res, err := New(cfg, opts...).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	return res
}

func TestGenerateWithoutAssets(t *testing.T) {
	res := generate(t, minimalConfig(t))
	rec := res.Record

	if res.Extraction != nil {
		t.Error("Extraction is set although no assets were scanned")
	}
	if rec.HasGeospatial() {
		t.Error("HasGeospatial() = true for record without assets")
	}
	if rec.Name != datasetName || rec.License != "CC-BY-4.0" {
		t.Errorf("name, license = %q, %q", rec.Name, rec.License)
	}
	if rec.Description != "hls_burn_scars dataset" {
		t.Errorf("Description = %q, want default", rec.Description)
	}
	if rec.DatePublished != "2024-03-05" {
		t.Errorf("DatePublished = %q, want 2024-03-05", rec.DatePublished)
	}
	if diff := cmp.Diff([]string{config.CroissantSpec, config.GeoCroissantSpec}, rec.ConformsTo); diff != "" {
		t.Errorf("ConformsTo mismatch (-want +got):\n%s", diff)
	}

	data, err := Marshal(rec, minimalConfig(t))
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if err := croissant.ValidateJSON(data); err != nil {
		t.Errorf("ValidateJSON() failed: %v", err)
	}
	s := string(data)
	if strings.Contains(s, `"geocr:`) || strings.Contains(s, "spatialCoverage") || strings.Contains(s, "temporalCoverage") {
		t.Errorf("output contains geospatial terms:\n%s", s)
	}
	for _, want := range []string{`"distribution": []`, `"recordSet": []`} {
		if !strings.Contains(s, want) {
			t.Errorf("output lacks %s", want)
		}
	}
}

func TestGenerateInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"no name", func(c *config.Config) { c.Name = "" }},
		{"no license", func(c *config.Config) { c.License = "" }},
		{"bad filter", func(c *config.Config) { c.Extraction.Filter = "asset.size +" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := minimalConfig(t)
			tc.mutate(cfg)
			_, err := New(cfg).Generate(context.Background())
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("Generate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestGenerateDoesNotModifyConfig(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Name = ""
	root := writeDataset(t)
	res := generate(t, cfg, WithAssets(store.NewDiskStore(root), datasetName))
	if res.Record.Name != datasetName {
		t.Errorf("Name = %q, want %q from the asset dir", res.Record.Name, datasetName)
	}
	if cfg.Name != "" {
		t.Errorf("Generate() changed the caller's config: Name = %q", cfg.Name)
	}
}

func TestGenerateWithAssets(t *testing.T) {
	root := writeDataset(t)
	cfg := minimalConfig(t)
	cfg.Keywords = []string{"wildfire"}
	res := generate(t, cfg,
		WithAssets(store.NewDiskStore(root), datasetName),
		WithLocation("file:///data/hls_burn_scars", "local_directory"))
	rec := res.Record

	if !rec.HasGeospatial() {
		t.Fatal("HasGeospatial() = false")
	}
	if got, want := rec.Description, "Geospatial dataset extracted from hls_burn_scars directory"; got != want {
		t.Errorf("Description = %q, want %q", got, want)
	}
	if rec.URL != "file:///data/hls_burn_scars" {
		t.Errorf("URL = %q, want location", rec.URL)
	}
	if !strings.HasPrefix(rec.CiteAs, "@dataset{hls_burn_scars,") || !strings.Contains(rec.CiteAs, "year={2024}") {
		t.Errorf("CiteAs = %q", rec.CiteAs)
	}
	wantKeywords := []string{"wildfire", datasetName, extract.SensorHLSS30, "burn scars", "fire", "remote sensing"}
	if diff := cmp.Diff(wantKeywords, rec.Keywords); diff != "" {
		t.Errorf("Keywords mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]croissant.Creator{{Type: "Person", Name: "Jane Doe"}}, rec.Creators); diff != "" {
		t.Errorf("Creators mismatch (-want +got):\n%s", diff)
	}

	// Temporal
	if rec.TemporalCoverage != "2018-07-09/2018-07-19" {
		t.Errorf("TemporalCoverage = %q", rec.TemporalCoverage)
	}
	if diff := cmp.Diff(croissant.NewQuantity(10, "days"), rec.TemporalResolution); diff != "" {
		t.Errorf("TemporalResolution mismatch (-want +got):\n%s", diff)
	}

	// Spatial
	if diff := cmp.Diff(croissant.CRSList{"EPSG:32610"}, rec.CRS); diff != "" {
		t.Errorf("CRS mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(croissant.NewQuantity(30, "m"), rec.SpatialResolution); diff != "" {
		t.Errorf("SpatialResolution mismatch (-want +got):\n%s", diff)
	}
	if rec.SamplingStrategy != "Subsetted to 512x512 pixel windows" {
		t.Errorf("SamplingStrategy = %q", rec.SamplingStrategy)
	}
	bbox := res.Extraction.BBox
	if bbox == nil || rec.SpatialCoverage == nil {
		t.Fatal("no spatial coverage")
	}
	if want := croissant.NewPlace(bbox[0], bbox[1], bbox[2], bbox[3]); rec.SpatialCoverage.Geo.Box != want.Geo.Box {
		t.Errorf("box = %q, want %q", rec.SpatialCoverage.Geo.Box, want.Geo.Box)
	}
	for _, a := range res.Extraction.Assets {
		if b := a.WGS84Bounds; b != nil && (b[0] < bbox[0] || b[1] < bbox[1] || b[2] > bbox[2] || b[3] > bbox[3]) {
			t.Errorf("asset %s bounds %v outside dataset bbox %v", a.RelPath, *b, *bbox)
		}
	}

	// Bands
	if diff := cmp.Diff(croissant.NewBandConfiguration([]string{"Blue", "Green"}), rec.BandConfiguration); diff != "" {
		t.Errorf("BandConfiguration mismatch (-want +got):\n%s", diff)
	}
	wantSpectral := []croissant.SpectralBand{
		{Type: croissant.TypeSpectralBand, Name: "Blue", CenterWavelength: croissant.NewQuantity(490, "nm"), Bandwidth: croissant.NewQuantity(65, "nm")},
		{Type: croissant.TypeSpectralBand, Name: "Green", CenterWavelength: croissant.NewQuantity(560, "nm"), Bandwidth: croissant.NewQuantity(60, "nm")},
	}
	if diff := cmp.Diff(wantSpectral, rec.SpectralBandMetadata); diff != "" {
		t.Errorf("SpectralBandMetadata mismatch (-want +got):\n%s", diff)
	}

	// Distribution
	if len(rec.Distribution) != 2 {
		t.Fatalf("len(Distribution) = %d, want 2", len(rec.Distribution))
	}
	repo, files := rec.Distribution[0], rec.Distribution[1]
	if repo.ID != "data_repo" || repo.SHA256 != res.Extraction.Digest() || repo.ContentURL != "file:///data/hls_burn_scars" {
		t.Errorf("FileObject = %+v", repo)
	}
	if files.ID != "tiff-files-for-hls_burn_scars" || files.ContainedIn == nil || files.ContainedIn.ID != "data_repo" {
		t.Errorf("FileSet = %+v", files)
	}
	if files.Description != "TIFF files organized in training/validation splits." {
		t.Errorf("FileSet description = %q", files.Description)
	}

	// Record set
	if len(rec.RecordSets) != 1 {
		t.Fatalf("len(RecordSets) = %d, want 1", len(rec.RecordSets))
	}
	var regexes []string
	for _, f := range rec.RecordSets[0].Fields {
		if f.Source.FileSet.ID != files.ID {
			t.Errorf("field %s references %q", f.ID, f.Source.FileSet.ID)
		}
		regexes = append(regexes, f.Source.Transform.Regex)
	}
	if diff := cmp.Diff([]string{`.*_merged\.tif$`, `.*\.mask\.tif$`}, regexes); diff != "" {
		t.Errorf("field regexes mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateNoSpectralMetadata(t *testing.T) {
	root := writeDataset(t)
	cfg := minimalConfig(t)
	cfg.Extraction.ExtractSpectralMetadata = false
	cfg.Extraction.DetectSensor = false
	rec := generate(t, cfg, WithAssets(store.NewDiskStore(root), datasetName)).Record
	if rec.SpectralBandMetadata != nil {
		t.Errorf("SpectralBandMetadata = %v, want nil", rec.SpectralBandMetadata)
	}
	if diff := cmp.Diff([]string{"Blue", "Band 2"}, rec.BandConfiguration.BandNameList); diff != "" {
		t.Errorf("band names mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateExtractionError(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, datasetName), 0755); err != nil {
		t.Fatal(err)
	}
	_, err := New(minimalConfig(t), WithAssets(store.NewDiskStore(root), datasetName)).Generate(context.Background())
	if !errors.Is(err, extract.ErrExtraction) {
		t.Errorf("Generate() error = %v, want ErrExtraction", err)
	}
}

func TestConfiguredGeoOverridesExtracted(t *testing.T) {
	root := writeDataset(t)
	cfg := minimalConfig(t)
	cfg.Geo = &config.Geo{
		BBox:              []float64{-10, 40, 5, 50},
		CRS:               "EPSG:3857",
		TemporalCoverage:  "2020-01-01/2020-12-31",
		SpatialResolution: 10,
	}
	rec := generate(t, cfg, WithAssets(store.NewDiskStore(root), datasetName)).Record

	if got, want := rec.SpatialCoverage.Geo.Box, "40 -10 50 5"; got != want {
		t.Errorf("box = %q, want %q", got, want)
	}
	if diff := cmp.Diff(croissant.CRSList{"EPSG:3857"}, rec.CRS); diff != "" {
		t.Errorf("CRS mismatch (-want +got):\n%s", diff)
	}
	if rec.TemporalCoverage != "2020-01-01/2020-12-31" {
		t.Errorf("TemporalCoverage = %q", rec.TemporalCoverage)
	}
	if diff := cmp.Diff(croissant.NewQuantity(10, "m"), rec.SpatialResolution); diff != "" {
		t.Errorf("SpatialResolution mismatch (-want +got):\n%s", diff)
	}
}

func TestConfiguredGeoWithoutAssets(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Geo = &config.Geo{BBox: []float64{-123, 36, -122, 37}, CRS: "4326"}
	rec := generate(t, cfg).Record
	if !rec.HasGeospatial() {
		t.Fatal("HasGeospatial() = false")
	}
	if diff := cmp.Diff(croissant.CRSList{"EPSG:4326"}, rec.CRS); diff != "" {
		t.Errorf("CRS mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalOverrides(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Overrides = map[string]any{
		"version":             "2.0.0",
		"isAccessibleForFree": true,
		"sameAs.0":            "https://example.com/hls",
	}
	rec := generate(t, cfg).Record

	data, err := Marshal(rec, cfg)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if !bytes.HasSuffix(data, []byte("}\n")) || bytes.HasSuffix(data, []byte("\n\n")) {
		t.Errorf("output does not end with a single newline: %q", data[len(data)-4:])
	}
	if !bytes.Contains(data, []byte("\n  \"name\": ")) {
		t.Error("output is not indented by two spaces")
	}
	if got := gjson.GetBytes(data, "version").String(); got != "2.0.0" {
		t.Errorf("version = %q, want 2.0.0", got)
	}
	if !gjson.GetBytes(data, "isAccessibleForFree").Bool() {
		t.Error("isAccessibleForFree not set")
	}
	if got := gjson.GetBytes(data, "sameAs.0").String(); got != "https://example.com/hls" {
		t.Errorf("sameAs.0 = %q", got)
	}
	if err := croissant.ValidateJSON(data); err != nil {
		t.Errorf("ValidateJSON() failed: %v", err)
	}

	cfg.Output.Indent = 0
	compact, err := Marshal(rec, cfg)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if n := bytes.Count(compact, []byte("\n")); n != 1 {
		t.Errorf("compact output has %d newlines, want 1", n)
	}
}

func TestRoundTrip(t *testing.T) {
	root := writeDataset(t)
	cfg := minimalConfig(t)
	rec := generate(t, cfg, WithAssets(store.NewDiskStore(root), datasetName)).Record

	first, err := Marshal(rec, cfg)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	back, err := croissant.Unmarshal(first)
	if err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	second, err := Marshal(back, cfg)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("round trip changed output:\n%s", cmp.Diff(string(first), string(second)))
	}
	if !json.Valid(first) {
		t.Error("output is not valid JSON")
	}
}

func TestDeterministicOutput(t *testing.T) {
	root := writeDataset(t)
	var outputs [][]byte
	for i := 0; i < 2; i++ {
		cfg := minimalConfig(t)
		rec := generate(t, cfg, WithAssets(store.NewDiskStore(root), datasetName)).Record
		data, err := Marshal(rec, cfg)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		outputs = append(outputs, data)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Errorf("outputs differ:\n%s", cmp.Diff(string(outputs[0]), string(outputs[1])))
	}
}

func TestSaveMetadataCache(t *testing.T) {
	root := writeDataset(t)
	st := store.NewDiskStore(root)
	cfg := minimalConfig(t)
	cfg.Output.SaveMetadataCache = true
	res := generate(t, cfg, WithAssets(st, datasetName))

	cached, err := extract.LoadCache(context.Background(), st, datasetName)
	if err != nil {
		t.Fatalf("LoadCache() failed: %v", err)
	}
	if cached.Digest() != res.Extraction.Digest() {
		t.Errorf("cached digest = %s, want %s", cached.Digest(), res.Extraction.Digest())
	}

	// The cache file is not an asset and does not change the record.
	again := generate(t, minimalConfig(t), WithAssets(st, datasetName))
	if again.Record.Distribution[0].SHA256 != res.Record.Distribution[0].SHA256 {
		t.Error("digest changed after the cache file was written")
	}
}

func TestReuseMetadataCache(t *testing.T) {
	ctx := context.Background()
	root := writeDataset(t)
	st := store.NewDiskStore(root)
	cfg := minimalConfig(t)
	cfg.Output.SaveMetadataCache = true
	generate(t, cfg, WithAssets(st, datasetName))

	// Mark the cache so that results built from it are recognizable.
	cached, err := extract.LoadCache(ctx, st, datasetName)
	if err != nil {
		t.Fatalf("LoadCache() failed: %v", err)
	}
	cached.Sensors = append(cached.Sensors, "CachedSensor")
	if err := extract.SaveCache(ctx, st, cached); err != nil {
		t.Fatalf("SaveCache() failed: %v", err)
	}

	reuse := minimalConfig(t)
	reuse.Output.ReuseMetadataCache = true
	rec := generate(t, reuse, WithAssets(st, datasetName)).Record
	if !slices.Contains(rec.Keywords, "CachedSensor") {
		t.Errorf("Keywords = %v, want the cached sensor", rec.Keywords)
	}

	// Growing an asset makes the cache stale.
	f, err := os.OpenFile(filepath.Join(root, filepath.FromSlash(cached.Assets[0].Path)), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	f.Close()
	rec = generate(t, reuse, WithAssets(st, datasetName)).Record
	if slices.Contains(rec.Keywords, "CachedSensor") {
		t.Errorf("Keywords = %v, stale cache was used", rec.Keywords)
	}
}

func TestReadOnlyStore(t *testing.T) {
	files := map[string][]byte{
		"hls_burn_scars/training/HLS.S30.T10SEH.2018190.v1.4_merged.tif": hlsTile(500000).Encode(),
	}
	c, err := gitclient.New(testutil.NewGitRepo(t, files, "v1.0.0"), nil)
	if err != nil {
		t.Fatalf("gitclient.New() failed: %v", err)
	}
	src := store.NewGitSource(c, "v1.0.0")
	st, err := src.Store("v1.0.0")
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	cfg := minimalConfig(t)
	cfg.Output.SaveMetadataCache = true
	rec := generate(t, cfg, WithAssets(st, datasetName)).Record
	if !slices.Equal(rec.CRS, croissant.CRSList{"EPSG:32610"}) {
		t.Errorf("CRS = %v, want EPSG:32610", rec.CRS)
	}
	if _, err := st.ReadFile(context.Background(), datasetName+"/"+extract.CacheFile); err == nil {
		t.Error("cache file exists in read-only store")
	}
}
