package extract

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnswlt/geocr/internal/filter"
	"github.com/dnswlt/geocr/internal/store"
	"github.com/dnswlt/geocr/internal/testutil"
	"github.com/google/go-cmp/cmp"
)

const (
	trainImage = "training/HLS.S30.T10SEH.2018190.v1.4_merged.tif"
	trainMask  = "training/HLS.S30.T10SEH.2018190.v1.4.mask.tif"
	valImage   = "validation/HLS.S30.T11SKU.2018200.v1.4_merged.tif"
)

func utmTile() testutil.GeoTIFF {
	return testutil.GeoTIFF{
		Width:      4,
		Height:     2,
		Bands:      2,
		PixelScale: []float64{30, 30, 0},
		Tiepoint:   []float64{0, 0, 0, 500000, 4000000, 0},
		GeoKeys:    testutil.EPSGKeys(32610),
		GDALMetadata: `<GDALMetadata>
  <Item name="DESCRIPTION" sample="0" role="description">Blue</Item>
  <Item name="AUTHOR">Jane Doe</Item>
</GDALMetadata>`,
		Pixel: func(b, x, y int) float64 { return float64(b*10 + x) },
	}
}

func geographicTile() testutil.GeoTIFF {
	return testutil.GeoTIFF{
		Width:      4,
		Height:     4,
		PixelScale: []float64{0.001, 0.001, 0},
		Tiepoint:   []float64{0, 0, 0, -120, 35, 0},
		GeoKeys:    testutil.EPSGKeys(4326),
		DateTime:   "2019:03:01 12:00:00",
	}
}

// writeDataset creates a small dataset with one broken file and returns its dir.
func writeDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	utmTile().WriteFile(t, dir, trainImage)
	testutil.GeoTIFF{Width: 4, Height: 2, BitsPerSample: 8}.WriteFile(t, dir, trainMask)
	geographicTile().WriteFile(t, dir, valImage)
	for rel, content := range map[string]string{
		"validation/notes.txt": "not an asset",
		"test/broken.tif":      "this is not a tiff",
	} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func defaultOptions() Options {
	return Options{ComputeStatistics: true, DetectSensor: true}
}

func TestExtract(t *testing.T) {
	dir := writeDataset(t)
	res, err := Extract(context.Background(), store.NewDiskStore(dir), ".", defaultOptions())
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}

	if len(res.Assets) != 3 {
		t.Fatalf("len(Assets) = %d, want 3", len(res.Assets))
	}
	if diff := cmp.Diff([]string{"test/broken.tif"}, res.Skipped); diff != "" {
		t.Errorf("Skipped mismatch (-want +got):\n%s", diff)
	}
	wantSplits := map[string]map[string][]string{
		SplitTraining:   {KindImages: {trainImage}, KindMasks: {trainMask}},
		SplitValidation: {KindImages: {valImage}},
	}
	if diff := cmp.Diff(wantSplits, res.Splits); diff != "" {
		t.Errorf("Splits mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"EPSG:32610", "EPSG:4326"}, res.CRSs); diff != "" {
		t.Errorf("CRSs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{SensorHLSS30}, res.Sensors); diff != "" {
		t.Errorf("Sensors mismatch (-want +got):\n%s", diff)
	}

	wantStart := time.Date(2018, time.July, 9, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2018, time.July, 19, 0, 0, 0, 0, time.UTC)
	if !res.Start.Equal(wantStart) || !res.End.Equal(wantEnd) {
		t.Errorf("temporal range = %v..%v, want %v..%v", res.Start, res.End, wantStart, wantEnd)
	}
	if res.TemporalResolutionDays != 10 {
		t.Errorf("TemporalResolutionDays = %v, want 10", res.TemporalResolutionDays)
	}

	if res.BBox == nil {
		t.Fatal("BBox is nil")
	}
	for _, a := range res.Assets {
		if a.WGS84Bounds == nil {
			continue
		}
		b := a.WGS84Bounds
		if b[0] < res.BBox[0] || b[1] < res.BBox[1] || b[2] > res.BBox[2] || b[3] > res.BBox[3] {
			t.Errorf("asset %s bounds %v not contained in dataset bbox %v", a.RelPath, *b, *res.BBox)
		}
	}
	if math.Abs(res.BBox[2]+119.996) > 1e-9 || res.BBox[3] < 36 {
		t.Errorf("BBox = %v, want east -119.996 and north above 36", *res.BBox)
	}

	img := res.Assets[0]
	if img.RelPath != trainImage {
		t.Fatalf("Assets[0].RelPath = %q, want %q", img.RelPath, trainImage)
	}
	if img.Width != 4 || img.Height != 2 || img.Count != 2 || img.DataType != "uint16" {
		t.Errorf("raster = %dx%dx%d %s, want 4x2x2 uint16", img.Width, img.Height, img.Count, img.DataType)
	}
	if img.EPSG != 32610 || img.CRSUnits != "m" {
		t.Errorf("CRS = %d %s, want 32610 m", img.EPSG, img.CRSUnits)
	}
	if diff := cmp.Diff(&[2]float64{30, 30}, img.Resolution); diff != "" {
		t.Errorf("Resolution mismatch (-want +got):\n%s", diff)
	}
	if img.Tags["AUTHOR"] != "Jane Doe" {
		t.Errorf("Tags[AUTHOR] = %q, want Jane Doe", img.Tags["AUTHOR"])
	}
	if len(img.SHA256) != 64 {
		t.Errorf("SHA256 = %q, want 64 hex chars", img.SHA256)
	}
	if img.Bands[0].Description != "Blue" || img.Bands[1].Description != "" {
		t.Errorf("band descriptions = %q, %q, want Blue and empty", img.Bands[0].Description, img.Bands[1].Description)
	}
	if st := img.Bands[1].Statistics; st == nil || st.Min != 10 || st.Max != 13 {
		t.Errorf("Bands[1].Statistics = %+v, want min 10 max 13", st)
	}

	if got := res.Images(); len(got) != 2 {
		t.Errorf("len(Images()) = %d, want 2", len(got))
	}
	if got := res.Masks(); len(got) != 1 || got[0].RelPath != trainMask {
		t.Errorf("Masks() = %v, want [%s]", got, trainMask)
	}
	if len(res.Digest()) != 64 {
		t.Errorf("Digest() = %q, want 64 hex chars", res.Digest())
	}
}

func TestExtractDateFromTag(t *testing.T) {
	dir := t.TempDir()
	geographicTile().WriteFile(t, dir, "scene.tif")
	res, err := Extract(context.Background(), store.NewDiskStore(dir), ".", defaultOptions())
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	want := time.Date(2019, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !res.Start.Equal(want) || !res.End.Equal(want) {
		t.Errorf("temporal range = %v..%v, want %v", res.Start, res.End, want)
	}
	if res.TemporalResolutionDays != 0 {
		t.Errorf("TemporalResolutionDays = %v, want 0", res.TemporalResolutionDays)
	}
	if res.Assets[0].Split != SplitUnknown {
		t.Errorf("Split = %q, want %q", res.Assets[0].Split, SplitUnknown)
	}
}

func TestExtractStrict(t *testing.T) {
	dir := writeDataset(t)
	opts := defaultOptions()
	opts.Strict = true
	_, err := Extract(context.Background(), store.NewDiskStore(dir), ".", opts)
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("Extract() error = %v, want ErrExtraction", err)
	}
}

func TestExtractFilter(t *testing.T) {
	dir := writeDataset(t)
	f, err := filter.Compile(`asset.split == "validation"`)
	if err != nil {
		t.Fatal(err)
	}
	opts := defaultOptions()
	opts.Filter = f
	res, err := Extract(context.Background(), store.NewDiskStore(dir), ".", opts)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if len(res.Assets) != 1 || res.Assets[0].RelPath != valImage {
		t.Errorf("Assets = %v, want only %s", res.Assets, valImage)
	}
	// Filtered files are never decoded, so the broken test file is not skipped.
	if len(res.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none", res.Skipped)
	}
}

// countingStore records the files read through it.
type countingStore struct {
	store.Store
	read []string
}

func (c *countingStore) ReadFile(ctx context.Context, p string) ([]byte, error) {
	c.read = append(c.read, p)
	return c.Store.ReadFile(ctx, p)
}

func TestExtractFilterBeforeRead(t *testing.T) {
	dir := writeDataset(t)
	tests := []struct {
		name     string
		expr     string
		wantRead []string
	}{
		{"by split", `asset.split == "validation"`, []string{valImage}},
		{"by size", `asset.size > 100`, []string{trainMask, trainImage, valImage}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := filter.Compile(tc.expr)
			if err != nil {
				t.Fatal(err)
			}
			opts := defaultOptions()
			opts.Filter = f
			st := &countingStore{Store: store.NewDiskStore(dir)}
			if _, err := Extract(context.Background(), st, ".", opts); err != nil {
				t.Fatalf("Extract() failed: %v", err)
			}
			if diff := cmp.Diff(tc.wantRead, st.read); diff != "" {
				t.Errorf("files read mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractSkipsInvalidTileSize(t *testing.T) {
	dir := t.TempDir()
	utmTile().WriteFile(t, dir, trainImage)
	testutil.GeoTIFF{
		Width:     4,
		Height:    2,
		ExtraTags: map[uint16]uint32{322: 0, 323: 0},
	}.WriteFile(t, dir, "training/zero_tiles_merged.tif")

	res, err := Extract(context.Background(), store.NewDiskStore(dir), ".", defaultOptions())
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"training/zero_tiles_merged.tif"}, res.Skipped); diff != "" {
		t.Errorf("Skipped mismatch (-want +got):\n%s", diff)
	}
	if len(res.Assets) != 1 || res.Assets[0].RelPath != trainImage {
		t.Errorf("Assets = %v, want only %s", res.Assets, trainImage)
	}

	opts := defaultOptions()
	opts.Strict = true
	if _, err := Extract(context.Background(), store.NewDiskStore(dir), ".", opts); !errors.Is(err, ErrExtraction) {
		t.Errorf("Extract() with Strict error = %v, want ErrExtraction", err)
	}
}

func TestExtractErrors(t *testing.T) {
	empty := t.TempDir()
	if err := os.WriteFile(filepath.Join(empty, "readme.md"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	broken := t.TempDir()
	if err := os.WriteFile(filepath.Join(broken, "a.tif"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		root    string
		dir     string
		wantErr error
	}{
		{"no assets", empty, ".", ErrNoAssets},
		{"missing dir", empty, "does-not-exist", ErrUnreadable},
		{"all broken", broken, ".", ErrExtraction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Extract(context.Background(), store.NewDiskStore(tc.root), tc.dir, defaultOptions())
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Extract() error = %v, want %v", err, tc.wantErr)
			}
			if !errors.Is(err, ErrExtraction) {
				t.Errorf("Extract() error = %v, want it to wrap ErrExtraction", err)
			}
		})
	}
}

func TestExtractSubdir(t *testing.T) {
	root := t.TempDir()
	utmTile().WriteFile(t, root, "hls_burn_scars/"+trainImage)
	res, err := Extract(context.Background(), store.NewDiskStore(root), "hls_burn_scars", defaultOptions())
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	a := res.Assets[0]
	if a.Path != "hls_burn_scars/"+trainImage || a.RelPath != trainImage {
		t.Errorf("Path, RelPath = %q, %q", a.Path, a.RelPath)
	}
	if a.Split != SplitTraining {
		t.Errorf("Split = %q, want %q", a.Split, SplitTraining)
	}
}

func TestCache(t *testing.T) {
	dir := writeDataset(t)
	st := store.NewDiskStore(dir)
	ctx := context.Background()
	res, err := Extract(ctx, st, ".", defaultOptions())
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if err := SaveCache(ctx, st, res); err != nil {
		t.Fatalf("SaveCache() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CacheFile)); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}
	got, err := LoadCache(ctx, st, ".")
	if err != nil {
		t.Fatalf("LoadCache() failed: %v", err)
	}
	if diff := cmp.Diff(res, got); diff != "" {
		t.Errorf("LoadCache() mismatch (-want +got):\n%s", diff)
	}
}
