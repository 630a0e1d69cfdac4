// Package extract scans a directory of GeoTIFF assets and derives the
// per-asset and dataset-level metadata a GeoCroissant record is built from.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dnswlt/geocr/internal/filter"
	"github.com/dnswlt/geocr/internal/geotiff"
	"github.com/dnswlt/geocr/internal/store"
	"github.com/paulmach/orb"
)

var (
	ErrExtraction = errors.New("extraction failed")
	ErrUnreadable = fmt.Errorf("%w: unreadable asset directory", ErrExtraction)
	ErrNoAssets   = fmt.Errorf("%w: no recognizable assets", ErrExtraction)
)

// Options control what Extract computes.
type Options struct {
	ComputeStatistics bool
	DetectSensor      bool
	// Filter selects assets. Nil selects all.
	Filter *filter.Filter
	// Strict aborts on the first asset that cannot be decoded instead of
	// skipping it.
	Strict bool
}

// Band describes one raster band of an asset.
type Band struct {
	Index       int                 `json:"index"` // 1-based
	Description string              `json:"description,omitempty"`
	DataType    string              `json:"dtype"`
	NoData      *float64            `json:"nodata,omitempty"`
	Statistics  *geotiff.Statistics `json:"statistics,omitempty"`
}

// Asset is the metadata of a single GeoTIFF file.
type Asset struct {
	Path    string `json:"path"`    // relative to the store root
	RelPath string `json:"relPath"` // relative to the scanned directory
	Name    string `json:"name"`
	Split   string `json:"split"`
	Kind    string `json:"kind"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`

	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Count        int      `json:"count"`
	DataType     string   `json:"dtype"`
	Compression  string   `json:"compression"`
	Interleaving string   `json:"interleaving"`
	BlockShape   [2]int   `json:"blockShape"` // rows, cols
	NoData       *float64 `json:"nodata,omitempty"`

	Transform   []float64   `json:"transform,omitempty"`
	Bounds      *[4]float64 `json:"bounds,omitempty"` // native CRS: minX, minY, maxX, maxY
	Resolution  *[2]float64 `json:"resolution,omitempty"`
	CRS         string      `json:"crs,omitempty"`
	EPSG        int         `json:"epsg,omitempty"`
	CRSUnits    string      `json:"crsUnits,omitempty"`
	WGS84Bounds *[4]float64 `json:"wgs84Bounds,omitempty"` // west, south, east, north

	Tags   map[string]string `json:"tags,omitempty"`
	Bands  []Band            `json:"bands"`
	Date   time.Time         `json:"date,omitzero"`
	Sensor string            `json:"sensor,omitempty"`
}

// Result is the outcome of scanning one directory.
type Result struct {
	Dir    string   `json:"dir"`
	Assets []*Asset `json:"assets"`
	// Splits maps split -> kind -> relative paths.
	Splits  map[string]map[string][]string `json:"splits"`
	Skipped []string                       `json:"skipped,omitempty"`

	// BBox is the union of all asset extents in WGS84 (west, south, east, north).
	BBox    *[4]float64 `json:"bbox,omitempty"`
	CRSs    []string    `json:"crs,omitempty"`
	Sensors []string    `json:"sensors,omitempty"`
	Start   time.Time   `json:"start,omitzero"`
	End     time.Time   `json:"end,omitzero"`
	// TemporalResolutionDays is the median gap between distinct acquisition
	// dates. Zero if fewer than two dates are known.
	TemporalResolutionDays float64 `json:"temporalResolutionDays,omitempty"`
}

func relativeTo(dir, p string) string {
	if dir == "" || dir == "." {
		return p
	}
	return strings.TrimPrefix(p, strings.TrimSuffix(dir, "/")+"/")
}

// Extract scans dir in st for GeoTIFF files and extracts their metadata.
func Extract(ctx context.Context, st store.Store, dir string, opts Options) (*Result, error) {
	files, err := st.ListFiles(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnreadable, dir, err)
	}
	sort.Strings(files)

	res := &Result{
		Dir:    dir,
		Splits: make(map[string]map[string][]string),
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isTIFF(p) {
			continue
		}
		rel := relativeTo(dir, p)
		size, err := st.FileSize(ctx, p)
		if err != nil {
			if err := res.skip(rel, err, opts.Strict); err != nil {
				return nil, err
			}
			continue
		}
		attrs := filter.Attributes{
			Path:  rel,
			Name:  path.Base(p),
			Split: SplitOf(rel),
			Kind:  KindOf(path.Base(p)),
			Size:  size,
		}
		ok, err := opts.Filter.Match(attrs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		if !ok {
			continue
		}
		data, err := st.ReadFile(ctx, p)
		if err != nil {
			if err := res.skip(rel, err, opts.Strict); err != nil {
				return nil, err
			}
			continue
		}
		a, err := extractAsset(data, attrs, opts)
		if err != nil {
			if err := res.skip(rel, err, opts.Strict); err != nil {
				return nil, err
			}
			continue
		}
		a.Path = p
		res.add(a)
	}

	if len(res.Assets) == 0 {
		if len(res.Skipped) > 0 {
			return nil, fmt.Errorf("%w: none of %d assets in %q could be read", ErrExtraction, len(res.Skipped), dir)
		}
		return nil, fmt.Errorf("%w in %q", ErrNoAssets, dir)
	}
	res.summarize()
	log.Printf("Extracted metadata from %d assets in %q (%d skipped)", len(res.Assets), dir, len(res.Skipped))
	return res, nil
}

func (r *Result) skip(rel string, err error, strict bool) error {
	if strict {
		return fmt.Errorf("%w: %s: %v", ErrExtraction, rel, err)
	}
	log.Printf("Warning: skipping %s: %v", rel, err)
	r.Skipped = append(r.Skipped, rel)
	return nil
}

func (r *Result) add(a *Asset) {
	r.Assets = append(r.Assets, a)
	kinds := r.Splits[a.Split]
	if kinds == nil {
		kinds = make(map[string][]string)
		r.Splits[a.Split] = kinds
	}
	kinds[a.Kind] = append(kinds[a.Kind], a.RelPath)
}

// summarize computes the dataset-level union over all assets.
func (r *Result) summarize() {
	var bound orb.Bound
	hasBound := false
	crsSeen := make(map[string]bool)
	sensorSeen := make(map[string]bool)
	dateSeen := make(map[time.Time]bool)
	var dates []time.Time

	for _, a := range r.Assets {
		if b := a.WGS84Bounds; b != nil {
			ab := orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
			if hasBound {
				bound = bound.Union(ab)
			} else {
				bound, hasBound = ab, true
			}
		}
		if a.CRS != "" && !crsSeen[a.CRS] {
			crsSeen[a.CRS] = true
			r.CRSs = append(r.CRSs, a.CRS)
		}
		if a.Sensor != "" && !sensorSeen[a.Sensor] {
			sensorSeen[a.Sensor] = true
			r.Sensors = append(r.Sensors, a.Sensor)
		}
		if !a.Date.IsZero() && !dateSeen[a.Date] {
			dateSeen[a.Date] = true
			dates = append(dates, a.Date)
		}
	}
	if hasBound {
		r.BBox = &[4]float64{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()}
	}
	slices.Sort(r.CRSs)
	slices.Sort(r.Sensors)
	if len(dates) == 0 {
		return
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	r.Start, r.End = dates[0], dates[len(dates)-1]
	r.TemporalResolutionDays = medianGapDays(dates)
}

func medianGapDays(sorted []time.Time) float64 {
	if len(sorted) < 2 {
		return 0
	}
	gaps := make([]float64, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps[i-1] = sorted[i].Sub(sorted[i-1]).Hours() / 24
	}
	slices.Sort(gaps)
	m := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[m]
	}
	return (gaps[m-1] + gaps[m]) / 2
}

// Images returns the assets of kind images, in path order.
func (r *Result) Images() []*Asset {
	return r.ofKind(KindImages)
}

// Masks returns the assets of kind masks, in path order.
func (r *Result) Masks() []*Asset {
	return r.ofKind(KindMasks)
}

func (r *Result) ofKind(kind string) []*Asset {
	var as []*Asset
	for _, a := range r.Assets {
		if a.Kind == kind {
			as = append(as, a)
		}
	}
	return as
}

// Digest returns a SHA-256 over the relative paths and content digests of
// all assets, identifying the directory's contents as a whole.
func (r *Result) Digest() string {
	h := sha256.New()
	for _, a := range r.Assets {
		fmt.Fprintf(h, "%s:%s\n", a.RelPath, a.SHA256)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TotalSize returns the summed size of all assets in bytes.
func (r *Result) TotalSize() int64 {
	var n int64
	for _, a := range r.Assets {
		n += a.Size
	}
	return n
}
