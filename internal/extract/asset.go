package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"

	"github.com/dnswlt/geocr/internal/crs"
	"github.com/dnswlt/geocr/internal/filter"
	"github.com/dnswlt/geocr/internal/geotiff"
	"github.com/paulmach/orb"
)

func extractAsset(data []byte, attrs filter.Attributes, opts Options) (*Asset, error) {
	im, err := geotiff.Decode(data)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	a := &Asset{
		RelPath:      attrs.Path,
		Name:         attrs.Name,
		Split:        attrs.Split,
		Kind:         attrs.Kind,
		Size:         attrs.Size,
		SHA256:       hex.EncodeToString(sum[:]),
		Width:        im.Width,
		Height:       im.Height,
		Count:        im.SamplesPerPixel,
		DataType:     im.DataType(),
		Compression:  im.CompressionName(),
		Interleaving: im.Interleaving(),
		BlockShape:   [2]int{im.BlockHeight, im.BlockWidth},
		NoData:       im.NoData,
		Tags:         tags(im),
	}

	georeference(a, im)

	if d, ok := DateFromName(a.Name); ok {
		a.Date = d
	} else if d, ok := DateFromTag(im.DateTime); ok {
		a.Date = d
	}
	if opts.DetectSensor {
		a.Sensor = SensorOf(a.Name)
	}

	var stats []*geotiff.Statistics
	if opts.ComputeStatistics {
		stats = bandStatistics(a.RelPath, im)
	}
	for b := 0; b < im.SamplesPerPixel; b++ {
		band := Band{
			Index:       b + 1,
			Description: im.Metadata.BandDescription(b),
			DataType:    a.DataType,
			NoData:      im.NoData,
		}
		if b < len(stats) {
			band.Statistics = stats[b]
		}
		a.Bands = append(a.Bands, band)
	}
	return a, nil
}

func georeference(a *Asset, im *geotiff.Image) {
	tr, err := im.Transform()
	if errors.Is(err, geotiff.ErrNoGeoreference) {
		return
	}
	a.Transform = tr.Coefficients()
	bounds, _ := im.Bounds()
	a.Bounds = &bounds
	rx, ry, _ := im.Resolution()
	a.Resolution = &[2]float64{rx, ry}

	if im.GeoKeys.Len() == 0 {
		return
	}
	c := crs.Resolve(im.GeoKeys)
	a.CRS = c.String()
	a.EPSG = c.EPSG
	a.CRSUnits = c.Units
	if !c.Known() {
		log.Printf("Warning: %s: could not determine EPSG code (citation %q)", a.RelPath, c.Citation)
		return
	}
	nb := orb.Bound{Min: orb.Point{bounds[0], bounds[1]}, Max: orb.Point{bounds[2], bounds[3]}}
	wb, err := crs.ToWGS84(c.EPSG, nb)
	if err != nil {
		log.Printf("Warning: %s: no WGS84 bounds: %v", a.RelPath, err)
		return
	}
	a.WGS84Bounds = &[4]float64{wb.Min.X(), wb.Min.Y(), wb.Max.X(), wb.Max.Y()}
}

// bandStatistics computes statistics from pixel data where possible and
// falls back to the values GDAL stored in the file.
func bandStatistics(rel string, im *geotiff.Image) []*geotiff.Statistics {
	if im.CanComputeStatistics() {
		stats, err := im.ComputeStatistics()
		if err == nil {
			return stats
		}
		log.Printf("Warning: %s: cannot compute statistics: %v", rel, err)
	}
	stats := make([]*geotiff.Statistics, im.SamplesPerPixel)
	for b := range stats {
		if st, ok := im.Metadata.BandStatistics(b); ok {
			stats[b] = &st
		}
	}
	return stats
}

func tags(im *geotiff.Image) map[string]string {
	t := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			t[k] = v
		}
	}
	set("DateTime", im.DateTime)
	set("Artist", im.Artist)
	set("ImageDescription", im.Description)
	set("Software", im.Software)
	if im.Metadata != nil {
		for k, v := range im.Metadata.Dataset {
			set(k, v)
		}
	}
	if len(t) == 0 {
		return nil
	}
	return t
}
