package geotiff

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"math"
)

var ErrUnsupportedLayout = errors.New("unsupported pixel layout")

// Statistics summarizes the valid pixels of one band. Std is the
// population standard deviation.
type Statistics struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

type accumulator struct {
	n          int
	sum, sumSq float64
	min, max   float64
}

func (a *accumulator) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if a.n == 0 {
		a.min, a.max = v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.n++
	a.sum += v
	a.sumSq += v * v
}

func (a *accumulator) stats() (Statistics, bool) {
	if a.n == 0 {
		return Statistics{}, false
	}
	mean := a.sum / float64(a.n)
	variance := a.sumSq/float64(a.n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Statistics{Min: a.min, Max: a.max, Mean: mean, Std: math.Sqrt(variance)}, true
}

// CanComputeStatistics reports whether ComputeStatistics supports the
// image's compression and sample layout.
func (im *Image) CanComputeStatistics() bool {
	switch im.Compression {
	case 1, 8, 32946:
	default:
		return false
	}
	if im.Predictor > 1 {
		return false
	}
	if im.BlockWidth <= 0 || im.BlockHeight <= 0 {
		return false
	}
	bits := im.BitsPerSample[0]
	for _, b := range im.BitsPerSample {
		if b != bits {
			return false
		}
	}
	switch im.SampleFormat {
	case 1, 2:
		return bits == 8 || bits == 16 || bits == 32 || bits == 64
	case 3:
		return bits == 32 || bits == 64
	}
	return false
}

// ComputeStatistics reads all pixels and returns per-band statistics.
// Nodata and NaN samples are skipped. A nil entry means the band has no
// valid pixels.
func (im *Image) ComputeStatistics() ([]*Statistics, error) {
	if !im.CanComputeStatistics() {
		return nil, fmt.Errorf("%w: compression %s, %s", ErrUnsupportedLayout, im.CompressionName(), im.DataType())
	}
	bands := im.SamplesPerPixel
	bytesPer := im.BitsPerSample[0] / 8
	across := (im.Width + im.BlockWidth - 1) / im.BlockWidth
	down := (im.Height + im.BlockHeight - 1) / im.BlockHeight
	perBand := across * down
	want := perBand
	if im.Planar {
		want = perBand * bands
	}
	if len(im.offsets) < want || len(im.byteCounts) < want {
		return nil, fmt.Errorf("%w: expected %d chunks, found %d", ErrUnsupportedLayout, want, len(im.offsets))
	}

	accs := make([]accumulator, bands)
	for c := 0; c < want; c++ {
		k, band0, spp := c, 0, bands
		if im.Planar {
			k, band0, spp = c%perBand, c/perBand, 1
		}
		chunk, err := im.chunk(c)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c, err)
		}
		x0 := (k % across) * im.BlockWidth
		y0 := (k / across) * im.BlockHeight
		for j := 0; j < im.BlockHeight; j++ {
			y := y0 + j
			if y >= im.Height {
				break
			}
			for i := 0; i < im.BlockWidth; i++ {
				x := x0 + i
				if x >= im.Width {
					// Strips hold exactly Width samples per row, tiles are padded.
					if im.Tiled {
						continue
					}
					break
				}
				base := ((j*im.BlockWidth + i) * spp) * bytesPer
				for s := 0; s < spp; s++ {
					off := base + s*bytesPer
					if off+bytesPer > len(chunk) {
						return nil, fmt.Errorf("%w: chunk %d is truncated", ErrUnsupportedLayout, c)
					}
					v := im.sample(chunk[off : off+bytesPer])
					if im.NoData != nil && v == *im.NoData {
						continue
					}
					accs[band0+s].add(v)
				}
			}
		}
	}

	result := make([]*Statistics, bands)
	for b := range accs {
		if st, ok := accs[b].stats(); ok {
			result[b] = &st
		}
	}
	return result, nil
}

func (im *Image) chunk(c int) ([]byte, error) {
	off, n := im.offsets[c], im.byteCounts[c]
	if off < 0 || n < 0 || off+n > int64(len(im.data)) {
		return nil, fmt.Errorf("%w: chunk out of file bounds", ErrUnsupportedLayout)
	}
	raw := im.data[off : off+n]
	if im.Compression == 1 {
		return raw, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (im *Image) sample(b []byte) float64 {
	switch len(b) {
	case 1:
		if im.SampleFormat == 2 {
			return float64(int8(b[0]))
		}
		return float64(b[0])
	case 2:
		u := im.order.Uint16(b)
		if im.SampleFormat == 2 {
			return float64(int16(u))
		}
		return float64(u)
	case 4:
		u := im.order.Uint32(b)
		switch im.SampleFormat {
		case 2:
			return float64(int32(u))
		case 3:
			return float64(math.Float32frombits(u))
		}
		return float64(u)
	default:
		u := im.order.Uint64(b)
		switch im.SampleFormat {
		case 2:
			return float64(int64(u))
		case 3:
			return math.Float64frombits(u)
		}
		return float64(u)
	}
}
