// Package geotiff reads the header of GeoTIFF rasters: raster layout,
// georeferencing tags, GeoKeys and GDAL metadata. Pixel data is only
// touched when band statistics are requested.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/tiff"
)

// Baseline and GeoTIFF tag IDs.
const (
	TagImageWidth          = 256
	TagImageLength         = 257
	TagBitsPerSample       = 258
	TagCompression         = 259
	TagImageDescription    = 270
	TagStripOffsets        = 273
	TagSamplesPerPixel     = 277
	TagRowsPerStrip        = 278
	TagStripByteCounts     = 279
	TagPlanarConfiguration = 284
	TagSoftware            = 305
	TagDateTime            = 306
	TagArtist              = 315
	TagPredictor           = 317
	TagTileWidth           = 322
	TagTileLength          = 323
	TagTileOffsets         = 324
	TagTileByteCounts      = 325
	TagSampleFormat        = 339

	TagModelPixelScale     = 33550
	TagModelTiepoint       = 33922
	TagModelTransformation = 34264
	TagGeoKeyDirectory     = 34735
	TagGeoDoubleParams     = 34736
	TagGeoASCIIParams      = 34737
	TagGDALMetadata        = 42112
	TagGDALNoData          = 42113
)

var (
	ErrNotTIFF        = errors.New("not a TIFF file")
	ErrNoGeoreference = errors.New("no georeferencing tags")
)

// Affine maps pixel (col, row) to model coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C, D, E, F float64
}

// Apply returns the model coordinates of pixel corner (col, row).
func (a Affine) Apply(col, row float64) (x, y float64) {
	return a.A*col + a.B*row + a.C, a.D*col + a.E*row + a.F
}

// Coefficients returns the six coefficients in row-major order.
func (a Affine) Coefficients() []float64 {
	return []float64{a.A, a.B, a.C, a.D, a.E, a.F}
}

// Image is the decoded first IFD of a TIFF file.
type Image struct {
	Width, Height   int
	SamplesPerPixel int
	BitsPerSample   []int
	SampleFormat    int // 1 = uint, 2 = int, 3 = float
	Compression     int
	Predictor       int
	Planar          bool
	Tiled           bool
	BlockWidth      int
	BlockHeight     int

	NoData *float64

	PixelScale          []float64
	Tiepoints           []float64
	ModelTransformation []float64

	GeoKeys  GeoKeys
	Metadata *Metadata

	DateTime    string
	Artist      string
	Description string
	Software    string

	order      binary.ByteOrder
	offsets    []int64
	byteCounts []int64
	data       []byte
}

type tagSet map[uint16]*tiff.Tag

func (ts tagSet) ints(id uint16) ([]int64, error) {
	t, ok := ts[id]
	if !ok {
		return nil, nil
	}
	vs := make([]int64, int(t.Count))
	for i := range vs {
		v, err := t.Int64(i)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", id, err)
		}
		vs[i] = v
	}
	return vs, nil
}

func (ts tagSet) int(id uint16, def int) (int, error) {
	vs, err := ts.ints(id)
	if err != nil || len(vs) == 0 {
		return def, err
	}
	return int(vs[0]), nil
}

func (ts tagSet) floats(id uint16) ([]float64, error) {
	t, ok := ts[id]
	if !ok {
		return nil, nil
	}
	vs := make([]float64, int(t.Count))
	for i := range vs {
		v, err := t.Float(i)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", id, err)
		}
		vs[i] = v
	}
	return vs, nil
}

func (ts tagSet) str(id uint16) string {
	t, ok := ts[id]
	if !ok {
		return ""
	}
	s, err := t.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimRight(s, "\x00 ")
}

// Decode parses the first image directory of data. data must hold the
// complete file if statistics are going to be computed.
func Decode(data []byte) (*Image, error) {
	tf, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTIFF, err)
	}
	if len(tf.Dirs) == 0 {
		return nil, fmt.Errorf("%w: no image directory", ErrNotTIFF)
	}
	ts := make(tagSet)
	for _, t := range tf.Dirs[0].Tags {
		ts[t.Id] = t
	}

	im := &Image{
		order: tf.Order,
		data:  data,
	}
	if im.Width, err = ts.int(TagImageWidth, 0); err != nil {
		return nil, err
	}
	if im.Height, err = ts.int(TagImageLength, 0); err != nil {
		return nil, err
	}
	if im.Width <= 0 || im.Height <= 0 {
		return nil, fmt.Errorf("%w: missing image dimensions", ErrNotTIFF)
	}
	if im.SamplesPerPixel, err = ts.int(TagSamplesPerPixel, 1); err != nil {
		return nil, err
	}
	bps, err := ts.ints(TagBitsPerSample)
	if err != nil {
		return nil, err
	}
	for _, b := range bps {
		im.BitsPerSample = append(im.BitsPerSample, int(b))
	}
	if len(im.BitsPerSample) == 0 {
		im.BitsPerSample = []int{1}
	}
	if im.SampleFormat, err = ts.int(TagSampleFormat, 1); err != nil {
		return nil, err
	}
	if im.Compression, err = ts.int(TagCompression, 1); err != nil {
		return nil, err
	}
	if im.Predictor, err = ts.int(TagPredictor, 1); err != nil {
		return nil, err
	}
	planar, err := ts.int(TagPlanarConfiguration, 1)
	if err != nil {
		return nil, err
	}
	im.Planar = planar == 2

	if _, ok := ts[TagTileWidth]; ok {
		im.Tiled = true
		if im.BlockWidth, err = ts.int(TagTileWidth, 0); err != nil {
			return nil, err
		}
		if im.BlockHeight, err = ts.int(TagTileLength, 0); err != nil {
			return nil, err
		}
		if im.BlockWidth <= 0 || im.BlockHeight <= 0 {
			return nil, fmt.Errorf("%w: invalid tile size %dx%d", ErrNotTIFF, im.BlockWidth, im.BlockHeight)
		}
		if im.offsets, err = ts.ints(TagTileOffsets); err != nil {
			return nil, err
		}
		if im.byteCounts, err = ts.ints(TagTileByteCounts); err != nil {
			return nil, err
		}
	} else {
		im.BlockWidth = im.Width
		if im.BlockHeight, err = ts.int(TagRowsPerStrip, im.Height); err != nil {
			return nil, err
		}
		if im.BlockHeight <= 0 || im.BlockHeight > im.Height {
			im.BlockHeight = im.Height
		}
		if im.offsets, err = ts.ints(TagStripOffsets); err != nil {
			return nil, err
		}
		if im.byteCounts, err = ts.ints(TagStripByteCounts); err != nil {
			return nil, err
		}
	}

	if im.PixelScale, err = ts.floats(TagModelPixelScale); err != nil {
		return nil, err
	}
	if im.Tiepoints, err = ts.floats(TagModelTiepoint); err != nil {
		return nil, err
	}
	if im.ModelTransformation, err = ts.floats(TagModelTransformation); err != nil {
		return nil, err
	}

	dir, err := ts.ints(TagGeoKeyDirectory)
	if err != nil {
		return nil, err
	}
	dbl, err := ts.floats(TagGeoDoubleParams)
	if err != nil {
		return nil, err
	}
	im.GeoKeys, err = parseGeoKeys(dir, dbl, ts.str(TagGeoASCIIParams))
	if err != nil {
		return nil, err
	}

	if s := ts.str(TagGDALMetadata); s != "" {
		md, err := ParseMetadata(s)
		if err != nil {
			return nil, err
		}
		im.Metadata = md
	}
	if s := ts.str(TagGDALNoData); s != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			im.NoData = &v
		}
	}

	im.DateTime = ts.str(TagDateTime)
	im.Artist = ts.str(TagArtist)
	im.Description = ts.str(TagImageDescription)
	im.Software = ts.str(TagSoftware)

	return im, nil
}

// DataType returns the sample type in numpy notation, e.g. "uint16" or "float32".
func (im *Image) DataType() string {
	bits := im.BitsPerSample[0]
	switch im.SampleFormat {
	case 2:
		return fmt.Sprintf("int%d", bits)
	case 3:
		return fmt.Sprintf("float%d", bits)
	default:
		return fmt.Sprintf("uint%d", bits)
	}
}

// CompressionName returns a lowercase name for the compression scheme.
func (im *Image) CompressionName() string {
	switch im.Compression {
	case 1:
		return "none"
	case 2:
		return "ccittrle"
	case 5:
		return "lzw"
	case 6, 7:
		return "jpeg"
	case 8, 32946:
		return "deflate"
	case 32773:
		return "packbits"
	case 34887:
		return "lerc"
	case 34925:
		return "lzma"
	case 50000:
		return "zstd"
	case 50001:
		return "webp"
	default:
		return fmt.Sprintf("unknown(%d)", im.Compression)
	}
}

// Interleaving returns "band" for planar images and "pixel" otherwise.
func (im *Image) Interleaving() string {
	if im.Planar {
		return "band"
	}
	return "pixel"
}

// Transform returns the pixel-to-model transform. It prefers
// ModelTransformation and otherwise combines the first tie point with
// the pixel scale.
func (im *Image) Transform() (Affine, error) {
	if m := im.ModelTransformation; len(m) >= 8 {
		return Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}, nil
	}
	if len(im.PixelScale) >= 2 && len(im.Tiepoints) >= 6 {
		sx, sy := im.PixelScale[0], im.PixelScale[1]
		i, j := im.Tiepoints[0], im.Tiepoints[1]
		x, y := im.Tiepoints[3], im.Tiepoints[4]
		return Affine{
			A: sx, B: 0, C: x - i*sx,
			D: 0, E: -sy, F: y + j*sy,
		}, nil
	}
	return Affine{}, ErrNoGeoreference
}

// Resolution returns the absolute pixel size in model units.
func (im *Image) Resolution() (float64, float64, error) {
	a, err := im.Transform()
	if err != nil {
		return 0, 0, err
	}
	return math.Hypot(a.A, a.D), math.Hypot(a.B, a.E), nil
}

// Bounds returns the model-space extent (minX, minY, maxX, maxY) of the image.
func (im *Image) Bounds() ([4]float64, error) {
	a, err := im.Transform()
	if err != nil {
		return [4]float64{}, err
	}
	w, h := float64(im.Width), float64(im.Height)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := a.Apply(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return [4]float64{minX, minY, maxX, maxY}, nil
}
