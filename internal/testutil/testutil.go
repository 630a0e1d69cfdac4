// Package testutil builds fixtures shared by tests of several packages:
// small synthetic GeoTIFF files and throw-away git repositories.
package testutil

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// TIFF field types used by the encoder.
const (
	typeShort  = 3
	typeLong   = 4
	typeASCII  = 2
	typeDouble = 12
)

// GeoTIFF describes a synthetic single-image GeoTIFF. Zero values get
// sensible defaults: one band, 16-bit unsigned samples, one strip per band.
type GeoTIFF struct {
	Width, Height int
	Bands         int
	BitsPerSample int
	SampleFormat  int // 1 = uint, 2 = int, 3 = float
	Planar        bool
	Deflate       bool

	PixelScale []float64 // ModelPixelScaleTag (sx, sy, sz)
	Tiepoint   []float64 // ModelTiepointTag (i, j, k, x, y, z)
	GeoKeys    []uint16  // GeoKeyDirectoryTag, see EPSGKeys
	GeoASCII   string    // GeoAsciiParamsTag

	GDALMetadata string // GDAL_METADATA XML
	NoData       string // GDAL_NODATA
	DateTime     string // "2006:01:02 15:04:05"
	Artist       string

	// ExtraTags are written as single LONG values, e.g. to produce
	// malformed files.
	ExtraTags map[uint16]uint32

	// Pixel returns the value of band b at (x, y). Nil means all zeros.
	Pixel func(b, x, y int) float64
}

// EPSGKeys returns a GeoKeyDirectory for a CRS identified by an EPSG code.
// Geographic codes (4xxx) set GTModelType=2 and GeographicType, everything
// else GTModelType=1 and ProjectedCSType.
func EPSGKeys(code uint16) []uint16 {
	model, key := uint16(1), uint16(3072)
	if code >= 4000 && code < 5000 {
		model, key = 2, 2048
	}
	return []uint16{
		1, 1, 0, 3,
		1024, 0, 1, model,
		1025, 0, 1, 1,
		key, 0, 1, code,
	}
}

// CitationKeys returns a GeoKeyDirectory for a user-defined projected CRS
// that only carries a citation string in GeoAsciiParams, plus the ASCII params.
func CitationKeys(citation string) ([]uint16, string) {
	ascii := citation + "|"
	return []uint16{
		1, 1, 0, 3,
		1024, 0, 1, 1,
		3072, 0, 1, 32767,
		3073, 34737, uint16(len(ascii)), 0,
	}, ascii
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

func longs(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func doubles(vs ...float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func (g *GeoTIFF) defaults() {
	if g.Width == 0 {
		g.Width = 4
	}
	if g.Height == 0 {
		g.Height = 4
	}
	if g.Bands == 0 {
		g.Bands = 1
	}
	if g.BitsPerSample == 0 {
		g.BitsPerSample = 16
	}
	if g.SampleFormat == 0 {
		g.SampleFormat = 1
	}
}

func (g *GeoTIFF) putSample(buf *bytes.Buffer, v float64) {
	var tmp [8]byte
	switch {
	case g.SampleFormat == 3 && g.BitsPerSample == 32:
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(float32(v)))
		buf.Write(tmp[:4])
	case g.SampleFormat == 3 && g.BitsPerSample == 64:
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
		buf.Write(tmp[:8])
	case g.BitsPerSample == 8:
		if g.SampleFormat == 2 {
			buf.WriteByte(byte(int8(v)))
		} else {
			buf.WriteByte(uint8(v))
		}
	case g.BitsPerSample == 16:
		if g.SampleFormat == 2 {
			binary.LittleEndian.PutUint16(tmp[:], uint16(int16(v)))
		} else {
			binary.LittleEndian.PutUint16(tmp[:], uint16(v))
		}
		buf.Write(tmp[:2])
	case g.BitsPerSample == 32:
		if g.SampleFormat == 2 {
			binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
		} else {
			binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		}
		buf.Write(tmp[:4])
	}
}

func (g *GeoTIFF) pixel(b, x, y int) float64 {
	if g.Pixel == nil {
		return 0
	}
	return g.Pixel(b, x, y)
}

// strips returns the raw (possibly compressed) strip payloads.
// Chunky images have a single strip; planar images have one strip per band.
func (g *GeoTIFF) strips() [][]byte {
	var raw []*bytes.Buffer
	if g.Planar {
		for b := 0; b < g.Bands; b++ {
			var buf bytes.Buffer
			for y := 0; y < g.Height; y++ {
				for x := 0; x < g.Width; x++ {
					g.putSample(&buf, g.pixel(b, x, y))
				}
			}
			raw = append(raw, &buf)
		}
	} else {
		var buf bytes.Buffer
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				for b := 0; b < g.Bands; b++ {
					g.putSample(&buf, g.pixel(b, x, y))
				}
			}
		}
		raw = append(raw, &buf)
	}
	out := make([][]byte, len(raw))
	for i, r := range raw {
		if !g.Deflate {
			out[i] = r.Bytes()
			continue
		}
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		w.Write(r.Bytes())
		w.Close()
		out[i] = z.Bytes()
	}
	return out
}

func asciiBytes(s string) []byte {
	return append([]byte(s), 0)
}

// Encode serializes the image as a little-endian classic TIFF.
func (g GeoTIFF) Encode() []byte {
	g.defaults()
	strips := g.strips()

	bps := make([]uint16, g.Bands)
	sf := make([]uint16, g.Bands)
	for i := range bps {
		bps[i] = uint16(g.BitsPerSample)
		sf[i] = uint16(g.SampleFormat)
	}
	compression := uint16(1)
	if g.Deflate {
		compression = 8
	}
	planar := uint16(1)
	if g.Planar {
		planar = 2
	}
	photometric := uint16(1)
	byteCounts := make([]uint32, len(strips))
	for i, s := range strips {
		byteCounts[i] = uint32(len(s))
	}

	entries := []entry{
		{256, typeLong, 1, longs(uint32(g.Width))},
		{257, typeLong, 1, longs(uint32(g.Height))},
		{258, typeShort, uint32(g.Bands), shorts(bps...)},
		{259, typeShort, 1, shorts(compression)},
		{262, typeShort, 1, shorts(photometric)},
		{273, typeLong, uint32(len(strips)), longs(make([]uint32, len(strips))...)},
		{277, typeShort, 1, shorts(uint16(g.Bands))},
		{278, typeLong, 1, longs(uint32(g.Height))},
		{279, typeLong, uint32(len(strips)), longs(byteCounts...)},
		{284, typeShort, 1, shorts(planar)},
		{339, typeShort, uint32(g.Bands), shorts(sf...)},
	}
	if g.DateTime != "" {
		entries = append(entries, entry{306, typeASCII, uint32(len(g.DateTime) + 1), asciiBytes(g.DateTime)})
	}
	if g.Artist != "" {
		entries = append(entries, entry{315, typeASCII, uint32(len(g.Artist) + 1), asciiBytes(g.Artist)})
	}
	if len(g.PixelScale) > 0 {
		entries = append(entries, entry{33550, typeDouble, uint32(len(g.PixelScale)), doubles(g.PixelScale...)})
	}
	if len(g.Tiepoint) > 0 {
		entries = append(entries, entry{33922, typeDouble, uint32(len(g.Tiepoint)), doubles(g.Tiepoint...)})
	}
	if len(g.GeoKeys) > 0 {
		entries = append(entries, entry{34735, typeShort, uint32(len(g.GeoKeys)), shorts(g.GeoKeys...)})
	}
	if g.GeoASCII != "" {
		entries = append(entries, entry{34737, typeASCII, uint32(len(g.GeoASCII) + 1), asciiBytes(g.GeoASCII)})
	}
	if g.GDALMetadata != "" {
		entries = append(entries, entry{42112, typeASCII, uint32(len(g.GDALMetadata) + 1), asciiBytes(g.GDALMetadata)})
	}
	if g.NoData != "" {
		entries = append(entries, entry{42113, typeASCII, uint32(len(g.NoData) + 1), asciiBytes(g.NoData)})
	}
	for tag, v := range g.ExtraTags {
		entries = append(entries, entry{tag, typeLong, 1, longs(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: header, IFD, out-of-line values, strips.
	const headerSize = 8
	ifdSize := 2 + 12*len(entries) + 4
	offset := uint32(headerSize + ifdSize)
	valueOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			valueOffsets[i] = offset
			offset += uint32(len(e.data))
			if offset%2 == 1 {
				offset++
			}
		}
	}
	stripOffsets := make([]uint32, len(strips))
	for i, s := range strips {
		stripOffsets[i] = offset
		offset += uint32(len(s))
	}
	for i := range entries {
		if entries[i].tag == 273 {
			entries[i].data = longs(stripOffsets...)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize))

	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for i, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, e.typ)
		binary.Write(&buf, binary.LittleEndian, e.count)
		if len(e.data) > 4 {
			binary.Write(&buf, binary.LittleEndian, valueOffsets[i])
		} else {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
		}
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // no next IFD

	for _, e := range entries {
		if len(e.data) > 4 {
			buf.Write(e.data)
			if buf.Len()%2 == 1 {
				buf.WriteByte(0)
			}
		}
	}
	for _, s := range strips {
		buf.Write(s)
	}
	return buf.Bytes()
}

// WriteFile encodes g and writes it to dir/rel, creating parent directories.
func (g GeoTIFF) WriteFile(t *testing.T, dir, rel string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("Failed to create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(p, g.Encode(), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
	return p
}

// NewGitRepo creates a repository in a temp dir with files committed on
// master and tagged with tag (if non-empty). It returns the directory.
func NewGitRepo(t *testing.T, files map[string][]byte, tag string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init git repo: %v", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(p, content, 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
	if _, err := w.Add("."); err != nil {
		t.Fatalf("Failed to add files: %v", err)
	}
	h, err := w.Commit("Add dataset", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	if tag != "" {
		if _, err := repo.CreateTag(tag, h, nil); err != nil {
			t.Fatalf("Failed to create tag %s: %v", tag, err)
		}
	}
	return dir
}
