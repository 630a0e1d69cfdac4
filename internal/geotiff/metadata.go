package geotiff

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is the content of the GDAL_METADATA tag.
type Metadata struct {
	// Dataset holds items without a sample attribute, keyed by name.
	Dataset map[string]string
	// Bands holds per-band items keyed by 0-based sample index, then name.
	Bands map[int]map[string]string
}

type gdalMetadata struct {
	Items []gdalItem `xml:"Item"`
}

type gdalItem struct {
	Name   string `xml:"name,attr"`
	Sample string `xml:"sample,attr"`
	Role   string `xml:"role,attr"`
	Value  string `xml:",chardata"`
}

// ParseMetadata parses a <GDALMetadata> XML document.
func ParseMetadata(s string) (*Metadata, error) {
	var doc gdalMetadata
	if err := xml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("invalid GDAL metadata: %w", err)
	}
	md := &Metadata{
		Dataset: make(map[string]string),
		Bands:   make(map[int]map[string]string),
	}
	for _, it := range doc.Items {
		name := it.Name
		if it.Role == "description" {
			name = "DESCRIPTION"
		}
		val := strings.TrimSpace(it.Value)
		if it.Sample == "" {
			md.Dataset[name] = val
			continue
		}
		b, err := strconv.Atoi(it.Sample)
		if err != nil || b < 0 {
			return nil, fmt.Errorf("invalid GDAL metadata: bad sample %q", it.Sample)
		}
		if md.Bands[b] == nil {
			md.Bands[b] = make(map[string]string)
		}
		md.Bands[b][name] = val
	}
	return md, nil
}

// BandDescription returns the description of band b (0-based), if any.
func (m *Metadata) BandDescription(b int) string {
	if m == nil {
		return ""
	}
	return m.Bands[b]["DESCRIPTION"]
}

// BandStatistics returns the STATISTICS_* items GDAL stored for band b.
// It reports false unless all of minimum, maximum and mean are present.
func (m *Metadata) BandStatistics(b int) (Statistics, bool) {
	if m == nil {
		return Statistics{}, false
	}
	items := m.Bands[b]
	get := func(name string) (float64, bool) {
		v, ok := items["STATISTICS_"+name]
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	var st Statistics
	var ok1, ok2, ok3 bool
	st.Min, ok1 = get("MINIMUM")
	st.Max, ok2 = get("MAXIMUM")
	st.Mean, ok3 = get("MEAN")
	if !ok1 || !ok2 || !ok3 {
		return Statistics{}, false
	}
	st.Std, _ = get("STDDEV")
	return st, true
}
