// Package croissant models Croissant JSON-LD dataset records with the
// GeoCroissant extension terms.
package croissant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-LD types used in records.
const (
	TypeDataset           = "sc:Dataset"
	TypeFileObject        = "cr:FileObject"
	TypeFileSet           = "cr:FileSet"
	TypeRecordSet         = "cr:RecordSet"
	TypeField             = "cr:Field"
	TypeBandConfiguration = "geocr:BandConfiguration"
	TypeSpectralBand      = "geocr:SpectralBand"
	TypeImageObject       = "sc:ImageObject"
)

// Context is the JSON-LD @context of a record.
type Context map[string]any

// DefaultContext returns the @context of Croissant 1.1 with the geocr
// namespace added.
func DefaultContext() Context {
	ctx := Context{
		"@language": "en",
		"@vocab":    "https://schema.org/",
		"cr":        "http://mlcommons.org/croissant/",
		"geocr":     "http://mlcommons.org/croissant/geocr/",
		"rai":       "http://mlcommons.org/croissant/RAI/",
		"dct":       "http://purl.org/dc/terms/",
		"sc":        "https://schema.org/",

		"citeAs":     "cr:citeAs",
		"conformsTo": "dct:conformsTo",
		"data":       map[string]any{"@id": "cr:data", "@type": "@json"},
		"examples":   map[string]any{"@id": "cr:examples", "@type": "@json"},
		"dataType":   map[string]any{"@id": "cr:dataType", "@type": "@vocab"},
	}
	for _, term := range []string{
		"column", "dataBiases", "dataCollection", "extract", "field",
		"fileProperty", "fileObject", "fileSet", "format", "includes",
		"isLiveDataset", "jsonPath", "key", "md5", "parentField", "path",
		"personalSensitiveInformation", "recordSet", "references", "regex",
		"repeated", "replace", "samplingRate", "separator", "source",
		"subField", "transform",
	} {
		ctx[term] = "cr:" + term
	}
	return ctx
}

// Ref is a JSON-LD node reference.
type Ref struct {
	ID string `json:"@id"`
}

type Creator struct {
	Type  string `json:"@type"` // Person or Organization
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

type QuantitativeValue struct {
	Type     string  `json:"@type"`
	Value    float64 `json:"value"`
	UnitText string  `json:"unitText,omitempty"`
}

// NewQuantity returns a schema.org QuantitativeValue.
func NewQuantity(v float64, unit string) *QuantitativeValue {
	return &QuantitativeValue{Type: "QuantitativeValue", Value: v, UnitText: unit}
}

type GeoShape struct {
	Type string `json:"@type"`
	// Box is "south west north east".
	Box string `json:"box"`
}

type Place struct {
	Type string   `json:"@type"`
	Geo  GeoShape `json:"geo"`
}

// NewPlace returns a Place whose GeoShape box covers the given WGS84 extent.
func NewPlace(west, south, east, north float64) *Place {
	return &Place{
		Type: "Place",
		Geo: GeoShape{
			Type: "GeoShape",
			Box:  fmt.Sprintf("%s %s %s %s", fmtCoord(south), fmtCoord(west), fmtCoord(north), fmtCoord(east)),
		},
	}
}

func fmtCoord(v float64) string {
	bs, _ := json.Marshal(v)
	return string(bs)
}

// DistributionItem is a cr:FileObject or cr:FileSet.
type DistributionItem struct {
	Type           string `json:"@type"`
	ID             string `json:"@id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	ContentURL     string `json:"contentUrl,omitempty"`
	ContentSize    string `json:"contentSize,omitempty"`
	EncodingFormat string `json:"encodingFormat,omitempty"`
	SHA256         string `json:"sha256,omitempty"`
	ContainedIn    *Ref   `json:"containedIn,omitempty"`
	Includes       string `json:"includes,omitempty"`
}

type Extract struct {
	FileProperty string `json:"fileProperty"`
}

type Transform struct {
	Regex string `json:"regex"`
}

type Source struct {
	FileSet   Ref        `json:"fileSet"`
	Extract   Extract    `json:"extract"`
	Transform *Transform `json:"transform,omitempty"`
}

type BandConfiguration struct {
	Type         string   `json:"@type"`
	TotalBands   int      `json:"geocr:totalBands"`
	BandNameList []string `json:"geocr:bandNameList"`
}

// NewBandConfiguration returns a band configuration listing names.
func NewBandConfiguration(names []string) *BandConfiguration {
	return &BandConfiguration{
		Type:         TypeBandConfiguration,
		TotalBands:   len(names),
		BandNameList: names,
	}
}

type SpectralBand struct {
	Type             string             `json:"@type"`
	Name             string             `json:"name"`
	CenterWavelength *QuantitativeValue `json:"geocr:centerWavelength,omitempty"`
	Bandwidth        *QuantitativeValue `json:"geocr:bandwidth,omitempty"`
}

type Field struct {
	Type              string             `json:"@type"`
	ID                string             `json:"@id"`
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	DataType          string             `json:"dataType"`
	Source            Source             `json:"source"`
	BandConfiguration *BandConfiguration `json:"geocr:bandConfiguration,omitempty"`
}

type RecordSet struct {
	Type        string  `json:"@type"`
	ID          string  `json:"@id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"field"`
}

// Record is a Croissant dataset description. Field order determines the
// order of keys in the serialized document.
type Record struct {
	Context       Context   `json:"@context"`
	Type          string    `json:"@type"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	URL           string    `json:"url,omitempty"`
	CiteAs        string    `json:"citeAs,omitempty"`
	DatePublished string    `json:"datePublished,omitempty"`
	Version       string    `json:"version,omitempty"`
	License       string    `json:"license"`
	ConformsTo    []string  `json:"conformsTo"`
	Keywords      []string  `json:"keywords,omitempty"`
	Creators      []Creator `json:"creator,omitempty"`

	TemporalCoverage     string             `json:"temporalCoverage,omitempty"`
	TemporalResolution   *QuantitativeValue `json:"geocr:temporalResolution,omitempty"`
	SpatialCoverage      *Place             `json:"spatialCoverage,omitempty"`
	CRS                  CRSList            `json:"geocr:coordinateReferenceSystem,omitempty"`
	SpatialResolution    *QuantitativeValue `json:"geocr:spatialResolution,omitempty"`
	SamplingStrategy     string             `json:"geocr:samplingStrategy,omitempty"`
	BandConfiguration    *BandConfiguration `json:"geocr:bandConfiguration,omitempty"`
	SpectralBandMetadata []SpectralBand     `json:"geocr:spectralBandMetadata,omitempty"`

	Distribution []DistributionItem `json:"distribution"`
	RecordSets   []RecordSet        `json:"recordSet"`
}

// HasGeospatial reports whether any geospatial extension term is set.
func (r *Record) HasGeospatial() bool {
	return r.SpatialCoverage != nil || len(r.CRS) > 0 || r.SpatialResolution != nil ||
		r.TemporalResolution != nil || r.SamplingStrategy != "" ||
		r.BandConfiguration != nil || len(r.SpectralBandMetadata) > 0
}

// CRSList holds coordinate reference systems. It serializes as a plain
// string when there is exactly one entry and as an array otherwise.
type CRSList []string

func (c CRSList) MarshalJSON() ([]byte, error) {
	if len(c) == 1 {
		return json.Marshal(c[0])
	}
	return json.Marshal([]string(c))
}

func (c *CRSList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CRSList{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return err
	}
	*c = ss
	return nil
}

// Marshal serializes r with the given indentation. Zero indent yields
// compact JSON. The output ends with a newline.
func Marshal(r *Record, indent int) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent > 0 {
		enc.SetIndent("", spaces(indent))
	}
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func spaces(n int) string {
	return string(bytes.Repeat([]byte{' '}, n))
}

// Unmarshal parses a serialized record.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return &r, nil
}

var ErrInvalidRecord = errors.New("invalid record")
