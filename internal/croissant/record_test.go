package croissant

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleRecord() *Record {
	return &Record{
		Context:       DefaultContext(),
		Type:          TypeDataset,
		Name:          "hls_burn_scars",
		Description:   "Burn scars.",
		DatePublished: "2024-01-15",
		Version:       "1.0",
		License:       "CC-BY-4.0",
		ConformsTo:    []string{"http://mlcommons.org/croissant/1.1"},
		Keywords:      []string{"hls_burn_scars", "fire"},
		Creators:      []Creator{{Type: "Person", Name: "Jane Doe"}},

		TemporalCoverage:   "2018-07-09/2018-07-19",
		TemporalResolution: NewQuantity(10, "days"),
		SpatialCoverage:    NewPlace(-123, 36.1, -122.5, 36.6),
		CRS:                CRSList{"EPSG:32610"},
		SpatialResolution:  NewQuantity(30, "m"),
		BandConfiguration:  NewBandConfiguration([]string{"Blue", "Green"}),
		SpectralBandMetadata: []SpectralBand{{
			Type:             TypeSpectralBand,
			Name:             "Blue",
			CenterWavelength: NewQuantity(490, "nm"),
			Bandwidth:        NewQuantity(65, "nm"),
		}},
		Distribution: []DistributionItem{
			{Type: TypeFileObject, ID: "data_repo", Name: "data_repo", SHA256: "abc"},
			{Type: TypeFileSet, ID: "tiff-files", Name: "tiff-files", ContainedIn: &Ref{ID: "data_repo"}, Includes: "**/*.tif*"},
		},
		RecordSets: []RecordSet{{
			Type: TypeRecordSet,
			ID:   "hls_burn_scars",
			Name: "hls_burn_scars",
			Fields: []Field{{
				Type:     TypeField,
				ID:       "hls_burn_scars/image",
				Name:     "hls_burn_scars/image",
				DataType: TypeImageObject,
				Source: Source{
					FileSet:   Ref{ID: "tiff-files"},
					Extract:   Extract{FileProperty: "fullpath"},
					Transform: &Transform{Regex: `.*_merged\.tif$`},
				},
			}},
		}},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, indent := range []int{0, 2, 4} {
		first, err := Marshal(sampleRecord(), indent)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		r, err := Unmarshal(first)
		if err != nil {
			t.Fatalf("Unmarshal() failed: %v", err)
		}
		second, err := Marshal(r, indent)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("indent %d: round trip changed output:\n%s", indent, cmp.Diff(string(first), string(second)))
		}
	}
}

func TestMarshalFormat(t *testing.T) {
	out, err := Marshal(sampleRecord(), 2)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		`"@type": "sc:Dataset"`,
		`"geocr:coordinateReferenceSystem": "EPSG:32610"`,
		`"box": "36.1 -123 36.6 -122.5"`,
		`"regex": ".*_merged\\.tif$"`,
		`"geocr:totalBands": 2`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Marshal() output lacks %s", want)
		}
	}
	if strings.Index(s, `"@context"`) > strings.Index(s, `"name"`) {
		t.Error("@context is not serialized before name")
	}
	if !strings.HasSuffix(s, "}\n") {
		t.Error("output does not end with a newline")
	}
}

func TestCRSList(t *testing.T) {
	tests := []struct {
		list CRSList
		want string
	}{
		{CRSList{"EPSG:4326"}, `"EPSG:4326"`},
		{CRSList{"EPSG:32610", "EPSG:32611"}, `["EPSG:32610","EPSG:32611"]`},
	}
	for _, tc := range tests {
		got, err := tc.list.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON() failed: %v", err)
		}
		if string(got) != tc.want {
			t.Errorf("MarshalJSON() = %s, want %s", got, tc.want)
		}
		var back CRSList
		if err := back.UnmarshalJSON(got); err != nil {
			t.Fatalf("UnmarshalJSON() failed: %v", err)
		}
		if diff := cmp.Diff(tc.list, back); diff != "" {
			t.Errorf("UnmarshalJSON() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestHasGeospatial(t *testing.T) {
	r := sampleRecord()
	if !r.HasGeospatial() {
		t.Error("HasGeospatial() = false for record with geo terms")
	}
	plain := &Record{Name: "x"}
	if plain.HasGeospatial() {
		t.Error("HasGeospatial() = true for plain record")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr string
	}{
		{"valid", func(r *Record) {}, ""},
		{"no name", func(r *Record) { r.Name = "" }, "missing name"},
		{"wrong type", func(r *Record) { r.Type = "sc:Thing" }, "@type"},
		{"no distribution", func(r *Record) { r.Distribution = nil }, "missing distribution"},
		{"empty distribution", func(r *Record) {
			r.Distribution = []DistributionItem{}
			r.RecordSets = []RecordSet{}
		}, ""},
		{"dangling containedIn", func(r *Record) { r.Distribution[1].ContainedIn = &Ref{ID: "nope"} }, "unknown @id \"nope\""},
		{"dangling fileSet", func(r *Record) { r.RecordSets[0].Fields[0].Source.FileSet.ID = "nope" }, "unknown @id \"nope\""},
		{"inverted box", func(r *Record) { r.SpatialCoverage = NewPlace(10, 0, -10, 5) }, "inverted"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := sampleRecord()
			tc.mutate(r)
			err := Validate(r)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() failed: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidRecord) || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %v, want ErrInvalidRecord containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateJSON(t *testing.T) {
	good, err := Marshal(sampleRecord(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateJSON(good); err != nil {
		t.Errorf("ValidateJSON() failed: %v", err)
	}

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"not json", `[1, 2]`, "not a JSON object"},
		{"missing keys", `{"@type": "sc:Dataset", "name": "x"}`, "missing required fields: @context, description"},
		{"bad conformsTo", `{"@context": {"a": "b"}, "@type": "sc:Dataset", "name": "x", "description": "d",
			"license": "MIT", "conformsTo": 5, "distribution": [], "recordSet": []}`, "invalid record"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateJSON([]byte(tc.doc))
			if !errors.Is(err, ErrInvalidRecord) || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("ValidateJSON() error = %v, want ErrInvalidRecord containing %q", err, tc.wantErr)
			}
		})
	}
}
