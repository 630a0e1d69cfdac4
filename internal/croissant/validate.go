package croissant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RequiredFields are the top-level keys every record must contain.
var RequiredFields = []string{
	"@context", "@type", "name", "description", "license",
	"conformsTo", "distribution", "recordSet",
}

// Validate checks that r has all required fields and that its internal
// references resolve. All problems are reported together.
func Validate(r *Record) error {
	var errs []error
	addf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if len(r.Context) == 0 {
		addf("missing @context")
	}
	if r.Type != TypeDataset {
		addf("@type is %q, want %q", r.Type, TypeDataset)
	}
	if r.Name == "" {
		addf("missing name")
	}
	if r.Description == "" {
		addf("missing description")
	}
	if r.License == "" {
		addf("missing license")
	}
	if len(r.ConformsTo) == 0 {
		addf("missing conformsTo")
	}
	if r.Distribution == nil {
		addf("missing distribution")
	}
	if r.RecordSets == nil {
		addf("missing recordSet")
	}

	ids := make(map[string]bool)
	for _, d := range r.Distribution {
		if d.ID == "" {
			addf("distribution item %q has no @id", d.Name)
		}
		if ids[d.ID] {
			addf("duplicate @id %q in distribution", d.ID)
		}
		ids[d.ID] = true
	}
	for _, d := range r.Distribution {
		if d.ContainedIn != nil && !ids[d.ContainedIn.ID] {
			addf("%s: containedIn references unknown @id %q", d.ID, d.ContainedIn.ID)
		}
	}
	for _, rs := range r.RecordSets {
		for _, f := range rs.Fields {
			if !ids[f.Source.FileSet.ID] {
				addf("field %s: source references unknown @id %q", f.ID, f.Source.FileSet.ID)
			}
		}
	}
	if r.SpatialCoverage != nil {
		if err := validateBox(r.SpatialCoverage.Geo.Box); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

func validateBox(box string) error {
	parts := strings.Fields(box)
	if len(parts) != 4 {
		return fmt.Errorf("spatialCoverage box %q must have 4 coordinates", box)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return fmt.Errorf("spatialCoverage box %q: %v", box, err)
		}
		v[i] = f
	}
	south, west, north, east := v[0], v[1], v[2], v[3]
	if south > north || west > east {
		return fmt.Errorf("spatialCoverage box %q is inverted", box)
	}
	if south < -90 || north > 90 || west < -180 || east > 180 {
		return fmt.Errorf("spatialCoverage box %q is outside WGS84 range", box)
	}
	return nil
}

// ValidateJSON checks a serialized record: the required keys must be
// present in the document itself, and the decoded record must validate.
func ValidateJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: not a JSON object: %v", ErrInvalidRecord, err)
	}
	var missing []string
	for _, k := range RequiredFields {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidRecord, strings.Join(missing, ", "))
	}
	r, err := Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return Validate(r)
}
