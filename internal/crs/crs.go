// Package crs resolves the coordinate reference system of a GeoTIFF and
// reprojects bounding boxes to WGS84.
package crs

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dnswlt/geocr/internal/geotiff"
	"github.com/im7mortal/UTM"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

var (
	ErrUnsupportedCRS = errors.New("unsupported CRS")
	ErrInvalidEPSG    = errors.New("invalid EPSG code")
)

const (
	EPSGWGS84 = 4326
	epsgNAD83 = 4269
	epsgETRS  = 4258
)

// Unit names as emitted in resolution fields.
const (
	UnitMeters  = "m"
	UnitFeet    = "ft"
	UnitDegrees = "degrees"
)

// CRS is the resolved reference system of an image.
type CRS struct {
	// EPSG is the EPSG code, or 0 if it could not be determined.
	EPSG int
	// Units of the model coordinates.
	Units string
	// Citation is the first citation string found in the GeoKeys.
	Citation string
}

// String returns "EPSG:<code>", or the citation for unresolved CRSs.
func (c CRS) String() string {
	if c.EPSG != 0 {
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	return c.Citation
}

// Known reports whether an EPSG code was resolved.
func (c CRS) Known() bool {
	return c.EPSG != 0
}

var (
	utmLongRe  = regexp.MustCompile(`(?i)UTM zone (\d+)[,\s]+(Northern|Southern)`)
	utmShortRe = regexp.MustCompile(`(?i)UTM zone (\d+)\s*([NS])\b`)
)

// Resolve determines the CRS from GeoKeys. It tries, in order: an explicit
// projected CS code, an explicit geographic CS code, a UTM zone named in a
// citation, and a transverse mercator projection whose central meridian
// matches a UTM zone.
func Resolve(keys geotiff.GeoKeys) CRS {
	var c CRS
	if cs := keys.Citations(); len(cs) > 0 {
		c.Citation = cs[0]
	}
	model, _ := keys.Int(geotiff.KeyGTModelType)

	if v, ok := keys.Int(geotiff.KeyProjectedCSType); ok && v != geotiff.UserDefined && v != 0 {
		c.EPSG = v
	} else if v, ok := keys.Int(geotiff.KeyGeographicType); ok && v != geotiff.UserDefined && v != 0 && model != geotiff.ModelTypeProjected {
		c.EPSG = v
	} else if code, ok := utmFromCitations(keys.Citations()); ok {
		c.EPSG = code
	} else if code, ok := utmFromProjection(keys); ok {
		c.EPSG = code
	}

	c.Units = unitsFor(c.EPSG, model, keys)
	return c
}

func utmFromCitations(citations []string) (int, bool) {
	for _, s := range citations {
		if m := utmLongRe.FindStringSubmatch(s); m != nil {
			zone, _ := strconv.Atoi(m[1])
			return utmCode(zone, strings.EqualFold(m[2], "Southern"))
		}
		if m := utmShortRe.FindStringSubmatch(s); m != nil {
			zone, _ := strconv.Atoi(m[1])
			return utmCode(zone, strings.EqualFold(m[2], "S"))
		}
	}
	return 0, false
}

func utmFromProjection(keys geotiff.GeoKeys) (int, bool) {
	if ct, ok := keys.Int(geotiff.KeyProjCoordTrans); !ok || ct != geotiff.CoordTransTransverseMercator {
		return 0, false
	}
	cm, ok := keys.Double(geotiff.KeyProjNatOriginLong)
	if !ok {
		if cm, ok = keys.Double(geotiff.KeyProjCenterLong); !ok {
			return 0, false
		}
	}
	zone := int((cm+180)/6) + 1
	fn, _ := keys.Double(geotiff.KeyProjFalseNorthing)
	return utmCode(zone, fn > 0)
}

func utmCode(zone int, south bool) (int, bool) {
	if zone < 1 || zone > 60 {
		return 0, false
	}
	if south {
		return 32700 + zone, true
	}
	return 32600 + zone, true
}

func unitsFor(epsg, model int, keys geotiff.GeoKeys) string {
	if epsg != 0 {
		if isGeographic(epsg) {
			return UnitDegrees
		}
	} else if model == geotiff.ModelTypeGeographic {
		return UnitDegrees
	}
	switch u, _ := keys.Int(geotiff.KeyProjLinearUnits); u {
	case 9002, 9003:
		return UnitFeet
	}
	return UnitMeters
}

func isGeographic(epsg int) bool {
	return epsg >= 4000 && epsg < 5000
}

// ParseEPSG parses "EPSG:<code>" (case-insensitive) or a bare code.
func ParseEPSG(s string) (int, error) {
	t := strings.TrimSpace(s)
	if len(t) > 5 && strings.EqualFold(t[:5], "EPSG:") {
		t = t[5:]
	}
	code, err := strconv.Atoi(t)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEPSG, s)
	}
	return code, nil
}

// utmZone returns zone and hemisphere for the UTM families we can invert.
func utmZone(epsg int) (zone int, north bool, ok bool) {
	switch {
	case epsg >= 32601 && epsg <= 32660:
		return epsg - 32600, true, true
	case epsg >= 32701 && epsg <= 32760:
		return epsg - 32700, false, true
	case epsg >= 26901 && epsg <= 26923:
		return epsg - 26900, true, true
	case epsg >= 25828 && epsg <= 25838:
		return epsg - 25800, true, true
	}
	return 0, false, false
}

// Supported reports whether ToWGS84 can transform coordinates in epsg.
func Supported(epsg int) bool {
	switch epsg {
	case EPSGWGS84, epsgNAD83, epsgETRS, 3857, 900913:
		return true
	}
	_, _, ok := utmZone(epsg)
	return ok
}

// densify is the number of segments each bbox edge is split into before
// transformation, so curved edges are enclosed.
const densify = 20

// ToWGS84 reprojects b from epsg to WGS84 longitude/latitude.
func ToWGS84(epsg int, b orb.Bound) (orb.Bound, error) {
	var proj func(orb.Point) (orb.Point, error)
	switch epsg {
	case EPSGWGS84, epsgNAD83, epsgETRS:
		return b, nil
	case 3857, 900913:
		proj = func(p orb.Point) (orb.Point, error) {
			return project.Mercator.ToWGS84(p), nil
		}
	default:
		zone, north, ok := utmZone(epsg)
		if !ok {
			return orb.Bound{}, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, epsg)
		}
		proj = func(p orb.Point) (orb.Point, error) {
			lat, lon, err := UTM.ToLatLon(p.X(), p.Y(), zone, "", north)
			if err != nil {
				return orb.Point{}, err
			}
			return orb.Point{lon, lat}, nil
		}
	}

	var out orb.Bound
	first := true
	for i := 0; i <= densify; i++ {
		t := float64(i) / densify
		x := b.Min.X() + t*(b.Max.X()-b.Min.X())
		y := b.Min.Y() + t*(b.Max.Y()-b.Min.Y())
		for _, p := range []orb.Point{
			{x, b.Min.Y()}, {x, b.Max.Y()},
			{b.Min.X(), y}, {b.Max.X(), y},
		} {
			q, err := proj(p)
			if err != nil {
				return orb.Bound{}, fmt.Errorf("cannot transform %v from EPSG:%d: %w", p, epsg, err)
			}
			if math.IsNaN(q.X()) || math.IsNaN(q.Y()) {
				return orb.Bound{}, fmt.Errorf("cannot transform %v from EPSG:%d", p, epsg)
			}
			if first {
				out = orb.Bound{Min: q, Max: q}
				first = false
			} else {
				out = out.Extend(q)
			}
		}
	}
	return out, nil
}
