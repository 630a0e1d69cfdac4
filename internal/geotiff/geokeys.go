package geotiff

import (
	"fmt"
	"strings"
)

// GeoKey IDs used for CRS resolution.
const (
	KeyGTModelType       = 1024
	KeyGTRasterType      = 1025
	KeyGTCitation        = 1026
	KeyGeographicType    = 2048
	KeyGeogCitation      = 2049
	KeyGeogAngularUnits  = 2054
	KeyProjectedCSType   = 3072
	KeyPCSCitation       = 3073
	KeyProjection        = 3074
	KeyProjCoordTrans    = 3075
	KeyProjLinearUnits   = 3076
	KeyProjNatOriginLong = 3080
	KeyProjFalseNorthing = 3083
	KeyProjCenterLong    = 3088

	UserDefined = 32767

	ModelTypeProjected  = 1
	ModelTypeGeographic = 2

	CoordTransTransverseMercator = 1
)

// GeoKeys holds the decoded GeoKeyDirectory. Values are stored by type:
// SHORT keys inline, DOUBLE keys from GeoDoubleParams and ASCII keys from
// GeoAsciiParams.
type GeoKeys struct {
	shorts  map[uint16]int
	doubles map[uint16][]float64
	ascii   map[uint16]string
}

// Len returns the number of keys.
func (k GeoKeys) Len() int {
	return len(k.shorts) + len(k.doubles) + len(k.ascii)
}

func (k GeoKeys) Int(id uint16) (int, bool) {
	v, ok := k.shorts[id]
	return v, ok
}

func (k GeoKeys) Double(id uint16) (float64, bool) {
	v, ok := k.doubles[id]
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

func (k GeoKeys) ASCII(id uint16) (string, bool) {
	v, ok := k.ascii[id]
	return v, ok
}

// Citations returns all citation strings, GT first.
func (k GeoKeys) Citations() []string {
	var cs []string
	for _, id := range []uint16{KeyGTCitation, KeyPCSCitation, KeyGeogCitation} {
		if s, ok := k.ascii[id]; ok && s != "" {
			cs = append(cs, s)
		}
	}
	return cs
}

func parseGeoKeys(dir []int64, dbl []float64, ascii string) (GeoKeys, error) {
	k := GeoKeys{
		shorts:  make(map[uint16]int),
		doubles: make(map[uint16][]float64),
		ascii:   make(map[uint16]string),
	}
	if len(dir) == 0 {
		return k, nil
	}
	if len(dir) < 4 {
		return k, fmt.Errorf("GeoKeyDirectory too short: %d values", len(dir))
	}
	n := int(dir[3])
	if len(dir) < 4+4*n {
		return k, fmt.Errorf("GeoKeyDirectory declares %d keys but holds %d values", n, len(dir))
	}
	for i := 0; i < n; i++ {
		e := dir[4+4*i : 8+4*i]
		id, loc, count, val := uint16(e[0]), e[1], int(e[2]), int(e[3])
		switch loc {
		case 0:
			k.shorts[id] = val
		case TagGeoDoubleParams:
			if val+count > len(dbl) {
				return k, fmt.Errorf("GeoKey %d: double params out of range", id)
			}
			k.doubles[id] = dbl[val : val+count]
		case TagGeoASCIIParams:
			if val+count > len(ascii) {
				return k, fmt.Errorf("GeoKey %d: ascii params out of range", id)
			}
			k.ascii[id] = strings.TrimRight(ascii[val:val+count], "|\x00 ")
		}
	}
	return k, nil
}
