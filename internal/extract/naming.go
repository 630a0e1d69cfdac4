package extract

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Splits and kinds.
const (
	SplitTraining   = "training"
	SplitValidation = "validation"
	SplitTest       = "test"
	SplitUnknown    = "unknown"

	KindImages = "images"
	KindMasks  = "masks"
)

// Sensor identifiers.
const (
	SensorHLSS30    = "HLS_S30"
	SensorHLSL30    = "HLS_L30"
	SensorLandsat89 = "Landsat_8-9"
	SensorLandsat7  = "Landsat_7"
	SensorSentinel2 = "Sentinel2"
	SensorMODIS     = "MODIS"
)

var splitAliases = map[string]string{
	"training":   SplitTraining,
	"train":      SplitTraining,
	"validation": SplitValidation,
	"val":        SplitValidation,
	"valid":      SplitValidation,
	"test":       SplitTest,
	"testing":    SplitTest,
}

// SplitOf returns the split named by the first matching directory
// component of rel, or SplitUnknown.
func SplitOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return SplitUnknown
	}
	for _, part := range strings.Split(dir, "/") {
		if s, ok := splitAliases[strings.ToLower(part)]; ok {
			return s
		}
	}
	return SplitUnknown
}

// KindOf classifies a file as mask or image by its name.
func KindOf(name string) string {
	n := strings.ToLower(name)
	if strings.Contains(n, "mask") || strings.Contains(n, "label") {
		return KindMasks
	}
	return KindImages
}

func isTIFF(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".tif" || ext == ".tiff"
}

var (
	// HLS granule names carry the acquisition day as YYYYDOY, e.g. "HLS.S30.T10SEH.2018190.v1.4".
	julianDateRe = regexp.MustCompile(`\.(\d{4})(\d{3})\.`)
	calDateRe    = regexp.MustCompile(`(?:^|\D)(\d{4})[-_]?(\d{2})[-_]?(\d{2})(?:\D|$)`)

	// MODIS product short names, e.g. MOD09GA or MYD13Q1.
	modisRe = regexp.MustCompile(`(^|[^A-Z])M[OY]D\d{2}`)
)

func plausibleYear(y int) bool {
	return y >= 1950 && y <= 2100
}

// DateFromName parses an acquisition date from a file name.
func DateFromName(name string) (time.Time, bool) {
	if m := julianDateRe.FindStringSubmatch(name); m != nil {
		y, _ := strconv.Atoi(m[1])
		doy, _ := strconv.Atoi(m[2])
		if plausibleYear(y) && doy >= 1 && doy <= 366 {
			return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1), true
		}
	}
	for _, m := range calDateRe.FindAllStringSubmatch(name, -1) {
		t, err := time.Parse("20060102", m[1]+m[2]+m[3])
		if err == nil && plausibleYear(t.Year()) {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateFromTag parses a TIFF DateTime value ("2006:01:02 15:04:05").
func DateFromTag(s string) (time.Time, bool) {
	t, err := time.Parse("2006:01:02 15:04:05", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
}

// SensorOf detects the sensor from a file name. It returns "" if unknown.
func SensorOf(name string) string {
	n := strings.ToUpper(name)
	switch {
	case strings.Contains(n, "HLS.S30"):
		return SensorHLSS30
	case strings.Contains(n, "HLS.L30"):
		return SensorHLSL30
	case strings.Contains(n, "LC08") || strings.Contains(n, "LC09"):
		return SensorLandsat89
	case strings.Contains(n, "LE07"):
		return SensorLandsat7
	case strings.Contains(n, "S2") && (strings.Contains(n, "L1C") || strings.Contains(n, "L2A")):
		return SensorSentinel2
	case modisRe.MatchString(n):
		return SensorMODIS
	}
	return ""
}
