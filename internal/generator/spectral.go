package generator

import (
	"strings"

	"github.com/dnswlt/geocr/internal/extract"
)

// spectralBand is a reference band of a known sensor. Wavelengths are in nm.
type spectralBand struct {
	name       string
	wavelength float64
	bandwidth  float64
}

var hlsBands = []spectralBand{
	{"Blue", 490, 65},
	{"Green", 560, 60},
	{"Red", 665, 30},
	{"NIR", 865, 30},
	{"SWIR1", 1610, 90},
	{"SWIR2", 2200, 180},
}

// Landsat 8/9 OLI bands 1 to 7.
var oliBands = []spectralBand{
	{"Coastal", 443, 16},
	{"Blue", 482, 60},
	{"Green", 561, 57},
	{"Red", 655, 37},
	{"NIR", 865, 28},
	{"SWIR1", 1609, 85},
	{"SWIR2", 2201, 187},
}

// lookupBand returns the reference band at 0-based index i for sensor.
func lookupBand(sensor string, i int) (spectralBand, bool) {
	var table []spectralBand
	switch {
	case strings.HasPrefix(sensor, "HLS"):
		table = hlsBands
	case sensor == extract.SensorLandsat89:
		table = oliBands
	}
	if i < 0 || i >= len(table) {
		return spectralBand{}, false
	}
	return table[i], true
}
