package rastreader

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/ctessum/geom"

	"github.com/prl900/dem_prep/georast"
)

const hgtVoid = -32768

// hgtTile is an SRTM tile named by the integer degrees of its lower left
// corner, e.g. N37E127.hgt or S08W079.hgt.zip.
type hgtTile struct {
	lat, lon int
}

func parseHGTName(name string) (hgtTile, bool) {
	base := strings.ToUpper(path.Base(name))
	base = strings.TrimSuffix(base, ".ZIP")
	if !strings.HasSuffix(base, ".HGT") || len(base) < len("N00E000.HGT") {
		return hgtTile{}, false
	}
	var ns, ew string
	var n, e int
	if c, err := fmt.Sscanf(base, "%1s%d%1s%d", &ns, &n, &ew, &e); err != nil || c != 4 {
		return hgtTile{}, false
	}
	switch ns {
	case "N":
	case "S":
		n = -n
	default:
		return hgtTile{}, false
	}
	switch ew {
	case "E":
	case "W":
		e = -e
	default:
		return hgtTile{}, false
	}
	if n < -90 || n >= 90 || e < -180 || e >= 180 {
		return hgtTile{}, false
	}
	return hgtTile{lat: n, lon: e}, true
}

// HGTName returns the canonical tile name covering the 1 degree cell whose
// lower left corner is (lat, lon).
func HGTName(lat, lon int) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns, lat = "S", -lat
	}
	if lon < 0 {
		ew, lon = "W", -lon
	}
	return fmt.Sprintf("%s%02d%s%03d.hgt", ns, lat, ew, lon)
}

func (t hgtTile) footprint() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: float64(t.lon), Y: float64(t.lat)},
		Max: geom.Point{X: float64(t.lon + 1), Y: float64(t.lat + 1)},
	}
}

// decode reads the big endian int16 samples of a square tile. Samples are
// pixel centred on whole degree fractions, so the raster reaches half a
// pixel beyond the 1 degree cell on every side.
func (t hgtTile) decode(b []byte) (*georast.Raster, error) {
	n := int(math.Sqrt(float64(len(b) / 2)))
	if n < 2 || 2*n*n != len(b) {
		return nil, fmt.Errorf("hgt tile of %d bytes is not square", len(b))
	}
	px := 1 / float64(n-1)
	g := georast.Grid{
		CRS:       georast.WGS84,
		Transform: georast.NorthUp(float64(t.lon)-px/2, float64(t.lat+1)+px/2, px, px),
		Width:     n,
		Height:    n,
	}
	r := georast.New(g, 1, georast.Int16, hgtVoid, true)
	pix := r.Bands[0]
	for i := range pix {
		pix[i] = float32(int16(uint16(b[2*i])<<8 | uint16(b[2*i+1])))
	}
	return r, nil
}
