package georast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// proj4 definitions for the EPSG codes the pipeline is usually run with.
var epsgDefs = map[int]string{
	4326: "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs",
	4258: "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
	3035: "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	5179: "+proj=tmerc +lat_0=38 +lon_0=127.5 +k=0.9996 +x_0=1000000 +y_0=2000000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	5186: "+proj=tmerc +lat_0=38 +lon_0=127 +k=1 +x_0=200000 +y_0=600000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	27700: "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +towgs84=446.448,-125.157,542.06,0.15,0.247,0.842,-20.489 +units=m +no_defs",
}

// CRS is a coordinate reference system: a stable identifier plus the parsed
// spatial reference used for coordinate transforms.
type CRS struct {
	ID string
	sr *proj.SR
}

// WGS84 is the geographic CRS satellite providers and tile names use.
var WGS84 = MustParseCRS("EPSG:4326")

// ParseCRS accepts "EPSG:<code>", a bare EPSG code, a proj4 string or WKT.
func ParseCRS(def string) (CRS, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return CRS{}, &ProjectionError{Def: def, Err: fmt.Errorf("empty definition")}
	}

	id := def
	src := def
	code, isCode, err := epsgCode(def)
	if err != nil {
		return CRS{}, &ProjectionError{Def: def, Err: err}
	}
	if isCode {
		p4, ok := epsgProj4(code)
		if !ok {
			return CRS{}, &ProjectionError{Def: def, Err: fmt.Errorf("EPSG:%d is not supported", code)}
		}
		id = fmt.Sprintf("EPSG:%d", code)
		src = p4
	}

	sr, err := proj.Parse(src)
	if err != nil {
		return CRS{}, &ProjectionError{Def: def, Err: err}
	}
	return CRS{ID: normalizeID(id), sr: sr}, nil
}

// MustParseCRS is like ParseCRS but panics on error. Use for constants only.
func MustParseCRS(def string) CRS {
	c, err := ParseCRS(def)
	if err != nil {
		panic(err)
	}
	return c
}

func epsgCode(def string) (int, bool, error) {
	s := def
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "EPSG:"):
		s = s[len("EPSG:"):]
	case strings.HasPrefix(s, "+"), strings.ContainsAny(s, "[]"):
		return 0, false, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		if strings.HasPrefix(upper, "EPSG:") {
			return 0, false, fmt.Errorf("invalid EPSG code %q", def)
		}
		return 0, false, nil
	}
	return code, true, nil
}

func epsgProj4(code int) (string, bool) {
	if p4, ok := epsgDefs[code]; ok {
		return p4, true
	}
	// WGS 84 / UTM zones
	switch {
	case code >= 32601 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), true
	case code >= 32701 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), true
	}
	return "", false
}

func normalizeID(id string) string {
	return strings.Join(strings.Fields(id), " ")
}

// IsZero reports whether c was never parsed.
func (c CRS) IsZero() bool { return c.sr == nil }

// Equal compares normalized identifiers.
func (c CRS) Equal(o CRS) bool { return c.ID == o.ID }

func (c CRS) String() string { return c.ID }

// EPSG returns the numeric code when the CRS was declared by EPSG code.
func (c CRS) EPSG() (int, bool) {
	if !strings.HasPrefix(c.ID, "EPSG:") {
		return 0, false
	}
	code, err := strconv.Atoi(c.ID[len("EPSG:"):])
	return code, err == nil
}

// Proj4 returns the proj4 definition when one is known.
func (c CRS) Proj4() string {
	if code, ok := c.EPSG(); ok {
		p4, _ := epsgProj4(code)
		return p4
	}
	if strings.HasPrefix(c.ID, "+") {
		return c.ID
	}
	return ""
}

// Transformer returns a point transform from c to dst.
func (c CRS) Transformer(dst CRS) (proj.Transformer, error) {
	if c.sr == nil || dst.sr == nil {
		return nil, &ProjectionError{Def: dst.ID, Err: errUninitialised}
	}
	if c.Equal(dst) {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}
	t, err := c.sr.NewTransform(dst.sr)
	if err != nil {
		return nil, &ProjectionError{Def: dst.ID, Err: err}
	}
	return t, nil
}
