package vector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"

	"github.com/prl900/dem_prep/georast"
)

type gjObject struct {
	Type       string                     `json:"type"`
	Features   []gjObject                 `json:"features,omitempty"`
	Geometry   *gjGeometry                `json:"geometry,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	CRS        *gjCRS                     `json:"crs,omitempty"`
}

type gjGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type gjCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// ReadGeoJSON reads a Feature or FeatureCollection. The CRS is taken from
// the legacy "crs" member when present, EPSG:4326 otherwise.
func ReadGeoJSON(path string) (*Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l, err := DecodeGeoJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if l.Name == "" {
		l.Name = path
	}
	return l, nil
}

// DecodeGeoJSON decodes a GeoJSON document from r.
func DecodeGeoJSON(r io.Reader) (*Layer, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var obj gjObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	l := &Layer{CRS: georast.WGS84}
	if obj.CRS != nil && obj.CRS.Properties.Name != "" {
		crs, err := georast.ParseCRS(ogcToEPSG(obj.CRS.Properties.Name))
		if err != nil {
			return nil, err
		}
		l.CRS = crs
	}

	var feats []gjObject
	switch strings.ToLower(obj.Type) {
	case "featurecollection":
		feats = obj.Features
	case "feature":
		feats = []gjObject{obj}
	default:
		g, err := DecodeGeometry(b)
		if err != nil {
			return nil, err
		}
		l.Features = append(l.Features, Feature{Geometry: g, Properties: map[string]string{}})
	}
	for i, f := range feats {
		if f.Geometry == nil {
			continue
		}
		g, err := decodeGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		l.Features = append(l.Features, Feature{Geometry: g, Properties: decodeProperties(f.Properties)})
	}
	return l, nil
}

// DecodeGeometry decodes a bare GeoJSON geometry object, as returned by
// PostGIS ST_AsGeoJSON.
func DecodeGeometry(b []byte) (geom.Geom, error) {
	var g gjGeometry
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	return decodeGeometry(&g)
}

func decodeGeometry(g *gjGeometry) (geom.Geom, error) {
	switch strings.ToLower(g.Type) {
	case "point":
		var c []float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, err
		}
		return toPoint(c)
	case "multipoint":
		var c [][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, err
		}
		path, err := toPath(c)
		return geom.MultiPoint(path), err
	case "linestring":
		var c [][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, err
		}
		path, err := toPath(c)
		return geom.LineString(path), err
	case "multilinestring":
		var c [][][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, err
		}
		var ml geom.MultiLineString
		for _, line := range c {
			path, err := toPath(line)
			if err != nil {
				return nil, err
			}
			ml = append(ml, geom.LineString(path))
		}
		return ml, nil
	case "polygon":
		var c [][][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, err
		}
		return toPolygon(c)
	case "multipolygon":
		var c [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, err
		}
		var mp geom.MultiPolygon
		for _, poly := range c {
			p, err := toPolygon(poly)
			if err != nil {
				return nil, err
			}
			mp = append(mp, p)
		}
		return mp, nil
	}
	return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
}

func toPoint(c []float64) (geom.Point, error) {
	if len(c) < 2 {
		return geom.Point{}, fmt.Errorf("position needs 2 coordinates, got %d", len(c))
	}
	return geom.Point{X: c[0], Y: c[1]}, nil
}

func toPath(c [][]float64) (geom.Path, error) {
	path := make(geom.Path, 0, len(c))
	for _, pos := range c {
		p, err := toPoint(pos)
		if err != nil {
			return nil, err
		}
		path = append(path, p)
	}
	return path, nil
}

func toPolygon(c [][][]float64) (geom.Polygon, error) {
	var poly geom.Polygon
	for _, ring := range c {
		path, err := toPath(ring)
		if err != nil {
			return nil, err
		}
		if len(path) < 3 {
			return nil, fmt.Errorf("polygon ring with %d points", len(path))
		}
		poly = append(poly, path)
	}
	if len(poly) == 0 {
		return nil, fmt.Errorf("empty polygon")
	}
	return poly, nil
}

func decodeProperties(raw map[string]json.RawMessage) map[string]string {
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			props[k] = s
			continue
		}
		props[k] = string(bytes.TrimSpace(v))
	}
	return props
}

// ogcToEPSG maps "urn:ogc:def:crs:EPSG::5179" and "urn:ogc:def:crs:OGC:1.3:CRS84"
// to EPSG identifiers.
func ogcToEPSG(name string) string {
	if strings.HasSuffix(name, "CRS84") {
		return "EPSG:4326"
	}
	if i := strings.LastIndex(name, ":"); i >= 0 && strings.Contains(strings.ToUpper(name), "EPSG") {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			return "EPSG:" + name[i+1:]
		}
	}
	return name
}

// EncodeGeoJSON writes l as a FeatureCollection.
func EncodeGeoJSON(w io.Writer, l *Layer) error {
	out := gjObject{Type: "FeatureCollection", Features: []gjObject{}}
	if code, ok := l.CRS.EPSG(); ok && code != 4326 {
		out.CRS = &gjCRS{Type: "name"}
		out.CRS.Properties.Name = fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", code)
	}
	for i, f := range l.Features {
		g, err := encodeGeometry(f.Geometry)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		props := make(map[string]json.RawMessage, len(f.Properties))
		for k, v := range f.Properties {
			b, _ := json.Marshal(v)
			props[k] = b
		}
		out.Features = append(out.Features, gjObject{Type: "Feature", Geometry: g, Properties: props})
	}
	return json.NewEncoder(w).Encode(out)
}

func encodeGeometry(g geom.Geom) (*gjGeometry, error) {
	var typ string
	var coords interface{}
	switch t := g.(type) {
	case geom.Point:
		typ, coords = "Point", pos(t)
	case geom.MultiPoint:
		typ, coords = "MultiPoint", path(geom.Path(t))
	case geom.LineString:
		typ, coords = "LineString", path(geom.Path(t))
	case geom.MultiLineString:
		var c [][][2]float64
		for _, ls := range t {
			c = append(c, path(geom.Path(ls)))
		}
		typ, coords = "MultiLineString", c
	case geom.Polygon:
		typ, coords = "Polygon", rings(t)
	case geom.MultiPolygon:
		var c [][][][2]float64
		for _, p := range t {
			c = append(c, rings(p))
		}
		typ, coords = "MultiPolygon", c
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
	b, err := json.Marshal(coords)
	if err != nil {
		return nil, err
	}
	return &gjGeometry{Type: typ, Coordinates: b}, nil
}

func pos(p geom.Point) [2]float64 { return [2]float64{p.X, p.Y} }

func path(p geom.Path) [][2]float64 {
	out := make([][2]float64, len(p))
	for i, pt := range p {
		out[i] = pos(pt)
	}
	return out
}

func rings(p geom.Polygon) [][][2]float64 {
	out := make([][][2]float64, len(p))
	for i, r := range p {
		out[i] = path(r)
	}
	return out
}
