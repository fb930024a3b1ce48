// Package vector holds the feature model shared by boundary and hydrology
// layers, plus readers for GeoJSON and ESRI shapefiles.
package vector

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/prl900/dem_prep/georast"
)

// Feature is one geometry with its attribute values as text.
type Feature struct {
	Geometry   geom.Geom
	Properties map[string]string
}

// Layer is a set of features sharing a CRS. Layers are not modified after
// loading; Reproject and Filter return new ones.
type Layer struct {
	Name     string
	CRS      georast.CRS
	Features []Feature
}

// Reproject returns a copy of l with every geometry transformed to dst.
func (l *Layer) Reproject(dst georast.CRS) (*Layer, error) {
	out := &Layer{Name: l.Name, CRS: dst, Features: make([]Feature, 0, len(l.Features))}
	if l.CRS.Equal(dst) {
		out.Features = append(out.Features, l.Features...)
		return out, nil
	}
	t, err := l.CRS.Transformer(dst)
	if err != nil {
		return nil, err
	}
	for i, f := range l.Features {
		g, err := f.Geometry.Transform(t)
		if err != nil {
			return nil, fmt.Errorf("layer %s: feature %d: %w", l.Name, i, err)
		}
		out.Features = append(out.Features, Feature{Geometry: g, Properties: f.Properties})
	}
	return out, nil
}

// Filter returns the features whose field equals value.
func (l *Layer) Filter(field, value string) []Feature {
	var out []Feature
	for _, f := range l.Features {
		if v, ok := f.Properties[field]; ok && v == value {
			out = append(out, f)
		}
	}
	return out
}

// Bounds returns the extent of all features, or nil for an empty layer.
func (l *Layer) Bounds() *geom.Bounds {
	if len(l.Features) == 0 {
		return nil
	}
	b := geom.NewBounds()
	for _, f := range l.Features {
		b.Extend(f.Geometry.Bounds())
	}
	return b
}

// Merge concatenates layers into one in the CRS of the first.
func Merge(name string, layers ...*Layer) (*Layer, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("no layers to merge")
	}
	out := &Layer{Name: name, CRS: layers[0].CRS}
	for _, l := range layers {
		rl, err := l.Reproject(out.CRS)
		if err != nil {
			return nil, err
		}
		out.Features = append(out.Features, rl.Features...)
	}
	return out, nil
}

// ToPolygonal flattens g into a single MultiPolygon. It fails for geometries
// without area.
func ToPolygonal(g geom.Geom) (geom.MultiPolygon, error) {
	switch t := g.(type) {
	case geom.Polygonal:
		return geom.MultiPolygon(t.Polygons()), nil
	default:
		return nil, fmt.Errorf("geometry %T has no area", g)
	}
}
