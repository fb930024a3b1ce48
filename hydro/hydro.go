// Package hydro loads lakes and rivers for the water mask.
package hydro

import (
	"context"
	"fmt"

	"github.com/ctessum/geom"

	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/logger"
	"github.com/prl900/dem_prep/vector"
)

// Source yields water features overlapping bbox, given in EPSG:4326.
type Source interface {
	Load(ctx context.Context, bbox *geom.Bounds) (*vector.Layer, error)
}

// FileSource reads a GeoJSON file, a shapefile or a zipped shapefile, such
// as the Natural Earth lakes and rivers datasets.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context, bbox *geom.Bounds) (*vector.Layer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := vector.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	return clipToBounds(l, bbox)
}

// clipToBounds drops the features of l whose extent misses bbox.
func clipToBounds(l *vector.Layer, bbox *geom.Bounds) (*vector.Layer, error) {
	local, err := georast.TransformBounds(bbox, georast.WGS84, l.CRS, 21)
	if err != nil {
		return nil, err
	}
	out := &vector.Layer{Name: l.Name, CRS: l.CRS}
	for _, f := range l.Features {
		if f.Geometry.Bounds().Overlaps(local) {
			out.Features = append(out.Features, f)
		}
	}
	return out, nil
}

// Load reads every source and merges the results into one layer in the CRS
// of the first.
func Load(ctx context.Context, sources []Source, bbox *geom.Bounds) (*vector.Layer, error) {
	var layers []*vector.Layer
	for i, s := range sources {
		l, err := s.Load(ctx, bbox)
		if err != nil {
			return nil, fmt.Errorf("water source %d: %w", i, err)
		}
		logger.L().Debug("water_layer_loaded", "layer", l.Name, "features", len(l.Features))
		layers = append(layers, l)
	}
	if len(layers) == 0 {
		return &vector.Layer{Name: "water", CRS: georast.WGS84}, nil
	}
	return vector.Merge("water", layers...)
}
