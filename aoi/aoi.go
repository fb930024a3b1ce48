// Package aoi resolves the area of interest from a boundary dataset.
package aoi

import (
	"context"
	"fmt"
	"io"

	"github.com/ctessum/geom"

	"github.com/prl900/dem_prep/artifact"
	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/logger"
	"github.com/prl900/dem_prep/vector"
)

// DefaultField is the country code attribute of the GISCO countries dataset.
const DefaultField = "CNTR_ID"

// Provider returns every boundary feature whose identifier equals id.
type Provider interface {
	Lookup(ctx context.Context, id string) (*vector.Layer, error)
}

// NotFoundError reports that id matched no usable boundary, or more than one.
type NotFoundError struct {
	ID      string
	Matches int
	Reason  string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("aoi %q: %s", e.ID, e.Reason)
	}
	if e.Matches == 0 {
		return fmt.Sprintf("aoi %q: no matching boundary", e.ID)
	}
	return fmt.Sprintf("aoi %q: %d boundaries match, want exactly one", e.ID, e.Matches)
}

type AOI struct {
	ID         string
	Geometry   geom.MultiPolygon
	CRS        georast.CRS
	Properties map[string]string
}

// Extract looks id up in p and requires exactly one polygonal match.
func Extract(ctx context.Context, p Provider, id string) (*AOI, error) {
	l, err := p.Lookup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up aoi %q: %w", id, err)
	}
	if n := len(l.Features); n != 1 {
		return nil, &NotFoundError{ID: id, Matches: n}
	}
	f := l.Features[0]
	mp, err := vector.ToPolygonal(f.Geometry)
	if err != nil || len(mp) == 0 {
		return nil, &NotFoundError{ID: id, Matches: 1, Reason: fmt.Sprintf("boundary is a %T, not a polygon", f.Geometry)}
	}
	a := &AOI{ID: id, Geometry: mp, CRS: l.CRS, Properties: f.Properties}
	b := a.Bounds()
	logger.L().Info("aoi_extracted", "id", id, "crs", l.CRS.String(), "polygons", len(mp),
		"bbox", fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y))
	return a, nil
}

func (a *AOI) Bounds() *geom.Bounds { return a.Geometry.Bounds() }

// BoundsWGS84 returns the AOI extent in EPSG:4326.
func (a *AOI) BoundsWGS84() (*geom.Bounds, error) {
	return georast.TransformBounds(a.Bounds(), a.CRS, georast.WGS84, 21)
}

// Layer wraps the AOI as a single feature layer.
func (a *AOI) Layer() *vector.Layer {
	return &vector.Layer{
		Name:     "aoi",
		CRS:      a.CRS,
		Features: []vector.Feature{{Geometry: a.Geometry, Properties: a.Properties}},
	}
}

// Persist writes the AOI as GeoJSON.
func (a *AOI) Persist(path string) error {
	return artifact.WriteAtomic(path, func(w io.Writer) error {
		return vector.EncodeGeoJSON(w, a.Layer())
	})
}

// FileProvider matches features of a GeoJSON or shapefile dataset on Field.
type FileProvider struct {
	Path  string
	Field string
}

func (p FileProvider) Lookup(ctx context.Context, id string) (*vector.Layer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	field := p.Field
	if field == "" {
		field = DefaultField
	}
	l, err := vector.ReadFile(p.Path, field)
	if err != nil {
		return nil, err
	}
	return &vector.Layer{Name: l.Name, CRS: l.CRS, Features: l.Filter(field, id)}, nil
}

// Load reads an AOI written by Persist.
func Load(path string) (*AOI, error) {
	l, err := vector.ReadGeoJSON(path)
	if err != nil {
		return nil, err
	}
	if n := len(l.Features); n != 1 {
		return nil, fmt.Errorf("%s: %d features, want exactly one", path, n)
	}
	f := l.Features[0]
	mp, err := vector.ToPolygonal(f.Geometry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &AOI{ID: f.Properties[DefaultField], Geometry: mp, CRS: l.CRS, Properties: f.Properties}, nil
}
