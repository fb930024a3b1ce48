// Package mask burns vector features into {0,1} rasters on a fixed grid.
package mask

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"

	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/vector"
)

type Options struct {
	// LineWidthPixels is the width lines are buffered to, in pixels. Values
	// below 1 are raised to 1 so that thin rivers still burn.
	LineWidthPixels float64
	// CRS of the features. The zero value means the grid CRS.
	CRS georast.CRS
}

// Rasterize returns a UInt8 raster on exactly grid where every pixel touched
// by a feature is 1 and every other pixel is 0. Polygons burn the pixels
// whose centre is inside them, lines the pixels whose centre is within half
// the line width, points the pixel that contains them.
func Rasterize(grid georast.Grid, features []vector.Feature, opts Options) (*georast.Raster, error) {
	m := georast.New(grid, 1, georast.UInt8, 0, false)
	pix := m.Bands[0]
	set := func(i int) { pix[i] = 1 }

	var transform func(geom.Geom) (geom.Geom, error)
	if !opts.CRS.IsZero() && !opts.CRS.Equal(grid.CRS) {
		t, err := opts.CRS.Transformer(grid.CRS)
		if err != nil {
			return nil, err
		}
		transform = func(g geom.Geom) (geom.Geom, error) { return g.Transform(t) }
	}

	hw := math.Max(opts.LineWidthPixels, 1) / 2
	for i, f := range features {
		g := f.Geometry
		if transform != nil {
			var err error
			if g, err = transform(g); err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
		}
		if err := burn(grid, g, hw, set); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
	}
	return m, nil
}

// RasterizeLayers burns the features of every layer, in their own CRS, onto
// one mask.
func RasterizeLayers(grid georast.Grid, opts Options, layers ...*vector.Layer) (*georast.Raster, error) {
	m := georast.New(grid, 1, georast.UInt8, 0, false)
	for _, l := range layers {
		o := opts
		o.CRS = l.CRS
		lm, err := Rasterize(grid, l.Features, o)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name, err)
		}
		Or(m, lm)
	}
	return m, nil
}

// Or sets dst to dst OR src. Both masks must share a grid.
func Or(dst, src *georast.Raster) {
	for i, v := range src.Bands[0] {
		if v != 0 {
			dst.Bands[0][i] = 1
		}
	}
}

// Count returns the number of burned pixels.
func Count(m *georast.Raster) int {
	n := 0
	for _, v := range m.Bands[0] {
		if v != 0 {
			n++
		}
	}
	return n
}

func burn(grid georast.Grid, g geom.Geom, hw float64, set func(int)) error {
	switch t := g.(type) {
	case geom.Point:
		return burnPoint(grid, t, set)
	case geom.MultiPoint:
		for _, p := range t {
			if err := burnPoint(grid, p, set); err != nil {
				return err
			}
		}
		return nil
	case geom.LineString:
		return burnLine(grid, geom.Path(t), hw, set)
	case geom.MultiLineString:
		for _, l := range t {
			if err := burnLine(grid, geom.Path(l), hw, set); err != nil {
				return err
			}
		}
		return nil
	case geom.Polygonal:
		for _, p := range t.Polygons() {
			if err := georast.FillPolygon(grid, p, set); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("cannot rasterize %T", g)
}

func burnPoint(grid georast.Grid, p geom.Point, set func(int)) error {
	c, r, err := grid.Transform.Inverse(p.X, p.Y)
	if err != nil {
		return err
	}
	col, row := int(math.Floor(c)), int(math.Floor(r))
	if col >= 0 && row >= 0 && col < grid.Width && row < grid.Height {
		set(row*grid.Width + col)
	}
	return nil
}

// burnLine sets every pixel whose centre lies within hw pixels of a segment
// of path.
func burnLine(grid georast.Grid, path geom.Path, hw float64, set func(int)) error {
	pts := make([][2]float64, len(path))
	for i, p := range path {
		c, r, err := grid.Transform.Inverse(p.X, p.Y)
		if err != nil {
			return err
		}
		pts[i] = [2]float64{c, r}
	}
	if len(pts) == 1 {
		pts = append(pts, pts[0])
	}
	for i := 0; i+1 < len(pts); i++ {
		a, b := pts[i], pts[i+1]
		c0 := max(0, int(math.Floor(math.Min(a[0], b[0])-hw)))
		c1 := min(grid.Width-1, int(math.Ceil(math.Max(a[0], b[0])+hw)))
		r0 := max(0, int(math.Floor(math.Min(a[1], b[1])-hw)))
		r1 := min(grid.Height-1, int(math.Ceil(math.Max(a[1], b[1])+hw)))
		for row := r0; row <= r1; row++ {
			for col := c0; col <= c1; col++ {
				if segDist(float64(col)+0.5, float64(row)+0.5, a, b) <= hw {
					set(row*grid.Width + col)
				}
			}
		}
	}
	return nil
}

func segDist(x, y float64, a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	t := 0.0
	if l2 > 0 {
		t = math.Max(0, math.Min(1, ((x-a[0])*dx+(y-a[1])*dy)/l2))
	}
	px, py := a[0]+t*dx-x, a[1]+t*dy-y
	return math.Hypot(px, py)
}
