package georast

import (
	"math"

	"github.com/ctessum/geom"
)

// Grid is the pixel lattice a raster lives on. After clipping it becomes the
// reference grid every later product must match exactly.
type Grid struct {
	CRS       CRS
	Transform Transform
	Width     int
	Height    int
}

// Equal is exact: two grids are equal only if a pixel index addresses the
// same ground location in both.
func (g Grid) Equal(o Grid) bool {
	return g.CRS.Equal(o.CRS) && g.Transform == o.Transform && g.Width == o.Width && g.Height == o.Height
}

// Size returns the number of pixels.
func (g Grid) Size() int { return g.Width * g.Height }

// Bounds returns the ground extent covered by the grid.
func (g Grid) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, c := range [][2]float64{{0, 0}, {float64(g.Width), 0}, {0, float64(g.Height)}, {float64(g.Width), float64(g.Height)}} {
		x, y := g.Transform.Forward(c[0], c[1])
		b.Min.X = math.Min(b.Min.X, x)
		b.Min.Y = math.Min(b.Min.Y, y)
		b.Max.X = math.Max(b.Max.X, x)
		b.Max.Y = math.Max(b.Max.Y, y)
	}
	return b
}

// Center returns the ground coordinates of the centre of pixel (col, row).
func (g Grid) Center(col, row int) (float64, float64) {
	return g.Transform.Forward(float64(col)+0.5, float64(row)+0.5)
}

// Footprint returns the grid outline with n points per edge, so that it stays
// accurate after a non linear reprojection.
func (g Grid) Footprint(n int) geom.Polygon {
	if n < 2 {
		n = 2
	}
	w, h := float64(g.Width), float64(g.Height)
	var ring geom.Path
	edge := func(c0, r0, c1, r1 float64) {
		for i := 0; i < n-1; i++ {
			f := float64(i) / float64(n-1)
			x, y := g.Transform.Forward(c0+(c1-c0)*f, r0+(r1-r0)*f)
			ring = append(ring, geom.Point{X: x, Y: y})
		}
	}
	edge(0, h, w, h)
	edge(w, h, w, 0)
	edge(w, 0, 0, 0)
	edge(0, 0, 0, h)
	ring = append(ring, ring[0])
	return geom.Polygon{ring}
}

// TransformBounds reprojects b from src to dst by densifying its edges, and
// returns the bounds of the result.
func TransformBounds(b *geom.Bounds, src, dst CRS, n int) (*geom.Bounds, error) {
	if src.Equal(dst) {
		out := *b
		return &out, nil
	}
	t, err := src.Transformer(dst)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		n = 2
	}
	out := geom.NewBounds()
	dx := (b.Max.X - b.Min.X) / float64(n-1)
	dy := (b.Max.Y - b.Min.Y) / float64(n-1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			// full lattice: curved projections can put the extremes inside the box
			x, y, err := t(b.Min.X+float64(i)*dx, b.Min.Y+float64(j)*dy)
			if err != nil || math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
				continue
			}
			out.Min.X = math.Min(out.Min.X, x)
			out.Min.Y = math.Min(out.Min.Y, y)
			out.Max.X = math.Max(out.Max.X, x)
			out.Max.Y = math.Max(out.Max.Y, y)
		}
	}
	if out.Min.X > out.Max.X || out.Min.Y > out.Max.Y {
		return nil, &ProjectionError{Def: dst.ID, Err: errNoTransformablePoints}
	}
	return out, nil
}
