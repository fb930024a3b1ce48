package georast

import (
	"math"

	"github.com/ctessum/geom"
)

// snapEps absorbs floating point noise when geometry bounds sit exactly on
// pixel edges.
const snapEps = 1e-6

// Clip crops r to the bounds of g and sets every pixel whose centre falls
// outside g to nodata. g is reprojected from gCRS to the raster CRS when they
// differ. The returned raster's grid is the reference grid for all products
// derived from it.
func Clip(r *Raster, g geom.Polygonal, gCRS CRS) (*Raster, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !gCRS.Equal(r.CRS) {
		t, err := gCRS.Transformer(r.CRS)
		if err != nil {
			return nil, err
		}
		gg, err := g.Transform(t)
		if err != nil {
			return nil, &ProjectionError{Def: r.CRS.ID, Err: err}
		}
		g = gg.(geom.Polygonal)
	}

	rb := r.Bounds()
	gb := g.Bounds()
	emptyErr := &EmptyIntersectionError{
		Raster: [4]float64{rb.Min.X, rb.Min.Y, rb.Max.X, rb.Max.Y},
		Geom:   [4]float64{gb.Min.X, gb.Min.Y, gb.Max.X, gb.Max.Y},
	}
	if len(g.Polygons()) == 0 || gb.Min.X > gb.Max.X {
		return nil, emptyErr
	}

	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, p := range []geom.Point{gb.Min, gb.Max, {X: gb.Min.X, Y: gb.Max.Y}, {X: gb.Max.X, Y: gb.Min.Y}} {
		c, rr, err := r.Transform.Inverse(p.X, p.Y)
		if err != nil {
			return nil, err
		}
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
		minR, maxR = math.Min(minR, rr), math.Max(maxR, rr)
	}
	c0 := max(0, int(math.Floor(minC+snapEps)))
	r0 := max(0, int(math.Floor(minR+snapEps)))
	c1 := min(r.Width, int(math.Ceil(maxC-snapEps)))
	r1 := min(r.Height, int(math.Ceil(maxR-snapEps)))
	if c0 >= c1 || r0 >= r1 {
		return nil, emptyErr
	}

	win := Grid{CRS: r.CRS, Transform: r.Transform.Shift(c0, r0), Width: c1 - c0, Height: r1 - r0}
	nodata, hasNoData := r.NoData, r.HasNoData
	if !hasNoData {
		nodata, hasNoData = DefaultNoData(r.DType), true
	}
	out := New(win, len(r.Bands), r.DType, nodata, hasNoData)

	inside := make([]bool, win.Size())
	for _, p := range g.Polygons() {
		if err := FillPolygon(win, p, func(i int) { inside[i] = true }); err != nil {
			return nil, err
		}
	}
	for row := 0; row < win.Height; row++ {
		for col := 0; col < win.Width; col++ {
			di := row*win.Width + col
			if !inside[di] {
				continue
			}
			si := (row+r0)*r.Width + col + c0
			for b := range out.Bands {
				out.Bands[b][di] = r.Bands[b][si]
			}
		}
	}
	return out, nil
}

// DefaultNoData is the sentinel used when a raster without one needs nodata.
func DefaultNoData(dt DType) float64 {
	switch dt {
	case Int16:
		return -32768
	case UInt8, UInt16:
		return 0
	}
	return -9999
}
