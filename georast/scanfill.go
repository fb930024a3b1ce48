package georast

import (
	"math"
	"sort"

	"github.com/ctessum/geom"
)

type edge struct {
	x0, y0, x1, y1 float64 // y0 < y1, pixel space
}

// FillPolygon calls set with the index of every pixel of g whose centre lies
// inside p, using the even-odd rule so that holes are respected. p must be in
// g's CRS.
//
// Pixel centres exactly on an edge follow a half open rule in pixel space:
// left and top edges are inside, right and bottom edges are outside. Clip and
// the mask rasterizer share this rule, so a clipped DEM and its masks agree
// on every boundary pixel.
func FillPolygon(g Grid, p geom.Polygon, set func(i int)) error {
	var edges []edge
	for _, ring := range p {
		n := len(ring)
		if n < 3 {
			continue
		}
		pts := make([][2]float64, n)
		for k, pt := range ring {
			c, r, err := g.Transform.Inverse(pt.X, pt.Y)
			if err != nil {
				return err
			}
			pts[k] = [2]float64{c, r}
		}
		for k := 0; k < n; k++ {
			a, b := pts[k], pts[(k+1)%n]
			if a[1] == b[1] {
				continue
			}
			if a[1] > b[1] {
				a, b = b, a
			}
			edges = append(edges, edge{a[0], a[1], b[0], b[1]})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].y0 < edges[j].y0 })

	yMax := math.Inf(-1)
	for _, e := range edges {
		yMax = math.Max(yMax, e.y1)
	}
	rowStart := max(0, int(math.Ceil(edges[0].y0-0.5)))
	rowEnd := min(g.Height, int(math.Ceil(yMax-0.5)))

	var active []edge
	var xs []float64
	next := 0
	for row := rowStart; row < rowEnd; row++ {
		yc := float64(row) + 0.5
		for next < len(edges) && edges[next].y0 <= yc {
			active = append(active, edges[next])
			next++
		}
		kept := active[:0]
		xs = xs[:0]
		for _, e := range active {
			if e.y1 <= yc {
				continue
			}
			kept = append(kept, e)
			xs = append(xs, e.x0+(yc-e.y0)*(e.x1-e.x0)/(e.y1-e.y0))
		}
		active = kept
		sort.Float64s(xs)
		for k := 0; k+1 < len(xs); k += 2 {
			c0 := max(0, int(math.Ceil(xs[k]-0.5)))
			c1 := min(g.Width, int(math.Ceil(xs[k+1]-0.5)))
			for col := c0; col < c1; col++ {
				set(row*g.Width + col)
			}
		}
	}
	return nil
}
