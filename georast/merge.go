package georast

import (
	"fmt"
	"math"
	"strings"
)

// MergePolicy decides which tile wins where valid pixels overlap. Nodata
// never overwrites valid data under any policy.
type MergePolicy int

const (
	// MergeFirst keeps the value of the earliest tile, rasterio's default.
	MergeFirst MergePolicy = iota
	// MergeLast lets the last tile in ingestion order win.
	MergeLast
	// MergeMax keeps the highest value; ties keep the earliest tile.
	MergeMax
)

func (p MergePolicy) String() string {
	switch p {
	case MergeFirst:
		return "first"
	case MergeLast:
		return "last"
	case MergeMax:
		return "max"
	}
	return fmt.Sprintf("MergePolicy(%d)", int(p))
}

// ParseMergePolicy maps a policy name; empty means MergeFirst.
func ParseMergePolicy(name string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "first":
		return MergeFirst, nil
	case "last":
		return MergeLast, nil
	case "max":
		return MergeMax, nil
	}
	return MergeFirst, fmt.Errorf("unknown merge policy %q", name)
}

// MergeOptions tunes Merge.
type MergeOptions struct {
	Policy MergePolicy
	// Tolerance is the relative pixel size difference accepted between tiles.
	Tolerance float64
}

const latticeTolerance = 1e-3

// Merge mosaics tiles into one raster covering the union of their extents.
// Tiles are combined in slice order, which makes the result deterministic.
// Tiles in a CRS other than the first tile's are warped onto the first
// tile's pixel lattice before merging.
func Merge(tiles []*Raster, opts MergeOptions) (*Raster, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("merge: no tiles")
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = 1e-6
	}

	ref := tiles[0]
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("merge: tile 0: %w", err)
	}
	if !ref.Transform.IsNorthUp() {
		return nil, &InconsistentGridError{Tile: 0, Reason: "rotated geotransform"}
	}
	resX, resY := ref.Transform.PixelSize()

	type placed struct {
		r          *Raster
		col0, row0 int
	}
	parts := make([]placed, len(tiles))
	minCol, minRow := math.MaxInt, math.MaxInt
	maxCol, maxRow := math.MinInt, math.MinInt
	nodata, hasNoData := -9999.0, false

	for i, t := range tiles {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("merge: tile %d: %w", i, err)
		}
		if !t.CRS.Equal(ref.CRS) {
			snapped, err := snapToLattice(t, ref)
			if err != nil {
				return nil, fmt.Errorf("merge: reconciling tile %d: %w", i, err)
			}
			t = snapped
		}
		if !t.Transform.IsNorthUp() {
			return nil, &InconsistentGridError{Tile: i, Reason: "rotated geotransform"}
		}
		if len(t.Bands) != len(ref.Bands) {
			return nil, &InconsistentGridError{Tile: i, Reason: fmt.Sprintf("%d bands, want %d", len(t.Bands), len(ref.Bands))}
		}
		px, py := t.Transform.PixelSize()
		if math.Abs(px-resX) > tol*resX || math.Abs(py-resY) > tol*resY {
			return nil, &InconsistentGridError{Tile: i, Reason: fmt.Sprintf("pixel size %gx%g, want %gx%g", px, py, resX, resY)}
		}
		fc := (t.Transform[0] - ref.Transform[0]) / resX
		fr := (ref.Transform[3] - t.Transform[3]) / resY
		col0, row0 := int(math.Round(fc)), int(math.Round(fr))
		if math.Abs(fc-float64(col0)) > latticeTolerance || math.Abs(fr-float64(row0)) > latticeTolerance {
			return nil, &InconsistentGridError{Tile: i, Reason: fmt.Sprintf("origin is %.4f, %.4f pixels off the lattice", fc-float64(col0), fr-float64(row0))}
		}
		if t.HasNoData && !hasNoData {
			nodata, hasNoData = t.NoData, true
		}
		parts[i] = placed{r: t, col0: col0, row0: row0}
		minCol, minRow = min(minCol, col0), min(minRow, row0)
		maxCol, maxRow = max(maxCol, col0+t.Width), max(maxRow, row0+t.Height)
	}

	g := Grid{
		CRS:       ref.CRS,
		Transform: ref.Transform.Shift(minCol, minRow),
		Width:     maxCol - minCol,
		Height:    maxRow - minRow,
	}
	out := New(g, len(ref.Bands), ref.DType, nodata, true)
	filled := make([]bool, g.Size())

	for _, p := range parts {
		t := p.r
		dc, dr := p.col0-minCol, p.row0-minRow
		// Rows of one tile land on distinct output rows, so they can be
		// combined concurrently; tiles themselves are folded in order.
		forEachRow(t.Height, func(row int) {
			for col := 0; col < t.Width; col++ {
				si := row*t.Width + col
				v := t.Bands[0][si]
				if !t.Valid(v) {
					continue
				}
				di := (row+dr)*g.Width + col + dc
				switch opts.Policy {
				case MergeFirst:
					if filled[di] {
						continue
					}
				case MergeMax:
					if filled[di] && v <= out.Bands[0][di] {
						continue
					}
				}
				for b := range out.Bands {
					out.Bands[b][di] = t.Bands[b][si]
				}
				filled[di] = true
			}
		})
	}
	return out, nil
}

// snapToLattice warps t into ref's CRS on a window of ref's pixel lattice.
func snapToLattice(t, ref *Raster) (*Raster, error) {
	sg, err := SuggestGrid(t.Grid, ref.CRS)
	if err != nil {
		return nil, err
	}
	b := sg.Bounds()
	resX, resY := ref.Transform.PixelSize()
	c0 := int(math.Floor((b.Min.X - ref.Transform[0]) / resX))
	c1 := int(math.Ceil((b.Max.X - ref.Transform[0]) / resX))
	r0 := int(math.Floor((ref.Transform[3] - b.Max.Y) / resY))
	r1 := int(math.Ceil((ref.Transform[3] - b.Min.Y) / resY))
	g := Grid{CRS: ref.CRS, Transform: ref.Transform.Shift(c0, r0), Width: c1 - c0, Height: r1 - r0}
	out, _, err := warp(t, g, DefaultResampling(t.DType))
	return out, err
}
