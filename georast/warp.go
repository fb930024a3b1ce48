package georast

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
)

// SuggestGrid computes the grid a raster on src should be warped to in dst.
// The bounds come from a densified outline plus an interior lattice; the
// pixel size keeps the number of pixels along the diagonal, the rule GDAL
// uses for its suggested warp output.
func SuggestGrid(src Grid, dst CRS) (Grid, error) {
	t, err := src.CRS.Transformer(dst)
	if err != nil {
		return Grid{}, err
	}

	const steps = 20
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			col := float64(src.Width) * float64(i) / steps
			row := float64(src.Height) * float64(j) / steps
			x, y := src.Transform.Forward(col, row)
			tx, ty, err := t(x, y)
			if err != nil || math.IsNaN(tx) || math.IsNaN(ty) || math.IsInf(tx, 0) || math.IsInf(ty, 0) {
				continue
			}
			minX, maxX = math.Min(minX, tx), math.Max(maxX, tx)
			minY, maxY = math.Min(minY, ty), math.Max(maxY, ty)
		}
	}
	if minX >= maxX || minY >= maxY {
		return Grid{}, &ProjectionError{Def: dst.ID, Err: errNoTransformablePoints}
	}

	diagPixels := math.Hypot(float64(src.Width), float64(src.Height))
	res := math.Hypot(maxX-minX, maxY-minY) / diagPixels
	w := int((maxX-minX)/res + 0.5)
	h := int((maxY-minY)/res + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Grid{CRS: dst, Transform: NorthUp(minX, maxY, res, res), Width: w, Height: h}, nil
}

// Reproject warps r into dst on the grid SuggestGrid picks. Reprojecting a
// raster that is already in dst returns an identical copy, so the operation
// is idempotent.
func Reproject(r *Raster, dst CRS, m Resampling) (*Raster, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if dst.IsZero() {
		return nil, &ProjectionError{Def: dst.ID, Err: errUninitialised}
	}
	if r.CRS.Equal(dst) {
		return r.Clone(), nil
	}
	g, err := SuggestGrid(r.Grid, dst)
	if err != nil {
		return nil, err
	}
	out, _, err := warp(r, g, m)
	return out, err
}

// ResampleOptions tunes ResampleTo.
type ResampleOptions struct {
	// AllowPartial accepts a source that covers only part of the target.
	// Uncovered pixels are then nodata (or zero when the source has none).
	AllowPartial bool
}

// ResampleTo moves r onto exactly ref: the output has ref's CRS, transform
// and size, so it is pixel for pixel stackable with anything else on ref.
func ResampleTo(r *Raster, ref Grid, m Resampling, opts ResampleOptions) (*Raster, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if ref.Width <= 0 || ref.Height <= 0 || ref.CRS.IsZero() {
		return nil, &ProjectionError{Def: ref.CRS.ID, Err: errUninitialised}
	}
	out, uncovered, err := warp(r, ref, m)
	if err != nil {
		return nil, err
	}
	if uncovered > 0 && !opts.AllowPartial {
		return nil, &GridMismatchError{Uncovered: uncovered, Total: ref.Size()}
	}
	return out, nil
}

// warp samples r at the centre of every pixel of dst. It returns the number of
// destination pixels whose centre falls outside the source extent.
func warp(r *Raster, dst Grid, m Resampling) (*Raster, int, error) {
	t, err := dst.CRS.Transformer(r.CRS)
	if err != nil {
		return nil, 0, err
	}
	if _, _, err := r.Transform.Inverse(0, 0); err != nil {
		return nil, 0, err
	}

	nodata, hasNoData := r.NoData, r.HasNoData
	if !hasNoData && r.DType == Float32 {
		nodata, hasNoData = -9999, true
	}
	out := New(dst, len(r.Bands), r.DType, nodata, hasNoData)
	fill := out.fill()

	var uncovered int64
	forEachRow(dst.Height, func(row int) {
		var miss int64
		for col := 0; col < dst.Width; col++ {
			idx := row*dst.Width + col
			x, y := dst.Center(col, row)
			sx, sy, err := t(x, y)
			if err != nil || math.IsNaN(sx) || math.IsNaN(sy) {
				miss++
				continue
			}
			sc, sr, _ := r.Transform.Inverse(sx, sy)
			if sc < 0 || sr < 0 || sc > float64(r.Width) || sr > float64(r.Height) {
				miss++
				continue
			}
			for b := range r.Bands {
				if v, ok := r.sample(b, sc, sr, m); ok {
					out.Bands[b][idx] = v
				} else {
					out.Bands[b][idx] = fill
				}
			}
		}
		atomic.AddInt64(&uncovered, miss)
	})

	return out, int(uncovered), nil
}

// forEachRow calls fn for rows 0..n-1 on at most GOMAXPROCS goroutines and
// returns once every row is done. fn must only touch its own row.
func forEachRow(n int, fn func(row int)) {
	workers := min(runtime.GOMAXPROCS(0), n)
	rows := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for row := range rows {
				fn(row)
			}
		}()
	}
	for row := 0; row < n; row++ {
		rows <- row
	}
	close(rows)
	wg.Wait()
}
