// Package render rescales elevation rasters to 8 or 16 bit grayscale.
package render

import (
	"fmt"
	"math"
	"sort"

	"github.com/prl900/dem_prep/georast"
)

type Options struct {
	// Bits is 8 or 16. Zero means 16.
	Bits int
	// Percentiles, when set, clips the stretch to the given lower and upper
	// percentiles of the valid samples instead of their min and max.
	Percentiles *[2]float64
}

// Stretch is the value range mapped onto the output range.
type Stretch struct {
	Min, Max   float64
	Valid      int
	Degenerate bool
}

// ComputeStretch scans band 0 of r.
func ComputeStretch(r *georast.Raster, pct *[2]float64) (Stretch, error) {
	s := Stretch{Min: math.Inf(1), Max: math.Inf(-1)}
	var vals []float64
	for _, v := range r.Bands[0] {
		if !r.Valid(v) {
			continue
		}
		f := float64(v)
		s.Valid++
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
		if pct != nil {
			vals = append(vals, f)
		}
	}
	if s.Valid == 0 {
		return Stretch{Degenerate: true}, nil
	}
	if pct != nil {
		lo, hi := pct[0], pct[1]
		if lo < 0 || hi > 100 || lo >= hi {
			return Stretch{}, fmt.Errorf("invalid percentiles %v", *pct)
		}
		sort.Float64s(vals)
		s.Min = percentile(vals, lo)
		s.Max = percentile(vals, hi)
	}
	s.Degenerate = s.Max <= s.Min
	return s, nil
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	rank := p * float64(len(sorted)-1) / 100
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}

// Render maps band 0 of r linearly so that the stretch minimum becomes 0 and
// the maximum becomes the full scale of the output. Nodata becomes 0. A
// degenerate stretch yields a constant mid range raster. r is not modified.
func Render(r *georast.Raster, opts Options) (*georast.Raster, Stretch, error) {
	bits := opts.Bits
	if bits == 0 {
		bits = 16
	}
	var full float64
	var dt georast.DType
	switch bits {
	case 8:
		full, dt = math.MaxUint8, georast.UInt8
	case 16:
		full, dt = math.MaxUint16, georast.UInt16
	default:
		return nil, Stretch{}, fmt.Errorf("unsupported bit depth %d", bits)
	}

	s, err := ComputeStretch(r, opts.Percentiles)
	if err != nil {
		return nil, s, err
	}

	out := georast.New(r.Grid, 1, dt, 0, false)
	pix := out.Bands[0]
	if s.Degenerate {
		mid := float32((full + 1) / 2)
		for i := range pix {
			pix[i] = mid
		}
		return out, s, nil
	}

	scale := full / (s.Max - s.Min)
	for i, v := range r.Bands[0] {
		if !r.Valid(v) {
			continue
		}
		o := math.Round((float64(v) - s.Min) * scale)
		pix[i] = float32(math.Max(0, math.Min(full, o)))
	}
	return out, s, nil
}
