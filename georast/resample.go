package georast

import (
	"fmt"
	"math"
	"strings"
)

// Resampling selects the kernel used when a raster is moved to a new grid.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
	Cubic
)

func (m Resampling) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Cubic:
		return "cubic"
	}
	return fmt.Sprintf("Resampling(%d)", int(m))
}

// ParseResampling maps a method name to a Resampling. An empty name yields def.
func ParseResampling(name string, def Resampling) (Resampling, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return def, nil
	case "nearest", "near":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	case "cubic":
		return Cubic, nil
	}
	return def, fmt.Errorf("unknown resampling method %q", name)
}

// DefaultResampling picks nearest for categorical rasters and bilinear for
// continuous ones.
func DefaultResampling(dt DType) Resampling {
	if dt == UInt8 {
		return Nearest
	}
	return Bilinear
}

// sample reads band b of r at the fractional pixel position (col, row).
// ok is false when no valid source pixel contributes.
func (r *Raster) sample(b int, col, row float64, m Resampling) (float32, bool) {
	switch m {
	case Bilinear:
		return r.bilinear(b, col, row)
	case Cubic:
		if v, ok := r.cubic(b, col, row); ok {
			return v, true
		}
		return r.bilinear(b, col, row)
	}
	return r.nearest(b, col, row)
}

func (r *Raster) nearest(b int, col, row float64) (float32, bool) {
	i, j := int(math.Floor(col)), int(math.Floor(row))
	i, j = clampInt(i, 0, r.Width-1), clampInt(j, 0, r.Height-1)
	v := r.Bands[b][j*r.Width+i]
	return v, r.Valid(v)
}

func (r *Raster) bilinear(b int, col, row float64) (float32, bool) {
	px, py := col-0.5, row-0.5
	i0, j0 := int(math.Floor(px)), int(math.Floor(py))
	fx, fy := px-float64(i0), py-float64(j0)

	band := r.Bands[b]
	var sum, wsum float64
	for dj := 0; dj < 2; dj++ {
		wy := 1 - fy
		if dj == 1 {
			wy = fy
		}
		j := clampInt(j0+dj, 0, r.Height-1)
		for di := 0; di < 2; di++ {
			wx := 1 - fx
			if di == 1 {
				wx = fx
			}
			w := wx * wy
			if w == 0 {
				continue
			}
			v := band[j*r.Width+clampInt(i0+di, 0, r.Width-1)]
			if !r.Valid(v) {
				continue
			}
			sum += w * float64(v)
			wsum += w
		}
	}
	if wsum == 0 {
		return 0, false
	}
	return float32(sum / wsum), true
}

// cubic is a Catmull-Rom kernel. It reports !ok when any of the 16 taps is
// nodata; the caller then falls back to bilinear.
func (r *Raster) cubic(b int, col, row float64) (float32, bool) {
	px, py := col-0.5, row-0.5
	i0, j0 := int(math.Floor(px)), int(math.Floor(py))
	fx, fy := px-float64(i0), py-float64(j0)

	band := r.Bands[b]
	var sum float64
	for dj := -1; dj <= 2; dj++ {
		wy := catmullRom(float64(dj) - fy)
		j := clampInt(j0+dj, 0, r.Height-1)
		for di := -1; di <= 2; di++ {
			v := band[j*r.Width+clampInt(i0+di, 0, r.Width-1)]
			if !r.Valid(v) {
				return 0, false
			}
			sum += wy * catmullRom(float64(di)-fx) * float64(v)
		}
	}
	return float32(sum), true
}

func catmullRom(x float64) float64 {
	x = math.Abs(x)
	switch {
	case x < 1:
		return 1.5*x*x*x - 2.5*x*x + 1
	case x < 2:
		return -0.5*x*x*x + 2.5*x*x - 4*x + 2
	}
	return 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
