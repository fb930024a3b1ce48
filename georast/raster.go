package georast

import (
	"fmt"
	"math"
)

// DType records the sample type a raster was read as or is meant to be
// written as. Samples are always held as float32 in memory.
type DType string

const (
	Float32 DType = "float32"
	Int16   DType = "int16"
	UInt8   DType = "uint8"
	UInt16  DType = "uint16"
)

// Raster is a georeferenced, possibly multi band, pixel grid. Bands are row
// major. Operations in this package never modify their inputs.
type Raster struct {
	Grid
	Bands     [][]float32
	NoData    float64
	HasNoData bool
	DType     DType
}

// New allocates a raster on g with the given band count. When hasNoData is set
// every pixel starts as nodata, otherwise as zero.
func New(g Grid, bands int, dtype DType, nodata float64, hasNoData bool) *Raster {
	r := &Raster{Grid: g, NoData: nodata, HasNoData: hasNoData, DType: dtype}
	r.Bands = make([][]float32, bands)
	for b := range r.Bands {
		r.Bands[b] = make([]float32, g.Size())
		if hasNoData && nodata != 0 {
			fill := float32(nodata)
			for i := range r.Bands[b] {
				r.Bands[b][i] = fill
			}
		}
	}
	return r
}

// Validate checks the structural invariants of a raster.
func (r *Raster) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", r.Width, r.Height)
	}
	if len(r.Bands) == 0 {
		return fmt.Errorf("raster has no bands")
	}
	for i, b := range r.Bands {
		if len(b) != r.Size() {
			return fmt.Errorf("band %d has %d samples, want %d", i, len(b), r.Size())
		}
	}
	if r.CRS.IsZero() {
		return fmt.Errorf("raster has no CRS")
	}
	return nil
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Bands = make([][]float32, len(r.Bands))
	for i, b := range r.Bands {
		out.Bands[i] = append([]float32(nil), b...)
	}
	return &out
}

// At returns the sample of band b at (col, row).
func (r *Raster) At(b, col, row int) float32 {
	return r.Bands[b][row*r.Width+col]
}

// Valid reports whether v is a data value.
func (r *Raster) Valid(v float32) bool {
	if math.IsNaN(float64(v)) {
		return false
	}
	return !r.HasNoData || v != float32(r.NoData)
}

// fill is the value written where no data is available.
func (r *Raster) fill() float32 {
	if r.HasNoData {
		return float32(r.NoData)
	}
	return 0
}
