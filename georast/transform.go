package georast

import (
	"fmt"
	"math"
)

// Transform is a GDAL ordered affine geotransform:
//
//	x = t[0] + col*t[1] + row*t[2]
//	y = t[3] + col*t[4] + row*t[5]
//
// (col, row) address pixel corners; the centre of pixel (i, j) is (i+0.5, j+0.5).
type Transform [6]float64

// NorthUp builds a rotation free transform with origin at the upper left
// corner. pixelX and pixelY are positive sizes; rows run southwards.
func NorthUp(originX, originY, pixelX, pixelY float64) Transform {
	return Transform{originX, pixelX, 0, originY, 0, -pixelY}
}

// Forward maps pixel space to ground coordinates.
func (t Transform) Forward(col, row float64) (x, y float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// Inverse maps ground coordinates to fractional pixel space.
func (t Transform) Inverse(x, y float64) (col, row float64, err error) {
	det := t[1]*t[5] - t[2]*t[4]
	if det == 0 {
		return 0, 0, fmt.Errorf("singular geotransform %v", [6]float64(t))
	}
	dx, dy := x-t[0], y-t[3]
	col = (t[5]*dx - t[2]*dy) / det
	row = (t[1]*dy - t[4]*dx) / det
	return col, row, nil
}

// IsNorthUp reports whether the transform has no rotation terms and rows
// run southwards.
func (t Transform) IsNorthUp() bool {
	return t[2] == 0 && t[4] == 0 && t[1] > 0 && t[5] < 0
}

// PixelSize returns the absolute pixel width and height of a north-up transform.
func (t Transform) PixelSize() (float64, float64) {
	return math.Abs(t[1]), math.Abs(t[5])
}

// Shift returns the transform of a window whose upper left pixel is (col, row).
func (t Transform) Shift(col, row int) Transform {
	x, y := t.Forward(float64(col), float64(row))
	out := t
	out[0], out[3] = x, y
	return out
}
