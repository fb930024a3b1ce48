package pipeline

import (
	"fmt"
	"io"
)

// Report prints the dimensions of the rendered DEM and the plane scale to
// use when the heightmap is displaced in Blender, one unit per 1000 pixels.
func Report(w io.Writer, res *Result) error {
	width, height := res.Reference.Width, res.Reference.Height
	_, err := fmt.Fprintf(w, `Blender setup
Rendered DEM dimensions: %d x %d
Plane scale suggestion:
  X: %.3f
  Y: %.3f
`, width, height, float64(width)/1000, float64(height)/1000)
	return err
}
