package georast

import (
	"errors"
	"fmt"
)

// ProjectionError reports an invalid or unsupported CRS, or a coordinate that
// could not be transformed.
type ProjectionError struct {
	Def string
	Err error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection %q: %v", e.Def, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// InconsistentGridError reports rasters that cannot share a pixel lattice.
type InconsistentGridError struct {
	Tile   int
	Reason string
}

func (e *InconsistentGridError) Error() string {
	return fmt.Sprintf("inconsistent grid at tile %d: %s", e.Tile, e.Reason)
}

// EmptyIntersectionError reports a clip geometry that does not overlap the raster.
type EmptyIntersectionError struct {
	Raster [4]float64
	Geom   [4]float64
}

func (e *EmptyIntersectionError) Error() string {
	return fmt.Sprintf("geometry bounds %v do not intersect raster bounds %v", e.Geom, e.Raster)
}

// GridMismatchError reports a source that does not fully cover the target grid.
type GridMismatchError struct {
	Uncovered int
	Total     int
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("source covers the reference grid only partially: %d of %d pixels uncovered", e.Uncovered, e.Total)
}

var errNoTransformablePoints = errors.New("no point of the extent could be transformed")

var errUninitialised = errors.New("uninitialised CRS or grid")
