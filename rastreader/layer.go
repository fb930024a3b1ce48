package rastreader

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"

	"github.com/prl900/dem_prep/georast"
)

// Layer describes a family of snappy tiles: their CRS, the pixel block each
// tile holds and the ground size of one tile index step.
type Layer struct {
	Name       string        `json:"name"`
	Abstract   string        `json:"abstract"`
	XSize      int           `json:"x_size"`
	YSize      int           `json:"y_size"`
	TileExtent float64       `json:"tile_extent"`
	DType      string        `json:"dtype"`
	MaxVal     float32       `json:"max_value"`
	MinVal     float32       `json:"min_value"`
	NoData     float32       `json:"no_data"`
	Proj4      string        `json:"proj4"`
	Palette    []color.NRGBA `json:"palette"`
}

type Layers map[string]Layer

// ReadLayers reads the layer catalogue, a JSON object keyed by layer name.
func ReadLayers(fileName string) (Layers, error) {
	lyrs := Layers{}

	b, err := os.ReadFile(fileName)
	if err != nil {
		return lyrs, err
	}
	if err := json.Unmarshal(b, &lyrs); err != nil {
		return lyrs, fmt.Errorf("decoding layers %s: %w", fileName, err)
	}
	for name, l := range lyrs {
		if l.Name == "" {
			l.Name = name
		}
		if l.XSize <= 0 || l.YSize <= 0 || l.TileExtent <= 0 {
			return lyrs, fmt.Errorf("layer %s: tile size and extent must be positive", name)
		}
		if _, err := l.crs(); err != nil {
			return lyrs, fmt.Errorf("layer %s: %w", name, err)
		}
		if l.DType == "" {
			l.DType = string(georast.UInt8)
		}
		lyrs[name] = l
	}
	return lyrs, nil
}

func (l Layer) crs() (georast.CRS, error) {
	return georast.ParseCRS(l.Proj4)
}
