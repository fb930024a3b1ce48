package rastreader

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"unsafe"

	"github.com/ctessum/geom"
	"github.com/golang/snappy"

	"github.com/prl900/dem_prep/georast"
)

const snpExt = ".snp"

// snpTile is a snappy tile parsed from its name, <layer>_<x>_<y>.snp, where
// (x, y) is the upper left corner in tile extent units.
type snpTile struct {
	layer Layer
	x, y  int
}

func parseSnpName(name string, layers Layers) (snpTile, bool) {
	base := path.Base(name)
	if !strings.HasSuffix(base, snpExt) {
		return snpTile{}, false
	}
	parts := strings.Split(strings.TrimSuffix(base, snpExt), "_")
	if len(parts) < 3 {
		return snpTile{}, false
	}
	x, errX := strconv.Atoi(parts[len(parts)-2])
	y, errY := strconv.Atoi(parts[len(parts)-1])
	if errX != nil || errY != nil {
		return snpTile{}, false
	}
	layer, ok := layers[strings.Join(parts[:len(parts)-2], "_")]
	if !ok {
		return snpTile{}, false
	}
	return snpTile{layer: layer, x: x, y: y}, true
}

// SnpTileName formats the object name of tile (x, y) of a layer.
func SnpTileName(layer string, x, y int) string {
	return fmt.Sprintf("%s_%+04d_%+04d%s", layer, x, y, snpExt)
}

func (t snpTile) grid() (georast.Grid, error) {
	crs, err := t.layer.crs()
	if err != nil {
		return georast.Grid{}, err
	}
	ext := t.layer.TileExtent
	return georast.Grid{
		CRS:       crs,
		Transform: georast.NorthUp(float64(t.x)*ext, float64(t.y)*ext, ext/float64(t.layer.XSize), ext/float64(t.layer.YSize)),
		Width:     t.layer.XSize,
		Height:    t.layer.YSize,
	}, nil
}

func (t snpTile) footprint() (*geom.Bounds, georast.CRS, error) {
	g, err := t.grid()
	if err != nil {
		return nil, georast.CRS{}, err
	}
	return g.Bounds(), g.CRS, nil
}

// decode decompresses a tile and widens its samples to float32.
func (t snpTile) decode(cdata []byte) (*georast.Raster, error) {
	g, err := t.grid()
	if err != nil {
		return nil, err
	}
	data, err := snappy.Decode(nil, cdata)
	if err != nil {
		return nil, fmt.Errorf("decompressing tile: %w", err)
	}

	dt := georast.DType(t.layer.DType)
	r := georast.New(g, 1, dt, float64(t.layer.NoData), true)
	pix := r.Bands[0]
	n := g.Size()

	switch dt {
	case georast.UInt8:
		if len(data) != n {
			return nil, fmt.Errorf("tile holds %d bytes, want %d", len(data), n)
		}
		for i, v := range data {
			pix[i] = float32(v)
		}
	case georast.Int16:
		if len(data) != 2*n {
			return nil, fmt.Errorf("tile holds %d bytes, want %d", len(data), 2*n)
		}
		src := unsafe.Slice((*int16)(unsafe.Pointer(&data[0])), n)
		for i, v := range src {
			pix[i] = float32(v)
		}
	case georast.Float32:
		if len(data) != 4*n {
			return nil, fmt.Errorf("tile holds %d bytes, want %d", len(data), 4*n)
		}
		copy(pix, unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), n))
	default:
		return nil, fmt.Errorf("unsupported tile dtype %q", dt)
	}
	return r, nil
}
