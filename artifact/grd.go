package artifact

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/golang/snappy"

	"github.com/prl900/dem_prep/georast"
)

const grdMagic = "DEMGRD1\n"

// maxHeader bounds the JSON header so a corrupt length cannot trigger a huge
// allocation.
const maxHeader = 1 << 20

type grdHeader struct {
	CRS       string     `json:"crs"`
	Transform [6]float64 `json:"transform"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Bands     int        `json:"bands"`
	DType     string     `json:"dtype"`
	NoData    string     `json:"nodata"`
	HasNoData bool       `json:"has_nodata"`
}

// EncodeRaster writes r in the grd format: magic, a length prefixed JSON
// header carrying CRS and geotransform, then one snappy block of little
// endian float32 samples per band.
func EncodeRaster(w io.Writer, r *georast.Raster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	h := grdHeader{
		CRS:       r.CRS.ID,
		Transform: r.Transform,
		Width:     r.Width,
		Height:    r.Height,
		Bands:     len(r.Bands),
		DType:     string(r.DType),
		NoData:    strconv.FormatFloat(r.NoData, 'g', -1, 64),
		HasNoData: r.HasNoData,
	}
	hb, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, grdMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(hb))); err != nil {
		return err
	}
	if _, err := w.Write(hb); err != nil {
		return err
	}

	raw := make([]byte, 4*r.Size())
	for _, band := range r.Bands {
		for i, v := range band {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
		}
		block := snappy.Encode(nil, raw)
		if err := binary.Write(w, binary.BigEndian, uint32(len(block))); err != nil {
			return err
		}
		if _, err := w.Write(block); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(rd io.Reader) (grdHeader, georast.Grid, error) {
	var h grdHeader
	magic := make([]byte, len(grdMagic))
	if _, err := io.ReadFull(rd, magic); err != nil {
		return h, georast.Grid{}, fmt.Errorf("reading grd magic: %w", err)
	}
	if string(magic) != grdMagic {
		return h, georast.Grid{}, fmt.Errorf("not a grd stream")
	}
	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return h, georast.Grid{}, err
	}
	if n > maxHeader {
		return h, georast.Grid{}, fmt.Errorf("grd header too large: %d bytes", n)
	}
	hb := make([]byte, n)
	if _, err := io.ReadFull(rd, hb); err != nil {
		return h, georast.Grid{}, err
	}
	if err := json.Unmarshal(hb, &h); err != nil {
		return h, georast.Grid{}, fmt.Errorf("decoding grd header: %w", err)
	}
	crs, err := georast.ParseCRS(h.CRS)
	if err != nil {
		return h, georast.Grid{}, err
	}
	if h.Width <= 0 || h.Height <= 0 || h.Bands <= 0 {
		return h, georast.Grid{}, fmt.Errorf("invalid grd dimensions %dx%dx%d", h.Width, h.Height, h.Bands)
	}
	return h, georast.Grid{CRS: crs, Transform: h.Transform, Width: h.Width, Height: h.Height}, nil
}

// DecodeHeader reads only the grid of a grd stream.
func DecodeHeader(rd io.Reader) (georast.Grid, error) {
	_, g, err := readHeader(rd)
	return g, err
}

// DecodeRaster reads a full grd stream.
func DecodeRaster(rd io.Reader) (*georast.Raster, error) {
	h, g, err := readHeader(rd)
	if err != nil {
		return nil, err
	}
	nodata, err := strconv.ParseFloat(h.NoData, 64)
	if err != nil {
		return nil, fmt.Errorf("grd nodata %q: %w", h.NoData, err)
	}
	r := &georast.Raster{Grid: g, NoData: nodata, HasNoData: h.HasNoData, DType: georast.DType(h.DType)}
	for b := 0; b < h.Bands; b++ {
		var n uint32
		if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("band %d: %w", b, err)
		}
		block := make([]byte, n)
		if _, err := io.ReadFull(rd, block); err != nil {
			return nil, fmt.Errorf("band %d: %w", b, err)
		}
		raw, err := snappy.Decode(nil, block)
		if err != nil {
			return nil, fmt.Errorf("band %d: decompressing: %w", b, err)
		}
		if len(raw) != 4*g.Size() {
			return nil, fmt.Errorf("band %d: %d bytes, want %d", b, len(raw), 4*g.Size())
		}
		band := make([]float32, g.Size())
		for i := range band {
			band[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		r.Bands = append(r.Bands, band)
	}
	return r, nil
}

// WriteRaster atomically writes r to path.
func WriteRaster(path string, r *georast.Raster) error {
	return WriteAtomic(path, func(w io.Writer) error { return EncodeRaster(w, r) })
}

// ReadRaster reads a grd file.
func ReadRaster(path string) (*georast.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := DecodeRaster(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}
