package artifact

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/prl900/dem_prep/georast"
)

// WriteGrayPNG writes a single band raster as a grayscale PNG. UInt16 rasters
// become 16-bit images, UInt8 rasters 8-bit ones.
func WriteGrayPNG(path string, r *georast.Raster) error {
	if len(r.Bands) != 1 {
		return fmt.Errorf("gray png needs 1 band, got %d", len(r.Bands))
	}
	var img image.Image
	switch r.DType {
	case georast.UInt16:
		g := image.NewGray16(image.Rect(0, 0, r.Width, r.Height))
		for i, v := range r.Bands[0] {
			g.SetGray16(i%r.Width, i/r.Width, color.Gray16{Y: uint16(clamp(v, math.MaxUint16))})
		}
		img = g
	case georast.UInt8:
		g := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
		for i, v := range r.Bands[0] {
			g.Pix[i] = uint8(clamp(v, math.MaxUint8))
		}
		img = g
	default:
		return fmt.Errorf("gray png: unsupported dtype %s", r.DType)
	}
	return WriteImage(path, img)
}

// WriteMaskPNG writes a {0,1} mask as a black RGBA PNG whose alpha channel
// is the mask scaled to 255.
func WriteMaskPNG(path string, m *georast.Raster) error {
	if len(m.Bands) != 1 {
		return fmt.Errorf("mask png needs 1 band, got %d", len(m.Bands))
	}
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Bands[0] {
		if v > 0 {
			img.Pix[4*i+3] = 255
		}
	}
	return WriteImage(path, img)
}

// WriteRGBPNG writes the first three bands of an 8-bit raster as colour.
// Pixels that are nodata in every band are transparent.
func WriteRGBPNG(path string, r *georast.Raster) error {
	if len(r.Bands) < 3 {
		return fmt.Errorf("rgb png needs 3 bands, got %d", len(r.Bands))
	}
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i := 0; i < r.Size(); i++ {
		p := img.Pix[4*i : 4*i+4]
		valid := false
		for b := 0; b < 3; b++ {
			v := r.Bands[b][i]
			if r.Valid(v) {
				valid = true
				p[b] = uint8(clamp(v, math.MaxUint8))
			}
		}
		if valid {
			p[3] = 255
		}
	}
	return WriteImage(path, img)
}

// WriteImage atomically encodes img as PNG.
func WriteImage(path string, img image.Image) error {
	return WriteAtomic(path, func(w io.Writer) error { return png.Encode(w, img) })
}

func clamp(v float32, max float64) float64 {
	f := math.Round(float64(v))
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return math.Min(f, max)
}

// WriteGeoref writes the georeferencing sidecars of an image at imgPath: an
// ESRI world file (.pgw for .png, .tfw for .tif) and a .prj holding the CRS
// definition.
func WriteGeoref(imgPath string, g georast.Grid) error {
	ext := strings.ToLower(filepath.Ext(imgPath))
	base := strings.TrimSuffix(imgPath, filepath.Ext(imgPath))
	wext := ".wld"
	if len(ext) >= 3 {
		wext = "." + ext[1:2] + ext[len(ext)-1:] + "w"
	}
	if err := WriteBytes(base+wext, []byte(WorldFile(g.Transform))); err != nil {
		return err
	}
	def := g.CRS.Proj4()
	if def == "" {
		def = g.CRS.ID
	}
	return WriteBytes(base+".prj", []byte(def+"\n"))
}

// WorldFile renders t as the six lines of an ESRI world file. World files
// reference the centre of the upper left pixel.
func WorldFile(t georast.Transform) string {
	cx, cy := t.Forward(0.5, 0.5)
	var sb strings.Builder
	for _, v := range []float64{t[1], t[4], t[2], t[5], cx, cy} {
		fmt.Fprintf(&sb, "%.12f\n", v)
	}
	return sb.String()
}
