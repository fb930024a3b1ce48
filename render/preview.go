package render

import (
	"image"
	"image/color"

	"github.com/terrascope/scimage"
	"github.com/terrascope/scimage/scicolor"

	"github.com/prl900/dem_prep/georast"
)

// TerrainPalette is the default hypsometric ramp for previews.
var TerrainPalette = []color.NRGBA{
	{R: 0x1a, G: 0x66, B: 0x3c, A: 0xff},
	{R: 0x7f, G: 0xb0, B: 0x5b, A: 0xff},
	{R: 0xe8, G: 0xd6, B: 0x8a, A: 0xff},
	{R: 0xa6, G: 0x75, B: 0x4c, A: 0xff},
	{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
}

// Preview colours band 0 of r over the stretch with a gradient palette.
func Preview(r *georast.Raster, s Stretch, palette []color.NRGBA) *image.Paletted {
	if len(palette) == 0 {
		palette = TerrainPalette
	}
	nodata := float32(r.NoData)
	if !r.HasNoData {
		nodata = float32(georast.DefaultNoData(georast.Float32))
	}
	lo, hi := float32(s.Min), float32(s.Max)
	if s.Degenerate {
		lo, hi = 0, 1
	}
	pix := make([]float32, len(r.Bands[0]))
	for i, v := range r.Bands[0] {
		if !r.Valid(v) {
			v = nodata
		}
		pix[i] = v
	}
	img := &scimage.GrayF32{Pix: pix, Stride: r.Width, Rect: image.Rect(0, 0, r.Width, r.Height), Min: lo, Max: hi, NoData: nodata}
	return img.AsPaletted(scicolor.GradientNRGBAPalette(palette))
}
