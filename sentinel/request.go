// Package sentinel fetches Sentinel-2 imagery from the Copernicus Data
// Space Process API.
package sentinel

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"golang.org/x/image/tiff"

	"github.com/prl900/dem_prep/georast"
)

const (
	DefaultTokenURL   = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	DefaultProcessURL = "https://sh.dataspace.copernicus.eu/api/v1/process"

	crsWGS84 = "http://www.opengis.net/def/crs/EPSG/0/4326"

	// Process API request limits.
	MaxPixels = 10_000_000
	MaxDim    = 2500
)

var defaultBands = []string{"B04", "B03", "B02"}

// Request describes one image. BBox is in EPSG:4326. From and To are
// inclusive calendar days.
type Request struct {
	BBox       *geom.Bounds
	Width      int
	Height     int
	From, To   time.Time
	MaxCloud   int
	Bands      []string
	Mosaicking string
}

func (r Request) validate() error {
	switch {
	case r.BBox == nil || r.BBox.Max.X <= r.BBox.Min.X || r.BBox.Max.Y <= r.BBox.Min.Y:
		return fmt.Errorf("satellite request needs a non empty bbox")
	case r.Width <= 0 || r.Height <= 0:
		return fmt.Errorf("invalid satellite image size %dx%d", r.Width, r.Height)
	case r.Width > MaxDim || r.Height > MaxDim || r.Width*r.Height > MaxPixels:
		return fmt.Errorf("satellite image %dx%d exceeds provider limits", r.Width, r.Height)
	case r.To.Before(r.From):
		return fmt.Errorf("satellite time range ends before it starts")
	}
	if n := len(r.bands()); n != 1 && n != 3 {
		return fmt.Errorf("satellite request has %d bands, want 1 or 3", n)
	}
	return nil
}

type processRequest struct {
	Input struct {
		Bounds struct {
			BBox       [4]float64 `json:"bbox"`
			Properties struct {
				CRS string `json:"crs"`
			} `json:"properties"`
		} `json:"bounds"`
		Data []processData `json:"data"`
	} `json:"input"`
	Output struct {
		Width     int               `json:"width"`
		Height    int               `json:"height"`
		Responses []processResponse `json:"responses"`
	} `json:"output"`
	Evalscript string `json:"evalscript"`
}

type processData struct {
	Type       string `json:"type"`
	DataFilter struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		MaxCloudCoverage int `json:"maxCloudCoverage"`
	} `json:"dataFilter"`
	Processing struct {
		MosaickingOrder string `json:"mosaickingOrder"`
	} `json:"processing"`
}

type processResponse struct {
	Identifier string `json:"identifier"`
	Format     struct {
		Type string `json:"type"`
	} `json:"format"`
}

func (r Request) bands() []string {
	if len(r.Bands) == 0 {
		return defaultBands
	}
	return r.Bands
}

// Payload builds the Process API request body.
func (r Request) Payload() ([]byte, error) {
	var p processRequest
	p.Input.Bounds.BBox = [4]float64{r.BBox.Min.X, r.BBox.Min.Y, r.BBox.Max.X, r.BBox.Max.Y}
	p.Input.Bounds.Properties.CRS = crsWGS84

	var d processData
	d.Type = "sentinel-2-l2a"
	d.DataFilter.TimeRange.From = r.From.Format("2006-01-02") + "T00:00:00Z"
	d.DataFilter.TimeRange.To = r.To.Format("2006-01-02") + "T23:59:59Z"
	d.DataFilter.MaxCloudCoverage = r.MaxCloud
	d.Processing.MosaickingOrder = r.Mosaicking
	if d.Processing.MosaickingOrder == "" {
		d.Processing.MosaickingOrder = "leastCC"
	}
	p.Input.Data = []processData{d}

	p.Output.Width = r.Width
	p.Output.Height = r.Height
	var resp processResponse
	resp.Identifier = "default"
	resp.Format.Type = "image/tiff"
	p.Output.Responses = []processResponse{resp}
	p.Evalscript = evalscript(r.bands())

	return json.Marshal(p)
}

func evalscript(bands []string) string {
	quoted := make([]string, len(bands))
	samples := make([]string, len(bands))
	for i, b := range bands {
		quoted[i] = fmt.Sprintf("%q", b)
		samples[i] = "s." + b
	}
	return fmt.Sprintf(`//VERSION=3
function setup() {
  return {
    input: [%s],
    output: { bands: %d }
  };
}

function evaluatePixel(s) {
  return [%s];
}
`, strings.Join(quoted, ", "), len(bands), strings.Join(samples, ", "))
}

func cacheKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FitToLimit scales (w, h) down, keeping the aspect ratio, until neither
// side exceeds maxDim and the pixel count does not exceed maxPixels.
func FitToLimit(w, h, maxPixels, maxDim int) (int, int) {
	scale := math.Min(1, math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h)))
	fw, fh := int(float64(w)*scale), int(float64(h)*scale)
	if px := fw * fh; px > maxPixels {
		s := math.Sqrt(float64(maxPixels) / float64(px))
		fw, fh = int(float64(fw)*s), int(float64(fh)*s)
	}
	return max(1, fw), max(1, fh)
}

// RequestForGrid builds the request for imagery covering g. The image size
// follows the grid size fitted to the provider limits. The bbox is the
// grid's extent sampled on a dense lattice, taken to EPSG:4326 and padded
// by one image pixel, so that resampling onto g never runs out of coverage.
func RequestForGrid(g georast.Grid) (Request, error) {
	b, err := georast.TransformBounds(g.Bounds(), g.CRS, georast.WGS84, 21)
	if err != nil {
		return Request{}, err
	}
	w, h := FitToLimit(g.Width, g.Height, MaxPixels, MaxDim)
	px := (b.Max.X - b.Min.X) / float64(w)
	py := (b.Max.Y - b.Min.Y) / float64(h)
	b.Min.X -= px
	b.Max.X += px
	b.Min.Y -= py
	b.Max.Y += py
	return Request{BBox: b, Width: w, Height: h}, nil
}

// Decode reads a TIFF response into a UInt8 raster in EPSG:4326 spanning
// the request bbox. Zero is nodata: the provider fills areas without
// acquisitions with black.
func Decode(b []byte, req Request) (*georast.Raster, error) {
	img, err := tiff.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	rect := img.Bounds()
	w, h := rect.Dx(), rect.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}
	// A fourth TIFF sample is read as alpha, so only gray and RGB survive
	// decoding unchanged.
	nb := len(req.bands())
	if nb != 1 && nb != 3 {
		return nil, fmt.Errorf("cannot decode %d band image", nb)
	}
	bb := req.BBox
	g := georast.Grid{
		CRS:       georast.WGS84,
		Transform: georast.NorthUp(bb.Min.X, bb.Max.Y, (bb.Max.X-bb.Min.X)/float64(w), (bb.Max.Y-bb.Min.Y)/float64(h)),
		Width:     w,
		Height:    h,
	}
	r := georast.New(g, nb, georast.UInt8, 0, true)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(rect.Min.X+x, rect.Min.Y+y)).(color.NRGBA)
			vals := [3]uint8{c.R, c.G, c.B}
			if nb == 1 {
				vals[0] = color.GrayModel.Convert(c).(color.Gray).Y
			}
			for band := 0; band < nb; band++ {
				r.Bands[band][y*w+x] = float32(vals[band])
			}
		}
	}
	return r, nil
}
