package main

import (
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/prl900/dem_prep/artifact"
	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/logger"
	"github.com/prl900/dem_prep/metrics"
	"github.com/prl900/dem_prep/pipeline"
	"github.com/prl900/dem_prep/render"
)

const maxPreviewSize = 4096

// previewLayers maps preview layer names to the grids they are drawn from.
var previewLayers = map[string]string{
	"dem":       pipeline.ClippedFile,
	"satellite": pipeline.DrapedGridFile,
}

type server struct {
	dir string
	log *slog.Logger
}

func newServer(dir string) http.Handler {
	s := &server{dir: dir, log: logger.L()}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(dir)))
	mux.HandleFunc("/preview", s.preview)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// preview draws a layer of the output directory at the requested size:
// /preview?layer=dem&width=512&height=256. A missing dimension keeps the
// aspect ratio of the reference grid.
func (s *server) preview(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.log.Debug("preview_request", "url", r.URL.String())

	params := r.URL.Query()
	layer := params.Get("layer")
	if layer == "" {
		layer = "dem"
	}
	file, ok := previewLayers[layer]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown layer %q", layer), http.StatusBadRequest)
		return
	}

	rast, err := artifact.ReadRaster(filepath.Join(s.dir, filepath.FromSlash(file)))
	if err != nil {
		http.Error(w, fmt.Sprintf("Layer %s not available: %v", layer, err), http.StatusNotFound)
		return
	}

	width, err := dimension(params.Get("width"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Malformed preview request: %v", err), http.StatusBadRequest)
		return
	}
	height, err := dimension(params.Get("height"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Malformed preview request: %v", err), http.StatusBadRequest)
		return
	}
	switch {
	case width == 0 && height == 0:
		width, height = rast.Width, rast.Height
	case height == 0:
		height = max(1, width*rast.Height/rast.Width)
	case width == 0:
		width = max(1, height*rast.Width/rast.Height)
	}

	if width != rast.Width || height != rast.Height {
		sx, sy := rast.Transform.PixelSize()
		g := georast.Grid{
			CRS: rast.CRS,
			Transform: georast.NorthUp(rast.Transform[0], rast.Transform[3],
				sx*float64(rast.Width)/float64(width), sy*float64(rast.Height)/float64(height)),
			Width:  width,
			Height: height,
		}
		rast, err = georast.ResampleTo(rast, g, georast.DefaultResampling(rast.DType), georast.ResampleOptions{AllowPartial: true})
		if err != nil {
			http.Error(w, fmt.Sprintf("Error resampling %s: %v", layer, err), http.StatusInternalServerError)
			return
		}
	}

	var img image.Image
	if layer == "dem" {
		st, err := render.ComputeStretch(rast, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("Error computing stretch: %v", err), http.StatusInternalServerError)
			return
		}
		img = render.Preview(rast, st, nil)
	} else {
		img = rgbImage(rast)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := png.Encode(w, img); err != nil {
		s.log.Error("preview_encode_failed", "layer", layer, "error", err)
	}
}

func dimension(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > maxPreviewSize {
		return 0, fmt.Errorf("size %d out of range 1..%d", n, maxPreviewSize)
	}
	return n, nil
}

// rgbImage draws up to the first three bands of an 8-bit raster.
func rgbImage(r *georast.Raster) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i := 0; i < r.Size(); i++ {
		p := img.Pix[4*i : 4*i+4]
		for b := 0; b < 3; b++ {
			v := r.Bands[min(b, len(r.Bands)-1)][i]
			if r.Valid(v) {
				p[b] = uint8(min(max(v, 0), 255))
				p[3] = 255
			}
		}
	}
	return img
}
