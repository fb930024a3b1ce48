// Package pipeline runs the DEM preparation stages for one area of interest
// and writes every product onto one shared pixel grid.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prl900/dem_prep/aoi"
	"github.com/prl900/dem_prep/artifact"
	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/hydro"
	"github.com/prl900/dem_prep/logger"
	"github.com/prl900/dem_prep/mask"
	"github.com/prl900/dem_prep/metrics"
	"github.com/prl900/dem_prep/rastreader"
	"github.com/prl900/dem_prep/render"
	"github.com/prl900/dem_prep/sentinel"
)

// Artifact file names, relative to the output directory.
const (
	AOIFile          = "aoi/aoi.geojson"
	MergedFile       = "dem_merged.grd"
	ClippedFile      = "dem_clipped.grd"
	RenderedFile     = "dem_rendered.png"
	PreviewFile      = "dem_preview.png"
	AOIMaskFile      = "aoi_mask.png"
	WaterMaskFile    = "water_mask.png"
	SatelliteRawFile = "sentinel/sentinel_rgb.tif"
	DrapedPNGFile    = "sentinel/sentinel_draped.png"
	DrapedGridFile   = "sentinel/sentinel_draped.grd"
)

// Fetcher downloads satellite imagery. *sentinel.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req sentinel.Request) (*sentinel.Image, error)
}

// Pipeline holds the collaborators of a run. New wires them from a Config;
// any of them can be replaced before Run.
type Pipeline struct {
	Config Config

	AOI    aoi.Provider
	Tiles  rastreader.ArchiveSource
	Layers rastreader.Layers
	Water  []hydro.Source
	// Satellite is nil when imagery is disabled.
	Satellite Fetcher

	closers []io.Closer
}

// Result describes the products of a successful run.
type Result struct {
	AOI       *aoi.AOI
	Tiles     int
	Reference georast.Grid
	Clipped   *georast.Raster
	Rendered  *georast.Raster
	Stretch   render.Stretch
	AOIMask   *georast.Raster
	WaterMask *georast.Raster
	// Satellite is nil when imagery is disabled.
	Satellite *georast.Raster
	Artifacts []string
}

// New builds the collaborators named by cfg.
func New(ctx context.Context, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{Config: cfg}

	if cfg.Boundary.Table != "" && cfg.PostgresURL != "" {
		pg, err := aoi.NewPostGISProvider(cfg.PostgresURL, cfg.Boundary.Table, cfg.Boundary.Field, cfg.Boundary.GeomColumn)
		if err != nil {
			return nil, err
		}
		p.AOI = pg
		p.closers = append(p.closers, pg)
	} else {
		p.AOI = aoi.FileProvider{Path: cfg.Boundary.Path, Field: cfg.Boundary.Field}
	}

	if cfg.Tiles.Bucket != "" {
		bs, err := rastreader.NewBucketSource(ctx, cfg.Tiles.Bucket, cfg.Tiles.Prefix)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Tiles = bs
		p.closers = append(p.closers, bs)
	} else {
		p.Tiles = rastreader.DirSource{Root: cfg.Tiles.Dir}
	}
	if cfg.Tiles.LayersFile != "" {
		layers, err := rastreader.ReadLayers(cfg.Tiles.LayersFile)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Layers = layers
	}

	for _, path := range cfg.Water.Paths {
		p.Water = append(p.Water, hydro.FileSource{Path: path})
	}
	if cfg.Water.Overpass {
		p.Water = append(p.Water, hydro.NewOverpassSource(cfg.OverpassURL, 3*time.Minute))
	}

	if cfg.Satellite.Enabled {
		sc := sentinel.Config{
			ClientID:     cfg.SentinelClientID,
			ClientSecret: cfg.SentinelClientSecret,
			TokenURL:     cfg.SentinelTokenURL,
			ProcessURL:   cfg.SentinelProcessURL,
			Retry:        sentinel.DefaultRetryPolicy(),
		}
		if cfg.RedisAddr != "" {
			rc := sentinel.NewRedisCache(cfg.RedisAddr, 7*24*time.Hour)
			sc.Cache = rc
			p.closers = append(p.closers, rc)
		}
		client, err := sentinel.NewClient(ctx, sc)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Satellite = client
	}
	return p, nil
}

// Close releases database, bucket and cache connections.
func (p *Pipeline) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}

// stage runs fn as the named stage, recording its duration and outcome.
func stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	metrics.ObserveStage(name, start, err)
	if err != nil {
		logger.L().Error("stage_failed", "stage", name, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.L().Debug("stage_done", "stage", name, "elapsed", time.Since(start))
	return nil
}

// Run executes the stages in order and stops at the first failure. Artifacts
// written before a failure are complete and stay in place.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	cfg := p.Config
	if cfg.PushgatewayURL != "" {
		defer func() {
			if err := metrics.Push(cfg.PushgatewayURL, "dem_prep"); err != nil {
				logger.L().Warn("metrics_push_failed", "error", err)
			}
		}()
	}
	out := func(name string) string { return filepath.Join(cfg.OutputDir, filepath.FromSlash(name)) }

	for _, dir := range []string{"", "aoi", "sentinel"} {
		if err := artifact.CleanPartial(out(dir)); err != nil {
			return nil, err
		}
	}

	res := &Result{}
	record := func(names ...string) {
		for _, n := range names {
			res.Artifacts = append(res.Artifacts, n)
			logger.L().Info("artifact_written", "path", out(n))
		}
	}

	target, err := georast.ParseCRS(cfg.TargetCRS)
	if err != nil {
		return nil, err
	}

	// AOI
	err = stage(ctx, "aoi", func() error {
		a, err := aoi.Extract(ctx, p.AOI, cfg.CountryID)
		res.AOI = a
		return err
	})
	if err != nil {
		return nil, err
	}
	bbox, err := res.AOI.BoundsWGS84()
	if err != nil {
		return nil, err
	}

	// Tiles
	var tiles *rastreader.TileSet
	err = stage(ctx, "ingest", func() error {
		var err error
		tiles, err = rastreader.Ingest(ctx, p.Tiles, bbox, rastreader.Options{Workers: cfg.Tiles.Workers, Layers: p.Layers})
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Tiles = len(tiles.Tiles)
	if err := res.AOI.Persist(out(AOIFile)); err != nil {
		return nil, err
	}
	record(AOIFile)

	// Merge
	var merged *georast.Raster
	err = stage(ctx, "merge", func() error {
		policy, err := georast.ParseMergePolicy(cfg.MergePolicy)
		if err != nil {
			return err
		}
		if tiles.MixedCRS {
			logger.L().Warn("mixed_tile_crs", "tiles", len(tiles.Tiles))
		}
		merged, err = georast.Merge(tiles.Rasters(), georast.MergeOptions{Policy: policy})
		if err != nil {
			return err
		}
		logger.L().Info("dem_merged", "tiles", len(tiles.Tiles), "width", merged.Width, "height", merged.Height, "crs", merged.CRS.String())
		return artifact.WriteRaster(out(MergedFile), merged)
	})
	if err != nil {
		return nil, err
	}
	record(MergedFile)

	// Reproject
	var projected *georast.Raster
	projectedFile := "dem_reprojected.grd"
	if code, ok := target.EPSG(); ok {
		projectedFile = fmt.Sprintf("dem_epsg%d.grd", code)
	}
	err = stage(ctx, "reproject", func() error {
		m, err := georast.ParseResampling(cfg.Resampling, georast.DefaultResampling(merged.DType))
		if err != nil {
			return err
		}
		projected, err = georast.Reproject(merged, target, m)
		if err != nil {
			return err
		}
		logger.L().Info("dem_reprojected", "crs", target.String(), "method", m.String(), "width", projected.Width, "height", projected.Height)
		return artifact.WriteRaster(out(projectedFile), projected)
	})
	if err != nil {
		return nil, err
	}
	record(projectedFile)

	// Clip
	err = stage(ctx, "clip", func() error {
		var err error
		res.Clipped, err = georast.Clip(projected, res.AOI.Geometry, res.AOI.CRS)
		if err != nil {
			return err
		}
		res.Reference = res.Clipped.Grid
		logger.L().Info("dem_clipped", "width", res.Clipped.Width, "height", res.Clipped.Height)
		return artifact.WriteRaster(out(ClippedFile), res.Clipped)
	})
	if err != nil {
		return nil, err
	}
	record(ClippedFile)
	ref := res.Reference
	metrics.OutputPixels.Set(float64(ref.Size()))

	// Render
	err = stage(ctx, "render", func() error {
		var err error
		res.Rendered, res.Stretch, err = render.Render(res.Clipped, render.Options{Bits: cfg.Render.Bits, Percentiles: cfg.Render.percentiles()})
		if err != nil {
			return err
		}
		logger.L().Info("dem_rendered", "min", res.Stretch.Min, "max", res.Stretch.Max, "degenerate", res.Stretch.Degenerate, "bits", cfg.Render.Bits)
		if err := writeGeoPNG(out(RenderedFile), ref, func(path string) error {
			return artifact.WriteGrayPNG(path, res.Rendered)
		}); err != nil {
			return err
		}
		return artifact.WriteImage(out(PreviewFile), render.Preview(res.Clipped, res.Stretch, nil))
	})
	if err != nil {
		return nil, err
	}
	record(RenderedFile, PreviewFile)

	// Masks
	mopts := mask.Options{LineWidthPixels: cfg.LineWidthPixels}
	err = stage(ctx, "aoi_mask", func() error {
		var err error
		res.AOIMask, err = mask.RasterizeLayers(ref, mopts, res.AOI.Layer())
		if err != nil {
			return err
		}
		logger.L().Info("mask_rasterized", "mask", "aoi", "pixels", mask.Count(res.AOIMask))
		return writeGeoPNG(out(AOIMaskFile), ref, func(path string) error {
			return artifact.WriteMaskPNG(path, res.AOIMask)
		})
	})
	if err != nil {
		return nil, err
	}
	record(AOIMaskFile)

	err = stage(ctx, "water_mask", func() error {
		water, err := hydro.Load(ctx, p.Water, bbox)
		if err != nil {
			return err
		}
		res.WaterMask, err = mask.RasterizeLayers(ref, mopts, water)
		if err != nil {
			return err
		}
		logger.L().Info("mask_rasterized", "mask", "water", "features", len(water.Features), "pixels", mask.Count(res.WaterMask))
		return writeGeoPNG(out(WaterMaskFile), ref, func(path string) error {
			return artifact.WriteMaskPNG(path, res.WaterMask)
		})
	})
	if err != nil {
		return nil, err
	}
	record(WaterMaskFile)

	// Satellite
	if p.Satellite == nil {
		logger.L().Info("satellite_skipped")
		return res, nil
	}
	if err := p.drape(ctx, res, out, record); err != nil {
		return nil, err
	}
	return res, nil
}

// RunSatellite repeats only the satellite stages, draping fresh imagery onto
// the AOI and clipped DEM left in the output directory by an earlier Run.
func (p *Pipeline) RunSatellite(ctx context.Context) (*Result, error) {
	if p.Satellite == nil {
		return nil, fmt.Errorf("satellite imagery is disabled")
	}
	cfg := p.Config
	if cfg.PushgatewayURL != "" {
		defer func() {
			if err := metrics.Push(cfg.PushgatewayURL, "dem_prep"); err != nil {
				logger.L().Warn("metrics_push_failed", "error", err)
			}
		}()
	}
	out := func(name string) string { return filepath.Join(cfg.OutputDir, filepath.FromSlash(name)) }
	if err := artifact.CleanPartial(out("sentinel")); err != nil {
		return nil, err
	}

	res := &Result{}
	record := func(names ...string) {
		for _, n := range names {
			res.Artifacts = append(res.Artifacts, n)
			logger.L().Info("artifact_written", "path", out(n))
		}
	}
	var err error
	if res.AOI, err = aoi.Load(out(AOIFile)); err != nil {
		return nil, fmt.Errorf("loading aoi from an earlier run: %w", err)
	}
	if res.Clipped, err = artifact.ReadRaster(out(ClippedFile)); err != nil {
		return nil, fmt.Errorf("loading clipped dem from an earlier run: %w", err)
	}
	res.Reference = res.Clipped.Grid
	logger.L().Info("satellite_only", "aoi", res.AOI.ID, "width", res.Reference.Width, "height", res.Reference.Height, "crs", res.Reference.CRS.String())

	if err := p.drape(ctx, res, out, record); err != nil {
		return nil, err
	}
	return res, nil
}

// drape fetches imagery covering res.Reference and resamples it onto that grid.
func (p *Pipeline) drape(ctx context.Context, res *Result, out func(string) string, record func(...string)) error {
	cfg := p.Config
	ref := res.Reference
	var img *sentinel.Image
	err := stage(ctx, "satellite", func() error {
		from, to, err := cfg.Satellite.window()
		if err != nil {
			return err
		}
		req, err := sentinel.RequestForGrid(ref)
		if err != nil {
			return err
		}
		req.From, req.To = from, to
		req.MaxCloud = cfg.Satellite.MaxCloud
		req.Bands = cfg.Satellite.Bands
		img, err = p.Satellite.Fetch(ctx, req)
		if err != nil {
			return err
		}
		logger.L().Info("satellite_fetched", "width", img.Raster.Width, "height", img.Raster.Height, "cached", img.FromCache, "attempts", img.Attempts)
		if len(img.Raw) == 0 {
			return nil
		}
		return artifact.WriteBytes(out(SatelliteRawFile), img.Raw)
	})
	if err != nil {
		return err
	}
	if len(img.Raw) > 0 {
		record(SatelliteRawFile)
	}

	err = stage(ctx, "drape", func() error {
		m, err := georast.ParseResampling(cfg.Satellite.Resampling, georast.Bilinear)
		if err != nil {
			return err
		}
		res.Satellite, err = georast.ResampleTo(img.Raster, ref, m, georast.ResampleOptions{AllowPartial: cfg.Satellite.AllowPartial})
		if err != nil {
			return err
		}
		if err := artifact.WriteRaster(out(DrapedGridFile), res.Satellite); err != nil {
			return err
		}
		return writeGeoPNG(out(DrapedPNGFile), ref, func(path string) error {
			if len(res.Satellite.Bands) >= 3 {
				return artifact.WriteRGBPNG(path, res.Satellite)
			}
			return artifact.WriteGrayPNG(path, res.Satellite)
		})
	})
	if err != nil {
		return err
	}
	record(DrapedGridFile, DrapedPNGFile)
	return nil
}

// writeGeoPNG writes an image with write and georeferences it on g.
func writeGeoPNG(path string, g georast.Grid, write func(path string) error) error {
	if err := write(path); err != nil {
		return err
	}
	return artifact.WriteGeoref(path, g)
}
