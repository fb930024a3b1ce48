// Package rastreader finds and decodes the elevation tiles that overlap an
// area of interest. Tiles come from an ArchiveSource (a local directory or a
// GCS bucket) as SRTM .hgt files, snappy tiles described by a layer
// catalogue, .grd rasters, or zip archives holding any of these.
package rastreader

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/prl900/dem_prep/artifact"
	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/logger"
	"github.com/prl900/dem_prep/metrics"
)

// footprintDensify is the number of samples per edge used when moving tile
// and AOI extents between CRSs.
const footprintDensify = 21

type Options struct {
	// Workers bounds the number of archives read concurrently. Zero means
	// runtime.NumCPU().
	Workers int
	// Layers describes the snappy tile families. Tiles of unknown layers are
	// ignored.
	Layers Layers
}

// Tile is one decoded raster. Member is empty unless the tile came out of a
// zip archive.
type Tile struct {
	Archive string
	Member  string
	Raster  *georast.Raster
}

// TileSet holds the overlapping tiles sorted by archive then member name.
type TileSet struct {
	Tiles    []Tile
	MixedCRS bool
	Scanned  int
}

// Rasters returns the tile rasters in ingestion order.
func (ts *TileSet) Rasters() []*georast.Raster {
	out := make([]*georast.Raster, len(ts.Tiles))
	for i, t := range ts.Tiles {
		out[i] = t.Raster
	}
	return out
}

// NoTilesFoundError reports that no tile in the source overlaps the AOI.
type NoTilesFoundError struct {
	Source  string
	BBox    [4]float64
	Scanned int
}

func (e *NoTilesFoundError) Error() string {
	return fmt.Sprintf("no tiles in %s overlap bbox %v (%d entries scanned)", e.Source, e.BBox, e.Scanned)
}

// candidate is an rtree entry: the tile's EPSG:4326 footprint plus its name.
type candidate struct {
	*geom.Bounds
	name string
}

// Ingest decodes every tile of src overlapping bbox, given in EPSG:4326.
// Tiles whose name encodes their extent are filtered before being opened.
// Others are filtered once their header is decoded.
func Ingest(ctx context.Context, src ArchiveSource, bbox *geom.Bounds, opts Options) (*TileSet, error) {
	names, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	metrics.TilesScanned.Add(float64(len(names)))

	index := rtree.NewTree(25, 50)
	var work []string
	for _, name := range names {
		b, named, err := nameFootprint(name, opts.Layers)
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", name, err)
		}
		if named {
			index.Insert(candidate{Bounds: b, name: name})
		} else if embedsGrid(name) {
			work = append(work, name)
		}
	}
	for _, it := range index.SearchIntersect(bbox) {
		if c := it.(candidate); overlaps(c.Bounds, bbox) {
			work = append(work, c.name)
		}
	}
	sort.Strings(work)
	logger.L().Debug("tile_candidates", "source", src.String(), "entries", len(names), "candidates", len(work))

	results, err := readAll(ctx, src, work, bbox, opts)
	if err != nil {
		return nil, err
	}

	ts := &TileSet{Scanned: len(names)}
	for _, tiles := range results {
		ts.Tiles = append(ts.Tiles, tiles...)
	}
	if len(ts.Tiles) == 0 {
		return nil, &NoTilesFoundError{
			Source:  src.String(),
			BBox:    [4]float64{bbox.Min.X, bbox.Min.Y, bbox.Max.X, bbox.Max.Y},
			Scanned: len(names),
		}
	}
	for _, t := range ts.Tiles[1:] {
		if !t.Raster.CRS.Equal(ts.Tiles[0].Raster.CRS) {
			ts.MixedCRS = true
		}
	}
	metrics.TilesIngested.Add(float64(len(ts.Tiles)))
	logger.L().Info("tiles_ingested", "source", src.String(), "scanned", len(names), "count", len(ts.Tiles), "mixed_crs", ts.MixedCRS)
	return ts, nil
}

// readAll reads the archives in work on a bounded pool of workers. The
// result slice is indexed like work so the order does not depend on
// scheduling.
func readAll(ctx context.Context, src ArchiveSource, work []string, bbox *geom.Bounds, opts Options) ([][]Tile, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]Tile, len(work))
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				tiles, err := readArchive(ctx, src, work[j], bbox, opts.Layers)
				if err != nil {
					once.Do(func() {
						firstErr = fmt.Errorf("reading tile %s: %w", work[j], err)
						cancel()
					})
					continue
				}
				results[j] = tiles
			}
		}()
	}

feed:
	for j := range work {
		select {
		case jobs <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func readArchive(ctx context.Context, src ArchiveSource, name string, bbox *geom.Bounds, layers Layers) ([]Tile, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	if !isZip(name) {
		r, err := decodeMember(name, data, bbox, layers)
		if err != nil || r == nil {
			return nil, err
		}
		return []Tile{{Archive: name, Raster: r}}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	files := append([]*zip.File(nil), zr.File...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var tiles []Tile
	for _, f := range files {
		base := path.Base(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(base, ".") || strings.HasPrefix(f.Name, "__MACOSX") {
			continue
		}
		member, err := readMember(f)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", f.Name, err)
		}
		r, err := decodeMember(f.Name, member, bbox, layers)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", f.Name, err)
		}
		if r != nil {
			tiles = append(tiles, Tile{Archive: name, Member: f.Name, Raster: r})
		}
	}
	return tiles, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// decodeMember returns nil without error for entries that are not tiles or
// do not overlap bbox.
func decodeMember(name string, data []byte, bbox *geom.Bounds, layers Layers) (*georast.Raster, error) {
	if t, ok := parseHGTName(name); ok && !isZip(name) {
		if !overlaps(t.footprint(), bbox) {
			return nil, nil
		}
		return t.decode(data)
	}
	if t, ok := parseSnpName(name, layers); ok {
		b, crs, err := t.footprint()
		if err != nil {
			return nil, err
		}
		local, err := georast.TransformBounds(bbox, georast.WGS84, crs, footprintDensify)
		if err != nil {
			return nil, err
		}
		if !overlaps(b, local) {
			return nil, nil
		}
		return t.decode(data)
	}
	if strings.EqualFold(path.Ext(name), ".grd") {
		g, err := artifact.DecodeHeader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		local, err := georast.TransformBounds(bbox, georast.WGS84, g.CRS, footprintDensify)
		if err != nil {
			return nil, err
		}
		if !overlaps(g.Bounds(), local) {
			return nil, nil
		}
		return artifact.DecodeRaster(bytes.NewReader(data))
	}
	return nil, nil
}

// nameFootprint returns the EPSG:4326 extent encoded in an archive name.
func nameFootprint(name string, layers Layers) (*geom.Bounds, bool, error) {
	if t, ok := parseHGTName(name); ok {
		return t.footprint(), true, nil
	}
	if t, ok := parseSnpName(name, layers); ok {
		b, crs, err := t.footprint()
		if err != nil {
			return nil, false, err
		}
		wgs, err := georast.TransformBounds(b, crs, georast.WGS84, footprintDensify)
		return wgs, err == nil, err
	}
	return nil, false, nil
}

func embedsGrid(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".grd" || ext == ".zip"
}

func isZip(name string) bool {
	return strings.EqualFold(path.Ext(name), ".zip")
}

// overlaps is strict: extents that only share an edge do not overlap.
func overlaps(a, b *geom.Bounds) bool {
	return a.Min.X < b.Max.X && a.Max.X > b.Min.X && a.Min.Y < b.Max.Y && a.Max.Y > b.Min.Y
}
