package rastreader

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/golang/snappy"

	"github.com/prl900/dem_prep/artifact"
	"github.com/prl900/dem_prep/georast"
)

func bounds(x0, y0, x1, y1 float64) *geom.Bounds {
	return &geom.Bounds{Min: geom.Point{X: x0, Y: y0}, Max: geom.Point{X: x1, Y: y1}}
}

// hgtBytes builds an n x n tile whose sample i is base+i, with sample 0 void.
func hgtBytes(n int, base int16) []byte {
	b := make([]byte, 2*n*n)
	for i := 0; i < n*n; i++ {
		v := base + int16(i)
		if i == 0 {
			v = hgtVoid
		}
		binary.BigEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func TestParseHGTName(t *testing.T) {
	for _, tc := range []struct {
		name     string
		lat, lon int
		ok       bool
	}{
		{"N37E127.hgt", 37, 127, true},
		{"srtm/S08W079.hgt.zip", -8, -79, true},
		{"n00e000.HGT", 0, 0, true},
		{"N37E127.tif", 0, 0, false},
		{"X37E127.hgt", 0, 0, false},
		{"N95E127.hgt", 0, 0, false},
	} {
		got, ok := parseHGTName(tc.name)
		if ok != tc.ok || (ok && (got.lat != tc.lat || got.lon != tc.lon)) {
			t.Errorf("parseHGTName(%q) = %+v, %v", tc.name, got, ok)
		}
	}
	if got := HGTName(-8, -79); got != "S08W079.hgt" {
		t.Errorf("HGTName = %s", got)
	}
}

func TestDecodeHGT(t *testing.T) {
	r, err := hgtTile{lat: 37, lon: 127}.decode(hgtBytes(5, 100))
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 5 || r.Height != 5 || r.DType != georast.Int16 {
		t.Fatalf("raster %dx%d %s", r.Width, r.Height, r.DType)
	}
	// 5 samples span one degree, so pixels are a quarter degree wide and the
	// extent grows by an eighth of a degree on each side.
	b := r.Bounds()
	if math.Abs(b.Min.X-126.875) > 1e-9 || math.Abs(b.Max.Y-38.125) > 1e-9 {
		t.Errorf("bounds = %+v", b)
	}
	if r.Valid(r.At(0, 0, 0)) {
		t.Error("void sample is valid")
	}
	if got := r.At(0, 1, 0); got != 101 {
		t.Errorf("sample (1,0) = %v", got)
	}
	if _, err := (hgtTile{}).decode(make([]byte, 7)); err == nil {
		t.Error("expected error for non square tile")
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestHGTOverlapAndOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b", "N37E127.hgt"), hgtBytes(5, 200))
	writeFile(t, filepath.Join(dir, "a", "N37E126.hgt"), hgtBytes(5, 100))
	writeFile(t, filepath.Join(dir, "N10E010.hgt"), hgtBytes(5, 0))
	writeFile(t, filepath.Join(dir, "README.txt"), []byte("not a tile"))

	ts, err := Ingest(context.Background(), DirSource{Root: dir}, bounds(126.5, 37.2, 127.5, 37.8), Options{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(ts.Tiles) != 2 {
		t.Fatalf("got %d tiles", len(ts.Tiles))
	}
	if ts.Tiles[0].Archive != "a/N37E126.hgt" || ts.Tiles[1].Archive != "b/N37E127.hgt" {
		t.Errorf("order = %s, %s", ts.Tiles[0].Archive, ts.Tiles[1].Archive)
	}
	if ts.MixedCRS {
		t.Error("tiles flagged as mixed CRS")
	}
	if ts.Scanned != 4 {
		t.Errorf("scanned = %d", ts.Scanned)
	}
}

func TestIngestNoTiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "N10E010.hgt"), hgtBytes(5, 0))

	_, err := Ingest(context.Background(), DirSource{Root: dir}, bounds(126.5, 37.2, 127.5, 37.8), Options{})
	var nf *NoTilesFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v", err)
	}
	if nf.Scanned != 1 || nf.Source != dir {
		t.Errorf("error = %+v", nf)
	}
}

func TestIngestZippedGrd(t *testing.T) {
	dir := t.TempDir()
	g := georast.Grid{
		CRS:       georast.MustParseCRS("EPSG:5179"),
		Transform: georast.NorthUp(950000, 1960000, 1000, 1000),
		Width:     10,
		Height:    10,
	}
	r := georast.New(g, 1, georast.Float32, -9999, true)
	for i := range r.Bands[0] {
		r.Bands[0][i] = float32(i)
	}
	far := r.Clone()
	far.Transform = georast.NorthUp(1500000, 1500000, 1000, 1000)

	f, err := os.Create(filepath.Join(dir, "dem.zip"))
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, ras := range map[string]*georast.Raster{"tiles/near.grd": r, "tiles/far.grd": far} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := artifact.EncodeRaster(w, ras); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	// the near tile spans roughly 126.93-127.05E, 37.55-37.64N
	ts, err := Ingest(context.Background(), DirSource{Root: dir}, bounds(126.8, 37.4, 127.1, 37.7), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ts.Tiles) != 1 || ts.Tiles[0].Member != "tiles/near.grd" || ts.Tiles[0].Archive != "dem.zip" {
		t.Fatalf("tiles = %+v", ts.Tiles)
	}
	if !ts.Tiles[0].Raster.Grid.Equal(g) {
		t.Errorf("grid = %+v", ts.Tiles[0].Raster.Grid)
	}
}

func TestIngestSnappyTiles(t *testing.T) {
	dir := t.TempDir()
	layers := Layers{"dem": {Name: "dem", XSize: 4, YSize: 4, TileExtent: 1, DType: "float32", NoData: -1, Proj4: "EPSG:4326"}}

	raw := make([]byte, 4*16)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(i)+0.5))
	}
	writeFile(t, filepath.Join(dir, SnpTileName("dem", 127, 38)), snappy.Encode(nil, raw))
	writeFile(t, filepath.Join(dir, SnpTileName("dem", 100, 38)), snappy.Encode(nil, raw))
	writeFile(t, filepath.Join(dir, SnpTileName("other", 127, 38)), snappy.Encode(nil, raw))

	ts, err := Ingest(context.Background(), DirSource{Root: dir}, bounds(127.2, 37.2, 127.8, 37.8), Options{Layers: layers})
	if err != nil {
		t.Fatal(err)
	}
	if len(ts.Tiles) != 1 || ts.Tiles[0].Archive != "dem_+127_+038.snp" {
		t.Fatalf("tiles = %+v", ts.Tiles)
	}
	r := ts.Tiles[0].Raster
	if r.At(0, 1, 1) != 5.5 {
		t.Errorf("sample (1,1) = %v", r.At(0, 1, 1))
	}
	if x, y := r.Transform.Forward(0, 0); x != 127 || y != 38 {
		t.Errorf("origin = %v, %v", x, y)
	}
}

func TestReadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layers.json")
	writeFile(t, path, []byte(`{"dem": {"x_size": 400, "y_size": 400, "tile_extent": 10000,
		"proj4": "EPSG:3035", "no_data": -9999, "palette": [{"R":0,"G":0,"B":0,"A":255}]}}`))
	lyrs, err := ReadLayers(path)
	if err != nil {
		t.Fatal(err)
	}
	l := lyrs["dem"]
	if l.Name != "dem" || l.DType != "uint8" || len(l.Palette) != 1 {
		t.Errorf("layer = %+v", l)
	}

	writeFile(t, path, []byte(`{"dem": {"x_size": 0}}`))
	if _, err := ReadLayers(path); err == nil {
		t.Error("expected error for zero sized layer")
	}

	writeFile(t, path, []byte(`{"dem": {"x_size": 4, "y_size": 4, "tile_extent": 1, "proj4": "EPSG:999999"}}`))
	if _, err := ReadLayers(path); err == nil {
		t.Error("expected error for unparsable proj4")
	}
}

func TestIngestBadLayerCRS(t *testing.T) {
	dir := t.TempDir()
	layers := Layers{"dem": {Name: "dem", XSize: 4, YSize: 4, TileExtent: 1, DType: "float32", Proj4: "EPSG:999999"}}
	writeFile(t, filepath.Join(dir, SnpTileName("dem", 127, 38)), snappy.Encode(nil, make([]byte, 4*16)))

	_, err := Ingest(context.Background(), DirSource{Root: dir}, bounds(127.2, 37.2, 127.8, 37.8), Options{Layers: layers})
	var nf *NoTilesFoundError
	if err == nil || errors.As(err, &nf) {
		t.Fatalf("err = %v, want the layer CRS error", err)
	}
}

func TestDecodedHGTTilesMerge(t *testing.T) {
	a, err := hgtTile{lat: 37, lon: 127}.decode(hgtBytes(5, 100))
	if err != nil {
		t.Fatal(err)
	}
	b, err := hgtTile{lat: 36, lon: 127}.decode(hgtBytes(5, 200))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Transform.IsNorthUp() {
		t.Fatalf("hgt transform %v is not north up", a.Transform)
	}
	bb := a.Bounds()
	if math.Abs(bb.Min.Y-36.875) > 1e-9 || math.Abs(bb.Max.Y-38.125) > 1e-9 {
		t.Errorf("latitude span %v..%v, want 36.875..38.125", bb.Min.Y, bb.Max.Y)
	}
	m, err := georast.Merge([]*georast.Raster{a, b}, georast.MergeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// the two tiles share their edge row
	if m.Width != 5 || m.Height != 9 {
		t.Errorf("merged %dx%d, want 5x9", m.Width, m.Height)
	}
	if mb := m.Bounds(); math.Abs(mb.Min.Y-35.875) > 1e-9 || math.Abs(mb.Max.Y-38.125) > 1e-9 {
		t.Errorf("merged latitude span %v..%v", mb.Min.Y, mb.Max.Y)
	}
}
