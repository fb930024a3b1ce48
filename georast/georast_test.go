package georast

import (
	"errors"
	"math"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/ctessum/geom"
)

func testRaster(t *testing.T, crs string, tr Transform, w, h int, f func(col, row int) float32) *Raster {
	t.Helper()
	c, err := ParseCRS(crs)
	if err != nil {
		t.Fatalf("ParseCRS(%q): %v", crs, err)
	}
	r := New(Grid{CRS: c, Transform: tr, Width: w, Height: h}, 1, Float32, -9999, true)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			r.Bands[0][row*w+col] = f(col, row)
		}
	}
	return r
}

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}
}

func TestTransformInverse(t *testing.T) {
	tests := []Transform{
		NorthUp(127, 38, 0.25, 0.25),
		{100, 2, 0.5, 200, 0.3, -2},
	}
	for _, tr := range tests {
		x, y := tr.Forward(3.5, 7.25)
		c, r, err := tr.Inverse(x, y)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(c-3.5) > 1e-9 || math.Abs(r-7.25) > 1e-9 {
			t.Errorf("%v: round trip gave (%v, %v)", tr, c, r)
		}
	}
	if _, _, err := (Transform{0, 0, 0, 0, 0, 0}).Inverse(1, 1); err == nil {
		t.Error("expected error for singular transform")
	}
}

func TestNorthUpRowsRunSouth(t *testing.T) {
	tr := NorthUp(127, 38, 0.25, 0.25)
	if !tr.IsNorthUp() || tr[5] != -0.25 {
		t.Fatalf("NorthUp = %v", tr)
	}
	if x, y := tr.Forward(4, 4); x != 128 || y != 37 {
		t.Errorf("lower right corner = %v, %v, want 128, 37", x, y)
	}
}

func TestForEachRowVisitsEveryRowOnce(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4*runtime.GOMAXPROCS(0) + 1, 3601} {
		seen := make([]int32, n)
		forEachRow(n, func(row int) { atomic.AddInt32(&seen[row], 1) })
		for row, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: row %d visited %d times", n, row, c)
			}
		}
	}
}

func TestMergeTallTiles(t *testing.T) {
	a := testRaster(t, "EPSG:4326", NorthUp(0, 3601, 1, 1), 3, 3601, func(c, r int) float32 { return float32(r) })
	b := testRaster(t, "EPSG:4326", NorthUp(2, 3601, 1, 1), 3, 3601, func(int, int) float32 { return -1 })
	m, err := Merge([]*Raster{a, b}, MergeOptions{Policy: MergeMax})
	if err != nil {
		t.Fatal(err)
	}
	if m.Width != 5 || m.Height != 3601 {
		t.Fatalf("merged %dx%d", m.Width, m.Height)
	}
	for row := 0; row < m.Height; row++ {
		if got := m.At(0, 2, row); got != float32(row) {
			t.Fatalf("pixel (2,%d) = %v", row, got)
		}
	}
	if got := m.At(0, 4, 100); got != -1 {
		t.Errorf("pixel (4,100) = %v, want -1", got)
	}
}

func TestParseCRS(t *testing.T) {
	tests := []struct {
		def     string
		id      string
		wantErr bool
	}{
		{def: "EPSG:4326", id: "EPSG:4326"},
		{def: "epsg:3857", id: "EPSG:3857"},
		{def: "5179", id: "EPSG:5179"},
		{def: "EPSG:32652", id: "EPSG:32652"},
		{def: "+proj=longlat  +datum=WGS84", id: "+proj=longlat +datum=WGS84"},
		{def: "EPSG:999999", wantErr: true},
		{def: "EPSG:abc", wantErr: true},
		{def: "", wantErr: true},
	}
	for _, tc := range tests {
		c, err := ParseCRS(tc.def)
		if tc.wantErr {
			var pe *ProjectionError
			if !errors.As(err, &pe) {
				t.Errorf("ParseCRS(%q) error = %v, want ProjectionError", tc.def, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCRS(%q): %v", tc.def, err)
			continue
		}
		if c.ID != tc.id {
			t.Errorf("ParseCRS(%q).ID = %q, want %q", tc.def, c.ID, tc.id)
		}
	}
}

func TestMergeUnionAndPolicies(t *testing.T) {
	// a covers cols 0-3, b covers cols 2-5 of the same lattice.
	a := testRaster(t, "EPSG:4326", NorthUp(10, 20, 1, 1), 4, 3, func(col, row int) float32 {
		if col == 3 && row == 0 {
			return -9999
		}
		return 1
	})
	b := testRaster(t, "EPSG:4326", NorthUp(12, 20, 1, 1), 4, 3, func(col, row int) float32 { return 2 })

	tests := []struct {
		policy MergePolicy
		// expected value at output col 2, row 1 (overlap, both valid)
		overlap float32
	}{
		{MergeFirst, 1},
		{MergeLast, 2},
		{MergeMax, 2},
	}
	for _, tc := range tests {
		m, err := Merge([]*Raster{a, b}, MergeOptions{Policy: tc.policy})
		if err != nil {
			t.Fatalf("%v: %v", tc.policy, err)
		}
		if m.Width != 6 || m.Height != 3 {
			t.Fatalf("%v: size %dx%d, want 6x3", tc.policy, m.Width, m.Height)
		}
		if m.Transform != NorthUp(10, 20, 1, 1) {
			t.Errorf("%v: transform %v", tc.policy, m.Transform)
		}
		if got := m.At(0, 2, 1); got != tc.overlap {
			t.Errorf("%v: overlap value %v, want %v", tc.policy, got, tc.overlap)
		}
		// a's nodata at (3,0) must be filled by b under every policy.
		if got := m.At(0, 3, 0); got != 2 {
			t.Errorf("%v: nodata cell got %v, want 2", tc.policy, got)
		}
		if got := m.At(0, 0, 0); got != 1 {
			t.Errorf("%v: a-only cell got %v", tc.policy, got)
		}
		if got := m.At(0, 5, 2); got != 2 {
			t.Errorf("%v: b-only cell got %v", tc.policy, got)
		}
	}
}

func TestMergeNoDataNeverOverwrites(t *testing.T) {
	a := testRaster(t, "EPSG:4326", NorthUp(0, 2, 1, 1), 2, 2, func(col, row int) float32 { return 5 })
	b := testRaster(t, "EPSG:4326", NorthUp(0, 2, 1, 1), 2, 2, func(col, row int) float32 { return -9999 })
	m, err := Merge([]*Raster{a, b}, MergeOptions{Policy: MergeLast})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range m.Bands[0] {
		if v != 5 {
			t.Errorf("pixel %d = %v, want 5", i, v)
		}
	}
}

func TestMergeInconsistentGrid(t *testing.T) {
	a := testRaster(t, "EPSG:4326", NorthUp(0, 10, 1, 1), 2, 2, func(int, int) float32 { return 1 })
	tests := map[string]*Raster{
		"pixel size": testRaster(t, "EPSG:4326", NorthUp(0, 10, 0.5, 0.5), 2, 2, func(int, int) float32 { return 1 }),
		"off lattice": testRaster(t, "EPSG:4326", NorthUp(0.3, 10, 1, 1), 2, 2, func(int, int) float32 { return 1 }),
		"rotated":     testRaster(t, "EPSG:4326", Transform{0, 1, 0.1, 10, 0, -1}, 2, 2, func(int, int) float32 { return 1 }),
	}
	for name, b := range tests {
		_, err := Merge([]*Raster{a, b}, MergeOptions{})
		var ig *InconsistentGridError
		if !errors.As(err, &ig) {
			t.Errorf("%s: error = %v, want InconsistentGridError", name, err)
		}
	}
}

func TestReprojectSameCRSIsCopy(t *testing.T) {
	r := testRaster(t, "EPSG:4326", NorthUp(0, 10, 1, 1), 3, 3, func(c, r int) float32 { return float32(c + 10*r) })
	out, err := Reproject(r, r.CRS, Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Grid.Equal(r.Grid) {
		t.Fatalf("grid changed: %+v", out.Grid)
	}
	out.Bands[0][0] = 42
	if r.Bands[0][0] == 42 {
		t.Error("Reproject aliased its input")
	}
}

func TestReprojectDeterministicAndIdempotent(t *testing.T) {
	r := testRaster(t, "EPSG:4326", NorthUp(126, 38, 0.01, 0.01), 40, 30, func(c, r int) float32 { return float32(c*c + r) })
	merc := MustParseCRS("EPSG:3857")

	a, err := Reproject(r, merc, Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Reproject(r, merc, Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Grid.Equal(b.Grid) {
		t.Fatalf("grids differ: %+v vs %+v", a.Grid, b.Grid)
	}
	for i := range a.Bands[0] {
		if math.Float32bits(a.Bands[0][i]) != math.Float32bits(b.Bands[0][i]) {
			t.Fatalf("pixel %d differs: %v vs %v", i, a.Bands[0][i], b.Bands[0][i])
		}
	}

	again, err := Reproject(a, merc, Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Grid.Equal(a.Grid) {
		t.Fatal("second reprojection moved the grid")
	}
	for i := range a.Bands[0] {
		if again.Bands[0][i] != a.Bands[0][i] {
			t.Fatalf("pixel %d drifted: %v vs %v", i, again.Bands[0][i], a.Bands[0][i])
		}
	}
}

func TestReprojectInvalidCRS(t *testing.T) {
	r := testRaster(t, "EPSG:4326", NorthUp(0, 10, 1, 1), 2, 2, func(int, int) float32 { return 1 })
	_, err := Reproject(r, CRS{}, Bilinear)
	var pe *ProjectionError
	if !errors.As(err, &pe) {
		t.Errorf("error = %v, want ProjectionError", err)
	}
}

func TestClipRectangle(t *testing.T) {
	r := testRaster(t, "EPSG:4326", NorthUp(0, 10, 1, 1), 10, 10, func(c, r int) float32 { return float32(c) })
	out, err := Clip(r, rect(2, 3, 6, 8), r.CRS)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 4 || out.Height != 5 {
		t.Fatalf("size %dx%d, want 4x5", out.Width, out.Height)
	}
	if out.Transform != NorthUp(2, 8, 1, 1) {
		t.Errorf("transform %v", out.Transform)
	}
	for row := 0; row < out.Height; row++ {
		for col := 0; col < out.Width; col++ {
			if got := out.At(0, col, row); got != float32(col+2) {
				t.Errorf("(%d,%d) = %v, want %v", col, row, got, col+2)
			}
		}
	}
}

func TestClipSetsNoDataOutsidePolygon(t *testing.T) {
	r := testRaster(t, "EPSG:4326", NorthUp(0, 4, 1, 1), 4, 4, func(int, int) float32 { return 7 })
	tri := geom.Polygon{{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 4}, {X: 0, Y: 0}}}
	out, err := Clip(r, tri, r.CRS)
	if err != nil {
		t.Fatal(err)
	}
	// centre (0.5, 2.5) is inside, (3.5, 3.5) is outside.
	if v := out.At(0, 0, 1); v != 7 {
		t.Errorf("inside pixel = %v", v)
	}
	if v := out.At(0, 3, 0); out.Valid(v) {
		t.Errorf("outside pixel = %v, want nodata", v)
	}
	if v := out.At(0, 0, 3); v != 7 {
		t.Errorf("bottom-left pixel = %v", v)
	}
}

func TestClipEmptyIntersection(t *testing.T) {
	r := testRaster(t, "EPSG:4326", NorthUp(0, 4, 1, 1), 4, 4, func(int, int) float32 { return 1 })
	_, err := Clip(r, rect(10, 10, 12, 12), r.CRS)
	var ee *EmptyIntersectionError
	if !errors.As(err, &ee) {
		t.Errorf("error = %v, want EmptyIntersectionError", err)
	}
}

func TestFillPolygonBoundaryRule(t *testing.T) {
	g := Grid{CRS: WGS84, Transform: NorthUp(0, 4, 1, 1), Width: 4, Height: 4}
	// Edges run exactly through pixel centres: x=0.5 (left), x=2.5 (right),
	// y=3.5 (top, row 0 centre) and y=1.5 (bottom, row 2 centre).
	p := rect(0.5, 1.5, 2.5, 3.5)
	got := make([]bool, g.Size())
	if err := FillPolygon(g, p, func(i int) { got[i] = true }); err != nil {
		t.Fatal(err)
	}
	want := map[[2]int]bool{{0, 0}: true, {1, 0}: true, {0, 1}: true, {1, 1}: true}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			if got[row*4+col] != want[[2]int{col, row}] {
				t.Errorf("pixel (%d,%d) = %v, want %v", col, row, got[row*4+col], want[[2]int{col, row}])
			}
		}
	}
}

func TestResampleToOwnGridIsExact(t *testing.T) {
	r := testRaster(t, "EPSG:4326", NorthUp(0, 5, 1, 1), 5, 5, func(c, r int) float32 { return float32(c*3 + r) })
	out, err := ResampleTo(r, r.Grid, Bilinear, ResampleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for i := range r.Bands[0] {
		if out.Bands[0][i] != r.Bands[0][i] {
			t.Fatalf("pixel %d = %v, want %v", i, out.Bands[0][i], r.Bands[0][i])
		}
	}
}

func TestResampleToPartialCoverage(t *testing.T) {
	src := testRaster(t, "EPSG:4326", NorthUp(0, 4, 1, 1), 2, 4, func(int, int) float32 { return 1 })
	ref := Grid{CRS: src.CRS, Transform: NorthUp(0, 4, 1, 1), Width: 4, Height: 4}

	_, err := ResampleTo(src, ref, Bilinear, ResampleOptions{})
	var gm *GridMismatchError
	if !errors.As(err, &gm) {
		t.Fatalf("error = %v, want GridMismatchError", err)
	}
	if gm.Uncovered != 8 || gm.Total != 16 {
		t.Errorf("uncovered %d of %d, want 8 of 16", gm.Uncovered, gm.Total)
	}

	out, err := ResampleTo(src, ref, Bilinear, ResampleOptions{AllowPartial: true})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Grid.Equal(ref) {
		t.Error("output grid differs from reference")
	}
	if out.Valid(out.At(0, 3, 0)) {
		t.Error("uncovered pixel should be nodata")
	}
}

func TestParseResampling(t *testing.T) {
	if m, _ := ParseResampling("", Bilinear); m != Bilinear {
		t.Errorf("default = %v", m)
	}
	if m, _ := ParseResampling("Cubic", Nearest); m != Cubic {
		t.Errorf("cubic = %v", m)
	}
	if _, err := ParseResampling("lanczos", Nearest); err == nil {
		t.Error("expected error")
	}
	if DefaultResampling(UInt8) != Nearest || DefaultResampling(Float32) != Bilinear {
		t.Error("unexpected defaults")
	}
}
