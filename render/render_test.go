package render

import (
	"math"
	"testing"

	"github.com/prl900/dem_prep/georast"
)

func dem(vals []float32, nodata float64) *georast.Raster {
	g := georast.Grid{
		CRS:       georast.MustParseCRS("EPSG:5179"),
		Transform: georast.NorthUp(0, 0, 30, 30),
		Width:     len(vals),
		Height:    1,
	}
	r := georast.New(g, 1, georast.Float32, nodata, true)
	copy(r.Bands[0], vals)
	return r
}

func TestRenderExtremes(t *testing.T) {
	in := dem([]float32{0, 1833.23, 3666.46, -9999}, -9999)
	orig := in.Clone()

	out, s, err := Render(in, Options{Bits: 16})
	if err != nil {
		t.Fatal(err)
	}
	if s.Min != 0 || math.Abs(s.Max-3666.46) > 1e-3 || s.Degenerate || s.Valid != 3 {
		t.Errorf("stretch = %+v", s)
	}
	want := []float32{0, 32768, 65535, 0}
	for i, w := range want {
		if got := out.Bands[0][i]; math.Abs(float64(got-w)) > 1 {
			t.Errorf("pixel %d = %v, want %v", i, got, w)
		}
	}
	if out.Bands[0][0] != 0 || out.Bands[0][2] != 65535 {
		t.Error("extremes not mapped to 0 and full scale")
	}
	if out.DType != georast.UInt16 || !out.Grid.Equal(in.Grid) {
		t.Errorf("output dtype %s", out.DType)
	}
	for i := range orig.Bands[0] {
		if in.Bands[0][i] != orig.Bands[0][i] {
			t.Fatal("input modified")
		}
	}

	out8, _, err := Render(in, Options{Bits: 8})
	if err != nil {
		t.Fatal(err)
	}
	if out8.Bands[0][0] != 0 || out8.Bands[0][2] != 255 || out8.DType != georast.UInt8 {
		t.Errorf("8 bit output = %v", out8.Bands[0])
	}
}

func TestRenderFlat(t *testing.T) {
	for _, tc := range []struct {
		bits int
		mid  float32
	}{{16, 32768}, {8, 128}} {
		out, s, err := Render(dem([]float32{42, 42, 42}, -9999), Options{Bits: tc.bits})
		if err != nil {
			t.Fatal(err)
		}
		if !s.Degenerate {
			t.Error("flat raster not degenerate")
		}
		for i, v := range out.Bands[0] {
			if v != tc.mid {
				t.Errorf("%d bit pixel %d = %v, want %v", tc.bits, i, v, tc.mid)
			}
		}
	}
}

func TestRenderAllNoData(t *testing.T) {
	out, s, err := Render(dem([]float32{-9999, -9999}, -9999), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Degenerate || s.Valid != 0 || out.Bands[0][0] != 32768 {
		t.Errorf("stretch %+v, pixel %v", s, out.Bands[0][0])
	}
}

func TestRenderPercentiles(t *testing.T) {
	vals := make([]float32, 101)
	for i := range vals {
		vals[i] = float32(i)
	}
	vals[100] = 10000 // outlier
	p := [2]float64{1, 99}
	out, s, err := Render(dem(vals, -9999), Options{Bits: 8, Percentiles: &p})
	if err != nil {
		t.Fatal(err)
	}
	if s.Min != 1 || s.Max != 99 {
		t.Errorf("stretch = %+v", s)
	}
	if out.Bands[0][0] != 0 || out.Bands[0][100] != 255 || out.Bands[0][99] != 255 {
		t.Errorf("clipped values %v %v %v", out.Bands[0][0], out.Bands[0][99], out.Bands[0][100])
	}
}

func TestPercentileInterpolation(t *testing.T) {
	s := []float64{1, 2, 3, 4}
	for _, tc := range []struct{ p, want float64 }{{0, 1}, {100, 4}, {50, 2.5}, {25, 1.75}} {
		if got := percentile(s, tc.p); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("percentile(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
}

func TestRenderBadBits(t *testing.T) {
	if _, _, err := Render(dem([]float32{1, 2}, -9999), Options{Bits: 12}); err == nil {
		t.Error("expected error")
	}
}

func TestPreviewSize(t *testing.T) {
	r := dem([]float32{0, 100, 200, -9999}, -9999)
	s, _ := ComputeStretch(r, nil)
	img := Preview(r, s, nil)
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 1 {
		t.Errorf("preview bounds %v", b)
	}
}
