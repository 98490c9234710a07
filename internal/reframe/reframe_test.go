package reframe

import (
	"math"
	"math/rand"
	"testing"

	"s2reframe/internal/config"
	"s2reframe/internal/match"
	"s2reframe/internal/raster"
	"s2reframe/internal/tilegrid"
	"s2reframe/pkg/geometry"

	"github.com/paulmach/orb"
)

func defaultReframeCfg() config.Reframe {
	return config.Default().Reframe
}

func fixtureFootprint() *tilegrid.TileFootprint {
	return &tilegrid.TileFootprint{
		TileID: "32TQM",
		EPSG:   32632,
		Geometry: orb.Polygon{{
			{600000, 4880000}, {609780, 4880000},
			{609780, 4889780}, {600000, 4889780},
			{600000, 4880000},
		}},
	}
}

func alignedImage(t *testing.T, dtype raster.DType, fill func(row, col int) float32) *raster.Image {
	t.Helper()
	const size = 326
	data := make([]float32, size*size)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			data[r*size+c] = fill(r, c)
		}
	}
	img, err := raster.New(raster.GeoHeader{
		XSize: size, YSize: size,
		XRes: 30, YRes: -30,
		XMin: 600000, YMax: 4889780,
		EPSG: 32632,
	}, dtype, data)
	if err != nil {
		t.Fatalf("build image: %v", err)
	}
	return img
}

func TestComputeFrame(t *testing.T) {
	h := raster.GeoHeader{
		XSize: 400, YSize: 400,
		XRes: 30, YRes: -30,
		XMin: 599940, YMax: 4889870,
	}
	fp := fixtureFootprint()

	f := computeFrame(h, fp.Bounds(), 0, 0, 0, 0)
	if f.xOff != 2 {
		t.Errorf("xOff = %v, want 2", f.xOff)
	}
	if f.yOff != 3 {
		t.Errorf("yOff = %v, want 3", f.yOff)
	}
	if f.xSize != 326 || f.ySize != 326 {
		t.Errorf("size = %dx%d, want 326x326", f.xSize, f.ySize)
	}
}

func TestComputeFrame_SubPixelCorrection(t *testing.T) {
	h := raster.GeoHeader{
		XSize: 326, YSize: 326,
		XRes: 30, YRes: -30,
		XMin: 600000, YMax: 4889780,
	}

	f := computeFrame(h, fixtureFootprint().Bounds(), 15, -15, 0, 0)
	if f.xOff != 0.5 {
		t.Errorf("xOff = %v, want 0.5", f.xOff)
	}
	if f.yOff != -0.5 {
		t.Errorf("yOff = %v, want -0.5", f.yOff)
	}
}

func TestComputeFrame_Margin(t *testing.T) {
	h := raster.GeoHeader{
		XSize: 326, YSize: 326,
		XRes: 30, YRes: -30,
		XMin: 600000, YMax: 4889780,
	}

	f := computeFrame(h, fixtureFootprint().Bounds(), 0, 0, 0, 2)
	if f.xSize != 330 || f.ySize != 330 {
		t.Errorf("size = %dx%d, want 330x330", f.xSize, f.ySize)
	}
	if f.box.XMin != 600000-60 || f.box.YMax != 4889780+60 {
		t.Errorf("box origin = (%v, %v), want (599940, 4889840)", f.box.XMin, f.box.YMax)
	}
	if f.xOff != -2 {
		t.Errorf("xOff = %v, want -2", f.xOff)
	}
}

func TestComputeFrame_HemisphereOffset(t *testing.T) {
	// southern-hemisphere image against a northern tile: the 10,000,000 m
	// northing shift lands the grid on the same pixels, no reprojection
	h := raster.GeoHeader{
		XSize: 326, YSize: 326,
		XRes: 30, YRes: -30,
		XMin: 600000, YMax: 4889780 - hemisphereOffset,
	}

	f := computeFrame(h, fixtureFootprint().Bounds(), 0, 0, hemisphereOffset, 0)
	if f.xOff != 0 || f.yOff != 0 {
		t.Errorf("offsets = (%v, %v), want (0, 0)", f.xOff, f.yOff)
	}
}

func TestUTMZone(t *testing.T) {
	cases := []struct {
		epsg  int
		zone  int
		north bool
		ok    bool
	}{
		{32632, 32, true, true},
		{32732, 32, false, true},
		{32601, 1, true, true},
		{32760, 60, false, true},
		{4326, 0, false, false},
		{2154, 0, false, false},
	}
	for _, c := range cases {
		zone, north, ok := utmZone(c.epsg)
		if zone != c.zone || north != c.north || ok != c.ok {
			t.Errorf("utmZone(%d) = (%d, %v, %v), want (%d, %v, %v)",
				c.epsg, zone, north, ok, c.zone, c.north, c.ok)
		}
	}
}

func TestHemisphereFlip(t *testing.T) {
	if !hemisphereFlip(32732, 32632) {
		t.Error("32732 vs 32632 should be a hemisphere flip")
	}
	if hemisphereFlip(32632, 32633) {
		t.Error("adjacent zones are not a hemisphere flip")
	}
	if hemisphereFlip(32632, 32632) {
		t.Error("same CRS is not a hemisphere flip")
	}
	if hemisphereFlip(4326, 32632) {
		t.Error("geographic CRS is not a hemisphere flip")
	}
}

func TestReframe_NoOpIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := alignedImage(t, raster.Float32, func(r, c int) float32 {
		return rng.Float32() * 1000
	})

	r := NewReframer(nil, defaultReframeCfg(), t.TempDir())
	out, err := r.Reframe(img, fixtureFootprint(), Options{Order: 3})
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}

	if len(out.Data) != len(img.Data) {
		t.Fatalf("size changed: %d vs %d", len(out.Data), len(img.Data))
	}
	for i := range img.Data {
		if out.Data[i] != img.Data[i] {
			t.Fatalf("pixel %d changed: %v vs %v", i, out.Data[i], img.Data[i])
		}
	}
	if out.Header.EPSG != 32632 {
		t.Errorf("EPSG = %d, want 32632", out.Header.EPSG)
	}
	if out.Header.XMin != 600000 || out.Header.YMax != 4889780 {
		t.Errorf("origin = (%v, %v), want tile origin", out.Header.XMin, out.Header.YMax)
	}
}

func TestReframe_Order0RoundTrip(t *testing.T) {
	img := alignedImage(t, raster.UInt16, func(r, c int) float32 {
		return float32((r*211 + c*7) % 1024)
	})
	fp := fixtureFootprint()

	r := NewReframer(nil, defaultReframeCfg(), t.TempDir())
	shifted, err := r.Reframe(img, fp, Options{DX: 60, DY: -30, Order: 0})
	if err != nil {
		t.Fatalf("forward reframe: %v", err)
	}
	back, err := r.Reframe(shifted, fp, Options{DX: -60, DY: 30, Order: 0})
	if err != nil {
		t.Fatalf("backward reframe: %v", err)
	}

	// edge pixels leave the frame on the way out; the interior must be exact
	for row := 5; row < 320; row++ {
		for col := 5; col < 320; col++ {
			if back.At(row, col) != img.At(row, col) {
				t.Fatalf("pixel (%d, %d) = %v, want %v", row, col, back.At(row, col), img.At(row, col))
			}
		}
	}
}

func TestReframe_InterpolatedRoundTrip(t *testing.T) {
	// a linear ramp is reproduced exactly by both bilinear and cubic
	// kernels, so shifting out and back must return the interior unchanged
	// up to float rounding
	for _, order := range []int{1, 3} {
		img := alignedImage(t, raster.Float32, func(r, c int) float32 {
			return 100 + 0.5*float32(r) + 0.25*float32(c)
		})
		fp := fixtureFootprint()
		h := img.Header

		const dx, dy = 45.0, -15.0
		fwd := geometry.Translation(dx/h.XRes, -dy/h.YRes)
		inv, ok := fwd.Inverse()
		if !ok {
			t.Fatal("translation should be invertible")
		}
		undo := inv.Apply(geometry.Point2D{})

		r := NewReframer(nil, defaultReframeCfg(), t.TempDir())
		shifted, err := r.Reframe(img, fp, Options{DX: dx, DY: dy, Order: order})
		if err != nil {
			t.Fatalf("order %d: forward reframe: %v", order, err)
		}
		back, err := r.Reframe(shifted, fp, Options{DX: undo.X * h.XRes, DY: -undo.Y * h.YRes, Order: order})
		if err != nil {
			t.Fatalf("order %d: backward reframe: %v", order, err)
		}

		for row := 5; row < 320; row++ {
			for col := 5; col < 320; col++ {
				diff := math.Abs(float64(back.At(row, col) - img.At(row, col)))
				if diff > 0.01 {
					t.Fatalf("order %d: pixel (%d, %d) = %v, want %v",
						order, row, col, back.At(row, col), img.At(row, col))
				}
			}
		}
	}
}

func TestReframe_NaNGuard(t *testing.T) {
	// left half background zeros, right half plateau at 100: cubic
	// interpolation across the boundary must not leak halo values
	img := alignedImage(t, raster.Float32, func(r, c int) float32 {
		if c < 163 {
			return 0
		}
		return 100
	})

	r := NewReframer(nil, defaultReframeCfg(), t.TempDir())
	out, err := r.Reframe(img, fixtureFootprint(), Options{DX: 45, Order: 3})
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}

	for i, v := range out.Data {
		if math.IsNaN(float64(v)) {
			t.Fatalf("pixel %d is NaN", i)
		}
		if v != 0 && math.Abs(float64(v)-100) > 1 {
			t.Fatalf("pixel %d = %v, halo between background and data", i, v)
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	r := NewReframer(nil, config.Reframe{Order: 1, Margin: 4}, t.TempDir())
	o := r.DefaultOptions()
	if o.Order != 1 || o.Margin != 4 {
		t.Errorf("options = %+v, want order 1 margin 4", o)
	}
	if o.Method != Translation {
		t.Error("default method should be translation")
	}
}

func TestInterpFlagMapping(t *testing.T) {
	if interpFlag(0) == interpFlag(1) || interpFlag(1) == interpFlag(3) {
		t.Error("interpolation orders must map to distinct kernels")
	}
}

func TestBlockReduce(t *testing.T) {
	// 4x4 with distinct 2x2 block means
	data := []float32{
		1, 3, 10, 10,
		5, 7, 10, 10,
		0, 0, 2, 4,
		0, 0, 6, 8,
	}
	out, cols, rows := blockReduce(data, 4, 4, 2)
	if cols != 2 || rows != 2 {
		t.Fatalf("shape = %dx%d, want 2x2", cols, rows)
	}
	want := []float32{4, 10, 0, 5}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("block[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_BlockReduceRounding(t *testing.T) {
	data := make([]float32, 4)
	data[0], data[1], data[2], data[3] = 1, 2, 2, 2 // mean 1.75, rounds to 2

	img, err := raster.New(raster.GeoHeader{
		XSize: 2, YSize: 2, XRes: 10, YRes: -10,
		XMin: 0, YMax: 20, EPSG: 32632,
	}, raster.UInt16, data)
	if err != nil {
		t.Fatalf("build image: %v", err)
	}

	out, err := Resample(img, 20)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out.Header.XSize != 1 || out.Header.YSize != 1 {
		t.Fatalf("shape = %dx%d, want 1x1", out.Header.XSize, out.Header.YSize)
	}
	if out.Data[0] != 2 {
		t.Errorf("pixel = %v, want 2 (half-up rounding)", out.Data[0])
	}
	if out.Header.XRes != 20 || out.Header.YRes != -20 {
		t.Errorf("res = (%v, %v), want (20, -20)", out.Header.XRes, out.Header.YRes)
	}
}

func TestEstimatePolynomial_Translation(t *testing.T) {
	var points []match.TiePoint
	for _, x := range []float64{10, 150, 300} {
		for _, y := range []float64{20, 160, 310} {
			points = append(points, match.TiePoint{X0: x, Y0: y, DX: 2.0, DY: -1.5})
		}
	}

	tr, err := estimatePolynomial(points)
	if err != nil {
		t.Fatalf("estimatePolynomial: %v", err)
	}
	u, v := tr.apply(100, 200)
	if math.Abs(u-102) > 1e-6 || math.Abs(v-198.5) > 1e-6 {
		t.Errorf("apply(100, 200) = (%v, %v), want (102, 198.5)", u, v)
	}
}

func TestEstimatePolynomial_TooFewPoints(t *testing.T) {
	points := []match.TiePoint{{X0: 1, Y0: 1}, {X0: 2, Y0: 2}}
	if _, err := estimatePolynomial(points); err == nil {
		t.Error("expected error for underdetermined fit")
	}
}
