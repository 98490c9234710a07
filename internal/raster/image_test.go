package raster

import (
	"errors"
	"testing"

	"s2reframe/pkg/geometry"
)

func testHeader() GeoHeader {
	return GeoHeader{
		XSize: 326, YSize: 326,
		XRes: 30, YRes: -30,
		XMin: 600000, YMax: 4889780,
		EPSG: 32632,
	}
}

func TestGeoHeaderDerived(t *testing.T) {
	h := testHeader()
	if h.XMax() != 609780 {
		t.Errorf("XMax = %v, want 609780", h.XMax())
	}
	if h.YMin() != 4880000 {
		t.Errorf("YMin = %v, want 4880000", h.YMin())
	}

	b := h.Bounds()
	if !b.IsValid() {
		t.Fatalf("bounds not well-formed: %+v", b)
	}
	if b.XMin != 600000 || b.YMax != 4889780 {
		t.Errorf("bounds = %+v", b)
	}

	gt := h.GeoTransform()
	want := [6]float64{600000, 30, 0, 4889780, 0, -30}
	if gt != want {
		t.Errorf("geotransform = %v, want %v", gt, want)
	}
}

func TestNew_ShapeMismatch(t *testing.T) {
	_, err := New(testHeader(), Float32, make([]float32, 10))
	var mismatch *DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want DimensionMismatchError", err)
	}
	if mismatch.XSize != 326 || mismatch.Len != 10 {
		t.Errorf("error context = %+v", mismatch)
	}
}

func TestDuplicate(t *testing.T) {
	h := testHeader()
	img, err := New(h, UInt16, make([]float32, h.XSize*h.YSize))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dtype := Float32
	out, err := img.Duplicate(DuplicateSpec{
		Array:  make([]float32, 4),
		XSize:  2,
		YSize:  2,
		Res:    60,
		Origin: &geometry.Point2D{X: 500000, Y: 4800000},
		EPSG:   32732,
		DType:  &dtype,
	})
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}

	if out.Header.XSize != 2 || out.Header.YSize != 2 {
		t.Errorf("shape = %dx%d", out.Header.XSize, out.Header.YSize)
	}
	if out.Header.XRes != 60 || out.Header.YRes != -60 {
		t.Errorf("res = (%v, %v)", out.Header.XRes, out.Header.YRes)
	}
	if out.Header.XMin != 500000 || out.Header.YMax != 4800000 {
		t.Errorf("origin = (%v, %v)", out.Header.XMin, out.Header.YMax)
	}
	if out.Header.EPSG != 32732 || out.Header.Projection != "" {
		t.Errorf("CRS = %d %q", out.Header.EPSG, out.Header.Projection)
	}
	if out.DType != Float32 {
		t.Errorf("dtype = %v, want Float32", out.DType)
	}

	// the source image is untouched
	if img.Header.XSize != 326 || img.DType != UInt16 {
		t.Error("Duplicate mutated its source")
	}
}

func TestDuplicate_ArrayMismatch(t *testing.T) {
	h := testHeader()
	img, err := New(h, Float32, make([]float32, h.XSize*h.YSize))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = img.Duplicate(DuplicateSpec{Array: make([]float32, 9), XSize: 2, YSize: 2})
	var mismatch *DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want DimensionMismatchError", err)
	}
}

func TestDuplicate_CopiesData(t *testing.T) {
	h := GeoHeader{XSize: 2, YSize: 1, XRes: 1, YRes: -1}
	img, err := New(h, Float32, []float32{1, 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := img.Duplicate(DuplicateSpec{})
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	out.Data[0] = 99
	if img.Data[0] != 1 {
		t.Error("Duplicate shares the source pixel buffer")
	}
}

func TestEPSGFromWKT(t *testing.T) {
	cases := []struct {
		name string
		wkt  string
		want int
	}{
		{
			"wkt1 takes the outermost authority",
			`PROJCS["WGS 84 / UTM zone 32N",GEOGCS["WGS 84",AUTHORITY["EPSG","4326"]],AUTHORITY["EPSG","32632"]]`,
			32632,
		},
		{
			"wkt2 id keyword",
			`PROJCRS["WGS 84 / UTM zone 32S",BASEGEOGCRS["WGS 84",ID["EPSG",4326]],ID["EPSG",32732]]`,
			32732,
		},
		{"no authority", `LOCAL_CS["arbitrary"]`, 0},
		{"empty", "", 0},
	}
	for _, c := range cases {
		if got := EPSGFromWKT(c.wkt); got != c.want {
			t.Errorf("%s: EPSGFromWKT = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestDTypeString(t *testing.T) {
	cases := []struct {
		d    DType
		want string
	}{
		{Float32, "Float32"},
		{UInt8, "Byte"},
		{UInt16, "UInt16"},
		{Int16, "Int16"},
	}
	for _, c := range cases {
		if got := c.d.String(); got != c.want {
			t.Errorf("%v.String() = %q, want %q", c.d, got, c.want)
		}
	}
	if !Float32.IsFloat() || UInt16.IsFloat() {
		t.Error("IsFloat misclassifies storage types")
	}
}
