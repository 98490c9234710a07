package reframe

import (
	"fmt"
	"image/color"

	"s2reframe/internal/match"
	"s2reframe/internal/raster"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// polyTerms is the number of monomials of a quadratic 2D polynomial:
// 1, x, y, x^2, xy, y^2.
const polyTerms = 6

// polyTransform maps output pixel coordinates to source pixel coordinates
// with one quadratic polynomial per axis.
type polyTransform struct {
	cx [polyTerms]float64
	cy [polyTerms]float64
}

func (t *polyTransform) apply(x, y float64) (float64, float64) {
	terms := [polyTerms]float64{1, x, y, x * x, x * y, y * y}
	var u, v float64
	for i, m := range terms {
		u += t.cx[i] * m
		v += t.cy[i] * m
	}
	return u, v
}

// estimatePolynomial fits the quadratic transform mapping each tie point's
// reference position onto its displaced position, by least squares.
func estimatePolynomial(points []match.TiePoint) (*polyTransform, error) {
	if len(points) < polyTerms {
		return nil, fmt.Errorf("polynomial correction needs at least %d tie points, have %d",
			polyTerms, len(points))
	}

	a := mat.NewDense(len(points), polyTerms, nil)
	b := mat.NewDense(len(points), 2, nil)
	for i, p := range points {
		a.SetRow(i, []float64{1, p.X0, p.Y0, p.X0 * p.X0, p.X0 * p.Y0, p.Y0 * p.Y0})
		b.SetRow(i, []float64{p.X0 + p.DX, p.Y0 + p.DY})
	}

	var coef mat.Dense
	if err := coef.Solve(a, b); err != nil {
		return nil, fmt.Errorf("polynomial fit: %w", err)
	}

	var t polyTransform
	for i := 0; i < polyTerms; i++ {
		t.cx[i] = coef.At(i, 0)
		t.cy[i] = coef.At(i, 1)
	}
	return &t, nil
}

// applyPolynomial warps the array with the quadratic transform estimated
// from the tie points, keeping the input shape. Pixels mapped from outside
// the source come out zero.
func applyPolynomial(data []float32, cols, rows int, points []match.TiePoint, order int) ([]float32, error) {
	t, err := estimatePolynomial(points)
	if err != nil {
		return nil, err
	}

	src, err := matFrom(data, rows, cols)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	mapX := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	defer mapX.Close()
	mapY := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	defer mapY.Close()
	bufX, err := mapX.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("map buffer: %w", err)
	}
	bufY, err := mapY.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("map buffer: %w", err)
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			u, v := t.apply(float64(c), float64(r))
			bufX[r*cols+c] = float32(u)
			bufY[r*cols+c] = float32(v)
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Remap(src, &dst, &mapX, &mapY, interpFlag(order), gocv.BorderConstant, color.RGBA{})

	return raster.FromMat(dst)
}
