package raster

import (
	"fmt"

	"gocv.io/x/gocv"
)

// ToMat copies the image pixels into a CV32F Mat. The caller owns the Mat
// and must Close it.
func ToMat(img *Image) (gocv.Mat, error) {
	m := gocv.NewMatWithSize(img.Header.YSize, img.Header.XSize, gocv.MatTypeCV32F)
	dst, err := m.DataPtrFloat32()
	if err != nil {
		m.Close()
		return gocv.Mat{}, fmt.Errorf("mat buffer: %w", err)
	}
	copy(dst, img.Data)
	return m, nil
}

// FromMat copies a CV32F Mat back into a float32 slice.
func FromMat(m gocv.Mat) ([]float32, error) {
	src, err := m.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mat buffer: %w", err)
	}
	data := make([]float32, len(src))
	copy(data, src)
	return data, nil
}

// GrayMat copies a uint8 pixel buffer into a CV8U Mat.
func GrayMat(data []uint8, rows, cols int) (gocv.Mat, error) {
	if len(data) != rows*cols {
		return gocv.Mat{}, &DimensionMismatchError{XSize: cols, YSize: rows, Len: len(data)}
	}
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)
	dst, err := m.DataPtrUint8()
	if err != nil {
		m.Close()
		return gocv.Mat{}, fmt.Errorf("mat buffer: %w", err)
	}
	copy(dst, data)
	return m, nil
}
