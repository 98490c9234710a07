package raster

import "fmt"

// DimensionMismatchError reports a pixel array whose length disagrees with
// the declared raster shape. This is a programming-error class: it is never
// corrected silently, always propagated.
type DimensionMismatchError struct {
	Path  string // source file, when applicable
	XSize int
	YSize int
	Len   int
}

func (e *DimensionMismatchError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("raster %s: array length %d does not match declared shape %dx%d",
			e.Path, e.Len, e.XSize, e.YSize)
	}
	return fmt.Sprintf("array length %d does not match declared shape %dx%d",
		e.Len, e.XSize, e.YSize)
}
