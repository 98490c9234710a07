// Package geoloc models per-pixel geolocation grids (latitude, longitude,
// altitude) and builds the GDAL virtual raster descriptors that tie source
// imagery to them for warping.
package geoloc

import "fmt"

// Orientation tags how a sensor delivers its geolocation grids relative to
// the raster's row/column order. The tag is resolved once at grid
// construction; downstream code always sees row-major grids.
type Orientation int

const (
	// RowMajor means the grids already follow the raster's row/column order.
	RowMajor Orientation = iota
	// RotatedCCW90 means the grids are rotated 90° counter-clockwise with
	// respect to the raster (PRISMA delivers them this way) and must be
	// rotated clockwise into row-major order.
	RotatedCCW90
)

// ShapeMismatchError reports geolocation grid components of inconsistent
// shape. Fatal for the band being processed, not for the whole product.
type ShapeMismatchError struct {
	Component string
	Rows      int
	Cols      int
	Len       int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("geolocation %s grid: length %d does not match shape %dx%d",
		e.Component, e.Len, e.Rows, e.Cols)
}

// Grid holds three co-registered per-pixel arrays of latitude, longitude and
// altitude, in row-major raster order. Altitude is all-zero when the sensor
// provides none.
type Grid struct {
	Lat  []float64
	Lon  []float64
	Alt  []float64
	Rows int
	Cols int
}

// NewGrid builds a Grid from raw component arrays of the given shape. alt
// may be nil, in which case an all-zero altitude grid is implied. When
// orient is RotatedCCW90 the components are rotated into row-major order and
// the resulting grid has swapped dimensions.
func NewGrid(lat, lon, alt []float64, rows, cols int, orient Orientation) (*Grid, error) {
	if len(lat) != rows*cols {
		return nil, &ShapeMismatchError{Component: "latitude", Rows: rows, Cols: cols, Len: len(lat)}
	}
	if len(lon) != rows*cols {
		return nil, &ShapeMismatchError{Component: "longitude", Rows: rows, Cols: cols, Len: len(lon)}
	}
	if alt != nil && len(alt) != rows*cols {
		return nil, &ShapeMismatchError{Component: "altitude", Rows: rows, Cols: cols, Len: len(alt)}
	}
	if alt == nil {
		alt = make([]float64, rows*cols)
	}

	if orient == RotatedCCW90 {
		lat = rotateCW(lat, rows, cols)
		lon = rotateCW(lon, rows, cols)
		alt = rotateCW(alt, rows, cols)
		rows, cols = cols, rows
	}

	return &Grid{Lat: lat, Lon: lon, Alt: alt, Rows: rows, Cols: cols}, nil
}

// rotateCW rotates a rows x cols array 90° clockwise, producing a
// cols x rows array: out[i][j] = in[rows-1-j][i].
func rotateCW(in []float64, rows, cols int) []float64 {
	out := make([]float64, rows*cols)
	for i := 0; i < cols; i++ {
		for j := 0; j < rows; j++ {
			out[i*rows+j] = in[(rows-1-j)*cols+i]
		}
	}
	return out
}
