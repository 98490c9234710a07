// Package raster provides the in-memory image model shared by the warping,
// reframing and matching stages, plus GeoTIFF read/write on top of GDAL.
//
// An Image couples a pixel array with the geo-referencing header describing
// it. Transforms never mutate an Image in place: every operation derives a
// new header and a new array (see Duplicate).
package raster

import (
	"s2reframe/pkg/geometry"
)

// DType identifies the on-disk storage type of an image.
// Pixels are held in memory as float32 regardless of DType; uint8, uint16
// and int16 values are exactly representable so the round trip is lossless.
type DType int

const (
	Float32 DType = iota
	UInt8
	UInt16
	Int16
)

// IsFloat reports whether the storage type is floating point.
func (d DType) IsFloat() bool {
	return d == Float32
}

func (d DType) String() string {
	switch d {
	case UInt8:
		return "Byte"
	case UInt16:
		return "UInt16"
	case Int16:
		return "Int16"
	default:
		return "Float32"
	}
}

// GeoHeader is the geo-referencing state of a raster, independent of pixel
// data. YRes is negative for north-up rasters. Projection holds the CRS as
// WKT when known; EPSG is the numeric code when it could be resolved (0
// otherwise).
type GeoHeader struct {
	XSize      int
	YSize      int
	XRes       float64
	YRes       float64
	XMin       float64
	YMax       float64
	Projection string
	EPSG       int
}

// XMax returns the right edge coordinate.
func (h GeoHeader) XMax() float64 {
	return h.XMin + float64(h.XSize)*h.XRes
}

// YMin returns the bottom edge coordinate.
func (h GeoHeader) YMin() float64 {
	return h.YMax + float64(h.YSize)*h.YRes
}

// Bounds returns the raster footprint as a box.
func (h GeoHeader) Bounds() geometry.Box {
	return geometry.NewBox(h.XMin, h.YMin(), h.XMax(), h.YMax)
}

// GeoTransform returns the GDAL-style affine geo-transform.
func (h GeoHeader) GeoTransform() [6]float64 {
	return [6]float64{h.XMin, h.XRes, 0, h.YMax, 0, h.YRes}
}

// Image is a single-band raster: a geo-referencing header plus a row-major
// pixel array of YSize*XSize values.
type Image struct {
	Header GeoHeader
	DType  DType
	Data   []float32
}

// New builds an Image, verifying that the array matches the header shape.
func New(header GeoHeader, dtype DType, data []float32) (*Image, error) {
	if len(data) != header.XSize*header.YSize {
		return nil, &DimensionMismatchError{
			XSize: header.XSize,
			YSize: header.YSize,
			Len:   len(data),
		}
	}
	return &Image{Header: header, DType: dtype, Data: data}, nil
}

// At returns the pixel value at the given row and column.
func (img *Image) At(row, col int) float32 {
	return img.Data[row*img.Header.XSize+col]
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	data := make([]float32, len(img.Data))
	copy(data, img.Data)
	return &Image{Header: img.Header, DType: img.DType, Data: data}
}

// DuplicateSpec describes how a duplicated image differs from its source.
// Zero-valued fields keep the source value.
type DuplicateSpec struct {
	// Array is the replacement pixel data; nil keeps a copy of the source
	// array. When the replacement has a different shape than the source,
	// XSize and YSize must be set accordingly.
	Array []float32
	XSize int
	YSize int

	// Res replaces the pixel size (XRes=Res, YRes=-Res) when > 0.
	Res float64

	// Origin replaces the upper-left corner coordinate (XMin, YMax).
	Origin *geometry.Point2D

	// EPSG replaces the output projection when > 0. The WKT projection
	// string is dropped in that case; writers resolve the SRS from the code.
	EPSG int

	// DType replaces the storage type.
	DType *DType
}

// Duplicate derives a new Image from this one, applying the spec. The source
// image is left untouched. A replacement array whose length disagrees with
// the declared shape is a caller bug and yields a DimensionMismatchError.
func (img *Image) Duplicate(spec DuplicateSpec) (*Image, error) {
	header := img.Header

	xSize, ySize := header.XSize, header.YSize
	if spec.XSize > 0 {
		xSize = spec.XSize
	}
	if spec.YSize > 0 {
		ySize = spec.YSize
	}

	var data []float32
	if spec.Array != nil {
		if len(spec.Array) != xSize*ySize {
			return nil, &DimensionMismatchError{XSize: xSize, YSize: ySize, Len: len(spec.Array)}
		}
		data = spec.Array
	} else {
		if xSize != header.XSize || ySize != header.YSize {
			return nil, &DimensionMismatchError{XSize: xSize, YSize: ySize, Len: len(img.Data)}
		}
		data = make([]float32, len(img.Data))
		copy(data, img.Data)
	}

	header.XSize = xSize
	header.YSize = ySize
	if spec.Res > 0 {
		header.XRes = spec.Res
		header.YRes = -spec.Res
	}
	if spec.Origin != nil {
		header.XMin = spec.Origin.X
		header.YMax = spec.Origin.Y
	}
	if spec.EPSG > 0 {
		header.EPSG = spec.EPSG
		header.Projection = ""
	}

	dtype := img.DType
	if spec.DType != nil {
		dtype = *spec.DType
	}

	return &Image{Header: header, DType: dtype, Data: data}, nil
}
