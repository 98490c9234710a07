package raster

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/airbusgeo/godal"
)

var registerOnce sync.Once

// register loads the GDAL drivers. Safe to call from any goroutine.
func register() {
	registerOnce.Do(godal.RegisterAll)
}

func dtypeToGodal(d DType) godal.DataType {
	switch d {
	case UInt8:
		return godal.Byte
	case UInt16:
		return godal.UInt16
	case Int16:
		return godal.Int16
	default:
		return godal.Float32
	}
}

func dtypeFromGodal(d godal.DataType) DType {
	switch d {
	case godal.Byte:
		return UInt8
	case godal.UInt16:
		return UInt16
	case godal.Int16:
		return Int16
	default:
		return Float32
	}
}

// WKT1 AUTHORITY["EPSG","32632"] and WKT2 ID["EPSG",32632] spellings.
var epsgRe = regexp.MustCompile(`(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)

// EPSGFromWKT extracts the EPSG code of the outermost CRS from a WKT
// projection string, returning 0 when none is declared. The last authority
// entry in the string is the one attached to the whole CRS definition.
func EPSGFromWKT(wkt string) int {
	matches := epsgRe.FindAllStringSubmatch(wkt, -1)
	if len(matches) == 0 {
		return 0
	}
	code, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0
	}
	return code
}

func headerFromDataset(ds *godal.Dataset) GeoHeader {
	st := ds.Structure()
	header := GeoHeader{
		XSize: st.SizeX,
		YSize: st.SizeY,
		// GDAL default transform when the raster carries none
		XRes: 1,
		YRes: -1,
	}
	if gt, err := ds.GeoTransform(); err == nil {
		header.XMin = gt[0]
		header.XRes = gt[1]
		header.YMax = gt[3]
		header.YRes = gt[5]
	}
	header.Projection = ds.Projection()
	header.EPSG = EPSGFromWKT(header.Projection)
	return header
}

// ReadHeader reads only the geo-referencing header of a raster file.
func ReadHeader(path string) (GeoHeader, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return GeoHeader{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()
	return headerFromDataset(ds), nil
}

// BandCount returns the number of bands in a raster file.
func BandCount(path string) (int, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()
	return ds.Structure().NBands, nil
}

// BandType returns the storage type of one band (1-based) of a raster file.
func BandType(path string, band int) (DType, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return Float32, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()

	bands := ds.Bands()
	if band < 1 || band > len(bands) {
		return Float32, fmt.Errorf("%s: band %d out of range (1..%d)", path, band, len(bands))
	}
	return dtypeFromGodal(bands[band-1].Structure().DataType), nil
}

// Read loads the first band of a raster file.
func Read(path string) (*Image, error) {
	return ReadBand(path, 1)
}

// ReadBand loads one band (1-based) of a raster file. Pixel values are
// converted to float32 by GDAL during the read.
func ReadBand(path string, band int) (*Image, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()

	bands := ds.Bands()
	if band < 1 || band > len(bands) {
		return nil, fmt.Errorf("%s: band %d out of range (1..%d)", path, band, len(bands))
	}
	bnd := bands[band-1]

	header := headerFromDataset(ds)
	data := make([]float32, header.XSize*header.YSize)
	if err := bnd.Read(0, 0, data, header.XSize, header.YSize); err != nil {
		return nil, fmt.Errorf("read %s band %d: %w", path, band, err)
	}

	return &Image{
		Header: header,
		DType:  dtypeFromGodal(bnd.Structure().DataType),
		Data:   data,
	}, nil
}

// WriteOptions control raster file creation.
type WriteOptions struct {
	Compression string   // GeoTIFF COMPRESS value, e.g. "LZW"; empty disables
	NoData      *float64 // nodata value to declare on the output bands
}

func creationOptions(opts WriteOptions) []godal.DatasetCreateOption {
	var co []godal.DatasetCreateOption
	if opts.Compression != "" {
		co = append(co, godal.CreationOption("COMPRESS="+opts.Compression))
	}
	return co
}

func applyGeoref(ds *godal.Dataset, header GeoHeader) error {
	if err := ds.SetGeoTransform(header.GeoTransform()); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	switch {
	case header.Projection != "":
		if err := ds.SetProjection(header.Projection); err != nil {
			return fmt.Errorf("set projection: %w", err)
		}
	case header.EPSG > 0:
		sr, err := godal.NewSpatialRefFromEPSG(header.EPSG)
		if err != nil {
			return fmt.Errorf("EPSG:%d: %w", header.EPSG, err)
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return fmt.Errorf("set EPSG:%d: %w", header.EPSG, err)
		}
	}
	return nil
}

// Write serializes an image to a GeoTIFF file. The image is not modified:
// writing is a pure serialization step.
func Write(path string, img *Image, opts WriteOptions) error {
	return WriteMulti(path, []*Image{img}, opts)
}

// WriteMulti serializes several same-shape bands into one GeoTIFF file.
// The header and storage type of the first band drive the file layout.
func WriteMulti(path string, imgs []*Image, opts WriteOptions) error {
	if len(imgs) == 0 {
		return fmt.Errorf("write %s: no bands", path)
	}
	register()

	header := imgs[0].Header
	for i, img := range imgs {
		if len(img.Data) != header.XSize*header.YSize {
			return &DimensionMismatchError{
				Path:  path,
				XSize: header.XSize,
				YSize: header.YSize,
				Len:   len(imgs[i].Data),
			}
		}
	}

	ds, err := godal.Create(godal.GTiff, path, len(imgs), dtypeToGodal(imgs[0].DType),
		header.XSize, header.YSize, creationOptions(opts)...)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer ds.Close()

	if err := applyGeoref(ds, header); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if opts.NoData != nil {
		if err := ds.SetNodata(*opts.NoData); err != nil {
			return fmt.Errorf("%s: set nodata: %w", path, err)
		}
	}

	for i, img := range imgs {
		bnd := ds.Bands()[i]
		if err := bnd.Write(0, 0, img.Data, header.XSize, header.YSize); err != nil {
			return fmt.Errorf("write %s band %d: %w", path, i+1, err)
		}
	}
	return nil
}

// ReadFloat64 loads the first band of a raster file at full float64
// precision, as geolocation grid components require.
func ReadFloat64(path string) ([]float64, int, int, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	data := make([]float64, st.SizeX*st.SizeY)
	if err := ds.Bands()[0].Read(0, 0, data, st.SizeX, st.SizeY); err != nil {
		return nil, 0, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return data, st.SizeX, st.SizeY, nil
}

// WriteFloat64 writes a bare single-band Float64 raster with no
// geo-referencing. Used for geolocation grid components, which GDAL reads
// through the GEOLOCATION metadata domain rather than a geo-transform.
func WriteFloat64(path string, data []float64, xSize, ySize int) error {
	if len(data) != xSize*ySize {
		return &DimensionMismatchError{Path: path, XSize: xSize, YSize: ySize, Len: len(data)}
	}
	register()

	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, xSize, ySize)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer ds.Close()

	if err := ds.Bands()[0].Write(0, 0, data, xSize, ySize); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
