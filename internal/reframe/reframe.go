// Package reframe aligns already-projected rasters onto exact MGRS tile
// pixel grids: translation, crop and pad with sub-pixel correction, plus
// resolution resampling and polynomial correction from tie points.
package reframe

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"s2reframe/internal/config"
	"s2reframe/internal/match"
	"s2reframe/internal/raster"
	"s2reframe/internal/tilegrid"
	"s2reframe/internal/warp"
	"s2reframe/pkg/geometry"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// hemisphereOffset is the northing difference between the northern and
// southern UTM variant of the same zone, in meters.
const hemisphereOffset = 10000000.0

// Method selects the geometry correction strategy.
type Method int

const (
	// Translation shifts the array by a sub-pixel offset onto the tile grid.
	Translation Method = iota
	// Polynomial warps the array with a quadratic transform estimated from
	// the tie points of a previous matching run in the working directory.
	Polynomial
)

// Options tune a reframe call. The zero value translates with cubic
// interpolation and no correction offset.
type Options struct {
	DX     float64
	DY     float64
	Order  int
	Margin int
	Method Method

	// DType overrides the output storage type; nil keeps the source type.
	DType *raster.DType

	// SourcePath is the on-disk origin of the image, required only when the
	// image CRS differs from the tile CRS beyond a hemisphere flip and a
	// full reprojection is needed.
	SourcePath string
}

// Reframer places projected images onto MGRS tile grids.
type Reframer struct {
	warper  *warp.Warper
	workDir string
	order   int
	margin  int
}

// NewReframer creates a Reframer. The warper serves the cross-CRS fallback;
// workDir receives reprojected intermediates and supplies tie-point files.
func NewReframer(warper *warp.Warper, cfg config.Reframe, workDir string) *Reframer {
	return &Reframer{warper: warper, workDir: workDir, order: cfg.Order, margin: cfg.Margin}
}

// DefaultOptions returns reframe options seeded from the configured
// processing defaults.
func (r *Reframer) DefaultOptions() Options {
	return Options{Order: r.order, Margin: r.margin}
}

// frame is the destination pixel window of a reframe operation.
type frame struct {
	box   geometry.Box
	xOff  float64
	yOff  float64
	xSize int
	ySize int
}

// computeFrame derives the pixel offset and output size placing the source
// grid onto the tile bounds, expanded by margin pixels on each side.
func computeFrame(h raster.GeoHeader, bounds geometry.Box, dx, dy, utmOffset float64, margin int) frame {
	box := bounds.Expand(float64(margin)*h.XRes, float64(margin)*-h.YRes)
	return frame{
		box:   box,
		xOff:  (box.XMin - h.XMin + dx) / h.XRes,
		yOff:  (box.YMax - utmOffset - h.YMax - dy) / h.YRes,
		xSize: int(math.Ceil(box.Width() / h.XRes)),
		ySize: int(math.Ceil(box.Height() / -h.YRes)),
	}
}

// utmZone decodes a WGS84/UTM EPSG code into its zone number and hemisphere.
func utmZone(epsg int) (zone int, north bool, ok bool) {
	switch {
	case epsg >= 32601 && epsg <= 32660:
		return epsg - 32600, true, true
	case epsg >= 32701 && epsg <= 32760:
		return epsg - 32700, false, true
	}
	return 0, false, false
}

// hemisphereFlip reports whether the two codes address the same UTM zone on
// opposite hemispheres, the one CRS mismatch correctable by a fixed northing
// shift instead of a reprojection.
func hemisphereFlip(srcEPSG, dstEPSG int) bool {
	srcZone, srcNorth, srcOK := utmZone(srcEPSG)
	dstZone, dstNorth, dstOK := utmZone(dstEPSG)
	return srcOK && dstOK && srcZone == dstZone && srcNorth != dstNorth
}

func interpFlag(order int) gocv.InterpolationFlags {
	switch order {
	case 0:
		return gocv.InterpolationNearestNeighbor
	case 1:
		return gocv.InterpolationLinear
	default:
		return gocv.InterpolationCubic
	}
}

// resolveCRS applies the hemisphere shortcut or reprojects the image into
// the tile CRS, returning the image to reframe and the northing offset.
func (r *Reframer) resolveCRS(img *raster.Image, fp *tilegrid.TileFootprint, o Options) (*raster.Image, float64, error) {
	srcEPSG := img.Header.EPSG
	if srcEPSG == 0 && img.Header.Projection != "" {
		srcEPSG = raster.EPSGFromWKT(img.Header.Projection)
	}
	if srcEPSG == 0 || srcEPSG == fp.EPSG {
		return img, 0, nil
	}

	if hemisphereFlip(srcEPSG, fp.EPSG) {
		log.Debug().Int("src", srcEPSG).Int("dst", fp.EPSG).Msg("UTM hemisphere flip, applying northing offset")
		return img, hemisphereOffset, nil
	}

	log.Info().Int("src", srcEPSG).Int("dst", fp.EPSG).Msg("Image and tile CRS differ, reprojecting")
	if o.SourcePath == "" {
		return nil, 0, fmt.Errorf("reframe to %s: CRS mismatch (EPSG:%d vs EPSG:%d) requires a source path",
			fp.TileID, srcEPSG, fp.EPSG)
	}
	reproj, _, err := r.warper.Reproject(o.SourcePath, r.workDir, fp.EPSG, img.Header.XRes, img.Header.YRes, o.Order)
	if err != nil {
		return nil, 0, err
	}
	return reproj, 0, nil
}

// translate shifts the array by (xOff, yOff) pixels into a new array of the
// given size, with the requested interpolation. Pixels pulled from outside
// the source are zero.
func translate(data []float32, srcCols, srcRows int, f frame, order int) ([]float32, error) {
	src, err := matFrom(data, srcRows, srcCols)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	// the forward affine shifting content by (-xOff, -yOff) samples each
	// destination pixel at source (x+xOff, y+yOff)
	mtx := geometry.Translation(-f.xOff, -f.yOff).ToMatrix()
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			m.SetDoubleAt(row, col, mtx[row][col])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffineWithParams(src, &dst, m, image.Pt(f.xSize, f.ySize),
		interpFlag(order), gocv.BorderConstant, color.RGBA{})

	return raster.FromMat(dst)
}

func matFrom(data []float32, rows, cols int) (gocv.Mat, error) {
	if len(data) != rows*cols {
		return gocv.Mat{}, &raster.DimensionMismatchError{XSize: cols, YSize: rows, Len: len(data)}
	}
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	buf, err := m.DataPtrFloat32()
	if err != nil {
		m.Close()
		return gocv.Mat{}, fmt.Errorf("mat buffer: %w", err)
	}
	copy(buf, data)
	return m, nil
}

// zerosToNaN returns a copy with zero pixels replaced by NaN, so that
// interpolation does not blend data values with background.
func zerosToNaN(data []float32) []float32 {
	nan := float32(math.NaN())
	out := make([]float32, len(data))
	for i, v := range data {
		if v == 0 {
			out[i] = nan
		} else {
			out[i] = v
		}
	}
	return out
}

func nanToZeros(data []float32) {
	for i, v := range data {
		if v != v {
			data[i] = 0
		}
	}
}

func truncate(data []float32) {
	for i, v := range data {
		data[i] = float32(int64(v))
	}
}

// Reframe places a single-band image onto the tile's pixel grid, optionally
// applying a sub-pixel correction (dx, dy) in map units. The source image is
// left untouched; the result carries the tile origin and CRS.
func (r *Reframer) Reframe(img *raster.Image, fp *tilegrid.TileFootprint, o Options) (*raster.Image, error) {
	img, utmOffset, err := r.resolveCRS(img, fp, o)
	if err != nil {
		return nil, err
	}

	f := computeFrame(img.Header, fp.Bounds(), o.DX, o.DY, utmOffset, o.Margin)
	log.Debug().
		Str("tile", fp.TileID).
		Float64("xOff", f.xOff).Float64("yOff", f.yOff).
		Int("xSize", f.xSize).Int("ySize", f.ySize).
		Msg("Reframe")

	dtype := img.DType
	if o.DType != nil {
		dtype = *o.DType
	}

	data := img.Data
	if o.DType != nil && !dtype.IsFloat() {
		data = append([]float32(nil), data...)
		truncate(data)
	}

	var out []float32
	aligned := o.Method == Translation && f.xOff == 0 && f.yOff == 0 &&
		img.Header.XSize == f.xSize && img.Header.YSize == f.ySize

	switch {
	case aligned:
		// already on the tile grid, return the array untouched
		out = append([]float32(nil), data...)

	case o.Method == Polynomial:
		points, err := match.ReadTiePoints(r.workDir)
		if err != nil {
			return nil, err
		}
		if dtype.IsFloat() && o.Order > 0 {
			data = zerosToNaN(data)
		}
		out, err = applyPolynomial(data, img.Header.XSize, img.Header.YSize, points, o.Order)
		if err != nil {
			return nil, err
		}
		f.xSize, f.ySize = img.Header.XSize, img.Header.YSize

	default:
		if dtype.IsFloat() && o.Order > 0 {
			data = zerosToNaN(data)
		}
		out, err = translate(data, img.Header.XSize, img.Header.YSize, f, o.Order)
		if err != nil {
			return nil, err
		}
	}

	if !aligned && o.Order > 0 {
		if dtype.IsFloat() {
			nanToZeros(out)
		} else {
			truncate(out)
		}
	}

	return img.Duplicate(raster.DuplicateSpec{
		Array:  out,
		XSize:  f.xSize,
		YSize:  f.ySize,
		Origin: &geometry.Point2D{X: f.box.XMin, Y: f.box.YMax},
		EPSG:   fp.EPSG,
		DType:  &dtype,
	})
}

// ReframeMultiband reframes every band of an on-disk raster onto the tile
// grid, sharing one computed offset and output size across all bands.
func (r *Reframer) ReframeMultiband(srcPath string, fp *tilegrid.TileFootprint, o Options) ([]*raster.Image, error) {
	header, err := raster.ReadHeader(srcPath)
	if err != nil {
		return nil, err
	}
	count, err := raster.BandCount(srcPath)
	if err != nil {
		return nil, err
	}

	utmOffset := 0.0
	srcEPSG := header.EPSG
	if srcEPSG != 0 && srcEPSG != fp.EPSG {
		if hemisphereFlip(srcEPSG, fp.EPSG) {
			utmOffset = hemisphereOffset
		} else {
			log.Info().Int("src", srcEPSG).Int("dst", fp.EPSG).Msg("Image and tile CRS differ, reprojecting")
			_, reprojPath, err := r.warper.Reproject(srcPath, r.workDir, fp.EPSG, header.XRes, header.YRes, o.Order)
			if err != nil {
				return nil, err
			}
			srcPath = reprojPath
			if header, err = raster.ReadHeader(srcPath); err != nil {
				return nil, err
			}
		}
	}

	f := computeFrame(header, fp.Bounds(), o.DX, o.DY, utmOffset, o.Margin)
	log.Debug().
		Str("tile", fp.TileID).Int("bands", count).
		Float64("xOff", f.xOff).Float64("yOff", f.yOff).
		Msg("Reframe multiband")

	images := make([]*raster.Image, 0, count)
	for band := 1; band <= count; band++ {
		img, err := raster.ReadBand(srcPath, band)
		if err != nil {
			return nil, err
		}
		out, err := r.Reframe(img, fp, Options{DX: o.DX, DY: o.DY, Order: o.Order, Margin: o.Margin, DType: o.DType})
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", band, err)
		}
		images = append(images, out)
	}
	return images, nil
}
