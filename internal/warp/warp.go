// Package warp reprojects and resamples source rasters onto MGRS tile grids
// using the GDAL warp engine.
package warp

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"s2reframe/internal/config"
	"s2reframe/internal/geoloc"
	"s2reframe/internal/raster"
	"s2reframe/internal/tilegrid"
	"s2reframe/pkg/geometry"

	"github.com/airbusgeo/godal"
	"github.com/rs/zerolog/log"
)

// ErrNoIntersection marks a warp whose destination tile lies entirely
// outside the source raster. The engine would silently produce an all-nodata
// tile; the caller needs to know the product does not cover the tile at all.
var ErrNoIntersection = errors.New("source raster does not intersect destination tile")

// Error wraps a failure of the underlying warp engine with the context the
// orchestration layer needs to attribute it: tile, band and source path.
// Fatal for the band, non-retryable.
type Error struct {
	TileID string
	Band   string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("warp %s (band %s) to tile %s: %v", e.Path, e.Band, e.TileID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options tune a single warp invocation.
type Options struct {
	Resolution float64
	IsMask     bool // masks get nearest-neighbor resampling, imagery bilinear
	Band       string
	NoData     float64
	SrcEPSG    int // source CRS for geolocation-gridded input, 0 for EPSG:4326
}

// resamplingAlg selects the warp kernel: nearest for masks, bilinear for
// continuous imagery. Cubic is reserved for the later fine-reframe stage.
func resamplingAlg(isMask bool) string {
	if isMask {
		return "near"
	}
	return "bilinear"
}

// ResampleAlgForOrder maps an interpolation order to the warp engine
// resampling name: 0 nearest, 1 bilinear, 3 cubic.
func ResampleAlgForOrder(order int) string {
	switch order {
	case 0:
		return "near"
	case 1:
		return "bilinear"
	default:
		return "cubic"
	}
}

// Warper drives GDAL warping with the configured creation policy.
type Warper struct {
	compression string
}

// NewWarper creates a Warper with the given warp configuration.
func NewWarper(cfg config.Warp) *Warper {
	return &Warper{compression: cfg.Compression}
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// tileSwitches builds the gdalwarp-style switch list anchoring the output
// grid to the tile bounds at the requested resolution.
func tileSwitches(fp *tilegrid.TileFootprint, o Options, geolocated bool) []string {
	b := fp.Bounds()
	srcEPSG := o.SrcEPSG
	if srcEPSG == 0 {
		srcEPSG = 4326
	}

	sw := []string{
		"-s_srs", fmt.Sprintf("EPSG:%d", srcEPSG),
		"-t_srs", fmt.Sprintf("EPSG:%d", fp.EPSG),
		"-te", fmtFloat(b.XMin), fmtFloat(b.YMin), fmtFloat(b.XMax), fmtFloat(b.YMax),
		"-tr", fmtFloat(o.Resolution), fmtFloat(o.Resolution),
		"-r", resamplingAlg(o.IsMask),
		"-dstnodata", fmtFloat(o.NoData),
	}
	if geolocated {
		sw = append(sw, "-geoloc")
	}
	return sw
}

func (w *Warper) run(srcPath, destPath string, switches []string, tileID, band string) (*raster.Image, error) {
	src, err := godal.Open(srcPath)
	if err != nil {
		return nil, &Error{TileID: tileID, Band: band, Path: srcPath, Err: err}
	}
	defer src.Close()

	out, err := src.Warp(destPath, switches,
		godal.CreationOption("COMPRESS="+w.compression))
	if err != nil {
		return nil, &Error{TileID: tileID, Band: band, Path: srcPath, Err: err}
	}
	if err := out.Close(); err != nil {
		return nil, &Error{TileID: tileID, Band: band, Path: srcPath, Err: err}
	}

	img, err := raster.Read(destPath)
	if err != nil {
		return nil, &Error{TileID: tileID, Band: band, Path: destPath, Err: err}
	}
	return img, nil
}

// WarpToTile reprojects a conventionally geo-referenced source raster onto
// the tile's pixel grid at the given resolution, writing the result to
// destPath and returning its first band.
func (w *Warper) WarpToTile(srcPath, destPath string, fp *tilegrid.TileFootprint, o Options) (*raster.Image, error) {
	header, err := raster.ReadHeader(srcPath)
	if err != nil {
		return nil, &Error{TileID: fp.TileID, Band: o.Band, Path: srcPath, Err: err}
	}
	srcEPSG := o.SrcEPSG
	if srcEPSG == 0 {
		srcEPSG = header.EPSG
	}

	// when source and tile share a CRS the footprints are directly
	// comparable; a disjoint pair is a product selection error, not a warp
	if srcEPSG == fp.EPSG {
		srcBox := geometry.NewBox(
			header.XMin,
			header.YMax+float64(header.YSize)*header.YRes,
			header.XMin+float64(header.XSize)*header.XRes,
			header.YMax,
		)
		if !srcBox.Intersects(fp.Bounds()) {
			return nil, &Error{TileID: fp.TileID, Band: o.Band, Path: srcPath, Err: ErrNoIntersection}
		}
	}

	log.Info().
		Str("tile", fp.TileID).Str("band", o.Band).
		Str("resample", resamplingAlg(o.IsMask)).
		Float64("resolution", o.Resolution).
		Msg("Warp to MGRS tile")

	sw := tileSwitches(fp, Options{
		Resolution: o.Resolution,
		IsMask:     o.IsMask,
		NoData:     o.NoData,
		SrcEPSG:    srcEPSG,
	}, false)
	return w.run(srcPath, destPath, sw, fp.TileID, o.Band)
}

// WarpGeolocated reprojects a geolocation-grid-based virtual raster (built
// by geoloc.Builder) from geographic coordinates onto the tile's pixel grid.
func (w *Warper) WarpGeolocated(desc *geoloc.Descriptor, destPath string, fp *tilegrid.TileFootprint, o Options) (*raster.Image, error) {
	log.Info().
		Str("tile", fp.TileID).Str("band", o.Band).
		Str("resample", resamplingAlg(o.IsMask)).
		Float64("resolution", o.Resolution).
		Msg("Warp geolocated product to MGRS tile")

	return w.run(desc.VRTPath, destPath, tileSwitches(fp, o, true), fp.TileID, o.Band)
}

// Reproject warps a raster into another CRS keeping its native resolution,
// for the reframer's cross-CRS fallback path. The output file sits next to
// the destination directory with a _REPROJ suffix.
func (w *Warper) Reproject(srcPath, destDir string, targetEPSG int, xRes, yRes float64, order int) (*raster.Image, string, error) {
	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	destPath := filepath.Join(destDir, strings.TrimSuffix(base, ext)+"_REPROJ"+ext)

	log.Info().Str("src", srcPath).Str("dest", destPath).Int("epsg", targetEPSG).Msg("Reproject")

	sw := []string{
		"-t_srs", fmt.Sprintf("EPSG:%d", targetEPSG),
		"-tr", fmtFloat(xRes), fmtFloat(-yRes),
		"-r", ResampleAlgForOrder(order),
		"-dstnodata", "0",
	}

	img, err := w.run(srcPath, destPath, sw, "", "")
	if err != nil {
		return nil, "", err
	}
	return img, destPath, nil
}
