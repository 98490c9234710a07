package geoloc

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"s2reframe/internal/raster"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BandSource references one band of an on-disk raster file to expose through
// the virtual raster. It carries no pixel data.
type BandSource struct {
	Band       int // 1-based band index in the source file
	DataType   raster.DType
	SourcePath string
	XSize      int
	YSize      int
}

// Descriptor is the result of Build: a VRT file binding the source bands to
// the three geolocation component rasters. The component rasters must stay
// on disk for as long as the VRT is consumed.
type Descriptor struct {
	VRTPath string
	LonPath string
	LatPath string
	AltPath string
	Rows    int
	Cols    int
}

// Remove deletes the descriptor's files from disk.
func (d *Descriptor) Remove() {
	for _, p := range []string{d.VRTPath, d.LonPath, d.LatPath, d.AltPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("Failed to remove geolocation file")
		}
	}
}

// VRT XML layout. Element and key names follow the GDAL geolocation-array
// convention; downstream tools may parse this structure.
type vrtDataset struct {
	XMLName     xml.Name        `xml:"VRTDataset"`
	RasterXSize int             `xml:"RasterXSize,attr"`
	RasterYSize int             `xml:"RasterYSize,attr"`
	SRS         string          `xml:"SRS"`
	Bands       []vrtRasterBand `xml:"VRTRasterBand"`
	Metadata    vrtMetadata     `xml:"metadata"`
}

type vrtRasterBand struct {
	Band     int          `xml:"band,attr"`
	DataType string       `xml:"dataType,attr"`
	Source   simpleSource `xml:"SimpleSource"`
}

type simpleSource struct {
	SourceFilename   sourceFilename   `xml:"SourceFilename"`
	SourceBand       int              `xml:"SourceBand"`
	SourceProperties sourceProperties `xml:"SourceProperties"`
	SrcRect          vrtRect          `xml:"SrcRect"`
	DstRect          vrtRect          `xml:"DstRect"`
}

type sourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Filename      string `xml:",chardata"`
}

type sourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr"`
}

type vrtRect struct {
	XOff  int `xml:"xOff,attr"`
	YOff  int `xml:"yOff,attr"`
	XSize int `xml:"xSize,attr"`
	YSize int `xml:"ySize,attr"`
}

type vrtMetadata struct {
	Domain string `xml:"domain,attr"`
	Items  []mdi  `xml:"mdi"`
}

type mdi struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// renderVRT produces the VRT XML binding the bands to the geolocation
// component rasters via the GEOLOCATION metadata domain.
func renderVRT(rows, cols int, bands []BandSource, lonPath, latPath, altPath string) ([]byte, error) {
	ds := vrtDataset{
		RasterXSize: cols,
		RasterYSize: rows,
		SRS:         "EPSG:4326",
	}

	for i, b := range bands {
		ds.Bands = append(ds.Bands, vrtRasterBand{
			Band:     i + 1,
			DataType: b.DataType.String(),
			Source: simpleSource{
				SourceFilename: sourceFilename{RelativeToVRT: 0, Filename: b.SourcePath},
				SourceBand:     b.Band,
				SourceProperties: sourceProperties{
					RasterXSize: b.XSize,
					RasterYSize: b.YSize,
					DataType:    b.DataType.String(),
				},
				SrcRect: vrtRect{XSize: b.XSize, YSize: b.YSize},
				DstRect: vrtRect{XSize: b.XSize, YSize: b.YSize},
			},
		})
	}

	ds.Metadata = vrtMetadata{
		Domain: "GEOLOCATION",
		Items: []mdi{
			{Key: "GEOREFERENCING_CONVENTION", Value: "CENTER_PIXEL"},
			{Key: "X_DATASET", Value: lonPath},
			{Key: "X_BAND", Value: "1"},
			{Key: "Y_DATASET", Value: latPath},
			{Key: "Y_BAND", Value: "1"},
			{Key: "Z_DATASET", Value: altPath},
			{Key: "Z_BAND", Value: "1"},
			{Key: "LINE_STEP", Value: "1"},
			{Key: "PIXEL_STEP", Value: "1"},
			{Key: "PIXEL_OFFSET", Value: "0"},
			{Key: "LINE_OFFSET", Value: "0"},
		},
	}

	return xml.MarshalIndent(ds, "", "    ")
}

// Builder writes geolocation virtual rasters into a working directory.
type Builder struct {
	dir string
}

// NewBuilder creates a Builder writing into dir.
func NewBuilder(dir string) *Builder {
	return &Builder{dir: dir}
}

// Build persists the grid's three components as standalone single-band
// rasters and writes a VRT tying each source band to them. File names carry
// a random suffix so concurrent band-level invocations sharing a working
// directory never collide.
func (b *Builder) Build(grid *Grid, bands []BandSource) (*Descriptor, error) {
	for _, src := range bands {
		if src.XSize != grid.Cols || src.YSize != grid.Rows {
			return nil, &ShapeMismatchError{
				Component: fmt.Sprintf("band %d source", src.Band),
				Rows:      grid.Rows,
				Cols:      grid.Cols,
				Len:       src.XSize * src.YSize,
			}
		}
	}

	uid := uuid.NewString()
	desc := &Descriptor{
		VRTPath: filepath.Join(b.dir, fmt.Sprintf("geoloc_%s.vrt", uid)),
		LonPath: filepath.Join(b.dir, fmt.Sprintf("geoloc_%s_lon.tif", uid)),
		LatPath: filepath.Join(b.dir, fmt.Sprintf("geoloc_%s_lat.tif", uid)),
		AltPath: filepath.Join(b.dir, fmt.Sprintf("geoloc_%s_alt.tif", uid)),
		Rows:    grid.Rows,
		Cols:    grid.Cols,
	}

	if err := raster.WriteFloat64(desc.LonPath, grid.Lon, grid.Cols, grid.Rows); err != nil {
		return nil, fmt.Errorf("longitude grid: %w", err)
	}
	if err := raster.WriteFloat64(desc.LatPath, grid.Lat, grid.Cols, grid.Rows); err != nil {
		return nil, fmt.Errorf("latitude grid: %w", err)
	}
	if err := raster.WriteFloat64(desc.AltPath, grid.Alt, grid.Cols, grid.Rows); err != nil {
		return nil, fmt.Errorf("altitude grid: %w", err)
	}

	content, err := renderVRT(grid.Rows, grid.Cols, bands, desc.LonPath, desc.LatPath, desc.AltPath)
	if err != nil {
		return nil, fmt.Errorf("render VRT: %w", err)
	}
	if err := os.WriteFile(desc.VRTPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("write VRT: %w", err)
	}

	log.Debug().Str("vrt", desc.VRTPath).Int("bands", len(bands)).Msg("Built geolocation VRT")
	return desc, nil
}
