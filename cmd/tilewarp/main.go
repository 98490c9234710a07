package main

import (
	"os"
	"strconv"

	"s2reframe/internal/config"
	"s2reframe/internal/geoloc"
	"s2reframe/internal/logger"
	"s2reframe/internal/raster"
	"s2reframe/internal/tilegrid"
	"s2reframe/internal/version"
	"s2reframe/internal/warp"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string  `short:"c" long:"config"     env:"CONFIG_FILE" description:"Path to configuration file"`
	Tile       string  `short:"t" long:"tile"       required:"true"   description:"Target MGRS tile, e.g. 32TQM"`
	Input      string  `short:"i" long:"input"      required:"true"   description:"Input raster"`
	Output     string  `short:"o" long:"output"     required:"true"   description:"Output GeoTIFF"`
	Resolution float64 `short:"r" long:"resolution" required:"true"   description:"Output pixel size in meters"`
	Band       int     `short:"b" long:"band"       description:"Band of the input to warp" default:"1"`
	Mask       bool    `short:"m" long:"mask"       description:"Input is a mask, use nearest-neighbor resampling"`

	Latitude  string `long:"lat"     description:"Per-pixel latitude raster enabling geolocation-grid warping"`
	Longitude string `long:"lon"     description:"Per-pixel longitude raster"`
	Altitude  string `long:"alt"     description:"Per-pixel altitude raster (defaults to all-zero)"`
	Rotated   bool   `long:"rotated" description:"Geolocation grids are rotated 90 degrees counter-clockwise (PRISMA convention)"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()
	log.Debug().Str("version", version.String()).Msg("tilewarp starting")

	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
		cfg = *loaded
	}
	if cfg.TileDB == "" {
		log.Fatal().Msg("No tile database configured, set tile_db in the configuration file")
	}
	if (opts.Latitude == "") != (opts.Longitude == "") {
		log.Fatal().Msg("Geolocation warping needs both --lat and --lon")
	}

	resolver, err := tilegrid.NewResolver(cfg.TileDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open tile database")
	}
	defer resolver.Close()

	footprint, err := resolver.Resolve(opts.Tile)
	if err != nil {
		log.Fatal().Err(err).Str("tile", opts.Tile).Msg("Failed to resolve tile")
	}

	warper := warp.NewWarper(cfg.Warp)
	wopts := warp.Options{
		Resolution: opts.Resolution,
		IsMask:     opts.Mask,
		Band:       strconv.Itoa(opts.Band),
		NoData:     cfg.Warp.NoData,
	}

	var out *raster.Image
	if opts.Latitude != "" {
		out, err = warpGeolocated(warper, footprint, cfg, opts, wopts)
	} else {
		out, err = warper.WarpToTile(opts.Input, opts.Output, footprint, wopts)
	}
	if err != nil {
		log.Fatal().Err(err).Str("tile", footprint.TileID).Str("input", opts.Input).Msg("Warp failed")
	}

	log.Info().
		Str("tile", footprint.TileID).
		Int("x_size", out.Header.XSize).
		Int("y_size", out.Header.YSize).
		Str("output", opts.Output).
		Msg("Warp finished successfully")
}

// warpGeolocated builds the geolocation VRT for the requested band and warps
// it onto the tile.
func warpGeolocated(warper *warp.Warper, footprint *tilegrid.TileFootprint, cfg config.Config, opts Options, wopts warp.Options) (*raster.Image, error) {
	lat, latCols, latRows, err := raster.ReadFloat64(opts.Latitude)
	if err != nil {
		return nil, err
	}
	lon, _, _, err := raster.ReadFloat64(opts.Longitude)
	if err != nil {
		return nil, err
	}
	var alt []float64
	if opts.Altitude != "" {
		if alt, _, _, err = raster.ReadFloat64(opts.Altitude); err != nil {
			return nil, err
		}
	}

	orient := geoloc.RowMajor
	if opts.Rotated {
		orient = geoloc.RotatedCCW90
	}
	grid, err := geoloc.NewGrid(lat, lon, alt, latRows, latCols, orient)
	if err != nil {
		return nil, err
	}

	header, err := raster.ReadHeader(opts.Input)
	if err != nil {
		return nil, err
	}
	dtype, err := raster.BandType(opts.Input, opts.Band)
	if err != nil {
		return nil, err
	}

	builder := geoloc.NewBuilder(cfg.WorkDir)
	desc, err := builder.Build(grid, []geoloc.BandSource{{
		Band:       opts.Band,
		DataType:   dtype,
		SourcePath: opts.Input,
		XSize:      header.XSize,
		YSize:      header.YSize,
	}})
	if err != nil {
		return nil, err
	}
	defer desc.Remove()

	return warper.WarpGeolocated(desc, opts.Output, footprint, wopts)
}
