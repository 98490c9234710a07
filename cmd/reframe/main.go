package main

import (
	"os"

	"s2reframe/internal/config"
	"s2reframe/internal/logger"
	"s2reframe/internal/quicklook"
	"s2reframe/internal/raster"
	"s2reframe/internal/reframe"
	"s2reframe/internal/tilegrid"
	"s2reframe/internal/version"
	"s2reframe/internal/warp"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string  `short:"c" long:"config"    env:"CONFIG_FILE" description:"Path to configuration file"`
	Tile       string  `short:"t" long:"tile"      required:"true"   description:"Target MGRS tile, e.g. 32TQM or T32TQM"`
	Input      string  `short:"i" long:"input"     required:"true"   description:"Input GeoTIFF"`
	Output     string  `short:"o" long:"output"    required:"true"   description:"Output GeoTIFF"`
	DX         float64 `long:"dx"                  description:"X correction in map units" default:"0"`
	DY         float64 `long:"dy"                  description:"Y correction in map units" default:"0"`
	Order      int     `long:"order"               description:"Interpolation order: 0 nearest, 1 linear, 3 cubic" default:"3"`
	Margin     int     `long:"margin"              description:"Extra pixels around the tile on each side" default:"0"`
	Polynomial bool    `long:"polynomial"          description:"Apply the polynomial correction from a previous matching run instead of a translation"`
	Multiband  bool    `short:"b" long:"multiband" description:"Reframe all bands of the input"`
	Quicklook  string  `short:"q" long:"quicklook" description:"Also write a PNG quicklook to this path"`
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
	log.Debug().Str("version", version.String()).Msg("reframe starting")

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
	reframer := reframe.NewReframer(warper, cfg.Reframe, cfg.WorkDir)

	method := reframe.Translation
	if opts.Polynomial {
		method = reframe.Polynomial
	}
	ropts := reframe.Options{
		DX:         opts.DX,
		DY:         opts.DY,
		Order:      opts.Order,
		Margin:     opts.Margin,
		Method:     method,
		SourcePath: opts.Input,
	}
	writeOpts := raster.WriteOptions{Compression: cfg.Warp.Compression, NoData: &cfg.Warp.NoData}

	var first *raster.Image
	if opts.Multiband {
		images, err := reframer.ReframeMultiband(opts.Input, footprint, ropts)
		if err != nil {
			log.Fatal().Err(err).Str("tile", footprint.TileID).Str("input", opts.Input).Msg("Reframe failed")
		}
		if err := raster.WriteMulti(opts.Output, images, writeOpts); err != nil {
			log.Fatal().Err(err).Str("output", opts.Output).Msg("Failed to write output")
		}
		first = images[0]
	} else {
		img, err := raster.Read(opts.Input)
		if err != nil {
			log.Fatal().Err(err).Str("input", opts.Input).Msg("Failed to read input")
		}
		out, err := reframer.Reframe(img, footprint, ropts)
		if err != nil {
			log.Fatal().Err(err).Str("tile", footprint.TileID).Str("input", opts.Input).Msg("Reframe failed")
		}
		if err := raster.Write(opts.Output, out, writeOpts); err != nil {
			log.Fatal().Err(err).Str("output", opts.Output).Msg("Failed to write output")
		}
		first = out
	}

	if opts.Quicklook != "" {
		if err := quicklook.WritePNG(opts.Quicklook, first, quicklook.Options{MaxSize: 1024}); err != nil {
			log.Error().Err(err).Msg("Failed to write quicklook")
		}
	}

	log.Info().
		Str("tile", footprint.TileID).
		Str("output", opts.Output).
		Msg("Reframe finished successfully")
}
