package main

import (
	"os"
	"path/filepath"

	"s2reframe/internal/config"
	"s2reframe/internal/logger"
	"s2reframe/internal/match"
	"s2reframe/internal/raster"
	"s2reframe/internal/version"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"    env:"CONFIG_FILE" description:"Path to configuration file"`
	Reference  string `short:"r" long:"reference" required:"true"   description:"Reference image, already on the tile grid"`
	Secondary  string `short:"s" long:"secondary" required:"true"   description:"Secondary image to match against the reference"`
	Mask       string `short:"m" long:"mask"      required:"true"   description:"Validity mask raster (non-zero marks valid pixels)"`
	WorkDir    string `short:"w" long:"work-dir"  description:"Directory for tie points and statistics (defaults to the configured work dir)"`
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
	log.Debug().Str("version", version.String()).Msg("kltmatch starting")

	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
		cfg = *loaded
	}
	workDir := cfg.WorkDir
	if opts.WorkDir != "" {
		workDir = opts.WorkDir
	}

	ref, err := raster.Read(opts.Reference)
	if err != nil {
		log.Fatal().Err(err).Str("input", opts.Reference).Msg("Failed to read reference")
	}
	sec, err := raster.Read(opts.Secondary)
	if err != nil {
		log.Fatal().Err(err).Str("input", opts.Secondary).Msg("Failed to read secondary")
	}
	mask, err := raster.Read(opts.Mask)
	if err != nil {
		log.Fatal().Err(err).Str("input", opts.Mask).Msg("Failed to read mask")
	}

	matcher := match.NewMatcher(cfg.Match)
	result, err := matcher.Match(workDir,
		filepath.Base(opts.Reference), filepath.Base(opts.Secondary),
		ref, sec, mask)
	if err != nil {
		log.Fatal().Err(err).Msg("Matching failed")
	}

	if result.PointCount == 0 {
		log.Warn().Msg("No tie points found, no correction available")
		return
	}

	dx, dy := result.MeanDisplacement()
	log.Info().
		Int("points", result.PointCount).
		Float64("mean_dx", dx).
		Float64("mean_dy", dy).
		Str("tie_points", filepath.Join(workDir, match.TiePointsFile)).
		Msg("Matching finished successfully")
}
