// Package app wires configuration into the job pipeline for the binaries.
package app

import (
	"fmt"
	"log/slog"

	"reelmusic/internal/config"
	"reelmusic/internal/job"
	"reelmusic/internal/media"
	"reelmusic/internal/musicgen"
	"reelmusic/internal/reel"
	"reelmusic/internal/styles"
)

// Catalog loads the style presets, with overrides from cfg.StylesFile.
func Catalog(cfg config.Config) (*styles.Catalog, error) {
	if cfg.StylesFile == "" {
		return styles.Default(), nil
	}
	c, err := styles.LoadFile(cfg.StylesFile)
	if err != nil {
		return nil, &config.Error{Key: "REEL_STYLES_FILE", Message: err.Error()}
	}
	return c, nil
}

// Generator returns Replicate, followed by Mubert when a license is set.
func Generator(cfg config.Config, logger *slog.Logger) musicgen.Generator {
	replicate := musicgen.NewReplicate(cfg.ReplicateToken,
		musicgen.WithReplicateLogger(logger.With("backend", "replicate")))
	if cfg.MubertLicense == "" {
		return replicate
	}
	mubert := musicgen.NewMubert(cfg.MubertLicense,
		musicgen.WithMubertLogger(logger.With("backend", "mubert")))
	return musicgen.NewChain(logger, replicate, mubert)
}

// Processor returns the ffmpeg toolkit configured from cfg.
func Processor(cfg config.Config) *media.Processor {
	return media.NewProcessor(
		media.WithBinaries(cfg.FFmpegPath, cfg.FFprobePath),
		media.WithTimeout(cfg.MediaTimeout),
	)
}

// Service builds the pipeline. bus may be nil.
func Service(cfg config.Config, logger *slog.Logger, bus *job.EventBus) (*reel.Service, error) {
	catalog, err := Catalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("load styles: %w", err)
	}

	opts := []reel.Option{
		reel.WithCatalog(catalog),
		reel.WithLogger(logger),
		reel.WithWorkDir(cfg.WorkDir),
		reel.WithLimits(cfg.MaxVideoBytes, cfg.MaxReferenceBytes),
		reel.WithSynthesisTimeout(cfg.SynthesisTimeout),
	}
	if bus != nil {
		opts = append(opts, reel.WithEventBus(bus))
	}
	return reel.NewService(Generator(cfg, logger), Processor(cfg), opts...), nil
}
