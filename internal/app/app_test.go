package app

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"reelmusic/internal/config"
	"reelmusic/internal/musicgen"
)

// TestGeneratorChainsMubertWhenLicensed checks Mubert is only chained when a license is set.
func TestGeneratorChainsMubertWhenLicensed(t *testing.T) {
	if _, ok := Generator(config.Config{ReplicateToken: "r8"}, slog.Default()).(*musicgen.Replicate); !ok {
		t.Fatal("without a license the generator should be Replicate alone")
	}

	g := Generator(config.Config{ReplicateToken: "r8", MubertLicense: "lic"}, slog.Default())
	chain, ok := g.(*musicgen.Chain)
	if !ok || chain.Len() != 2 {
		t.Fatalf("generator = %T", g)
	}
}

// TestCatalogReportsBadStylesFile checks a broken styles file is a configuration error.
func TestCatalogReportsBadStylesFile(t *testing.T) {
	_, err := Catalog(config.Config{StylesFile: filepath.Join(t.TempDir(), "missing.yaml")})
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) || cfgErr.Key != "REEL_STYLES_FILE" {
		t.Fatalf("error = %v", err)
	}
}

// TestServiceUsesConfiguredLimits checks the upload limits come from the config.
func TestServiceUsesConfiguredLimits(t *testing.T) {
	cfg := config.Config{
		ReplicateToken:    "r8",
		WorkDir:           t.TempDir(),
		MaxVideoBytes:     7 << 20,
		MaxReferenceBytes: 3 << 20,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
	}
	svc, err := Service(cfg, slog.Default(), nil)
	if err != nil {
		t.Fatalf("Service() error = %v", err)
	}
	if svc.MaxVideoBytes() != 7<<20 || svc.MaxReferenceBytes() != 3<<20 {
		t.Fatalf("limits = %d, %d", svc.MaxVideoBytes(), svc.MaxReferenceBytes())
	}
}
