package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxVideoMB       = 100
	DefaultMaxReferenceMB   = 50
	DefaultSynthesisTimeout = 3 * time.Minute
	DefaultMediaTimeout     = 2 * time.Minute
	DefaultArtifactURLTTL   = time.Hour
)

// Config is the process-wide configuration, built once at startup.
type Config struct {
	ReplicateToken string
	AppPassword    string
	MubertLicense  string

	WorkDir           string
	MaxVideoBytes     int64
	MaxReferenceBytes int64

	SynthesisTimeout time.Duration
	MediaTimeout     time.Duration

	FFmpegPath  string
	FFprobePath string
	StylesFile  string

	ArtifactBucket string
	ArtifactURLTTL time.Duration
	AWSRegion      string
}

// Error reports a missing or invalid configuration key.
type Error struct {
	Key     string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// Requirement selects which credentials a binary needs at startup.
type Requirement int

const (
	// RequireNone only reads local settings such as binary paths.
	RequireNone Requirement = iota
	// RequireToken requires the generation service token.
	RequireToken
	// RequireServer additionally requires the access-gate secret.
	RequireServer
)

// FromEnv reads configuration through getenv, applying defaults. All
// problems are reported together as joined *Error values.
func FromEnv(getenv func(string) string, req Requirement) (Config, error) {
	r := &reader{getenv: getenv}

	cfg := Config{
		ReplicateToken:    r.str("REPLICATE_API_TOKEN", ""),
		AppPassword:       r.str("APP_PASSWORD", ""),
		MubertLicense:     r.str("MUBERT_LICENSE", ""),
		WorkDir:           r.str("REEL_WORK_DIR", os.TempDir()),
		MaxVideoBytes:     r.megabytes("MAX_VIDEO_MB", DefaultMaxVideoMB),
		MaxReferenceBytes: r.megabytes("MAX_REFERENCE_MB", DefaultMaxReferenceMB),
		SynthesisTimeout:  r.duration("SYNTHESIS_TIMEOUT", DefaultSynthesisTimeout),
		MediaTimeout:      r.duration("MEDIA_TIMEOUT", DefaultMediaTimeout),
		FFmpegPath:        r.str("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       r.str("FFPROBE_PATH", "ffprobe"),
		StylesFile:        r.str("REEL_STYLES_FILE", ""),
		ArtifactBucket:    r.str("S3_ARTIFACT_BUCKET", ""),
		ArtifactURLTTL:    r.duration("ARTIFACT_URL_TTL", DefaultArtifactURLTTL),
		AWSRegion:         r.str("AWS_REGION", ""),
	}

	if req != RequireNone && cfg.ReplicateToken == "" {
		r.fail("REPLICATE_API_TOKEN", "is required (get one at https://replicate.com/account/api-tokens)")
	}
	if req == RequireServer && cfg.AppPassword == "" {
		r.fail("APP_PASSWORD", "is required to protect /process-reel")
	}
	if req != RequireNone {
		r.dir("REEL_WORK_DIR", cfg.WorkDir)
	}

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	return cfg, nil
}

// Load reads configuration from the process environment.
func Load(req Requirement) (Config, error) {
	return FromEnv(os.Getenv, req)
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) fail(key, msg string) {
	r.errs = append(r.errs, &Error{Key: key, Message: msg})
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

// dir fails key unless path is an existing, writable directory.
func (r *reader) dir(key, path string) {
	st, err := os.Stat(path)
	if err != nil {
		r.fail(key, fmt.Sprintf("cannot use %q: %v", path, err))
		return
	}
	if !st.IsDir() {
		r.fail(key, fmt.Sprintf("%q is not a directory", path))
		return
	}
	f, err := os.CreateTemp(path, ".reel-check-*")
	if err != nil {
		r.fail(key, fmt.Sprintf("%q is not writable: %v", path, err))
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func (r *reader) megabytes(key string, def int64) int64 {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def << 20
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		r.fail(key, fmt.Sprintf("must be a positive integer, got %q", raw))
		return 0
	}
	return n << 20
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		r.fail(key, fmt.Sprintf("must be a positive duration like 90s, got %q", raw))
		return 0
	}
	return d
}
