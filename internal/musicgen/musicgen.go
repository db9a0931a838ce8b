// Package musicgen talks to hosted music generation services.
//
// The Replicate backend runs Meta's MusicGen and supports melody
// conditioning from a reference clip. The optional Mubert backend is
// style-only. Both implement [Generator]; [Chain] tries them in order.
package musicgen

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
)

// MaxClipSeconds is the longest clip requested from a backend. Longer
// videos get the clip looped by the media combiner.
const MaxClipSeconds = 30

// ErrMelodyUnsupported is returned by backends that cannot condition on a
// reference melody.
var ErrMelodyUnsupported = errors.New("musicgen: backend does not support melody conditioning")

// Melody is a reference clip used to steer generation.
type Melody struct {
	Data     []byte
	MIMEType string
}

// DataURI encodes the melody for JSON transport.
func (m *Melody) DataURI() string {
	mime := m.MIMEType
	if mime == "" {
		mime = "audio/mpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// MelodyMIMEType maps a reference filename to the MIME type sent upstream.
func MelodyMIMEType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mp3"
	default:
		return "audio/mpeg"
	}
}

// Request is one generation call.
type Request struct {
	// Style is the preset name.
	Style string
	// Tags are short mood keywords for backends that take tags.
	Tags []string
	// Prompt is the full text description.
	Prompt string
	// Duration is the desired length in seconds.
	Duration int
	// Melody, when set, selects melody-conditioned generation.
	Melody *Melody
}

// Result is a finished generation.
type Result struct {
	Audio        []byte
	Format       string
	Backend      string
	Model        string
	PredictionID string
}

// Generator produces a finished audio track for a request.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}

func clipSeconds(d int) int {
	if d <= 0 {
		return MaxClipSeconds
	}
	if d > MaxClipSeconds {
		return MaxClipSeconds
	}
	return d
}
