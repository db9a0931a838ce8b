package musicgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultMubertURL is the Mubert B2B API endpoint.
	DefaultMubertURL = "https://api-b2b.mubert.com/v2/RecordTrack"

	mubertBackend    = "mubert"
	mubertMaxSeconds = 60
)

// Mubert generates style-only tracks with Mubert's RecordTrack call.
type Mubert struct {
	license string
	url     string
	client  *http.Client
	logger  *slog.Logger
}

// MubertOption configures the Mubert backend.
type MubertOption func(*Mubert)

// WithMubertURL sets a custom RecordTrack endpoint.
func WithMubertURL(url string) MubertOption {
	return func(m *Mubert) { m.url = url }
}

// WithMubertHTTPClient sets a custom HTTP client.
func WithMubertHTTPClient(c *http.Client) MubertOption {
	return func(m *Mubert) { m.client = c }
}

// WithMubertLogger sets the logger.
func WithMubertLogger(l *slog.Logger) MubertOption {
	return func(m *Mubert) { m.logger = l }
}

// NewMubert creates a Mubert backend using the given license token.
func NewMubert(license string, opts ...MubertOption) *Mubert {
	m := &Mubert{
		license: license,
		url:     DefaultMubertURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: 90 * time.Second}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

type recordTrackRequest struct {
	Method string            `json:"method"`
	Params recordTrackParams `json:"params"`
}

type recordTrackParams struct {
	PAT      string `json:"pat"`
	Mode     string `json:"mode"`
	Duration int    `json:"duration"`
}

type recordTrackResponse struct {
	Status int `json:"status"`
	Error  *struct {
		Code int    `json:"code"`
		Text string `json:"text"`
	} `json:"error"`
	Data *struct {
		Tasks []struct {
			DownloadLink string `json:"download_link"`
		} `json:"tasks"`
		Link         string `json:"link"`
		URL          string `json:"url"`
		DownloadLink string `json:"download_link"`
	} `json:"data"`
}

func (r *recordTrackResponse) downloadURL() string {
	if r.Data == nil {
		return ""
	}
	if len(r.Data.Tasks) > 0 && r.Data.Tasks[0].DownloadLink != "" {
		return r.Data.Tasks[0].DownloadLink
	}
	for _, u := range []string{r.Data.Link, r.Data.URL, r.Data.DownloadLink} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Generate records one track for the request's mood.
func (m *Mubert) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req.Melody != nil {
		return nil, ErrMelodyUnsupported
	}

	duration := req.Duration
	if duration <= 0 || duration > mubertMaxSeconds {
		duration = mubertMaxSeconds
	}

	body, err := json.Marshal(recordTrackRequest{
		Method: "RecordTrack",
		Params: recordTrackParams{PAT: m.license, Mode: mubertMode(req), Duration: duration},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Backend: mubertBackend, HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var rec recordTrackResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rec.Status != 1 {
		msg := "record track failed"
		if rec.Error != nil && rec.Error.Text != "" {
			msg = rec.Error.Text
		}
		return nil, &Error{Backend: mubertBackend, HTTPStatus: resp.StatusCode, Message: msg}
	}

	url := rec.downloadURL()
	if url == "" {
		return nil, &Error{Backend: mubertBackend, HTTPStatus: resp.StatusCode, Message: "response has no download link"}
	}

	audio, err := download(ctx, m.client, url)
	if err != nil {
		return nil, err
	}
	m.logger.Info("mubert track downloaded", "mode", mubertMode(req), "bytes", len(audio))

	return &Result{
		Audio:   audio,
		Format:  "mp3",
		Backend: mubertBackend,
		Model:   "recordtrack",
	}, nil
}

func mubertMode(req *Request) string {
	if len(req.Tags) > 0 && req.Tags[0] != "" {
		return req.Tags[0]
	}
	if req.Style != "" {
		return req.Style
	}
	return "ambient"
}
