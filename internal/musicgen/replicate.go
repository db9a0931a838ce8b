package musicgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultReplicateURL is the Replicate API base URL.
	DefaultReplicateURL = "https://api.replicate.com"

	// MusicGenVersion pins the meta/musicgen model version.
	MusicGenVersion = "671ac645ce5e552cc63a54a2bbff63fcf798043055d2dac5fc9e36a837eedcfb"

	// ModelStereo is the style-only MusicGen variant.
	ModelStereo = "stereo-large"

	// ModelStereoMelody is the melody-conditioned MusicGen variant.
	ModelStereoMelody = "stereo-melody-large"

	// DefaultPollInterval is how often a running prediction is checked.
	DefaultPollInterval = 3 * time.Second

	// DefaultRequestTimeout bounds one HTTP round trip to the API.
	DefaultRequestTimeout = 30 * time.Second

	cancelTimeout = 10 * time.Second
	backendName   = "replicate"
)

// Prediction statuses reported by Replicate.
const (
	statusStarting   = "starting"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
)

// Replicate generates music with MusicGen hosted on Replicate.
type Replicate struct {
	token        string
	baseURL      string
	version      string
	pollInterval time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// ReplicateOption configures the Replicate backend.
type ReplicateOption func(*Replicate)

// WithReplicateBaseURL sets a custom API base URL.
func WithReplicateBaseURL(url string) ReplicateOption {
	return func(r *Replicate) { r.baseURL = strings.TrimRight(url, "/") }
}

// WithReplicateHTTPClient sets a custom HTTP client.
func WithReplicateHTTPClient(c *http.Client) ReplicateOption {
	return func(r *Replicate) { r.client = c }
}

// WithPollInterval sets the prediction polling interval.
func WithPollInterval(d time.Duration) ReplicateOption {
	return func(r *Replicate) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithModelVersion pins a different model version hash.
func WithModelVersion(v string) ReplicateOption {
	return func(r *Replicate) { r.version = v }
}

// WithReplicateLogger sets the logger for prediction progress.
func WithReplicateLogger(l *slog.Logger) ReplicateOption {
	return func(r *Replicate) { r.logger = l }
}

// NewReplicate creates a Replicate backend authenticated with token.
func NewReplicate(token string, opts ...ReplicateOption) *Replicate {
	r := &Replicate{
		token:        token,
		baseURL:      DefaultReplicateURL,
		version:      MusicGenVersion,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

type predictionInput struct {
	Prompt                string `json:"prompt"`
	Duration              int    `json:"duration"`
	ModelVersion          string `json:"model_version"`
	OutputFormat          string `json:"output_format"`
	NormalizationStrategy string `json:"normalization_strategy"`
	Melody                string `json:"melody,omitempty"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// Generate runs one prediction to completion.
//
// The create call is billable and is only retried when the connection was
// never established. If ctx ends while the prediction runs, the prediction
// is cancelled upstream before returning.
func (r *Replicate) Generate(ctx context.Context, req *Request) (*Result, error) {
	input := predictionInput{
		Prompt:                req.Prompt,
		Duration:              clipSeconds(req.Duration),
		ModelVersion:          ModelStereo,
		OutputFormat:          "wav",
		NormalizationStrategy: "loudness",
	}
	if req.Melody != nil {
		input.ModelVersion = ModelStereoMelody
		input.Melody = req.Melody.DataURI()
	}

	pred, err := r.create(ctx, predictionRequest{Version: r.version, Input: input})
	if err != nil {
		return nil, err
	}
	log := r.logger.With("prediction_id", pred.ID, "model_version", input.ModelVersion)
	if ctx.Err() != nil {
		r.cancel(ctx, pred.ID)
		log.Warn("prediction cancelled", "reason", ctx.Err())
		return nil, fmt.Errorf("replicate: prediction %s: %w", pred.ID, ctx.Err())
	}
	log.Info("prediction started")

	done, err := r.wait(ctx, pred)
	if err != nil {
		if ctx.Err() != nil {
			r.cancel(ctx, pred.ID)
			log.Warn("prediction cancelled", "reason", ctx.Err())
		}
		return nil, err
	}

	url, err := outputURL(done.Output)
	if err != nil {
		return nil, &Error{Backend: backendName, Message: err.Error(), PredictionID: pred.ID}
	}

	audio, err := download(ctx, r.client, url)
	if err != nil {
		return nil, err
	}
	log.Info("prediction downloaded", "bytes", len(audio))

	return &Result{
		Audio:        audio,
		Format:       "wav",
		Backend:      backendName,
		Model:        input.ModelVersion,
		PredictionID: pred.ID,
	}, nil
}

// create runs detached from ctx so an accepted prediction's id is always
// read back and can be cancelled.
func (r *Replicate) create(ctx context.Context, body predictionRequest) (*prediction, error) {
	createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultRequestTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var pred prediction
		err := r.do(createCtx, http.MethodPost, "/v1/predictions", body, &pred)
		if err == nil {
			return &pred, nil
		}
		lastErr = err
		if !isDialError(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// wait polls until the prediction settles. One failed poll in a row is
// tolerated; the next tick retries it.
func (r *Replicate) wait(ctx context.Context, pred *prediction) (*prediction, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		switch pred.Status {
		case statusSucceeded:
			return pred, nil
		case statusFailed:
			return nil, &Error{Backend: backendName, Message: "prediction failed: " + errorText(pred.Error), PredictionID: pred.ID}
		case statusCanceled:
			return nil, &Error{Backend: backendName, Message: "prediction was canceled", PredictionID: pred.ID}
		case statusStarting, statusProcessing, "":
		default:
			return nil, &Error{Backend: backendName, Message: "unknown prediction status " + pred.Status, PredictionID: pred.ID}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("replicate: prediction %s: %w", pred.ID, ctx.Err())
		case <-ticker.C:
		}

		var next prediction
		if err := r.do(ctx, http.MethodGet, "/v1/predictions/"+pred.ID, nil, &next); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("replicate: prediction %s: %w", pred.ID, ctx.Err())
			}
			if apiErr, ok := AsError(err); ok && !apiErr.Retryable() {
				apiErr.PredictionID = pred.ID
				return nil, apiErr
			}
			failures++
			if failures > 1 {
				return nil, err
			}
			continue
		}
		failures = 0
		pred = &next
	}
}

// cancel settles a running prediction on a detached context.
func (r *Replicate) cancel(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	if err := r.do(ctx, http.MethodPost, "/v1/predictions/"+id+"/cancel", nil, nil); err != nil {
		r.logger.Error("cancel prediction failed", "prediction_id", id, "error", err)
	}
}

func (r *Replicate) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseReplicateError(data, resp.StatusCode)
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func parseReplicateError(body []byte, status int) error {
	var detail struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &detail); err == nil {
		switch {
		case detail.Detail != "":
			msg = detail.Detail
		case detail.Title != "":
			msg = detail.Title
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Backend: backendName, HTTPStatus: status, Message: msg}
}

// outputURL accepts either a single URL or a list of URLs.
func outputURL(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", errors.New("prediction succeeded without an output url")
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// download fetches a finished audio asset.
func download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Backend: "download", HTTPStatus: resp.StatusCode, Message: "audio download failed"}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, &Error{Backend: "download", HTTPStatus: resp.StatusCode, Message: "audio download was empty"}
	}
	return data, nil
}
