package web

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"reelmusic/internal/job"
	"reelmusic/internal/reel"
)

// Version is reported by /health.
const Version = "1.0.0"

const (
	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling to temp files.
	multipartMemory = 32 << 20
	// formOverhead allows for multipart framing and text fields on top of
	// the file size limits.
	formOverhead = 1 << 20
)

const (
	deliveryStream = "stream"
	deliveryURL    = "url"
)

type server struct {
	pipeline  Pipeline
	bus       *job.EventBus
	publisher Publisher
	password  string

	mux  *http.ServeMux
	http *http.Server
}

// NewServer creates the HTTP server. publisher may be nil, in which case
// url delivery is rejected.
func NewServer(
	pipeline Pipeline,
	bus *job.EventBus,
	publisher Publisher,
	password string,
) *server {
	return &server{
		pipeline:  pipeline,
		bus:       bus,
		publisher: publisher,
		password:  password,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *server) Handler() http.Handler {
	s.mux = http.NewServeMux()

	// Public endpoints
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/styles", s.handleStyles)
	s.mux.HandleFunc("/info", s.handleInfo)

	// Protected endpoints
	s.mux.Handle("/process-reel", s.requireAuth(http.HandlerFunc(s.handleProcessReel)))
	s.mux.Handle("/events", s.requireAuth(http.HandlerFunc(s.handleEvents)))

	s.mux.HandleFunc("/", s.handleRoot)

	return s.corsMiddleware(s.logMiddleware(s.mux))
}

func (s *server) Start(lis net.Listener) error {
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.Serve(lis)
}

// Shutdown stops accepting requests and waits for running jobs to finish.
func (s *server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// CORS middleware to allow frontend requests
func (s *server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Job-ID")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// requireAuth checks HTTP Basic credentials against the app password. Any
// username is accepted.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="reel-music"`)
			s.sendJSONError(w, "", "incorrect password", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiErrorResponse struct {
	Error   string `json:"error"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

type apiStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
}

type apiStylesResponse struct {
	Styles      []string `json:"styles"`
	Description string   `json:"description"`
}

type apiInfoResponse struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Features           []string `json:"features"`
	SupportedFormats   []string `json:"supported_formats"`
	ReferenceFormats   []string `json:"reference_formats"`
	OutputFormats      []string `json:"output_formats"`
	MaxFileSizeMB      int64    `json:"max_file_size_mb"`
	MaxReferenceSizeMB int64    `json:"max_reference_size_mb"`
	MusicStyles        []string `json:"music_styles"`
	URLDeliveryEnabled bool     `json:"url_delivery_enabled"`
}

type apiLinkResponse struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendJSONError(w, "", "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		s.sendJSONError(w, "", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, apiStatusResponse{Status: "ok", Message: "Reel Music Generator API is running"}, http.StatusOK)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, "", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, apiStatusResponse{
		Status:  "ok",
		Message: "Reel Music Generator API is running",
		Version: Version,
	}, http.StatusOK)
}

func (s *server) handleStyles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, "", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, apiStylesResponse{
		Styles:      s.pipeline.Catalog().Names(),
		Description: "Choose a style that matches your video mood",
	}, http.StatusOK)
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, "", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, apiInfoResponse{
		Name:        "Reel Music Generator",
		Description: "Upload a video reel and get it back with AI-generated royalty-free music",
		Features: []string{
			"AI-generated instrumental music",
			"Melody conditioning from a reference song or video",
			"Music paced to the video's scene changes",
			"Automatic video-audio synchronization",
		},
		SupportedFormats:   reel.VideoExtensions(),
		ReferenceFormats:   append(reel.ReferenceExtensions(), reel.VideoExtensions()...),
		OutputFormats:      []string{string(reel.FormatVideo), string(reel.FormatAudio), string(reel.FormatBoth)},
		MaxFileSizeMB:      s.pipeline.MaxVideoBytes() >> 20,
		MaxReferenceSizeMB: s.pipeline.MaxReferenceBytes() >> 20,
		MusicStyles:        s.pipeline.Catalog().Names(),
		URLDeliveryEnabled: s.publisher != nil,
	}, http.StatusOK)
}

// handleProcessReel handles POST /process-reel - multipart upload in, finished
// video (or audio, or zip) out.
func (s *server) handleProcessReel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, "", "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.pipeline.MaxVideoBytes() + s.pipeline.MaxReferenceBytes() + formOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.sendJSONError(w, string(reel.StageIntake),
				fmt.Sprintf("upload exceeds the %d MB request limit", limit>>20),
				http.StatusRequestEntityTooLarge)
			return
		}
		s.sendJSONError(w, string(reel.StageIntake), "invalid form data", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		s.sendJSONError(w, string(reel.StageIntake), "missing video file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	removeOriginal := true
	if v := strings.TrimSpace(r.FormValue("remove_original_audio")); v != "" {
		removeOriginal, err = strconv.ParseBool(v)
		if err != nil {
			s.sendJSONError(w, string(reel.StageIntake), "remove_original_audio must be true or false", http.StatusBadRequest)
			return
		}
	}

	format, err := reel.ParseOutputFormat(r.FormValue("output_format"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	mode := strings.ToLower(strings.TrimSpace(r.FormValue("delivery")))
	switch mode {
	case "", deliveryStream:
		mode = deliveryStream
	case deliveryURL:
		if s.publisher == nil {
			s.writeError(w, &reel.Error{
				Kind:    reel.KindConfiguration,
				Stage:   reel.StageDelivery,
				Message: "url delivery is not configured on this server",
			})
			return
		}
	default:
		s.sendJSONError(w, string(reel.StageIntake), "delivery must be stream or url", http.StatusBadRequest)
		return
	}

	req := &reel.Request{
		Video:               reel.Upload{Filename: header.Filename, Body: file},
		Style:               r.FormValue("style"),
		RemoveOriginalAudio: removeOriginal,
		Format:              format,
	}

	refFile, refHeader, err := r.FormFile("reference_audio")
	switch {
	case err == nil:
		defer refFile.Close()
		if refHeader.Filename != "" && refHeader.Size > 0 {
			req.Reference = &reel.Upload{Filename: refHeader.Filename, Body: refFile}
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		s.sendJSONError(w, string(reel.StageIntake), "invalid reference_audio field", http.StatusBadRequest)
		return
	}

	wrote := false
	err = s.pipeline.Process(r.Context(), req, func(a *reel.Artifact) error {
		w.Header().Set("X-Job-ID", a.JobID)
		if mode == deliveryURL {
			return s.publishArtifact(r.Context(), w, a, &wrote)
		}
		return s.streamArtifact(w, a, &wrote)
	})
	if err != nil {
		if wrote {
			slog.Error("response aborted after headers were sent", "error", err)
			return
		}
		s.writeError(w, err)
	}
}

func (s *server) streamArtifact(w http.ResponseWriter, a *reel.Artifact, wrote *bool) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	w.Header().Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	w.WriteHeader(http.StatusOK)
	*wrote = true

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("stream artifact: %w", err)
	}
	return nil
}

func (s *server) publishArtifact(ctx context.Context, w http.ResponseWriter, a *reel.Artifact, wrote *bool) error {
	link, err := s.publisher.Publish(ctx, a.JobID+"/"+a.Filename, a.Path, a.ContentType)
	if err != nil {
		return &reel.Error{Kind: reel.KindUpstream, Stage: reel.StageDelivery, Message: "could not publish the result", Err: err}
	}
	s.sendJSON(w, apiLinkResponse{
		JobID:     a.JobID,
		Filename:  a.Filename,
		URL:       link.URL,
		ExpiresAt: link.ExpiresAt,
	}, http.StatusOK)
	*wrote = true
	return nil
}

// writeError maps a pipeline error to its HTTP status and safe body.
func (s *server) writeError(w http.ResponseWriter, err error) {
	rerr, ok := reel.AsError(err)
	if !ok {
		slog.Error("unclassified error", "error", err)
		s.sendJSONError(w, "", "internal error", http.StatusInternalServerError)
		return
	}
	if rerr.JobID != "" {
		w.Header().Set("X-Job-ID", rerr.JobID)
	}
	s.sendJSONError(w, string(rerr.Stage), rerr.Message, statusFor(rerr))
}

func statusFor(e *reel.Error) int {
	switch e.Kind {
	case reel.KindValidation:
		if errors.Is(e, reel.ErrTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case reel.KindUpstream:
		if errors.Is(e, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case reel.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions for JSON responses
func (s *server) sendJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *server) sendJSONError(w http.ResponseWriter, stage, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Error:   http.StatusText(status),
		Stage:   stage,
		Message: message,
	})
}
