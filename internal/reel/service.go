// Package reel runs one music-for-video job end to end: intake, synthesis,
// combination and delivery, with the job directory removed afterwards.
package reel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"reelmusic/internal/job"
	"reelmusic/internal/media"
	"reelmusic/internal/musicgen"
	"reelmusic/internal/styles"
)

const (
	DefaultMaxVideoBytes     = 100 << 20
	DefaultMaxReferenceBytes = 50 << 20
	DefaultSynthesisTimeout  = 3 * time.Minute
)

// OutputFormat selects what a job returns.
type OutputFormat string

const (
	FormatVideo OutputFormat = "video"
	FormatAudio OutputFormat = "audio"
	FormatBoth  OutputFormat = "both"
)

// ParseOutputFormat accepts video, audio or both. Empty means video.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatVideo:
		return FormatVideo, nil
	case FormatAudio:
		return FormatAudio, nil
	case FormatBoth:
		return FormatBoth, nil
	}
	return "", validationError("output_format must be one of video, audio, both", nil)
}

// Combiner is the media toolkit a job needs. *media.Processor implements it.
type Combiner interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	DetectScenes(ctx context.Context, path string) ([]media.Scene, error)
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
	Mux(ctx context.Context, req media.MuxRequest) error
	RenderAudio(ctx context.Context, musicPath, outPath string, duration float64) error
}

// Upload is one client-supplied file.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Request is one job's inputs.
type Request struct {
	Video               Upload
	Reference           *Upload
	Style               string
	RemoveOriginalAudio bool
	Format              OutputFormat
}

// Artifact is the finished output. Path is only valid during the deliver
// callback.
type Artifact struct {
	JobID       string
	Path        string
	Filename    string
	ContentType string
	Backend     string
}

// Service runs jobs. It is safe for concurrent use.
type Service struct {
	generator musicgen.Generator
	combiner  Combiner
	catalog   *styles.Catalog
	bus       *job.EventBus
	logger    *slog.Logger

	workDir           string
	maxVideoBytes     int64
	maxReferenceBytes int64
	synthesisTimeout  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog sets the style presets.
func WithCatalog(c *styles.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithEventBus publishes job transitions to bus.
func WithEventBus(bus *job.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithWorkDir sets the parent of job directories. Empty means the OS temp dir.
func WithWorkDir(dir string) Option {
	return func(s *Service) { s.workDir = dir }
}

// WithLimits sets upload size limits in bytes.
func WithLimits(maxVideo, maxReference int64) Option {
	return func(s *Service) {
		if maxVideo > 0 {
			s.maxVideoBytes = maxVideo
		}
		if maxReference > 0 {
			s.maxReferenceBytes = maxReference
		}
	}
}

// WithSynthesisTimeout bounds the generation call.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.synthesisTimeout = d
		}
	}
}

// NewService creates a Service.
func NewService(gen musicgen.Generator, combiner Combiner, opts ...Option) *Service {
	s := &Service{
		generator:         gen,
		combiner:          combiner,
		maxVideoBytes:     DefaultMaxVideoBytes,
		maxReferenceBytes: DefaultMaxReferenceBytes,
		synthesisTimeout:  DefaultSynthesisTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = styles.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Catalog returns the style presets in use.
func (s *Service) Catalog() *styles.Catalog { return s.catalog }

// MaxVideoBytes returns the video upload limit.
func (s *Service) MaxVideoBytes() int64 { return s.maxVideoBytes }

// MaxReferenceBytes returns the reference upload limit.
func (s *Service) MaxReferenceBytes() int64 { return s.maxReferenceBytes }

// Process runs one job. deliver is called with the finished artifact while
// its file still exists; the job directory is removed when Process returns,
// whatever the outcome. Returned errors are *Error.
func (s *Service) Process(ctx context.Context, req *Request, deliver func(*Artifact) error) error {
	var opts []job.Option
	if s.bus != nil {
		opts = append(opts, job.WithObserver(func(e job.Event) { s.bus.Publish(e) }))
	}
	j, err := job.New(s.workDir, opts...)
	if err != nil {
		return processingError(StageIntake, "could not create job workspace", err)
	}
	log := s.logger.With("job_id", j.ID)
	defer func() {
		if err := j.Cleanup(); err != nil {
			log.Error("job cleanup failed", "error", err)
		}
	}()

	start := time.Now()
	artifact, err := s.run(ctx, j, log, req)
	if err == nil {
		if derr := deliver(artifact); derr != nil {
			err = derr
			if _, ok := AsError(err); !ok {
				err = processingError(StageDelivery, "could not deliver result", derr)
			}
		}
	}
	if err != nil {
		rerr, ok := AsError(err)
		if !ok {
			rerr = processingError(StageIntake, "job failed", err)
		}
		rerr.JobID = j.ID
		log.Error("job failed", "kind", rerr.Kind, "stage", rerr.Stage, "error", rerr.Err)
		if ferr := j.Fail(string(rerr.Stage), rerr.Message); ferr != nil {
			log.Error("job cleanup failed", "error", ferr)
		}
		return rerr
	}

	if err := j.Transition(job.StatusCompleted); err != nil {
		log.Error("job state update failed", "error", err)
	}
	log.Info("job completed", "filename", artifact.Filename, "duration", time.Since(start))
	return nil
}

type stagedInputs struct {
	videoPath string
	info      media.Info
	melody    *musicgen.Melody
	preset    styles.Preset
	dynamics  styles.Dynamics
}

func (s *Service) run(ctx context.Context, j *job.Job, log *slog.Logger, req *Request) (*Artifact, error) {
	preset, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if err := s.advance(j, job.StatusInputsValidated, StageIntake); err != nil {
		return nil, err
	}
	log.Info("inputs validated", "style", preset.Name, "format", req.Format, "has_reference", req.Reference != nil)

	in, err := s.stage(ctx, j, log, req)
	if err != nil {
		return nil, err
	}
	in.preset = preset
	if err := s.advance(j, job.StatusInputsStaged, StageIntake); err != nil {
		return nil, err
	}

	if err := s.advance(j, job.StatusSynthesisInFlight, StageSynthesis); err != nil {
		return nil, err
	}
	musicPath, backend, err := s.synthesize(ctx, j, log, in)
	if err != nil {
		return nil, err
	}
	if err := s.advance(j, job.StatusSynthesisDone, StageSynthesis); err != nil {
		return nil, err
	}

	if err := s.advance(j, job.StatusCombining, StageCombination); err != nil {
		return nil, err
	}
	artifact, err := s.combine(ctx, j, req, in, musicPath)
	if err != nil {
		return nil, err
	}
	artifact.JobID = j.ID
	artifact.Backend = backend
	return artifact, nil
}

func (s *Service) advance(j *job.Job, to job.Status, stage Stage) error {
	if err := j.Transition(to); err != nil {
		return processingError(stage, "job state error", err)
	}
	return nil
}

func (s *Service) validate(req *Request) (styles.Preset, error) {
	if req.Video.Body == nil || req.Video.Filename == "" {
		return styles.Preset{}, validationError("a video file is required", nil)
	}
	if !isVideoExt(extOf(req.Video.Filename)) {
		return styles.Preset{}, validationError(
			"unsupported video format, allowed: "+strings.Join(VideoExtensions(), ", "), nil)
	}

	if req.Reference != nil {
		ext := extOf(req.Reference.Filename)
		if !audioExtensions[ext] && !isVideoExt(ext) {
			return styles.Preset{}, validationError(
				"unsupported reference format, allowed: "+strings.Join(ReferenceExtensions(), ", ")+" or a video file", nil)
		}
	}

	switch req.Format {
	case "":
		req.Format = FormatVideo
	case FormatVideo, FormatAudio, FormatBoth:
	default:
		return styles.Preset{}, validationError("output_format must be one of video, audio, both", nil)
	}

	name := req.Style
	if strings.TrimSpace(name) == "" {
		name = styles.DefaultStyle
	}
	preset, ok := s.catalog.Lookup(name)
	if !ok {
		return styles.Preset{}, validationError(
			"unknown style, choose one of: "+strings.Join(s.catalog.Names(), ", "), nil)
	}
	return preset, nil
}

func (s *Service) stage(ctx context.Context, j *job.Job, log *slog.Logger, req *Request) (*stagedInputs, error) {
	in := &stagedInputs{videoPath: j.Path("video" + extOf(req.Video.Filename))}

	n, err := saveUpload(in.videoPath, req.Video.Body, s.maxVideoBytes)
	if err != nil {
		return nil, uploadError("video", s.maxVideoBytes, err)
	}
	log.Info("video staged", "bytes", n)

	if req.Reference != nil {
		melody, err := s.stageReference(ctx, j, log, req.Reference)
		if err != nil {
			return nil, err
		}
		in.melody = melody
	}

	info, err := s.combiner.Probe(ctx, in.videoPath)
	if err != nil {
		return nil, processingError(StageIntake, "could not read the video file", err)
	}
	in.info = info
	log.Info("video probed", "duration", info.Duration, "width", info.Width, "height", info.Height, "has_audio", info.HasAudio)

	in.dynamics = styles.NeutralDynamics
	scenes, err := s.combiner.DetectScenes(ctx, in.videoPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, processingError(StageIntake, "request cancelled", ctx.Err())
		}
		log.Warn("scene analysis failed, using neutral dynamics", "error", err)
	} else {
		in.dynamics = media.Dynamics(scenes, info.Duration)
	}
	return in, nil
}

func (s *Service) stageReference(ctx context.Context, j *job.Job, log *slog.Logger, ref *Upload) (*musicgen.Melody, error) {
	ext := extOf(ref.Filename)
	path := j.Path("reference" + ext)

	n, err := saveUpload(path, ref.Body, s.maxReferenceBytes)
	if err != nil {
		return nil, uploadError("reference audio", s.maxReferenceBytes, err)
	}
	log.Info("reference staged", "bytes", n)

	mime := musicgen.MelodyMIMEType(ref.Filename)
	if isVideoExt(ext) {
		extracted := j.Path("reference.mp3")
		if err := s.combiner.ExtractAudio(ctx, path, extracted); err != nil {
			return nil, processingError(StageIntake, "could not extract audio from the reference video", err)
		}
		path = extracted
		mime = musicgen.MelodyMIMEType(extracted)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, processingError(StageIntake, "could not read the reference audio", err)
	}
	return &musicgen.Melody{Data: data, MIMEType: mime}, nil
}

func uploadError(what string, max int64, err error) error {
	switch {
	case errors.Is(err, ErrTooLarge):
		return validationError(fmt.Sprintf("%s exceeds the %d MB limit", what, max>>20), err)
	case errors.Is(err, ErrEmptyUpload):
		return validationError(what+" is empty", err)
	}
	return processingError(StageIntake, "could not store the "+what, err)
}

func (s *Service) synthesize(ctx context.Context, j *job.Job, log *slog.Logger, in *stagedInputs) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.synthesisTimeout)
	defer cancel()

	req := &musicgen.Request{
		Style:    in.preset.Name,
		Tags:     in.preset.Tags,
		Prompt:   styles.BuildPrompt(in.preset, in.dynamics),
		Duration: int(math.Ceil(in.info.Duration)),
		Melody:   in.melody,
	}
	log.Info("synthesis started", "duration", req.Duration, "pace", in.dynamics.Pace, "intensity", in.dynamics.Intensity)

	res, err := s.generator.Generate(ctx, req)
	if err != nil {
		log.Error("synthesis failed", "error", err)
		msg := "music generation failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "music generation timed out"
		}
		return "", "", &Error{Kind: KindUpstream, Stage: StageSynthesis, Message: msg, Err: err}
	}

	format := res.Format
	if format == "" {
		format = "wav"
	}
	path := j.Path("music." + format)
	if err := os.WriteFile(path, res.Audio, 0o600); err != nil {
		return "", "", processingError(StageSynthesis, "could not store generated music", err)
	}
	log.Info("synthesis done", "backend", res.Backend, "model", res.Model, "prediction_id", res.PredictionID, "bytes", len(res.Audio))
	return path, res.Backend, nil
}

func (s *Service) combine(ctx context.Context, j *job.Job, req *Request, in *stagedInputs, musicPath string) (*Artifact, error) {
	ext := extOf(req.Video.Filename)

	muxVideo := func() (string, error) {
		out := j.Path("output" + ext)
		err := s.combiner.Mux(ctx, media.MuxRequest{
			VideoPath:           in.videoPath,
			MusicPath:           musicPath,
			OutputPath:          out,
			RemoveOriginalAudio: req.RemoveOriginalAudio,
			HasAudio:            in.info.HasAudio,
			Duration:            in.info.Duration,
		})
		if err != nil {
			return "", processingError(StageCombination, "could not combine music with the video", err)
		}
		return out, nil
	}
	renderAudio := func() (string, error) {
		out := j.Path("music-out.wav")
		if err := s.combiner.RenderAudio(ctx, musicPath, out, in.info.Duration); err != nil {
			return "", processingError(StageCombination, "could not render the music track", err)
		}
		return out, nil
	}

	switch req.Format {
	case FormatAudio:
		out, err := renderAudio()
		if err != nil {
			return nil, err
		}
		return &Artifact{Path: out, Filename: audioDownloadName(req.Video.Filename), ContentType: contentTypeWAV}, nil

	case FormatBoth:
		video, err := muxVideo()
		if err != nil {
			return nil, err
		}
		audio, err := renderAudio()
		if err != nil {
			return nil, err
		}
		pkg := j.Path("package.zip")
		entries := []zipEntry{
			{Name: videoDownloadName(req.Video.Filename), Path: video},
			{Name: audioDownloadName(req.Video.Filename), Path: audio},
		}
		if err := writeZip(pkg, entries); err != nil {
			return nil, processingError(StageCombination, "could not package the results", err)
		}
		return &Artifact{Path: pkg, Filename: packageDownloadName(req.Video.Filename), ContentType: contentTypeZip}, nil

	default:
		out, err := muxVideo()
		if err != nil {
			return nil, err
		}
		return &Artifact{Path: out, Filename: videoDownloadName(req.Video.Filename), ContentType: videoExtensions[ext]}, nil
	}
}
