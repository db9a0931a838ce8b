package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelmusic/internal/styles"
)

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "width": 1080, "height": 1920, "r_frame_rate": "30000/1001"},
    {"codec_type": "audio"}
  ],
  "format": {"duration": "12.480000"}
}`

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func hasArg(args []string, target string) bool {
	for _, arg := range args {
		if arg == target {
			return true
		}
	}
	return false
}

func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// TestProbeParsesFFprobeJSON checks duration, size, fps and audio detection.
func TestProbeParsesFFprobeJSON(t *testing.T) {
	var gotName string
	p := NewProcessor(
		WithBinaries("ffmpeg-x", "ffprobe-x"),
		WithRunner(func(ctx context.Context, name string, args ...string) (string, int, error) {
			gotName = name
			return probeJSON, 0, nil
		}),
	)

	info, err := p.Probe(context.Background(), "/in/video.mp4")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if gotName != "ffprobe-x" {
		t.Fatalf("command = %q, want ffprobe-x", gotName)
	}
	if info.Duration != 12.48 || info.Width != 1080 || info.Height != 1920 || !info.HasAudio {
		t.Fatalf("info = %+v", info)
	}
	if info.FPS < 29.96 || info.FPS > 29.98 {
		t.Fatalf("fps = %v", info.FPS)
	}
}

// TestProbeRejectsAudioOnlyInput checks corrupt or non-video input handling.
func TestProbeRejectsAudioOnlyInput(t *testing.T) {
	p := NewProcessor(WithRunner(func(ctx context.Context, name string, args ...string) (string, int, error) {
		return `{"streams":[{"codec_type":"audio"}],"format":{"duration":"3.0"}}`, 0, nil
	}))

	_, err := p.Probe(context.Background(), "song.mp4")
	var mErr *Error
	if !errors.As(err, &mErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if mErr.Op != "probe" {
		t.Fatalf("op = %q", mErr.Op)
	}
}

// TestMuxArgsStripOriginalAudio checks stream selection when the source audio is removed.
func TestMuxArgsStripOriginalAudio(t *testing.T) {
	args := buildMuxArgs(MuxRequest{
		VideoPath:           "/job/video.mp4",
		MusicPath:           "/job/music.wav",
		OutputPath:          "/job/output.mp4",
		RemoveOriginalAudio: true,
		HasAudio:            true,
		Duration:            12.48,
	})

	if hasArg(args, "-filter_complex") {
		t.Fatalf("strip mode should not mix, args=%v", args)
	}
	if !hasArg(args, "1:a:0") || !hasArg(args, "0:v:0") {
		t.Fatalf("missing stream maps, args=%v", args)
	}
	if argValue(args, "-t") != "12.480" {
		t.Fatalf("duration arg = %q", argValue(args, "-t"))
	}
	if argValue(args, "-c:v") != "copy" {
		t.Fatalf("video should be stream-copied, args=%v", args)
	}
	if args[len(args)-1] != "/job/output.mp4" {
		t.Fatalf("output path = %q", args[len(args)-1])
	}
	if !hasArg(args, "+faststart") {
		t.Fatalf("mp4 output should use faststart, args=%v", args)
	}
}

// TestMuxArgsKeepOriginalAudio checks the original track is mixed with the music.
func TestMuxArgsKeepOriginalAudio(t *testing.T) {
	args := buildMuxArgs(MuxRequest{
		VideoPath:  "/job/video.mkv",
		MusicPath:  "/job/music.wav",
		OutputPath: "/job/output.mkv",
		HasAudio:   true,
		Duration:   5,
	})

	filter := argValue(args, "-filter_complex")
	if !strings.Contains(filter, "[0:a:0]") || !strings.Contains(filter, "amix=inputs=2") {
		t.Fatalf("filter = %q", filter)
	}
	// A short source track must not cut the looped music before -t.
	if !strings.Contains(filter, "duration=longest") {
		t.Fatalf("filter = %q, want duration=longest", filter)
	}
	if argValue(args, "-map") != "0:v:0" || !hasArg(args, "[aout]") {
		t.Fatalf("maps wrong, args=%v", args)
	}
	if hasArg(args, "+faststart") {
		t.Fatalf("mkv output should not set movflags, args=%v", args)
	}
}

// TestMuxArgsKeepWithoutSourceAudio checks silent sources fall back to music only.
func TestMuxArgsKeepWithoutSourceAudio(t *testing.T) {
	args := buildMuxArgs(MuxRequest{
		VideoPath:  "v.mp4",
		MusicPath:  "m.wav",
		OutputPath: "o.mp4",
		HasAudio:   false,
		Duration:   5,
	})
	if hasArg(args, "-filter_complex") {
		t.Fatalf("no source audio to mix, args=%v", args)
	}
}

// TestMuxReportsNonZeroExit checks ffmpeg failures become typed errors.
func TestMuxReportsNonZeroExit(t *testing.T) {
	p := NewProcessor(WithRunner(func(ctx context.Context, name string, args ...string) (string, int, error) {
		return "", 1, errors.New("exit status 1")
	}))

	err := p.Mux(context.Background(), MuxRequest{VideoPath: "v.mp4", MusicPath: "m.wav", OutputPath: "o.mp4", Duration: 1})
	var mErr *Error
	if !errors.As(err, &mErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if mErr.Op != "mux" || mErr.Log.ExitCode != 1 || mErr.Log.Command != "ffmpeg" {
		t.Fatalf("unexpected error: %+v", mErr)
	}
}

// TestRunDetectsMissingOutput checks a zero exit without an output file is an error.
func TestRunDetectsMissingOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "music-out.wav")
	p := NewProcessor(WithRunner(func(ctx context.Context, name string, args ...string) (string, int, error) {
		return "", 0, nil
	}))

	err := p.RenderAudio(context.Background(), "music.wav", out, 10)
	var mErr *Error
	if !errors.As(err, &mErr) || !strings.Contains(mErr.Message, "missing") {
		t.Fatalf("error = %v, want missing output error", err)
	}
}

// TestRunSucceedsWithOutput checks the happy path writes through the runner.
func TestRunSucceedsWithOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reference.mp3")
	var got []string
	p := NewProcessor(WithRunner(func(ctx context.Context, name string, args ...string) (string, int, error) {
		got = args
		mustWriteFile(t, args[len(args)-1], "mp3")
		return "", 0, nil
	}))

	if err := p.ExtractAudio(context.Background(), "ref.mov", out); err != nil {
		t.Fatalf("ExtractAudio() error = %v", err)
	}
	if !hasArg(got, "-vn") || argValue(got, "-c:a") != "libmp3lame" {
		t.Fatalf("args = %v", got)
	}
}

// TestRunTimeout checks the deadline is applied and reported.
func TestRunTimeout(t *testing.T) {
	p := NewProcessor(
		WithTimeout(20*time.Millisecond),
		WithRunner(func(ctx context.Context, name string, args ...string) (string, int, error) {
			<-ctx.Done()
			return "", -1, ctx.Err()
		}),
	)

	err := p.Mux(context.Background(), MuxRequest{OutputPath: "o.mp4"})
	var mErr *Error
	if !errors.As(err, &mErr) || !strings.Contains(mErr.Message, "timed out") {
		t.Fatalf("error = %v, want timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error should wrap deadline exceeded: %v", err)
	}
}

// TestRenderAudioArgsLoopsToDuration checks audio-only output length control.
func TestRenderAudioArgsLoopsToDuration(t *testing.T) {
	args := buildRenderAudioArgs("music.wav", "out.wav", 42.5)
	if argValue(args, "-stream_loop") != "-1" || argValue(args, "-t") != "42.500" {
		t.Fatalf("args = %v", args)
	}
}

// TestParseScenes checks metadata=print parsing and merging of close cuts.
func TestParseScenes(t *testing.T) {
	out := strings.Join([]string{
		"frame:0    pts:48      pts_time:1.6",
		"lavfi.scene_score=0.512",
		"frame:1    pts:60      pts_time:2.0",
		"lavfi.scene_score=0.400",
		"frame:2    pts:150     pts_time:5.0",
		"lavfi.scene_score=0.700",
	}, "\n")

	scenes := mergeNearbyScenes(parseScenes(out), 1.0)
	if len(scenes) != 2 {
		t.Fatalf("scenes = %+v, want 2", scenes)
	}
	if scenes[0].Time != 1.6 || scenes[0].Score != 0.512 || scenes[1].Time != 5.0 {
		t.Fatalf("scenes = %+v", scenes)
	}
}

// TestDynamicsClassification checks pace and intensity thresholds.
func TestDynamicsClassification(t *testing.T) {
	var fast []Scene
	for i := 0; i < 12; i++ {
		fast = append(fast, Scene{Time: float64(i) * 2.5, Score: 0.8})
	}
	d := Dynamics(fast, 30)
	if d.Pace != styles.PaceFast || d.Intensity != styles.IntensityHigh || d.Scenes != 12 {
		t.Fatalf("dynamics = %+v", d)
	}

	slow := Dynamics(nil, 60)
	if slow.Pace != styles.PaceSlow || slow.Intensity != styles.IntensityLow {
		t.Fatalf("dynamics = %+v", slow)
	}

	if Dynamics(nil, 0) != styles.NeutralDynamics {
		t.Fatal("zero duration should yield neutral dynamics")
	}
}
