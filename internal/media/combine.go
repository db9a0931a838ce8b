package media

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
)

// MuxRequest describes one video + generated music combination.
type MuxRequest struct {
	VideoPath  string
	MusicPath  string
	OutputPath string

	// RemoveOriginalAudio drops the source audio; otherwise it is mixed
	// with the music.
	RemoveOriginalAudio bool
	// HasAudio reports whether the source video carries an audio stream.
	HasAudio bool
	// Duration is the length of the output in seconds. The music is
	// looped or trimmed to fit.
	Duration float64
}

// Mux writes the video with the generated music as its audio track.
func (p *Processor) Mux(ctx context.Context, req MuxRequest) error {
	_, err := p.run(ctx, "mux", p.ffmpegPath, buildMuxArgs(req), req.OutputPath)
	return err
}

// RenderAudio writes the music looped or trimmed to duration seconds as WAV.
func (p *Processor) RenderAudio(ctx context.Context, musicPath, outPath string, duration float64) error {
	_, err := p.run(ctx, "render-audio", p.ffmpegPath, buildRenderAudioArgs(musicPath, outPath, duration), outPath)
	return err
}

// ExtractAudio pulls the audio track out of a video into an MP3 file.
func (p *Processor) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	_, err := p.run(ctx, "extract-audio", p.ffmpegPath, buildExtractAudioArgs(videoPath, outPath), outPath)
	return err
}

func buildMuxArgs(req MuxRequest) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", req.VideoPath,
		"-stream_loop", "-1",
		"-i", req.MusicPath,
	}

	if req.RemoveOriginalAudio || !req.HasAudio {
		args = append(args,
			"-map", "0:v:0",
			"-map", "1:a:0",
		)
	} else {
		args = append(args,
			"-filter_complex", "[0:a:0][1:a:0]amix=inputs=2:duration=longest:dropout_transition=0[aout]",
			"-map", "0:v:0",
			"-map", "[aout]",
		)
	}

	args = append(args,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", formatSeconds(req.Duration),
	)
	if ext := strings.ToLower(filepath.Ext(req.OutputPath)); ext == ".mp4" || ext == ".mov" {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, req.OutputPath)
}

func buildRenderAudioArgs(musicPath, outPath string, duration float64) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-stream_loop", "-1",
		"-i", musicPath,
		"-vn",
		"-t", formatSeconds(duration),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func buildExtractAudioArgs(videoPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		outPath,
	}
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}
