package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Info describes a probed media file.
type Info struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	HasAudio bool    `json:"hasAudio"`
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration, dimensions, frame rate and audio presence of a video.
func (p *Processor) Probe(ctx context.Context, path string) (Info, error) {
	args := buildProbeArgs(path)
	log, err := p.run(ctx, "probe", p.ffprobePath, args, "")
	if err != nil {
		return Info{}, err
	}

	info, err := parseProbe([]byte(log.Stdout))
	if err != nil {
		return Info{}, &Error{Op: "probe", Message: "could not read video metadata", Log: log, Err: err}
	}
	return info, nil
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info Info
	foundVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseFrameRate(s.RFrameRate)
		case "audio":
			info.HasAudio = true
		}
	}
	if !foundVideo {
		return Info{}, fmt.Errorf("no video stream found")
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || d <= 0 {
		return Info{}, fmt.Errorf("invalid duration %q", out.Format.Duration)
	}
	info.Duration = d
	return info, nil
}

// parseFrameRate converts ffprobe rationals like "30000/1001".
func parseFrameRate(raw string) float64 {
	num, den, ok := strings.Cut(raw, "/")
	if !ok {
		f, _ := strconv.ParseFloat(raw, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
