package media

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"reelmusic/internal/styles"
)

// SceneThreshold is the ffmpeg scene score above which a frame counts as a cut.
const SceneThreshold = 0.3

// Scene is one detected cut.
type Scene struct {
	Time  float64 `json:"time"`
	Score float64 `json:"score"`
}

// DetectScenes lists scene cuts using ffmpeg's scene-change score.
func (p *Processor) DetectScenes(ctx context.Context, path string) ([]Scene, error) {
	args := buildSceneArgs(path)
	log, err := p.run(ctx, "analyze", p.ffmpegPath, args, "")
	if err != nil {
		return nil, err
	}
	return mergeNearbyScenes(parseScenes(log.Stdout), 1.0), nil
}

func buildSceneArgs(path string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-i", path,
		"-an",
		"-vf", "select='gt(scene," + strconv.FormatFloat(SceneThreshold, 'f', -1, 64) + ")',metadata=print:file=-",
		"-f", "null",
		"-",
	}
}

// parseScenes reads metadata=print output:
//
//	frame:0    pts:48      pts_time:1.6
//	lavfi.scene_score=0.512
func parseScenes(out string) []Scene {
	var scenes []Scene
	var current *Scene

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "frame:") {
			for _, field := range strings.Fields(line) {
				if v, ok := strings.CutPrefix(field, "pts_time:"); ok {
					if t, err := strconv.ParseFloat(v, 64); err == nil {
						scenes = append(scenes, Scene{Time: t})
						current = &scenes[len(scenes)-1]
					}
				}
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "lavfi.scene_score="); ok && current != nil {
			if s, err := strconv.ParseFloat(v, 64); err == nil {
				current.Score = s
			}
		}
	}
	return scenes
}

// mergeNearbyScenes drops cuts closer than gap seconds to the previous one.
func mergeNearbyScenes(scenes []Scene, gap float64) []Scene {
	out := make([]Scene, 0, len(scenes))
	for _, s := range scenes {
		if len(out) > 0 && s.Time-out[len(out)-1].Time <= gap {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Dynamics classifies cut rate and cut strength for prompt building.
func Dynamics(scenes []Scene, duration float64) styles.Dynamics {
	if duration <= 0 {
		return styles.NeutralDynamics
	}

	d := styles.Dynamics{Scenes: len(scenes)}

	perMinute := float64(len(scenes)) / duration * 60
	switch {
	case perMinute >= 20:
		d.Pace = styles.PaceFast
	case perMinute >= 8:
		d.Pace = styles.PaceMedium
	default:
		d.Pace = styles.PaceSlow
	}

	var total float64
	for _, s := range scenes {
		total += s.Score
	}
	mean := 0.0
	if len(scenes) > 0 {
		mean = total / float64(len(scenes))
	}
	switch {
	case mean > 0.6:
		d.Intensity = styles.IntensityHigh
	case mean > 0.45:
		d.Intensity = styles.IntensityMedium
	default:
		d.Intensity = styles.IntensityLow
	}
	return d
}
