package styles

import "strings"

// Pace is the perceived cutting speed of a video.
type Pace string

const (
	PaceSlow   Pace = "slow"
	PaceMedium Pace = "medium"
	PaceFast   Pace = "fast"
)

// Intensity is the visual energy of a video.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// Dynamics summarizes a video for prompt building.
type Dynamics struct {
	Pace      Pace      `json:"pace"`
	Intensity Intensity `json:"intensity"`
	Scenes    int       `json:"scenes"`
}

// NeutralDynamics is used when a video could not be analyzed.
var NeutralDynamics = Dynamics{Pace: PaceMedium, Intensity: IntensityMedium}

var tempoPhrases = map[Pace]string{
	PaceSlow:   "slow tempo, calm",
	PaceMedium: "moderate tempo",
	PaceFast:   "fast tempo, energetic",
}

var intensityPhrases = map[Intensity]string{
	IntensityLow:    "gentle, subtle",
	IntensityMedium: "balanced, moderate energy",
	IntensityHigh:   "intense, powerful",
}

// BuildPrompt combines the preset description with the video dynamics.
func BuildPrompt(p Preset, d Dynamics) string {
	parts := []string{p.Prompt}

	if phrase, ok := tempoPhrases[d.Pace]; ok {
		parts = append(parts, phrase)
	}
	if phrase, ok := intensityPhrases[d.Intensity]; ok {
		parts = append(parts, phrase)
	}

	switch {
	case d.Scenes > 5:
		parts = append(parts, "dynamic with build-ups and transitions")
	case d.Scenes > 2:
		parts = append(parts, "with some variation and progression")
	default:
		parts = append(parts, "steady and consistent")
	}

	parts = append(parts, "instrumental, no vocals, professional production")
	return strings.Join(parts, ", ")
}
