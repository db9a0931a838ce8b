// Package styles holds the closed set of music style presets and turns a
// preset plus the measured dynamics of a video into a generation prompt.
package styles

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// DefaultStyle is used when a request does not name a style.
const DefaultStyle = "ambient"

// Preset is one named style token and the prompt that describes it.
type Preset struct {
	Name   string   `yaml:"name" json:"name"`
	Prompt string   `yaml:"prompt" json:"prompt"`
	Tags   []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Catalog is an immutable set of presets keyed by name.
type Catalog struct {
	presets map[string]Preset
}

var defaultPresets = []Preset{
	{Name: "ambient", Prompt: "ambient atmospheric soundscape, ethereal pads, gentle piano, calming textures, peaceful and serene, floating melodies", Tags: []string{"ambient", "chill", "atmospheric", "calm"}},
	{Name: "chill", Prompt: "chill lofi hip hop beat, jazzy chords, vinyl crackle, mellow drums, relaxed and smooth, 85 BPM", Tags: []string{"chill", "lofi", "relaxed", "smooth"}},
	{Name: "cinematic", Prompt: "cinematic film score, sweeping orchestra, emotional strings, grand piano, movie soundtrack, epic and beautiful", Tags: []string{"cinematic", "epic", "orchestral", "grand"}},
	{Name: "corporate", Prompt: "corporate background music, clean electric piano, light percussion, bright plucks, optimistic and professional, 110 BPM", Tags: []string{"corporate", "positive", "clean", "modern"}},
	{Name: "dramatic", Prompt: "dark dramatic music, intense strings, ominous bass, suspenseful atmosphere, thriller soundtrack, minor key, building tension", Tags: []string{"dramatic", "intense", "emotional", "dark"}},
	{Name: "electronic", Prompt: "modern electronic music, pulsing synth bass, digital drums, futuristic sound design, energetic drops, progressive house", Tags: []string{"electronic", "edm", "synth", "modern"}},
	{Name: "energetic", Prompt: "upbeat electronic dance music, driving beat, energetic synths, modern EDM production, festival vibes, high energy, 128 BPM", Tags: []string{"energetic", "electronic", "upbeat", "modern"}},
	{Name: "epic", Prompt: "epic cinematic orchestral music, powerful dramatic strings, heroic brass section, thundering percussion, movie trailer style", Tags: []string{"epic", "cinematic", "powerful", "dramatic"}},
	{Name: "happy", Prompt: "happy upbeat pop music, bright cheerful melody, acoustic guitars, clapping rhythm, feel-good vibes, major key", Tags: []string{"happy", "uplifting", "positive", "fun"}},
	{Name: "hip-hop", Prompt: "hip hop instrumental beat, 808 bass, trap drums, rolling hi hats, dark melody, hard hitting, 140 BPM", Tags: []string{"hiphop", "urban", "beats", "modern"}},
	{Name: "inspiring", Prompt: "inspiring motivational music, uplifting piano, soaring strings, hopeful melody, emotional build up, major key", Tags: []string{"inspiring", "uplifting", "motivational", "hopeful"}},
	{Name: "lofi", Prompt: "lofi beats to study to, jazzy samples, dusty drums, warm vinyl sound, relaxing hip hop, perfect loop, 70 BPM", Tags: []string{"lofi", "chill", "jazzy", "relaxed"}},
	{Name: "rock", Prompt: "energetic rock music, electric guitars, driving bass, powerful drums, anthemic chorus, stadium rock energy", Tags: []string{"rock", "energetic", "powerful", "electric"}},
	{Name: "romantic", Prompt: "romantic soft ballad, warm acoustic guitar, tender piano, lush strings, intimate and heartfelt, slow tempo", Tags: []string{"romantic", "soft", "warm", "tender"}},
	{Name: "sad", Prompt: "melancholic sad piano, slow strings, minor key, reflective and emotional, sparse arrangement", Tags: []string{"sad", "melancholic", "emotional", "slow"}},
	{Name: "upbeat", Prompt: "upbeat dance pop, catchy melody, four on the floor beat, disco vibes, party anthem, energetic and fun", Tags: []string{"upbeat", "dance", "energetic", "fun"}},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{presets: make(map[string]Preset, len(defaultPresets))}
	for _, p := range defaultPresets {
		c.presets[p.Name] = p
	}
	return c
}

type catalogFile struct {
	Styles []Preset `yaml:"styles"`
}

// LoadFile returns the built-in catalog with presets from a YAML file
// added or replacing built-ins of the same name.
//
//	styles:
//	  - name: corporate
//	    prompt: "light corporate pop, clean guitars"
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read styles file: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse styles file %s: %w", path, err)
	}

	c := Default()
	for i, p := range f.Styles {
		name := normalize(p.Name)
		if name == "" {
			return nil, fmt.Errorf("styles file %s: entry %d has no name", path, i)
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return nil, fmt.Errorf("styles file %s: style %q has no prompt", path, name)
		}
		p.Name = name
		c.presets[name] = p
	}
	return c, nil
}

// Lookup finds a preset by case-insensitive name.
func (c *Catalog) Lookup(name string) (Preset, bool) {
	p, ok := c.presets[normalize(name)]
	return p, ok
}

// Names returns all preset names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.presets))
	for name := range c.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
