package model

import (
	"sort"
	"strings"
)

// Preset is a named prompt template for one kind of edit.
type Preset struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// PresetCatalog is built once at startup and passed to whoever needs presets.
type PresetCatalog struct {
	presets  map[string]Preset
	lighting map[string]string
}

func NewPresetCatalog(presets []Preset, lighting map[string]string) *PresetCatalog {
	c := &PresetCatalog{
		presets:  make(map[string]Preset, len(presets)),
		lighting: make(map[string]string, len(lighting)),
	}
	for _, p := range presets {
		c.presets[strings.ToLower(strings.TrimSpace(p.ID))] = p
	}
	for k, v := range lighting {
		c.lighting[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return c
}

func (c *PresetCatalog) Preset(id string) (Preset, bool) {
	p, ok := c.presets[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// Lighting returns the modifier text for id. Unknown ids are used verbatim so
// an operator can type a one-off modifier.
func (c *PresetCatalog) Lighting(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if v, ok := c.lighting[strings.ToLower(id)]; ok {
		return v
	}
	return id
}

func (c *PresetCatalog) IDs() []string {
	out := make([]string, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, p.ID)
	}
	sort.Strings(out)
	return out
}
