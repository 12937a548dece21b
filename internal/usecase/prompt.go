package usecase

import (
	"fmt"
	"strings"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
)

// PromptAssembler builds the final prompt text from the catalog it was given.
type PromptAssembler struct {
	catalog *model.PresetCatalog
}

func NewPromptAssembler(catalog *model.PresetCatalog) *PromptAssembler {
	return &PromptAssembler{catalog: catalog}
}

// Assemble joins preset prompt, lighting modifier and free text with blank
// lines. Empty pieces are skipped.
func (p *PromptAssembler) Assemble(presetID, lighting, freeText string) (string, error) {
	preset, ok := p.catalog.Preset(presetID)
	if !ok {
		return "", fmt.Errorf("%w: unknown preset %q", domain.ErrInvalidArgument, presetID)
	}
	pieces := make([]string, 0, 3)
	for _, s := range []string{preset.Prompt, p.catalog.Lighting(lighting), freeText} {
		if s = strings.TrimSpace(s); s != "" {
			pieces = append(pieces, s)
		}
	}
	return strings.Join(pieces, "\n\n"), nil
}

// HasPreset reports whether id resolves in the catalog.
func (p *PromptAssembler) HasPreset(id string) bool {
	_, ok := p.catalog.Preset(id)
	return ok
}
