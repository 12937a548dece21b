package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type RunMode string

const (
	RunModePreview RunMode = "preview"
	RunModeFinal   RunMode = "final"
	RunModeIdle    RunMode = "idle"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// SeedSupport is the tri-state memory of whether the remote model accepts a seed.
type SeedSupport string

const (
	SeedUnknown  SeedSupport = "unknown"
	SeedEnabled  SeedSupport = "true"
	SeedDisabled SeedSupport = "false"
)

// Run is one logical job over a folder of images.
type Run struct {
	ID            string       `json:"id"`
	Label         string       `json:"label"`
	SourceDir     string       `json:"sourceDir,omitempty"`
	Mode          RunMode      `json:"mode"`
	DefaultPreset string       `json:"defaultPreset"`
	Lighting      string       `json:"lighting,omitempty"`
	FreeText      string       `json:"freeText,omitempty"`
	Images        []ImageEntry `json:"images"`
	BatchID       string       `json:"batchId,omitempty"`
	BatchStatus   BatchStatus  `json:"batchStatus,omitempty"`
	SeedSupport   SeedSupport  `json:"seedSupport"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// CreateRunParams carries everything needed to create a Run record.
type CreateRunParams struct {
	Label         string
	SourceDir     string
	Mode          RunMode
	DefaultPreset string
	Lighting      string
	FreeText      string
	SourcePaths   []string
}

// RunPatch is a partial update; nil fields are left untouched.
type RunPatch struct {
	Mode        *RunMode
	BatchID     *string
	BatchStatus *BatchStatus
	SeedSupport *SeedSupport
	Lighting    *string
	FreeText    *string
}

func (p RunPatch) Apply(r *Run) {
	if p.Mode != nil {
		r.Mode = *p.Mode
	}
	if p.BatchID != nil {
		r.BatchID = *p.BatchID
	}
	if p.BatchStatus != nil {
		r.BatchStatus = *p.BatchStatus
	}
	if p.SeedSupport != nil {
		r.SeedSupport = *p.SeedSupport
	}
	if p.Lighting != nil {
		r.Lighting = *p.Lighting
	}
	if p.FreeText != nil {
		r.FreeText = *p.FreeText
	}
}

// Entry returns the image with the given display name, or nil.
func (r *Run) Entry(name string) *ImageEntry {
	for i := range r.Images {
		if r.Images[i].Name == name {
			return &r.Images[i]
		}
	}
	return nil
}

// EntryBySource returns the image with the given source path, or nil.
func (r *Run) EntryBySource(path string) *ImageEntry {
	for i := range r.Images {
		if r.Images[i].SourcePath == path {
			return &r.Images[i]
		}
	}
	return nil
}

func (r *Run) ImagesWithStatus(st ImageStatus) []ImageEntry {
	var out []ImageEntry
	for _, img := range r.Images {
		if img.Status == st {
			out = append(out, img)
		}
	}
	return out
}

// BatchInFlight reports whether an asynchronous job is outstanding for the run.
func (r *Run) BatchInFlight() bool {
	if r.BatchID == "" {
		return false
	}
	return r.BatchStatus == BatchPending || r.BatchStatus == BatchProcessing
}

// AwaitingFetch is true once the job has succeeded but its output has not been
// pulled into the run yet.
func (r *Run) AwaitingFetch() bool {
	return r.BatchID != "" && r.Mode == RunModeFinal && r.BatchStatus == BatchCompleted
}

// BatchOutstanding is true while the current job still owes the run its output.
func (r *Run) BatchOutstanding() bool {
	return r.BatchInFlight() || r.AwaitingFetch()
}

// SeedAllowed is false once the remote service has rejected a seed for this run.
func (r *Run) SeedAllowed() bool {
	return r.SeedSupport != SeedDisabled
}

var labelSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

const maxLabelLen = 40

// SanitizeLabel turns free text into a lowercase dash-separated slug.
func SanitizeLabel(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = labelSanitizer.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxLabelLen {
		s = strings.TrimRight(s[:maxLabelLen], "-")
	}
	if s == "" {
		s = "run"
	}
	return s
}

// NewRunID builds "<timestamp>-<label>-<mode>-<entropy>". Only [a-z0-9-] is
// used so the id is filesystem safe and never contains the correlation separator.
func NewRunID(createdAt time.Time, label string, mode RunMode) string {
	entropy := strings.ToLower(ulid.Make().String())
	return fmt.Sprintf("%s-%s-%s-%s",
		createdAt.UTC().Format("20060102-150405"),
		SanitizeLabel(label),
		SanitizeLabel(string(mode)),
		entropy[len(entropy)-8:],
	)
}

// NewRun builds a Run with every image pending.
func NewRun(p CreateRunParams, now time.Time) *Run {
	mode := p.Mode
	if mode == "" {
		mode = RunModePreview
	}
	r := &Run{
		ID:            NewRunID(now, p.Label, mode),
		Label:         p.Label,
		SourceDir:     p.SourceDir,
		Mode:          mode,
		DefaultPreset: p.DefaultPreset,
		Lighting:      p.Lighting,
		FreeText:      p.FreeText,
		Images:        make([]ImageEntry, 0, len(p.SourcePaths)),
		SeedSupport:   SeedUnknown,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, src := range p.SourcePaths {
		r.Images = append(r.Images, ImageEntry{
			SourcePath: src,
			Name:       baseName(src),
			PresetID:   p.DefaultPreset,
			Status:     ImagePending,
			UpdatedAt:  now,
		})
	}
	return r
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
