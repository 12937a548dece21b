package model

import (
	"fmt"
	"time"

	"photo-restyler/internal/domain"
)

type ImageStatus string

const (
	ImagePending           ImageStatus = "pending"
	ImagePreviewGenerating ImageStatus = "preview_generating"
	ImagePreviewReady      ImageStatus = "preview_ready"
	ImageApproved          ImageStatus = "approved"
	ImageRejected          ImageStatus = "rejected"
	ImageFinalGenerating   ImageStatus = "final_generating"
	ImageFinalReady        ImageStatus = "final_ready"
	ImageError             ImageStatus = "error"
)

// transitions lists the legal next states for each status. There is no
// terminal state: rejected and final images can always be picked up again.
var transitions = map[ImageStatus][]ImageStatus{
	ImagePending:           {ImagePreviewGenerating},
	ImagePreviewGenerating: {ImagePreviewReady, ImageError},
	ImagePreviewReady:      {ImageApproved, ImageRejected, ImagePreviewGenerating},
	ImageApproved:          {ImageFinalGenerating, ImageRejected},
	ImageFinalGenerating:   {ImageFinalReady, ImageError},
	ImageError:             {ImagePreviewGenerating},
	ImageRejected:          {ImageApproved, ImagePreviewGenerating},
	ImageFinalReady:        {ImageApproved},
}

func (s ImageStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether s -> to is a legal move. Staying in the same
// state is always allowed so that re-running a phase is harmless.
func (s ImageStatus) CanTransition(to ImageStatus) bool {
	if s == to {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ImageEntry is one photograph's progress through the pipeline.
type ImageEntry struct {
	SourcePath   string      `json:"sourcePath"`
	Name         string      `json:"name"`
	PresetID     string      `json:"presetId"`
	Status       ImageStatus `json:"status"`
	PreviewPath  string      `json:"previewPath,omitempty"`
	FinalPath    string      `json:"finalPath,omitempty"`
	PreviewSeed  *int32      `json:"previewSeed"`
	FinalSeed    *int32      `json:"finalSeed"`
	PreviewModel string      `json:"previewModel,omitempty"`
	FinalModel   string      `json:"finalModel,omitempty"`
	Error        string      `json:"error,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Transition moves the entry to the given status or returns ErrInvalidTransition.
// Leaving the error state clears the recorded message.
func (e *ImageEntry) Transition(to ImageStatus) error {
	if !e.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (%s)", domain.ErrInvalidTransition, e.Status, to, e.Name)
	}
	if to != ImageError {
		e.Error = ""
	}
	e.Status = to
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail moves the entry to error with the given message.
func (e *ImageEntry) Fail(msg string) error {
	if err := e.Transition(ImageError); err != nil {
		return err
	}
	e.Error = msg
	return nil
}
