package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/repository"
	"photo-restyler/internal/usecase"
)

type runSummary struct {
	ID          string                    `json:"id"`
	Label       string                    `json:"label"`
	Mode        model.RunMode             `json:"mode"`
	BatchID     string                    `json:"batchId,omitempty"`
	BatchStatus model.BatchStatus         `json:"batchStatus,omitempty"`
	Images      int                       `json:"images"`
	ByStatus    map[model.ImageStatus]int `json:"byStatus"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

func summarize(r *model.Run) runSummary {
	by := make(map[model.ImageStatus]int)
	for _, img := range r.Images {
		by[img.Status]++
	}
	return runSummary{
		ID:          r.ID,
		Label:       r.Label,
		Mode:        r.Mode,
		BatchID:     r.BatchID,
		BatchStatus: r.BatchStatus,
		Images:      len(r.Images),
		ByStatus:    by,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// runsListHandler returns every run, newest first.
func runsListHandler(runUC usecase.RunUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := runUC.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		items := make([]runSummary, 0, len(runs))
		for _, run := range runs {
			items = append(items, summarize(run))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func runGetHandler(runUC usecase.RunUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := runUC.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// runBatchHandler serves the last status snapshot written by a poll.
func runBatchHandler(runUC usecase.RunUseCase, artifacts repository.ArtifactStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := runUC.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if run.BatchID == "" {
			writeError(w, domain.ErrNoBatchJob)
			return
		}
		b, err := artifacts.ReadArtifact(r.Context(), id, usecase.BatchStatusFile)
		if err != nil {
			writeError(w, err)
			return
		}
		var snap model.BatchSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoBatchJob):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
