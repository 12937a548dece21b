package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/usecase"
)

// RunLister is the slice of the run use case the watcher needs.
type RunLister interface {
	List(ctx context.Context) ([]*model.Run, error)
}

// BatchWatcher periodically polls runs with an outstanding batch job and
// fetches their output once the job has succeeded.
type BatchWatcher struct {
	interval time.Duration
	runs     RunLister
	batchUC  usecase.BatchUseCase
	log      *zerolog.Logger
}

func NewBatchWatcher(interval time.Duration, runs RunLister, batchUC usecase.BatchUseCase, logger *zerolog.Logger) *BatchWatcher {
	watchLog := logger.With().Str("component", "BatchWatcher").Logger()
	if interval <= 0 {
		interval = time.Minute
	}
	return &BatchWatcher{
		interval: interval,
		runs:     runs,
		batchUC:  batchUC,
		log:      &watchLog,
	}
}

func (w *BatchWatcher) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting batch watcher")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping batch watcher")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.Tick(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("batch watcher error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("batch outputs fetched")
			}
		}
	}
}

// Tick runs one pass and returns how many runs had their output fetched.
// A failure on one run is logged and does not stop the pass.
func (w *BatchWatcher) Tick(ctx context.Context) (int, error) {
	runs, err := w.runs.List(ctx)
	if err != nil {
		return 0, err
	}
	fetched := 0
	for _, r := range runs {
		if ctx.Err() != nil {
			return fetched, ctx.Err()
		}
		switch {
		case r.BatchInFlight():
			res, err := w.batchUC.Poll(ctx, r.ID)
			if err != nil {
				w.log.Warn().Err(err).Str("run_id", r.ID).Msg("poll failed")
				continue
			}
			if res.Status == nil || res.Status.State != model.JobSucceeded {
				continue
			}
		case r.AwaitingFetch():
		default:
			continue
		}
		if _, err := w.batchUC.Fetch(ctx, r.ID); err != nil {
			w.log.Warn().Err(err).Str("run_id", r.ID).Msg("fetch failed")
			continue
		}
		fetched++
	}
	return fetched, nil
}
