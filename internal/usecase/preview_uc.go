// File: internal/usecase/preview_uc.go
package usecase

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
	"photo-restyler/internal/domain/ports/repository"
	"photo-restyler/internal/infra/logging"
	"photo-restyler/internal/infra/metrics"
)

const DefaultPreviewConcurrency = 3

// PreviewStage is a coarse milestone reported per item.
type PreviewStage string

const (
	StageStart    PreviewStage = "start"
	StageResize   PreviewStage = "resize"
	StageRequest  PreviewStage = "request"
	StageResponse PreviewStage = "response"
	StageComplete PreviewStage = "complete"
	StageResult   PreviewStage = "result"
)

type PreviewItem struct {
	SourcePath string
	PresetID   string
}

type PreviewItemResult struct {
	Name            string            `json:"name"`
	SourcePath      string            `json:"sourcePath"`
	PresetID        string            `json:"presetId"`
	Status          model.ImageStatus `json:"status"`
	PreviewPath     string            `json:"previewPath,omitempty"`
	Seed            *int32            `json:"seed"`
	Model           string            `json:"model,omitempty"`
	SeedWasRejected bool              `json:"seedWasRejected,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// PreviewProgress is handed to the progress callback. Every item ends with
// StageComplete then StageResult, failed or not. Result is only set on
// StageResult.
type PreviewProgress struct {
	RunID  string
	Name   string
	Index  int
	Total  int
	Stage  PreviewStage
	Result *PreviewItemResult
}

type ProgressFunc func(PreviewProgress)

type PreviewOptions struct {
	Concurrency int
	MaxEdge     int
	Model       string
}

// Compile-time check
var _ PreviewUseCase = (*previewUC)(nil)

type PreviewUseCase interface {
	// Run processes items in chunks of the configured concurrency; chunk N+1
	// starts only after every item of chunk N has settled.
	Run(ctx context.Context, runID string, items []PreviewItem, progress ProgressFunc) ([]PreviewItemResult, error)
	// RunPending previews every pending entry with its own preset.
	RunPending(ctx context.Context, runID string, progress ProgressFunc) ([]PreviewItemResult, error)
	// Retry re-runs the named entries. Only preview_ready, rejected and error
	// entries may be retried.
	Retry(ctx context.Context, runID string, names []string, progress ProgressFunc) ([]PreviewItemResult, error)
}

type previewUC struct {
	runs      repository.RunRepository
	artifacts repository.ArtifactStore
	gen       GenerationClient
	codec     adapter.ImageCodec
	prompts   *PromptAssembler
	opts      PreviewOptions
	log       *zerolog.Logger
}

func NewPreviewUseCase(
	runs repository.RunRepository,
	artifacts repository.ArtifactStore,
	gen GenerationClient,
	codec adapter.ImageCodec,
	prompts *PromptAssembler,
	opts PreviewOptions,
	logger *zerolog.Logger,
) *previewUC {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultPreviewConcurrency
	}
	return &previewUC{
		runs:      runs,
		artifacts: artifacts,
		gen:       gen,
		codec:     codec,
		prompts:   prompts,
		opts:      opts,
		log:       logging.Component(logger, "PreviewUseCase"),
	}
}

func (uc *previewUC) RunPending(ctx context.Context, runID string, progress ProgressFunc) ([]PreviewItemResult, error) {
	run, err := uc.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	var items []PreviewItem
	for _, img := range run.ImagesWithStatus(model.ImagePending) {
		items = append(items, PreviewItem{SourcePath: img.SourcePath, PresetID: img.PresetID})
	}
	return uc.Run(ctx, runID, items, progress)
}

func (uc *previewUC) Retry(ctx context.Context, runID string, names []string, progress ProgressFunc) ([]PreviewItemResult, error) {
	run, err := uc.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	items := make([]PreviewItem, 0, len(names))
	for _, name := range names {
		e := run.Entry(name)
		if e == nil {
			return nil, fmt.Errorf("%w: image %q", domain.ErrNotFound, name)
		}
		switch e.Status {
		case model.ImagePreviewReady, model.ImageRejected, model.ImageError:
		default:
			return nil, fmt.Errorf("%w: cannot retry %s in state %s", domain.ErrInvalidTransition, name, e.Status)
		}
		items = append(items, PreviewItem{SourcePath: e.SourcePath, PresetID: e.PresetID})
	}
	return uc.Run(ctx, runID, items, progress)
}

func (uc *previewUC) Run(ctx context.Context, runID string, items []PreviewItem, progress ProgressFunc) ([]PreviewItemResult, error) {
	if progress == nil {
		progress = func(PreviewProgress) {}
	}
	ctx = logging.WithRunID(ctx, runID)
	log := logging.With(ctx, uc.log)

	if _, err := uc.runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	if len(items) > 0 {
		mode := model.RunModePreview
		if _, err := uc.runs.Update(ctx, runID, model.RunPatch{Mode: &mode}); err != nil {
			return nil, err
		}
	}

	results := make([]PreviewItemResult, len(items))
	size := uc.opts.Concurrency
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			return results[:start], err
		}
		end := min(start+size, len(items))

		// seed support is re-read per chunk so a rejection in chunk N stops
		// seeds from chunk N+1 on
		run, err := uc.runs.Get(ctx, runID)
		if err != nil {
			return results[:start], err
		}
		seedAllowed := run.SeedAllowed()

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = uc.processItem(ctx, run, items[i], i, len(items), seedAllowed, progress)
				return nil
			})
		}
		_ = g.Wait()
		log.Debug().Int("from", start).Int("to", end).Msg("preview chunk settled")
	}
	return results, nil
}

func (uc *previewUC) processItem(ctx context.Context, run *model.Run, item PreviewItem, idx, total int, seedAllowed bool, progress ProgressFunc) (res PreviewItemResult) {
	runID := run.ID
	name := filepath.Base(item.SourcePath)
	if e := run.EntryBySource(item.SourcePath); e != nil {
		name = e.Name
	}
	emit := func(stage PreviewStage) {
		progress(PreviewProgress{RunID: runID, Name: name, Index: idx, Total: total, Stage: stage})
	}
	res = PreviewItemResult{Name: name, SourcePath: item.SourcePath, PresetID: item.PresetID, Model: uc.opts.Model}
	defer func() {
		metrics.IncPreviewItem(string(res.Status))
		emit(StageComplete)
		progress(PreviewProgress{RunID: runID, Name: name, Index: idx, Total: total, Stage: StageResult, Result: &res})
	}()

	emit(StageStart)

	var presetID string
	_, err := uc.runs.Mutate(ctx, runID, func(r *model.Run) error {
		e := r.EntryBySource(item.SourcePath)
		if e == nil {
			return fmt.Errorf("%w: %s is not part of run %s", domain.ErrNotFound, item.SourcePath, runID)
		}
		if item.PresetID != "" {
			e.PresetID = item.PresetID
		}
		presetID = e.PresetID
		return e.Transition(model.ImagePreviewGenerating)
	})
	if err != nil {
		// the entry never left its previous state
		if e := run.EntryBySource(item.SourcePath); e != nil {
			res.Status = e.Status
		}
		res.Error = err.Error()
		return res
	}
	res.PresetID = presetID

	fail := func(err error) PreviewItemResult {
		res.Status = model.ImageError
		res.Error = err.Error()
		res.Seed = nil
		if _, serr := uc.runs.SetStatus(ctx, runID, name, model.ImageError, res.Error); serr != nil {
			logging.With(ctx, uc.log).Error().Err(serr).Str("image", name).Msg("could not record preview failure")
		}
		return res
	}

	src, err := os.ReadFile(item.SourcePath)
	if err != nil {
		return fail(fmt.Errorf("read source: %w", err))
	}
	emit(StageResize)
	img, mime, err := uc.codec.PrepareInput(src, uc.opts.MaxEdge)
	if err != nil {
		return fail(err)
	}
	prompt, err := uc.prompts.Assemble(presetID, run.Lighting, run.FreeText)
	if err != nil {
		return fail(err)
	}

	var seed *int32
	if seedAllowed {
		s := rand.Int32N(math.MaxInt32)
		seed = &s
	}

	emit(StageRequest)
	gr := uc.gen.Generate(ctx, GenerateParams{Prompt: prompt, Image: img, MIMEType: mime, Model: uc.opts.Model, Seed: seed})
	emit(StageResponse)

	if gr.SeedWasRejected {
		res.SeedWasRejected = true
		disabled := model.SeedDisabled
		if _, err := uc.runs.Update(ctx, runID, model.RunPatch{SeedSupport: &disabled}); err != nil {
			logging.With(ctx, uc.log).Warn().Err(err).Msg("could not persist seed support")
		}
	} else if gr.Success() && gr.SeedUsed != nil && run.SeedSupport == model.SeedUnknown {
		enabled := model.SeedEnabled
		_, _ = uc.runs.Mutate(ctx, runID, func(r *model.Run) error {
			if r.SeedSupport == model.SeedUnknown {
				r.SeedSupport = enabled
			}
			return nil
		})
	}
	if !gr.Success() {
		return fail(gr.Err)
	}

	rel := filepath.Join("previews", artifactName(name, extForMIME(gr.MIMEType)))
	path, err := uc.artifacts.WriteArtifact(ctx, runID, rel, gr.Image)
	if err != nil {
		return fail(fmt.Errorf("write preview: %w", err))
	}

	_, err = uc.runs.Mutate(ctx, runID, func(r *model.Run) error {
		e := r.Entry(name)
		if e == nil {
			return fmt.Errorf("%w: image %q", domain.ErrNotFound, name)
		}
		e.PreviewPath = path
		e.PreviewSeed = gr.SeedUsed
		e.PreviewModel = uc.opts.Model
		return e.Transition(model.ImagePreviewReady)
	})
	if err != nil {
		return fail(err)
	}

	res.Status = model.ImagePreviewReady
	res.PreviewPath = path
	res.Seed = gr.SeedUsed
	return res
}

// artifactName keeps the whole source name so room.jpg and room.png never
// share an output file.
func artifactName(name, ext string) string {
	return name + ext
}

func extForMIME(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
