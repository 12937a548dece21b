// File: internal/usecase/batch_uc.go
package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"photo-restyler/internal/batchwire"
	"photo-restyler/internal/config"
	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
	"photo-restyler/internal/domain/ports/repository"
	"photo-restyler/internal/infra/logging"
	"photo-restyler/internal/infra/metrics"
)

const (
	batchInputFile    = "batch/input.jsonl"
	batchOutputFile   = "batch/output.jsonl"
	batchManifestFile = "batch/manifest.json"

	// BatchStatusFile is the run artifact holding the last poll snapshot.
	BatchStatusFile = "batch/status.json"

	batchUploadMIME = "jsonl"

	// MsgNoBatchResult marks entries the job output never mentioned.
	MsgNoBatchResult = "no result in batch output"
)

// PhaseResult is embedded in every batch phase result so callers can render
// failures without inspecting the error chain.
type PhaseResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func phaseOK() PhaseResult { return PhaseResult{Success: true} }

func phaseFailed(err error) PhaseResult { return PhaseResult{Error: err.Error()} }

type SubmitResult struct {
	PhaseResult
	BatchID   string               `json:"batchId,omitempty"`
	ItemCount int                  `json:"itemCount"`
	Manifest  *model.BatchManifest `json:"manifest,omitempty"`
}

type PollResult struct {
	PhaseResult
	Status   *model.BatchJobStatus `json:"status,omitempty"`
	Attempts int                   `json:"attempts"`
	TimedOut bool                  `json:"timedOut,omitempty"`
}

type FetchItemResult struct {
	CustomID  string            `json:"customId"`
	Name      string            `json:"name,omitempty"`
	Status    model.ImageStatus `json:"status,omitempty"`
	FinalPath string            `json:"finalPath,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type FetchResult struct {
	PhaseResult
	ProcessedCount int               `json:"processedCount"`
	FailedCount    int               `json:"failedCount"`
	Items          []FetchItemResult `json:"items"`
}

type BatchOptions struct {
	Model           string
	OutputSize      string
	SeedPolicy      string
	FixedSeed       int32
	MaxEdge         int
	PollInterval    time.Duration
	MaxPollAttempts int
	Output          adapter.OutputPolicy
}

// Compile-time check
var _ BatchUseCase = (*batchUC)(nil)

// BatchUseCase drives the asynchronous job: submit, poll, fetch. Every phase
// returns a non-nil result; the error mirrors a failed PhaseResult.
type BatchUseCase interface {
	Submit(ctx context.Context, runID string) (*SubmitResult, error)
	Poll(ctx context.Context, runID string) (*PollResult, error)
	// PollUntilComplete polls at most MaxPollAttempts times, PollInterval apart.
	// Running out of attempts returns domain.ErrPollTimeout, never a job state.
	PollUntilComplete(ctx context.Context, runID string) (*PollResult, error)
	Fetch(ctx context.Context, runID string) (*FetchResult, error)
}

type batchUC struct {
	runs      repository.RunRepository
	artifacts repository.ArtifactStore
	api       adapter.ImageAPI
	codec     adapter.ImageCodec
	prompts   *PromptAssembler
	opts      BatchOptions
	log       *zerolog.Logger
}

func NewBatchUseCase(
	runs repository.RunRepository,
	artifacts repository.ArtifactStore,
	api adapter.ImageAPI,
	codec adapter.ImageCodec,
	prompts *PromptAssembler,
	opts BatchOptions,
	logger *zerolog.Logger,
) *batchUC {
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 1
	}
	if opts.SeedPolicy == "" {
		opts.SeedPolicy = config.SeedPolicyReusePreview
	}
	return &batchUC{
		runs:      runs,
		artifacts: artifacts,
		api:       api,
		codec:     codec,
		prompts:   prompts,
		opts:      opts,
		log:       logging.Component(logger, "BatchUseCase"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------- submit ----------

func (uc *batchUC) Submit(ctx context.Context, runID string) (*SubmitResult, error) {
	ctx = logging.WithRunID(ctx, runID)
	res, err := uc.submit(ctx, runID)
	if err != nil {
		metrics.IncBatchSubmission("failed")
		logging.With(ctx, uc.log).Error().Err(err).Msg("batch submit failed")
		res.PhaseResult = phaseFailed(err)
		return res, err
	}
	metrics.IncBatchSubmission("submitted")
	res.PhaseResult = phaseOK()
	return res, nil
}

func (uc *batchUC) submit(ctx context.Context, runID string) (*SubmitResult, error) {
	res := &SubmitResult{}
	if uc.api == nil {
		return res, domain.ErrNotConfigured
	}
	run, err := uc.runs.Get(ctx, runID)
	if err != nil {
		return res, err
	}
	if run.BatchOutstanding() {
		return res, fmt.Errorf("%w: %s", domain.ErrBatchInFlight, run.BatchID)
	}
	approved := run.ImagesWithStatus(model.ImageApproved)
	if len(approved) == 0 {
		return res, domain.ErrNoApprovedImages
	}

	lines := make([]batchwire.RequestLine, 0, len(approved))
	seeds := make(map[string]*int32, len(approved))
	names := make([]string, 0, len(approved))
	for _, e := range approved {
		src, err := os.ReadFile(e.SourcePath)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", e.Name, err)
		}
		img, mime, err := uc.codec.PrepareInput(src, uc.opts.MaxEdge)
		if err != nil {
			return res, fmt.Errorf("prepare %s: %w", e.Name, err)
		}
		prompt, err := uc.prompts.Assemble(e.PresetID, run.Lighting, run.FreeText)
		if err != nil {
			return res, fmt.Errorf("prompt for %s: %w", e.Name, err)
		}
		seed := uc.resolveSeed(run, e)
		seeds[e.Name] = seed
		names = append(names, e.Name)
		lines = append(lines, batchwire.NewRequestLine(batchwire.Item{
			RunID:      run.ID,
			FileName:   e.Name,
			Model:      uc.opts.Model,
			Prompt:     prompt,
			Image:      img,
			MIMEType:   mime,
			Seed:       seed,
			OutputSize: uc.opts.OutputSize,
		}))
	}

	var buf bytes.Buffer
	if err := batchwire.EncodeRequests(&buf, lines); err != nil {
		return res, err
	}
	if _, err := uc.artifacts.WriteArtifact(ctx, run.ID, batchInputFile, buf.Bytes()); err != nil {
		return res, fmt.Errorf("write batch input: %w", err)
	}

	fileRef, err := uc.api.UploadFile(ctx, run.ID+"-input", batchUploadMIME, buf.Bytes())
	if err != nil {
		return res, fmt.Errorf("upload batch input: %w", err)
	}
	submittedAt := time.Now().UTC()
	jobID, err := uc.api.CreateBatch(ctx, uc.opts.Model, fileRef, run.ID+"-"+submittedAt.Format("150405"))
	if err != nil {
		return res, fmt.Errorf("start batch job: %w", err)
	}
	ctx = logging.WithJob(ctx, jobID)

	_, err = uc.runs.Mutate(ctx, run.ID, func(r *model.Run) error {
		if r.BatchOutstanding() {
			return fmt.Errorf("%w: %s", domain.ErrBatchInFlight, r.BatchID)
		}
		r.BatchID = jobID
		r.BatchStatus = model.BatchProcessing
		r.Mode = model.RunModeFinal
		for name, seed := range seeds {
			e := r.Entry(name)
			if e == nil || e.Status != model.ImageApproved {
				continue
			}
			e.FinalSeed = seed
			e.FinalModel = uc.opts.Model
			if err := e.Transition(model.ImageFinalGenerating); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	manifest := &model.BatchManifest{
		SubmissionID: uuid.NewString(),
		RunID:        run.ID,
		JobID:        jobID,
		InputFileRef: fileRef,
		Model:        uc.opts.Model,
		ItemCount:    len(lines),
		Items:        names,
		SubmittedAt:  submittedAt,
	}
	if err := uc.writeJSON(ctx, run.ID, batchManifestFile, manifest); err != nil {
		logging.With(ctx, uc.log).Warn().Err(err).Msg("could not write batch manifest")
	}
	logging.With(ctx, uc.log).Info().Int("items", len(lines)).Str("file", fileRef).Msg("batch submitted")

	res.BatchID = jobID
	res.ItemCount = len(lines)
	res.Manifest = manifest
	return res, nil
}

// resolveSeed picks the final-stage seed per policy. A run whose seed was
// rejected before never gets one again.
func (uc *batchUC) resolveSeed(run *model.Run, e model.ImageEntry) *int32 {
	if !run.SeedAllowed() {
		return nil
	}
	switch uc.opts.SeedPolicy {
	case config.SeedPolicyRandom:
		s := rand.Int32N(math.MaxInt32)
		return &s
	case config.SeedPolicyFixed:
		s := uc.opts.FixedSeed
		return &s
	default:
		if e.PreviewSeed == nil {
			return nil
		}
		s := *e.PreviewSeed
		return &s
	}
}

// ---------- poll ----------

func (uc *batchUC) Poll(ctx context.Context, runID string) (*PollResult, error) {
	ctx = logging.WithRunID(ctx, runID)
	res := &PollResult{Attempts: 1}
	st, err := uc.poll(ctx, runID)
	res.Status = st
	if err != nil {
		res.PhaseResult = phaseFailed(err)
		return res, err
	}
	res.PhaseResult = phaseOK()
	return res, nil
}

func (uc *batchUC) poll(ctx context.Context, runID string) (*model.BatchJobStatus, error) {
	if uc.api == nil {
		return nil, domain.ErrNotConfigured
	}
	run, err := uc.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.BatchID == "" {
		return nil, domain.ErrNoBatchJob
	}
	ctx = logging.WithJob(ctx, run.BatchID)

	st, err := uc.api.GetBatch(ctx, run.BatchID)
	if err != nil {
		return nil, err
	}
	metrics.IncBatchPoll(string(st.State))

	snap := model.BatchSnapshot{RunID: run.ID, Status: *st, PolledAt: time.Now().UTC()}
	if err := uc.writeJSON(ctx, run.ID, BatchStatusFile, snap); err != nil {
		logging.With(ctx, uc.log).Warn().Err(err).Msg("could not write status snapshot")
	}

	switch st.State {
	case model.JobSucceeded:
		completed := model.BatchCompleted
		if _, err := uc.runs.Update(ctx, run.ID, model.RunPatch{BatchStatus: &completed}); err != nil {
			return st, err
		}
	case model.JobFailed, model.JobCancelled:
		msg := st.Error
		if msg == "" {
			msg = "batch job " + string(st.State)
		}
		_, err := uc.runs.Mutate(ctx, run.ID, func(r *model.Run) error {
			r.BatchStatus = model.BatchFailed
			r.Mode = model.RunModeIdle
			for i := range r.Images {
				if r.Images[i].Status == model.ImageFinalGenerating {
					_ = r.Images[i].Fail(msg)
				}
			}
			return nil
		})
		if err != nil {
			return st, err
		}
		return st, fmt.Errorf("%w: %s", domain.ErrBatchFailed, msg)
	}
	logging.With(ctx, uc.log).Debug().Str("state", string(st.State)).Msg("batch polled")
	return st, nil
}

func (uc *batchUC) PollUntilComplete(ctx context.Context, runID string) (*PollResult, error) {
	log := logging.With(logging.WithRunID(ctx, runID), uc.log)
	res := &PollResult{}
	for attempt := 1; attempt <= uc.opts.MaxPollAttempts; attempt++ {
		res.Attempts = attempt
		st, err := uc.poll(ctx, runID)
		if st != nil {
			res.Status = st
		}
		switch {
		case err == nil && st.State.Terminal():
			res.PhaseResult = phaseOK()
			return res, nil
		case err != nil && !errors.Is(err, domain.ErrTransport):
			res.PhaseResult = phaseFailed(err)
			return res, err
		case err != nil:
			log.Warn().Err(err).Int("attempt", attempt).Msg("poll failed; will retry")
		}
		if attempt == uc.opts.MaxPollAttempts {
			break
		}
		if err := sleepCtx(ctx, uc.opts.PollInterval); err != nil {
			res.PhaseResult = phaseFailed(err)
			return res, err
		}
	}
	err := fmt.Errorf("%w after %d attempts", domain.ErrPollTimeout, res.Attempts)
	res.TimedOut = true
	res.PhaseResult = phaseFailed(err)
	return res, err
}

// ---------- fetch ----------

func (uc *batchUC) Fetch(ctx context.Context, runID string) (*FetchResult, error) {
	ctx = logging.WithRunID(ctx, runID)
	res, err := uc.fetch(ctx, runID)
	if err != nil {
		logging.With(ctx, uc.log).Error().Err(err).Msg("batch fetch failed")
		res.PhaseResult = phaseFailed(err)
		return res, err
	}
	metrics.AddBatchItems(string(model.ImageFinalReady), res.ProcessedCount)
	metrics.AddBatchItems(string(model.ImageError), res.FailedCount)
	res.PhaseResult = phaseOK()
	return res, nil
}

func (uc *batchUC) fetch(ctx context.Context, runID string) (*FetchResult, error) {
	res := &FetchResult{Items: []FetchItemResult{}}
	if uc.api == nil {
		return res, domain.ErrNotConfigured
	}
	run, err := uc.runs.Get(ctx, runID)
	if err != nil {
		return res, err
	}
	if run.BatchID == "" {
		return res, domain.ErrNoBatchJob
	}
	ctx = logging.WithJob(ctx, run.BatchID)
	log := logging.With(ctx, uc.log)

	st, err := uc.api.GetBatch(ctx, run.BatchID)
	if err != nil {
		return res, err
	}
	switch {
	case st.State == model.JobFailed || st.State == model.JobCancelled:
		return res, fmt.Errorf("%w: %s", domain.ErrBatchFailed, st.State)
	case st.State != model.JobSucceeded:
		return res, fmt.Errorf("%w: state %s", domain.ErrBatchNotReady, st.State)
	case st.OutputFileRef == "":
		return res, fmt.Errorf("%w: no output file", domain.ErrBatchNotReady)
	}

	out, err := uc.api.DownloadFile(ctx, st.OutputFileRef)
	if err != nil {
		return res, fmt.Errorf("download batch output: %w", err)
	}
	if _, err := uc.artifacts.WriteArtifact(ctx, run.ID, batchOutputFile, out); err != nil {
		log.Warn().Err(err).Msg("could not keep batch output copy")
	}

	decoded, err := batchwire.DecodeResponses(bytes.NewReader(out))
	if err != nil {
		return res, fmt.Errorf("read batch output: %w", err)
	}
	for _, d := range decoded {
		item := uc.applyRecord(ctx, run, d)
		if item.Error != "" {
			res.FailedCount++
			log.Warn().Str("custom_id", item.CustomID).Str("error", item.Error).Msg("batch item failed")
		} else {
			res.ProcessedCount++
		}
		res.Items = append(res.Items, item)
	}

	var missing []string
	_, err = uc.runs.Mutate(ctx, run.ID, func(r *model.Run) error {
		missing = missing[:0]
		for i := range r.Images {
			e := &r.Images[i]
			if e.Status != model.ImageFinalGenerating {
				continue
			}
			if err := e.Fail(MsgNoBatchResult); err != nil {
				return err
			}
			missing = append(missing, e.Name)
		}
		r.Mode = model.RunModeIdle
		r.BatchStatus = model.BatchCompleted
		return nil
	})
	if err != nil {
		return res, err
	}
	for _, name := range missing {
		res.FailedCount++
		res.Items = append(res.Items, FetchItemResult{
			CustomID: batchwire.CorrelationID(run.ID, name),
			Name:     name,
			Status:   model.ImageError,
			Error:    MsgNoBatchResult,
		})
		log.Warn().Str("image", name).Msg("batch output has no record for image")
	}
	log.Info().Int("processed", res.ProcessedCount).Int("failed", res.FailedCount).Msg("batch fetched")
	return res, nil
}

// applyRecord handles one output line. Failures are isolated to that entry.
func (uc *batchUC) applyRecord(ctx context.Context, run *model.Run, d batchwire.Decoded) FetchItemResult {
	if d.Err != nil {
		return FetchItemResult{Error: d.Err.Error()}
	}
	item := FetchItemResult{CustomID: d.Line.ID()}
	runID, name, err := batchwire.ParseCorrelationID(item.CustomID)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	if runID != run.ID {
		item.Error = fmt.Sprintf("record belongs to run %s", runID)
		return item
	}
	item.Name = name
	entry := run.Entry(name)
	if entry == nil {
		item.Error = fmt.Sprintf("no image named %q in run", name)
		return item
	}

	fail := func(msg string) FetchItemResult {
		item.Error = msg
		item.Status = model.ImageError
		if _, err := uc.runs.SetStatus(ctx, run.ID, name, model.ImageError, msg); err != nil {
			logging.With(ctx, uc.log).Error().Err(err).Str("image", name).Msg("could not record batch item failure")
			item.Status = entry.Status
		}
		return item
	}

	ext := batchwire.Extract(d.Line)
	if !ext.OK() {
		return fail(ext.Error)
	}

	original, err := os.ReadFile(entry.SourcePath)
	if err != nil {
		// metadata carry-over is best effort
		original = nil
	}
	data, fileExt, err := uc.codec.Finalize(ext.Image, original, uc.opts.Output)
	if err != nil {
		return fail(fmt.Sprintf("decode output image: %v", err))
	}
	path, err := uc.artifacts.WriteArtifact(ctx, run.ID, filepath.Join("finals", artifactName(name, fileExt)), data)
	if err != nil {
		return fail(fmt.Sprintf("write output image: %v", err))
	}
	_, err = uc.runs.Mutate(ctx, run.ID, func(r *model.Run) error {
		e := r.Entry(name)
		if e == nil {
			return fmt.Errorf("%w: image %q", domain.ErrNotFound, name)
		}
		e.FinalPath = path
		return e.Transition(model.ImageFinalReady)
	})
	if err != nil {
		item.Error = err.Error()
		return item
	}
	item.Status = model.ImageFinalReady
	item.FinalPath = path
	return item
}

func (uc *batchUC) writeJSON(ctx context.Context, runID, rel string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = uc.artifacts.WriteArtifact(ctx, runID, rel, b)
	return err
}
