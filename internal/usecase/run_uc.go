// File: internal/usecase/run_uc.go
package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/repository"
	"photo-restyler/internal/infra/logging"
)

const (
	approvedFile = "approved.json"
	exportFile   = "export.csv"
)

var sourceExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

type CreateRunInput struct {
	Label    string
	Folder   string
	PresetID string
	Lighting string
	FreeText string
}

// Compile-time check
var _ RunUseCase = (*runUC)(nil)

// RunUseCase covers run creation and operator review.
type RunUseCase interface {
	CreateFromFolder(ctx context.Context, in CreateRunInput) (*model.Run, error)
	Get(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context) ([]*model.Run, error)
	Delete(ctx context.Context, id string) error
	// Approve moves the named entries (all preview_ready ones when names is
	// empty) to approved. overrides maps image name to a different preset.
	Approve(ctx context.Context, id string, names []string, overrides map[string]string) (*model.Run, error)
	Reject(ctx context.Context, id string, names []string) (*model.Run, error)
	// Export writes export.csv into the run directory and returns its path.
	Export(ctx context.Context, id string) (string, error)
}

type runUC struct {
	runs      repository.RunRepository
	artifacts repository.ArtifactStore
	prompts   *PromptAssembler
	log       *zerolog.Logger
}

func NewRunUseCase(runs repository.RunRepository, artifacts repository.ArtifactStore, prompts *PromptAssembler, logger *zerolog.Logger) *runUC {
	return &runUC{runs: runs, artifacts: artifacts, prompts: prompts, log: logging.Component(logger, "RunUseCase")}
}

func (uc *runUC) CreateFromFolder(ctx context.Context, in CreateRunInput) (*model.Run, error) {
	if !uc.prompts.HasPreset(in.PresetID) {
		return nil, fmt.Errorf("%w: unknown preset %q", domain.ErrInvalidArgument, in.PresetID)
	}
	paths, err := scanFolder(in.Folder)
	if err != nil {
		return nil, err
	}
	label := in.Label
	if strings.TrimSpace(label) == "" {
		label = filepath.Base(in.Folder)
	}
	run, err := uc.runs.Create(ctx, model.CreateRunParams{
		Label:         label,
		SourceDir:     in.Folder,
		Mode:          model.RunModePreview,
		DefaultPreset: in.PresetID,
		Lighting:      in.Lighting,
		FreeText:      in.FreeText,
		SourcePaths:   paths,
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("run_id", run.ID).Int("images", len(run.Images)).Msg("run created")
	return run, nil
}

// scanFolder lists supported images directly inside dir, sorted by name.
func scanFolder(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: read folder: %v", domain.ErrInvalidArgument, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if sourceExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, filepath.Join(abs, e.Name()))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", domain.ErrInvalidArgument, abs)
	}
	sort.Strings(out)
	return out, nil
}

func (uc *runUC) Get(ctx context.Context, id string) (*model.Run, error) {
	return uc.runs.Get(ctx, id)
}

func (uc *runUC) List(ctx context.Context) ([]*model.Run, error) {
	return uc.runs.List(ctx)
}

func (uc *runUC) Delete(ctx context.Context, id string) error {
	return uc.runs.Delete(ctx, id)
}

func (uc *runUC) Approve(ctx context.Context, id string, names []string, overrides map[string]string) (*model.Run, error) {
	for name, preset := range overrides {
		if !uc.prompts.HasPreset(preset) {
			return nil, fmt.Errorf("%w: unknown preset %q for %s", domain.ErrInvalidArgument, preset, name)
		}
	}
	run, err := uc.runs.Mutate(ctx, id, func(r *model.Run) error {
		targets, err := selectEntries(r, names, model.ImagePreviewReady)
		if err != nil {
			return err
		}
		for _, e := range targets {
			if err := e.Transition(model.ImageApproved); err != nil {
				return err
			}
			if p, ok := overrides[e.Name]; ok {
				e.PresetID = p
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := uc.writeApprovals(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

func (uc *runUC) Reject(ctx context.Context, id string, names []string) (*model.Run, error) {
	run, err := uc.runs.Mutate(ctx, id, func(r *model.Run) error {
		targets, err := selectEntries(r, names, model.ImagePreviewReady)
		if err != nil {
			return err
		}
		for _, e := range targets {
			if err := e.Transition(model.ImageRejected); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := uc.writeApprovals(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// selectEntries resolves names, or every entry in fallback state when names
// is empty. All-or-nothing: one unknown name fails the whole call.
func selectEntries(r *model.Run, names []string, fallback model.ImageStatus) ([]*model.ImageEntry, error) {
	var out []*model.ImageEntry
	if len(names) == 0 {
		for i := range r.Images {
			if r.Images[i].Status == fallback {
				out = append(out, &r.Images[i])
			}
		}
		return out, nil
	}
	for _, n := range names {
		e := r.Entry(n)
		if e == nil {
			return nil, fmt.Errorf("%w: image %q", domain.ErrNotFound, n)
		}
		out = append(out, e)
	}
	return out, nil
}

func (uc *runUC) writeApprovals(ctx context.Context, run *model.Run) error {
	records := make([]model.ApprovalRecord, 0)
	for _, e := range run.Images {
		switch e.Status {
		case model.ImageApproved, model.ImageFinalGenerating, model.ImageFinalReady:
		default:
			continue
		}
		records = append(records, model.ApprovalRecord{
			Name:           e.Name,
			SourcePath:     e.SourcePath,
			PresetID:       e.PresetID,
			PresetOverride: e.PresetID != run.DefaultPreset,
		})
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	_, err = uc.artifacts.WriteArtifact(ctx, run.ID, approvedFile, b)
	return err
}

var exportHeader = []string{"name", "status", "preset", "preview_path", "final_path", "preview_seed", "final_seed", "error"}

func (uc *runUC) Export(ctx context.Context, id string) (string, error) {
	run, err := uc.runs.Get(ctx, id)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return "", err
	}
	for _, e := range run.Images {
		rec := []string{
			e.Name, string(e.Status), e.PresetID, e.PreviewPath, e.FinalPath,
			seedString(e.PreviewSeed), seedString(e.FinalSeed), e.Error,
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return uc.artifacts.WriteArtifact(ctx, run.ID, exportFile, buf.Bytes())
}

func seedString(s *int32) string {
	if s == nil {
		return ""
	}
	return strconv.FormatInt(int64(*s), 10)
}
