// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
	"photo-restyler/internal/infra/logging"
)

var _ adapter.ImageAPI = (*GeminiImageAPI)(nil)

type GeminiImageAPI struct {
	client *genai.Client
	logger *zerolog.Logger
}

// NewGeminiImageAPI creates the adapter using the official SDK. baseURL is
// optional and mostly used to point tests at a fake server.
func NewGeminiImageAPI(ctx context.Context, apiKey, baseURL string, logger *zerolog.Logger) (*GeminiImageAPI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.ErrNotConfigured
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiImageAPI{client: c, logger: logging.Component(logger, "GeminiImageAPI")}, nil
}

func (g *GeminiImageAPI) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResponse, error) {
	defer logging.TraceDuration(g.logger, "Generate")()

	parts := []*genai.Part{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.MIMEType, Data: req.Image}})
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: req.ResponseModalities,
		Seed:               req.Seed,
	}
	resp, err := g.client.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}}, cfg)
	if err != nil {
		return nil, mapError(err)
	}

	out := &adapter.GenerateResponse{}
	if resp.PromptFeedback != nil {
		out.BlockReason = string(resp.PromptFeedback.BlockReason)
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		if out.FinishReason == "" {
			out.FinishReason = string(c.FinishReason)
		}
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			switch {
			case p.InlineData != nil && len(p.InlineData.Data) > 0:
				out.Parts = append(out.Parts, adapter.ContentPart{InlineData: &adapter.InlineData{
					MIMEType: p.InlineData.MIMEType,
					Data:     p.InlineData.Data,
				}})
			case p.Text != "":
				out.Parts = append(out.Parts, adapter.ContentPart{Text: p.Text})
			}
		}
	}
	return out, nil
}

func (g *GeminiImageAPI) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	defer logging.TraceDuration(g.logger, "UploadFile")()
	f, err := g.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return "", mapError(err)
	}
	g.logger.Debug().Str("file", f.Name).Int("bytes", len(data)).Msg("uploaded")
	return f.Name, nil
}

func (g *GeminiImageAPI) CreateBatch(ctx context.Context, modelName, fileRef, displayName string) (string, error) {
	job, err := g.client.Batches.Create(ctx, modelName,
		&genai.BatchJobSource{FileName: fileRef},
		&genai.CreateBatchJobConfig{DisplayName: displayName})
	if err != nil {
		return "", mapError(err)
	}
	return job.Name, nil
}

func (g *GeminiImageAPI) GetBatch(ctx context.Context, jobName string) (*model.BatchJobStatus, error) {
	job, err := g.client.Batches.Get(ctx, jobName, nil)
	if err != nil {
		return nil, mapError(err)
	}
	st := &model.BatchJobStatus{
		Name:  job.Name,
		State: mapJobState(job.State),
	}
	if job.Dest != nil {
		st.OutputFileRef = job.Dest.FileName
	}
	if !job.EndTime.IsZero() {
		t := job.EndTime
		st.CompletedAt = &t
	}
	if job.Error != nil {
		st.Error = job.Error.Message
	}
	return st, nil
}

func (g *GeminiImageAPI) DownloadFile(ctx context.Context, fileRef string) ([]byte, error) {
	defer logging.TraceDuration(g.logger, "DownloadFile")()
	b, err := g.client.Files.Download(ctx, genai.NewDownloadURIFromFile(&genai.File{DownloadURI: fileRef}), nil)
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

// mapJobState folds the service's job states onto the six we track. Unknown
// spellings are matched by suffix so BATCH_STATE_* and JOB_STATE_* both work.
func mapJobState(s genai.JobState) model.BatchJobState {
	switch s {
	case genai.JobStateQueued, genai.JobStatePending, genai.JobStatePaused, genai.JobStateUpdating:
		return model.JobPending
	case genai.JobStateRunning, genai.JobStateCancelling:
		return model.JobRunning
	case genai.JobStateSucceeded, genai.JobStatePartiallySucceeded:
		return model.JobSucceeded
	case genai.JobStateFailed, genai.JobStateExpired:
		return model.JobFailed
	case genai.JobStateCancelled:
		return model.JobCancelled
	}
	raw := strings.ToUpper(string(s))
	switch {
	case strings.HasSuffix(raw, "SUCCEEDED"):
		return model.JobSucceeded
	case strings.HasSuffix(raw, "FAILED"), strings.HasSuffix(raw, "EXPIRED"):
		return model.JobFailed
	case strings.HasSuffix(raw, "CANCELLED"):
		return model.JobCancelled
	case strings.HasSuffix(raw, "RUNNING"):
		return model.JobRunning
	case strings.HasSuffix(raw, "PENDING"), strings.HasSuffix(raw, "QUEUED"):
		return model.JobPending
	}
	return model.JobUnknown
}

// mapError turns SDK errors into domain errors while keeping the service text,
// which the seed-rejection classifier inspects.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.TransportError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &domain.TransportError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return &domain.TransportError{Message: err.Error()}
}
