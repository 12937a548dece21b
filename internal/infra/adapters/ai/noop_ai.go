package ai

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photo-restyler/internal/batchwire"
	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
)

var _ adapter.ImageAPI = (*NoopImageAPI)(nil)

// NoopImageAPI implements adapter.ImageAPI for local/dev runs without a key.
// Generate echoes the input image back; batch jobs run RUNNING once and then
// succeed with an output file that echoes every request.
type NoopImageAPI struct {
	mu     sync.Mutex
	files  map[string][]byte
	jobs   map[string]*noopJob
	seq    int
	delay  time.Duration
	logger *zerolog.Logger
}

type noopJob struct {
	input  string
	polls  int
	output string
}

func NewNoopImageAPI(logger *zerolog.Logger) *NoopImageAPI {
	return &NoopImageAPI{
		files:  make(map[string][]byte),
		jobs:   make(map[string]*noopJob),
		delay:  100 * time.Millisecond,
		logger: logger,
	}
}

func (a *NoopImageAPI) wait(ctx context.Context) error {
	select {
	case <-time.After(a.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *NoopImageAPI) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResponse, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.logger.Debug().Str("model", req.Model).Int("bytes", len(req.Image)).Msg("[noop-ai] generate")
	if len(req.Image) == 0 {
		return &adapter.GenerateResponse{Parts: []adapter.ContentPart{{Text: "noop: no input image"}}}, nil
	}
	return &adapter.GenerateResponse{Parts: []adapter.ContentPart{
		{InlineData: &adapter.InlineData{MIMEType: req.MIMEType, Data: req.Image}},
	}}, nil
}

func (a *NoopImageAPI) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	ref := fmt.Sprintf("files/noop-%d", a.seq)
	a.files[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (a *NoopImageAPI) CreateBatch(ctx context.Context, modelName, fileRef, displayName string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.files[fileRef]; !ok {
		return "", fmt.Errorf("%w: file %s", domain.ErrNotFound, fileRef)
	}
	a.seq++
	name := fmt.Sprintf("batches/noop-%d", a.seq)
	a.jobs[name] = &noopJob{input: fileRef}
	return name, nil
}

func (a *NoopImageAPI) GetBatch(ctx context.Context, jobName string) (*model.BatchJobStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[jobName]
	if !ok {
		return nil, &domain.TransportError{Code: 404, Status: "NOT_FOUND", Message: "no such batch " + jobName}
	}
	job.polls++
	if job.polls == 1 {
		return &model.BatchJobStatus{Name: jobName, State: model.JobRunning}, nil
	}
	if job.output == "" {
		out, err := echoBatch(a.files[job.input])
		if err != nil {
			return &model.BatchJobStatus{Name: jobName, State: model.JobFailed, Error: err.Error()}, nil
		}
		a.seq++
		job.output = fmt.Sprintf("files/noop-%d", a.seq)
		a.files[job.output] = out
	}
	now := time.Now().UTC()
	return &model.BatchJobStatus{Name: jobName, State: model.JobSucceeded, OutputFileRef: job.output, CompletedAt: &now}, nil
}

func (a *NoopImageAPI) DownloadFile(ctx context.Context, fileRef string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.files[fileRef]
	if !ok {
		return nil, &domain.TransportError{Code: 404, Status: "NOT_FOUND", Message: "no such file " + fileRef}
	}
	return b, nil
}

func echoBatch(input []byte) ([]byte, error) {
	reqs, err := batchwire.DecodeRequests(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	lines := make([]batchwire.ResponseLine, 0, len(reqs))
	for _, r := range reqs {
		var parts []batchwire.Part
		for _, c := range r.Request.Contents {
			for _, p := range c.Parts {
				if p.InlineData != nil {
					parts = append(parts, p)
				}
			}
		}
		lines = append(lines, batchwire.ResponseLine{CustomID: r.CustomID, Response: &batchwire.Response{
			Candidates: []batchwire.Candidate{{Content: &batchwire.Content{Role: "model", Parts: parts}}},
		}})
	}
	var buf bytes.Buffer
	if err := batchwire.EncodeResponses(&buf, lines); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
