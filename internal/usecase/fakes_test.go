//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
	"photo-restyler/internal/domain/ports/repository"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// ---------- memRuns: in-memory RunRepository + ArtifactStore ----------

var (
	_ repository.RunRepository = (*memRuns)(nil)
	_ repository.ArtifactStore = (*memRuns)(nil)
)

type memRuns struct {
	mu        sync.Mutex
	runs      map[string]*model.Run
	artifacts map[string][]byte
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[string]*model.Run{}, artifacts: map[string][]byte{}}
}

func clone(r *model.Run) *model.Run {
	b, _ := json.Marshal(r)
	var out model.Run
	_ = json.Unmarshal(b, &out)
	return &out
}

func (m *memRuns) put(r *model.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = clone(r)
}

func (m *memRuns) Create(ctx context.Context, p model.CreateRunParams) (*model.Run, error) {
	r := model.NewRun(p, time.Now().UTC())
	m.put(r)
	return clone(r), nil
}

func (m *memRuns) Get(ctx context.Context, id string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(r), nil
}

func (m *memRuns) Update(ctx context.Context, id string, patch model.RunPatch) (*model.Run, error) {
	return m.Mutate(ctx, id, func(r *model.Run) error {
		patch.Apply(r)
		return nil
	})
}

func (m *memRuns) Mutate(ctx context.Context, id string, fn func(*model.Run) error) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r := clone(cur)
	if err := fn(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()
	m.runs[id] = clone(r)
	return r, nil
}

func (m *memRuns) List(ctx context.Context) ([]*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, clone(r))
	}
	return out, nil
}

func (m *memRuns) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.runs, id)
	return nil
}

func (m *memRuns) SetStatus(ctx context.Context, id, name string, status model.ImageStatus, errMsg string) (*model.Run, error) {
	return m.Mutate(ctx, id, func(r *model.Run) error {
		e := r.Entry(name)
		if e == nil {
			return domain.ErrNotFound
		}
		if status == model.ImageError {
			return e.Fail(errMsg)
		}
		return e.Transition(status)
	})
}

func (m *memRuns) SetPreviewPath(ctx context.Context, id, name, p string) (*model.Run, error) {
	return m.Mutate(ctx, id, func(r *model.Run) error {
		e := r.Entry(name)
		if e == nil {
			return domain.ErrNotFound
		}
		e.PreviewPath = p
		return nil
	})
}

func (m *memRuns) SetFinalPath(ctx context.Context, id, name, p string) (*model.Run, error) {
	return m.Mutate(ctx, id, func(r *model.Run) error {
		e := r.Entry(name)
		if e == nil {
			return domain.ErrNotFound
		}
		e.FinalPath = p
		return nil
	})
}

func (m *memRuns) RunDir(id string) string { return path.Join("mem", id) }

func (m *memRuns) WriteArtifact(ctx context.Context, id, rel string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := path.Join("mem", id, rel)
	m.artifacts[p] = append([]byte(nil), data...)
	return p, nil
}

func (m *memRuns) ReadArtifact(ctx context.Context, id, rel string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.artifacts[path.Join("mem", id, rel)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *memRuns) artifact(id, rel string) []byte {
	b, _ := m.ReadArtifact(context.Background(), id, rel)
	return b
}

// ---------- scriptedAPI: ImageAPI fake ----------

var _ adapter.ImageAPI = (*scriptedAPI)(nil)

type scriptedAPI struct {
	mu sync.Mutex

	GenerateFunc func(req adapter.GenerateRequest) (*adapter.GenerateResponse, error)
	Calls        []adapter.GenerateRequest

	UploadErr error
	Uploads   [][]byte
	CreateErr error
	JobID     string
	Creates   int

	// States are returned by successive GetBatch calls; the last one repeats.
	States []*model.BatchJobStatus
	Polls  int
	GetErr error
	Files  map[string][]byte
}

func (a *scriptedAPI) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResponse, error) {
	a.mu.Lock()
	a.Calls = append(a.Calls, req)
	fn := a.GenerateFunc
	a.mu.Unlock()
	if fn == nil {
		return imageResponse([]byte("img")), nil
	}
	return fn(req)
}

func (a *scriptedAPI) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.UploadErr != nil {
		return "", a.UploadErr
	}
	a.Uploads = append(a.Uploads, append([]byte(nil), data...))
	return fmt.Sprintf("files/input-%d", len(a.Uploads)), nil
}

func (a *scriptedAPI) CreateBatch(ctx context.Context, modelName, fileRef, displayName string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CreateErr != nil {
		return "", a.CreateErr
	}
	a.Creates++
	return a.JobID, nil
}

func (a *scriptedAPI) GetBatch(ctx context.Context, jobName string) (*model.BatchJobStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.GetErr != nil {
		return nil, a.GetErr
	}
	if len(a.States) == 0 {
		return &model.BatchJobStatus{Name: jobName, State: model.JobUnknown}, nil
	}
	i := min(a.Polls, len(a.States)-1)
	a.Polls++
	st := *a.States[i]
	st.Name = jobName
	return &st, nil
}

func (a *scriptedAPI) DownloadFile(ctx context.Context, fileRef string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.Files[fileRef]
	if !ok {
		return nil, &domain.TransportError{Code: 404, Message: "no file " + fileRef}
	}
	return b, nil
}

func imageResponse(data []byte) *adapter.GenerateResponse {
	return &adapter.GenerateResponse{Parts: []adapter.ContentPart{
		{InlineData: &adapter.InlineData{MIMEType: "image/png", Data: data}},
	}}
}

// ---------- passCodec ----------

type passCodec struct{ finalizeErr error }

func (passCodec) PrepareInput(src []byte, maxEdge int) ([]byte, string, error) {
	return src, "image/jpeg", nil
}

func (c passCodec) Finalize(generated, original []byte, policy adapter.OutputPolicy) ([]byte, string, error) {
	if c.finalizeErr != nil {
		return nil, "", c.finalizeErr
	}
	return generated, ".png", nil
}

func testCatalog() *model.PresetCatalog {
	return model.NewPresetCatalog(
		[]model.Preset{
			{ID: "warm", Name: "Warm", Prompt: "Relight the room with warm evening light."},
			{ID: "staged", Name: "Staged", Prompt: "Add tasteful furniture."},
		},
		map[string]string{"golden": "Golden hour sun through the windows."},
	)
}
