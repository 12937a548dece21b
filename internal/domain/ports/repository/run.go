package repository

import (
	"context"

	"photo-restyler/internal/domain/model"
)

// RunRepository is the durable Run/Image registry. Every mutator performs a
// full read-modify-write of the record and is durable before it returns.
type RunRepository interface {
	Create(ctx context.Context, params model.CreateRunParams) (*model.Run, error)
	// Get returns domain.ErrNotFound when the id does not resolve.
	Get(ctx context.Context, id string) (*model.Run, error)
	Update(ctx context.Context, id string, patch model.RunPatch) (*model.Run, error)
	// Mutate applies fn to a fresh copy of the record under the run's lock.
	// Returning an error from fn aborts the write.
	Mutate(ctx context.Context, id string, fn func(*model.Run) error) (*model.Run, error)
	List(ctx context.Context) ([]*model.Run, error)
	Delete(ctx context.Context, id string) error

	SetStatus(ctx context.Context, id, name string, status model.ImageStatus, errMsg string) (*model.Run, error)
	SetPreviewPath(ctx context.Context, id, name, path string) (*model.Run, error)
	SetFinalPath(ctx context.Context, id, name, path string) (*model.Run, error)
}

// ArtifactStore keeps the per-run side files (approved.json, batch files, exports).
type ArtifactStore interface {
	RunDir(id string) string
	WriteArtifact(ctx context.Context, id, rel string, data []byte) (string, error)
	ReadArtifact(ctx context.Context, id, rel string) ([]byte, error)
}
