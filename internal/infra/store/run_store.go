// Package store is the flat, one-directory-per-run file store.
//
// Layout under the root:
//
//	<run-id>/run.json
//	<run-id>/approved.json
//	<run-id>/previews/, finals/
//	<run-id>/batch/{input.jsonl,output.jsonl,status.json,manifest.json}
//	<run-id>/export.csv
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/repository"
)

const runFile = "run.json"

var (
	_ repository.RunRepository = (*FileRunStore)(nil)
	_ repository.ArtifactStore = (*FileRunStore)(nil)
)

type FileRunStore struct {
	root   string
	locker repository.RunLocker
	logger *zerolog.Logger
	now    func() time.Time
}

// NewFileRunStore creates root if needed. A nil locker falls back to an
// in-process KeyedMutex.
func NewFileRunStore(root string, locker repository.RunLocker, logger *zerolog.Logger) (*FileRunStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	l := logger.With().Str("component", "FileRunStore").Logger()
	return &FileRunStore{
		root:   root,
		locker: locker,
		logger: &l,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *FileRunStore) RunDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *FileRunStore) Create(ctx context.Context, params model.CreateRunParams) (*model.Run, error) {
	r := model.NewRun(params, s.now())
	dir := s.RunDir(r.ID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: run %s", domain.ErrAlreadyExists, r.ID)
	}
	unlock, err := s.locker.Lock(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := s.write(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *FileRunStore) Get(ctx context.Context, id string) (*model.Run, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return s.read(id)
}

func (s *FileRunStore) Update(ctx context.Context, id string, patch model.RunPatch) (*model.Run, error) {
	return s.Mutate(ctx, id, func(r *model.Run) error {
		patch.Apply(r)
		return nil
	})
}

// Mutate is the only write path: lock, read the full record, apply fn, stamp
// UpdatedAt and write the full record back before unlocking.
func (s *FileRunStore) Mutate(ctx context.Context, id string, fn func(*model.Run) error) (*model.Run, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = s.now()
	if err := s.write(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *FileRunStore) List(ctx context.Context) ([]*model.Run, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*model.Run, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r, err := s.read(e.Name())
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn().Err(err).Str("run_id", e.Name()).Msg("skipping unreadable run")
			}
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileRunStore) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	dir := s.RunDir(id)
	if _, err := os.Stat(filepath.Join(dir, runFile)); errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound
	}
	return os.RemoveAll(dir)
}

// SetStatus moves one image through the state machine. errMsg is recorded
// only when the target status is error.
func (s *FileRunStore) SetStatus(ctx context.Context, id, name string, status model.ImageStatus, errMsg string) (*model.Run, error) {
	return s.Mutate(ctx, id, func(r *model.Run) error {
		e, err := entry(r, name)
		if err != nil {
			return err
		}
		if status == model.ImageError {
			return e.Fail(errMsg)
		}
		return e.Transition(status)
	})
}

func (s *FileRunStore) SetPreviewPath(ctx context.Context, id, name, path string) (*model.Run, error) {
	return s.Mutate(ctx, id, func(r *model.Run) error {
		e, err := entry(r, name)
		if err != nil {
			return err
		}
		e.PreviewPath = path
		e.UpdatedAt = s.now()
		return nil
	})
}

func (s *FileRunStore) SetFinalPath(ctx context.Context, id, name, path string) (*model.Run, error) {
	return s.Mutate(ctx, id, func(r *model.Run) error {
		e, err := entry(r, name)
		if err != nil {
			return err
		}
		e.FinalPath = path
		e.UpdatedAt = s.now()
		return nil
	})
}

// WriteArtifact atomically writes data to rel inside the run directory and
// returns the resulting path.
func (s *FileRunStore) WriteArtifact(ctx context.Context, id, rel string, data []byte) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: artifact path %q", domain.ErrInvalidArgument, rel)
	}
	p := filepath.Join(s.RunDir(id), rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := writeFileAtomic(p, data); err != nil {
		return "", err
	}
	return p, nil
}

func (s *FileRunStore) ReadArtifact(ctx context.Context, id, rel string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: artifact path %q", domain.ErrInvalidArgument, rel)
	}
	b, err := os.ReadFile(filepath.Join(s.RunDir(id), rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func (s *FileRunStore) read(id string) (*model.Run, error) {
	b, err := os.ReadFile(filepath.Join(s.RunDir(id), runFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	var r model.Run
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

func (s *FileRunStore) write(r *model.Run) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.ID, err)
	}
	return writeFileAtomic(filepath.Join(s.RunDir(r.ID), runFile), b)
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func entry(r *model.Run, name string) (*model.ImageEntry, error) {
	e := r.Entry(name)
	if e == nil {
		return nil, fmt.Errorf("%w: image %q in run %s", domain.ErrNotFound, name, r.ID)
	}
	return e, nil
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || !filepath.IsLocal(id) || filepath.Base(id) != id {
		return fmt.Errorf("%w: run id %q", domain.ErrInvalidArgument, id)
	}
	return nil
}
