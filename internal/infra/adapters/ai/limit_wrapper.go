package ai

import (
	"context"

	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ImageAPI = (*limitedAPI)(nil)

// limitedAPI caps concurrent remote calls across every caller in the process.
type limitedAPI struct {
	inner adapter.ImageAPI
	sem   chan struct{}
}

func NewLimitedImageAPI(inner adapter.ImageAPI, maxConcurrent int) adapter.ImageAPI {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAPI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAPI) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedAPI) release() { <-l.sem }

func (l *limitedAPI) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResponse, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Generate(ctx, req)
}

func (l *limitedAPI) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.UploadFile(ctx, displayName, mimeType, data)
}

func (l *limitedAPI) CreateBatch(ctx context.Context, modelName, fileRef, displayName string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.CreateBatch(ctx, modelName, fileRef, displayName)
}

func (l *limitedAPI) GetBatch(ctx context.Context, jobName string) (*model.BatchJobStatus, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetBatch(ctx, jobName)
}

func (l *limitedAPI) DownloadFile(ctx context.Context, fileRef string) ([]byte, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.DownloadFile(ctx, fileRef)
}
