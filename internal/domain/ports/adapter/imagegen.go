package adapter

import (
	"context"

	"photo-restyler/internal/domain/model"
)

// InlineData is binary content carried inside a request or response part.
type InlineData struct {
	MIMEType string
	Data     []byte
}

// ContentPart is either text or inline binary data.
type ContentPart struct {
	Text       string
	InlineData *InlineData
}

// GenerateRequest is one synchronous image-generation call.
// Seed is omitted from the wire request when nil.
type GenerateRequest struct {
	Model              string
	Prompt             string
	Image              []byte
	MIMEType           string
	Seed               *int32
	ResponseModalities []string
}

// GenerateResponse is the already-validated shape of a generate reply.
type GenerateResponse struct {
	Parts        []ContentPart
	BlockReason  string
	FinishReason string
}

// ImageAPI is the port for the remote generative-image service.
type ImageAPI interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// UploadFile stores raw bytes remotely and returns an opaque file reference.
	UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error)
	// CreateBatch starts an asynchronous job over an uploaded request file.
	CreateBatch(ctx context.Context, modelName, fileRef, displayName string) (string, error)
	GetBatch(ctx context.Context, jobName string) (*model.BatchJobStatus, error)
	DownloadFile(ctx context.Context, fileRef string) ([]byte, error)
}
