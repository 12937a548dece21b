package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid image status transition")
	ErrRunLocked         = errors.New("run is locked by another writer")

	// Remote generation errors
	ErrNotConfigured     = errors.New("image api credential not configured")
	ErrTransport         = errors.New("image api request failed")
	ErrNoImageInResponse = errors.New("no image in response")
	ErrModelRefused      = errors.New("model replied with text instead of an image")

	// Batch job errors
	ErrNoApprovedImages = errors.New("no approved images to submit")
	ErrBatchInFlight    = errors.New("run already has a batch job in flight")
	ErrNoBatchJob       = errors.New("run has no batch job")
	ErrBatchNotReady    = errors.New("batch job has not succeeded yet")
	ErrBatchFailed      = errors.New("batch job failed or was cancelled")
	ErrPollTimeout      = errors.New("batch job did not reach a terminal state in time")
)

// TransportError carries the HTTP-level outcome of a failed remote call.
type TransportError struct {
	Code    int
	Status  string
	Message string
}

func (e *TransportError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("image api: %s", e.Message)
	}
	return fmt.Sprintf("image api (%d %s): %s", e.Code, e.Status, e.Message)
}

func (e *TransportError) Unwrap() error { return ErrTransport }

// ModelRefusedError keeps the (truncated) text the model sent back instead of an image.
type ModelRefusedError struct {
	Snippet string
}

func (e *ModelRefusedError) Error() string {
	return fmt.Sprintf("model refused: %s", e.Snippet)
}

func (e *ModelRefusedError) Unwrap() error { return ErrModelRefused }
