package model

import "time"

// BatchJobState is the remote service's view of an asynchronous job.
type BatchJobState string

const (
	JobPending   BatchJobState = "PENDING"
	JobRunning   BatchJobState = "RUNNING"
	JobSucceeded BatchJobState = "SUCCEEDED"
	JobFailed    BatchJobState = "FAILED"
	JobCancelled BatchJobState = "CANCELLED"
	JobUnknown   BatchJobState = "UNKNOWN"
)

func (s BatchJobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// BatchJobStatus is polled from the remote service; it is not owned data.
type BatchJobStatus struct {
	Name          string        `json:"name"`
	State         BatchJobState `json:"state"`
	Progress      *float64      `json:"progress,omitempty"`
	OutputFileRef string        `json:"outputFileRef,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// BatchManifest is the local audit record of one submission.
type BatchManifest struct {
	SubmissionID string    `json:"submissionId"`
	RunID        string    `json:"runId"`
	JobID        string    `json:"jobId"`
	InputFileRef string    `json:"inputFileRef"`
	Model        string    `json:"model"`
	ItemCount    int       `json:"itemCount"`
	Items        []string  `json:"items"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// BatchSnapshot is the point-in-time status written on every poll.
type BatchSnapshot struct {
	RunID    string         `json:"runId"`
	Status   BatchJobStatus `json:"status"`
	PolledAt time.Time      `json:"polledAt"`
}

// ApprovalRecord is one line of approved.json.
type ApprovalRecord struct {
	Name           string `json:"name"`
	SourcePath     string `json:"sourcePath"`
	PresetID       string `json:"presetId"`
	PresetOverride bool   `json:"presetOverride"`
}
