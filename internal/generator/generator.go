// Package generator provides the provider-agnostic port used by the pipeline
// to run media predictions, the payload profiles for video models and the
// ordered fallback across video models.
package generator

import "context"

// Status represents the status of a generation job.
type Status string

// Common job statuses across providers.
const (
	StatusPending   Status = "pending"   // Job submitted and not finished yet
	StatusSucceeded Status = "succeeded" // Job finished with an output URL
	StatusFailed    Status = "failed"    // Job failed or was canceled
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is one prediction to submit.
type Job struct {
	Model    string
	Input    map[string]any
	UserID   int64  // owner of the usage record
	Endpoint string // usage label
}

// PollRequest identifies a submitted job.
type PollRequest struct {
	ID       string
	UserID   int64
	Endpoint string
}

// PollResult contains the result of polling a job's status.
type PollResult struct {
	Status    Status
	OutputURL string // canonical output (only set when Status is StatusSucceeded)
	Error     string // provider error text (only set when Status is StatusFailed)
}

// Generator defines the interface for prediction providers.
type Generator interface {
	// Submit sends a job and returns its handle.
	Submit(ctx context.Context, job Job) (string, error)

	// Poll checks the status of a job and returns the result.
	Poll(ctx context.Context, req PollRequest) (PollResult, error)
}
