package generator

import (
	"context"
	"fmt"

	"github.com/maauso/faceswap-api/internal/replicate"
)

// ReplicateAdapter adapts the Replicate client to the Generator interface.
type ReplicateAdapter struct {
	client replicate.Client
}

// NewReplicateAdapter creates a new Replicate generator adapter.
func NewReplicateAdapter(client replicate.Client) *ReplicateAdapter {
	return &ReplicateAdapter{client: client}
}

// Submit creates a prediction on Replicate.
func (a *ReplicateAdapter) Submit(ctx context.Context, job Job) (string, error) {
	id, err := a.client.Submit(ctx, replicate.SubmitRequest{
		Model:    job.Model,
		Input:    job.Input,
		UserID:   job.UserID,
		Endpoint: job.Endpoint,
	})
	if err != nil {
		return "", fmt.Errorf("replicate adapter submit: %w", err)
	}
	return id, nil
}

// Poll checks the status of a Replicate prediction.
// A succeeded prediction without output is reported as failed.
func (a *ReplicateAdapter) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	result, err := a.client.Poll(ctx, replicate.PollRequest{
		ID:       req.ID,
		UserID:   req.UserID,
		Endpoint: req.Endpoint,
	})
	if err != nil {
		return PollResult{}, fmt.Errorf("replicate adapter poll: %w", err)
	}

	if !result.Status.IsTerminal() {
		return PollResult{Status: StatusPending}, nil
	}

	switch result.Status {
	case replicate.StatusSucceeded:
		out := result.FirstOutput()
		if out == "" {
			return PollResult{Status: StatusFailed, Error: "prediction succeeded without output"}, nil
		}
		return PollResult{Status: StatusSucceeded, OutputURL: out}, nil
	case replicate.StatusFailed:
		return PollResult{Status: StatusFailed, Error: result.Error}, nil
	default:
		msg := result.Error
		if msg == "" {
			msg = "prediction was canceled"
		}
		return PollResult{Status: StatusFailed, Error: msg}, nil
	}
}

// Compile-time check that ReplicateAdapter implements Generator.
var _ Generator = (*ReplicateAdapter)(nil)
