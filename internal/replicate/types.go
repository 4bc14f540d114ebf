// Package replicate provides an HTTP client for the Replicate prediction API,
// used for video generation, face extraction and face swapping.
package replicate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status represents the status of a prediction.
type Status string

// Prediction statuses as reported by the Replicate API.
const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// SubmitRequest describes a prediction to create.
type SubmitRequest struct {
	// Model is either "owner/name" or "owner/name:version".
	Model string
	// Input is the model-specific payload sent as {"input": Input}.
	Input map[string]any
	// UserID owns the usage record written for the call.
	UserID int64
	// Endpoint is the usage label, e.g. "video.generate".
	Endpoint string
}

// PollRequest identifies a prediction to check.
type PollRequest struct {
	ID       string
	UserID   int64
	Endpoint string
}

// PollResult contains the result of polling a prediction.
type PollResult struct {
	ID     string
	Status Status
	// Output holds every output URL in provider order.
	Output []string
	// Error is the provider's error text (only set when Status is failed or canceled).
	Error string
}

// FirstOutput returns the canonical output URL, or "" when there is none.
func (r PollResult) FirstOutput() string {
	if len(r.Output) == 0 {
		return ""
	}
	return r.Output[0]
}

// predictionRequest is the body of a create-prediction call.
type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// predictionResponse is the prediction object returned by create and get.
type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// parseOutput accepts a single URL, a list of URLs or null.
func parseOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("replicate: unexpected output shape: %s", string(raw))
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// parseError renders the provider's error field as text.
func parseError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
