package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/faceswap-api/internal/usage"
)

// recordingTracker collects every tracked call.
type recordingTracker struct {
	mu    sync.Mutex
	calls []usage.Call
}

func (r *recordingTracker) Track(_ context.Context, c usage.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recordingTracker) snapshot() []usage.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.Call(nil), r.calls...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) (*HTTPClient, *recordingTracker) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tracker := &recordingTracker{}
	opts = append([]ClientOption{WithBaseURL(server.URL), WithUsageTracker(tracker)}, opts...)
	client, err := NewClient("test-token", opts...)
	require.NoError(t, err)
	return client, tracker
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusStarting, false},
		{StatusProcessing, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCanceled, true},
		{Status("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestNewClient_MissingToken(t *testing.T) {
	_, err := NewClient("")
	if !errors.Is(err, ErrAPITokenNotSet) {
		t.Errorf("expected ErrAPITokenNotSet, got %v", err)
	}
}

func TestSubmit_ModelEndpoint(t *testing.T) {
	client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/kwaivgi/kling-v1.6-standard/predictions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Version)
		assert.Equal(t, "a cat surfing", req.Input["prompt"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(predictionResponse{ID: "pred-123", Status: "starting"})
	})

	id, err := client.Submit(context.Background(), SubmitRequest{
		Model:    "kwaivgi/kling-v1.6-standard",
		Input:    map[string]any{"prompt": "a cat surfing"},
		UserID:   9,
		Endpoint: usage.EndpointVideoGenerate,
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-123", id)

	calls := tracker.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(9), calls[0].UserID)
	assert.Equal(t, usage.EndpointVideoGenerate, calls[0].Endpoint)
	assert.Equal(t, "pred-123", calls[0].RequestID)
	assert.NoError(t, calls[0].Err)
	assert.Positive(t, calls[0].RequestBytes)
	assert.Positive(t, calls[0].ResponseBytes)
}

func TestSubmit_VersionedModel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predictions", r.URL.Path)

		var req predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.Version)

		_ = json.NewEncoder(w).Encode(predictionResponse{ID: "pred-v"})
	})

	id, err := client.Submit(context.Background(), SubmitRequest{Model: "owner/model:abc123", Endpoint: usage.EndpointFaceSwap})
	require.NoError(t, err)
	assert.Equal(t, "pred-v", id)
}

func TestSubmit_MissingModel(t *testing.T) {
	client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, ErrModelRequired)
	assert.Empty(t, tracker.snapshot())
}

func TestSubmit_NoIDReturned(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid input"})
	})

	_, err := client.Submit(context.Background(), SubmitRequest{Model: "a/b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input")
}

func TestSubmit_APIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthentication},
		{"forbidden", http.StatusForbidden, ErrAuthentication},
		{"unprocessable", http.StatusUnprocessableEntity, ErrRequestFailed},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"detail":"nope"}`))
			})

			_, err := client.Submit(context.Background(), SubmitRequest{Model: "a/b", Endpoint: usage.EndpointVideoGenerate})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, `{"detail":"nope"}`, apiErr.Body)
			assert.Equal(t, usage.EndpointVideoGenerate, apiErr.Endpoint)

			// Retries are off by default: one outbound call, one usage record.
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
			calls := tracker.snapshot()
			require.Len(t, calls, 1)
			assert.Error(t, calls[0].Err)
		})
	}
}

func TestAPIError_AuthenticationHint(t *testing.T) {
	err := &APIError{StatusCode: http.StatusUnauthorized, Body: "Unauthenticated", Endpoint: "video.generate"}
	assert.Contains(t, err.Error(), AuthHint)

	other := &APIError{StatusCode: http.StatusBadRequest, Body: "bad", Endpoint: "video.generate"}
	assert.NotContains(t, other.Error(), AuthHint)
}

func TestSubmit_ContextCancelled(t *testing.T) {
	client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Submit(ctx, SubmitRequest{Model: "a/b", Endpoint: usage.EndpointFaceExtract})
	require.Error(t, err)
	assert.Contains(t, err.Error(), usage.EndpointFaceExtract)
	assert.Len(t, tracker.snapshot(), 1)
}

func TestPoll_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus Status
		wantOutput []string
		wantError  string
	}{
		{"starting", `{"id":"p","status":"starting","output":null}`, StatusStarting, nil, ""},
		{"processing", `{"id":"p","status":"processing"}`, StatusProcessing, nil, ""},
		{"succeeded single output", `{"id":"p","status":"succeeded","output":"https://cdn/out.mp4"}`, StatusSucceeded, []string{"https://cdn/out.mp4"}, ""},
		{"succeeded list output", `{"id":"p","status":"succeeded","output":["https://cdn/a.png","https://cdn/b.png"]}`, StatusSucceeded, []string{"https://cdn/a.png", "https://cdn/b.png"}, ""},
		{"failed", `{"id":"p","status":"failed","error":"Unknown error"}`, StatusFailed, nil, "Unknown error"},
		{"canceled", `{"id":"p","status":"canceled","error":null}`, StatusCanceled, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/predictions/p", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := client.Poll(context.Background(), PollRequest{ID: "p", Endpoint: usage.EndpointVideoStatus})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantOutput, result.Output)
			assert.Equal(t, tt.wantError, result.Error)
		})
	}
}

func TestPollResult_FirstOutput(t *testing.T) {
	assert.Equal(t, "", PollResult{}.FirstOutput())
	assert.Equal(t, "a", PollResult{Output: []string{"a", "b"}}.FirstOutput())
}

func TestPoll_TracksRequestID(t *testing.T) {
	client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p-9","status":"processing"}`))
	})

	_, err := client.Poll(context.Background(), PollRequest{ID: "p-9", UserID: 3, Endpoint: usage.EndpointFaceSwapStatus})
	require.NoError(t, err)

	calls := tracker.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "p-9", calls[0].RequestID)
	assert.Equal(t, usage.EndpointFaceSwapStatus, calls[0].Endpoint)
	assert.Zero(t, calls[0].RequestBytes)
}

func TestPoll_EmptyID(t *testing.T) {
	client, _ := NewClient("test-token")

	_, err := client.Poll(context.Background(), PollRequest{})
	if !errors.Is(err, ErrPredictionIDRequired) {
		t.Errorf("expected ErrPredictionIDRequired, got %v", err)
	}
}

func TestPoll_UnexpectedOutputShape(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p","status":"succeeded","output":{"video":"x"}}`))
	})

	_, err := client.Poll(context.Background(), PollRequest{ID: "p"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unexpected output shape"))
}

func TestRetry_TransientFailure(t *testing.T) {
	var attempts int32

	client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("service unavailable"))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p","status":"succeeded","output":"https://cdn/x"}`))
	}, WithMaxRetries(3), WithBaseBackoff(10*time.Millisecond))

	result, err := client.Poll(context.Background(), PollRequest{ID: "p"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Len(t, tracker.snapshot(), 3, "every attempt is tracked")
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithMaxRetries(2), WithBaseBackoff(10*time.Millisecond))

	_, err := client.Poll(context.Background(), PollRequest{ID: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetry_NonRetryableError(t *testing.T) {
	var attempts int32

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}, WithMaxRetries(3), WithBaseBackoff(10*time.Millisecond))

	_, err := client.Poll(context.Background(), PollRequest{ID: "p"})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestWithHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: 5 * time.Second}

	client, err := NewClient("test-token", WithHTTPClient(custom))
	require.NoError(t, err)
	if client.httpClient != custom {
		t.Error("expected custom HTTP client to be used")
	}
}
