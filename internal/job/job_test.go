package job

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewUser(t *testing.T) {
	u := NewUser("alice", "alice@example.com")

	if u.ProcessingStatus != FaceNotStarted {
		t.Errorf("expected status %s, got %s", FaceNotStarted, u.ProcessingStatus)
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestNewUpload(t *testing.T) {
	u := NewUpload(7, "[stored]", nil)

	if u.ProcessingStatus != UploadPending {
		t.Errorf("expected status %s, got %s", UploadPending, u.ProcessingStatus)
	}
	if u.Metadata == nil {
		t.Error("expected Metadata to be initialized")
	}
	if u.UserID != 7 {
		t.Errorf("expected user 7, got %d", u.UserID)
	}
}

func TestNewVideo(t *testing.T) {
	v := NewVideo(3)

	if v.Status != VideoProcessing {
		t.Errorf("expected status %s, got %s", VideoProcessing, v.Status)
	}
	if v.InSwapPhase() {
		t.Error("new video should be in the generation phase")
	}
}

func TestUploadStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from UploadStatus
		to   UploadStatus
		want bool
	}{
		{"pending to processing", UploadPending, UploadProcessing, true},
		{"pending to failed", UploadPending, UploadFailed, true},
		{"processing to completed", UploadProcessing, UploadCompleted, true},
		{"processing to failed", UploadProcessing, UploadFailed, true},
		{"pending to completed", UploadPending, UploadCompleted, false},
		{"completed to processing", UploadCompleted, UploadProcessing, false},
		{"failed to completed", UploadFailed, UploadCompleted, false},
		{"unknown from", UploadStatus("bogus"), UploadCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestVideoStatus_CannotLeaveTerminalState(t *testing.T) {
	all := []VideoStatus{VideoProcessing, VideoCompleted, VideoFailed}
	for _, terminal := range []VideoStatus{VideoCompleted, VideoFailed} {
		if !terminal.IsTerminal() {
			t.Errorf("expected %s to be terminal", terminal)
		}
		for _, target := range all {
			if terminal.CanTransition(target) {
				t.Errorf("expected %s -> %s to be rejected", terminal, target)
			}
		}
	}
	if VideoProcessing.IsTerminal() {
		t.Error("processing must not be terminal")
	}
}

func TestVideo_Clone(t *testing.T) {
	done := time.Now()
	v := &Video{ID: 1, CompletedAt: &done}

	c := v.Clone()
	*c.CompletedAt = done.Add(time.Hour)

	if !v.CompletedAt.Equal(done) {
		t.Error("modifying clone should not affect original")
	}
}

func TestUpload_Clone(t *testing.T) {
	u := &Upload{ID: 1, Metadata: map[string]string{"a": "1"}}

	c := u.Clone()
	c.Metadata["a"] = "2"

	if u.Metadata["a"] != "1" {
		t.Error("modifying clone metadata should not affect original")
	}
}

func TestUsageRecord_MarshalJSONReportsMilliseconds(t *testing.T) {
	rec := &UsageRecord{
		ID:       7,
		UserID:   3,
		Endpoint: "face-extract",
		Status:   UsageSuccess,
		Duration: 1500 * time.Millisecond,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got["durationMs"] != float64(1500) {
		t.Errorf("durationMs = %v, want 1500", got["durationMs"])
	}
	if got["endpoint"] != "face-extract" || got["userId"] != float64(3) {
		t.Errorf("unexpected fields: %v", got)
	}
	if _, ok := got["Duration"]; ok {
		t.Error("raw Duration must not be serialized")
	}
}
