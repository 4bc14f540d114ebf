// Package job provides the persisted records of the face-swap pipeline:
// users, uploads awaiting face extraction, video generation jobs and the
// append-only usage ledger, together with their status state machines and
// the repository ports used to store them.
package job

import (
	"encoding/json"
	"errors"
	"maps"
	"time"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// FaceStatus is the personalization state of a User.
type FaceStatus string

const (
	// FaceNotStarted means the user never uploaded a recording.
	FaceNotStarted FaceStatus = "not_started"
	// FaceProcessing means an upload is being processed.
	FaceProcessing FaceStatus = "processing"
	// FaceCompleted means a face image is available.
	FaceCompleted FaceStatus = "completed"
	// FaceFailed means the latest extraction failed.
	FaceFailed FaceStatus = "failed"
)

// UploadStatus represents the processing state of an Upload.
type UploadStatus string

const (
	// UploadPending indicates the upload was recorded but not yet dispatched.
	UploadPending UploadStatus = "pending"
	// UploadProcessing indicates face extraction is running.
	UploadProcessing UploadStatus = "processing"
	// UploadCompleted indicates a face image was extracted.
	UploadCompleted UploadStatus = "completed"
	// UploadFailed indicates face extraction failed.
	UploadFailed UploadStatus = "failed"
)

// VideoStatus represents the state of a Video generation job.
type VideoStatus string

const (
	// VideoProcessing covers both the generation and the swap phase.
	VideoProcessing VideoStatus = "processing"
	// VideoCompleted indicates a final video URL is available.
	VideoCompleted VideoStatus = "completed"
	// VideoFailed indicates generation failed.
	VideoFailed VideoStatus = "failed"
)

// UsageStatus is the outcome of a single external call.
type UsageStatus string

const (
	// UsageSuccess marks a call that returned a 2xx response.
	UsageSuccess UsageStatus = "success"
	// UsageError marks a call that failed in transport or returned non-2xx.
	UsageError UsageStatus = "error"
)

// uploadTransitions defines which upload state transitions are allowed.
var uploadTransitions = map[UploadStatus][]UploadStatus{
	UploadPending:    {UploadProcessing, UploadFailed},
	UploadProcessing: {UploadCompleted, UploadFailed},
	UploadCompleted:  {},
	UploadFailed:     {},
}

// videoTransitions defines which video state transitions are allowed.
var videoTransitions = map[VideoStatus][]VideoStatus{
	VideoProcessing: {VideoCompleted, VideoFailed},
	VideoCompleted:  {},
	VideoFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition[S comparable](table map[S][]S, from, to S) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether an upload may move from one status to another.
func (s UploadStatus) CanTransition(to UploadStatus) bool {
	return canTransition(uploadTransitions, s, to)
}

// IsTerminal returns true if the upload reached completed or failed.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// CanTransition reports whether a video may move from one status to another.
func (s VideoStatus) CanTransition(to VideoStatus) bool {
	return canTransition(videoTransitions, s, to)
}

// IsTerminal returns true if the video reached completed or failed.
func (s VideoStatus) IsTerminal() bool {
	return s == VideoCompleted || s == VideoFailed
}

// User is an identity plus its derived personalization state.
type User struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email,omitempty"`
	FaceImageURL     string     `json:"faceImageUrl,omitempty"`
	ProcessingStatus FaceStatus `json:"processingStatus"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Upload is one submitted recording awaiting face extraction.
// VideoData only holds a marker; the payload itself is never persisted.
type Upload struct {
	ID               int64             `json:"id"`
	UserID           int64             `json:"userId"`
	VideoData        string            `json:"videoData"`
	ProcessingStatus UploadStatus      `json:"processingStatus"`
	FaceImageURL     string            `json:"faceImageUrl,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy of the upload.
func (u *Upload) Clone() *Upload {
	c := *u
	c.Metadata = maps.Clone(u.Metadata)
	return &c
}

// Video is one requested generation-plus-swap job.
//
// RequestID always refers to the currently outstanding provider job. While
// RawVideoURL is empty the job is in the generation phase; once it is set the
// RequestID points at the face-swap job instead.
type Video struct {
	ID                int64       `json:"id"`
	UserID            int64       `json:"userId"`
	Title             string      `json:"title"`
	Prompt            string      `json:"prompt"`
	NegativePrompt    string      `json:"negativePrompt,omitempty"`
	AspectRatio       string      `json:"aspectRatio"`
	Duration          int         `json:"duration"`
	CfgScale          float64     `json:"cfgScale"`
	NotificationEmail string      `json:"notificationEmail,omitempty"`
	Model             string      `json:"model,omitempty"`
	VideoURL          string      `json:"videoUrl,omitempty"`
	RawVideoURL       string      `json:"rawVideoUrl,omitempty"`
	ThumbnailURL      string      `json:"thumbnailUrl,omitempty"`
	Status            VideoStatus `json:"status"`
	ErrorMessage      string      `json:"errorMessage,omitempty"`
	RequestID         string      `json:"requestId,omitempty"`
	Version           int64       `json:"version"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// InSwapPhase reports whether the outstanding provider job is the face swap.
func (v *Video) InSwapPhase() bool {
	return v.RawVideoURL != ""
}

// Clone returns a deep copy of the video.
func (v *Video) Clone() *Video {
	c := *v
	if v.CompletedAt != nil {
		t := *v.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// UsageRecord is one entry per external API call attempt. Records are append-only.
type UsageRecord struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"userId"`
	Endpoint      string        `json:"endpoint"`
	RequestID     string        `json:"requestId,omitempty"`
	RequestBytes  int           `json:"requestBytes"`
	ResponseBytes int           `json:"responseBytes"`
	Status        UsageStatus   `json:"status"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	Duration      time.Duration `json:"-"`
	EstimatedCost float64       `json:"estimatedCost"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// MarshalJSON reports Duration as whole milliseconds under durationMs.
func (r UsageRecord) MarshalJSON() ([]byte, error) {
	type record UsageRecord
	return json.Marshal(struct {
		record
		DurationMs int64 `json:"durationMs"`
	}{record(r), r.Duration.Milliseconds()})
}

// NewUser creates a user that has not started personalization yet.
func NewUser(username, email string) *User {
	now := time.Now()
	return &User{
		Username:         username,
		Email:            email,
		ProcessingStatus: FaceNotStarted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewUpload creates an upload in the pending state.
func NewUpload(userID int64, marker string, metadata map[string]string) *Upload {
	now := time.Now()
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Upload{
		UserID:           userID,
		VideoData:        marker,
		ProcessingStatus: UploadPending,
		Metadata:         metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewVideo creates a video job in the processing state.
func NewVideo(userID int64) *Video {
	now := time.Now()
	return &Video{
		UserID:    userID,
		Status:    VideoProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
