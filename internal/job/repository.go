package job

import (
	"context"
	"errors"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned when a record cannot be found by ID.
	ErrNotFound = errors.New("job: record not found")
	// ErrConflict is returned when an update carries a stale ExpectedVersion.
	ErrConflict = errors.New("job: version conflict")
	// ErrUsernameTaken is returned when a username is already registered.
	ErrUsernameTaken = errors.New("job: username already taken")
)

// UserPatch is a partial update of a User. Nil fields are left unchanged.
type UserPatch struct {
	Email            *string
	FaceImageURL     *string
	ProcessingStatus *FaceStatus
}

// UploadPatch is a partial update of an Upload. Nil fields are left unchanged
// and Metadata is merged key by key into the stored map.
// A non-zero ExpectedVersion makes the update conditional on the stored version.
type UploadPatch struct {
	ProcessingStatus *UploadStatus
	FaceImageURL     *string
	ErrorMessage     *string
	Metadata         map[string]string
	ExpectedVersion  int64
}

// VideoPatch is a partial update of a Video. Nil fields are left unchanged.
// A non-zero ExpectedVersion makes the update conditional on the stored version.
type VideoPatch struct {
	Status          *VideoStatus
	VideoURL        *string
	RawVideoURL     *string
	ThumbnailURL    *string
	ErrorMessage    *string
	RequestID       *string
	Model           *string
	CompletedAt     *time.Time
	ExpectedVersion int64
}

// UserRepository persists users.
type UserRepository interface {
	// CreateUser assigns an ID and stores the user.
	// Returns ErrUsernameTaken if the username already exists.
	CreateUser(ctx context.Context, u *User) (*User, error)

	// GetUser returns ErrNotFound if the user does not exist.
	GetUser(ctx context.Context, id int64) (*User, error)

	// UpdateUser applies the patch and returns the updated user.
	UpdateUser(ctx context.Context, id int64, p UserPatch) (*User, error)
}

// UploadRepository persists uploads.
type UploadRepository interface {
	CreateUpload(ctx context.Context, u *Upload) (*Upload, error)
	GetUpload(ctx context.Context, id int64) (*Upload, error)

	// UpdateUpload applies the patch, bumps the version and returns the result.
	// Returns ErrConflict when p.ExpectedVersion is set and does not match.
	UpdateUpload(ctx context.Context, id int64, p UploadPatch) (*Upload, error)

	// ListUploadsByUser returns the user's uploads, newest first.
	ListUploadsByUser(ctx context.Context, userID int64) ([]*Upload, error)
}

// VideoRepository persists video generation jobs.
type VideoRepository interface {
	CreateVideo(ctx context.Context, v *Video) (*Video, error)
	GetVideo(ctx context.Context, id int64) (*Video, error)

	// UpdateVideo applies the patch, bumps the version and returns the result.
	// Returns ErrConflict when p.ExpectedVersion is set and does not match.
	UpdateVideo(ctx context.Context, id int64, p VideoPatch) (*Video, error)

	// ListVideosByUser returns the user's videos, newest first.
	ListVideosByUser(ctx context.Context, userID int64) ([]*Video, error)
}

// UsageRepository is the append-only store of external call records.
type UsageRepository interface {
	AppendUsage(ctx context.Context, r *UsageRecord) error
	ListUsageByUser(ctx context.Context, userID int64) ([]*UsageRecord, error)
}

// Store groups every repository the service needs.
type Store interface {
	UserRepository
	UploadRepository
	VideoRepository
	UsageRepository
}

func (p UserPatch) apply(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FaceImageURL != nil {
		u.FaceImageURL = *p.FaceImageURL
	}
	if p.ProcessingStatus != nil {
		u.ProcessingStatus = *p.ProcessingStatus
	}
	u.UpdatedAt = time.Now()
}

func (p UploadPatch) apply(u *Upload) {
	if p.ProcessingStatus != nil {
		u.ProcessingStatus = *p.ProcessingStatus
	}
	if p.FaceImageURL != nil {
		u.FaceImageURL = *p.FaceImageURL
	}
	if p.ErrorMessage != nil {
		u.ErrorMessage = *p.ErrorMessage
	}
	if len(p.Metadata) > 0 {
		if u.Metadata == nil {
			u.Metadata = make(map[string]string, len(p.Metadata))
		}
		maps.Copy(u.Metadata, p.Metadata)
	}
	u.Version++
	u.UpdatedAt = time.Now()
}

func (p VideoPatch) apply(v *Video) {
	if p.Status != nil {
		v.Status = *p.Status
	}
	if p.VideoURL != nil {
		v.VideoURL = *p.VideoURL
	}
	if p.RawVideoURL != nil {
		v.RawVideoURL = *p.RawVideoURL
	}
	if p.ThumbnailURL != nil {
		v.ThumbnailURL = *p.ThumbnailURL
	}
	if p.ErrorMessage != nil {
		v.ErrorMessage = *p.ErrorMessage
	}
	if p.RequestID != nil {
		v.RequestID = *p.RequestID
	}
	if p.Model != nil {
		v.Model = *p.Model
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		v.CompletedAt = &t
	}
	v.Version++
	v.UpdatedAt = time.Now()
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
