// Package pipeline sequences the face-swap workflow: an uploaded recording is
// turned into a face image in the background, a video is generated from a
// prompt through the model fallback chain, and each status poll advances the
// video from generation to face swap to completion.
//
// Every transition is written with the record's expected version, and polls of
// the same video are serialized, so concurrent pollers cannot start the face
// swap twice.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maauso/faceswap-api/internal/generator"
	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/media"
	"github.com/maauso/faceswap-api/internal/notify"
	"github.com/maauso/faceswap-api/internal/storage"
	"github.com/maauso/faceswap-api/internal/usage"
)

var (
	// ErrValidation is returned when client input is malformed.
	ErrValidation = errors.New("pipeline: invalid input")
	// ErrFaceImageRequired is returned when a video is requested before a face was extracted.
	ErrFaceImageRequired = errors.New("pipeline: user has no face image yet")
)

// Notifier sends best-effort completion emails.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event, user *job.User, video *job.Video) bool
}

// VideoStarter submits a video generation job across a model fallback chain.
type VideoStarter interface {
	Generate(ctx context.Context, req generator.VideoRequest, primary string, backups []string) (generator.Handle, error)
}

// Config holds the pipeline settings.
type Config struct {
	VideoModel          string
	BackupModels        []string
	FaceExtractModel    string
	FaceSwapModel       string
	ExtractPollInterval time.Duration
	ExtractMaxAttempts  int
	FaceImageSize       int
	MaxUploadBytes      int64
}

// Deps groups the collaborators of the Service.
type Deps struct {
	Store     job.Store
	Generator generator.Generator
	Videos    VideoStarter
	Notifier  Notifier
	Media     media.Processor
	Storage   storage.Storage
	Tasks     *TaskGroup
}

// Service is the pipeline orchestrator.
type Service struct {
	cfg      Config
	store    job.Store
	gen      generator.Generator
	videos   VideoStarter
	notifier Notifier
	media    media.Processor
	storage  storage.Storage
	tasks    *TaskGroup
	locks    *keyedMutex
	logger   *slog.Logger
}

// NewService creates a pipeline orchestrator.
// A nil Tasks group is replaced by a fresh one.
func NewService(cfg Config, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Tasks == nil {
		deps.Tasks = NewTaskGroup(logger)
	}
	if cfg.ExtractMaxAttempts <= 0 {
		cfg.ExtractMaxAttempts = 1
	}
	if cfg.FaceImageSize <= 0 {
		cfg.FaceImageSize = 512
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		gen:      deps.Generator,
		videos:   deps.Videos,
		notifier: deps.Notifier,
		media:    deps.Media,
		storage:  deps.Storage,
		tasks:    deps.Tasks,
		locks:    newKeyedMutex(),
		logger:   logger,
	}
}

// Tasks returns the group running the background work of the service.
func (s *Service) Tasks() *TaskGroup {
	return s.tasks
}

// RegisterUser creates a user that has not uploaded a recording yet.
func (s *Service) RegisterUser(ctx context.Context, username, email string) (*job.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}

	u, err := s.store.CreateUser(ctx, job.NewUser(username, strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.Int64("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return u, nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*job.User, error) {
	return s.store.GetUser(ctx, id)
}

// ListUserVideos returns the user's videos, newest first.
func (s *Service) ListUserVideos(ctx context.Context, userID int64) ([]*job.Video, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListVideosByUser(ctx, userID)
}

// ListUserUploads returns the user's uploads, newest first.
func (s *Service) ListUserUploads(ctx context.Context, userID int64) ([]*job.Upload, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListUploadsByUser(ctx, userID)
}

// UsageReport is a user's usage summary together with the raw records.
type UsageReport struct {
	UserID  int64
	Summary usage.Summary
	Records []*job.UsageRecord
}

// UsageSummary aggregates every external call recorded for the user.
func (s *Service) UsageSummary(ctx context.Context, userID int64) (*UsageReport, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	records, err := s.store.ListUsageByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return &UsageReport{UserID: userID, Summary: usage.Summarize(records), Records: records}, nil
}

// notifyAsync sends the email on the task group so the caller never waits on SMTP.
func (s *Service) notifyAsync(event notify.Event, userID int64, video *job.Video) {
	if s.notifier == nil {
		return
	}
	s.tasks.Go("notify."+string(event), func(ctx context.Context) error {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("load user for notification: %w", err)
		}
		s.notifier.Notify(ctx, event, user, video)
		return nil
	}, nil)
}
