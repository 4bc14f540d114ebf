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
	"github.com/maauso/faceswap-api/internal/notify"
	"github.com/maauso/faceswap-api/internal/usage"
)

// Generation defaults applied when the client leaves a parameter out.
const (
	DefaultAspectRatio = "16:9"
	DefaultDuration    = 5
	DefaultCfgScale    = 0.5
	maxDuration        = 10
	maxPromptLength    = 2000
	maxTitleLength     = 120
)

var aspectRatios = map[string]bool{"16:9": true, "9:16": true, "1:1": true}

// CreateVideoInput holds the parameters of a generation request.
type CreateVideoInput struct {
	UserID         int64
	Title          string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Duration       int
	CfgScale       float64
	Email          string
}

// VideoResult is a video decorated with hints for the polling client.
// CheckError is set when the provider could not be asked for the status;
// the stored record is left untouched in that case.
type VideoResult struct {
	Video      *job.Video
	Progress   float64
	Message    string
	CheckError string
}

func (in *CreateVideoInput) normalize() error {
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.Title = strings.TrimSpace(in.Title)
	in.AspectRatio = strings.TrimSpace(in.AspectRatio)

	switch {
	case in.UserID <= 0:
		return fmt.Errorf("%w: userId is required", ErrValidation)
	case in.Prompt == "":
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	case len(in.Prompt) > maxPromptLength:
		return fmt.Errorf("%w: prompt is longer than %d characters", ErrValidation, maxPromptLength)
	case in.Duration < 0 || in.Duration > maxDuration:
		return fmt.Errorf("%w: duration must be between 1 and %d seconds", ErrValidation, maxDuration)
	case in.CfgScale < 0 || in.CfgScale > 1:
		return fmt.Errorf("%w: cfgScale must be between 0 and 1", ErrValidation)
	case in.AspectRatio != "" && !aspectRatios[in.AspectRatio]:
		return fmt.Errorf("%w: unsupported aspectRatio %q", ErrValidation, in.AspectRatio)
	}

	if in.AspectRatio == "" {
		in.AspectRatio = DefaultAspectRatio
	}
	if in.Duration == 0 {
		in.Duration = DefaultDuration
	}
	if in.CfgScale == 0 {
		in.CfgScale = DefaultCfgScale
	}
	if in.Title == "" {
		in.Title = in.Prompt
	}
	if r := []rune(in.Title); len(r) > maxTitleLength {
		in.Title = string(r[:maxTitleLength])
	}
	return nil
}

// CreateVideo records a video and synchronously submits it to the model
// fallback chain. A user without a face image is rejected before any
// external call. When every model fails the video is stored as failed and
// returned without an error.
func (s *Service) CreateVideo(ctx context.Context, in CreateVideoInput) (*VideoResult, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user.FaceImageURL == "" {
		return nil, ErrFaceImageRequired
	}

	v := job.NewVideo(in.UserID)
	v.Title = in.Title
	v.Prompt = in.Prompt
	v.NegativePrompt = in.NegativePrompt
	v.AspectRatio = in.AspectRatio
	v.Duration = in.Duration
	v.CfgScale = in.CfgScale
	v.NotificationEmail = strings.TrimSpace(in.Email)

	v, err = s.store.CreateVideo(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("create video: %w", err)
	}

	handle, genErr := s.videos.Generate(ctx, generator.VideoRequest{
		UserID:         in.UserID,
		Prompt:         in.Prompt,
		NegativePrompt: in.NegativePrompt,
		AspectRatio:    in.AspectRatio,
		Duration:       in.Duration,
		CfgScale:       in.CfgScale,
	}, s.cfg.VideoModel, s.cfg.BackupModels)

	patch := job.VideoPatch{ExpectedVersion: v.Version}
	if genErr != nil {
		s.logger.Error("video generation could not be started",
			slog.Int64("video_id", v.ID),
			slog.String("error", genErr.Error()),
		)
		patch.Status = job.Ptr(job.VideoFailed)
		patch.ErrorMessage = job.Ptr(genErr.Error())
		patch.CompletedAt = job.Ptr(time.Now())
	} else {
		s.logger.Info("video generation started",
			slog.Int64("video_id", v.ID),
			slog.String("model", handle.Model),
			slog.String("request_id", handle.ID),
		)
		patch.RequestID = &handle.ID
		patch.Model = &handle.Model
	}

	updated, err := s.store.UpdateVideo(ctx, v.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("record generation start: %w", err)
	}
	return s.videoResult(updated, ""), nil
}

// CheckVideo reports the state of a video and advances it when the
// outstanding provider job finished. Terminal videos are returned as stored
// without any external call. Provider errors are reported in CheckError.
func (s *Service) CheckVideo(ctx context.Context, id int64) (*VideoResult, error) {
	v, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status.IsTerminal() {
		return s.videoResult(v, ""), nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	// Another poller may have advanced the video while we waited.
	v, err = s.store.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status.IsTerminal() {
		return s.videoResult(v, ""), nil
	}
	if v.RequestID == "" {
		return s.videoResult(v, "no provider job is recorded for this video"), nil
	}

	endpoint := usage.EndpointVideoStatus
	if v.InSwapPhase() {
		endpoint = usage.EndpointFaceSwapStatus
	}
	res, err := s.gen.Poll(ctx, generator.PollRequest{ID: v.RequestID, UserID: v.UserID, Endpoint: endpoint})
	if err != nil {
		s.logger.Warn("video status check failed",
			slog.Int64("video_id", v.ID),
			slog.String("request_id", v.RequestID),
			slog.String("error", err.Error()),
		)
		return s.videoResult(v, err.Error()), nil
	}

	switch res.Status {
	case generator.StatusSucceeded:
		if v.InSwapPhase() {
			return s.finishSwap(ctx, v, res.OutputURL)
		}
		return s.startSwap(ctx, v, res.OutputURL)
	case generator.StatusFailed:
		if v.InSwapPhase() {
			return s.complete(ctx, v, job.VideoPatch{
				VideoURL:     &v.RawVideoURL,
				ThumbnailURL: &v.RawVideoURL,
				ErrorMessage: job.Ptr(swapFailedPrefix + res.Error),
			})
		}
		return s.fail(ctx, v, res.Error)
	default:
		return s.videoResult(v, ""), nil
	}
}

// startSwap moves a freshly generated video into the swap phase. Users
// without a face image get the generated video as the final result.
func (s *Service) startSwap(ctx context.Context, v *job.Video, generatedURL string) (*VideoResult, error) {
	user, err := s.store.GetUser(ctx, v.UserID)
	if err != nil {
		return s.videoResult(v, fmt.Sprintf("load user: %v", err)), nil
	}
	if user.FaceImageURL == "" {
		return s.complete(ctx, v, job.VideoPatch{
			VideoURL:     &generatedURL,
			RawVideoURL:  &generatedURL,
			ThumbnailURL: &generatedURL,
		})
	}

	swapID, err := s.gen.Submit(ctx, generator.Job{
		Model:    s.cfg.FaceSwapModel,
		Input:    generator.FaceSwapInput(user.FaceImageURL, generatedURL),
		UserID:   v.UserID,
		Endpoint: usage.EndpointFaceSwap,
	})
	if err != nil {
		s.logger.Warn("face swap could not be started",
			slog.Int64("video_id", v.ID),
			slog.String("error", err.Error()),
		)
		return s.complete(ctx, v, job.VideoPatch{
			VideoURL:     &generatedURL,
			RawVideoURL:  &generatedURL,
			ThumbnailURL: &generatedURL,
			ErrorMessage: job.Ptr(swapNotStartedPrefix + err.Error()),
		})
	}

	updated, err := s.store.UpdateVideo(ctx, v.ID, job.VideoPatch{
		RawVideoURL:     &generatedURL,
		RequestID:       &swapID,
		ExpectedVersion: v.Version,
	})
	if err != nil {
		return s.afterWriteError(ctx, v, err)
	}

	s.logger.Info("face swap started",
		slog.Int64("video_id", v.ID),
		slog.String("request_id", swapID),
	)
	return s.videoResult(updated, ""), nil
}

func (s *Service) finishSwap(ctx context.Context, v *job.Video, swappedURL string) (*VideoResult, error) {
	patch := job.VideoPatch{VideoURL: &swappedURL}
	if v.ThumbnailURL == "" {
		patch.ThumbnailURL = &v.RawVideoURL
	}
	return s.complete(ctx, v, patch)
}

// complete finalizes the video as completed and sends the completion email.
func (s *Service) complete(ctx context.Context, v *job.Video, patch job.VideoPatch) (*VideoResult, error) {
	if !v.Status.CanTransition(job.VideoCompleted) {
		return s.videoResult(v, ""), nil
	}
	patch.Status = job.Ptr(job.VideoCompleted)
	patch.CompletedAt = job.Ptr(time.Now())
	patch.ExpectedVersion = v.Version

	updated, err := s.store.UpdateVideo(ctx, v.ID, patch)
	if err != nil {
		return s.afterWriteError(ctx, v, err)
	}

	s.logger.Info("video completed",
		slog.Int64("video_id", updated.ID),
		slog.Bool("swap_skipped", updated.ErrorMessage != ""),
	)
	s.notifyAsync(notify.EventGenerationComplete, updated.UserID, updated.Clone())
	return s.videoResult(updated, ""), nil
}

func (s *Service) fail(ctx context.Context, v *job.Video, reason string) (*VideoResult, error) {
	if !v.Status.CanTransition(job.VideoFailed) {
		return s.videoResult(v, ""), nil
	}
	if reason == "" {
		reason = "video generation failed"
	}
	updated, err := s.store.UpdateVideo(ctx, v.ID, job.VideoPatch{
		Status:          job.Ptr(job.VideoFailed),
		ErrorMessage:    &reason,
		CompletedAt:     job.Ptr(time.Now()),
		ExpectedVersion: v.Version,
	})
	if err != nil {
		return s.afterWriteError(ctx, v, err)
	}

	s.logger.Warn("video generation failed",
		slog.Int64("video_id", v.ID),
		slog.String("error", reason),
	)
	return s.videoResult(updated, ""), nil
}

// afterWriteError resolves a failed transition write. A version conflict
// means another writer advanced the video, so its record is returned.
func (s *Service) afterWriteError(ctx context.Context, v *job.Video, err error) (*VideoResult, error) {
	if errors.Is(err, job.ErrConflict) {
		s.logger.Info("video advanced concurrently",
			slog.Int64("video_id", v.ID),
			slog.Int64("version", v.Version),
		)
		current, getErr := s.store.GetVideo(ctx, v.ID)
		if getErr == nil {
			return s.videoResult(current, ""), nil
		}
		err = getErr
	}
	s.logger.Error("failed to store video transition",
		slog.Int64("video_id", v.ID),
		slog.String("error", err.Error()),
	)
	return s.videoResult(v, err.Error()), nil
}

func (s *Service) videoResult(v *job.Video, checkErr string) *VideoResult {
	progress, msg := videoProgress(v)
	if checkErr != "" {
		msg = msgVideoCheckFailed
	}
	return &VideoResult{Video: v, Progress: progress, Message: msg, CheckError: checkErr}
}
