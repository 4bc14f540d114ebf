package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/faceswap-api/internal/generator"
	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/job/id"
	"github.com/maauso/faceswap-api/internal/media"
	"github.com/maauso/faceswap-api/internal/notify"
	"github.com/maauso/faceswap-api/internal/usage"
)

// CreateUploadInput is a recording submitted by the client.
type CreateUploadInput struct {
	UserID int64
	// VideoData is the recording as base64 or as a base64 data URI.
	VideoData string
	Metadata  map[string]string
}

// UploadResult is an upload decorated with a message for the client.
type UploadResult struct {
	Upload  *job.Upload
	Message string
}

// extractionFailure carries the raw error text reported by the provider.
type extractionFailure struct {
	raw string
}

func (e *extractionFailure) Error() string {
	return "face extraction failed: " + e.raw
}

var videoExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"video/x-msvideo": ".avi",
}

// CreateUpload stores the recording, records the upload as processing and
// starts face extraction in the background. It returns without waiting for
// the extraction; the returned Task reports when it finished.
func (s *Service) CreateUpload(ctx context.Context, in CreateUploadInput) (*job.Upload, *Task, error) {
	if in.UserID <= 0 {
		return nil, nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(in.VideoData) == "" {
		return nil, nil, fmt.Errorf("%w: videoData is required", ErrValidation)
	}
	if _, err := s.store.GetUser(ctx, in.UserID); err != nil {
		return nil, nil, err
	}

	data, contentType, err := decodeVideoData(in.VideoData, s.cfg.MaxUploadBytes)
	if err != nil {
		return nil, nil, err
	}

	ext := videoExtensions[contentType]
	if ext == "" {
		ext = ".mp4"
	}
	videoPath, err := s.storage.SaveTemp(ctx, "upload"+ext, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("save upload: %w", err)
	}

	meta := maps.Clone(in.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta["content_type"] = contentType
	meta["size_bytes"] = strconv.Itoa(len(data))

	marker := fmt.Sprintf("[video data omitted: %d bytes]", len(data))
	up, err := s.store.CreateUpload(ctx, job.NewUpload(in.UserID, marker, meta))
	if err != nil {
		s.cleanup(videoPath)
		return nil, nil, fmt.Errorf("create upload: %w", err)
	}

	up, err = s.store.UpdateUpload(ctx, up.ID, job.UploadPatch{
		ProcessingStatus: job.Ptr(job.UploadProcessing),
		ExpectedVersion:  up.Version,
	})
	if err != nil {
		s.cleanup(videoPath)
		return nil, nil, fmt.Errorf("start upload processing: %w", err)
	}

	if _, err := s.store.UpdateUser(ctx, in.UserID, job.UserPatch{
		ProcessingStatus: job.Ptr(job.FaceProcessing),
	}); err != nil {
		s.logger.Warn("failed to mark user as processing",
			slog.Int64("user_id", in.UserID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("upload accepted",
		slog.Int64("upload_id", up.ID),
		slog.Int64("user_id", up.UserID),
		slog.Int("size_bytes", len(data)),
	)

	uploadID, userID := up.ID, up.UserID
	task := s.tasks.Go("face-extraction",
		func(ctx context.Context) error {
			defer s.cleanup(videoPath)
			return s.extractFace(ctx, uploadID, userID, videoPath)
		},
		func(ctx context.Context, err error) {
			s.failExtraction(ctx, uploadID, userID, err)
		},
	)
	if taskRejected(task) {
		s.cleanup(videoPath)
		return nil, nil, fmt.Errorf("start face extraction: %w", ErrTaskGroupClosed)
	}

	return up, task, nil
}

// taskRejected reports, without blocking, whether the group refused to run t.
func taskRejected(t *Task) bool {
	select {
	case <-t.Done():
		return errors.Is(t.Err(), ErrTaskGroupClosed)
	default:
		return false
	}
}

// GetUpload returns the upload with a message describing its state.
func (s *Service) GetUpload(ctx context.Context, id int64) (*UploadResult, error) {
	up, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	return &UploadResult{Upload: up, Message: uploadMessage(up)}, nil
}

func decodeVideoData(raw string, maxBytes int64) ([]byte, string, error) {
	contentType := "video/mp4"
	payload := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("%w: videoData must be a base64 data URI", ErrValidation)
		}
		if ct := strings.TrimSuffix(header, ";base64"); ct != "" {
			contentType = strings.ToLower(ct)
		}
		payload = body
	}

	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, "", fmt.Errorf("%w: videoData exceeds %d bytes", ErrValidation, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: videoData is not valid base64", ErrValidation)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: videoData is empty", ErrValidation)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%w: videoData exceeds %d bytes", ErrValidation, maxBytes)
	}
	return data, contentType, nil
}

// extractFace captures a frame from the recording, publishes it and runs the
// face extraction model on it. When the model does not finish within the
// polling window the captured frame itself becomes the face image.
func (s *Service) extractFace(ctx context.Context, uploadID, userID int64, videoPath string) error {
	frameURL, err := s.publishFrame(ctx, uploadID, videoPath)
	if err != nil {
		return err
	}

	predictionID, err := s.gen.Submit(ctx, generator.Job{
		Model:    s.cfg.FaceExtractModel,
		Input:    generator.FaceExtractInput(frameURL),
		UserID:   userID,
		Endpoint: usage.EndpointFaceExtract,
	})
	if err != nil {
		return &extractionFailure{raw: err.Error()}
	}

	s.logger.Info("face extraction submitted",
		slog.Int64("upload_id", uploadID),
		slog.String("prediction_id", predictionID),
	)

	for attempt := 1; attempt <= s.cfg.ExtractMaxAttempts; attempt++ {
		res, err := s.gen.Poll(ctx, generator.PollRequest{
			ID:       predictionID,
			UserID:   userID,
			Endpoint: usage.EndpointFaceExtractStatus,
		})
		switch {
		case err != nil:
			s.logger.Warn("face extraction poll failed",
				slog.Int64("upload_id", uploadID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		case res.Status.IsTerminal():
			if res.Status == generator.StatusFailed {
				return &extractionFailure{raw: res.Error}
			}
			return s.completeExtraction(ctx, uploadID, userID, res.OutputURL, nil)
		}

		if attempt == s.cfg.ExtractMaxAttempts {
			break
		}
		if err := sleep(ctx, s.cfg.ExtractPollInterval); err != nil {
			return err
		}
	}

	s.logger.Warn("face extraction did not finish in time, using captured frame",
		slog.Int64("upload_id", uploadID),
		slog.Int("attempts", s.cfg.ExtractMaxAttempts),
	)
	return s.completeExtraction(ctx, uploadID, userID, frameURL, map[string]string{
		metaExtractionFallback: placeholderMetaValue,
	})
}

// publishFrame captures a padded square frame and publishes it as PNG.
func (s *Service) publishFrame(ctx context.Context, uploadID int64, videoPath string) (string, error) {
	duration, err := s.media.GetMediaDuration(ctx, videoPath)
	if err != nil {
		s.logger.Warn("failed to probe upload duration",
			slog.Int64("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
		duration = 0
	}

	frame, err := s.media.ExtractFrame(ctx, videoPath, media.FrameOffset(duration))
	if err != nil {
		return "", fmt.Errorf("capture frame: %w", err)
	}

	rawPath, err := s.storage.SaveTemp(ctx, "frame.png", bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("save frame: %w", err)
	}
	squarePath := filepath.Join(filepath.Dir(rawPath), id.TempName(".png"))
	defer s.cleanup(rawPath, squarePath)

	size := s.cfg.FaceImageSize
	if err := s.media.ResizeImageWithPadding(ctx, rawPath, squarePath, size, size); err != nil {
		return "", fmt.Errorf("resize frame: %w", err)
	}

	r, err := s.storage.LoadTemp(ctx, squarePath)
	if err != nil {
		return "", fmt.Errorf("load frame: %w", err)
	}
	data, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}

	frameURL, err := s.storage.Publish(ctx, id.ObjectKey("frames", ".png"), "image/png", data)
	if err != nil {
		return "", fmt.Errorf("publish frame: %w", err)
	}

	if _, err := s.store.UpdateUpload(ctx, uploadID, job.UploadPatch{
		Metadata: map[string]string{metaFrameURL: frameURL},
	}); err != nil {
		s.logger.Warn("failed to record frame url",
			slog.Int64("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
	}
	return frameURL, nil
}

func (s *Service) completeExtraction(ctx context.Context, uploadID, userID int64, faceURL string, meta map[string]string) error {
	up, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}
	if !up.ProcessingStatus.CanTransition(job.UploadCompleted) {
		return fmt.Errorf("%w: upload %d is %s", job.ErrInvalidTransition, uploadID, up.ProcessingStatus)
	}

	// The user is written first so a completed upload always implies a
	// usable face image.
	user, err := s.store.UpdateUser(ctx, userID, job.UserPatch{
		FaceImageURL:     &faceURL,
		ProcessingStatus: job.Ptr(job.FaceCompleted),
	})
	if err != nil {
		return fmt.Errorf("update user face: %w", err)
	}

	if _, err := s.store.UpdateUpload(ctx, uploadID, job.UploadPatch{
		ProcessingStatus: job.Ptr(job.UploadCompleted),
		FaceImageURL:     &faceURL,
		Metadata:         meta,
		ExpectedVersion:  up.Version,
	}); err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}

	s.logger.Info("face extraction completed",
		slog.Int64("upload_id", uploadID),
		slog.Int64("user_id", userID),
		slog.Bool("placeholder", meta[metaExtractionFallback] == placeholderMetaValue),
	)

	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.EventExtractionComplete, user, nil)
	}
	return nil
}

// failExtraction records err on the upload unless it already reached a terminal state.
func (s *Service) failExtraction(ctx context.Context, uploadID, userID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	up, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		s.logger.Error("failed to load upload for failure",
			slog.Int64("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
		return
	}
	if up.ProcessingStatus.IsTerminal() {
		s.logger.Warn("upload already finished, dropping extraction error",
			slog.Int64("upload_id", uploadID),
			slog.String("status", string(up.ProcessingStatus)),
			slog.String("error", cause.Error()),
		)
		return
	}

	raw := cause.Error()
	var failure *extractionFailure
	if errors.As(cause, &failure) {
		raw = failure.raw
	}
	msg := extractionMessage(raw)

	if _, err := s.store.UpdateUpload(ctx, uploadID, job.UploadPatch{
		ProcessingStatus: job.Ptr(job.UploadFailed),
		ErrorMessage:     &msg,
		Metadata:         map[string]string{metaTechnicalError: raw},
		ExpectedVersion:  up.Version,
	}); err != nil {
		s.logger.Error("failed to mark upload as failed",
			slog.Int64("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := s.store.UpdateUser(ctx, userID, job.UserPatch{
		ProcessingStatus: job.Ptr(job.FaceFailed),
	}); err != nil {
		s.logger.Warn("failed to mark user face as failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) cleanup(paths ...string) {
	if err := s.storage.CleanupTemp(context.Background(), paths); err != nil {
		s.logger.Warn("failed to cleanup temp files", slog.String("error", err.Error()))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
