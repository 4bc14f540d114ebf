package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/pipeline"
)

// defaultMaxBodyBytes bounds request bodies when no limit is configured.
const defaultMaxBodyBytes = 96 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service      *pipeline.Service
	validator    *validator.Validate
	logger       *slog.Logger
	maxBodyBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxBodyBytes limits the size of JSON request bodies.
// Base64 inflates uploads by a third, so the limit should leave room for it.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *pipeline.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:      service,
		validator:    validator.New(),
		logger:       logger,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// handle adapts an outcome-returning handler to net/http.
func (h *Handlers) handle(fn func(r *http.Request) outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(r).write(w)
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateUser handles POST /users requests.
func (h *Handlers) CreateUser(r *http.Request) outcome {
	var req CreateUserRequest
	if o, ok := h.decode(r, &req); !ok {
		return o
	}

	u, err := h.service.RegisterUser(r.Context(), req.Username, req.Email)
	if err != nil {
		return h.failure(err, "create user")
	}
	return created(u)
}

// GetUser handles GET /users/{id} requests.
func (h *Handlers) GetUser(r *http.Request) outcome {
	id, o, ok := pathID(r)
	if !ok {
		return o
	}
	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		return h.failure(err, "get user")
	}
	return poll(u)
}

// ListUserVideos handles GET /users/{id}/videos requests.
func (h *Handlers) ListUserVideos(r *http.Request) outcome {
	id, o, ok := pathID(r)
	if !ok {
		return o
	}
	videos, err := h.service.ListUserVideos(r.Context(), id)
	if err != nil {
		return h.failure(err, "list videos")
	}
	return poll(VideosResponse{Videos: videos})
}

// ListUserUploads handles GET /users/{id}/uploads requests.
func (h *Handlers) ListUserUploads(r *http.Request) outcome {
	id, o, ok := pathID(r)
	if !ok {
		return o
	}
	uploads, err := h.service.ListUserUploads(r.Context(), id)
	if err != nil {
		return h.failure(err, "list uploads")
	}
	return poll(UploadsResponse{Uploads: uploads})
}

// GetUsage handles GET /users/{id}/api-usage requests.
func (h *Handlers) GetUsage(r *http.Request) outcome {
	id, o, ok := pathID(r)
	if !ok {
		return o
	}
	report, err := h.service.UsageSummary(r.Context(), id)
	if err != nil {
		return h.failure(err, "get usage")
	}
	return poll(UsageResponse{UserID: report.UserID, Summary: report.Summary, Records: report.Records})
}

// CreateUpload handles POST /uploads requests. Face extraction continues
// after the response is written.
func (h *Handlers) CreateUpload(r *http.Request) outcome {
	var req CreateUploadRequest
	if o, ok := h.decode(r, &req); !ok {
		return o
	}

	up, _, err := h.service.CreateUpload(r.Context(), pipeline.CreateUploadInput{
		UserID:    req.UserID,
		VideoData: req.VideoData,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return h.failure(err, "create upload")
	}

	return accepted(CreateUploadResponse{
		UploadID: up.ID,
		Status:   string(up.ProcessingStatus),
		Message:  "Upload received. Face extraction has started.",
	})
}

// GetUpload handles GET /uploads/{id} requests.
func (h *Handlers) GetUpload(r *http.Request) outcome {
	id, o, ok := pathID(r)
	if !ok {
		return o
	}
	res, err := h.service.GetUpload(r.Context(), id)
	if err != nil {
		return h.failure(err, "get upload")
	}
	return poll(UploadResponse{Upload: res.Upload, Message: res.Message})
}

// CreateVideo handles POST /videos requests. A video whose generation could
// not be started on any model is still accepted with status failed.
func (h *Handlers) CreateVideo(r *http.Request) outcome {
	var req CreateVideoRequest
	if o, ok := h.decode(r, &req); !ok {
		return o
	}

	res, err := h.service.CreateVideo(r.Context(), pipeline.CreateVideoInput{
		UserID:         req.UserID,
		Title:          req.Title,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Duration:       req.Duration,
		CfgScale:       req.CfgScale,
		Email:          req.Email,
	})
	if err != nil {
		return h.failure(err, "create video")
	}
	return accepted(videoResponse(res))
}

// GetVideo handles GET /videos/{id} requests and advances the pipeline.
func (h *Handlers) GetVideo(r *http.Request) outcome {
	id, o, ok := pathID(r)
	if !ok {
		return o
	}
	res, err := h.service.CheckVideo(r.Context(), id)
	if err != nil {
		return h.failure(err, "check video")
	}
	return poll(videoResponse(res))
}

func videoResponse(res *pipeline.VideoResult) VideoResponse {
	return VideoResponse{
		Video:      res.Video,
		Message:    res.Message,
		Progress:   res.Progress,
		CheckError: res.CheckError,
	}
}

// decode reads and validates a JSON body into dst.
func (h *Handlers) decode(r *http.Request, dst any) (outcome, bool) {
	body := http.MaxBytesReader(nil, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return rejected(http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE"), false
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		return rejected(http.StatusBadRequest, "invalid JSON body", "INVALID_JSON"), false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		return rejected(http.StatusBadRequest, err.Error(), "VALIDATION_ERROR"), false
	}
	return outcome{}, true
}

// failure maps a service error to an outcome.
func (h *Handlers) failure(err error, op string) outcome {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return rejected(http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, pipeline.ErrFaceImageRequired):
		return rejected(http.StatusBadRequest, "upload a video and wait for face extraction before generating videos", "FACE_IMAGE_REQUIRED")
	case errors.Is(err, job.ErrNotFound):
		return rejected(http.StatusNotFound, "not found", "NOT_FOUND")
	case errors.Is(err, job.ErrUsernameTaken):
		return rejected(http.StatusConflict, "username already taken", "USERNAME_TAKEN")
	case errors.Is(err, pipeline.ErrTaskGroupClosed):
		return rejected(http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
	}

	h.logger.Error("request failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return rejected(http.StatusInternalServerError, "failed to "+op, "INTERNAL_ERROR")
}

func pathID(r *http.Request) (int64, outcome, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, rejected(http.StatusBadRequest, "id must be a positive integer", "INVALID_ID"), false
	}
	return id, outcome{}, true
}
