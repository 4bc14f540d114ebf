// Package server provides the HTTP server for the face-swap API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/usage"
)

// CreateUserRequest is the HTTP request body for registering a user.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// CreateUploadRequest is the HTTP request body for submitting a recording.
type CreateUploadRequest struct {
	// UserID is the owner of the upload.
	UserID int64 `json:"userId" validate:"required,gt=0"`
	// VideoData is the recording as base64 or as a base64 data URI.
	VideoData string `json:"videoData" validate:"required"`
	// Metadata is stored alongside the upload.
	Metadata map[string]string `json:"metadata"`
}

// CreateUploadResponse is the HTTP response after accepting an upload.
type CreateUploadResponse struct {
	UploadID int64  `json:"uploadId"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// UploadResponse is an upload decorated with a human-readable message.
type UploadResponse struct {
	*job.Upload
	Message string `json:"message"`
}

// CreateVideoRequest is the HTTP request body for generating a video.
type CreateVideoRequest struct {
	UserID         int64   `json:"userId" validate:"required,gt=0"`
	Prompt         string  `json:"prompt" validate:"required,max=2000"`
	Title          string  `json:"title" validate:"max=120"`
	NegativePrompt string  `json:"negativePrompt" validate:"max=2000"`
	AspectRatio    string  `json:"aspectRatio" validate:"omitempty,oneof=16:9 9:16 1:1"`
	Duration       int     `json:"duration" validate:"omitempty,min=1,max=10"`
	CfgScale       float64 `json:"cfgScale" validate:"omitempty,gte=0,lte=1"`
	Email          string  `json:"email" validate:"omitempty,email"`
}

// VideoResponse is a video decorated with hints for the polling client.
type VideoResponse struct {
	*job.Video
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	// CheckError is set when the provider could not be reached; the video is unchanged.
	CheckError string `json:"checkError,omitempty"`
}

// VideosResponse lists a user's videos.
type VideosResponse struct {
	Videos []*job.Video `json:"videos"`
}

// UploadsResponse lists a user's uploads.
type UploadsResponse struct {
	Uploads []*job.Upload `json:"uploads"`
}

// UsageResponse is a user's usage summary with the underlying records.
type UsageResponse struct {
	UserID  int64              `json:"userId"`
	Summary usage.Summary      `json:"summary"`
	Records []*job.UsageRecord `json:"records"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
