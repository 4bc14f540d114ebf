// Package media provides the ffmpeg-based video and image operations used
// to capture a face frame from an uploaded recording.
package media

import (
	"context"
	"time"
)

// Processor defines the interface for image and video processing operations.
type Processor interface {
	// GetMediaDuration returns the duration of a media file.
	GetMediaDuration(ctx context.Context, path string) (time.Duration, error)

	// ExtractFrame captures the frame at offset at from a video as a PNG image.
	// Offsets past the end of the clip fall back to the last frame.
	ExtractFrame(ctx context.Context, videoPath string, at time.Duration) ([]byte, error)

	// ResizeImageWithPadding resizes an image to the specified dimensions while
	// maintaining aspect ratio. Black padding is added to fill any remaining space.
	// The source image is read from src and the result is written to dst.
	ResizeImageWithPadding(ctx context.Context, src, dst string, w, h int) error
}

// FrameOffset picks where to capture the face frame: one second in, or the
// middle of clips shorter than two seconds.
func FrameOffset(duration time.Duration) time.Duration {
	if duration <= 0 {
		return 0
	}
	return min(time.Second, duration/2)
}
