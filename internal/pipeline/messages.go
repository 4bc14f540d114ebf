package pipeline

import (
	"strings"

	"github.com/maauso/faceswap-api/internal/job"
)

// User-facing texts shown by the polling client.
const (
	msgUploadProcessing  = "Your video is being processed. We are extracting your face."
	msgUploadCompleted   = "Face extracted successfully. You can now generate videos."
	msgUploadPlaceholder = "Face extraction took too long, so a frame from your video is used instead."
	msgExtractionRetry   = "Face extraction failed because of a temporary provider error. Please upload your video again."
	msgExtractionNoFace  = "We could not find a clear face. Make sure your face is well lit and fully visible, then record again."
	msgExtractionGeneric = "Face extraction failed. Please try again with a different video."
	msgVideoGenerating   = "Generating your video."
	msgVideoSwapping     = "Your video is generated. Applying your face now."
	msgVideoCompleted    = "Your video is ready."
	msgVideoSwapSkipped  = "Your video is ready, but the face swap could not be applied."
	msgVideoFailed       = "Video generation failed."
	msgVideoCheckFailed  = "We could not check the status right now. Please try again shortly."
)

// Prefixes of the error message stored on a degraded completion.
const (
	swapFailedPrefix     = "face swap failed, showing the generated video instead: "
	swapNotStartedPrefix = "face swap could not be started, showing the generated video instead: "
)

// Upload metadata keys and values.
const (
	metaTechnicalError     = "technical_error"
	metaExtractionFallback = "extraction_fallback"
	metaFrameURL           = "frame_url"
	placeholderMetaValue   = "placeholder"
)

// Progress markers reported to the polling client.
const (
	progressGenerating = 0.25
	progressSwapping   = 0.5
	progressDone       = 1.0
)

// extractionMessage maps a raw provider error to the text shown to the user.
func extractionMessage(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "unknown error"):
		return msgExtractionRetry
	case strings.Contains(lower, "422"), strings.Contains(lower, "unprocessable"):
		return msgExtractionNoFace
	default:
		return msgExtractionGeneric
	}
}

func uploadMessage(u *job.Upload) string {
	switch u.ProcessingStatus {
	case job.UploadCompleted:
		if u.Metadata[metaExtractionFallback] == placeholderMetaValue {
			return msgUploadPlaceholder
		}
		return msgUploadCompleted
	case job.UploadFailed:
		if u.ErrorMessage != "" {
			return u.ErrorMessage
		}
		return msgExtractionGeneric
	default:
		return msgUploadProcessing
	}
}

func videoProgress(v *job.Video) (float64, string) {
	switch v.Status {
	case job.VideoCompleted:
		if v.ErrorMessage != "" {
			return progressDone, msgVideoSwapSkipped
		}
		return progressDone, msgVideoCompleted
	case job.VideoFailed:
		return 0, msgVideoFailed
	default:
		if v.InSwapPhase() {
			return progressSwapping, msgVideoSwapping
		}
		return progressGenerating, msgVideoGenerating
	}
}
