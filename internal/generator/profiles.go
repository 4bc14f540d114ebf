package generator

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ErrUnknownProfile is returned when a model is assigned to a profile that does not exist.
var ErrUnknownProfile = errors.New("generator: unknown payload profile")

// Profile names a payload shape for video generation models.
type Profile string

// Known payload profiles.
const (
	ProfileGeneric Profile = "generic" // prompt plus the common optional fields
	ProfileMinimal Profile = "minimal" // prompt only
	ProfileMinimax Profile = "minimax" // prompt with the provider's prompt optimizer
	ProfileKling   Profile = "kling"   // prompt with negative prompt, aspect ratio, duration and cfg scale
)

// VideoRequest holds the user-facing generation parameters.
type VideoRequest struct {
	UserID         int64
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Duration       int
	CfgScale       float64
}

// PayloadBuilder turns a request into a model input.
type PayloadBuilder func(VideoRequest) map[string]any

var builders = map[Profile]PayloadBuilder{
	ProfileGeneric: genericPayload,
	ProfileMinimal: func(r VideoRequest) map[string]any {
		return map[string]any{"prompt": r.Prompt}
	},
	ProfileMinimax: func(r VideoRequest) map[string]any {
		return map[string]any{"prompt": r.Prompt, "prompt_optimizer": true}
	},
	ProfileKling: func(r VideoRequest) map[string]any {
		in := genericPayload(r)
		if r.NegativePrompt != "" {
			in["negative_prompt"] = r.NegativePrompt
		}
		if r.CfgScale > 0 {
			in["cfg_scale"] = r.CfgScale
		}
		return in
	},
}

func genericPayload(r VideoRequest) map[string]any {
	in := map[string]any{"prompt": r.Prompt}
	if r.AspectRatio != "" {
		in["aspect_ratio"] = r.AspectRatio
	}
	if r.Duration > 0 {
		in["duration"] = r.Duration
	}
	return in
}

// defaultAssignments maps the bundled model ids to their profiles.
var defaultAssignments = map[string]Profile{
	"kwaivgi/kling-v1.6-standard":  ProfileKling,
	"kwaivgi/kling-v1.6-pro":       ProfileKling,
	"kwaivgi/kling-v2.1":           ProfileKling,
	"minimax/video-01":             ProfileMinimax,
	"minimax/video-01-live":        ProfileMinimax,
	"anotherjesse/zeroscope-v2-xl": ProfileMinimal,
}

// Profiles resolves a model id to its payload profile by exact key.
// Unknown models get the generic profile.
type Profiles struct {
	byModel map[string]Profile
}

// NewProfiles creates the profile table from the defaults plus extra
// model-to-profile assignments, which win over the defaults.
func NewProfiles(extra map[string]string) (*Profiles, error) {
	byModel := maps.Clone(defaultAssignments)
	for model, name := range extra {
		p := Profile(strings.TrimSpace(name))
		if _, ok := builders[p]; !ok {
			return nil, fmt.Errorf("%w %q for model %s", ErrUnknownProfile, name, model)
		}
		byModel[strings.TrimSpace(model)] = p
	}
	return &Profiles{byModel: byModel}, nil
}

// Lookup returns the profile for a model. A "owner/name:version" id is looked
// up by its full form first and then by "owner/name".
func (p *Profiles) Lookup(model string) Profile {
	if prof, ok := p.byModel[model]; ok {
		return prof
	}
	if name, _, ok := strings.Cut(model, ":"); ok {
		if prof, ok := p.byModel[name]; ok {
			return prof
		}
	}
	return ProfileGeneric
}

// Payload builds the model input for a request.
func (p *Profiles) Payload(model string, req VideoRequest) map[string]any {
	return builders[p.Lookup(model)](req)
}

// FaceExtractInput builds the input of the face extraction model.
func FaceExtractInput(imageURL string) map[string]any {
	return map[string]any{"image": imageURL}
}

// FaceSwapInput builds the input of the face swap model.
func FaceSwapInput(faceImageURL, targetVideoURL string) map[string]any {
	return map[string]any{
		"swap_image":   faceImageURL,
		"target_video": targetVideoURL,
	}
}
