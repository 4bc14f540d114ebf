package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/faceswap-api/internal/usage"
)

// ErrNoModels is returned when neither a primary nor a backup model is given.
var ErrNoModels = errors.New("generator: no video models configured")

// Handle identifies an accepted generation job and the model that accepted it.
type Handle struct {
	ID    string
	Model string
}

// Attempt is one failed submission in a fallback run.
type Attempt struct {
	Model string
	Err   error
}

// FallbackError is returned when every model in the chain failed.
// Its message lists every failure in attempt order.
type FallbackError struct {
	Attempts []Attempt
}

func (e *FallbackError) Error() string {
	reasons := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		reasons[i] = fmt.Sprintf("%s: %v", a.Model, a.Err)
	}
	return fmt.Sprintf("all %d video models failed: %s", len(e.Attempts), strings.Join(reasons, "; "))
}

// Unwrap exposes every attempt error to errors.Is and errors.As.
func (e *FallbackError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Fallback submits a video job to the primary model and then to each backup
// in order, stopping at the first model that accepts the job.
type Fallback struct {
	gen      Generator
	profiles *Profiles
	logger   *slog.Logger
}

// NewFallback creates a fallback selector.
func NewFallback(gen Generator, profiles *Profiles, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{gen: gen, profiles: profiles, logger: logger}
}

// Generate submits req to primary, then to backups in list order.
func (f *Fallback) Generate(ctx context.Context, req VideoRequest, primary string, backups []string) (Handle, error) {
	models := make([]string, 0, 1+len(backups))
	for _, m := range append([]string{primary}, backups...) {
		if m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return Handle{}, ErrNoModels
	}

	var failed FallbackError
	for i, model := range models {
		id, err := f.gen.Submit(ctx, Job{
			Model:    model,
			Input:    f.profiles.Payload(model, req),
			UserID:   req.UserID,
			Endpoint: usage.EndpointVideoGenerate,
		})
		if err == nil {
			if i > 0 {
				f.logger.Info("video generation accepted by backup model",
					slog.String("model", model),
					slog.Int("attempt", i+1),
				)
			}
			return Handle{ID: id, Model: model}, nil
		}

		f.logger.Warn("video generation submit failed",
			slog.String("model", model),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()),
		)
		failed.Attempts = append(failed.Attempts, Attempt{Model: model, Err: err})

		if ctx.Err() != nil {
			break
		}
	}

	return Handle{}, &failed
}
