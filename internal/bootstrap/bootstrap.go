// Package bootstrap provides dependency initialization for the face swap API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/faceswap-api/internal/config"
	"github.com/maauso/faceswap-api/internal/generator"
	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/media"
	"github.com/maauso/faceswap-api/internal/metrics"
	"github.com/maauso/faceswap-api/internal/notify"
	"github.com/maauso/faceswap-api/internal/pipeline"
	"github.com/maauso/faceswap-api/internal/replicate"
	"github.com/maauso/faceswap-api/internal/storage"
	"github.com/maauso/faceswap-api/internal/usage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service *pipeline.Service
	Metrics *metrics.Metrics
	Tasks   *pipeline.TaskGroup

	// MediaDir is the directory served under /media, empty when media is
	// published to S3.
	MediaDir string

	closers []func()
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Metrics: metrics.New()}

	store, err := initStore(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	ledger := usage.NewLedger(store, deps.Metrics, logger)

	client, err := replicate.NewClient(cfg.ReplicateAPIToken,
		replicate.WithBaseURL(cfg.ReplicateBaseURL),
		replicate.WithHTTPClient(&http.Client{Timeout: cfg.ProviderTimeout()}),
		replicate.WithUsageTracker(ledger),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("create Replicate client: %w", err)
	}
	gen := generator.NewReplicateAdapter(client)

	profiles, err := generator.NewProfiles(cfg.VideoModelProfiles)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("load model profiles: %w", err)
	}

	files, mediaDir, err := initStorage(ctx, cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.MediaDir = mediaDir

	dispatcher := notify.NewDispatcher(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)

	deps.Tasks = pipeline.NewTaskGroup(logger)
	deps.Service = pipeline.NewService(pipeline.Config{
		VideoModel:          cfg.VideoModel,
		BackupModels:        cfg.VideoBackupModels,
		FaceExtractModel:    cfg.FaceExtractModel,
		FaceSwapModel:       cfg.FaceSwapModel,
		ExtractPollInterval: cfg.ExtractPollInterval(),
		ExtractMaxAttempts:  cfg.ExtractMaxAttempts,
		FaceImageSize:       cfg.FaceImageSize,
		MaxUploadBytes:      cfg.MaxUploadBytes,
	}, pipeline.Deps{
		Store:     store,
		Generator: gen,
		Videos:    generator.NewFallback(gen, profiles, logger),
		Notifier:  dispatcher,
		Media:     media.NewFFmpegProcessor(""),
		Storage:   files,
		Tasks:     deps.Tasks,
	}, logger)

	return deps, nil
}

// initStore selects PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func initStore(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (job.Store, error) {
	if !cfg.PostgresEnabled() {
		logger.Info("in-memory store configured, data is lost on restart")
		return job.NewMemoryStore(), nil
	}

	pool, err := job.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	deps.closers = append(deps.closers, pool.Close)

	store := job.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("PostgreSQL store configured")
	return store, nil
}

// initStorage creates the appropriate storage backend based on configuration.
// The returned directory is where locally published media lives.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, string, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, "", fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, "", nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
		slog.String("public_dir", localStore.PublicDir()),
	)
	return localStore, localStore.PublicDir(), nil
}
