package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                BIGSERIAL PRIMARY KEY,
	username          TEXT NOT NULL UNIQUE,
	email             TEXT NOT NULL DEFAULT '',
	face_image_url    TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'not_started',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS uploads (
	id                BIGSERIAL PRIMARY KEY,
	user_id           BIGINT NOT NULL REFERENCES users(id),
	video_data        TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL,
	face_image_url    TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	metadata          JSONB NOT NULL DEFAULT '{}',
	version           BIGINT NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS uploads_user_id_idx ON uploads (user_id);

CREATE TABLE IF NOT EXISTS videos (
	id                 BIGSERIAL PRIMARY KEY,
	user_id            BIGINT NOT NULL REFERENCES users(id),
	title              TEXT NOT NULL DEFAULT '',
	prompt             TEXT NOT NULL DEFAULT '',
	negative_prompt    TEXT NOT NULL DEFAULT '',
	aspect_ratio       TEXT NOT NULL DEFAULT '',
	duration           INTEGER NOT NULL DEFAULT 0,
	cfg_scale          DOUBLE PRECISION NOT NULL DEFAULT 0,
	notification_email TEXT NOT NULL DEFAULT '',
	model              TEXT NOT NULL DEFAULT '',
	video_url          TEXT NOT NULL DEFAULT '',
	raw_video_url      TEXT NOT NULL DEFAULT '',
	thumbnail_url      TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	error_message      TEXT NOT NULL DEFAULT '',
	request_id         TEXT NOT NULL DEFAULT '',
	version            BIGINT NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS videos_user_id_idx ON videos (user_id);

CREATE TABLE IF NOT EXISTS usage_records (
	id             BIGSERIAL PRIMARY KEY,
	user_id        BIGINT NOT NULL,
	endpoint       TEXT NOT NULL,
	request_id     TEXT NOT NULL DEFAULT '',
	request_bytes  INTEGER NOT NULL DEFAULT 0,
	response_bytes INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS usage_records_user_id_idx ON usage_records (user_id);
`

const (
	userColumns   = `id, username, email, face_image_url, processing_status, created_at, updated_at`
	uploadColumns = `id, user_id, video_data, processing_status, face_image_url, error_message, metadata, version, created_at, updated_at`
	videoColumns  = `id, user_id, title, prompt, negative_prompt, aspect_ratio, duration, cfg_scale, notification_email, model,
		video_url, raw_video_url, thumbnail_url, status, error_message, request_id, version, created_at, updated_at, completed_at`
	usageColumns = `id, user_id, endpoint, request_id, request_bytes, response_bytes, status, error_message, duration_ms, estimated_cost, created_at`
)

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on top of an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres parses the DSN, connects and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// CreateUser inserts a user and returns it with its assigned ID.
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) (*User, error) {
	q := `INSERT INTO users (username, email, processing_status)
		VALUES ($1, $2, $3) RETURNING ` + userColumns
	out, err := scanUser(s.pool.QueryRow(ctx, q, u.Username, u.Email, string(u.ProcessingStatus)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("inserting user %s: %w", u.Username, err)
	}
	return out, nil
}

// GetUser retrieves a user by its ID.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// UpdateUser applies a partial update to a user.
func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, p UserPatch) (*User, error) {
	b := newUpdate("users", id)
	b.setIf("email", p.Email)
	b.setIf("face_image_url", p.FaceImageURL)
	if p.ProcessingStatus != nil {
		b.set("processing_status", string(*p.ProcessingStatus))
	}
	q, args := b.build(false, 0, userColumns)
	u, err := scanUser(s.pool.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// CreateUpload inserts an upload with version 1.
func (s *PostgresStore) CreateUpload(ctx context.Context, u *Upload) (*Upload, error) {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return nil, err
	}
	q := `INSERT INTO uploads (user_id, video_data, processing_status, face_image_url, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb) RETURNING ` + uploadColumns
	out, err := scanUpload(s.pool.QueryRow(ctx, q,
		u.UserID, u.VideoData, string(u.ProcessingStatus), u.FaceImageURL, u.ErrorMessage, meta))
	if err != nil {
		return nil, fmt.Errorf("inserting upload for user %d: %w", u.UserID, err)
	}
	return out, nil
}

// GetUpload retrieves an upload by its ID.
func (s *PostgresStore) GetUpload(ctx context.Context, id int64) (*Upload, error) {
	q := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1`
	u, err := scanUpload(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "upload", id)
	}
	return u, nil
}

// UpdateUpload applies a partial, optionally version-checked update.
func (s *PostgresStore) UpdateUpload(ctx context.Context, id int64, p UploadPatch) (*Upload, error) {
	b := newUpdate("uploads", id)
	if p.ProcessingStatus != nil {
		b.set("processing_status", string(*p.ProcessingStatus))
	}
	b.setIf("face_image_url", p.FaceImageURL)
	b.setIf("error_message", p.ErrorMessage)
	if len(p.Metadata) > 0 {
		meta, err := encodeMetadata(p.Metadata)
		if err != nil {
			return nil, err
		}
		b.expr("metadata = metadata || $%d::jsonb", meta)
	}
	q, args := b.build(true, p.ExpectedVersion, uploadColumns)
	u, err := scanUpload(s.pool.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, s.conflictOrNotFound(ctx, err, "uploads", id)
	}
	return u, nil
}

// ListUploadsByUser returns the user's uploads, newest first.
func (s *PostgresStore) ListUploadsByUser(ctx context.Context, userID int64) ([]*Upload, error) {
	q := `SELECT ` + uploadColumns + ` FROM uploads WHERE user_id = $1 ORDER BY id DESC`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("listing uploads for user %d: %w", userID, err)
	}
	defer rows.Close()
	result := make([]*Upload, 0)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// CreateVideo inserts a video job with version 1.
func (s *PostgresStore) CreateVideo(ctx context.Context, v *Video) (*Video, error) {
	q := `INSERT INTO videos (user_id, title, prompt, negative_prompt, aspect_ratio, duration, cfg_scale,
			notification_email, model, status, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING ` + videoColumns
	out, err := scanVideo(s.pool.QueryRow(ctx, q,
		v.UserID, v.Title, v.Prompt, v.NegativePrompt, v.AspectRatio, v.Duration, v.CfgScale,
		v.NotificationEmail, v.Model, string(v.Status), v.RequestID))
	if err != nil {
		return nil, fmt.Errorf("inserting video for user %d: %w", v.UserID, err)
	}
	return out, nil
}

// GetVideo retrieves a video by its ID.
func (s *PostgresStore) GetVideo(ctx context.Context, id int64) (*Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	v, err := scanVideo(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "video", id)
	}
	return v, nil
}

// UpdateVideo applies a partial, optionally version-checked update.
func (s *PostgresStore) UpdateVideo(ctx context.Context, id int64, p VideoPatch) (*Video, error) {
	b := newUpdate("videos", id)
	if p.Status != nil {
		b.set("status", string(*p.Status))
	}
	b.setIf("video_url", p.VideoURL)
	b.setIf("raw_video_url", p.RawVideoURL)
	b.setIf("thumbnail_url", p.ThumbnailURL)
	b.setIf("error_message", p.ErrorMessage)
	b.setIf("request_id", p.RequestID)
	b.setIf("model", p.Model)
	if p.CompletedAt != nil {
		b.set("completed_at", *p.CompletedAt)
	}
	q, args := b.build(true, p.ExpectedVersion, videoColumns)
	v, err := scanVideo(s.pool.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, s.conflictOrNotFound(ctx, err, "videos", id)
	}
	return v, nil
}

// ListVideosByUser returns the user's videos, newest first.
func (s *PostgresStore) ListVideosByUser(ctx context.Context, userID int64) ([]*Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE user_id = $1 ORDER BY id DESC`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("listing videos for user %d: %w", userID, err)
	}
	defer rows.Close()
	result := make([]*Video, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning video: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// AppendUsage inserts one usage record.
func (s *PostgresStore) AppendUsage(ctx context.Context, r *UsageRecord) error {
	const q = `INSERT INTO usage_records (user_id, endpoint, request_id, request_bytes, response_bytes,
			status, error_message, duration_ms, estimated_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`
	err := s.pool.QueryRow(ctx, q,
		r.UserID, r.Endpoint, r.RequestID, r.RequestBytes, r.ResponseBytes,
		string(r.Status), r.ErrorMessage, r.Duration.Milliseconds(), r.EstimatedCost,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording usage for user %d: %w", r.UserID, err)
	}
	return nil
}

// ListUsageByUser returns the user's usage records in insertion order.
func (s *PostgresStore) ListUsageByUser(ctx context.Context, userID int64) ([]*UsageRecord, error) {
	q := `SELECT ` + usageColumns + ` FROM usage_records WHERE user_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("listing usage for user %d: %w", userID, err)
	}
	defer rows.Close()
	result := make([]*UsageRecord, 0)
	for rows.Next() {
		var (
			r          UsageRecord
			status     string
			durationMs int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Endpoint, &r.RequestID, &r.RequestBytes, &r.ResponseBytes,
			&status, &r.ErrorMessage, &durationMs, &r.EstimatedCost, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		r.Status = UsageStatus(status)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		result = append(result, &r)
	}
	return result, rows.Err()
}

// conflictOrNotFound tells a missing row apart from a stale version
// after a conditional UPDATE matched nothing.
func (s *PostgresStore) conflictOrNotFound(ctx context.Context, err error, table string, id int64) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("updating %s %d: %w", table, id, err)
	}
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if qerr := s.pool.QueryRow(ctx, q, id).Scan(&exists); qerr != nil {
		return fmt.Errorf("checking %s %d: %w", table, id, qerr)
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("loading %s %d: %w", what, id, err)
}

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

// update builds "UPDATE t SET ... WHERE id = $1 [AND version = $n] RETURNING ...".
type update struct {
	table string
	sets  []string
	args  []any
}

func newUpdate(table string, id int64) *update {
	return &update{table: table, args: []any{id}}
}

func (u *update) set(column string, v any) {
	u.args = append(u.args, v)
	u.sets = append(u.sets, fmt.Sprintf("%s = $%d", column, len(u.args)))
}

func (u *update) setIf(column string, v *string) {
	if v != nil {
		u.set(column, *v)
	}
}

// expr adds a SET clause whose single placeholder is formatted with %d.
func (u *update) expr(format string, v any) {
	u.args = append(u.args, v)
	u.sets = append(u.sets, fmt.Sprintf(format, len(u.args)))
}

func (u *update) build(versioned bool, expectedVersion int64, returning string) (string, []any) {
	sets := append(u.sets, "updated_at = now()")
	if versioned {
		sets = append(sets, "version = version + 1")
	}
	q := "UPDATE " + u.table + " SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	args := u.args
	if versioned && expectedVersion != 0 {
		args = append(args, expectedVersion)
		q += fmt.Sprintf(" AND version = $%d", len(args))
	}
	return q + " RETURNING " + returning, args
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u      User
		status string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FaceImageURL, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ProcessingStatus = FaceStatus(status)
	return &u, nil
}

func scanUpload(row pgx.Row) (*Upload, error) {
	var (
		u      Upload
		status string
		meta   []byte
	)
	if err := row.Scan(&u.ID, &u.UserID, &u.VideoData, &status, &u.FaceImageURL, &u.ErrorMessage,
		&meta, &u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ProcessingStatus = UploadStatus(status)
	u.Metadata = make(map[string]string)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &u, nil
}

func scanVideo(row pgx.Row) (*Video, error) {
	var (
		v      Video
		status string
	)
	if err := row.Scan(&v.ID, &v.UserID, &v.Title, &v.Prompt, &v.NegativePrompt, &v.AspectRatio, &v.Duration,
		&v.CfgScale, &v.NotificationEmail, &v.Model, &v.VideoURL, &v.RawVideoURL, &v.ThumbnailURL, &status,
		&v.ErrorMessage, &v.RequestID, &v.Version, &v.CreatedAt, &v.UpdatedAt, &v.CompletedAt); err != nil {
		return nil, err
	}
	v.Status = VideoStatus(status)
	return &v, nil
}
