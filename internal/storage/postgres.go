package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DCspare/StreamVault/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore persists archived file metadata in a JSONB-backed table.
type postgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL-backed Store, establishing a connection
// pool and initializing the schema.
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(connectCtx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	verifyIndexes(connectCtx, pool)

	return &postgresStore{db: pool}, nil
}

func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
		    channel_id       BIGINT NOT NULL,
		    msg_id           BIGINT NOT NULL,
		    file_unique_id   TEXT NOT NULL,
		    display_name     TEXT NOT NULL,
		    size_bytes       BIGINT NOT NULL,
		    kind             TEXT NOT NULL,
		    mime_type        TEXT NOT NULL,
		    duration_seconds INTEGER,
		    quality_label    TEXT,
		    source           TEXT NOT NULL,
		    external_url     TEXT,
		    uploaded_by      BIGINT NOT NULL,
		    created_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		    metadata         JSONB NOT NULL DEFAULT '{}',
		    PRIMARY KEY (channel_id, msg_id)
		);

		CREATE INDEX IF NOT EXISTS idx_files_uploaded_by_created_at ON files(uploaded_by, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_files_display_name_fts ON files USING GIN (to_tsvector('simple', display_name));
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// verifyIndexes checks that the expected indexes exist and logs a warning
// if they don't. It never aborts startup: a missing index degrades query
// performance but does not change correctness.
func verifyIndexes(ctx context.Context, db *pgxpool.Pool) {
	expected := []string{"idx_files_uploaded_by_created_at", "idx_files_display_name_fts"}
	for _, name := range expected {
		var exists bool
		err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`, name).Scan(&exists)
		if err != nil || !exists {
			slog.Warn("metadata store index missing", "index", name)
		}
	}
}

func (p *postgresStore) Close() {
	p.db.Close()
}

// PutFile upserts by (channel_id, msg_id): re-ingesting the same
// message replaces the stored record instead of erroring, so a retried
// forward never duplicates the archive entry.
func (p *postgresStore) PutFile(ctx context.Context, f model.ArchivedFile) error {
	metaJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO files (
		channel_id, msg_id, file_unique_id, display_name, size_bytes, kind, mime_type,
		duration_seconds, quality_label, source, external_url, uploaded_by, created_at, is_active, metadata
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (channel_id, msg_id) DO UPDATE SET
		file_unique_id   = EXCLUDED.file_unique_id,
		display_name     = EXCLUDED.display_name,
		size_bytes       = EXCLUDED.size_bytes,
		kind             = EXCLUDED.kind,
		mime_type        = EXCLUDED.mime_type,
		duration_seconds = EXCLUDED.duration_seconds,
		quality_label    = EXCLUDED.quality_label,
		source           = EXCLUDED.source,
		external_url     = EXCLUDED.external_url,
		uploaded_by      = EXCLUDED.uploaded_by,
		is_active        = EXCLUDED.is_active,
		metadata         = EXCLUDED.metadata`

	_, err = p.db.Exec(ctx, query,
		f.ChannelID, f.MsgID, f.FileUniqueID, f.DisplayName, f.SizeBytes, f.Kind, f.MimeType,
		f.DurationSeconds, f.QualityLabel, f.Source, f.ExternalURL, f.UploadedBy, f.CreatedAt, f.IsActive, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to put file: %w", err)
	}
	return nil
}

func (p *postgresStore) GetByMsgID(ctx context.Context, channelID, msgID int64) (*model.ArchivedFile, error) {
	query := `SELECT channel_id, msg_id, file_unique_id, display_name, size_bytes, kind, mime_type,
		duration_seconds, quality_label, source, external_url, uploaded_by, created_at, is_active, metadata
		FROM files WHERE channel_id = $1 AND msg_id = $2`

	var f model.ArchivedFile
	var metaJSON []byte
	err := p.db.QueryRow(ctx, query, channelID, msgID).Scan(
		&f.ChannelID, &f.MsgID, &f.FileUniqueID, &f.DisplayName, &f.SizeBytes, &f.Kind, &f.MimeType,
		&f.DurationSeconds, &f.QualityLabel, &f.Source, &f.ExternalURL, &f.UploadedBy, &f.CreatedAt, &f.IsActive, &metaJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &f.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &f, nil
}

func (p *postgresStore) ListByUser(ctx context.Context, query ListQuery) (*model.ListPage, error) {
	baseQuery := `SELECT channel_id, msg_id, file_unique_id, display_name, size_bytes, kind, mime_type,
		duration_seconds, quality_label, source, external_url, uploaded_by, created_at, is_active, metadata
		FROM files WHERE uploaded_by = $1 AND is_active = TRUE`
	args := []interface{}{query.UploadedBy}

	limit := clampLimit(query.Limit)
	pageNum := clampPage(query.Page)
	offset := (pageNum - 1) * limit

	baseQuery += " ORDER BY created_at DESC, msg_id DESC"
	baseQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit+1, offset)

	return p.runListQuery(ctx, baseQuery, args, pageNum, limit)
}

func (p *postgresStore) Search(ctx context.Context, query ListQuery) (*model.ListPage, error) {
	baseQuery := `SELECT channel_id, msg_id, file_unique_id, display_name, size_bytes, kind, mime_type,
		duration_seconds, quality_label, source, external_url, uploaded_by, created_at, is_active, metadata
		FROM files WHERE is_active = TRUE AND to_tsvector('simple', display_name) @@ plainto_tsquery('simple', $1)`
	args := []interface{}{query.Query}

	limit := clampLimit(query.Limit)
	pageNum := clampPage(query.Page)
	offset := (pageNum - 1) * limit

	baseQuery += " ORDER BY created_at DESC, msg_id DESC"
	baseQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit+1, offset)

	return p.runListQuery(ctx, baseQuery, args, pageNum, limit)
}

func (p *postgresStore) runListQuery(ctx context.Context, query string, args []interface{}, pageNum, limit int) (*model.ListPage, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []model.ArchivedFile
	for rows.Next() {
		var f model.ArchivedFile
		var metaJSON []byte
		if err := rows.Scan(
			&f.ChannelID, &f.MsgID, &f.FileUniqueID, &f.DisplayName, &f.SizeBytes, &f.Kind, &f.MimeType,
			&f.DurationSeconds, &f.QualityLabel, &f.Source, &f.ExternalURL, &f.UploadedBy, &f.CreatedAt, &f.IsActive, &metaJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &f.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	page := &model.ListPage{Page: pageNum, PerPage: limit}
	if len(files) > limit {
		page.Files = files[:limit]
		page.HasMore = true
	} else {
		page.Files = files
	}
	return page, nil
}

func (p *postgresStore) SoftDelete(ctx context.Context, channelID, msgID int64) error {
	tag, err := p.db.Exec(ctx, `UPDATE files SET is_active = FALSE WHERE channel_id = $1 AND msg_id = $2`, channelID, msgID)
	if err != nil {
		return fmt.Errorf("failed to soft delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresStore) UpdateMetadata(ctx context.Context, channelID, msgID int64, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tag, err := p.db.Exec(ctx, `UPDATE files SET metadata = $1 WHERE channel_id = $2 AND msg_id = $3`, metaJSON, channelID, msgID)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
