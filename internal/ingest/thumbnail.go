package ingest

import (
	"context"
	"fmt"

	"github.com/DCspare/StreamVault/internal/media"
	"github.com/DCspare/StreamVault/internal/model"
	"github.com/google/uuid"
)

// ThumbnailUploader stores a poster-frame image out of band from the
// archive channel and returns the object key it was stored under.
type ThumbnailUploader interface {
	UploadThumbnail(ctx context.Context, data []byte, contentType string) (objectKey string, err error)
}

// thumbnailStore adapts media.S3Client to ThumbnailUploader, minting a
// collision-free object key per upload.
type thumbnailStore struct {
	s3 *media.S3Client
}

// NewThumbnailUploader wraps an S3Client for use by Indexer. Pass nil
// to disable thumbnail storage entirely.
func NewThumbnailUploader(s3Client *media.S3Client) ThumbnailUploader {
	if s3Client == nil {
		return nil
	}
	return &thumbnailStore{s3: s3Client}
}

func (t *thumbnailStore) UploadThumbnail(ctx context.Context, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("thumbnails/%s", uuid.New().String())
	if err := t.s3.PutThumbnail(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// AttachThumbnail uploads data as file's poster frame and records the
// resulting object key on ArchivedFile.Metadata, persisting the update.
// Called by the bot-command layer once yt-dlp's --write-thumbnail
// output (or a Telegram-supplied photo sidecar) is available, which is
// after HandleUpload/HandleURL have already indexed the file.
func (idx *Indexer) AttachThumbnail(ctx context.Context, file *model.ArchivedFile, data []byte, contentType string) error {
	if idx.thumbnails == nil {
		return nil
	}

	key, err := idx.thumbnails.UploadThumbnail(ctx, data, contentType)
	if err != nil {
		idx.metrics.IngestTotal.WithLabelValues("thumbnail", "upload_failed").Inc()
		return fmt.Errorf("ingest: upload thumbnail: %w", err)
	}

	if file.Metadata == nil {
		file.Metadata = make(map[string]interface{})
	}
	file.Metadata["thumbnail_key"] = key

	if err := idx.store.UpdateMetadata(ctx, file.ChannelID, file.MsgID, file.Metadata); err != nil {
		idx.metrics.IngestTotal.WithLabelValues("thumbnail", "store_failed").Inc()
		return fmt.Errorf("ingest: persist thumbnail reference: %w", err)
	}
	idx.metrics.IngestTotal.WithLabelValues("thumbnail", "ok").Inc()
	return nil
}
