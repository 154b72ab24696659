// Package ingest drives the two ways a file enters the archive: a
// direct upload forwarded from a user's chat, or a fetch of an
// external short-URL via an injected downloader. Both paths converge
// on the same archive-channel forward, index write, and event publish.
package ingest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/DCspare/StreamVault/internal/event"
	"github.com/DCspare/StreamVault/internal/metrics"
	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/storage"
	"github.com/DCspare/StreamVault/internal/telegram"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrFileTooLarge is returned when a candidate exceeds the
	// configured size cap.
	ErrFileTooLarge = errors.New("ingest: file exceeds maximum size")
	// ErrDurationTooLong is returned when a video/audio candidate's
	// reported duration exceeds the configured cap.
	ErrDurationTooLong = errors.New("ingest: duration exceeds maximum")
	// ErrNotAURL is returned by HandleURL when no fetcher is configured,
	// so external URLs cannot be fetched at all.
	ErrNotAURL = errors.New("ingest: not a fetchable url")
)

// YtDLPFetcher resolves an external short-URL to a set of downloadable
// quality candidates and fetches one of them to a local path, reporting
// progress as it goes. The concrete implementation shells out to
// yt-dlp; kept as an injected collaborator since the binary itself is
// an external dependency outside this module's scope.
type YtDLPFetcher interface {
	// Probe resolves url to its available quality candidates without
	// downloading anything.
	Probe(ctx context.Context, url string) ([]model.QualityCandidate, error)
	// Fetch downloads formatID from url into destDir, invoking
	// onProgress with a 0-100 percentage as the download advances.
	// Returns the path to the downloaded file.
	Fetch(ctx context.Context, url, formatID, destDir string, onProgress func(percent int)) (path string, sizeBytes int64, durationSeconds int, err error)
}

// ProgressReporter edits a single in-flight status message. Implemented
// by messengerReporter (dispatch.go), which adapts a Messenger, so
// Indexer stays transport-agnostic.
type ProgressReporter interface {
	EditProgress(ctx context.Context, userID int64, text string) error
}

// Indexer wires together the telegram client, the metadata store, and
// the event publisher to turn a pending upload or URL into an
// ArchivedFile.
type Indexer struct {
	client     telegram.Client
	store      storage.Store
	publisher  event.Publisher
	fetcher    YtDLPFetcher
	limiter    *Limiter
	thumbnails ThumbnailUploader

	archiveChannelID int64
	maxFileSizeBytes int64
	maxDurationSec   int

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Config carries the settings Indexer needs beyond its collaborators.
type Config struct {
	ArchiveChannelID int64
	MaxFileSizeMB    int64
	MaxDurationHours float64
	Logger           *slog.Logger
}

// New constructs an Indexer. fetcher may be nil if external-URL ingest
// is disabled; HandleURL then always fails with ErrNotAURL. thumbnails
// may be nil to disable poster-frame storage entirely.
func New(client telegram.Client, store storage.Store, publisher event.Publisher, fetcher YtDLPFetcher, thumbnails ThumbnailUploader, cfg Config) *Indexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		client:           client,
		store:            store,
		publisher:        publisher,
		fetcher:          fetcher,
		limiter:          NewLimiter(progressEditWindow),
		thumbnails:       thumbnails,
		archiveChannelID: cfg.ArchiveChannelID,
		maxFileSizeBytes: cfg.MaxFileSizeMB * 1024 * 1024,
		maxDurationSec:   int(cfg.MaxDurationHours * 3600),
		metrics:          metrics.NewMetrics(),
		logger:           logger.With(slog.String("component", "ingest")),
	}
}

const progressEditWindow = time.Second

// UploadRequest describes a file a user has just sent in their chat
// with the bot, before it has been forwarded into the archive channel.
type UploadRequest struct {
	UserID      int64
	SrcChatID   int64
	SrcMsgID    int64
	FileID      string
	SizeBytes   int64
	Kind        model.Kind
	MimeType    string
	DisplayName string
}

// HandleUpload enforces the size cap, forwards the source message into
// the archive channel, registers it with the client's resolver (when
// supported), persists the indexed record, and publishes a
// FileArchived event.
func (idx *Indexer) HandleUpload(ctx context.Context, req UploadRequest) (*model.ArchivedFile, error) {
	if req.SizeBytes > idx.maxFileSizeBytes {
		idx.metrics.IngestTotal.WithLabelValues("upload", "rejected_size").Inc()
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, req.SizeBytes)
	}

	newMsgID, err := idx.client.ForwardToChannel(ctx, req.SrcChatID, req.SrcMsgID, idx.archiveChannelID)
	if err != nil {
		idx.metrics.IngestTotal.WithLabelValues("upload", "forward_failed").Inc()
		return nil, fmt.Errorf("ingest: forward upload: %w", err)
	}

	if reg, ok := idx.client.(telegram.Registrar); ok {
		reg.RegisterForwarded(idx.archiveChannelID, newMsgID, req.FileID, req.SizeBytes, req.Kind, req.MimeType, req.DisplayName)
	}

	file := model.ArchivedFile{
		ChannelID:    idx.archiveChannelID,
		MsgID:        newMsgID,
		FileUniqueID: req.FileID,
		DisplayName:  req.DisplayName,
		SizeBytes:    req.SizeBytes,
		Kind:         req.Kind,
		MimeType:     req.MimeType,
		Source:       model.SourceDirectUpload,
		UploadedBy:   req.UserID,
		IsActive:     true,
	}

	if err := idx.store.PutFile(ctx, file); err != nil {
		idx.metrics.IngestTotal.WithLabelValues("upload", "store_failed").Inc()
		return nil, fmt.Errorf("ingest: persist upload: %w", err)
	}

	idx.publishArchived(ctx, file)
	idx.metrics.IngestTotal.WithLabelValues("upload", "ok").Inc()
	return &file, nil
}

// URLRequest describes a user-chosen quality candidate of a
// previously probed external URL.
type URLRequest struct {
	UserID   int64
	URL      string
	FormatID string
	Label    string
}

// HandleURL downloads the chosen candidate to a scratch directory,
// forwards it as a document upload into the archive channel, and
// persists/publishes exactly like HandleUpload. Progress edits for
// userID are throttled through Indexer's rate limiter.
func (idx *Indexer) HandleURL(ctx context.Context, req URLRequest, reporter ProgressReporter) (*model.ArchivedFile, error) {
	if idx.fetcher == nil {
		return nil, ErrNotAURL
	}

	entropy := ulid.Monotonic(rand.Reader, 0)
	scratchName := "streamvault-fetch-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	scratchDir, err := os.MkdirTemp("", scratchName)
	if err != nil {
		return nil, fmt.Errorf("ingest: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	onProgress := func(percent int) {
		if reporter == nil {
			return
		}
		key := fmt.Sprintf("url:%d", req.UserID)
		if !idx.limiter.Allow(key) {
			return
		}
		_ = reporter.EditProgress(ctx, req.UserID, fmt.Sprintf("Downloading... %d%%", percent))
	}

	path, sizeBytes, durationSeconds, err := idx.fetcher.Fetch(ctx, req.URL, req.FormatID, scratchDir, onProgress)
	if err != nil {
		idx.metrics.IngestTotal.WithLabelValues("url", "fetch_failed").Inc()
		return nil, fmt.Errorf("ingest: fetch url: %w", err)
	}
	idx.limiter.Forget(fmt.Sprintf("url:%d", req.UserID))

	if sizeBytes > idx.maxFileSizeBytes {
		idx.metrics.IngestTotal.WithLabelValues("url", "rejected_size").Inc()
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, sizeBytes)
	}
	if idx.maxDurationSec > 0 && durationSeconds > idx.maxDurationSec {
		idx.metrics.IngestTotal.WithLabelValues("url", "rejected_duration").Inc()
		return nil, fmt.Errorf("%w: %ds", ErrDurationTooLong, durationSeconds)
	}

	msgID, fileID, err := idx.client.UploadDocument(ctx, idx.archiveChannelID, path, req.Label)
	if err != nil {
		idx.metrics.IngestTotal.WithLabelValues("url", "upload_failed").Inc()
		return nil, fmt.Errorf("ingest: upload fetched file: %w", err)
	}

	kind := model.KindVideo
	mimeType := "video/mp4"
	externalURL := req.URL
	label := req.Label

	file := model.ArchivedFile{
		ChannelID:    idx.archiveChannelID,
		MsgID:        msgID,
		FileUniqueID: fileID,
		DisplayName:  req.Label,
		SizeBytes:    sizeBytes,
		Kind:         kind,
		MimeType:     mimeType,
		DurationSeconds: durationPtr(durationSeconds),
		QualityLabel: &label,
		Source:       model.SourceExternalURL,
		ExternalURL:  &externalURL,
		UploadedBy:   req.UserID,
		IsActive:     true,
	}

	if err := idx.store.PutFile(ctx, file); err != nil {
		idx.metrics.IngestTotal.WithLabelValues("url", "store_failed").Inc()
		return nil, fmt.Errorf("ingest: persist fetched file: %w", err)
	}

	idx.publishArchived(ctx, file)
	idx.metrics.IngestTotal.WithLabelValues("url", "ok").Inc()
	return &file, nil
}

func durationPtr(seconds int) *int {
	if seconds <= 0 {
		return nil
	}
	return &seconds
}

func (idx *Indexer) publishArchived(ctx context.Context, file model.ArchivedFile) {
	if err := idx.publisher.PublishFileArchived(ctx, file); err != nil {
		idx.metrics.EventPublishTotal.WithLabelValues("file_archived", "failed").Inc()
		idx.logger.Error("publish file archived event failed",
			slog.Int64("channel_id", file.ChannelID), slog.Int64("msg_id", file.MsgID), slog.Any("error", err))
		return
	}
	idx.metrics.EventPublishTotal.WithLabelValues("file_archived", "ok").Inc()
}
