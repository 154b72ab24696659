// Package telegram defines the capability set the streaming core needs
// from the upstream chat platform: fetching messages, forwarding uploads
// into the archive channel, and pulling a file's content in fixed-size
// chunks. The concrete implementation lives in botclient; tests use
// telegramtest.FakeClient.
package telegram

import (
	"context"
	"errors"

	"github.com/DCspare/StreamVault/internal/model"
)

// Sentinel errors a BlobIterator or Client method may return. The stream
// engine matches on these with errors.Is to decide which failure kind
// applies.
var (
	ErrMessageNotFound   = errors.New("telegram: message not found or has no media")
	ErrReferenceExpired  = errors.New("telegram: file reference expired")
	ErrBlobTimeout       = errors.New("telegram: blob fetch timed out")
	ErrNetworkTransient  = errors.New("telegram: transient network error")
	ErrFloodLimited      = errors.New("telegram: flood control, retry after delay")
	ErrUnauthorized      = errors.New("telegram: credentials rejected")
)

// FloodWaitError carries the server-specified retry delay for ErrFloodLimited.
type FloodWaitError struct {
	RetryAfterSeconds int
}

func (e *FloodWaitError) Error() string { return "telegram: flood wait" }
func (e *FloodWaitError) Unwrap() error { return ErrFloodLimited }

// BlobIterator yields a file's content as a sequence of chunks no larger
// than 1 MiB each, starting at the chunk index the iterator was opened
// with. It must never be reused across a self-heal retry: Stream opens a
// fresh iterator for every attempt.
type BlobIterator interface {
	// Next returns the next blob, or io.EOF when the upstream has no
	// more data. It may instead return ErrReferenceExpired,
	// ErrBlobTimeout, or ErrNetworkTransient.
	Next(ctx context.Context) ([]byte, error)
	// Close releases any resources the iterator holds. Safe to call
	// more than once.
	Close() error
}

// Registrar is implemented by Client adapters that need a forwarded
// message's file metadata registered before GetMessage can resolve it.
// botclient requires this since the Bot API has no generic "fetch
// arbitrary message by id" call; telegramtest.FakeClient does not
// implement it because AddFile already seeds its index directly.
type Registrar interface {
	RegisterForwarded(channelID, msgID int64, fileID string, sizeBytes int64, kind model.Kind, mimeType, displayName string)
}

// Client is the capability set the stream engine and ingest component
// require from the upstream chat platform.
type Client interface {
	// Start connects and authenticates. Idempotent.
	Start(ctx context.Context) error

	// GetMessage fetches a message whose payload is a file. Returns
	// ErrMessageNotFound if the message does not exist or carries no
	// media.
	GetMessage(ctx context.Context, channelID, msgID int64) (*model.Message, error)

	// ForwardToChannel forwards srcMsgID from its origin chat into
	// dstChannelID, returning the new message id in the archive
	// channel. Used only by the ingest path.
	ForwardToChannel(ctx context.Context, srcChatID, srcMsgID, dstChannelID int64) (int64, error)

	// UploadDocument sends the local file at path into channelID as a
	// document, returning the new message id and the upstream file id.
	// Used by the external-URL ingest path, whose downloaded file has
	// no origin message to forward.
	UploadDocument(ctx context.Context, channelID int64, path, caption string) (msgID int64, fileID string, err error)

	// StreamFile opens a BlobIterator over locator's content starting
	// at startChunk (a chunk index, never a raw byte offset).
	StreamFile(ctx context.Context, locator model.FileLocator, startChunk int64) (BlobIterator, error)

	// Idle blocks until ctx is cancelled or the client is stopped.
	Idle(ctx context.Context) error

	// IsConnected reports whether Start has completed successfully and
	// the client has not since been disconnected.
	IsConnected() bool

	// VerifyChannelAccess confirms the bot identity has been seen as a
	// member of channelID at least once in the current process
	// lifetime. Called once at startup against the archive channel
	// before ingest begins.
	VerifyChannelAccess(ctx context.Context, channelID int64) error
}
