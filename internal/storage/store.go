// Package storage provides the metadata store for archived files, with
// in-memory and PostgreSQL implementations of the Store interface.
package storage

import (
	"context"
	"errors"

	"github.com/DCspare/StreamVault/internal/model"
)

// Standard errors returned by the storage layer.
var ErrNotFound = errors.New("not found")

// ListQuery parameterizes ListByUser and Search. Page is 1-based; a
// value below 1 is treated as the first page.
type ListQuery struct {
	UploadedBy int64
	Query      string // full-text search term, empty for plain listing
	Page       int
	Limit      int
}

// Store defines the metadata operations required to index and serve
// archived files.
type Store interface {
	PutFile(ctx context.Context, f model.ArchivedFile) error
	GetByMsgID(ctx context.Context, channelID, msgID int64) (*model.ArchivedFile, error)
	ListByUser(ctx context.Context, query ListQuery) (*model.ListPage, error)
	Search(ctx context.Context, query ListQuery) (*model.ListPage, error)
	SoftDelete(ctx context.Context, channelID, msgID int64) error
	// UpdateMetadata replaces a file's free-form Metadata, used to
	// attach a thumbnail object key discovered after the initial
	// PutFile.
	UpdateMetadata(ctx context.Context, channelID, msgID int64, metadata map[string]interface{}) error
}
