// Package model defines the data structures used throughout the streaming
// service: the archived-file index record, the transient handles the
// upstream client hands back, and the short-lived per-user ingest state.
package model

import (
	"strconv"
	"time"
)

// Kind tags the media type of an ArchivedFile.
type Kind string

const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// Source tags how an ArchivedFile entered the archive channel.
type Source string

const (
	SourceDirectUpload Source = "direct_upload"
	SourceExternalURL  Source = "external_url"
)

// ArchivedFile is the central indexed record consumed by the stream
// engine and the catalog endpoint. It corresponds to a single message in
// the archive channel.
type ArchivedFile struct {
	ChannelID      int64          `json:"channelId" db:"channel_id"`
	MsgID          int64          `json:"msgId" db:"msg_id"`
	FileUniqueID   string         `json:"fileUniqueId" db:"file_unique_id"`
	DisplayName    string         `json:"displayName" db:"display_name"`
	SizeBytes      int64          `json:"sizeBytes" db:"size_bytes"`
	Kind           Kind           `json:"kind" db:"kind"`
	MimeType       string         `json:"mimeType" db:"mime_type"`
	DurationSeconds *int          `json:"durationSeconds,omitempty" db:"duration_seconds"`
	QualityLabel   *string        `json:"qualityLabel,omitempty" db:"quality_label"`
	Source         Source         `json:"source" db:"source"`
	ExternalURL    *string        `json:"externalUrl,omitempty" db:"external_url"`
	UploadedBy     int64          `json:"uploadedBy" db:"uploaded_by"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	IsActive       bool           `json:"isActive" db:"is_active"`
	// Metadata holds upstream-specific extras (thumbnail object key,
	// codec tag, source-fetcher format id) that do not warrant a
	// dedicated column. Free-form by design; never validated against a
	// schema.
	Metadata map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// StreamURL returns the public stream link for this file given a base URL
// such as "https://host".
func (f ArchivedFile) StreamURL(publicBaseURL string) string {
	return publicBaseURL + "/stream/" + strconv.FormatInt(f.ChannelID, 10) + "/" + strconv.FormatInt(f.MsgID, 10)
}

// FileLocator is the transient, per-request handle the upstream returns
// when a message is fetched. Required to call StreamFile. It may become
// invalid ("expired file reference") minutes after issuance; the only
// recovery is re-fetching the message from its (channel_id, msg_id) pair.
// Never persisted and never logged.
type FileLocator struct {
	DatacenterID int64
	raw          interface{} // opaque upstream-protocol handle
}

// NewFileLocator wraps an opaque upstream handle with its datacenter id.
func NewFileLocator(datacenterID int64, raw interface{}) FileLocator {
	return FileLocator{DatacenterID: datacenterID, raw: raw}
}

// Raw returns the opaque upstream handle for use by the client adapter
// that produced it. Callers outside internal/telegram have no business
// inspecting it.
func (l FileLocator) Raw() interface{} { return l.raw }

// Message is the metadata the upstream returns for a fetched message
// whose payload is a file.
type Message struct {
	ChannelID   int64
	MsgID       int64
	Locator     FileLocator
	SizeBytes   int64
	Kind        Kind
	MimeType    string
	DisplayName string
}

// UploadState holds pending context for a direct-upload conversation:
// the user has sent a file and the service is waiting on a display name
// (or a skip token preserving the original one).
type UploadState struct {
	UserID          int64
	PendingMsg      Message
	OriginalName    string
	CreatedAt       time.Time
}

// URLState holds pending context for an external-short-URL conversation:
// the user has sent a URL, candidate qualities were offered, and the
// service is waiting on a selection.
type URLState struct {
	UserID     int64
	URL        string
	Candidates []QualityCandidate
	CreatedAt  time.Time
}

// QualityCandidate is one fetchable variant of an external URL.
type QualityCandidate struct {
	Label      string // e.g. "1080p"
	FormatID   string
	SizeBytes  int64
	DurationS  int
}

// ListPage is one page of catalog results.
type ListPage struct {
	Files   []ArchivedFile `json:"files"`
	Page    int            `json:"page"`
	PerPage int            `json:"perPage"`
	HasMore bool           `json:"hasMore"`
}
