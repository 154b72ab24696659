package ingest

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/DCspare/StreamVault/internal/model"
)

// urlPattern recognizes the external-URL form HandleURL's candidates
// are probed from. Grounded on the indexing handler's is_youtube_url
// check, generalized to accept any http(s) URL rather than only
// YouTube's hostnames, since yt-dlp itself supports many sites.
var urlPattern = regexp.MustCompile(`^https?://\S+$`)

// Messenger is the subset of the chat transport Dispatcher needs to
// talk back to the user: send a new status message and edit one in
// place. Implemented by botclient.Client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (msgID int64, err error)
	EditProgress(ctx context.Context, chatID, msgID int64, text string) error
}

// IncomingMessage is the minimal shape Dispatcher needs from an
// inbound chat message; botclient.IncomingMessage is translated into
// this by the caller.
type IncomingMessage struct {
	UserID   int64
	ChatID   int64
	MsgID    int64
	Text     string
	Document *IncomingDocument
}

// IncomingDocument carries an uploaded file's metadata.
type IncomingDocument struct {
	FileID    string
	SizeBytes int64
	MimeType  string
	FileName  string
}

// Dispatcher routes incoming chat messages through the upload/URL
// conversation state machine into Indexer. It owns no transport of its
// own; Messenger sends and edits messages on its behalf.
type Dispatcher struct {
	indexer   *Indexer
	state     *StateStore
	messenger Messenger
	logger    *slog.Logger
}

// NewDispatcher wires a Dispatcher around an already-constructed
// Indexer.
func NewDispatcher(indexer *Indexer, messenger Messenger, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		indexer:   indexer,
		state:     NewStateStore(),
		messenger: messenger,
		logger:    logger.With(slog.String("component", "ingest.dispatch")),
	}
}

// Handle routes one inbound message: a document upload starts a new
// upload conversation, a recognizable URL starts a new fetch
// conversation, and plain text either supplies a pending upload's
// display name or selects a pending URL's quality candidate.
func (d *Dispatcher) Handle(ctx context.Context, msg IncomingMessage) {
	if msg.Document != nil {
		d.startUpload(ctx, msg)
		return
	}
	if pending, ok := d.state.TakeUpload(msg.UserID); ok {
		d.finishUpload(ctx, msg, pending)
		return
	}
	if pendingURL, ok := d.state.TakeURL(msg.UserID); ok {
		d.finishURL(ctx, msg, pendingURL)
		return
	}
	if urlPattern.MatchString(strings.TrimSpace(msg.Text)) {
		d.startURL(ctx, msg)
		return
	}
	d.reply(ctx, msg.ChatID, "Send a file to archive it, or a link to fetch it.")
}

func (d *Dispatcher) startUpload(ctx context.Context, msg IncomingMessage) {
	d.state.PutUpload(model.UploadState{
		UserID: msg.UserID,
		PendingMsg: model.Message{
			ChannelID:   msg.ChatID,
			MsgID:       msg.MsgID,
			Locator:     model.NewFileLocator(0, msg.Document.FileID),
			SizeBytes:   msg.Document.SizeBytes,
			Kind:        kindFromMime(msg.Document.MimeType),
			MimeType:    msg.Document.MimeType,
			DisplayName: msg.Document.FileName,
		},
		OriginalName: msg.Document.FileName,
		CreatedAt:    time.Now(),
	})
	d.reply(ctx, msg.ChatID, "Got it. Send a display name, or /skip to keep \""+msg.Document.FileName+"\".")
}

func (d *Dispatcher) finishUpload(ctx context.Context, msg IncomingMessage, pending model.UploadState) {
	displayName := pending.OriginalName
	if text := strings.TrimSpace(msg.Text); text != "" && text != "/skip" {
		displayName = text
	}
	fileID, _ := pending.PendingMsg.Locator.Raw().(string)

	req := UploadRequest{
		UserID:      pending.UserID,
		SrcChatID:   pending.PendingMsg.ChannelID,
		SrcMsgID:    pending.PendingMsg.MsgID,
		FileID:      fileID,
		SizeBytes:   pending.PendingMsg.SizeBytes,
		Kind:        pending.PendingMsg.Kind,
		MimeType:    pending.PendingMsg.MimeType,
		DisplayName: displayName,
	}

	file, err := d.indexer.HandleUpload(ctx, req)
	if err != nil {
		d.logger.Error("upload ingest failed", slog.Int64("user_id", msg.UserID), slog.Any("error", err))
		if errors.Is(err, ErrFileTooLarge) {
			d.reply(ctx, msg.ChatID, "That file is too large to archive.")
			return
		}
		d.reply(ctx, msg.ChatID, "Sorry, something went wrong archiving that file.")
		return
	}
	d.reply(ctx, msg.ChatID, "Archived \""+file.DisplayName+"\".")
}

func (d *Dispatcher) startURL(ctx context.Context, msg IncomingMessage) {
	if d.indexer.fetcher == nil {
		d.reply(ctx, msg.ChatID, "External-link fetching isn't enabled.")
		return
	}

	candidates, err := d.indexer.fetcher.Probe(ctx, strings.TrimSpace(msg.Text))
	if err != nil || len(candidates) == 0 {
		d.reply(ctx, msg.ChatID, "Could not resolve that link.")
		return
	}

	d.state.PutURL(model.URLState{
		UserID:     msg.UserID,
		URL:        strings.TrimSpace(msg.Text),
		Candidates: candidates,
		CreatedAt:  time.Now(),
	})

	var labels strings.Builder
	for i, c := range candidates {
		if i > 0 {
			labels.WriteString(", ")
		}
		labels.WriteString(c.Label)
	}
	d.reply(ctx, msg.ChatID, "Available qualities: "+labels.String()+" - reply with one.")
}

func (d *Dispatcher) finishURL(ctx context.Context, msg IncomingMessage, pending model.URLState) {
	chosen := strings.TrimSpace(msg.Text)
	var formatID string
	for _, c := range pending.Candidates {
		if strings.EqualFold(c.Label, chosen) {
			formatID = c.FormatID
			break
		}
	}
	if formatID == "" {
		d.reply(ctx, msg.ChatID, "Unrecognized quality, try again.")
		d.state.PutURL(pending)
		return
	}

	statusMsgID, _ := d.messenger.SendMessage(ctx, msg.ChatID, "Downloading... 0%")
	reporter := &messengerReporter{messenger: d.messenger, chatID: msg.ChatID, msgID: statusMsgID}

	file, err := d.indexer.HandleURL(ctx, URLRequest{UserID: msg.UserID, URL: pending.URL, FormatID: formatID, Label: chosen}, reporter)
	if err != nil {
		d.logger.Error("url ingest failed", slog.Int64("user_id", msg.UserID), slog.Any("error", err))
		d.reply(ctx, msg.ChatID, "Sorry, that fetch failed.")
		return
	}
	d.reply(ctx, msg.ChatID, "Archived \""+file.DisplayName+"\".")
}

// messengerReporter adapts Messenger to ProgressReporter for a single
// in-flight status message.
type messengerReporter struct {
	messenger Messenger
	chatID    int64
	msgID     int64
}

func (r *messengerReporter) EditProgress(ctx context.Context, userID int64, text string) error {
	return r.messenger.EditProgress(ctx, r.chatID, r.msgID, text)
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if d.messenger == nil {
		return
	}
	if _, err := d.messenger.SendMessage(ctx, chatID, text); err != nil {
		d.logger.Error("reply send failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func kindFromMime(mimeType string) model.Kind {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return model.KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return model.KindAudio
	default:
		return model.KindDocument
	}
}
