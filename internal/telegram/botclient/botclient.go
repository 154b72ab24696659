// Package botclient adapts github.com/go-telegram-bot-api/telegram-bot-api/v5
// to the telegram.Client capability set. The Bot API has no equivalent of
// MTProto's stream_file(locator, chunk_index); instead a file's bytes are
// retrieved from a direct CDN URL that GetFileDirectURL mints from a
// file_id. BlobIterator bridges the two by issuing a ranged HTTP GET
// against that URL and slicing the response into CHUNK-sized blobs, so
// the chunk-offset contract C5 relies on still holds.
package botclient

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/telegram"
)

const chunkSize = 1048576

// fileRecord is what the adapter remembers about a message once it has
// been forwarded into the archive channel. The Bot API exposes no
// "get arbitrary message by id" call, so this index, populated at
// forward time, stands in for it.
type fileRecord struct {
	fileID      string
	sizeBytes   int64
	kind        model.Kind
	mimeType    string
	displayName string
}

// Client wraps a tgbotapi.BotAPI with the archive-channel index and a
// plain HTTP client used for ranged blob retrieval.
type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	blobTimeout time.Duration
	logger     *slog.Logger

	mu    sync.RWMutex
	index map[string]fileRecord // key: "channelID:msgID"

	connected bool

	sessionFilePath string
	sessionMu       sync.Mutex
	offset          int
	botUserName     string
	botID           int64
}

// Config carries the settings botclient needs beyond the bot token
// itself.
type Config struct {
	BotToken       string
	ProxyURL       string
	BlobFetchTimeout time.Duration
	Logger         *slog.Logger
	// SessionFilePath is where the long-poll offset and bot identity
	// cache are persisted between restarts. Empty disables persistence.
	SessionFilePath string
}

// sessionState is the on-disk record of long-poll progress and bot
// identity. Persisting it means a restart resumes polling after the
// last update actually delivered, instead of Telegram redelivering
// everything since the bot went quiet.
type sessionState struct {
	Offset      int    `json:"offset"`
	BotUserName string `json:"botUserName"`
	BotID       int64  `json:"botId"`
}

func loadSessionState(path string) sessionState {
	if path == "" {
		return sessionState{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionState{}
	}
	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return sessionState{}
	}
	return state
}

// saveSessionState persists the current offset and bot identity,
// owner-writable only since it is effectively bot credential metadata.
func (c *Client) saveSessionState() error {
	if c.sessionFilePath == "" {
		return nil
	}

	c.sessionMu.Lock()
	state := sessionState{Offset: c.offset, BotUserName: c.botUserName, BotID: c.botID}
	c.sessionMu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("botclient: marshal session state: %w", err)
	}

	f, err := os.OpenFile(c.sessionFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("botclient: open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("botclient: write session file: %w", err)
	}
	return nil
}

// New constructs a Client. It does not connect; call Start for that.
func New(cfg Config) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.BlobFetchTimeout}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("botclient: invalid proxy url: %w", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("botclient: create bot: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state := loadSessionState(cfg.SessionFilePath)

	return &Client{
		bot:             bot,
		httpClient:      httpClient,
		blobTimeout:     cfg.BlobFetchTimeout,
		logger:          logger.With(slog.String("component", "telegram")),
		index:           make(map[string]fileRecord),
		sessionFilePath: cfg.SessionFilePath,
		offset:          state.Offset,
		botUserName:     state.BotUserName,
		botID:           state.BotID,
	}, nil
}

func indexKey(channelID, msgID int64) string {
	return fmt.Sprintf("%d:%d", channelID, msgID)
}

func (c *Client) Start(ctx context.Context) error {
	if c.connected {
		return nil
	}
	me, err := c.bot.GetMe()
	if err != nil {
		return fmt.Errorf("%w: %v", telegram.ErrUnauthorized, err)
	}
	c.connected = true

	c.sessionMu.Lock()
	c.botUserName = me.UserName
	c.botID = me.ID
	c.sessionMu.Unlock()
	if err := c.saveSessionState(); err != nil {
		c.logger.Warn("failed to persist session state", slog.Any("error", err))
	}

	c.logger.Info("bot connected", slog.String("username", me.UserName))
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected
}

// VerifyChannelAccess confirms the bot identity resolved by Start has
// been seen as a member of channelID at least once. The Bot API has no
// "is this chat in my dialog list" concept the way MTProto does; a
// getChatMember lookup against the bot's own id is the closest
// equivalent, and fails the same way a never-joined private channel
// would: the bot can't act on a channel it has no membership record in.
func (c *Client) VerifyChannelAccess(ctx context.Context, channelID int64) error {
	c.sessionMu.Lock()
	botID := c.botID
	c.sessionMu.Unlock()
	if botID == 0 {
		return fmt.Errorf("botclient: bot identity not resolved, call Start first")
	}

	config := tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: channelID,
			UserID: botID,
		},
	}
	member, err := c.bot.GetChatMember(config)
	if err != nil {
		return fmt.Errorf("%w: bot has not been seen in archive channel %d: %v", telegram.ErrUnauthorized, channelID, err)
	}
	if member.Status == "left" || member.Status == "kicked" {
		return fmt.Errorf("%w: bot is not an active member of archive channel %d (status %q)", telegram.ErrUnauthorized, channelID, member.Status)
	}

	c.logger.Info("verified archive channel presence", slog.Int64("channel_id", channelID), slog.String("status", member.Status))
	return nil
}

func (c *Client) Idle(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// IncomingMessage is the subset of an inbound Telegram update the
// ingest dispatcher needs: either a document upload or a plain text
// message (a custom display name or a URL), never both.
type IncomingMessage struct {
	UserID   int64
	ChatID   int64
	MsgID    int64
	Text     string
	Document *DocumentInfo
}

// DocumentInfo is the file metadata carried by a document upload.
type DocumentInfo struct {
	FileID    string
	SizeBytes int64
	MimeType  string
	FileName  string
}

// Listen starts long-polling for updates and translates each private
// message into an IncomingMessage on the returned channel. The channel
// closes when ctx is cancelled.
func (c *Client) Listen(ctx context.Context) (<-chan IncomingMessage, error) {
	c.sessionMu.Lock()
	startOffset := c.offset
	c.sessionMu.Unlock()

	updateConfig := tgbotapi.NewUpdate(startOffset)
	updateConfig.Timeout = 30
	updates := c.bot.GetUpdatesChan(updateConfig)

	out := make(chan IncomingMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}

				c.sessionMu.Lock()
				c.offset = update.UpdateID + 1
				c.sessionMu.Unlock()
				if err := c.saveSessionState(); err != nil {
					c.logger.Warn("failed to persist session state", slog.Any("error", err))
				}

				if update.Message == nil {
					continue
				}
				msg := IncomingMessage{
					UserID: int64(update.Message.From.ID),
					ChatID: update.Message.Chat.ID,
					MsgID:  int64(update.Message.MessageID),
					Text:   update.Message.Text,
				}
				if update.Message.Document != nil {
					msg.Document = &DocumentInfo{
						FileID:    update.Message.Document.FileID,
						SizeBytes: int64(update.Message.Document.FileSize),
						MimeType:  update.Message.Document.MimeType,
						FileName:  update.Message.Document.FileName,
					}
				} else if update.Message.Video != nil {
					msg.Document = &DocumentInfo{
						FileID:    update.Message.Video.FileID,
						SizeBytes: int64(update.Message.Video.FileSize),
						MimeType:  update.Message.Video.MimeType,
						FileName:  update.Message.Video.FileName,
					}
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// EditProgress edits a previously sent message in chatID, implementing
// the edit half of ingest.Messenger. msgID is expected to encode the original
// status message id via the caller's own bookkeeping; botclient does
// not track one itself.
func (c *Client) EditProgress(ctx context.Context, chatID, msgID int64, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, int(msgID), text)
	_, err := c.bot.Send(edit)
	if err != nil {
		return fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}
	return nil
}

// SendMessage sends a plain text message to chatID, returning the new
// message id so callers can later edit it via EditProgress.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	msg, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}
	return int64(msg.MessageID), nil
}

// GetMessage looks up the archive-channel index populated by
// ForwardToChannel. Messages the bot has not itself forwarded are not
// resolvable through the Bot API and return ErrMessageNotFound.
func (c *Client) GetMessage(ctx context.Context, channelID, msgID int64) (*model.Message, error) {
	c.mu.RLock()
	rec, ok := c.index[indexKey(channelID, msgID)]
	c.mu.RUnlock()
	if !ok {
		return nil, telegram.ErrMessageNotFound
	}

	fileURL, err := c.bot.GetFileDirectURL(rec.fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", telegram.ErrReferenceExpired, err)
	}

	return &model.Message{
		ChannelID:   channelID,
		MsgID:       msgID,
		Locator:     model.NewFileLocator(datacenterFromURL(fileURL), fileURL),
		SizeBytes:   rec.sizeBytes,
		Kind:        rec.kind,
		MimeType:    rec.mimeType,
		DisplayName: rec.displayName,
	}, nil
}

// datacenterFromURL buckets the CDN host of a direct file URL into a
// small integer so the session pool can partition entries the same way
// it would by MTProto datacenter id.
func datacenterFromURL(rawURL string) int64 {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(parsed.Host))
	return int64(h.Sum32() % 16)
}

// RegisterForwarded records the archive-channel message produced by a
// forward, making it resolvable by GetMessage. Called by the ingest
// component immediately after ForwardToChannel succeeds.
func (c *Client) RegisterForwarded(channelID, msgID int64, fileID string, sizeBytes int64, kind model.Kind, mimeType, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[indexKey(channelID, msgID)] = fileRecord{
		fileID:      fileID,
		sizeBytes:   sizeBytes,
		kind:        kind,
		mimeType:    mimeType,
		displayName: displayName,
	}
}

func (c *Client) ForwardToChannel(ctx context.Context, srcChatID, srcMsgID, dstChannelID int64) (int64, error) {
	forward := tgbotapi.NewForward(dstChannelID, srcChatID, int(srcMsgID))
	msg, err := c.bot.Send(forward)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}
	return int64(msg.MessageID), nil
}

// UploadDocument sends the local file at path into channelID as a
// document and records it in the forwarded-message index so GetMessage
// can resolve it exactly like a forwarded upload.
func (c *Client) UploadDocument(ctx context.Context, channelID int64, path, caption string) (int64, string, error) {
	doc := tgbotapi.NewDocument(channelID, tgbotapi.FilePath(path))
	doc.Caption = caption

	msg, err := c.bot.Send(doc)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}
	if msg.Document == nil {
		return 0, "", fmt.Errorf("%w: response carried no document", telegram.ErrNetworkTransient)
	}

	c.RegisterForwarded(channelID, int64(msg.MessageID), msg.Document.FileID, int64(msg.Document.FileSize), model.KindDocument, msg.Document.MimeType, caption)
	return int64(msg.MessageID), msg.Document.FileID, nil
}

func (c *Client) StreamFile(ctx context.Context, locator model.FileLocator, startChunk int64) (telegram.BlobIterator, error) {
	fileURL, ok := locator.Raw().(string)
	if !ok || fileURL == "" {
		return nil, fmt.Errorf("%w: invalid locator", telegram.ErrReferenceExpired)
	}
	return newHTTPBlobIterator(c.httpClient, fileURL, startChunk*chunkSize, c.blobTimeout), nil
}

// httpBlobIterator slices a ranged HTTP response body into chunkSize
// blobs, approximating the upstream's fixed-size chunk delivery.
type httpBlobIterator struct {
	client     *http.Client
	body       io.ReadCloser
	resp       *http.Response
	started    bool
	url        string
	startByte  int64
	timeout    time.Duration
}

func newHTTPBlobIterator(client *http.Client, fileURL string, startByte int64, timeout time.Duration) *httpBlobIterator {
	return &httpBlobIterator{client: client, url: fileURL, startByte: startByte, timeout: timeout}
}

func (it *httpBlobIterator) ensureStarted(ctx context.Context) error {
	if it.started {
		return nil
	}
	it.started = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, it.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}
	if it.startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", it.startByte))
	}

	resp, err := it.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		it.resp = resp
		it.body = resp.Body
		return nil
	case http.StatusNotFound, http.StatusBadRequest, http.StatusGone:
		resp.Body.Close()
		return telegram.ErrReferenceExpired
	case http.StatusForbidden, http.StatusUnauthorized:
		resp.Body.Close()
		return telegram.ErrUnauthorized
	case http.StatusTooManyRequests:
		resp.Body.Close()
		retryAfter := 1
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			fmt.Sscanf(ra, "%d", &retryAfter)
		}
		return &telegram.FloodWaitError{RetryAfterSeconds: retryAfter}
	default:
		resp.Body.Close()
		return fmt.Errorf("%w: unexpected status %d", telegram.ErrNetworkTransient, resp.StatusCode)
	}
}

func (it *httpBlobIterator) Next(ctx context.Context) ([]byte, error) {
	if err := it.ensureStarted(ctx); err != nil {
		return nil, err
	}

	buf := make([]byte, chunkSize)
	n, err := io.ReadFull(it.body, buf)
	if n > 0 {
		if err == io.ErrUnexpectedEOF || err == nil {
			return buf[:n], nil
		}
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if n > 0 {
			return buf[:n], nil
		}
		return nil, io.EOF
	}
	if err != nil {
		if strings.Contains(err.Error(), "timeout") {
			return nil, telegram.ErrBlobTimeout
		}
		return nil, fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}
	return buf[:n], nil
}

func (it *httpBlobIterator) Close() error {
	if it.resp != nil {
		return it.resp.Body.Close()
	}
	return nil
}
