// Package telegramtest provides an in-memory telegram.Client double with
// deterministic fault injection, used by the stream engine's and
// conformance suite's tests in place of a live bot connection.
package telegramtest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/telegram"
)

const ChunkSize = 1048576

// Fault describes a single injected failure at a given chunk index of a
// given file, consumed exactly once.
type Fault struct {
	AtChunk int64
	Err     error
}

// FakeClient holds a set of named files and, per file, a queue of faults
// that StreamFile's iterator raises once each time their chunk index is
// reached.
type FakeClient struct {
	mu             sync.Mutex
	messages       map[string]*model.Message
	contents       map[string][]byte
	faults         map[string][]Fault
	forwarded      int64
	connected      bool
	deniedChannels map[int64]bool
}

func New() *FakeClient {
	return &FakeClient{
		messages:       make(map[string]*model.Message),
		contents:       make(map[string][]byte),
		faults:         make(map[string][]Fault),
		deniedChannels: make(map[int64]bool),
	}
}

// DenyChannelAccess makes VerifyChannelAccess fail for channelID, for
// tests exercising the startup presence-check failure path.
func (f *FakeClient) DenyChannelAccess(channelID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deniedChannels[channelID] = true
}

func key(channelID, msgID int64) string {
	return fmt.Sprintf("%d:%d", channelID, msgID)
}

// AddFile registers a file's full content under (channelID, msgID). The
// content is sliced into ChunkSize blobs when streamed.
func (f *FakeClient) AddFile(channelID, msgID int64, displayName, mimeType string, kind model.Kind, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(channelID, msgID)
	f.messages[k] = &model.Message{
		ChannelID:   channelID,
		MsgID:       msgID,
		Locator:     model.NewFileLocator(1, k),
		SizeBytes:   int64(len(content)),
		Kind:        kind,
		MimeType:    mimeType,
		DisplayName: displayName,
	}
	f.contents[k] = content
}

// InjectFault schedules err to be returned once StreamFile's iterator
// reaches absolute chunk index atChunk for the given message.
func (f *FakeClient) InjectFault(channelID, msgID int64, atChunk int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, msgID)
	f.faults[k] = append(f.faults[k], Fault{AtChunk: atChunk, Err: err})
}

func (f *FakeClient) Start(ctx context.Context) error {
	f.connected = true
	return nil
}

func (f *FakeClient) IsConnected() bool { return f.connected }

// VerifyChannelAccess reports failure only for channels previously marked
// via DenyChannelAccess; otherwise it succeeds, since the fake has no
// real membership state to consult.
func (f *FakeClient) VerifyChannelAccess(ctx context.Context, channelID int64) error {
	f.mu.Lock()
	denied := f.deniedChannels[channelID]
	f.mu.Unlock()
	if denied {
		return fmt.Errorf("%w: bot has not been seen in archive channel %d", telegram.ErrUnauthorized, channelID)
	}
	return nil
}

func (f *FakeClient) Idle(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *FakeClient) GetMessage(ctx context.Context, channelID, msgID int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[key(channelID, msgID)]
	if !ok {
		return nil, telegram.ErrMessageNotFound
	}
	copyMsg := *msg
	return &copyMsg, nil
}

func (f *FakeClient) ForwardToChannel(ctx context.Context, srcChatID, srcMsgID, dstChannelID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded++
	return 100000 + f.forwarded, nil
}

// UploadDocument reads path's content and registers it as a fresh
// message in dstChannelID, the same way AddFile would for a directly
// injected fixture.
func (f *FakeClient) UploadDocument(ctx context.Context, channelID int64, path, caption string) (int64, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", telegram.ErrNetworkTransient, err)
	}

	f.mu.Lock()
	f.forwarded++
	msgID := 200000 + f.forwarded
	f.mu.Unlock()

	fileID := fmt.Sprintf("fake-upload-%d", msgID)
	f.AddFile(channelID, msgID, caption, "application/octet-stream", model.KindDocument, content)
	return msgID, fileID, nil
}

func (f *FakeClient) StreamFile(ctx context.Context, locator model.FileLocator, startChunk int64) (telegram.BlobIterator, error) {
	k, ok := locator.Raw().(string)
	if !ok {
		return nil, telegram.ErrReferenceExpired
	}

	f.mu.Lock()
	content, ok := f.contents[k]
	f.mu.Unlock()
	if !ok {
		return nil, telegram.ErrMessageNotFound
	}

	return &fakeIterator{
		client:  f,
		key:     k,
		content: content,
		chunk:   startChunk,
	}, nil
}

type fakeIterator struct {
	client  *FakeClient
	key     string
	content []byte
	chunk   int64
	closed  bool
}

// Next consumes faults directly from the client's shared fault queue
// rather than a private copy: a self-heal retry opens a fresh iterator
// at the failed chunk, and it must see the fault as already spent or it
// would re-trigger the same failure forever.
func (it *fakeIterator) Next(ctx context.Context) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	it.client.mu.Lock()
	faults := it.client.faults[it.key]
	for i, fault := range faults {
		if fault.AtChunk == it.chunk {
			it.client.faults[it.key] = append(faults[:i:i], faults[i+1:]...)
			it.client.mu.Unlock()
			return nil, fault.Err
		}
	}
	it.client.mu.Unlock()

	start := it.chunk * ChunkSize
	if start >= int64(len(it.content)) {
		return nil, io.EOF
	}
	end := start + ChunkSize
	if end > int64(len(it.content)) {
		end = int64(len(it.content))
	}
	blob := it.content[start:end]
	it.chunk++
	return blob, nil
}

func (it *fakeIterator) Close() error {
	it.closed = true
	return nil
}

