package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DCspare/StreamVault/internal/event"
	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/storage"
	"github.com/DCspare/StreamVault/internal/telegram/telegramtest"
)

func newTestIndexer(t *testing.T, fetcher YtDLPFetcher) (*Indexer, storage.Store, *telegramtest.FakeClient) {
	t.Helper()
	fake := telegramtest.New()
	store := storage.NewMemory()
	pub := event.NewPublisher("")

	idx := New(fake, store, pub, fetcher, nil, Config{
		ArchiveChannelID: 999,
		MaxFileSizeMB:    10,
		MaxDurationHours: 2,
	})
	return idx, store, fake
}

func TestHandleUploadSuccess(t *testing.T) {
	idx, store, _ := newTestIndexer(t, nil)

	req := UploadRequest{
		UserID:      7,
		SrcChatID:   7,
		SrcMsgID:    42,
		FileID:      "file-abc",
		SizeBytes:   2048,
		Kind:        model.KindVideo,
		MimeType:    "video/mp4",
		DisplayName: "clip.mp4",
	}

	file, err := idx.HandleUpload(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleUpload: %v", err)
	}
	if file.ChannelID != 999 {
		t.Fatalf("got channel %d, want 999", file.ChannelID)
	}
	if file.Source != model.SourceDirectUpload {
		t.Fatalf("got source %q, want %q", file.Source, model.SourceDirectUpload)
	}

	got, err := store.GetByMsgID(context.Background(), file.ChannelID, file.MsgID)
	if err != nil {
		t.Fatalf("GetByMsgID: %v", err)
	}
	if got.DisplayName != "clip.mp4" {
		t.Fatalf("got display name %q, want %q", got.DisplayName, "clip.mp4")
	}
}

func TestHandleUploadRejectsOversizedFile(t *testing.T) {
	idx, _, _ := newTestIndexer(t, nil)

	req := UploadRequest{
		UserID:    7,
		SrcChatID: 7,
		SrcMsgID:  42,
		FileID:    "file-big",
		SizeBytes: 20 * 1024 * 1024,
		Kind:      model.KindVideo,
		MimeType:  "video/mp4",
	}

	_, err := idx.HandleUpload(context.Background(), req)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("got error %v, want ErrFileTooLarge", err)
	}
}

func TestHandleURLWithoutFetcherFails(t *testing.T) {
	idx, _, _ := newTestIndexer(t, nil)

	_, err := idx.HandleURL(context.Background(), URLRequest{UserID: 1, URL: "https://example.test/v"}, nil)
	if !errors.Is(err, ErrNotAURL) {
		t.Fatalf("got error %v, want ErrNotAURL", err)
	}
}

type fakeFetcher struct {
	sizeBytes       int64
	durationSeconds int
	content         []byte
	progressCalls   []int
}

func (f *fakeFetcher) Probe(ctx context.Context, url string) ([]model.QualityCandidate, error) {
	return []model.QualityCandidate{{Label: "720p", FormatID: "720p"}}, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, formatID, destDir string, onProgress func(percent int)) (string, int64, int, error) {
	onProgress(50)
	onProgress(100)
	path := filepath.Join(destDir, "video.mp4")
	if err := os.WriteFile(path, f.content, 0o600); err != nil {
		return "", 0, 0, err
	}
	return path, f.sizeBytes, f.durationSeconds, nil
}

type recordingReporter struct {
	edits []string
}

func (r *recordingReporter) EditProgress(ctx context.Context, userID int64, text string) error {
	r.edits = append(r.edits, text)
	return nil
}

func TestHandleURLSuccess(t *testing.T) {
	content := []byte("fake video bytes")
	fetcher := &fakeFetcher{sizeBytes: int64(len(content)), durationSeconds: 120, content: content}
	idx, store, _ := newTestIndexer(t, fetcher)
	reporter := &recordingReporter{}

	file, err := idx.HandleURL(context.Background(), URLRequest{
		UserID:   7,
		URL:      "https://youtu.be/abc",
		FormatID: "720p",
		Label:    "720p",
	}, reporter)
	if err != nil {
		t.Fatalf("HandleURL: %v", err)
	}
	if file.Source != model.SourceExternalURL {
		t.Fatalf("got source %q, want %q", file.Source, model.SourceExternalURL)
	}
	if file.DurationSeconds == nil || *file.DurationSeconds != 120 {
		t.Fatalf("got duration %v, want 120", file.DurationSeconds)
	}

	if _, err := store.GetByMsgID(context.Background(), file.ChannelID, file.MsgID); err != nil {
		t.Fatalf("GetByMsgID: %v", err)
	}

	// Both progress calls land within the same rate-limit window, so
	// only the first edit should have gone through.
	if len(reporter.edits) != 1 {
		t.Fatalf("got %d progress edits, want 1", len(reporter.edits))
	}
}

func TestHandleURLRejectsOverLongDuration(t *testing.T) {
	content := []byte("fake video bytes")
	fetcher := &fakeFetcher{sizeBytes: int64(len(content)), durationSeconds: 10 * 3600, content: content}
	idx, _, _ := newTestIndexer(t, fetcher)

	_, err := idx.HandleURL(context.Background(), URLRequest{UserID: 1, URL: "https://youtu.be/abc", FormatID: "720p"}, nil)
	if !errors.Is(err, ErrDurationTooLong) {
		t.Fatalf("got error %v, want ErrDurationTooLong", err)
	}
}
