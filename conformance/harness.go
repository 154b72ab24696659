// Package conformance provides a black-box HTTP test harness that drives
// the streaming service's documented scenarios against an in-process
// server wired to a fault-injecting telegram client double.
package conformance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"

	"github.com/DCspare/StreamVault/internal/metrics"
	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/server"
	"github.com/DCspare/StreamVault/internal/storage"
	"github.com/DCspare/StreamVault/internal/stream"
	"github.com/DCspare/StreamVault/internal/telegram/sessionpool"
	"github.com/DCspare/StreamVault/internal/telegram/telegramtest"
)

// ChunkSize mirrors the upstream protocol's fixed transfer unit.
const ChunkSize = telegramtest.ChunkSize

// Harness wires an in-memory store and a fault-injecting telegram client
// double behind the real HTTP mux, exposing an httptest.Server a
// conformance test can issue requests against.
type Harness struct {
	Server *httptest.Server
	Store  storage.Store
	Client *telegramtest.FakeClient

	channelID int64
}

// NewHarness builds a harness with its own in-memory store and archive
// channel id. Tests seed files via Seed before issuing requests.
func NewHarness() *Harness {
	store := storage.NewMemory()
	fake := telegramtest.New()
	_ = fake.Start(context.Background())
	pool := sessionpool.New(fake)
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	engine := stream.New(fake, pool, metrics.NewMetrics(), logger)

	mux := server.New(store, engine, fake, "http://stream.local", nil, logger)

	return &Harness{
		Server:    httptest.NewServer(mux),
		Store:     store,
		Client:    fake,
		channelID: 1,
	}
}

// Close tears down the underlying test server.
func (h *Harness) Close() {
	h.Server.Close()
}

// Seed registers a file of the given size (content is a repeating byte
// pattern, not random, so truncation bugs are visible in a diff) under
// msgID and indexes it in the store. It returns the
// (channelID, msgID) pair the caller streams against.
func (h *Harness) Seed(msgID int64, sizeBytes int64) (channelID, id int64) {
	content := make([]byte, sizeBytes)
	for i := range content {
		content[i] = byte(i % 251)
	}

	h.Client.AddFile(h.channelID, msgID, fmt.Sprintf("seed-%d.bin", msgID), "application/octet-stream", model.KindVideo, content)

	f := model.ArchivedFile{
		ChannelID:   h.channelID,
		MsgID:       msgID,
		DisplayName: fmt.Sprintf("seed-%d.bin", msgID),
		SizeBytes:   sizeBytes,
		Kind:        model.KindVideo,
		MimeType:    "application/octet-stream",
		Source:      model.SourceDirectUpload,
		UploadedBy:  42,
		IsActive:    true,
	}
	if err := h.Store.PutFile(context.Background(), f); err != nil {
		panic(fmt.Sprintf("conformance: seed PutFile failed: %v", err))
	}
	return h.channelID, msgID
}

// StreamURL builds the public stream URL for a seeded file.
func (h *Harness) StreamURL(msgID int64) string {
	return fmt.Sprintf("%s/stream/%d/%d", h.Server.URL, h.channelID, msgID)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
