package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DCspare/StreamVault/internal/metrics"
	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/storage"
	"github.com/DCspare/StreamVault/internal/stream"
	"github.com/DCspare/StreamVault/internal/telegram/sessionpool"
	"github.com/DCspare/StreamVault/internal/telegram/telegramtest"
)

func newTestMux(t *testing.T, content []byte) (http.Handler, storage.Store) {
	t.Helper()

	fake := telegramtest.New()
	fake.AddFile(1, 1, "movie.mp4", "video/mp4", model.KindVideo, content)
	_ = fake.Start(context.Background())
	pool := sessionpool.New(fake)
	engine := stream.New(fake, pool, metrics.NewMetrics(), nil)

	store := storage.NewMemory()
	if err := store.PutFile(context.Background(), model.ArchivedFile{
		ChannelID:   1,
		MsgID:       1,
		DisplayName: "movie.mp4",
		SizeBytes:   int64(len(content)),
		Kind:        model.KindVideo,
		MimeType:    "video/mp4",
		Source:      model.SourceDirectUpload,
		UploadedBy:  42,
		CreatedAt:   time.Now(),
		IsActive:    true,
	}); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	mux := New(store, engine, fake, "https://example.test", []string{"*"}, nil)
	return mux, store
}

func TestHealthzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, []byte("hello"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("got body %q, want %q", rr.Body.String(), "ok")
	}
}

func TestReadyzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, []byte("hello"))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestStreamFullFile(t *testing.T) {
	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	mux, _ := newTestMux(t, content)

	req := httptest.NewRequest(http.MethodGet, "/stream/1/1", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("missing Accept-Ranges header")
	}
	if want := `inline; filename="movie.mp4"`; rr.Header().Get("Content-Disposition") != want {
		t.Fatalf("got Content-Disposition %q, want %q", rr.Header().Get("Content-Disposition"), want)
	}
	if rr.Body.Len() != len(content) {
		t.Fatalf("got %d bytes, want %d", rr.Body.Len(), len(content))
	}
}

func TestStreamPartialRange(t *testing.T) {
	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	mux, _ := newTestMux(t, content)

	req := httptest.NewRequest(http.MethodGet, "/stream/1/1", nil)
	req.Header.Set("Range", "bytes=100-199")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusPartialContent)
	}
	wantRange := "bytes 100-199/5000"
	if got := rr.Header().Get("Content-Range"); got != wantRange {
		t.Fatalf("got Content-Range %q, want %q", got, wantRange)
	}
	if want := `inline; filename="movie.mp4"`; rr.Header().Get("Content-Disposition") != want {
		t.Fatalf("got Content-Disposition %q, want %q", rr.Header().Get("Content-Disposition"), want)
	}
	if rr.Body.Len() != 100 {
		t.Fatalf("got %d bytes, want 100", rr.Body.Len())
	}
}

func TestStreamRangeNotSatisfiable(t *testing.T) {
	mux, _ := newTestMux(t, make([]byte, 100))

	req := httptest.NewRequest(http.MethodGet, "/stream/1/1", nil)
	req.Header.Set("Range", "bytes=500-600")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusRequestedRangeNotSatisfiable)
	}
}

func TestStreamUnknownFileNotFound(t *testing.T) {
	mux, _ := newTestMux(t, make([]byte, 100))

	req := httptest.NewRequest(http.MethodGet, "/stream/1/999", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestCatalogRequiresUploadedByOrQuery(t *testing.T) {
	mux, _ := newTestMux(t, make([]byte, 100))

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCatalogListByUser(t *testing.T) {
	mux, _ := newTestMux(t, make([]byte, 100))

	req := httptest.NewRequest(http.MethodGet, "/api/catalog?uploadedBy=42", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestCatalogHonorsPageAndPerPage(t *testing.T) {
	store := storage.NewMemory()
	for i := int64(1); i <= 3; i++ {
		if err := store.PutFile(context.Background(), model.ArchivedFile{
			ChannelID:   1,
			MsgID:       i,
			DisplayName: "clip.mp4",
			SizeBytes:   100,
			Kind:        model.KindVideo,
			MimeType:    "video/mp4",
			Source:      model.SourceDirectUpload,
			UploadedBy:  42,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
			IsActive:    true,
		}); err != nil {
			t.Fatalf("PutFile: %v", err)
		}
	}

	fake := telegramtest.New()
	_ = fake.Start(context.Background())
	pool := sessionpool.New(fake)
	engine := stream.New(fake, pool, metrics.NewMetrics(), nil)
	mux := New(store, engine, fake, "https://example.test", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/catalog?uploadedBy=42&page=1&per_page=2", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var page model.ListPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(page.Files) != 2 || !page.HasMore || page.Page != 1 || page.PerPage != 2 {
		t.Fatalf("unexpected first page: %+v", page)
	}
}

func TestStreamUpstreamDisconnectedReturnsRetryAfter(t *testing.T) {
	fake := telegramtest.New()
	fake.AddFile(1, 1, "movie.mp4", "video/mp4", model.KindVideo, make([]byte, 100))
	pool := sessionpool.New(fake)
	engine := stream.New(fake, pool, metrics.NewMetrics(), nil)

	store := storage.NewMemory()
	if err := store.PutFile(context.Background(), model.ArchivedFile{
		ChannelID:   1,
		MsgID:       1,
		DisplayName: "movie.mp4",
		SizeBytes:   100,
		Kind:        model.KindVideo,
		MimeType:    "video/mp4",
		Source:      model.SourceDirectUpload,
		UploadedBy:  42,
		CreatedAt:   time.Now(),
		IsActive:    true,
	}); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	// fake is never Start'd, so IsConnected stays false.
	mux := New(store, engine, fake, "https://example.test", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/1/1", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if rr.Header().Get("Retry-After") != "5" {
		t.Fatalf("got Retry-After %q, want %q", rr.Header().Get("Retry-After"), "5")
	}
}
