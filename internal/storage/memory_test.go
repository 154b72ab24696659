package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DCspare/StreamVault/internal/model"
)

func newTestFile(channelID, msgID, uploadedBy int64, name string) model.ArchivedFile {
	return model.ArchivedFile{
		ChannelID:    channelID,
		MsgID:        msgID,
		FileUniqueID: "unique-1",
		DisplayName:  name,
		SizeBytes:    1500000,
		Kind:         model.KindVideo,
		MimeType:     "video/mp4",
		Source:       model.SourceDirectUpload,
		UploadedBy:   uploadedBy,
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
	}
}

func TestMemoryPutAndGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	f := newTestFile(100, 200, 1, "movie.mp4")
	if err := s.PutFile(ctx, f); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	got, err := s.GetByMsgID(ctx, 100, 200)
	if err != nil {
		t.Fatalf("GetByMsgID: %v", err)
	}
	if got.DisplayName != "movie.mp4" {
		t.Errorf("DisplayName = %q, expected movie.mp4", got.DisplayName)
	}
}

func TestMemoryPutFileUpsertsOnDuplicateKey(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	f := newTestFile(100, 200, 1, "movie.mp4")
	if err := s.PutFile(ctx, f); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	f.DisplayName = "movie-reingested.mp4"
	if err := s.PutFile(ctx, f); err != nil {
		t.Fatalf("PutFile (re-ingest): %v", err)
	}

	got, err := s.GetByMsgID(ctx, 100, 200)
	if err != nil {
		t.Fatalf("GetByMsgID: %v", err)
	}
	if got.DisplayName != "movie-reingested.mp4" {
		t.Errorf("DisplayName = %q, expected the re-ingested name", got.DisplayName)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	s := NewMemory()
	if _, err := s.GetByMsgID(context.Background(), 1, 2); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryListByUserExcludesInactive(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		f := newTestFile(100, i, 7, "clip.mp4")
		f.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.PutFile(ctx, f); err != nil {
			t.Fatalf("PutFile: %v", err)
		}
	}
	if err := s.SoftDelete(ctx, 100, 2); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	page, err := s.ListByUser(ctx, ListQuery{UploadedBy: 7, Limit: 10})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(page.Files) != 2 {
		t.Fatalf("expected 2 active files, got %d", len(page.Files))
	}
	for _, f := range page.Files {
		if f.MsgID == 2 {
			t.Fatalf("soft-deleted file leaked into listing")
		}
	}
}

func TestMemorySearchMatchesDisplayName(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.PutFile(ctx, newTestFile(1, 1, 7, "Inception 2010.mkv")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if err := s.PutFile(ctx, newTestFile(1, 2, 7, "Interstellar 2014.mkv")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	page, err := s.Search(ctx, ListQuery{Query: "inception", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.Files) != 1 || page.Files[0].MsgID != 1 {
		t.Fatalf("unexpected search result: %+v", page.Files)
	}
}

func TestMemoryListByUserPagesByPageNumber(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		f := newTestFile(100, i, 7, "clip.mp4")
		f.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.PutFile(ctx, f); err != nil {
			t.Fatalf("PutFile: %v", err)
		}
	}

	first, err := s.ListByUser(ctx, ListQuery{UploadedBy: 7, Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser page 1: %v", err)
	}
	if len(first.Files) != 2 || !first.HasMore || first.Page != 1 || first.PerPage != 2 {
		t.Fatalf("unexpected first page: %+v", first)
	}

	second, err := s.ListByUser(ctx, ListQuery{UploadedBy: 7, Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser page 2: %v", err)
	}
	if len(second.Files) != 2 || !second.HasMore {
		t.Fatalf("unexpected second page: %+v", second)
	}
	if second.Files[0].MsgID == first.Files[0].MsgID {
		t.Fatalf("page 2 should not repeat page 1's results")
	}

	third, err := s.ListByUser(ctx, ListQuery{UploadedBy: 7, Page: 3, Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser page 3: %v", err)
	}
	if len(third.Files) != 1 || third.HasMore {
		t.Fatalf("unexpected last page: %+v", third)
	}
}

func TestMemorySoftDeleteNotFound(t *testing.T) {
	s := NewMemory()
	if err := s.SoftDelete(context.Background(), 1, 2); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
