package ingest

import (
	"context"
	"testing"

	"github.com/DCspare/StreamVault/internal/model"
)

func TestAttachThumbnailNoopWithoutUploader(t *testing.T) {
	idx, _, _ := newTestIndexer(t, nil)

	file := &model.ArchivedFile{ChannelID: 999, MsgID: 1}
	if err := idx.AttachThumbnail(context.Background(), file, []byte("jpeg-bytes"), "image/jpeg"); err != nil {
		t.Fatalf("AttachThumbnail: %v", err)
	}
	if file.Metadata != nil {
		t.Fatalf("expected metadata untouched, got %v", file.Metadata)
	}
}

type recordingUploader struct {
	key string
}

func (u *recordingUploader) UploadThumbnail(ctx context.Context, data []byte, contentType string) (string, error) {
	return u.key, nil
}

func TestAttachThumbnailRecordsObjectKey(t *testing.T) {
	idx, store, _ := newTestIndexer(t, nil)
	idx.thumbnails = &recordingUploader{key: "thumbnails/fixed-key"}

	req := UploadRequest{
		UserID: 7, SrcChatID: 7, SrcMsgID: 1, FileID: "f1",
		SizeBytes: 100, Kind: model.KindVideo, MimeType: "video/mp4", DisplayName: "a.mp4",
	}
	file, err := idx.HandleUpload(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleUpload: %v", err)
	}

	if err := idx.AttachThumbnail(context.Background(), file, []byte("jpeg-bytes"), "image/jpeg"); err != nil {
		t.Fatalf("AttachThumbnail: %v", err)
	}
	if file.Metadata["thumbnail_key"] != "thumbnails/fixed-key" {
		t.Fatalf("got metadata %v, want thumbnail_key set", file.Metadata)
	}

	got, err := store.GetByMsgID(context.Background(), file.ChannelID, file.MsgID)
	if err != nil {
		t.Fatalf("GetByMsgID: %v", err)
	}
	if got.Metadata["thumbnail_key"] != "thumbnails/fixed-key" {
		t.Fatalf("persisted metadata missing thumbnail_key: %v", got.Metadata)
	}
}
