package sessionpool

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/telegram/telegramtest"
)

func TestStreamFromReusesEntryAcrossCalls(t *testing.T) {
	fake := telegramtest.New()
	fake.AddFile(1, 1, "a.mp4", "video/mp4", model.KindVideo, make([]byte, 10))
	locator := model.NewFileLocator(7, "1:1")

	pool := New(fake)

	iter1, err := pool.StreamFrom(context.Background(), locator, 0)
	if err != nil {
		t.Fatalf("StreamFrom: %v", err)
	}
	if _, err := iter1.Next(context.Background()); err != nil && err != io.EOF {
		t.Fatalf("Next: %v", err)
	}
	if err := iter1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	iter2, err := pool.StreamFrom(context.Background(), locator, 0)
	if err != nil {
		t.Fatalf("second StreamFrom: %v", err)
	}
	iter2.Close()

	if pool.EntryCount() != 1 {
		t.Fatalf("EntryCount = %d, expected 1 (single datacenter reused)", pool.EntryCount())
	}
}

func TestStreamFromSerializesSameDatacenter(t *testing.T) {
	fake := telegramtest.New()
	fake.AddFile(1, 1, "a.mp4", "video/mp4", model.KindVideo, make([]byte, 10))
	locator := model.NewFileLocator(3, "1:1")

	pool := New(fake)

	iter1, err := pool.StreamFrom(context.Background(), locator, 0)
	if err != nil {
		t.Fatalf("StreamFrom: %v", err)
	}

	var wg sync.WaitGroup
	started := make(chan struct{})
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		iter2, err := pool.StreamFrom(context.Background(), locator, 0)
		if err != nil {
			t.Errorf("blocked StreamFrom: %v", err)
			return
		}
		close(acquired)
		iter2.Close()
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatalf("second StreamFrom acquired the entry while the first iterator was still open")
	default:
	}
	iter1.Close()
	wg.Wait()
}
