package conformance

import (
	"io"
	"net/http"
	"testing"

	"github.com/DCspare/StreamVault/internal/telegram"
)

// TestS1FullFileRead covers scenario S1: a plain GET with no Range header
// returns the whole file with a 200 and Accept-Ranges.
func TestS1FullFileRead(t *testing.T) {
	h := NewHarness()
	defer h.Close()
	h.Seed(1, 1500000)

	resp, err := http.Get(h.StreamURL(1))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Length"); got != "1500000" {
		t.Fatalf("Content-Length = %q, want 1500000", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges = %q, want bytes", got)
	}
	if want := `inline; filename="seed-1.bin"`; resp.Header.Get("Content-Disposition") != want {
		t.Fatalf("Content-Disposition = %q, want %q", resp.Header.Get("Content-Disposition"), want)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != 1500000 {
		t.Fatalf("body length = %d, want 1500000", len(body))
	}
}

// TestS2RangeAcrossChunkBoundary covers scenario S2: a range straddling
// the first chunk boundary.
func TestS2RangeAcrossChunkBoundary(t *testing.T) {
	h := NewHarness()
	defer h.Close()
	h.Seed(2, 1500000)

	resp := doRangeRequest(t, h.StreamURL(2), "bytes=500000-1000000")
	defer resp.Body.Close()

	assertPartial(t, resp, 500001, "bytes 500000-1000000/1500000")
}

// TestS3RangeStartingOnChunkBoundary covers scenario S3.
func TestS3RangeStartingOnChunkBoundary(t *testing.T) {
	h := NewHarness()
	defer h.Close()
	h.Seed(3, 1500000)

	resp := doRangeRequest(t, h.StreamURL(3), "bytes=1048576-1499999")
	defer resp.Body.Close()

	assertPartial(t, resp, 451424, "bytes 1048576-1499999/1500000")
}

// TestS4TailRange covers scenario S4: a short range entirely within the
// second chunk.
func TestS4TailRange(t *testing.T) {
	h := NewHarness()
	defer h.Close()
	h.Seed(4, 1500000)

	resp := doRangeRequest(t, h.StreamURL(4), "bytes=1400000-1499999")
	defer resp.Body.Close()

	assertPartial(t, resp, 100000, "bytes 1400000-1499999/1500000")
}

// TestS5UnsatisfiableRange covers scenario S5: a range entirely beyond
// the end of the file must be rejected, not silently clamped.
func TestS5UnsatisfiableRange(t *testing.T) {
	h := NewHarness()
	defer h.Close()
	h.Seed(5, 1500000)

	resp := doRangeRequest(t, h.StreamURL(5), "bytes=1600000-1700000")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes */1500000" {
		t.Fatalf("Content-Range = %q, want bytes */1500000", got)
	}
}

// TestS6SelfHealsAcrossExpiredReference covers scenario S6: a full-file
// range read that hits an injected reference-expiry partway through must
// still deliver a byte-exact body after self-healing.
func TestS6SelfHealsAcrossExpiredReference(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	const size = 3 * ChunkSize
	channelID, msgID := h.Seed(6, size)

	// The fault fires when chunk 1 is requested, i.e. after the first
	// 1,048,576 bytes; the resume then starts at chunk_offset=1 with
	// head_skip=0.
	h.Client.InjectFault(channelID, msgID, 1, telegram.ErrReferenceExpired)

	resp := doRangeRequest(t, h.StreamURL(6), "bytes=0-3145727")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != size {
		t.Fatalf("body length = %d, want %d", len(body), size)
	}
	for i, b := range body {
		if want := byte(i % 251); b != want {
			t.Fatalf("body byte %d = %d, want %d", i, b, want)
		}
	}
}

// TestUnknownFileReturns404 covers invariant 8: an unindexed
// (channel, msg) pair never reaches the upstream client.
func TestUnknownFileReturns404(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	resp, err := http.Get(h.StreamURL(999))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func doRangeRequest(t *testing.T, url, rangeHeader string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Range", rangeHeader)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return resp
}

func assertPartial(t *testing.T, resp *http.Response, wantLength int64, wantContentRange string) {
	t.Helper()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != wantContentRange {
		t.Fatalf("Content-Range = %q, want %q", got, wantContentRange)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if int64(len(body)) != wantLength {
		t.Fatalf("body length = %d, want %d", len(body), wantLength)
	}
}
