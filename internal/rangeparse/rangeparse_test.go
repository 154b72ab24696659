package rangeparse

import (
	"errors"
	"strconv"
	"testing"
)

func TestParseNoRange(t *testing.T) {
	r, err := Parse("", 1500000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Full || r.Start != 0 || r.End != 1499999 {
		t.Fatalf("unexpected range: %+v", r)
	}
	if r.Want() != 1500000 {
		t.Fatalf("want = %d, expected 1500000", r.Want())
	}
}

// S2: bytes=500000-1000000 on a 1,500,000 byte file.
func TestParseS2(t *testing.T) {
	r, err := Parse("bytes=500000-1000000", 1500000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Want() != 500001 {
		t.Fatalf("want = %d, expected 500001", r.Want())
	}
	plan := Plan(r)
	if plan.ChunkOffset != 0 || plan.HeadSkip != 500000 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

// S3: bytes=1048576-1499999.
func TestParseS3(t *testing.T) {
	r, err := Parse("bytes=1048576-1499999", 1500000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Want() != 451424 {
		t.Fatalf("want = %d, expected 451424", r.Want())
	}
	plan := Plan(r)
	if plan.ChunkOffset != 1 || plan.HeadSkip != 0 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

// S4: bytes=1400000-1499999.
func TestParseS4(t *testing.T) {
	r, err := Parse("bytes=1400000-1499999", 1500000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Want() != 100000 {
		t.Fatalf("want = %d, expected 100000", r.Want())
	}
	plan := Plan(r)
	if plan.ChunkOffset != 1 || plan.HeadSkip != 351424 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

// S5: bytes=1600000-1700000 is out of bounds.
func TestParseS5(t *testing.T) {
	_, err := Parse("bytes=1600000-1700000", 1500000)
	if !errors.Is(err, ErrNotSatisfiable) {
		t.Fatalf("expected ErrNotSatisfiable, got %v", err)
	}
}

// S7: S > E, start >= N, and multi-range all fail.
func TestParseUnsatisfiableVariants(t *testing.T) {
	cases := []string{
		"bytes=5-2",
		"bytes=1500000-",
		"bytes=0-1,5-6",
		"bytes=",
		"bytes=abc-def",
		"bytes=-500",
	}
	for _, header := range cases {
		if _, err := Parse(header, 1500000); !errors.Is(err, ErrNotSatisfiable) {
			t.Errorf("header %q: expected ErrNotSatisfiable, got %v", header, err)
		}
	}
}

func TestParseEndOmitted(t *testing.T) {
	r, err := Parse("bytes=100-", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.End != 999 || r.Want() != 900 {
		t.Fatalf("unexpected range: %+v", r)
	}
}

// Property-style sweep over S in [0, 10*Chunk]: chunk_offset and head_skip
// must satisfy the defining arithmetic for every offset.
func TestPlanArithmeticSweep(t *testing.T) {
	const size = 11 * Chunk
	for s := int64(0); s <= 10*Chunk; s += 65537 {
		r, err := Parse("bytes="+strconv.FormatInt(s, 10)+"-"+strconv.FormatInt(size-1, 10), size)
		if err != nil {
			t.Fatalf("S=%d: unexpected error: %v", s, err)
		}
		plan := Plan(r)
		if plan.ChunkOffset != s/Chunk {
			t.Errorf("S=%d: chunk_offset = %d, expected %d", s, plan.ChunkOffset, s/Chunk)
		}
		if plan.HeadSkip != s%Chunk {
			t.Errorf("S=%d: head_skip = %d, expected %d", s, plan.HeadSkip, s%Chunk)
		}
		if plan.Want != size-s {
			t.Errorf("S=%d: want = %d, expected %d", s, plan.Want, size-s)
		}
	}
}

