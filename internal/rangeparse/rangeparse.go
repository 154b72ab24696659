// Package rangeparse parses HTTP Range headers and computes the chunk
// plan the stream engine uses to translate an arbitrary byte range into
// the upstream's fixed-size chunk sequence.
package rangeparse

import (
	"errors"
	"strconv"
	"strings"
)

// Chunk is the upstream protocol's fixed transfer unit. The literal value
// is a wire constant; passing raw byte offsets as chunk indices produces
// offsets three orders of magnitude past end-of-file and is rejected by
// the upstream with an "offset invalid" error.
const Chunk int64 = 1048576

// ErrNotSatisfiable is returned for malformed, multi-range, or
// out-of-bounds range headers. The HTTP layer maps it to 416 with
// Content-Range: bytes */N.
var ErrNotSatisfiable = errors.New("range not satisfiable")

// Range is a validated, fully-resolved byte range [Start, End] inclusive
// over a file of size N bytes.
type Range struct {
	Start int64
	End   int64
	Size  int64
	Full  bool // true when no Range header was present
}

// Want returns the exact number of bytes this range covers.
func (r Range) Want() int64 { return r.End - r.Start + 1 }

// ChunkPlan is the triple that deterministically maps a byte range onto
// an upstream chunk sequence.
type ChunkPlan struct {
	ChunkOffset int64 // how many whole chunks to skip at the upstream
	HeadSkip    int64 // how many bytes to discard from the first fetched chunk
	Want        int64 // exact number of bytes to deliver
}

// Parse parses an optional Range header against a file of the given
// size. Only a single byte range "bytes=S-E?" is supported; "E" may be
// omitted to mean end-of-file. An absent header yields the full range.
// Multi-range headers, malformed syntax, S > E, or E >= size all fail
// with ErrNotSatisfiable.
func Parse(header string, size int64) (Range, error) {
	if header == "" {
		return Range{Start: 0, End: size - 1, Size: size, Full: true}, nil
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return Range{}, ErrNotSatisfiable
	}
	spec := strings.TrimPrefix(header, prefix)

	if strings.Contains(spec, ",") {
		return Range{}, ErrNotSatisfiable
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return Range{}, ErrNotSatisfiable
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// Suffix-length ranges ("bytes=-500") are not part of the
		// spec's supported syntax.
		return Range{}, ErrNotSatisfiable
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Range{}, ErrNotSatisfiable
	}

	var end int64
	if endStr == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return Range{}, ErrNotSatisfiable
		}
	}

	if start > end || end >= size || size <= 0 {
		return Range{}, ErrNotSatisfiable
	}

	return Range{Start: start, End: end, Size: size, Full: false}, nil
}

// Plan computes the chunk plan for a validated range.
func Plan(r Range) ChunkPlan {
	return ChunkPlan{
		ChunkOffset: r.Start / Chunk,
		HeadSkip:    r.Start % Chunk,
		Want:        r.Want(),
	}
}

// PlanFromOffset computes the chunk plan to resume at an arbitrary
// absolute byte position B with `remaining` bytes still owed to the
// client. Used by the stream engine's self-heal path.
func PlanFromOffset(b, remaining int64) ChunkPlan {
	return ChunkPlan{
		ChunkOffset: b / Chunk,
		HeadSkip:    b % Chunk,
		Want:        remaining,
	}
}
