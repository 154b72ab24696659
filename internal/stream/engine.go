// Package stream implements the byte-range streaming engine: it
// translates an HTTP byte range into a chunk plan against the upstream
// chat platform, pulls blobs through the session pool, trims head and
// tail, and self-heals when a file reference expires mid-stream.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	svErrors "github.com/DCspare/StreamVault/internal/errors"
	"github.com/DCspare/StreamVault/internal/metrics"
	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/rangeparse"
	"github.com/DCspare/StreamVault/internal/telegram"
	"github.com/DCspare/StreamVault/internal/telegram/sessionpool"
)

const maxSelfHealRetries = 3

var selfHealBackoff = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

var tracer = otel.Tracer("streamvault/stream")

// ErrNotFound is returned when the upstream has no message at
// (channelID, msgID) or it carries no media.
var ErrNotFound = errors.New("stream: message not found")

// ErrStreamBroken is returned when self-heal retries are exhausted.
var ErrStreamBroken = errors.New("stream: broken after exhausting self-heal retries")

// ErrPrematureEOF is returned when the upstream sequence ends before the
// requested number of bytes has been delivered, without raising a
// recoverable error.
var ErrPrematureEOF = errors.New("stream: premature end of upstream sequence")

// Engine streams byte ranges of archived files from the upstream chat
// platform.
type Engine struct {
	client  telegram.Client
	pool    *sessionpool.Pool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(client telegram.Client, pool *sessionpool.Pool, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{client: client, pool: pool, metrics: m, logger: logger.With(slog.String("component", "stream"))}
}

// Open resolves channelID/msgID to a Message and returns a Session ready
// to Copy the requested range to a writer. It performs no upstream
// streaming calls itself. A missing message surfaces as ErrNotFound;
// any other GetMessage error is returned unchanged. Range validation is
// the caller's job, done via rangeparse before calling Open.
func (e *Engine) Open(ctx context.Context, channelID, msgID int64, rng rangeparse.Range) (*Session, error) {
	msg, err := e.client.GetMessage(ctx, channelID, msgID)
	if err != nil {
		if errors.Is(err, telegram.ErrMessageNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Session{
		engine:  e,
		msg:     msg,
		channelID: channelID,
		msgID:   msgID,
		rng:     rng,
	}, nil
}

// Session is a single stream-to-completion handle bound to one HTTP
// request's range.
type Session struct {
	engine    *Engine
	msg       *model.Message
	channelID int64
	msgID     int64
	rng       rangeparse.Range
}

// Message returns the resolved upstream message metadata (size, mime,
// display name) so the HTTP surface can set response headers before
// Copy begins.
func (s *Session) Message() *model.Message { return s.msg }

// Copy streams exactly s.rng.Want() bytes to w, self-healing on expired
// references and transient network errors. It returns nil only after
// delivering the full requested range.
func (s *Session) Copy(ctx context.Context, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "stream.Copy", trace.WithAttributes(
		attribute.Int64("channel_id", s.channelID),
		attribute.Int64("msg_id", s.msgID),
		attribute.Int64("range.start", s.rng.Start),
		attribute.Int64("range.end", s.rng.End),
	))
	defer span.End()

	want := s.rng.Want()
	plan := rangeparse.Plan(s.rng)

	delivered := int64(0)
	chunkOffset := plan.ChunkOffset
	headSkip := plan.HeadSkip

	var lastErr error
	for attempt := 0; attempt <= maxSelfHealRetries; attempt++ {
		if attempt > 0 {
			span.AddEvent("self_heal_retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
			s.engine.metrics.StreamRetryTotal.WithLabelValues(classify(lastErr)).Inc()

			var flood *telegram.FloodWaitError
			if errors.As(lastErr, &flood) {
				time.Sleep(time.Duration(flood.RetryAfterSeconds) * time.Second)
			} else {
				time.Sleep(selfHealBackoff[attempt-1])
			}

			// ReferenceExpired genuinely invalidates the locator.
			// BlobTimeout and other transient kinds resume against
			// the same locator; only re-resolve if they persist long
			// enough to look like the locator itself went stale, i.e.
			// from the second retry on.
			if errors.Is(lastErr, telegram.ErrReferenceExpired) || attempt > 1 {
				msg, err := s.engine.client.GetMessage(ctx, s.channelID, s.msgID)
				if err != nil {
					return err
				}
				s.msg = msg
			}
		}

		n, err := s.copyOnce(ctx, w, chunkOffset, headSkip, want-delivered)
		delivered += n

		if err == nil {
			s.engine.metrics.StreamBytesTotal.WithLabelValues(string(s.msg.Kind)).Add(float64(delivered))
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if delivered >= want {
			return nil
		}

		if !isRecoverable(err) {
			return err
		}

		lastErr = err
		absolutePos := s.rng.Start + delivered
		chunkOffset = absolutePos / rangeparse.Chunk
		headSkip = absolutePos % rangeparse.Chunk
	}

	s.engine.logger.Error("stream broken after retries", slog.Int64("channel_id", s.channelID), slog.Int64("msg_id", s.msgID), slog.Any("error", lastErr))
	return ErrStreamBroken
}

// copyOnce drives one self-heal attempt: opens a fresh iterator at
// chunkOffset and copies bytes until want bytes (from this attempt's
// perspective) have been delivered or the iterator ends or errors.
func (s *Session) copyOnce(ctx context.Context, w io.Writer, chunkOffset, headSkip, remaining int64) (int64, error) {
	iter, err := s.engine.pool.StreamFrom(ctx, s.msg.Locator, chunkOffset)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var delivered int64
	firstBlob := true
	skip := headSkip

	for delivered < remaining {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		blob, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if delivered < remaining {
					return delivered, ErrPrematureEOF
				}
				return delivered, nil
			}
			return delivered, err
		}

		if firstBlob && skip > 0 {
			if int64(len(blob)) <= skip {
				skip -= int64(len(blob))
				continue
			}
			blob = blob[skip:]
			skip = 0
		}
		firstBlob = false

		if delivered+int64(len(blob)) > remaining {
			blob = blob[:remaining-delivered]
		}

		n, werr := w.Write(blob)
		delivered += int64(n)
		if werr != nil {
			return delivered, werr
		}
		if delivered >= remaining {
			return delivered, nil
		}
	}
	return delivered, nil
}

func isRecoverable(err error) bool {
	return errors.Is(err, telegram.ErrReferenceExpired) ||
		errors.Is(err, telegram.ErrBlobTimeout) ||
		errors.Is(err, telegram.ErrNetworkTransient) ||
		errors.Is(err, telegram.ErrFloodLimited)
}

func classify(err error) string {
	switch {
	case errors.Is(err, telegram.ErrReferenceExpired):
		return string(svErrors.SV_REFERENCE_EXPIRED)
	case errors.Is(err, telegram.ErrBlobTimeout):
		return string(svErrors.SV_BLOB_TIMEOUT)
	case errors.Is(err, telegram.ErrFloodLimited):
		return string(svErrors.SV_FLOOD_LIMITED)
	case err == nil:
		return "none"
	default:
		return string(svErrors.SV_NETWORK_TRANSIENT)
	}
}
