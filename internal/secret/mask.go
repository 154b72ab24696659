// Package secret provides a logging adapter that strips URL userinfo
// credentials ("user:pass@", as in a database connection string) from
// diagnostic output before it reaches the underlying handler. Only
// top-level string attribute values are rewritten; grouped attributes,
// non-string values such as errors, the log message itself, and secrets
// that are not URL userinfo (a bare bot token, an authorization key)
// pass through unchanged.
package secret

import (
	"context"
	"log/slog"
	"regexp"
)

// userinfoPattern matches the "user:pass@" portion of a URL-like string.
var userinfoPattern = regexp.MustCompile(`://[^/@\s]+:[^/@\s]+@`)

// MaskingHandler wraps a slog.Handler and redacts userinfo credentials
// from every top-level string attribute value before emitting the
// record.
type MaskingHandler struct {
	next slog.Handler
}

// NewMaskingHandler wraps next with credential masking.
func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(maskAttr(a))
		return true
	})
	return h.next.Handle(ctx, masked)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = maskAttr(a)
	}
	return &MaskingHandler{next: h.next.WithAttrs(masked)}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func maskAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		if masked := Mask(a.Value.String()); masked != a.Value.String() {
			return slog.String(a.Key, masked)
		}
	}
	return a
}

// Mask strips "user:pass@" userinfo from a URL-like string. Strings with
// no userinfo segment are returned unchanged.
func Mask(s string) string {
	return userinfoPattern.ReplaceAllString(s, "://***:***@")
}
