// Package server implements the HTTP surface of the streaming service:
// byte-range file delivery, the catalog listing/search API, and the
// operational endpoints (health, readiness, metrics).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	svErrors "github.com/DCspare/StreamVault/internal/errors"
	"github.com/DCspare/StreamVault/internal/metrics"
	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/rangeparse"
	"github.com/DCspare/StreamVault/internal/storage"
	"github.com/DCspare/StreamVault/internal/stream"
	"github.com/DCspare/StreamVault/internal/telegram"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ContextKey avoids collisions when storing request-scoped values in
// context.
type ContextKey string

const ContextKeyCorrelationID ContextKey = "correlationId"

var tracer = otel.Tracer("streamvault/server")

// Mux holds the dependencies the HTTP handlers need and exposes the
// wired http.ServeMux.
type Mux struct {
	mux     *http.ServeMux
	store   storage.Store
	engine  *stream.Engine
	client  telegram.Client
	metrics *metrics.Metrics
	logger  *slog.Logger

	publicBaseURL      string
	corsAllowedOrigins []string
}

// New builds the HTTP mux for the streaming service. client is consulted
// before opening a stream session so a disconnected upstream fails fast
// with a 503 instead of hanging in Engine.Open.
func New(store storage.Store, engine *stream.Engine, client telegram.Client, publicBaseURL string, corsAllowedOrigins []string, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		store:              store,
		engine:             engine,
		client:             client,
		metrics:            metrics.NewMetrics(),
		logger:             logger.With(slog.String("component", "server")),
		publicBaseURL:      publicBaseURL,
		corsAllowedOrigins: corsAllowedOrigins,
	}

	m.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		m.handleHealthz(w, r)
	})
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	m.mux.HandleFunc("/stream/", m.withMiddleware(m.handleStream))
	m.mux.HandleFunc("/api/catalog", m.withMiddleware(m.handleCatalog))

	return m.mux
}

// withMiddleware applies CORS and correlation-id bookkeeping, then logs
// the completed request.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if len(m.corsAllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			if origin != "" && m.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Range, X-Correlation-Id")
				w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
		m.logger.Info("request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("correlation_id", correlationID),
		)
	}
}

func (m *Mux) originAllowed(origin string) bool {
	for _, allowed := range m.corsAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (m *Mux) correlationID(r *http.Request) string {
	if v, ok := r.Context().Value(ContextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}

func (m *Mux) writeErrorDef(w http.ResponseWriter, err *svErrors.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": err})
}

func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	_, err := m.store.GetByMsgID(ctx, 0, 0)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStream serves GET/HEAD /stream/{channel_id}/{msg_id}, the core
// byte-range delivery endpoint.
func (m *Mux) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleStream")
	defer span.End()
	correlationID := m.correlationID(r)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		m.writeErrorDef(w, svErrors.New(svErrors.SV_BAD_REQUEST, "method not allowed", correlationID))
		return
	}

	if m.client != nil && !m.client.IsConnected() {
		w.Header().Set("Retry-After", "5")
		m.writeErrorDef(w, svErrors.New(svErrors.SV_UNAVAILABLE, "upstream not connected yet", correlationID))
		return
	}

	channelID, msgID, err := parseStreamPath(r.URL.Path)
	if err != nil {
		m.writeErrorDef(w, svErrors.New(svErrors.SV_BAD_REQUEST, "invalid stream path", correlationID))
		return
	}
	span.SetAttributes(attribute.Int64("channel_id", channelID), attribute.Int64("msg_id", msgID))

	file, err := m.store.GetByMsgID(ctx, channelID, msgID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, svErrors.New(svErrors.SV_NOT_FOUND, "file not found", correlationID))
			return
		}
		span.SetStatus(codes.Error, "storage lookup failed")
		m.writeErrorDef(w, svErrors.New(svErrors.SV_DATABASE_ERROR, "failed to look up file", correlationID))
		return
	}
	if !file.IsActive {
		m.writeErrorDef(w, svErrors.New(svErrors.SV_NOT_FOUND, "file not found", correlationID))
		return
	}

	rng, err := rangeparse.Parse(r.Header.Get("Range"), file.SizeBytes)
	if err != nil {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(file.SizeBytes, 10))
		m.writeErrorDef(w, svErrors.New(svErrors.SV_RANGE_NOT_SATISFIABLE, "range not satisfiable", correlationID))
		return
	}

	sess, err := m.engine.Open(ctx, channelID, msgID, rng)
	if err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			m.writeErrorDef(w, svErrors.New(svErrors.SV_NOT_FOUND, "file not found upstream", correlationID))
			return
		}
		span.SetStatus(codes.Error, "failed to open stream session")
		m.writeErrorDef(w, svErrors.New(svErrors.SV_UNAVAILABLE, "failed to open upstream stream", correlationID))
		return
	}

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(rng.Want(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.DisplayName))

	if rng.Full {
		w.WriteHeader(http.StatusOK)
	} else {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(rng.Start, 10)+"-"+strconv.FormatInt(rng.End, 10)+"/"+strconv.FormatInt(file.SizeBytes, 10))
		w.WriteHeader(http.StatusPartialContent)
	}

	if r.Method == http.MethodHead {
		return
	}

	if err := sess.Copy(ctx, w); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Info("client disconnected mid-stream", slog.Int64("channel_id", channelID), slog.Int64("msg_id", msgID))
			return
		}
		m.logger.Error("stream copy failed after headers sent",
			slog.Int64("channel_id", channelID), slog.Int64("msg_id", msgID), slog.Any("error", err))
	}
}

func parseStreamPath(path string) (int64, int64, error) {
	trimmed := strings.TrimPrefix(path, "/stream/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 {
		return 0, 0, errors.New("expected /stream/{channel_id}/{msg_id}")
	}
	channelID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	msgID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return channelID, msgID, nil
}

// handleCatalog serves GET /api/catalog?uploadedBy=&q=&page=&per_page= —
// a numbered-page listing of active records, switching to full-text
// search when q is present. per_page is capped at 100.
func (m *Mux) handleCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleCatalog")
	defer span.End()
	correlationID := m.correlationID(r)

	if r.Method != http.MethodGet {
		m.writeErrorDef(w, svErrors.New(svErrors.SV_BAD_REQUEST, "method not allowed", correlationID))
		return
	}

	q := r.URL.Query()
	page := 0
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page = n
		}
	}
	perPage := 0
	if v := q.Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			perPage = n
		}
	}

	query := storage.ListQuery{
		Query: q.Get("q"),
		Page:  page,
		Limit: perPage,
	}

	var err error
	var listPage *model.ListPage

	if query.Query != "" {
		span.SetAttributes(attribute.String("query", query.Query))
		listPage, err = m.store.Search(ctx, query)
	} else {
		uploadedByStr := q.Get("uploadedBy")
		if uploadedByStr == "" {
			m.writeErrorDef(w, svErrors.New(svErrors.SV_VALIDATION, "uploadedBy or q is required", correlationID))
			return
		}
		uploadedBy, parseErr := strconv.ParseInt(uploadedByStr, 10, 64)
		if parseErr != nil {
			m.writeErrorDef(w, svErrors.New(svErrors.SV_VALIDATION, "uploadedBy must be an integer", correlationID))
			return
		}
		query.UploadedBy = uploadedBy
		listPage, err = m.store.ListByUser(ctx, query)
	}

	if err != nil {
		span.SetStatus(codes.Error, "catalog query failed")
		m.writeErrorDef(w, svErrors.New(svErrors.SV_DATABASE_ERROR, "failed to query catalog", correlationID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(listPage)
}
