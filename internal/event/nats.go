// Package event publishes file-archived notifications to NATS JetStream
// so downstream consumers (catalog cache warmers, notification bots) can
// react without polling the metadata store.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DCspare/StreamVault/internal/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publisher defines the event publishing operations the ingest
// component requires.
type Publisher interface {
	PublishFileArchived(ctx context.Context, file model.ArchivedFile) error
	Close() error
}

// noop is used when NATS is not configured; the service must still
// function without event streaming.
type noop struct{}

func (n *noop) Close() error { return nil }
func (n *noop) PublishFileArchived(ctx context.Context, file model.ArchivedFile) error { return nil }

type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext

	dedup map[string]time.Time
	mutex sync.RWMutex
}

// NewPublisher connects to natsURL and initializes the SV_FILES stream.
// If natsURL is empty or connection fails, it returns a no-op publisher
// so the service degrades gracefully rather than failing startup.
func NewPublisher(natsURL string) Publisher {
	if natsURL == "" {
		return &noop{}
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:    nc,
		js:    js,
		dedup: make(map[string]time.Time),
	}
}

func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "SV_FILES",
		Subjects:  []string{"streamvault.files.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create SV_FILES stream: %w", err)
	}
	return nil
}

// EventEnvelope is the standard wrapper every published event carries.
type EventEnvelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func dedupKey(channelID, msgID int64) string {
	return fmt.Sprintf("%d:%d", channelID, msgID)
}

// shouldDedup suppresses a duplicate FileArchived publish for the same
// file within a two-minute window, covering retried ingest attempts
// that re-upsert the same (channel_id, msg_id).
func (p *natsPub) shouldDedup(key string) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if lastTime, exists := p.dedup[key]; exists {
		return time.Since(lastTime) < 2*time.Minute
	}
	return false
}

func (p *natsPub) updateDedup(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = time.Now()
}

// PublishFileArchived announces that a file has been indexed and is now
// streamable.
func (p *natsPub) PublishFileArchived(ctx context.Context, file model.ArchivedFile) error {
	key := dedupKey(file.ChannelID, file.MsgID)
	if p.shouldDedup(key) {
		return nil
	}

	envelope := EventEnvelope{
		Type:          "streamvault.files.archived",
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       file,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish("streamvault.files.archived", b); err != nil {
		return err
	}

	p.updateDedup(key)
	return nil
}
