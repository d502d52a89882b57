// Package publish relays outbox facts to Kafka for the analytics warehouse.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/service"
)

// Config tunes the relay.
type Config struct {
	Brokers    []string
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

// NewProducer connects a synchronous producer that waits for every in-sync
// replica.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// Relay moves pending outbox rows to Kafka. Delivery is at least once: a row
// is marked sent only after the broker acknowledged it.
type Relay struct {
	store    service.OutboxStore
	producer sarama.SyncProducer
	metrics  *metrics.Metrics
	cfg      Config
}

// NewRelay creates a relay.
func NewRelay(store service.OutboxStore, producer sarama.SyncProducer, m *metrics.Metrics, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Relay{store: store, producer: producer, metrics: m, cfg: cfg}
}

// Start relays on every tick until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	slog.Info("Outbox relay started", "interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Outbox relay pass failed", "error", err)
			}
		}
	}
}

// Flush sends one batch of pending rows and reports how many were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	messages, err := r.store.GetPendingOutbox(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if r.send(ctx, msg) {
			sent++
		}
	}
	return sent, nil
}

func (r *Relay) send(ctx context.Context, msg model.OutboxMessage) bool {
	_, _, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.StringEncoder(msg.MessageKey),
		Value: sarama.StringEncoder(msg.Payload),
	})
	if err == nil {
		r.metrics.Outbox(msg.Topic, "sent")
		if markErr := r.store.MarkOutboxSent(ctx, msg.ID); markErr != nil {
			slog.Error("Failed to mark outbox message sent", "id", msg.ID, "error", markErr)
		}
		return true
	}

	r.metrics.Outbox(msg.Topic, "error")
	slog.Warn("Failed to relay outbox message",
		"id", msg.ID,
		"topic", msg.Topic,
		"retry_count", msg.RetryCount,
		"error", err)

	if markErr := r.store.MarkOutboxRetry(ctx, msg.ID, r.cfg.MaxRetries); markErr != nil {
		slog.Error("Failed to record outbox retry", "id", msg.ID, "error", markErr)
		return false
	}
	if msg.RetryCount+1 >= r.cfg.MaxRetries {
		r.metrics.Outbox(msg.Topic, "failed")
		slog.Error("Outbox message exceeded retries, marked failed", "id", msg.ID, "topic", msg.Topic)
	}
	return false
}

// Close closes the producer.
func (r *Relay) Close() error {
	return r.producer.Close()
}
