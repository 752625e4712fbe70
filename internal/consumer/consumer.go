// Package consumer reads flattened CDC envelopes from Kafka and feeds them
// to the processing pipeline with at-least-once delivery.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler processes one raw envelope. A nil return means the message
// reached a terminal outcome and its offset may be committed.
type Handler interface {
	Process(ctx context.Context, raw []byte) error
}

// Config for the consumer group.
type Config struct {
	Brokers     []string
	Topics      []string
	GroupID     string
	Concurrency int
}

const (
	minBytes = 1
	maxBytes = 10e6
	maxWait  = 500 * time.Millisecond

	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second
)

// Runner owns a pool of group readers, one per worker goroutine. Kafka
// balances partitions across the readers, so per-key ordering is preserved
// while distinct partitions progress in parallel.
type Runner struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
}

func NewRunner(cfg Config, handler Handler, logger *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runner{cfg: cfg, handler: handler, logger: logger}
}

// Run blocks until ctx is cancelled, consuming with cfg.Concurrency workers.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("consumer starting",
		"brokers", r.cfg.Brokers,
		"topics", r.cfg.Topics,
		"group_id", r.cfg.GroupID,
		"concurrency", r.cfg.Concurrency,
	)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()

	r.logger.Info("consumer stopped")
	return nil
}

func (r *Runner) runWorker(ctx context.Context, worker int) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     r.cfg.Brokers,
		GroupID:     r.cfg.GroupID,
		GroupTopics: r.cfg.Topics,
		MinBytes:    minBytes,
		MaxBytes:    maxBytes,
		MaxWait:     maxWait,
	})
	defer reader.Close()

	logger := r.logger.With("worker", worker)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			logger.Error("fetching message", "error", err)
			if !sleepCtx(ctx, retryBaseDelay) {
				return
			}
			continue
		}

		if err := r.handleWithRetry(ctx, logger, msg.Value); err != nil {
			// Only context cancellation escapes handleWithRetry. Leave the
			// offset uncommitted so the message is redelivered on restart.
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("committing offset",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handleWithRetry invokes the handler until it reports a terminal outcome,
// backing off between attempts. The handler only returns errors for
// transient infrastructure failures, so retrying in place is correct: the
// idempotency check makes a repeat apply harmless.
func (r *Runner) handleWithRetry(ctx context.Context, logger *slog.Logger, raw []byte) error {
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := r.handler.Process(ctx, raw)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("processing interrupted: %w", ctx.Err())
		}

		logger.Warn("transient processing failure, backing off",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

// sleepCtx sleeps for d or until ctx is done, reporting whether the full
// sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
