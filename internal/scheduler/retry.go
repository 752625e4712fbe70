// Package scheduler drains the DLQ: a ticker-driven loop that replays
// eligible entries through the same apply path live events use.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/thaian1234/sync-service/internal/cache"
	"github.com/thaian1234/sync-service/internal/domain"
	"github.com/thaian1234/sync-service/internal/metrics"
	"github.com/thaian1234/sync-service/internal/store"
	syncer "github.com/thaian1234/sync-service/internal/sync"
	"github.com/thaian1234/sync-service/internal/transform"
)

// Outcome of one replay attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeSkipped Outcome = "SKIPPED"
)

// AlertChecker evaluates DLQ thresholds and dispatches alerts.
type AlertChecker interface {
	CheckAndAlert(ctx context.Context) error
	SendCritical(ctx context.Context, title, message string, metadata map[string]any)
}

// ActivityNotifier receives replay outcomes for live observers. May be nil.
type ActivityNotifier interface {
	RetryFinished(id string, outcome Outcome)
}

// RetryScheduler periodically fetches PENDING entries whose backoff window
// has elapsed and replays them. Each entry is handled in its own
// transaction, so one poisoned entry never blocks the rest of a batch.
type RetryScheduler struct {
	store    *store.PostgresStore
	applier  *syncer.Applier
	cache    *cache.IdempotencyCache
	alerts   AlertChecker
	notifier ActivityNotifier
	logger   *slog.Logger

	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewRetryScheduler(
	pg *store.PostgresStore,
	applier *syncer.Applier,
	c *cache.IdempotencyCache,
	alerts AlertChecker,
	notifier ActivityNotifier,
	interval time.Duration,
	batchSize int,
	logger *slog.Logger,
) *RetryScheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RetryScheduler{
		store:     pg,
		applier:   applier,
		cache:     c,
		alerts:    alerts,
		notifier:  notifier,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, executing one pass per tick. Passes
// never overlap: a slow pass delays the next tick instead of running
// concurrently with it.
func (s *RetryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started", "interval", s.interval, "batch_size", s.batchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce drains the queue in batches until a batch comes back short, then
// evaluates alert thresholds. The threshold check runs even when nothing
// was retried, so a growing backlog is reported without waiting for a
// replay to happen.
func (s *RetryScheduler) RunOnce(ctx context.Context) {
	for {
		n, err := s.retryBatch(ctx)
		if err != nil {
			s.logger.Error("retry pass aborted", "error", err)
			break
		}
		if n < s.batchSize {
			break
		}
	}

	if err := s.alerts.CheckAndAlert(ctx); err != nil {
		s.logger.Error("alert threshold check failed", "error", err)
	}
}

// retryBatch replays up to batchSize eligible entries and reports how many
// were attempted.
func (s *RetryScheduler) retryBatch(ctx context.Context) (int, error) {
	candidates, err := s.store.FetchRetryCandidates(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	ready := filterReady(candidates, s.now(), s.batchSize)
	for i := range ready {
		outcome := s.retryOne(ctx, ready[i].ID, false)
		if s.notifier != nil && outcome != OutcomeSkipped {
			s.notifier.RetryFinished(ready[i].ID, outcome)
		}
		if ctx.Err() != nil {
			return len(ready), ctx.Err()
		}
	}
	return len(ready), nil
}

// filterReady keeps entries whose backoff window has elapsed, preserving
// oldest-first order and capping the result at limit.
func filterReady(entries []domain.DlqEntry, now time.Time, limit int) []domain.DlqEntry {
	ready := make([]domain.DlqEntry, 0, limit)
	for i := range entries {
		if !entries[i].ReadyForRetry(now) {
			continue
		}
		ready = append(ready, entries[i])
		if len(ready) == limit {
			break
		}
	}
	return ready
}

// RetryEntry replays a single entry on operator request, ignoring the
// backoff window. Entries already resolved (SUCCESS, ARCHIVED) are skipped.
func (s *RetryScheduler) RetryEntry(ctx context.Context, id string) Outcome {
	outcome := s.retryOne(ctx, id, true)
	if s.notifier != nil && outcome != OutcomeSkipped {
		s.notifier.RetryFinished(id, outcome)
	}
	return outcome
}

// retryOne runs one replay in its own transaction: lock and re-check the
// entry, mark it RETRYING, transform and apply the stored payload, then
// mark SUCCESS, all atomically. On failure the transaction rolls back and
// the retry count is bumped in a separate transaction, so the failed replay
// leaves no partial writes but the attempt is still recorded.
func (s *RetryScheduler) retryOne(ctx context.Context, id string, manual bool) Outcome {
	tx, err := s.store.Pool().Begin(ctx)
	if err != nil {
		s.logger.Error("beginning retry transaction", "dlq_id", id, "error", err)
		return OutcomeSkipped
	}
	defer tx.Rollback(ctx)

	entry, err := s.store.GetDlqEntryForUpdate(ctx, tx, id)
	if err != nil {
		s.logger.Error("locking dlq entry", "dlq_id", id, "error", err)
		return OutcomeSkipped
	}
	if entry == nil || !retryable(entry.Status, manual) {
		// Another worker got here first, or the entry was resolved
		// between fetch and lock.
		return OutcomeSkipped
	}
	if !manual && entry.RetryCount >= entry.MaxRetries {
		return OutcomeSkipped
	}

	if err := s.store.MarkRetrying(ctx, tx, id); err != nil {
		s.logger.Error("marking dlq entry retrying", "dlq_id", id, "error", err)
		return OutcomeSkipped
	}

	event, applyErr := s.replay(ctx, tx, entry)
	if applyErr != nil {
		_ = tx.Rollback(ctx)
		status, err := s.store.IncrementAndReclassify(ctx, id, applyErr.Error())
		if err != nil {
			s.logger.Error("recording failed replay", "dlq_id", id, "error", err)
		} else if status == domain.DlqFailed {
			s.alerts.SendCritical(ctx, "DLQ entry exhausted retries",
				fmt.Sprintf("event %s from table %s failed after %d attempts", entry.EventID, entry.TableName, entry.MaxRetries),
				map[string]any{
					"dlq_id":   id,
					"event_id": entry.EventID,
					"table":    entry.TableName,
				},
			)
		}
		metrics.DlqRetries.WithLabelValues("failure").Inc()
		s.logger.Warn("dlq replay failed",
			"dlq_id", id,
			"event_id", entry.EventID,
			"retry_count", entry.RetryCount+1,
			"max_retries", entry.MaxRetries,
			"error", applyErr,
		)
		return OutcomeFailed
	}

	if err := s.store.MarkSuccess(ctx, tx, id); err != nil {
		s.logger.Error("marking dlq entry success", "dlq_id", id, "error", err)
		return OutcomeSkipped
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("committing replay", "dlq_id", id, "error", err)
		return OutcomeSkipped
	}

	if event != nil {
		s.cache.MarkProcessed(ctx, event.EventID, event.Type)
	}
	metrics.DlqRetries.WithLabelValues("success").Inc()
	s.logger.Info("dlq replay succeeded", "dlq_id", id, "event_id", entry.EventID)
	return OutcomeSuccess
}

// replay transforms the stored payload and applies it inside tx. A replay
// that turns out to be a duplicate counts as success with no event to
// cache, since the ledger already holds the id.
func (s *RetryScheduler) replay(ctx context.Context, tx pgx.Tx, entry *domain.DlqEntry) (*domain.DomainEvent, error) {
	event, err := transform.Transform(entry.Payload)
	if err != nil {
		return nil, err
	}
	applied, err := s.applier.ApplyInTx(ctx, tx, event)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, nil
	}
	return event, nil
}

// retryable reports whether an entry in the given status may be replayed.
// The scheduler only touches PENDING entries; operators may additionally
// force FAILED and stale RETRYING entries.
func retryable(status domain.DlqStatus, manual bool) bool {
	if status == domain.DlqPending {
		return true
	}
	if manual {
		return status == domain.DlqFailed || status == domain.DlqRetrying
	}
	return false
}
