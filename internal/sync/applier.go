// Package sync implements the idempotent apply path: the two-tier duplicate
// check, the transactional entity mutation, and the event-handling boundary
// that captures failures into the DLQ.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/thaian1234/sync-service/internal/cache"
	"github.com/thaian1234/sync-service/internal/domain"
	"github.com/thaian1234/sync-service/internal/metrics"
	"github.com/thaian1234/sync-service/internal/store"
)

// Applier applies typed domain events to the replica tables exactly once in
// effect. Both the live consumer and the DLQ retry scheduler funnel through
// it.
type Applier struct {
	store  *store.PostgresStore
	cache  *cache.IdempotencyCache
	logger *slog.Logger
}

func NewApplier(pg *store.PostgresStore, c *cache.IdempotencyCache, logger *slog.Logger) *Applier {
	return &Applier{store: pg, cache: c, logger: logger}
}

// Apply runs the full apply for one event: volatile fast path, then one
// transaction holding the ledger insert and the entity mutation. The cache
// is only written after commit; writing it earlier could swallow an event
// if the process crashed before the transaction landed.
func (a *Applier) Apply(ctx context.Context, event *domain.DomainEvent) error {
	if a.cache.IsProcessed(ctx, event.EventID) {
		a.logger.Debug("duplicate event skipped via cache", "event_id", event.EventID)
		metrics.EventsSkipped.WithLabelValues("cache").Inc()
		return nil
	}

	tx, err := a.store.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning apply transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	applied, err := a.ApplyInTx(ctx, tx, event)
	if err != nil {
		return err
	}
	if !applied {
		// The ledger already holds this event id; nothing was written.
		// Roll back and backfill the cache so the next duplicate resolves
		// at the fast path.
		_ = tx.Rollback(ctx)
		a.cache.MarkProcessed(ctx, event.EventID, event.Type)
		a.logger.Debug("duplicate event skipped via ledger", "event_id", event.EventID)
		metrics.EventsSkipped.WithLabelValues("ledger").Inc()
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing apply transaction: %w", err)
	}

	a.cache.MarkProcessed(ctx, event.EventID, event.Type)
	metrics.EventsProcessed.WithLabelValues(event.SourceTable).Inc()
	a.logger.Info("event applied",
		"event_id", event.EventID,
		"table", event.SourceTable,
		"type", event.Type,
	)
	return nil
}

// ApplyInTx performs the durable half of the apply inside the caller's
// transaction: ledger insert first, entity mutation second. The ledger
// insert is the arbiter for concurrent duplicates: if it reports the id as
// already present, ApplyInTx returns false without touching the entity
// tables and the caller must roll back. The retry scheduler calls this
// directly so the replay and the DLQ status change share one transaction.
func (a *Applier) ApplyInTx(ctx context.Context, tx pgx.Tx, event *domain.DomainEvent) (bool, error) {
	inserted, err := a.store.MarkProcessed(ctx, tx, event.EventID, event.SourceTable, event.Payload.RecordID(), string(event.Type))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if err := a.mutate(ctx, tx, event); err != nil {
		return false, err
	}
	return true, nil
}

// mutate dispatches on the closed entity set and the event type.
// CREATED and SNAPSHOT both upsert: a snapshot read means "this row
// currently looks like this". UPDATED and DELETED tolerate absent rows.
func (a *Applier) mutate(ctx context.Context, tx pgx.Tx, event *domain.DomainEvent) error {
	switch p := event.Payload.(type) {
	case domain.CustomerPayload:
		switch event.Type {
		case domain.EventCreated, domain.EventSnapshot:
			return a.store.UpsertCustomer(ctx, tx, p)
		case domain.EventUpdated:
			return a.store.UpdateCustomer(ctx, tx, p)
		case domain.EventDeleted:
			return a.store.DeleteCustomer(ctx, tx, p.ID)
		}
	case domain.ProductPayload:
		switch event.Type {
		case domain.EventCreated, domain.EventSnapshot:
			return a.store.UpsertProduct(ctx, tx, p)
		case domain.EventUpdated:
			return a.store.UpdateProduct(ctx, tx, p)
		case domain.EventDeleted:
			return a.store.DeleteProduct(ctx, tx, p.ID)
		}
	case domain.OrderPayload:
		switch event.Type {
		case domain.EventCreated, domain.EventSnapshot:
			return a.store.UpsertOrder(ctx, tx, p)
		case domain.EventUpdated:
			return a.store.UpdateOrder(ctx, tx, p)
		case domain.EventDeleted:
			return a.store.DeleteOrder(ctx, tx, p.ID)
		}
	}
	return fmt.Errorf("no mutation for %s event on table %s", event.Type, event.SourceTable)
}
