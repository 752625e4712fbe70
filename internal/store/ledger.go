package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ProcessedEventRecord is a row of the processed_events ledger. One row per
// applied event id; rows are never updated or deleted in normal operation.
type ProcessedEventRecord struct {
	EventID     string    `json:"event_id"`
	TableName   string    `json:"table_name"`
	RecordID    int64     `json:"record_id"`
	Operation   string    `json:"operation"`
	ProcessedAt time.Time `json:"processed_at"`
}

// MarkProcessed inserts the ledger row inside the apply transaction. The
// insert itself arbitrates concurrent duplicate applies: on a unique-key
// conflict nothing is inserted and the returned bool is false, meaning a
// concurrent or earlier transaction already applied this event id. Callers
// must then roll back and treat the event as a no-op.
func (s *PostgresStore) MarkProcessed(ctx context.Context, tx pgx.Tx, eventID, tableName string, recordID int64, operation string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, table_name, record_id, operation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, tableName, recordID, operation)
	if err != nil {
		return false, fmt.Errorf("inserting ledger row: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetProcessedEvent returns the ledger row for an event id, or nil if the
// event has never been applied.
func (s *PostgresStore) GetProcessedEvent(ctx context.Context, eventID string) (*ProcessedEventRecord, error) {
	var rec ProcessedEventRecord
	err := s.pool.QueryRow(ctx, `
		SELECT event_id, table_name, record_id, operation, processed_at
		FROM processed_events WHERE event_id = $1
	`, eventID).Scan(&rec.EventID, &rec.TableName, &rec.RecordID, &rec.Operation, &rec.ProcessedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	return &rec, nil
}
