package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/thaian1234/sync-service/internal/domain"
)

// DlqInput holds data for enqueueing a failed event.
type DlqInput struct {
	EventID      string
	TableName    string
	Operation    string
	Payload      json.RawMessage
	ErrorMessage string
	MaxRetries   int
}

const dlqColumns = `id, event_id, table_name, operation, payload, error_message, retry_count, max_retries, status, created_at, last_retry_at`

// EnqueueDlq inserts a new PENDING entry. Callers at the event-handling
// boundary swallow and log the returned error so a DLQ write failure never
// masks the original processing error.
func (s *PostgresStore) EnqueueDlq(ctx context.Context, in DlqInput) (*domain.DlqEntry, error) {
	if in.MaxRetries <= 0 {
		in.MaxRetries = domain.DefaultMaxRetries
	}

	entry := domain.DlqEntry{
		ID:           uuid.New().String(),
		EventID:      in.EventID,
		TableName:    in.TableName,
		Operation:    in.Operation,
		Payload:      in.Payload,
		ErrorMessage: in.ErrorMessage,
		MaxRetries:   in.MaxRetries,
		Status:       domain.DlqPending,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO dlq_events (id, event_id, table_name, operation, payload, error_message, max_retries, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, entry.ID, nullIfEmpty(in.EventID), in.TableName, in.Operation, in.Payload, in.ErrorMessage, in.MaxRetries, domain.DlqPending).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting dlq entry: %w", err)
	}
	return &entry, nil
}

// GetDlqEntry returns a single entry by id, or nil when not found.
func (s *PostgresStore) GetDlqEntry(ctx context.Context, id string) (*domain.DlqEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM dlq_events WHERE id = $1`, id)
	entry, err := scanDlqEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying dlq entry: %w", err)
	}
	return entry, nil
}

// GetDlqEntryForUpdate locks and returns the entry inside tx, so the retry
// scheduler's status re-check holds until its transaction resolves.
func (s *PostgresStore) GetDlqEntryForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.DlqEntry, error) {
	row := tx.QueryRow(ctx, `SELECT `+dlqColumns+` FROM dlq_events WHERE id = $1 FOR UPDATE`, id)
	entry, err := scanDlqEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("locking dlq entry: %w", err)
	}
	return entry, nil
}

// FetchRetryCandidates reads PENDING entries oldest-first, over-fetching
// twice the requested limit. Backoff-window filtering happens in-process in
// the caller, not in the query.
func (s *PostgresStore) FetchRetryCandidates(ctx context.Context, limit int) ([]domain.DlqEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+dlqColumns+` FROM dlq_events
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, domain.DlqPending, limit*2)
	if err != nil {
		return nil, fmt.Errorf("querying retry candidates: %w", err)
	}
	defer rows.Close()

	return collectDlqEntries(rows)
}

// MarkRetrying flips the entry to RETRYING and stamps last_retry_at inside
// the scheduler's transaction.
func (s *PostgresStore) MarkRetrying(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE dlq_events SET status = $2, last_retry_at = NOW() WHERE id = $1
	`, id, domain.DlqRetrying)
	if err != nil {
		return fmt.Errorf("marking dlq entry retrying: %w", err)
	}
	return nil
}

// MarkSuccess records a completed replay inside the scheduler's transaction.
func (s *PostgresStore) MarkSuccess(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `UPDATE dlq_events SET status = $2 WHERE id = $1`, id, domain.DlqSuccess)
	if err != nil {
		return fmt.Errorf("marking dlq entry success: %w", err)
	}
	return nil
}

// MarkFailed terminates the entry after retries are exhausted.
func (s *PostgresStore) MarkFailed(ctx context.Context, tx pgx.Tx, id, errorMessage string) error {
	_, err := tx.Exec(ctx, `
		UPDATE dlq_events SET status = $2, error_message = $3 WHERE id = $1
	`, id, domain.DlqFailed, errorMessage)
	if err != nil {
		return fmt.Errorf("marking dlq entry failed: %w", err)
	}
	return nil
}

// IncrementAndReclassify bumps the retry count after a failed replay and
// flips the entry to FAILED once retries are exhausted, else back to
// PENDING for another backoff cycle. Runs in its own implicit transaction,
// separate from the rolled-back replay. Returns the status the entry ended
// up in.
func (s *PostgresStore) IncrementAndReclassify(ctx context.Context, id, errorMessage string) (domain.DlqStatus, error) {
	var status domain.DlqStatus
	err := s.pool.QueryRow(ctx, `
		UPDATE dlq_events
		SET retry_count = retry_count + 1,
		    error_message = $2,
		    last_retry_at = NOW(),
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'PENDING' END
		WHERE id = $1
		RETURNING status
	`, id, errorMessage).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("reclassifying dlq entry: %w", err)
	}
	return status, nil
}

// ResetDlqEntry zeroes the retry count and re-opens the entry for retry.
func (s *PostgresStore) ResetDlqEntry(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dlq_events SET retry_count = 0, status = $2 WHERE id = $1
	`, id, domain.DlqPending)
	if err != nil {
		return false, fmt.Errorf("resetting dlq entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ArchiveDlqEntry marks the entry operator-resolved.
func (s *PostgresStore) ArchiveDlqEntry(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE dlq_events SET status = $2 WHERE id = $1`, id, domain.DlqArchived)
	if err != nil {
		return false, fmt.Errorf("archiving dlq entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteDlqEntry removes the entry permanently.
func (s *PostgresStore) DeleteDlqEntry(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dlq_events WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting dlq entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DlqFilter narrows List and bulk operations.
type DlqFilter struct {
	Status        domain.DlqStatus
	TableName     string
	Operation     string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ListDlqEntries returns a page of entries plus the total count matching
// the filter, newest first.
func (s *PostgresStore) ListDlqEntries(ctx context.Context, filter DlqFilter, page, limit int) ([]domain.DlqEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	where, args := buildDlqWhere(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dlq_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting dlq entries: %w", err)
	}

	query := `SELECT ` + dlqColumns + ` FROM dlq_events` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying dlq entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectDlqEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListDlqIDs returns ids matching the filter oldest-first, capped at limit.
// Used by bulk retry so each entry still goes through the per-entry
// transactional replay.
func (s *PostgresStore) ListDlqIDs(ctx context.Context, filter DlqFilter, limit int) ([]string, error) {
	where, args := buildDlqWhere(filter)
	query := `SELECT id FROM dlq_events` + where + fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dlq ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning dlq id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BulkArchive archives all entries matching the filter and returns how many
// were touched.
func (s *PostgresStore) BulkArchive(ctx context.Context, filter DlqFilter) (int64, error) {
	where, args := buildDlqWhere(filter)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE dlq_events SET status = $%d`, len(args)+1)+where, append(args, domain.DlqArchived)...)
	if err != nil {
		return 0, fmt.Errorf("bulk archiving dlq entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteArchived hard-deletes every ARCHIVED entry.
func (s *PostgresStore) DeleteArchived(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dlq_events WHERE status = $1`, domain.DlqArchived)
	if err != nil {
		return 0, fmt.Errorf("deleting archived dlq entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DlqStats returns counts grouped by status.
func (s *PostgresStore) DlqStats(ctx context.Context) (*domain.DlqStats, error) {
	var stats domain.DlqStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'RETRYING'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE status = 'ARCHIVED'),
			COUNT(*)
		FROM dlq_events
	`).Scan(&stats.Pending, &stats.Retrying, &stats.Failed, &stats.Success, &stats.Archived, &stats.Total)
	if err != nil {
		return nil, fmt.Errorf("querying dlq stats: %w", err)
	}
	return &stats, nil
}

func buildDlqWhere(filter DlqFilter) (string, []interface{}) {
	args := []interface{}{}
	conditions := []string{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TableName != "" {
		args = append(args, filter.TableName)
		conditions = append(conditions, fmt.Sprintf("table_name = $%d", len(args)))
	}
	if filter.Operation != "" {
		args = append(args, filter.Operation)
		conditions = append(conditions, fmt.Sprintf("operation = $%d", len(args)))
	}
	if filter.CreatedAfter != nil {
		args = append(args, *filter.CreatedAfter)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedBefore != nil {
		args = append(args, *filter.CreatedBefore)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}

	where := " WHERE "
	for i, c := range conditions {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

func scanDlqEntry(row pgx.Row) (*domain.DlqEntry, error) {
	var e domain.DlqEntry
	var eventID *string
	err := row.Scan(
		&e.ID, &eventID, &e.TableName, &e.Operation, &e.Payload,
		&e.ErrorMessage, &e.RetryCount, &e.MaxRetries, &e.Status,
		&e.CreatedAt, &e.LastRetryAt,
	)
	if err != nil {
		return nil, err
	}
	if eventID != nil {
		e.EventID = *eventID
	}
	return &e, nil
}

func collectDlqEntries(rows pgx.Rows) ([]domain.DlqEntry, error) {
	entries := []domain.DlqEntry{}
	for rows.Next() {
		entry, err := scanDlqEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dlq entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
