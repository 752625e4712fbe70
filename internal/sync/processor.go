package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/thaian1234/sync-service/internal/domain"
	"github.com/thaian1234/sync-service/internal/metrics"
	"github.com/thaian1234/sync-service/internal/store"
	"github.com/thaian1234/sync-service/internal/transform"
)

// EventApplier applies one typed event idempotently.
type EventApplier interface {
	Apply(ctx context.Context, event *domain.DomainEvent) error
}

// DlqWriter captures a failed event for later replay.
type DlqWriter interface {
	EnqueueDlq(ctx context.Context, in store.DlqInput) (*domain.DlqEntry, error)
}

// ActivityNotifier receives pipeline activity for live observers. May be nil.
type ActivityNotifier interface {
	DlqEnqueued(entry *domain.DlqEntry)
}

// Processor is the single failure-handling boundary for live consumption.
// Everything downstream of it (transform, apply) just returns errors;
// Processor decides whether a failure is terminal and belongs in the DLQ or
// transient and should be redelivered by the transport.
type Processor struct {
	applier  EventApplier
	dlq      DlqWriter
	notifier ActivityNotifier
	logger   *slog.Logger
}

func NewProcessor(applier EventApplier, dlq DlqWriter, notifier ActivityNotifier, logger *slog.Logger) *Processor {
	return &Processor{applier: applier, dlq: dlq, notifier: notifier, logger: logger}
}

// Process handles one raw CDC envelope. A nil return means the message
// reached a terminal outcome (applied, duplicate, or parked in the DLQ) and
// its offset may be committed. A non-nil return is a transient failure: the
// offset must not be committed so the transport redelivers the message.
func (p *Processor) Process(ctx context.Context, raw []byte) error {
	start := time.Now()
	defer func() {
		metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	event, err := transform.Transform(raw)
	if err != nil {
		// Transformation is deterministic, so redelivery cannot help.
		p.capture(ctx, raw, nil, err)
		return nil
	}

	if err := p.applier.Apply(ctx, event); err != nil {
		if store.IsTransient(err) {
			p.logger.Warn("transient apply failure, leaving message for redelivery",
				"event_id", event.EventID,
				"error", err,
			)
			return err
		}
		p.capture(ctx, raw, event, err)
		return nil
	}
	return nil
}

// capture writes the failed envelope to the DLQ. Enqueue errors are logged
// and swallowed: returning them would block the partition behind a message
// we already know cannot be applied.
func (p *Processor) capture(ctx context.Context, raw []byte, event *domain.DomainEvent, cause error) {
	eventID, table, op := envelopeHints(raw)
	if event != nil {
		eventID = event.EventID
		table = event.SourceTable
	}

	entry, err := p.dlq.EnqueueDlq(ctx, store.DlqInput{
		EventID:      eventID,
		TableName:    table,
		Operation:    op,
		Payload:      raw,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		p.logger.Error("failed to capture event into dlq, event is lost",
			"event_id", eventID,
			"table", table,
			"cause", cause,
			"error", err,
		)
		return
	}

	metrics.DlqEnqueued.WithLabelValues(table).Inc()
	p.logger.Warn("event captured into dlq",
		"dlq_id", entry.ID,
		"event_id", eventID,
		"table", table,
		"error", cause,
	)
	if p.notifier != nil {
		p.notifier.DlqEnqueued(entry)
	}
}

// envelopeHints pulls best-effort identifying fields out of an envelope that
// failed transformation, so the DLQ row is still searchable.
func envelopeHints(raw []byte) (eventID, table, op string) {
	var hints struct {
		Op    string      `json:"__op"`
		Table string      `json:"__source_table"`
		Ts    int64       `json:"__source_ts_ms"`
		ID    json.Number `json:"id"`
	}
	table = "unknown"
	op = "unknown"
	if err := json.Unmarshal(raw, &hints); err != nil {
		return "", table, op
	}
	if hints.Table != "" {
		table = hints.Table
	}
	if hints.Op != "" {
		op = hints.Op
	}
	if id, err := hints.ID.Int64(); err == nil && hints.Table != "" && hints.Op != "" {
		eventID = domain.EventID(hints.Table, id, hints.Op, hints.Ts)
	}
	return eventID, table, op
}
