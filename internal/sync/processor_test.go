package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"syscall"
	"testing"

	"github.com/thaian1234/sync-service/internal/domain"
	"github.com/thaian1234/sync-service/internal/store"
)

type fakeApplier struct {
	applied []*domain.DomainEvent
	err     error
}

func (f *fakeApplier) Apply(ctx context.Context, event *domain.DomainEvent) error {
	f.applied = append(f.applied, event)
	return f.err
}

type fakeDlq struct {
	entries []store.DlqInput
	err     error
}

func (f *fakeDlq) EnqueueDlq(ctx context.Context, in store.DlqInput) (*domain.DlqEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.entries = append(f.entries, in)
	return &domain.DlqEntry{
		ID:           "dlq-1",
		EventID:      in.EventID,
		TableName:    in.TableName,
		Operation:    in.Operation,
		Payload:      in.Payload,
		ErrorMessage: in.ErrorMessage,
		Status:       domain.DlqPending,
	}, nil
}

type fakeNotifier struct {
	enqueued []*domain.DlqEntry
}

func (f *fakeNotifier) DlqEnqueued(entry *domain.DlqEntry) {
	f.enqueued = append(f.enqueued, entry)
}

func setupProcessor(t *testing.T) (*Processor, *fakeApplier, *fakeDlq, *fakeNotifier) {
	t.Helper()
	applier := &fakeApplier{}
	dlq := &fakeDlq{}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewProcessor(applier, dlq, notifier, logger), applier, dlq, notifier
}

const productCreate = `{"__op":"c","__source_ts_ms":1000,"__source_table":"products","id":42,"name":"Widget","price":9.99,"stock":5,"status":"ACTIVE"}`

func TestProcess_AppliesValidEvent(t *testing.T) {
	p, applier, dlq, _ := setupProcessor(t)

	if err := p.Process(context.Background(), []byte(productCreate)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(applier.applied) != 1 {
		t.Fatalf("expected 1 applied event, got %d", len(applier.applied))
	}
	if got := applier.applied[0].EventID; got != "products-42-c-1000" {
		t.Errorf("unexpected event id %q", got)
	}
	if len(dlq.entries) != 0 {
		t.Errorf("valid event must not reach the dlq, got %d entries", len(dlq.entries))
	}
}

func TestProcess_MalformedEnvelopeGoesToDlq(t *testing.T) {
	p, applier, dlq, notifier := setupProcessor(t)

	if err := p.Process(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("terminal failure must report a committable outcome: %v", err)
	}

	if len(applier.applied) != 0 {
		t.Error("malformed envelope must not reach the applier")
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.TableName != "unknown" || entry.Operation != "unknown" {
		t.Errorf("unparseable envelope should record unknown hints, got %q/%q", entry.TableName, entry.Operation)
	}
	if string(entry.Payload) != "not json" {
		t.Errorf("dlq must preserve the raw payload, got %q", entry.Payload)
	}
	if len(notifier.enqueued) != 1 {
		t.Errorf("expected 1 notification, got %d", len(notifier.enqueued))
	}
}

func TestProcess_UnknownTableKeepsEnvelopeHints(t *testing.T) {
	p, _, dlq, _ := setupProcessor(t)

	raw := `{"__op":"c","__source_ts_ms":1000,"__source_table":"invoices","id":7}`
	if err := p.Process(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dlq.entries) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.TableName != "invoices" || entry.Operation != "c" {
		t.Errorf("hints not preserved: %q/%q", entry.TableName, entry.Operation)
	}
	if entry.EventID != "invoices-7-c-1000" {
		t.Errorf("expected derived event id, got %q", entry.EventID)
	}
}

func TestProcess_TerminalApplyErrorGoesToDlq(t *testing.T) {
	p, applier, dlq, _ := setupProcessor(t)
	applier.err = errors.New("value too long for column")

	if err := p.Process(context.Background(), []byte(productCreate)); err != nil {
		t.Fatalf("terminal apply failure must be committable: %v", err)
	}

	if len(dlq.entries) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].EventID != "products-42-c-1000" {
		t.Errorf("dlq entry should carry the transformed event id, got %q", dlq.entries[0].EventID)
	}
	if dlq.entries[0].ErrorMessage != "value too long for column" {
		t.Errorf("unexpected error message %q", dlq.entries[0].ErrorMessage)
	}
}

func TestProcess_TransientApplyErrorIsRedelivered(t *testing.T) {
	p, _, dlq, _ := setupProcessor(t)
	transient := &fakeApplier{err: syscall.ECONNREFUSED}
	p.applier = transient

	err := p.Process(context.Background(), []byte(productCreate))
	if err == nil {
		t.Fatal("transient failure must propagate so the offset is not committed")
	}
	if len(dlq.entries) != 0 {
		t.Error("transient failure must not be captured into the dlq")
	}
}

func TestProcess_DlqWriteFailureIsSwallowed(t *testing.T) {
	p, _, dlq, notifier := setupProcessor(t)
	dlq.err = errors.New("dlq table unavailable")

	if err := p.Process(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("dlq write failure must not block the partition: %v", err)
	}
	if len(notifier.enqueued) != 0 {
		t.Error("no notification expected when the dlq write failed")
	}
}
