package transform

import (
	"errors"
	"testing"

	"github.com/thaian1234/sync-service/internal/domain"
)

func TestTransform_ProductCreate(t *testing.T) {
	raw := []byte(`{"__op":"c","__source_ts_ms":1000,"__source_table":"products","id":42,"name":"Widget","price":9.99,"stock":5,"status":"ACTIVE"}`)

	event, err := Transform(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if event.EventID != "products-42-c-1000" {
		t.Errorf("expected event id products-42-c-1000, got %s", event.EventID)
	}
	if event.Type != domain.EventCreated {
		t.Errorf("expected type CREATED, got %s", event.Type)
	}
	if event.SourceTable != domain.TableProducts {
		t.Errorf("expected source table products, got %s", event.SourceTable)
	}
	if event.Metadata.Snapshot {
		t.Error("create event should not be marked as snapshot")
	}

	product, ok := event.Payload.(domain.ProductPayload)
	if !ok {
		t.Fatalf("expected ProductPayload, got %T", event.Payload)
	}
	if product.ID != 42 || product.Name != "Widget" || product.Price != 9.99 || product.Stock != 5 {
		t.Errorf("unexpected payload: %+v", product)
	}
}

func TestTransform_Deterministic(t *testing.T) {
	raw := []byte(`{"__op":"u","__source_ts_ms":1699999999123,"__source_table":"customers","id":7,"name":"Alice","email":"alice@example.com"}`)

	first, err := Transform(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Transform(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.EventID != second.EventID {
		t.Errorf("event id not deterministic: %s vs %s", first.EventID, second.EventID)
	}
}

func TestTransform_OperationMapping(t *testing.T) {
	tests := []struct {
		op   string
		want domain.EventType
	}{
		{"c", domain.EventCreated},
		{"u", domain.EventUpdated},
		{"d", domain.EventDeleted},
		{"r", domain.EventSnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			raw := []byte(`{"__op":"` + tt.op + `","__source_ts_ms":1000,"__source_table":"customers","id":1,"name":"A","email":"a@b.c"}`)
			event, err := Transform(raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.Type != tt.want {
				t.Errorf("op %q: expected %s, got %s", tt.op, tt.want, event.Type)
			}
			if snapshot := tt.op == "r"; event.Metadata.Snapshot != snapshot {
				t.Errorf("op %q: expected snapshot=%v", tt.op, snapshot)
			}
		})
	}
}

func TestTransform_SnapshotDecimalAsString(t *testing.T) {
	raw := []byte(`{"__op":"r","__source_ts_ms":500,"__source_table":"orders","id":9,"customer_id":3,"total":"149.50","status":"PAID"}`)

	event, err := Transform(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, ok := event.Payload.(domain.OrderPayload)
	if !ok {
		t.Fatalf("expected OrderPayload, got %T", event.Payload)
	}
	if order.Total != 149.50 {
		t.Errorf("expected total 149.50, got %v", order.Total)
	}
	if !event.Metadata.Snapshot {
		t.Error("snapshot read should be marked as snapshot")
	}
}

func TestTransform_MissingCoreFields(t *testing.T) {
	raw := []byte(`{"__op":"c","id":1}`)

	_, err := Transform(raw)

	var malformed *domain.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEventError, got %v", err)
	}
	if len(malformed.Missing) != 2 {
		t.Errorf("expected 2 missing fields, got %v", malformed.Missing)
	}
}

func TestTransform_NotJSON(t *testing.T) {
	_, err := Transform([]byte(`not json`))

	var malformed *domain.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEventError, got %v", err)
	}
}

func TestTransform_UnknownSourceTable(t *testing.T) {
	raw := []byte(`{"__op":"c","__source_ts_ms":1000,"__source_table":"unknown_table","id":1}`)

	_, err := Transform(raw)

	var unknown *domain.UnknownSourceTableError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownSourceTableError, got %v", err)
	}
	if unknown.Table != "unknown_table" {
		t.Errorf("expected table unknown_table, got %s", unknown.Table)
	}
}

func TestTransform_UnknownOperation(t *testing.T) {
	raw := []byte(`{"__op":"x","__source_ts_ms":1000,"__source_table":"products","id":1,"name":"W","price":1,"stock":1,"status":"ACTIVE"}`)

	_, err := Transform(raw)

	var unknown *domain.UnknownOperationError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownOperationError, got %v", err)
	}
}

func TestTransform_PayloadValidationAggregatesProblems(t *testing.T) {
	// name missing, price is a bool, stock is fractional
	raw := []byte(`{"__op":"c","__source_ts_ms":1000,"__source_table":"products","id":1,"price":true,"stock":1.5,"status":"ACTIVE"}`)

	_, err := Transform(raw)

	var invalid *domain.PayloadValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected PayloadValidationError, got %v", err)
	}
	if len(invalid.Problems) != 3 {
		t.Errorf("expected 3 aggregated problems, got %d: %v", len(invalid.Problems), invalid.Problems)
	}
}

func TestTransform_UpdateWithoutOptionalFields(t *testing.T) {
	raw := []byte(`{"__op":"u","__source_ts_ms":2000,"__source_table":"products","id":42,"name":"Widget","price":12.50,"stock":3,"status":"ACTIVE"}`)

	event, err := Transform(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product := event.Payload.(domain.ProductPayload)
	if product.Description != "" || product.Category != "" {
		t.Errorf("optional fields should default to empty, got %+v", product)
	}
}
