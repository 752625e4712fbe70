// Package transform turns raw flattened Debezium CDC envelopes into typed
// domain events. Transformation is pure and deterministic: the same envelope
// always yields the same event, including its id, whether it arrives from
// the live stream or a DLQ replay.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/thaian1234/sync-service/internal/domain"
)

// Core envelope fields required on every CDC event.
const (
	fieldOp          = "__op"
	fieldSourceTsMs  = "__source_ts_ms"
	fieldSourceTable = "__source_table"
	fieldID          = "id"
)

var opToEventType = map[string]domain.EventType{
	"c": domain.EventCreated,
	"u": domain.EventUpdated,
	"d": domain.EventDeleted,
	"r": domain.EventSnapshot,
}

// Transform parses and validates a raw CDC envelope and routes it to the
// mapper for its source table.
func Transform(raw []byte) (*domain.DomainEvent, error) {
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &domain.MalformedEventError{Reason: "not a JSON object"}
	}
	return transformEnvelope(env)
}

func transformEnvelope(env map[string]any) (*domain.DomainEvent, error) {
	var missing []string
	for _, f := range []string{fieldOp, fieldSourceTsMs, fieldSourceTable, fieldID} {
		if _, ok := env[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.MalformedEventError{Missing: missing}
	}

	table, _ := env[fieldSourceTable].(string)

	switch table {
	case domain.TableCustomers:
		return mapEntity(env, table, mapCustomer)
	case domain.TableProducts:
		return mapEntity(env, table, mapProduct)
	case domain.TableOrders:
		return mapEntity(env, table, mapOrder)
	default:
		return nil, &domain.UnknownSourceTableError{Table: table}
	}
}

// mapEntity handles the parts common to every table: operation mapping,
// timestamp extraction and event id derivation.
func mapEntity(env map[string]any, table string, mapPayload func(*fieldReader) domain.EntityPayload) (*domain.DomainEvent, error) {
	op, _ := env[fieldOp].(string)
	eventType, ok := opToEventType[op]
	if !ok {
		return nil, &domain.UnknownOperationError{Op: op}
	}

	r := &fieldReader{env: env}
	tsMs := r.int64(fieldSourceTsMs, true)
	payload := mapPayload(r)
	if len(r.problems) > 0 {
		return nil, &domain.PayloadValidationError{Table: table, Problems: r.problems}
	}

	return &domain.DomainEvent{
		EventID:     domain.EventID(table, payload.RecordID(), op, tsMs),
		Type:        eventType,
		SourceTable: table,
		TimestampMs: tsMs,
		Payload:     payload,
		Metadata:    domain.Metadata{Snapshot: op == "r"},
	}, nil
}

func mapCustomer(r *fieldReader) domain.EntityPayload {
	return domain.CustomerPayload{
		ID:    r.int64(fieldID, true),
		Name:  r.str("name", true),
		Email: r.str("email", true),
		Phone: r.str("phone", false),
	}
}

func mapProduct(r *fieldReader) domain.EntityPayload {
	return domain.ProductPayload{
		ID:          r.int64(fieldID, true),
		Name:        r.str("name", true),
		Description: r.str("description", false),
		Price:       r.float("price", true),
		Stock:       int(r.int64("stock", true)),
		Category:    r.str("category", false),
		Status:      r.str("status", true),
	}
}

func mapOrder(r *fieldReader) domain.EntityPayload {
	return domain.OrderPayload{
		ID:         r.int64(fieldID, true),
		CustomerID: r.int64("customer_id", true),
		Total:      r.float("total", true),
		Status:     r.str("status", true),
	}
}

// fieldReader extracts typed fields from the decoded envelope, collecting
// every problem instead of failing on the first one.
type fieldReader struct {
	env      map[string]any
	problems []string
}

func (r *fieldReader) addf(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *fieldReader) str(key string, required bool) string {
	v, ok := r.env[key]
	if !ok || v == nil {
		if required {
			r.addf("%s: required field is missing", key)
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.addf("%s: expected string, got %T", key, v)
		return ""
	}
	return s
}

func (r *fieldReader) int64(key string, required bool) int64 {
	v, ok := r.env[key]
	if !ok || v == nil {
		if required {
			r.addf("%s: required field is missing", key)
		}
		return 0
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			r.addf("%s: expected integer, got %v", key, n)
			return 0
		}
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			r.addf("%s: expected integer, got %s", key, n)
			return 0
		}
		return i
	default:
		r.addf("%s: expected integer, got %T", key, v)
		return 0
	}
}

// float accepts both JSON numbers and decimal strings, since Debezium
// renders DECIMAL columns as strings depending on connector configuration.
func (r *fieldReader) float(key string, required bool) float64 {
	v, ok := r.env[key]
	if !ok || v == nil {
		if required {
			r.addf("%s: required field is missing", key)
		}
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			r.addf("%s: expected number, got %q", key, n)
			return 0
		}
		return f
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			r.addf("%s: expected number, got %s", key, n)
			return 0
		}
		return f
	default:
		r.addf("%s: expected number, got %T", key, v)
		return 0
	}
}
