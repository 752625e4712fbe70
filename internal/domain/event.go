package domain

import "fmt"

// EventType classifies a CDC row change after transformation.
type EventType string

const (
	EventCreated  EventType = "CREATED"
	EventUpdated  EventType = "UPDATED"
	EventDeleted  EventType = "DELETED"
	EventSnapshot EventType = "SNAPSHOT"
)

// Source table names recognized by the transformer.
const (
	TableCustomers = "customers"
	TableProducts  = "products"
	TableOrders    = "orders"
)

// EntityPayload is the closed set of entity records a DomainEvent can carry.
// The entity set is fixed at compile time, so dispatch on the concrete type
// is exhaustive.
type EntityPayload interface {
	// RecordID returns the upstream natural id of the affected row.
	RecordID() int64
}

// CustomerPayload is the customer row extracted from a CDC envelope.
type CustomerPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (p CustomerPayload) RecordID() int64 { return p.ID }

// ProductPayload is the product row extracted from a CDC envelope.
type ProductPayload struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	Category    string  `json:"category"`
	Status      string  `json:"status"`
}

func (p ProductPayload) RecordID() int64 { return p.ID }

// OrderPayload is the order row extracted from a CDC envelope.
type OrderPayload struct {
	ID         int64   `json:"id"`
	CustomerID int64   `json:"customer_id"`
	Total      float64 `json:"total"`
	Status     string  `json:"status"`
}

func (p OrderPayload) RecordID() int64 { return p.ID }

// Metadata carries transformation context alongside the payload.
type Metadata struct {
	Snapshot bool `json:"snapshot"`
}

// DomainEvent is a typed, immutable row-change event. EventID is derived
// deterministically from the source change, so redelivery of the same
// upstream change always produces the same id.
type DomainEvent struct {
	EventID     string        `json:"event_id"`
	Type        EventType     `json:"type"`
	SourceTable string        `json:"source_table"`
	TimestampMs int64         `json:"timestamp_ms"`
	Payload     EntityPayload `json:"payload"`
	Metadata    Metadata      `json:"metadata"`
}

// EventID derives the deterministic event identifier for a CDC change:
// {table}-{recordId}-{op}-{sourceTimestampMs}.
func EventID(table string, recordID int64, op string, tsMs int64) string {
	return fmt.Sprintf("%s-%d-%s-%d", table, recordID, op, tsMs)
}
