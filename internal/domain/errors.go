package domain

import (
	"fmt"
	"strings"
)

// MalformedEventError indicates a CDC envelope that is not a JSON object or
// is missing one or more of the required core fields
// (__op, __source_ts_ms, __source_table, id).
type MalformedEventError struct {
	Reason  string
	Missing []string
}

func (e *MalformedEventError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid CDC event structure: missing fields %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid CDC event structure: %s", e.Reason)
}

// UnknownSourceTableError indicates an envelope from a table with no mapper.
type UnknownSourceTableError struct {
	Table string
}

func (e *UnknownSourceTableError) Error() string {
	return fmt.Sprintf("unknown source table: %s", e.Table)
}

// UnknownOperationError indicates an operation code outside c/u/d/r.
type UnknownOperationError struct {
	Op string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown CDC operation: %s", e.Op)
}

// PayloadValidationError aggregates all field-level problems found while
// extracting an entity payload.
type PayloadValidationError struct {
	Table    string
	Problems []string
}

func (e *PayloadValidationError) Error() string {
	return fmt.Sprintf("%s payload validation failed: %s", e.Table, strings.Join(e.Problems, "; "))
}

// CircuitOpenError is returned by the circuit breaker when a call is
// rejected without invoking the wrapped operation.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}
