package domain

import (
	"encoding/json"
	"math/rand"
	"time"
)

// DlqStatus is the lifecycle state of a dead-letter entry.
type DlqStatus string

const (
	DlqPending  DlqStatus = "PENDING"
	DlqRetrying DlqStatus = "RETRYING"
	DlqFailed   DlqStatus = "FAILED"
	DlqSuccess  DlqStatus = "SUCCESS"
	DlqArchived DlqStatus = "ARCHIVED"
)

// Retry policy constants.
const (
	DefaultMaxRetries   = 5
	BackoffBaseDelay    = 1 * time.Second
	BackoffMaxDelay     = 5 * time.Minute
	BackoffJitterFactor = 0.3
)

// DlqEntry is a durably stored failed event awaiting retry or manual
// resolution. Payload holds the raw CDC envelope so a retry can replay it
// through the transformer unchanged.
type DlqEntry struct {
	ID           string          `json:"id"`
	EventID      string          `json:"event_id,omitempty"`
	TableName    string          `json:"table_name"`
	Operation    string          `json:"operation"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"error_message"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Status       DlqStatus       `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	LastRetryAt  *time.Time      `json:"last_retry_at,omitempty"`
}

// BackoffBase returns the deterministic part of the retry delay:
// base * 2^retryCount, capped at BackoffMaxDelay.
func BackoffBase(retryCount int) time.Duration {
	if retryCount > 30 {
		return BackoffMaxDelay
	}
	d := BackoffBaseDelay << uint(retryCount)
	if d > BackoffMaxDelay || d <= 0 {
		return BackoffMaxDelay
	}
	return d
}

// BackoffDelay adds up to 30% uniform jitter on top of the exponential base
// so concurrent retries don't synchronize into storms.
func BackoffDelay(retryCount int) time.Duration {
	base := BackoffBase(retryCount)
	jitter := time.Duration(rand.Float64() * BackoffJitterFactor * float64(base))
	return base + jitter
}

// ReadyForRetry reports whether the entry's backoff window has elapsed at
// the given time. Only PENDING entries with retries remaining are eligible.
func (e *DlqEntry) ReadyForRetry(now time.Time) bool {
	if e.Status != DlqPending {
		return false
	}
	if e.RetryCount >= e.MaxRetries {
		return false
	}
	if e.LastRetryAt == nil {
		return true
	}
	return !now.Before(e.LastRetryAt.Add(BackoffDelay(e.RetryCount)))
}
