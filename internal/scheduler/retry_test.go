package scheduler

import (
	"testing"
	"time"

	"github.com/thaian1234/sync-service/internal/domain"
)

func pendingEntry(id string, retryCount int, lastRetry *time.Time) domain.DlqEntry {
	return domain.DlqEntry{
		ID:          id,
		Status:      domain.DlqPending,
		RetryCount:  retryCount,
		MaxRetries:  domain.DefaultMaxRetries,
		LastRetryAt: lastRetry,
	}
}

func TestFilterReady_SkipsEntriesInsideBackoff(t *testing.T) {
	now := time.Now()
	longAgo := now.Add(-time.Hour)
	justNow := now.Add(-100 * time.Millisecond)

	entries := []domain.DlqEntry{
		pendingEntry("a", 0, nil),
		pendingEntry("b", 2, &justNow),
		pendingEntry("c", 1, &longAgo),
	}

	ready := filterReady(entries, now, 10)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready entries, got %d", len(ready))
	}
	if ready[0].ID != "a" || ready[1].ID != "c" {
		t.Errorf("expected oldest-first order a,c, got %s,%s", ready[0].ID, ready[1].ID)
	}
}

func TestFilterReady_CapsAtLimit(t *testing.T) {
	now := time.Now()
	entries := make([]domain.DlqEntry, 10)
	for i := range entries {
		entries[i] = pendingEntry(string(rune('a'+i)), 0, nil)
	}

	ready := filterReady(entries, now, 3)
	if len(ready) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(ready))
	}
	if ready[0].ID != "a" {
		t.Errorf("cap must keep the oldest entries, got first id %s", ready[0].ID)
	}
}

func TestFilterReady_SkipsExhaustedEntries(t *testing.T) {
	now := time.Now()
	longAgo := now.Add(-time.Hour)

	exhausted := pendingEntry("x", domain.DefaultMaxRetries, &longAgo)
	ready := filterReady([]domain.DlqEntry{exhausted}, now, 10)
	if len(ready) != 0 {
		t.Errorf("entry with retries exhausted must not be replayed, got %d", len(ready))
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		status domain.DlqStatus
		manual bool
		want   bool
	}{
		{domain.DlqPending, false, true},
		{domain.DlqPending, true, true},
		{domain.DlqFailed, false, false},
		{domain.DlqFailed, true, true},
		{domain.DlqRetrying, false, false},
		{domain.DlqRetrying, true, true},
		{domain.DlqSuccess, true, false},
		{domain.DlqArchived, true, false},
	}

	for _, tt := range tests {
		if got := retryable(tt.status, tt.manual); got != tt.want {
			t.Errorf("retryable(%s, manual=%v) = %v, want %v", tt.status, tt.manual, got, tt.want)
		}
	}
}
