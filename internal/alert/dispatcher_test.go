package alert

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/thaian1234/sync-service/internal/domain"
)

type fakeStats struct {
	stats domain.DlqStats
	err   error
}

func (f *fakeStats) DlqStats(ctx context.Context) (*domain.DlqStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.stats
	return &s, nil
}

type recordingChannel struct {
	mu     sync.Mutex
	name   string
	alerts []domain.Alert
	err    error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, a domain.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *recordingChannel) received() []domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Alert(nil), c.alerts...)
}

func setupDispatcher(t *testing.T, stats *fakeStats, channels ...Channel) (*Dispatcher, *time.Time) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	d := NewDispatcher(stats, Config{PendingThreshold: 100, FailedThreshold: 10, Interval: 5 * time.Minute}, logger, channels...)

	now := time.Now()
	d.now = func() time.Time { return now }
	return d, &now
}

func TestCheckAndAlert_BelowThresholdsStaysQuiet(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d, _ := setupDispatcher(t, &fakeStats{stats: domain.DlqStats{Pending: 99, Failed: 9}}, ch)

	if err := d.CheckAndAlert(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ch.received(); len(got) != 0 {
		t.Errorf("expected no alerts below thresholds, got %d", len(got))
	}
}

func TestCheckAndAlert_PendingBacklogWarns(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d, _ := setupDispatcher(t, &fakeStats{stats: domain.DlqStats{Pending: 100}}, ch)

	if err := d.CheckAndAlert(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := ch.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	if got[0].Severity != domain.SeverityWarning {
		t.Errorf("expected WARNING, got %s", got[0].Severity)
	}
	if got[0].Metadata["pending"] != 100 {
		t.Errorf("expected pending count in metadata, got %v", got[0].Metadata)
	}
}

func TestCheckAndAlert_FailedEventsError(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d, _ := setupDispatcher(t, &fakeStats{stats: domain.DlqStats{Failed: 10}}, ch)

	if err := d.CheckAndAlert(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := ch.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	if got[0].Severity != domain.SeverityError {
		t.Errorf("expected ERROR, got %s", got[0].Severity)
	}
}

func TestCheckAndAlert_BothThresholdsBothAlerts(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d, _ := setupDispatcher(t, &fakeStats{stats: domain.DlqStats{Pending: 500, Failed: 50}}, ch)

	if err := d.CheckAndAlert(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ch.received(); len(got) != 2 {
		t.Errorf("expected 2 alerts, got %d", len(got))
	}
}

func TestCheckAndAlert_RateLimitPerKind(t *testing.T) {
	stats := &fakeStats{stats: domain.DlqStats{Pending: 200}}
	ch := &recordingChannel{name: "rec"}
	d, now := setupDispatcher(t, stats, ch)
	ctx := context.Background()

	d.CheckAndAlert(ctx)
	d.CheckAndAlert(ctx)
	if got := ch.received(); len(got) != 1 {
		t.Fatalf("repeat within the window must be suppressed, got %d alerts", len(got))
	}

	// A different kind crossing inside the same window still fires.
	stats.stats.Failed = 50
	d.CheckAndAlert(ctx)
	got := ch.received()
	if len(got) != 2 {
		t.Fatalf("failed-events alert must not share the pending window, got %d", len(got))
	}
	if got[1].Severity != domain.SeverityError {
		t.Errorf("expected the second alert to be the ERROR kind, got %s", got[1].Severity)
	}

	// After the window elapses the pending alert fires again.
	*now = now.Add(5*time.Minute + time.Second)
	d.CheckAndAlert(ctx)
	if got := ch.received(); len(got) != 4 {
		t.Errorf("expected both kinds to fire after the window, got %d total", len(got))
	}
}

func TestCheckAndAlert_StatsErrorPropagates(t *testing.T) {
	d, _ := setupDispatcher(t, &fakeStats{err: errors.New("db down")})

	if err := d.CheckAndAlert(context.Background()); err == nil {
		t.Error("expected error when stats cannot be read")
	}
}

func TestFanOut_ChannelFailureIsIsolated(t *testing.T) {
	broken := &recordingChannel{name: "broken", err: errors.New("unreachable")}
	healthy := &recordingChannel{name: "healthy"}
	d, _ := setupDispatcher(t, &fakeStats{stats: domain.DlqStats{Pending: 200}}, broken, healthy)

	if err := d.CheckAndAlert(context.Background()); err != nil {
		t.Fatalf("channel failure must not fail the check: %v", err)
	}
	if got := healthy.received(); len(got) != 1 {
		t.Errorf("healthy channel must still receive the alert, got %d", len(got))
	}
}

func TestSendCritical_RateLimited(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d, now := setupDispatcher(t, &fakeStats{}, ch)
	ctx := context.Background()

	d.SendCritical(ctx, "DLQ entry exhausted retries", "event a failed", nil)
	d.SendCritical(ctx, "DLQ entry exhausted retries", "event b failed", nil)

	got := ch.received()
	if len(got) != 1 {
		t.Fatalf("burst of critical alerts must collapse to one per window, got %d", len(got))
	}
	if got[0].Severity != domain.SeverityCritical {
		t.Errorf("expected CRITICAL, got %s", got[0].Severity)
	}

	*now = now.Add(5*time.Minute + time.Second)
	d.SendCritical(ctx, "DLQ entry exhausted retries", "event c failed", nil)
	if got := ch.received(); len(got) != 2 {
		t.Errorf("expected a new critical alert after the window, got %d", len(got))
	}
}

func TestSendTest_BypassesRateLimit(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d, _ := setupDispatcher(t, &fakeStats{}, ch)
	ctx := context.Background()

	d.SendTest(ctx)
	d.SendTest(ctx)

	got := ch.received()
	if len(got) != 2 {
		t.Fatalf("test alerts must not be rate limited, got %d", len(got))
	}
	if got[0].Severity != domain.SeverityInfo {
		t.Errorf("expected INFO severity, got %s", got[0].Severity)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("dispatcher must stamp the alert timestamp")
	}
}
