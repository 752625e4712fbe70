// Package alert evaluates DLQ health thresholds and fans alerts out to
// notification channels.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thaian1234/sync-service/internal/domain"
	"github.com/thaian1234/sync-service/internal/metrics"
)

// Channel delivers one alert to a single destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, a domain.Alert) error
}

// StatsSource provides the DLQ counts the threshold check reads.
type StatsSource interface {
	DlqStats(ctx context.Context) (*domain.DlqStats, error)
}

// Config tunes the threshold check.
type Config struct {
	// PendingThreshold raises a WARNING when PENDING entries reach it.
	PendingThreshold int
	// FailedThreshold raises an ERROR when FAILED entries reach it.
	FailedThreshold int
	// Interval is the minimum gap between two alerts of the same kind.
	Interval time.Duration
}

// Alert kinds for rate limiting. Each kind has its own window so a pending
// backlog alert never suppresses a failed-events alert.
const (
	kindPendingBacklog = "dlq_pending_backlog"
	kindFailedEvents   = "dlq_failed_events"
	kindExhausted      = "dlq_entry_exhausted"
)

// Dispatcher runs the threshold check and fans out alerts. Channel sends
// run concurrently and failures are isolated: one broken channel never
// stops the others from being notified.
type Dispatcher struct {
	stats    StatsSource
	channels []Channel
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewDispatcher(stats StatsSource, cfg Config, logger *slog.Logger, channels ...Channel) *Dispatcher {
	if cfg.PendingThreshold <= 0 {
		cfg.PendingThreshold = 100
	}
	if cfg.FailedThreshold <= 0 {
		cfg.FailedThreshold = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Dispatcher{
		stats:    stats,
		channels: channels,
		cfg:      cfg,
		logger:   logger,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// CheckAndAlert reads the DLQ counts and raises an alert per crossed
// threshold. Both thresholds are evaluated independently in the same pass.
func (d *Dispatcher) CheckAndAlert(ctx context.Context) error {
	stats, err := d.stats.DlqStats(ctx)
	if err != nil {
		return fmt.Errorf("reading dlq stats: %w", err)
	}

	if stats.Pending >= d.cfg.PendingThreshold {
		d.dispatch(ctx, kindPendingBacklog, domain.Alert{
			Severity: domain.SeverityWarning,
			Title:    "DLQ pending backlog",
			Message:  fmt.Sprintf("%d events are pending retry (threshold %d)", stats.Pending, d.cfg.PendingThreshold),
			Metadata: map[string]any{
				"pending":   stats.Pending,
				"threshold": d.cfg.PendingThreshold,
			},
		})
	}

	if stats.Failed >= d.cfg.FailedThreshold {
		d.dispatch(ctx, kindFailedEvents, domain.Alert{
			Severity: domain.SeverityError,
			Title:    "DLQ events exhausted retries",
			Message:  fmt.Sprintf("%d events have permanently failed (threshold %d)", stats.Failed, d.cfg.FailedThreshold),
			Metadata: map[string]any{
				"failed":    stats.Failed,
				"threshold": d.cfg.FailedThreshold,
			},
		})
	}
	return nil
}

// Send fans an alert out immediately, bypassing rate limiting. Used for
// operator-triggered test alerts and one-off critical notifications.
func (d *Dispatcher) Send(ctx context.Context, a domain.Alert) {
	d.fanOut(ctx, a)
}

// SendCritical raises a CRITICAL alert, rate limited under its own kind so
// a burst of exhausted entries produces one notification per window.
func (d *Dispatcher) SendCritical(ctx context.Context, title, message string, metadata map[string]any) {
	d.dispatch(ctx, kindExhausted, domain.Alert{
		Severity: domain.SeverityCritical,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	})
}

// SendTest emits an INFO alert through every channel so operators can
// verify wiring end to end.
func (d *Dispatcher) SendTest(ctx context.Context) {
	d.Send(ctx, domain.Alert{
		Severity: domain.SeverityInfo,
		Title:    "Test alert",
		Message:  "Alert channel connectivity check",
	})
}

// dispatch applies the per-kind rate limit before fanning out.
func (d *Dispatcher) dispatch(ctx context.Context, kind string, a domain.Alert) {
	now := d.now()

	d.mu.Lock()
	last, seen := d.lastSent[kind]
	if seen && now.Sub(last) < d.cfg.Interval {
		d.mu.Unlock()
		d.logger.Debug("alert suppressed by rate limit",
			"kind", kind,
			"last_sent", last,
		)
		return
	}
	d.lastSent[kind] = now
	d.mu.Unlock()

	d.fanOut(ctx, a)
}

func (d *Dispatcher) fanOut(ctx context.Context, a domain.Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = d.now()
	}
	metrics.AlertsDispatched.WithLabelValues(string(a.Severity)).Inc()
	d.logger.Info("dispatching alert",
		"severity", a.Severity,
		"title", a.Title,
		"channels", len(d.channels),
	)

	var wg sync.WaitGroup
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, a); err != nil {
				d.logger.Error("alert channel send failed",
					"channel", ch.Name(),
					"severity", a.Severity,
					"error", err,
				)
			}
		}(ch)
	}
	wg.Wait()
}
