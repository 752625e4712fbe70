package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/thaian1234/sync-service/internal/domain"
)

func setupRegistry(t *testing.T) (*BreakerRegistry, *time.Time) {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := NewBreakerRegistry(logger)

	now := time.Now()
	reg.now = func() time.Time { return now }
	return reg, &now
}

var errBoom = errors.New("boom")

func fail(ctx context.Context) error    { return errBoom }
func succeed(ctx context.Context) error { return nil }

// tripOpen records enough consecutive failures to open the named breaker.
func tripOpen(t *testing.T, reg *BreakerRegistry, name string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < defaultFailureThreshold; i++ {
		if err := reg.Execute(ctx, name, BreakerConfig{}, fail); !errors.Is(err, errBoom) {
			t.Fatalf("expected operation error while closed, got %v", err)
		}
	}
}

func TestBreaker_ClosedByDefault(t *testing.T) {
	reg, _ := setupRegistry(t)

	if err := reg.Execute(context.Background(), "db", BreakerConfig{}, succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := reg.Stats()
	if len(stats) != 1 || stats[0].State != StateClosed {
		t.Errorf("expected one CLOSED breaker, got %+v", stats)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	tripOpen(t, reg, "db")

	// Next call must fail fast without invoking the operation.
	invoked := false
	err := reg.Execute(ctx, "db", BreakerConfig{}, func(ctx context.Context) error {
		invoked = true
		return nil
	})

	var open *domain.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if invoked {
		t.Error("operation must not run while the breaker is open")
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	for i := 0; i < defaultFailureThreshold-1; i++ {
		reg.Execute(ctx, "db", BreakerConfig{}, fail)
	}

	if err := reg.Execute(ctx, "db", BreakerConfig{}, succeed); err != nil {
		t.Fatalf("breaker should still be closed: %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	for i := 0; i < defaultFailureThreshold-1; i++ {
		reg.Execute(ctx, "db", BreakerConfig{}, fail)
	}
	reg.Execute(ctx, "db", BreakerConfig{}, succeed)

	// The streak restarted, so another threshold-1 failures must not trip it.
	for i := 0; i < defaultFailureThreshold-1; i++ {
		reg.Execute(ctx, "db", BreakerConfig{}, fail)
	}

	if stats := reg.Stats(); stats[0].State != StateClosed {
		t.Errorf("expected CLOSED after interleaved success, got %s", stats[0].State)
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	reg, now := setupRegistry(t)
	ctx := context.Background()

	tripOpen(t, reg, "db")
	*now = now.Add(defaultTimeout + time.Second)

	// One probe call is allowed through.
	invoked := false
	err := reg.Execute(ctx, "db", BreakerConfig{}, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if err != nil {
		t.Fatalf("probe call should be allowed: %v", err)
	}
	if !invoked {
		t.Error("probe call should invoke the operation")
	}
	if stats := reg.Stats(); stats[0].State != StateHalfOpen {
		t.Errorf("expected HALF_OPEN after one probe success, got %s", stats[0].State)
	}
}

func TestBreaker_HalfOpenSuccessesClose(t *testing.T) {
	reg, now := setupRegistry(t)
	ctx := context.Background()

	tripOpen(t, reg, "db")
	*now = now.Add(defaultTimeout + time.Second)

	for i := 0; i < defaultSuccessThreshold; i++ {
		if err := reg.Execute(ctx, "db", BreakerConfig{}, succeed); err != nil {
			t.Fatalf("half-open probe %d failed: %v", i, err)
		}
	}

	if stats := reg.Stats(); stats[0].State != StateClosed {
		t.Errorf("expected CLOSED after %d probe successes, got %s", defaultSuccessThreshold, stats[0].State)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	reg, now := setupRegistry(t)
	ctx := context.Background()

	tripOpen(t, reg, "db")
	*now = now.Add(defaultTimeout + time.Second)

	reg.Execute(ctx, "db", BreakerConfig{}, fail)

	// Back to open with a fresh timeout: fail fast again.
	err := reg.Execute(ctx, "db", BreakerConfig{}, succeed)
	var open *domain.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError after half-open failure, got %v", err)
	}
}

func TestBreaker_IsolationBetweenNames(t *testing.T) {
	reg, _ := setupRegistry(t)

	tripOpen(t, reg, "alert-webhook")

	if err := reg.Execute(context.Background(), "db", BreakerConfig{}, succeed); err != nil {
		t.Errorf("breakers must be independent per name: %v", err)
	}
}

func TestBreaker_PerCallConfig(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	cfg := BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}
	reg.Execute(ctx, "flaky", cfg, fail)
	reg.Execute(ctx, "flaky", cfg, fail)

	err := reg.Execute(ctx, "flaky", cfg, succeed)
	var open *domain.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected breaker with threshold 2 to be open, got %v", err)
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	tripOpen(t, reg, "db")

	if !reg.Reset("db") {
		t.Fatal("reset of existing breaker should return true")
	}
	if reg.Reset("never-used") {
		t.Error("reset of unknown breaker should return false")
	}

	if err := reg.Execute(ctx, "db", BreakerConfig{}, succeed); err != nil {
		t.Errorf("breaker should be closed after manual reset: %v", err)
	}
}
