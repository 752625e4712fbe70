package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thaian1234/sync-service/internal/domain"
	"github.com/thaian1234/sync-service/internal/engine"
)

// LogChannel writes alerts to the structured log. Always enabled; it is the
// floor that guarantees an alert is never silently dropped when no external
// channel is configured.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, a domain.Alert) error {
	level := slog.LevelInfo
	switch a.Severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityError, domain.SeverityCritical:
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "ALERT: "+a.Title,
		"severity", a.Severity,
		"message", a.Message,
		"metadata", a.Metadata,
	)
	return nil
}

// WebhookChannel POSTs alerts as signed JSON to an operator-configured URL.
// Calls run behind a circuit breaker so a dead alert endpoint stops costing
// a timeout per alert.
type WebhookChannel struct {
	url      string
	secret   string
	client   *http.Client
	breakers *engine.BreakerRegistry
	logger   *slog.Logger
}

const alertWebhookBreaker = "alert-webhook"

func NewWebhookChannel(url, secret string, breakers *engine.BreakerRegistry, logger *slog.Logger) *WebhookChannel {
	return &WebhookChannel{
		url:      url,
		secret:   secret,
		client:   &http.Client{Timeout: 10 * time.Second},
		breakers: breakers,
		logger:   logger,
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, a domain.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	return c.breakers.Execute(ctx, alertWebhookBreaker, engine.BreakerConfig{}, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building alert request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Alert-Severity", string(a.Severity))
		if c.secret != "" {
			req.Header.Set("X-Webhook-Signature", computeHMAC(payload, c.secret))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("posting alert webhook: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
