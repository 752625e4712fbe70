package domain

import "time"

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityError    AlertSeverity = "ERROR"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is an ephemeral notification dispatched to the enabled channels.
type Alert struct {
	Severity  AlertSeverity  `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DlqStats is the per-status breakdown of the dead-letter queue.
type DlqStats struct {
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
	Success  int `json:"success"`
	Archived int `json:"archived"`
	Total    int `json:"total"`
}
