// Package notification provides flood alert notification functionality.
// The stub implementation logs notifications; delivery to alerting
// consumers is left to future implementations of Notifier.
package notification

import (
	"context"
	"log/slog"
	"time"

	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/metrics"
)

// NotificationPayload represents the data sent for a flood alert.
type NotificationPayload struct {
	ChangeID   string            `json:"change_id"`
	Layer      string            `json:"layer"`
	AreaID     int64             `json:"area_id"`
	State      domain.FloodState `json:"state"`
	Severity   string            `json:"severity,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	Username   string            `json:"username"`
	ChangedAt  time.Time         `json:"changed_at"`

	// Document is the rendered CAP alert; empty for cleared areas.
	Document []byte `json:"-"`
}

// Notifier defines the interface for sending flood notifications.
type Notifier interface {
	// NotifyFlooded sends a CAP alert for an area that is flooded.
	NotifyFlooded(ctx context.Context, payload *NotificationPayload)

	// NotifyCleared sends a notification when an area is no longer flooded.
	NotifyCleared(ctx context.Context, payload *NotificationPayload)
}

// StubNotifier is a no-op implementation that logs notifications.
type StubNotifier struct {
	logger *slog.Logger
}

// NewStubNotifier creates a new stub notifier.
func NewStubNotifier(logger *slog.Logger) *StubNotifier {
	return &StubNotifier{
		logger: logger,
	}
}

// NotifyFlooded logs a notification for a flooded area.
func (n *StubNotifier) NotifyFlooded(ctx context.Context, payload *NotificationPayload) {
	n.logger.Info("STUB: would send cap alert",
		"identifier", payload.Identifier,
		"area_id", payload.AreaID,
		"severity", payload.Severity,
		"bytes", len(payload.Document),
	)
	n.logger.Debug("cap alert document", "document", string(payload.Document))

	metrics.NotificationsSentTotal.WithLabelValues("success").Inc()
	observeLatency(payload)
}

// NotifyCleared logs a notification for an area that is no longer flooded.
func (n *StubNotifier) NotifyCleared(ctx context.Context, payload *NotificationPayload) {
	n.logger.Info("STUB: would send cleared notification",
		"area_id", payload.AreaID,
		"layer", payload.Layer,
		"username", payload.Username,
	)

	metrics.NotificationsSentTotal.WithLabelValues("success").Inc()
	observeLatency(payload)
}

// observeLatency records the time from the state change to its notification.
func observeLatency(payload *NotificationPayload) {
	if !payload.ChangedAt.IsZero() {
		metrics.DispatchLatency.Observe(time.Since(payload.ChangedAt).Seconds())
	}
}
