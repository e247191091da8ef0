// Package dispatch turns flood state changes into CAP alert notifications.
// It consumes state changes from the message queue, reads the area's current
// state, and notifies once per distinct flooded state of an area.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"cognicity-rem/internal/cap"
	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/flood"
	"cognicity-rem/internal/metrics"
	"cognicity-rem/internal/notification"
	"cognicity-rem/internal/queue"
	"cognicity-rem/internal/store"
)

// Dispatch outcomes, also used as metric labels.
const (
	ResultSent      = "sent"
	ResultDuplicate = "duplicate"
	ResultCleared   = "cleared"
	ResultFailed    = "failed"
	ResultIgnored   = "ignored"
)

// Service processes state changes from the queue and dispatches alerts.
// It is responsible for:
// - Consuming state changes from the message queue
// - Reading the area's current state from the repository
// - Building the CAP alert for flooded areas
// - Suppressing repeated alerts for an unchanged state
// - Notifying when an area is cleared
type Service struct {
	consumer      queue.Consumer
	repo          store.FloodRepository
	dispatchStore store.DispatchStore
	builder       *cap.Builder
	notifier      notification.Notifier
	clock         clockwork.Clock
	logger        *slog.Logger
}

// NewService creates a new dispatch service.
func NewService(
	consumer queue.Consumer,
	repo store.FloodRepository,
	dispatchStore store.DispatchStore,
	builder *cap.Builder,
	notifier notification.Notifier,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		consumer:      consumer,
		repo:          repo,
		dispatchStore: dispatchStore,
		builder:       builder,
		notifier:      notifier,
		clock:         clock,
		logger:        logger,
	}
}

// Start begins consuming state changes from the queue and dispatching them.
// This is a blocking call that runs until the context is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting dispatch service")
	return s.consumer.Start(ctx, s.handleMessage)
}

// handleMessage is the callback for processing each message from the queue.
func (s *Service) handleMessage(ctx context.Context, msg *queue.Message) error {
	change, err := queue.DecodeStateChange(msg)
	if err != nil {
		s.logger.Error("failed to decode state change", "error", err)
		// Return nil to avoid reprocessing malformed messages
		return nil
	}

	result, err := s.Handle(ctx, change)
	if err != nil {
		metrics.AlertsDispatchedTotal.WithLabelValues(ResultFailed).Inc()
		return err
	}
	metrics.AlertsDispatchedTotal.WithLabelValues(result).Inc()
	return nil
}

// Handle dispatches one state change and reports the outcome.
//
// The area's current state in the repository is authoritative: a change that
// has been superseded dispatches the newer state. Errors are returned only for
// storage failures, which are worth retrying.
func (s *Service) Handle(ctx context.Context, change *domain.StateChange) (string, error) {
	s.logger.Debug("processing state change",
		"change_id", change.ID,
		"area_id", change.AreaID,
		"state", change.State,
	)

	f, err := s.repo.StateByID(ctx, change.Layer, change.AreaID)
	if err != nil {
		if errors.Is(err, domain.ErrAreaNotFound) {
			s.logger.Warn("state change for unknown area", "area_id", change.AreaID, "layer", change.Layer)
			return ResultIgnored, nil
		}
		return "", fmt.Errorf("failed to read area state: %w", err)
	}

	current := flood.FeatureState(f)
	if !current.IsFlooded() {
		return s.clear(ctx, change)
	}

	record, err := s.dispatchStore.GetDispatched(ctx, change.Layer, change.AreaID)
	if err != nil {
		return "", fmt.Errorf("failed to read dispatch record: %w", err)
	}
	if record != nil && record.State == current {
		s.logger.Debug("alert already dispatched",
			"area_id", change.AreaID,
			"state", current,
			"identifier", record.Identifier,
		)
		return ResultDuplicate, nil
	}

	alert, err := s.builder.Alert(f)
	if err != nil {
		// Conversion is deterministic; retrying would fail the same way.
		s.logger.Error("failed to build cap alert", "area_id", change.AreaID, "error", err)
		return ResultFailed, nil
	}

	document, err := cap.Marshal(alert)
	if err != nil {
		s.logger.Error("failed to render cap alert", "area_id", change.AreaID, "error", err)
		return ResultFailed, nil
	}

	s.notifier.NotifyFlooded(ctx, &notification.NotificationPayload{
		ChangeID:   change.ID,
		Layer:      change.Layer,
		AreaID:     change.AreaID,
		State:      current,
		Severity:   alert.Info.Severity,
		Identifier: alert.Identifier,
		Username:   change.Username,
		ChangedAt:  change.ChangedAt,
		Document:   document,
	})

	err = s.dispatchStore.SetDispatched(ctx, &store.DispatchRecord{
		Layer:        change.Layer,
		AreaID:       change.AreaID,
		State:        current,
		Identifier:   alert.Identifier,
		DispatchedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		// The alert is out; a retry would only send it again.
		s.logger.Error("failed to record dispatched alert", "area_id", change.AreaID, "error", err)
	}

	s.logger.Info("cap alert dispatched",
		"area_id", change.AreaID,
		"identifier", alert.Identifier,
		"severity", alert.Info.Severity,
	)

	return ResultSent, nil
}

// clear forgets the area's dispatched alert and notifies once.
func (s *Service) clear(ctx context.Context, change *domain.StateChange) (string, error) {
	record, err := s.dispatchStore.GetDispatched(ctx, change.Layer, change.AreaID)
	if err != nil {
		return "", fmt.Errorf("failed to read dispatch record: %w", err)
	}
	if record == nil {
		return ResultIgnored, nil
	}

	if err := s.dispatchStore.DeleteDispatched(ctx, change.Layer, change.AreaID); err != nil {
		return "", fmt.Errorf("failed to delete dispatch record: %w", err)
	}

	s.notifier.NotifyCleared(ctx, &notification.NotificationPayload{
		ChangeID:   change.ID,
		Layer:      change.Layer,
		AreaID:     change.AreaID,
		State:      domain.FloodStateNone,
		Identifier: record.Identifier,
		Username:   change.Username,
		ChangedAt:  change.ChangedAt,
	})

	s.logger.Info("flood alert cleared", "area_id", change.AreaID, "identifier", record.Identifier)
	return ResultCleared, nil
}
