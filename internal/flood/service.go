// Package flood provides the flood reporting service.
// It resolves aggregate levels to polygon tables, validates requests, reads
// areas from the repository, renders CAP documents and publishes state
// changes to the message queue for alert dispatch.
package flood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/cap"
	"cognicity-rem/internal/config"
	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/metrics"
	"cognicity-rem/internal/queue"
	"cognicity-rem/internal/store"
)

// Errors returned by the flood service.
var (
	ErrUnknownLevel = errors.New("unknown aggregate level")
)

// Service handles flood state queries and updates.
type Service struct {
	repo     store.FloodRepository
	producer queue.Producer
	builder  *cap.Builder
	cfg      config.REMConfig
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewService creates a new flood service.
func NewService(
	repo store.FloodRepository,
	producer queue.Producer,
	builder *cap.Builder,
	cfg config.REMConfig,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		repo:     repo,
		producer: producer,
		builder:  builder,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Layer resolves an aggregate level name to its polygon table.
// An empty level selects the default level.
func (s *Service) Layer(level string) (string, error) {
	if level == "" {
		level = s.cfg.DefaultLevel
	}
	table, ok := s.cfg.AggregateLevels[level]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	return table, nil
}

// CountByArea returns report counts per area of the level between start and end (unix seconds).
func (s *Service) CountByArea(ctx context.Context, level string, start, end int64) (*geojson.FeatureCollection, error) {
	layer, err := s.Layer(level)
	if err != nil {
		return nil, err
	}

	q := domain.CountQuery{
		Start:                 start,
		End:                   end,
		PolygonLayer:          layer,
		PointLayer:            s.cfg.ReportsTable,
		UnconfirmedPointLayer: s.cfg.UnconfirmedReportsTable,
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	return s.repo.CountByArea(ctx, q)
}

// States returns every area of the level with its flood state.
func (s *Service) States(ctx context.Context, level string) (*geojson.FeatureCollection, error) {
	layer, err := s.Layer(level)
	if err != nil {
		return nil, err
	}
	return s.repo.States(ctx, layer)
}

// Flooded returns the areas of the level whose state is one of the flood bands.
func (s *Service) Flooded(ctx context.Context, level string) (*geojson.FeatureCollection, error) {
	all, err := s.States(ctx, level)
	if err != nil {
		return nil, err
	}

	flooded := geojson.NewFeatureCollection()
	for _, f := range all.Features {
		if FeatureState(f).IsFlooded() {
			flooded.Append(f)
		}
	}
	return flooded, nil
}

// FloodedFeed renders the flooded areas of the level as an ATOM feed of CAP alerts.
func (s *Service) FloodedFeed(ctx context.Context, level string) ([]byte, error) {
	flooded, err := s.Flooded(ctx, level)
	if err != nil {
		return nil, err
	}
	return s.builder.FeedXML(flooded.Features)
}

// AreaAlert renders one area of the level as a standalone CAP alert.
// Areas that cannot be converted return the cap package error.
func (s *Service) AreaAlert(ctx context.Context, level string, id int64) ([]byte, error) {
	layer, err := s.Layer(level)
	if err != nil {
		return nil, err
	}

	f, err := s.repo.StateByID(ctx, layer, id)
	if err != nil {
		return nil, err
	}

	return s.builder.AlertXML(f)
}

// Dims returns every area of the level with its latest DIMS level.
func (s *Service) Dims(ctx context.Context, level string) (*geojson.FeatureCollection, error) {
	layer, err := s.Layer(level)
	if err != nil {
		return nil, err
	}
	return s.repo.Dims(ctx, layer)
}

// SetState records a flood state for an area of the default level and
// publishes the change for alert dispatch.
//
// The processing flow:
// 1. Validate the update
// 2. Check the area exists
// 3. Write the state and its log entry
// 4. Publish the change to the message queue
//
// Once the state is written the call succeeds; a publish failure is logged.
func (s *Service) SetState(ctx context.Context, update domain.StateUpdate) (*domain.StateChange, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	layer, err := s.Layer("")
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.StateByID(ctx, layer, update.AreaID); err != nil {
		if errors.Is(err, domain.ErrAreaNotFound) {
			s.logger.Warn("state update for unknown area", "area_id", update.AreaID, "layer", layer)
		}
		return nil, err
	}

	if err := s.repo.SetState(ctx, update); err != nil {
		s.logger.Error("failed to set state", "area_id", update.AreaID, "error", err)
		return nil, fmt.Errorf("failed to set state: %w", err)
	}
	metrics.StateChangesTotal.WithLabelValues(strconv.Itoa(int(update.State))).Inc()

	change := &domain.StateChange{
		ID:        uuid.New().String(),
		Layer:     layer,
		AreaID:    update.AreaID,
		State:     update.State,
		Username:  update.Username,
		ChangedAt: s.clock.Now().UTC(),
	}

	s.publish(ctx, change)

	s.logger.Info("flood state changed",
		"area_id", change.AreaID,
		"state", change.State,
		"username", change.Username,
		"change_id", change.ID,
	)

	return change, nil
}

func (s *Service) publish(ctx context.Context, change *domain.StateChange) {
	msg, err := queue.EncodeStateChange(change)
	if err != nil {
		metrics.StateChangesPublishedTotal.WithLabelValues("failure").Inc()
		s.logger.Error("failed to encode state change", "change_id", change.ID, "error", err)
		return
	}

	publishStart := time.Now()
	if err := s.producer.Publish(ctx, msg); err != nil {
		metrics.StateChangesPublishedTotal.WithLabelValues("failure").Inc()
		s.logger.Error("failed to publish state change", "change_id", change.ID, "error", err)
		return
	}
	metrics.QueuePublishLatency.Observe(time.Since(publishStart).Seconds())
	metrics.StateChangesPublishedTotal.WithLabelValues("success").Inc()
}

// FeatureState reads the state property of an area feature.
// Missing or non-numeric states read as domain.FloodStateNone.
func FeatureState(f *geojson.Feature) domain.FloodState {
	if f == nil {
		return domain.FloodStateNone
	}
	state, err := domain.ParseFloodState(f.Properties["state"])
	if err != nil {
		return domain.FloodStateNone
	}
	return state
}
