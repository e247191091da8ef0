package cap

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/config"
	"cognicity-rem/internal/domain"
)

// Time layouts used in generated documents.
const (
	// TimestampLayout is ISO-8601 with a numeric offset and no fractional seconds.
	TimestampLayout = "2006-01-02T15:04:05-07:00"

	descriptionTimeLayout = "15:04 MST"
)

// lastUpdatedLayouts are accepted forms of properties.last_updated, tried in
// order. Values without an offset are wall-clock times in the builder's zone.
var lastUpdatedLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// Builder turns flood features into CAP alerts and ATOM feeds.
// It is safe for concurrent use.
type Builder struct {
	cfg      config.CAPConfig
	location *time.Location
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewBuilder creates a Builder rendering times in cfg.TimeZone.
func NewBuilder(cfg config.CAPConfig, clock clockwork.Clock, logger *slog.Logger) (*Builder, error) {
	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", cfg.TimeZone, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		cfg:      cfg,
		location: location,
		clock:    clock,
		logger:   logger,
	}, nil
}

// featureData is the subset of a feature's properties used by the builder.
type featureData struct {
	state      domain.FloodState
	updated    time.Time
	levelName  string
	parentName string
}

// Info builds the CAP info block for one feature.
func (b *Builder) Info(f *geojson.Feature) (*Info, error) {
	data, err := b.featureData(f)
	if err != nil {
		return nil, err
	}
	return b.info(f, data)
}

func (b *Builder) info(f *geojson.Feature, data featureData) (*Info, error) {
	severity, levelDescription, err := severityFor(data.state)
	if err != nil {
		return nil, err
	}

	area, err := BuildArea(f.Geometry, data.levelName+", "+data.parentName)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("built cap area",
		"area", area.AreaDesc,
		"polygons", len(area.Polygon),
	)

	description := fmt.Sprintf(
		"AT %s THE JAKARTA EMERGENCY MANAGEMENT AGENCY OBSERVED %s IN %s, %s.",
		data.updated.Format(descriptionTimeLayout), levelDescription, data.parentName, data.levelName,
	)

	return &Info{
		Category:    CategoryMet,
		Event:       EventFlooding,
		Urgency:     UrgencyImmediate,
		Severity:    severity,
		Certainty:   CertaintyObs,
		SenderName:  b.cfg.SenderName,
		Headline:    HeadlineFlood,
		Description: description,
		Web:         b.cfg.Web,
		Area:        *area,
	}, nil
}

// Alert builds a complete CAP alert for one feature.
// No alert is returned unless its info and area were built.
func (b *Builder) Alert(f *geojson.Feature) (*Alert, error) {
	data, err := b.featureData(f)
	if err != nil {
		return nil, err
	}
	return b.alert(f, data)
}

func (b *Builder) alert(f *geojson.Feature, data featureData) (*Alert, error) {
	info, err := b.info(f, data)
	if err != nil {
		return nil, err
	}

	sent := data.updated.Format(TimestampLayout)
	return &Alert{
		Identifier: b.identifier(data.parentName, data.levelName, sent),
		Sender:     b.cfg.Sender,
		Sent:       sent,
		Status:     StatusActual,
		MsgType:    MsgTypeAlert,
		Scope:      ScopePublic,
		Info:       *info,
	}, nil
}

// identifier joins the components with the configured separator after
// replacing spaces, then query-escapes the result.
func (b *Builder) identifier(parts ...string) string {
	cleaned := make([]string, len(parts))
	for i, p := range parts {
		cleaned[i] = strings.ReplaceAll(p, " ", b.cfg.IdentifierSpace)
	}
	return url.QueryEscape(strings.Join(cleaned, b.cfg.IdentifierSeparator))
}

// entryID links an entry back to the flooded endpoint for its area and time.
// Parameters are written as parent_name, level_name, time; url.Values would sort them.
func (b *Builder) entryID(data featureData, sent string) string {
	return b.cfg.EntryBaseURL +
		"?parent_name=" + url.QueryEscape(data.parentName) +
		"&level_name=" + url.QueryEscape(data.levelName) +
		"&time=" + url.QueryEscape(sent)
}

// severityFor maps a flood state to its CAP severity and description.
// States outside 1..4 have no mapping.
func severityFor(state domain.FloodState) (string, string, error) {
	switch state {
	case domain.FloodStateUnknown:
		return "Unknown", "AN UNKNOWN LEVEL OF FLOODING - USE CAUTION -", nil
	case domain.FloodStateMinor:
		return "Minor", "FLOODING OF BETWEEN 10 and 70 CENTIMETERS", nil
	case domain.FloodStateModerate:
		return "Moderate", "FLOODING OF BETWEEN 71 and 150 CENTIMETERS", nil
	case domain.FloodStateSevere:
		return "Severe", "FLOODING OF OVER 150 CENTIMETERS", nil
	}
	return "", "", fmt.Errorf("%w: %d", ErrUnmappedSeverityState, state)
}

func (b *Builder) featureData(f *geojson.Feature) (featureData, error) {
	if f == nil {
		return featureData{}, fmt.Errorf("%w: nil feature", ErrInvalidFeature)
	}

	state, err := propertyState(f.Properties)
	if err != nil {
		return featureData{}, err
	}
	if _, _, err := severityFor(state); err != nil {
		return featureData{}, err
	}

	updated, err := b.propertyTime(f.Properties)
	if err != nil {
		return featureData{}, err
	}

	return featureData{
		state:      state,
		updated:    updated,
		levelName:  f.Properties.MustString("level_name", ""),
		parentName: f.Properties.MustString("parent_name", ""),
	}, nil
}

// propertyState reads properties.state. A fractional state has no severity;
// a missing or non-numeric one makes the feature invalid.
func propertyState(props geojson.Properties) (domain.FloodState, error) {
	state, err := domain.ParseFloodState(props["state"])
	switch {
	case errors.Is(err, domain.ErrStateNotIntegral):
		return 0, fmt.Errorf("%w: %v", ErrUnmappedSeverityState, err)
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrInvalidFeature, err)
	}
	return state, nil
}

// propertyTime parses properties.last_updated in the builder's zone.
func (b *Builder) propertyTime(props geojson.Properties) (time.Time, error) {
	var raw string
	switch v := props["last_updated"].(type) {
	case string:
		raw = v
	case time.Time:
		return v.In(b.location), nil
	case nil:
		return time.Time{}, fmt.Errorf("%w: last_updated is missing", ErrInvalidFeature)
	default:
		return time.Time{}, fmt.Errorf("%w: last_updated has type %T", ErrInvalidFeature, v)
	}

	for _, layout := range lastUpdatedLayouts {
		if t, err := time.ParseInLocation(layout, raw, b.location); err == nil {
			return t.In(b.location), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: last_updated %q is not a timestamp", ErrInvalidFeature, raw)
}
