package cap

import (
	"errors"
	"time"

	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/metrics"
)

// Feed builds an ATOM feed with one entry per feature that converts to an alert.
// Features that fail are logged and skipped; input order is preserved.
func (b *Builder) Feed(features []*geojson.Feature) *Feed {
	start := time.Now()
	defer func() {
		metrics.CAPFeedBuildLatency.Observe(time.Since(start).Seconds())
	}()

	feed := &Feed{
		ID:      b.cfg.FeedID,
		Title:   b.cfg.FeedTitle,
		Updated: b.clock.Now().In(b.location).Format(TimestampLayout),
		Author: Author{
			Name: b.cfg.AuthorName,
			URI:  b.cfg.AuthorURI,
		},
		Entries: make([]Entry, 0, len(features)),
	}

	for i, f := range features {
		entry, err := b.entry(f)
		if err != nil {
			metrics.CAPAlertsSkippedTotal.WithLabelValues(skipReason(err)).Inc()
			b.logger.Error("failed to build cap alert for feature",
				"index", i,
				"error", err,
			)
			continue
		}
		metrics.CAPAlertsBuiltTotal.Inc()
		feed.Entries = append(feed.Entries, *entry)
	}

	b.logger.Debug("built cap feed",
		"features", len(features),
		"entries", len(feed.Entries),
	)

	return feed
}

func (b *Builder) entry(f *geojson.Feature) (*Entry, error) {
	data, err := b.featureData(f)
	if err != nil {
		return nil, err
	}

	alert, err := b.alert(f, data)
	if err != nil {
		return nil, err
	}

	return &Entry{
		ID:      b.entryID(data, alert.Sent),
		Title:   alert.Identifier + " Flood Report",
		Updated: alert.Sent,
		Content: Content{
			Type:  ContentTypeXML,
			Alert: alert,
		},
	}, nil
}

// FeedXML builds and serializes a feed.
func (b *Builder) FeedXML(features []*geojson.Feature) ([]byte, error) {
	return Marshal(b.Feed(features))
}

// AlertXML builds and serializes a standalone alert for one feature.
func (b *Builder) AlertXML(f *geojson.Feature) ([]byte, error) {
	alert, err := b.Alert(f)
	if err != nil {
		return nil, err
	}
	return Marshal(alert)
}

// skipReason returns the metric label for a per-feature failure.
func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedGeometryType):
		return "unsupported_geometry"
	case errors.Is(err, ErrUnsupportedInteriorRing):
		return "interior_ring"
	case errors.Is(err, ErrUnmappedSeverityState):
		return "unmapped_state"
	default:
		return "invalid_feature"
	}
}
