package flood

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/cap"
	"cognicity-rem/internal/config"
	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/queue"
	"cognicity-rem/internal/queue/memory"
	"cognicity-rem/internal/store"
	storemem "cognicity-rem/internal/store/memory"
)

type testEnv struct {
	service *Service
	repo    *storemem.FloodRepository
	queue   *memory.Queue
	clock   *clockwork.FakeClock
}

func testConfig() *config.Config {
	cfg, err := config.Parse([]byte("storage:\n  mode: memory\n"))
	if err != nil {
		panic(err)
	}
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := testConfig()
	clock := clockwork.NewFakeClockAt(time.Date(2016, 2, 16, 3, 36, 50, 0, time.UTC))

	loc, err := time.LoadLocation(cfg.CAP.TimeZone)
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}
	builder, err := cap.NewBuilder(cfg.CAP, clock, logger)
	if err != nil {
		t.Fatalf("NewBuilder error: %v", err)
	}

	repo := storemem.NewFloodRepository(clock, loc)
	rw := cfg.REM.AggregateLevels["rw"]
	repo.AddArea(rw, store.Area{
		PKey: 1, LevelName: "RW 01", ParentName: "KAMPUNG MELAYU",
		Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
	})
	repo.AddArea(rw, store.Area{
		PKey: 2, LevelName: "RW 02", ParentName: "KAMPUNG MELAYU",
		Geometry: orb.Polygon{{{2, 0}, {3, 0}, {3, 1}, {2, 1}, {2, 0}}},
	})

	q := memory.NewQueue(100, logger)
	return &testEnv{
		service: NewService(repo, q, builder, cfg.REM, clock, logger),
		repo:    repo,
		queue:   q,
		clock:   clock,
	}
}

func TestService_Layer(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		level   string
		want    string
		wantErr error
	}{
		{"", "jkt_rw_boundary", nil},
		{"rw", "jkt_rw_boundary", nil},
		{"village", "jkt_village_boundary", nil},
		{"city", "jkt_city_boundary", nil},
		{"jkt_rw_boundary; DROP TABLE rem_status", "", ErrUnknownLevel},
	}

	for _, tt := range tests {
		got, err := env.service.Layer(tt.level)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Layer(%q) error = %v, want %v", tt.level, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Layer(%q) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestService_SetState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	change, err := env.service.SetState(ctx, domain.StateUpdate{AreaID: 1, State: domain.FloodStateSevere, Username: "operator"})
	if err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if change.ID == "" {
		t.Error("StateChange.ID should be set")
	}
	if change.Layer != "jkt_rw_boundary" {
		t.Errorf("Layer = %q, want jkt_rw_boundary", change.Layer)
	}
	if !change.ChangedAt.Equal(env.clock.Now()) {
		t.Errorf("ChangedAt = %v, want %v", change.ChangedAt, env.clock.Now())
	}

	// Verify message was published
	if env.queue.Len() != 1 {
		t.Fatalf("Queue should have 1 message, got %d", env.queue.Len())
	}

	// Verify the state was written
	fc, err := env.service.Flooded(ctx, "rw")
	if err != nil {
		t.Fatalf("Flooded() error = %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("Flooded() returned %d features, want 1", len(fc.Features))
	}
	if got := FeatureState(fc.Features[0]); got != domain.FloodStateSevere {
		t.Errorf("state = %v, want %v", got, domain.FloodStateSevere)
	}
}

func TestService_SetStateRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		update  domain.StateUpdate
		wantErr error
	}{
		{"invalid state", domain.StateUpdate{AreaID: 1, State: 7, Username: "operator"}, domain.ErrInvalidState},
		{"missing username", domain.StateUpdate{AreaID: 1, State: 1}, domain.ErrEmptyUsername},
		{"unknown area", domain.StateUpdate{AreaID: 99, State: 1, Username: "operator"}, domain.ErrAreaNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.SetState(ctx, tt.update)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SetState() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if env.queue.Len() != 0 {
		t.Errorf("Rejected updates should not publish, got %d messages", env.queue.Len())
	}
	if len(env.repo.StateLog()) != 0 {
		t.Errorf("Rejected updates should not be logged, got %d entries", len(env.repo.StateLog()))
	}
}

type failingProducer struct{}

func (failingProducer) Publish(ctx context.Context, msg *queue.Message) error {
	return errors.New("broker unavailable")
}

func (failingProducer) Close() error { return nil }

func TestService_SetStatePublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.service.producer = failingProducer{}

	change, err := env.service.SetState(context.Background(), domain.StateUpdate{AreaID: 2, State: 2, Username: "operator"})
	if err != nil {
		t.Fatalf("SetState() error = %v, want nil once the state is written", err)
	}
	if change == nil {
		t.Fatal("SetState() should return the change")
	}
	if len(env.repo.StateLog()) != 1 {
		t.Errorf("StateLog has %d entries, want 1", len(env.repo.StateLog()))
	}
}

func TestService_FloodedFeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No flooded areas yields a feed without entries
	out, err := env.service.FloodedFeed(ctx, "")
	if err != nil {
		t.Fatalf("FloodedFeed() error = %v", err)
	}
	if strings.Contains(string(out), "<entry") {
		t.Error("Feed should have no entries")
	}

	if _, err := env.service.SetState(ctx, domain.StateUpdate{AreaID: 2, State: domain.FloodStateMinor, Username: "operator"}); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	out, err = env.service.FloodedFeed(ctx, "rw")
	if err != nil {
		t.Fatalf("FloodedFeed() error = %v", err)
	}
	doc := string(out)
	if strings.Count(doc, "<entry>") != 1 {
		t.Errorf("Feed should have 1 entry:\n%s", doc)
	}
	if !strings.Contains(doc, "<severity>Minor</severity>") {
		t.Errorf("Feed should carry the Minor severity:\n%s", doc)
	}
	if !strings.Contains(doc, "<sent>2016-02-16T10:36:50+07:00</sent>") {
		t.Errorf("Feed should carry the Jakarta time of the change:\n%s", doc)
	}
}

func TestService_AreaAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// An unflooded area has no severity
	_, err := env.service.AreaAlert(ctx, "rw", 1)
	if !errors.Is(err, cap.ErrUnmappedSeverityState) {
		t.Errorf("AreaAlert() error = %v, want %v", err, cap.ErrUnmappedSeverityState)
	}

	_, err = env.service.AreaAlert(ctx, "rw", 99)
	if !errors.Is(err, domain.ErrAreaNotFound) {
		t.Errorf("AreaAlert() error = %v, want %v", err, domain.ErrAreaNotFound)
	}

	if _, err := env.service.SetState(ctx, domain.StateUpdate{AreaID: 1, State: domain.FloodStateUnknown, Username: "operator"}); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	out, err := env.service.AreaAlert(ctx, "rw", 1)
	if err != nil {
		t.Fatalf("AreaAlert() error = %v", err)
	}
	if !strings.Contains(string(out), "<identifier>KAMPUNG_MELAYU.RW_01.2016-02-16T10%3A36%3A50%2B07%3A00</identifier>") {
		t.Errorf("unexpected alert:\n%s", out)
	}
}

func TestService_CountByArea(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.CountByArea(ctx, "rw", 10, 5)
	if !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("CountByArea() error = %v, want %v", err, domain.ErrInvalidRange)
	}

	_, err = env.service.CountByArea(ctx, "province", 0, 5)
	if !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("CountByArea() error = %v, want %v", err, ErrUnknownLevel)
	}

	env.repo.AddReport("all_reports", domain.Report{
		ID: 1, Source: "twitter", Location: orb.Point{0.5, 0.5}, Confirmed: true,
		CreatedAt: time.Unix(100, 0),
	})
	fc, err := env.service.CountByArea(ctx, "", 0, 200)
	if err != nil {
		t.Fatalf("CountByArea() error = %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("CountByArea() returned %d features, want 2", len(fc.Features))
	}
	if fc.Features[0].Properties["counts"] == nil {
		t.Error("first area should have counts")
	}
}

func TestFeatureState(t *testing.T) {
	tests := []struct {
		value any
		want  domain.FloodState
	}{
		{3, domain.FloodStateModerate},
		{domain.FloodStateMinor, domain.FloodStateMinor},
		{int64(2), domain.FloodStateMinor},
		{4.0, domain.FloodStateSevere},
		{2.5, domain.FloodStateNone},
		{"3", domain.FloodStateNone},
		{nil, domain.FloodStateNone},
	}

	for _, tt := range tests {
		f := geojson.NewFeature(orb.Point{})
		f.Properties["state"] = tt.value
		if got := FeatureState(f); got != tt.want {
			t.Errorf("FeatureState(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}

	if got := FeatureState(nil); got != domain.FloodStateNone {
		t.Errorf("FeatureState(nil) = %v", got)
	}
}
