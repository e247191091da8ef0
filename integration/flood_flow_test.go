package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/api"
	"cognicity-rem/internal/cap"
	"cognicity-rem/internal/config"
	"cognicity-rem/internal/dispatch"
	"cognicity-rem/internal/flood"
	"cognicity-rem/internal/notification"
	memoryqueue "cognicity-rem/internal/queue/memory"
	"cognicity-rem/internal/server"
	memorystor "cognicity-rem/internal/store/memory"
)

// recordingNotifier keeps every notification for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	flooded []*notification.NotificationPayload
	cleared []*notification.NotificationPayload
}

func (n *recordingNotifier) NotifyFlooded(ctx context.Context, payload *notification.NotificationPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flooded = append(n.flooded, payload)
}

func (n *recordingNotifier) NotifyCleared(ctx context.Context, payload *notification.NotificationPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, payload)
}

func (n *recordingNotifier) Flooded() []*notification.NotificationPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*notification.NotificationPayload(nil), n.flooded...)
}

func (n *recordingNotifier) Cleared() []*notification.NotificationPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*notification.NotificationPayload(nil), n.cleared...)
}

// testServer is a fully wired REM server in memory mode.
type testServer struct {
	server   *api.Server
	notifier *recordingNotifier
	cancel   context.CancelFunc
}

func startServer() *testServer {
	logger := slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Parse([]byte("storage:\n  mode: memory\nmemory:\n  seed_file: testdata/seed.geojson\n"))
	Expect(err).NotTo(HaveOccurred())

	clock := clockwork.NewFakeClockAt(time.Date(2016, 2, 16, 3, 36, 50, 0, time.UTC))
	location, err := time.LoadLocation(cfg.CAP.TimeZone)
	Expect(err).NotTo(HaveOccurred())

	repo := memorystor.NewFloodRepository(clock, location)
	layers := []string{cfg.REM.AggregateLevels["rw"], cfg.REM.AggregateLevels["village"]}
	Expect(repo.LoadSeedFile(cfg.Memory.SeedFile, layers, cfg.REM.ReportsTable, cfg.REM.UnconfirmedReportsTable)).To(Succeed())

	builder, err := cap.NewBuilder(cfg.CAP, clock, logger)
	Expect(err).NotTo(HaveOccurred())

	q := memoryqueue.NewQueue(100, logger)
	notifier := &recordingNotifier{}

	floodService := flood.NewService(repo, q, builder, cfg.REM, clock, logger)
	dispatcher := dispatch.NewService(q, repo, memorystor.NewDispatchStore(), builder, notifier, clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer GinkgoRecover()
		_ = dispatcher.Start(ctx)
	}()

	return &testServer{
		server: api.NewServer(api.ServerDeps{
			Config:       &cfg.Server,
			Logger:       logger,
			Health:       server.NewHealthChecker(time.Second, clock, logger),
			FloodHandler: api.NewFloodHandler(floodService, logger),
		}),
		notifier: notifier,
		cancel:   cancel,
	}
}

// doRequest runs a request against the in-process server and returns the
// status code and body.
func (s *testServer) doRequest(method, path string, body interface{}) (int, []byte) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		bodyReader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.server.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, data
}

func (s *testServer) collection(path string) *geojson.FeatureCollection {
	status, data := s.doRequest(http.MethodGet, path, nil)
	Expect(status).To(Equal(http.StatusOK), string(data))

	fc, err := geojson.UnmarshalFeatureCollection(data)
	Expect(err).NotTo(HaveOccurred())
	return fc
}

func (s *testServer) setState(id string, state int) {
	status, data := s.doRequest(http.MethodPut, "/v1/rem/flooded/"+id, map[string]interface{}{
		"state":    state,
		"username": "operator",
	})
	Expect(status).To(Equal(http.StatusOK), string(data))
}

var _ = Describe("Flood reporting flow", Ordered, func() {
	var ts *testServer

	BeforeAll(func() {
		ts = startServer()
	})

	AfterAll(func() {
		ts.cancel()
	})

	Describe("Health Check", func() {
		It("should return healthy status", func() {
			status, _ := ts.doRequest(http.MethodGet, "/healthz", nil)
			Expect(status).To(Equal(http.StatusOK))
		})
	})

	Describe("Before any flooding is reported", func() {
		It("should list every seeded area with state 0", func() {
			fc := ts.collection("/v1/rem/states")
			Expect(fc.Features).To(HaveLen(3))
			for _, f := range fc.Features {
				Expect(f.Properties["state"]).To(BeEquivalentTo(0))
				Expect(f.Properties["last_updated"]).To(BeNil())
			}
		})

		It("should count reports per area and source", func() {
			fc := ts.collection("/v1/rem/counts?start=1455591600&end=1455595200")
			Expect(fc.Features).To(HaveLen(3))

			first := fc.Features[0]
			Expect(first.Properties["pkey"]).To(BeEquivalentTo(1))
			Expect(first.Properties["unconfirmed"]).To(BeEquivalentTo(1))
			Expect(first.Properties["counts"]).To(HaveLen(2))

			Expect(fc.Features[1].Properties["counts"]).To(BeNil())
		})

		It("should serve an empty feed", func() {
			status, data := ts.doRequest(http.MethodGet, "/v1/rem/flooded?format=cap", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(data)).To(ContainSubstring(`<feed xmlns="http://www.w3.org/2005/Atom">`))
			Expect(string(data)).NotTo(ContainSubstring("<entry>"))
		})
	})

	Describe("Reporting flooded areas", func() {
		BeforeAll(func() {
			ts.setState("1", 3)
			ts.setState("2", 1)
			ts.setState("3", 4)
		})

		It("should list the flooded areas", func() {
			fc := ts.collection("/v1/rem/flooded")
			Expect(fc.Features).To(HaveLen(3))
			Expect(fc.Features[0].Properties["last_updated"]).To(Equal("2016-02-16 10:36:50"))
		})

		It("should dispatch one alert per convertible area", func() {
			Eventually(func() int {
				return len(ts.notifier.Flooded())
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(2))
			Consistently(func() int {
				return len(ts.notifier.Flooded())
			}, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(2))

			severities := []string{}
			for _, p := range ts.notifier.Flooded() {
				severities = append(severities, p.Severity)
			}
			Expect(severities).To(ConsistOf("Moderate", "Unknown"))
		})

		It("should embed a CAP alert per convertible area in the feed", func() {
			status, data := ts.doRequest(http.MethodGet, "/v1/rem/flooded?format=cap", nil)
			Expect(status).To(Equal(http.StatusOK))

			var feed cap.Feed
			Expect(xml.Unmarshal(data, &feed)).To(Succeed())
			Expect(feed.Entries).To(HaveLen(2))

			entry := feed.Entries[0]
			Expect(entry.Title).To(Equal("KAMPUNG_MELAYU.RW_01.2016-02-16T10%3A36%3A50%2B07%3A00 Flood Report"))
			Expect(entry.Content.Alert.Info.Severity).To(Equal("Moderate"))
			Expect(entry.Content.Alert.Info.Area.AreaDesc).To(Equal("RW 01, KAMPUNG MELAYU"))
			Expect(entry.Content.Alert.Info.Area.Polygon).To(HaveLen(1))

			multi := feed.Entries[1].Content.Alert.Info.Area
			Expect(multi.AreaDesc).To(Equal("RW 07, BIDARA CINA"))
			Expect(multi.Polygon).To(HaveLen(2))
		})

		It("should refuse a standalone alert for an area with an interior ring", func() {
			status, data := ts.doRequest(http.MethodGet, "/v1/rem/flooded/3/cap", nil)
			Expect(status).To(Equal(http.StatusUnprocessableEntity))
			Expect(string(data)).To(ContainSubstring(api.ErrCodeUnprocessable))
		})

		It("should not dispatch again for an unchanged state", func() {
			ts.setState("1", 3)
			Consistently(func() int {
				return len(ts.notifier.Flooded())
			}, 200*time.Millisecond, 10*time.Millisecond).Should(Equal(2))
		})
	})

	Describe("Clearing an area", func() {
		It("should drop it from the flooded list and notify once", func() {
			ts.setState("1", 0)

			Eventually(func() int {
				return len(ts.notifier.Cleared())
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))
			Expect(ts.notifier.Cleared()[0].AreaID).To(BeEquivalentTo(1))

			fc := ts.collection("/v1/rem/flooded")
			Expect(fc.Features).To(HaveLen(2))
		})
	})

	Describe("Rejected updates", func() {
		It("should return 404 for an unknown area", func() {
			status, _ := ts.doRequest(http.MethodPut, "/v1/rem/flooded/42", map[string]interface{}{
				"state": 2, "username": "operator",
			})
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("should return 400 for an out of range state", func() {
			status, data := ts.doRequest(http.MethodPut, "/v1/rem/flooded/1", map[string]interface{}{
				"state": 9, "username": "operator",
			})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(string(data)).To(ContainSubstring(api.ErrCodeValidationFailed))
		})
	})
})
