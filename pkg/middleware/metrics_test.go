package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func newRouter(mw func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/stats/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	})
	return r
}

func TestPrometheus_RecordsRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw := Prometheus(WithRegistry(reg), WithNamespace("test"))
	r := newRouter(mw)

	for _, path := range []string{"/stats/1", "/stats/2", "/boom", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "test_http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			got[labels["route"]+" "+labels["status"]] = m.GetCounter().GetValue()
		}
	}

	want := map[string]float64{
		"/stats/{id} 200": 2,
		"/boom 500":       1,
		"unmatched 404":   1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("requests_total[%s] = %v, want %v (all: %v)", k, got[k], v, got)
		}
	}
}

func TestPrometheus_InFlightReturnsToZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	config := defaultMetricsConfig()
	config.Registry = reg
	m := initMetrics(config)

	if v := metricGaugeValue(t, m.inFlight); v != 0 {
		t.Fatalf("inFlight = %v", v)
	}
	m.requestsTotal.WithLabelValues("/x", "GET", "200").Inc()
	if v := metricCounterValue(t, m.requestsTotal.WithLabelValues("/x", "GET", "200")); v != 1 {
		t.Errorf("requestsTotal = %v", v)
	}
}

func TestPrometheus_WebSocketUpgradeThroughWrapper(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts := httptest.NewServer(newRouter(Prometheus(WithRegistry(reg))))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("upgrade through metrics middleware failed: %v", err)
	}
	conn.Close()
}
