package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
)

type recordedSpan struct {
	trace.Span
	mu    sync.Mutex
	name  string
	attrs map[attribute.Key]attribute.Value
	ended bool
}

func (s *recordedSpan) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *recordedSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordedSpan) End(...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

type recordingTracer struct {
	embedded.Tracer
	mu    sync.Mutex
	spans []*recordedSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordedSpan{
		Span:  trace.SpanFromContext(context.Background()),
		name:  name,
		attrs: map[attribute.Key]attribute.Value{},
	}
	for _, a := range cfg.Attributes() {
		s.attrs[a.Key] = a.Value
	}
	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

type recordingProvider struct {
	embedded.TracerProvider
	tracer *recordingTracer
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return p.tracer
}

func withRecordingProvider(t *testing.T) *recordingTracer {
	t.Helper()
	prev := otel.GetTracerProvider()
	rt := &recordingTracer{}
	otel.SetTracerProvider(&recordingProvider{tracer: rt})
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rt
}

func TestOpenTelemetry_SpanPerRequest(t *testing.T) {
	rt := withRecordingProvider(t)
	r := newRouter(OpenTelemetry())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stats/7", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	if len(rt.spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(rt.spans))
	}
	s := rt.spans[0]
	if s.name != "HTTP GET /stats/{id}" {
		t.Errorf("name = %q", s.name)
	}
	if !s.ended {
		t.Error("span not ended")
	}
	if got := s.attrs["http.route"].AsString(); got != "/stats/{id}" {
		t.Errorf("http.route = %q", got)
	}
	if got := s.attrs["http.status_code"].AsInt64(); got != 200 {
		t.Errorf("http.status_code = %d", got)
	}
	if got := rt.spans[1].attrs["http.status_code"].AsInt64(); got != 500 {
		t.Errorf("boom status = %d", got)
	}
}

func TestOpenTelemetry_Filter(t *testing.T) {
	rt := withRecordingProvider(t)
	r := newRouter(OpenTelemetry(WithRequestFilter(func(r *http.Request) bool {
		return !strings.HasPrefix(r.URL.Path, "/stats")
	})))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stats/1", nil))
	if len(rt.spans) != 0 {
		t.Errorf("filtered request produced %d spans", len(rt.spans))
	}
}

func TestOpenTelemetry_AttributeExtractor(t *testing.T) {
	rt := withRecordingProvider(t)
	r := newRouter(OpenTelemetry(WithAttributeExtractor(func(r *http.Request) []attribute.KeyValue {
		return []attribute.KeyValue{attribute.String("pixeltree.client", r.Header.Get("X-Client"))}
	})))

	req := httptest.NewRequest(http.MethodGet, "/stats/1", nil)
	req.Header.Set("X-Client", "tree-ui")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if len(rt.spans) != 1 {
		t.Fatalf("spans = %d", len(rt.spans))
	}
	if got := rt.spans[0].attrs["pixeltree.client"].AsString(); got != "tree-ui" {
		t.Errorf("pixeltree.client = %q", got)
	}
}

func TestOpenTelemetry_WebSocketUpgrade(t *testing.T) {
	withRecordingProvider(t)
	ts := httptest.NewServer(newRouter(OpenTelemetry()))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("upgrade through tracing middleware failed: %v", err)
	}
	conn.Close()
}
