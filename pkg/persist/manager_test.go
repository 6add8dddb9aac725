package persist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vango-dev/pixeltree/pkg/canvas"
)

type memStore struct {
	mu      sync.Mutex
	name    string
	data    []byte
	saves   int
	saveErr error
	loadErr error
}

func (s *memStore) Name() string { return s.name }

func (s *memStore) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

func (s *memStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.data == nil {
		return nil, ErrNotFound
	}
	return s.data, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paintableIndex(t *testing.T, g *canvas.Grid) int {
	t.Helper()
	for i := 0; i < g.Len(); i++ {
		if g.Paintable(i) {
			return i
		}
	}
	t.Fatal("grid has no paintable pixel")
	return -1
}

func TestManagerCheckpointAndLoad(t *testing.T) {
	ctx := context.Background()
	grid := canvas.New(12, 18, canvas.DefaultBackground)
	idx := paintableIndex(t, grid)
	if err := grid.Paint(idx, 0xff0000, nil); err != nil {
		t.Fatal(err)
	}

	store, err := NewFileStore(filepath.Join(t.TempDir(), "grid.json"))
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(grid, Config{Primary: store, Logger: quietLogger()})

	if err := m.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if grid.Dirty() {
		t.Error("grid still dirty after successful checkpoint")
	}

	// A fresh grid restored from the same store sees the painted pixel.
	fresh := canvas.New(12, 18, canvas.DefaultBackground)
	loader := NewManager(fresh, Config{Primary: store, Logger: quietLogger()})
	pixels, degraded := loader.Load(ctx)
	if degraded {
		t.Fatal("Load degraded")
	}
	if pixels[idx] != 0xff0000 {
		t.Errorf("pixel %d = %v, want #ff0000", idx, pixels[idx])
	}
	if err := fresh.Restore(pixels); err != nil {
		t.Fatal(err)
	}
	if c, _ := fresh.At(idx); c != 0xff0000 {
		t.Errorf("restored pixel = %v", c)
	}
}

func TestManagerSkipsCleanGrid(t *testing.T) {
	grid := canvas.New(12, 18, canvas.DefaultBackground)
	store := &memStore{name: "mem"}
	m := NewManager(grid, Config{Primary: store, Logger: quietLogger()})

	if err := m.Checkpoint(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.saveCount() != 0 {
		t.Errorf("saves = %d, want 0 for clean grid", store.saveCount())
	}
}

func TestManagerFailureRestoresDirty(t *testing.T) {
	grid := canvas.New(12, 18, canvas.DefaultBackground)
	grid.MarkDirty()
	boom := errors.New("disk full")
	store := &memStore{name: "mem", saveErr: boom}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	m := NewManager(grid, Config{Primary: store, Metrics: metrics, Logger: quietLogger()})

	err := m.Checkpoint(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want disk full", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Op != "save" || perr.Store != "mem" {
		t.Errorf("err = %#v, want *Error{save mem}", err)
	}
	if !grid.Dirty() {
		t.Error("dirty flag not restored after failure")
	}
	if got := counterValue(t, metrics.failures); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}

	// Next cycle retries once the store recovers.
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	if err := m.Checkpoint(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if store.saveCount() != 1 {
		t.Errorf("saves = %d, want 1", store.saveCount())
	}
}

func TestManagerMirrorFailureIsNotFatal(t *testing.T) {
	grid := canvas.New(12, 18, canvas.DefaultBackground)
	grid.MarkDirty()
	primary := &memStore{name: "primary"}
	mirror := &memStore{name: "mirror", saveErr: errors.New("unreachable")}
	m := NewManager(grid, Config{Primary: primary, Mirrors: []Store{mirror}, Logger: quietLogger()})

	if err := m.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if primary.saveCount() != 1 {
		t.Errorf("primary saves = %d", primary.saveCount())
	}
	if grid.Dirty() {
		t.Error("grid dirty after primary success")
	}
}

func TestManagerLoadFallsBackToMirror(t *testing.T) {
	grid := canvas.New(2, 2, canvas.DefaultBackground)
	data, err := EncodeSnapshot(2, 2, []canvas.Color{1, 2, 3, 4}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	primary := &memStore{name: "primary", data: []byte("{not json")}
	mirror := &memStore{name: "mirror", data: data}
	m := NewManager(grid, Config{Primary: primary, Mirrors: []Store{mirror}, Logger: quietLogger()})

	pixels, degraded := m.Load(context.Background())
	if degraded {
		t.Fatal("Load degraded despite good mirror")
	}
	if pixels[3] != 4 {
		t.Errorf("pixels = %v", pixels)
	}
}

func TestManagerLoadDegraded(t *testing.T) {
	tests := []struct {
		name  string
		store *memStore
	}{
		{"missing", &memStore{name: "mem"}},
		{"io error", &memStore{name: "mem", loadErr: errors.New("eio")}},
		{"corrupt", &memStore{name: "mem", data: []byte("garbage")}},
		{"wrong size", &memStore{name: "mem", data: mustEncode(t, 1, 1, []canvas.Color{5})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := canvas.New(2, 2, canvas.DefaultBackground)
			m := NewManager(grid, Config{
				Primary:    tt.store,
				Background: canvas.DefaultBackground,
				Logger:     quietLogger(),
			})
			pixels, degraded := m.Load(context.Background())
			if !degraded {
				t.Fatal("degraded = false")
			}
			if len(pixels) != 4 {
				t.Fatalf("len = %d", len(pixels))
			}
			for i, c := range pixels {
				if c != canvas.DefaultBackground {
					t.Errorf("pixel %d = %v, want background", i, c)
				}
			}
		})
	}
}

func mustEncode(t *testing.T, w, h int, pixels []canvas.Color) []byte {
	t.Helper()
	data, err := EncodeSnapshot(w, h, pixels, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestManagerRunFinalCheckpoint(t *testing.T) {
	grid := canvas.New(12, 18, canvas.DefaultBackground)
	store := &memStore{name: "mem"}
	m := NewManager(grid, Config{Primary: store, Interval: time.Hour, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Second)
		close(done)
	}()

	grid.MarkDirty()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if store.saveCount() != 1 {
		t.Errorf("saves = %d, want final checkpoint", store.saveCount())
	}
}

func TestManagerRunPeriodic(t *testing.T) {
	grid := canvas.New(12, 18, canvas.DefaultBackground)
	grid.MarkDirty()
	store := &memStore{name: "mem"}
	m := NewManager(grid, Config{Primary: store, Interval: 10 * time.Millisecond, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for store.saveCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no periodic checkpoint")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}
