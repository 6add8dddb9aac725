package persist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pixeltree/pkg/canvas"
)

// DefaultInterval is the checkpoint period used when Config.Interval is zero.
const DefaultInterval = 60 * time.Second

// Grid is the view of the canvas the manager needs.
type Grid interface {
	Width() int
	Height() int
	Snapshot() []canvas.Color
	TakeDirty() bool
	MarkDirty()
}

// Config configures a Manager.
type Config struct {
	// Primary receives every checkpoint and is read first on Load.
	Primary Store

	// Mirrors receive a copy of every checkpoint. Failures are logged
	// but do not fail the checkpoint. On Load they are tried in order
	// after the primary.
	Mirrors []Store

	// Interval between periodic checkpoints. Default: 60s.
	Interval time.Duration

	// Background fills the grid returned by a degraded Load.
	Background canvas.Color

	// TracerName names the OpenTelemetry tracer (default: "pixeltree").
	TracerName string

	// Metrics records checkpoint outcomes. May be nil.
	Metrics *Metrics

	Logger *slog.Logger
}

// Manager checkpoints a grid to durable storage and restores it at startup.
type Manager struct {
	grid    Grid
	primary Store
	mirrors []Store
	config  Config
	tracer  trace.Tracer
	metrics *Metrics
	logger  *slog.Logger

	now func() time.Time
}

// NewManager creates a Manager for grid.
func NewManager(grid Grid, config Config) *Manager {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.TracerName == "" {
		config.TracerName = "pixeltree"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		grid:    grid,
		primary: config.Primary,
		mirrors: config.Mirrors,
		config:  config,
		tracer:  otel.Tracer(config.TracerName),
		metrics: config.Metrics,
		logger:  logger.With("component", "persist"),
		now:     time.Now,
	}
}

// Interval returns the checkpoint period.
func (m *Manager) Interval() time.Duration {
	return m.config.Interval
}

func (m *Manager) stores() []Store {
	out := make([]Store, 0, 1+len(m.mirrors))
	if m.primary != nil {
		out = append(out, m.primary)
	}
	return append(out, m.mirrors...)
}

// Load reads the most recent snapshot that fits the grid. Stores are tried
// primary first, then mirrors. When nothing usable is found, Load returns a
// background-filled grid and degraded=true. Load never fails: a damaged
// snapshot must not keep the server from starting.
func (m *Manager) Load(ctx context.Context) (pixels []canvas.Color, degraded bool) {
	ctx, span := m.tracer.Start(ctx, "pixeltree.persist.load")
	defer span.End()

	w, h := m.grid.Width(), m.grid.Height()
	for _, store := range m.stores() {
		data, err := store.Load(ctx)
		if errors.Is(err, ErrNotFound) {
			m.logger.Info("no snapshot in store", "store", store.Name())
			continue
		}
		if err != nil {
			m.logger.Warn("snapshot load failed", "store", store.Name(), "error", err)
			span.RecordError(err)
			continue
		}
		snap, err := DecodeSnapshot(data)
		if err != nil {
			m.logger.Warn("snapshot corrupt", "store", store.Name(), "error", err)
			span.RecordError(err)
			continue
		}
		if !snap.Fits(w, h) {
			m.logger.Warn("snapshot does not fit grid",
				"store", store.Name(),
				"pixels", len(snap.Pixels),
				"width", w,
				"height", h,
			)
			continue
		}
		span.SetAttributes(
			attribute.String("pixeltree.store", store.Name()),
			attribute.Bool("pixeltree.legacy", snap.Legacy),
		)
		m.logger.Info("snapshot restored",
			"store", store.Name(),
			"saved_at", snap.SavedAt,
			"legacy", snap.Legacy,
		)
		return snap.Pixels, false
	}

	span.SetAttributes(attribute.Bool("pixeltree.degraded", true))
	pixels = make([]canvas.Color, w*h)
	for i := range pixels {
		pixels[i] = m.config.Background
	}
	return pixels, true
}

// Checkpoint writes the current grid to the primary store and mirrors.
// A clean grid is skipped. If the primary write fails the grid is marked
// dirty again so the next cycle retries.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if !m.grid.TakeDirty() {
		return nil
	}
	return m.write(ctx)
}

func (m *Manager) write(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "pixeltree.persist.checkpoint")
	start := m.now()
	defer func() {
		if err != nil {
			m.grid.MarkDirty()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.metrics.failed()
		}
		span.End()
	}()

	// Snapshot takes the stripe locks briefly; encoding and I/O run unlocked.
	pixels := m.grid.Snapshot()
	data, err := EncodeSnapshot(m.grid.Width(), m.grid.Height(), pixels, start)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("pixeltree.snapshot_bytes", len(data)))

	if m.primary == nil {
		return errors.New("persist: no primary store")
	}
	if err := m.primary.Save(ctx, data); err != nil {
		return &Error{Op: "save", Store: m.primary.Name(), Err: err}
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Save(ctx, data); err != nil {
			m.logger.Warn("mirror checkpoint failed", "store", mirror.Name(), "error", err)
			span.RecordError(err)
		}
	}

	elapsed := m.now().Sub(start)
	m.metrics.succeeded(elapsed, len(data), start)
	m.logger.Debug("checkpoint written",
		"store", m.primary.Name(),
		"bytes", len(data),
		"duration", elapsed,
	)
	return nil
}

// Run checkpoints every Interval until ctx is cancelled, then performs one
// final checkpoint with a fresh context bounded by timeout.
func (m *Manager) Run(ctx context.Context, timeout time.Duration) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Checkpoint(ctx); err != nil {
				m.logger.Error("checkpoint failed", "error", err)
			}
		case <-ctx.Done():
			m.Final(timeout)
			return
		}
	}
}

// Final performs a last checkpoint on shutdown.
func (m *Manager) Final(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.Checkpoint(ctx); err != nil {
		m.logger.Error("final checkpoint failed", "error", err)
		return
	}
	m.logger.Info("final checkpoint complete")
}

// Close closes every store.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.stores() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
