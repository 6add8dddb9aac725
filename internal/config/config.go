package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/pixeltree/internal/errors"
	"github.com/vango-dev/pixeltree/pkg/canvas"
	"github.com/vango-dev/pixeltree/pkg/falling"
	"github.com/vango-dev/pixeltree/pkg/persist"
	"github.com/vango-dev/pixeltree/pkg/server"
)

const (
	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultWidth and DefaultHeight are the default grid dimensions.
	DefaultWidth  = 120
	DefaultHeight = 180

	// DefaultSnapshotPath is the default primary snapshot file.
	DefaultSnapshotPath = "data/grid.json"

	// DefaultTracerName names the tracer used for HTTP and checkpoint spans.
	DefaultTracerName = "github.com/vango-dev/pixeltree"
)

// Duration is a time.Duration written as a string ("60s", "1m30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete pixeltree configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Grid        GridConfig        `toml:"grid"`
	Session     SessionConfig     `toml:"session"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Falling     FallingConfig     `toml:"falling"`
	Persistence PersistenceConfig `toml:"persistence"`
	Log         LogConfig         `toml:"log"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`

	// path is the file the config was loaded from.
	path string

	// unknown holds keys present in the file but not in Config.
	unknown []string
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Address           string   `toml:"address"`
	ReadBuffer        int      `toml:"read_buffer"`
	WriteBuffer       int      `toml:"write_buffer"`
	AllowedOrigins    []string `toml:"allowed_origins"`
	MaxMessageSize    int64    `toml:"max_message_size"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
	TrustProxyHeaders bool     `toml:"trust_proxy_headers"`
}

// GridConfig contains the canvas dimensions.
type GridConfig struct {
	Width      int          `toml:"width"`
	Height     int          `toml:"height"`
	Background canvas.Color `toml:"background"`
}

// SessionConfig contains per-connection settings.
type SessionConfig struct {
	OutboundQueue int      `toml:"outbound_queue"`
	ReadTimeout   Duration `toml:"read_timeout"`
	WriteTimeout  Duration `toml:"write_timeout"`
	Heartbeat     Duration `toml:"heartbeat"`
}

// RateLimitConfig contains the paint cooldown.
type RateLimitConfig struct {
	// Cooldown of zero disables limiting.
	Cooldown Duration `toml:"cooldown"`

	// Scope is "session" or "ip".
	Scope string `toml:"scope"`
}

// FallingConfig bounds falling item payloads.
type FallingConfig struct {
	MaxTextChars  int `toml:"max_text_chars"`
	MaxImageBytes int `toml:"max_image_bytes"`
}

// PersistenceConfig contains snapshot store settings.
type PersistenceConfig struct {
	// Path is the primary snapshot file.
	Path     string       `toml:"path"`
	Interval Duration     `toml:"interval"`
	SQLite   SQLiteConfig `toml:"sqlite"`
	S3       S3Config     `toml:"s3"`
}

// SQLiteConfig enables the checkpoint history mirror when Path is set.
type SQLiteConfig struct {
	Path   string `toml:"path"`
	Retain int    `toml:"retain"`
}

// S3Config enables the object storage mirror when Bucket is set.
type S3Config struct {
	Bucket    string `toml:"bucket"`
	Key       string `toml:"key"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

// Enabled reports whether the S3 mirror is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	TracerName string `toml:"tracer_name"`

	// Metrics exposes /metrics. A nil value means enabled.
	Metrics *bool `toml:"metrics"`
}

// New creates a Config with defaults.
func New() *Config {
	c := &Config{
		Grid: GridConfig{Background: canvas.DefaultBackground},
	}
	c.applyDefaults()
	return c
}

// Load reads the TOML file at path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("P100").
				WithDetail(fmt.Sprintf("No config file at %s.", path)).
				Wrap(err)
		}
		return nil, errors.New("P100").Wrap(err)
	}

	// File values are decoded over the defaults.
	c := New()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		e := errors.New("P101").Wrap(err)
		var perr toml.ParseError
		if stderrors.As(err, &perr) {
			e.WithDetail(fmt.Sprintf("%s, line %d", path, perr.Position.Line))
		}
		return nil, e
	}
	c.path = path
	for _, key := range md.Undecoded() {
		c.unknown = append(c.unknown, key.String())
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyDefaults fills in every unset value.
func (c *Config) applyDefaults() {
	sd := server.DefaultServerConfig()
	sess := sd.SessionConfig

	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ReadBuffer == 0 {
		c.Server.ReadBuffer = sd.ReadBufferSize
	}
	if c.Server.WriteBuffer == 0 {
		c.Server.WriteBuffer = sd.WriteBufferSize
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = sess.MaxMessageSize
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = sd.ShutdownTimeout
	}

	if c.Grid.Width == 0 {
		c.Grid.Width = DefaultWidth
	}
	if c.Grid.Height == 0 {
		c.Grid.Height = DefaultHeight
	}

	if c.Session.OutboundQueue == 0 {
		c.Session.OutboundQueue = sess.OutboundQueue
	}
	if c.Session.ReadTimeout.Duration == 0 {
		c.Session.ReadTimeout.Duration = sess.ReadTimeout
	}
	if c.Session.WriteTimeout.Duration == 0 {
		c.Session.WriteTimeout.Duration = sess.WriteTimeout
	}
	if c.Session.Heartbeat.Duration == 0 {
		c.Session.Heartbeat.Duration = sess.HeartbeatInterval
	}

	if c.RateLimit.Scope == "" {
		c.RateLimit.Scope = server.ScopeSession
	}

	if c.Falling.MaxTextChars == 0 {
		c.Falling.MaxTextChars = falling.DefaultMaxTextChars
	}
	if c.Falling.MaxImageBytes == 0 {
		c.Falling.MaxImageBytes = falling.DefaultMaxImageBytes
	}

	if c.Persistence.Path == "" {
		c.Persistence.Path = DefaultSnapshotPath
	}
	if c.Persistence.Interval.Duration == 0 {
		c.Persistence.Interval.Duration = persist.DefaultInterval
	}
	if c.Persistence.SQLite.Retain == 0 {
		c.Persistence.SQLite.Retain = persist.DefaultSQLiteRetain
	}
	if c.Persistence.S3.Key == "" {
		c.Persistence.S3.Key = "grid.json"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Telemetry.TracerName == "" {
		c.Telemetry.TracerName = DefaultTracerName
	}
}

// Validate checks the configuration. All problems are reported together
// in a P102 error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		add("grid: width and height must be positive (got %dx%d)", c.Grid.Width, c.Grid.Height)
	}
	if c.Session.OutboundQueue < 0 {
		add("session.outbound_queue must not be negative")
	}
	if c.Session.Heartbeat.Duration >= c.Session.ReadTimeout.Duration {
		add("session.heartbeat (%s) must be shorter than session.read_timeout (%s)",
			c.Session.Heartbeat.Duration, c.Session.ReadTimeout.Duration)
	}
	if c.RateLimit.Cooldown.Duration < 0 {
		add("rate_limit.cooldown must not be negative")
	}
	if c.RateLimit.Scope != server.ScopeSession && c.RateLimit.Scope != server.ScopeIP {
		add("rate_limit.scope must be %q or %q (got %q)", server.ScopeSession, server.ScopeIP, c.RateLimit.Scope)
	}
	if c.Falling.MaxTextChars < 0 || c.Falling.MaxImageBytes < 0 {
		add("falling limits must not be negative")
	}
	if c.Persistence.Interval.Duration < 0 {
		add("persistence.interval must not be negative")
	}
	if c.Persistence.SQLite.Retain < 0 {
		add("persistence.sqlite.retain must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be \"text\" or \"json\" (got %q)", c.Log.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("P102").WithDetail(strings.Join(problems, "; "))
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.path
}

// UnknownKeys returns keys in the loaded file that pixeltree does not use.
func (c *Config) UnknownKeys() []string {
	return c.unknown
}

// MetricsEnabled reports whether /metrics is exposed.
func (c *Config) MetricsEnabled() bool {
	return c.Telemetry.Metrics == nil || *c.Telemetry.Metrics
}

// ServerConfig maps the file settings onto a server.ServerConfig. Callers
// add the registry, middleware and logger.
func (c *Config) ServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Address:           c.Server.Address,
		ReadBufferSize:    c.Server.ReadBuffer,
		WriteBufferSize:   c.Server.WriteBuffer,
		AllowedOrigins:    c.Server.AllowedOrigins,
		TrustProxyHeaders: c.Server.TrustProxyHeaders,
		SessionConfig: &server.SessionConfig{
			ReadTimeout:       c.Session.ReadTimeout.Duration,
			WriteTimeout:      c.Session.WriteTimeout.Duration,
			HeartbeatInterval: c.Session.Heartbeat.Duration,
			MaxMessageSize:    c.Server.MaxMessageSize,
			OutboundQueue:     c.Session.OutboundQueue,
		},
		Cooldown:       c.RateLimit.Cooldown.Duration,
		RateLimitScope: c.RateLimit.Scope,
		Falling: falling.Limits{
			MaxTextChars:  c.Falling.MaxTextChars,
			MaxImageBytes: c.Falling.MaxImageBytes,
		},
		ShutdownTimeout: c.Server.ShutdownTimeout.Duration,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}
