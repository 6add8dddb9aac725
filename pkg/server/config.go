package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/pixeltree/pkg/falling"
)

// Rate limit key scopes.
const (
	ScopeSession = "session"
	ScopeIP      = "ip"
)

// SessionConfig holds configuration for individual sessions.
type SessionConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a message or pong from
	// the client. Must exceed HeartbeatInterval.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 256KB, room for a 100KB image after base64 encoding.
	MaxMessageSize int64

	// OutboundQueue is the number of encoded frames buffered per session.
	// A session whose queue is full is disconnected.
	// Default: 256.
	OutboundQueue int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    256 * 1024,
		OutboundQueue:     256,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func (c *SessionConfig) fillDefaults() {
	d := DefaultSessionConfig()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = d.OutboundQueue
	}
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// AllowedOrigins restricts WebSocket upgrades to these origins
	// (scheme://host[:port]). Empty allows every origin.
	AllowedOrigins []string

	// CheckOrigin overrides AllowedOrigins when set.
	CheckOrigin func(r *http.Request) bool

	// TrustProxyHeaders derives client IPs from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that sets these headers.
	TrustProxyHeaders bool

	// SessionConfig is the configuration for individual sessions.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// Editing

	// Cooldown is the minimum interval between accepted paints per key.
	// Zero disables limiting.
	Cooldown time.Duration

	// RateLimitScope keys the cooldown by ScopeSession or ScopeIP.
	// Default: ScopeSession.
	RateLimitScope string

	// Falling limits for SEND_MESSAGE and SEND_IMAGE.
	Falling falling.Limits

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds how long the server waits for request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// Observability

	// Registry receives server metrics and backs /metrics. Nil disables both.
	Registry *prometheus.Registry

	// Middleware wraps every HTTP route, outermost first.
	Middleware []func(http.Handler) http.Handler

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		SessionConfig:     DefaultSessionConfig(),
		RateLimitScope:    ScopeSession,
		Falling:           falling.Limits{MaxTextChars: falling.DefaultMaxTextChars, MaxImageBytes: falling.DefaultMaxImageBytes},
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// fillDefaults sets every unset field to its default.
func (c *ServerConfig) fillDefaults() {
	d := DefaultServerConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.SessionConfig == nil {
		c.SessionConfig = d.SessionConfig
	} else {
		c.SessionConfig = c.SessionConfig.Clone()
		c.SessionConfig.fillDefaults()
	}
	if c.RateLimitScope == "" {
		c.RateLimitScope = d.RateLimitScope
	}
	if c.Falling.MaxTextChars <= 0 {
		c.Falling.MaxTextChars = d.Falling.MaxTextChars
	}
	if c.Falling.MaxImageBytes <= 0 {
		c.Falling.MaxImageBytes = d.Falling.MaxImageBytes
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = originChecker(c.AllowedOrigins)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ValidateConfig reports configuration values that would break sessions.
func (c *ServerConfig) ValidateConfig() error {
	var errs []error
	if c.Cooldown < 0 {
		errs = append(errs, errors.New("cooldown must not be negative"))
	}
	switch c.RateLimitScope {
	case "", ScopeSession, ScopeIP:
	default:
		errs = append(errs, errors.New("rate limit scope must be \"session\" or \"ip\""))
	}
	if sc := c.SessionConfig; sc != nil && sc.HeartbeatInterval > 0 && sc.ReadTimeout > 0 &&
		sc.HeartbeatInterval >= sc.ReadTimeout {
		errs = append(errs, errors.New("heartbeat interval must be shorter than read timeout"))
	}
	for _, o := range c.AllowedOrigins {
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New("invalid allowed origin "+o))
		}
	}
	return errors.Join(errs...)
}

// originChecker returns a websocket origin check. An empty list allows all
// origins, as do requests without an Origin header (non-browser clients).
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
