package server

import (
	"log/slog"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Close reasons sent in the websocket close frame.
const (
	closeSlowConsumer = "slow consumer"
	closeShutdown     = "server shutting down"
	closeHandlerPanic = "internal error"
)

// Session is one live websocket participant.
//
// Outbound frames go through a bounded queue drained by WriteLoop. The queue
// is never closed: Close only closes the done channel and the connection,
// so a publisher racing with Close cannot panic.
type Session struct {
	// Identity
	ID        string
	IP        string
	CreatedAt time.Time

	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool

	reasonMu sync.Mutex
	reason   string

	config  *SessionConfig
	metrics *Metrics
	logger  *slog.Logger

	// Stats
	framesRecv atomic.Int64
	framesSent atomic.Int64
	bytesRecv  atomic.Int64
	bytesSent  atomic.Int64
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func generateSessionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func newSession(conn *websocket.Conn, ip string, config *SessionConfig, metrics *Metrics, logger *slog.Logger) *Session {
	id := generateSessionID()
	return &Session{
		ID:        id,
		IP:        ip,
		CreatedAt: time.Now(),
		conn:      conn,
		send:      make(chan []byte, config.OutboundQueue),
		done:      make(chan struct{}),
		config:    config,
		metrics:   metrics,
		logger:    logger.With("session_id", id),
	}
}

// Enqueue adds an encoded frame to the outbound queue without blocking.
func (s *Session) Enqueue(frame []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close closes the session with a normal closure. Safe to call more than once.
func (s *Session) Close() {
	s.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason closes the session, sending code and reason to the client
// when the connection is still writable. Only the first call has effect.
// It may block for up to a second on a stalled connection.
func (s *Session) CloseWithReason(code int, reason string) {
	if s.markClosed(reason) {
		s.teardown(code, reason)
	}
}

// evict marks the session closed and tears the connection down in the
// background. It never blocks, so it is safe under the grid and registry
// locks. It reports whether this call closed the session.
func (s *Session) evict(code int, reason string) bool {
	if !s.markClosed(reason) {
		return false
	}
	go s.teardown(code, reason)
	return true
}

// markClosed flips the session to closed and releases WriteLoop. Only the
// first call reports true.
func (s *Session) markClosed(reason string) bool {
	if s.closed.Swap(true) {
		return false
	}
	s.reasonMu.Lock()
	s.reason = reason
	s.reasonMu.Unlock()
	close(s.done)
	return true
}

// teardown sends the close frame and closes the connection. The close frame
// waits for the write lock, which a stalled WriteLoop can hold until its
// write deadline; conn.Close unblocks it.
func (s *Session) teardown(code int, reason string) {
	if s.conn != nil {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
	}

	st := s.Stats()
	s.logger.Debug("session closed",
		"reason", reason,
		"frames_recv", st.FramesRecv,
		"frames_sent", st.FramesSent,
		"bytes_recv", st.BytesRecv,
		"bytes_sent", st.BytesSent)
}

// IsClosed returns whether the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done returns a channel that's closed when the session is done.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason returns the reason given to CloseWithReason.
func (s *Session) CloseReason() string {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}

// Pending returns the number of queued outbound frames.
func (s *Session) Pending() int {
	return len(s.send)
}

// SessionStats is a point-in-time view of a session's traffic.
type SessionStats struct {
	ID         string
	IP         string
	CreatedAt  time.Time
	FramesRecv int64
	FramesSent int64
	BytesRecv  int64
	BytesSent  int64
	Pending    int
}

// Stats returns traffic counters for the session.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:         s.ID,
		IP:         s.IP,
		CreatedAt:  s.CreatedAt,
		FramesRecv: s.framesRecv.Load(),
		FramesSent: s.framesSent.Load(),
		BytesRecv:  s.bytesRecv.Load(),
		BytesSent:  s.bytesSent.Load(),
		Pending:    s.Pending(),
	}
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}
