package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// SessionManager manages all live sessions and the participant count.
//
// Every effective Register or Unregister reports the count to the
// count-change callback. Mutation and callback run under notifyMu, so the
// sequence of reported counts follows the sequence of mutations and the last
// reported count is always the current one.
type SessionManager struct {
	// Sessions map protected by RWMutex
	sessions map[string]*Session
	mu       sync.RWMutex

	// notifyMu serializes mutations together with their notification.
	notifyMu      sync.Mutex
	onCountChange func(count int)

	// Configuration
	config *SessionConfig

	// Metrics
	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	peakSessions int  // protected by mu
	shutdown     bool // protected by mu
	metrics      *Metrics

	// Logger
	logger *slog.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(config *SessionConfig, metrics *Metrics, logger *slog.Logger) *SessionManager {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		config:   config,
		metrics:  metrics,
		logger:   logger.With("component", "session_manager"),
	}
}

// SetOnCountChange sets the callback receiving the live count after each
// register and unregister. It must not call back into the manager's
// mutating methods.
func (sm *SessionManager) SetOnCountChange(fn func(count int)) {
	sm.notifyMu.Lock()
	sm.onCountChange = fn
	sm.notifyMu.Unlock()
}

// Register creates a session for conn and adds it to the live set. After
// Shutdown the session is returned already closed and is not added.
func (sm *SessionManager) Register(conn *websocket.Conn, ip string) *Session {
	sess := newSession(conn, ip, sm.config, sm.metrics, sm.logger)

	sm.notifyMu.Lock()
	defer sm.notifyMu.Unlock()

	sm.mu.Lock()
	if sm.shutdown {
		sm.mu.Unlock()
		sess.CloseWithReason(websocket.CloseGoingAway, closeShutdown)
		return sess
	}
	sm.sessions[sess.ID] = sess
	count := len(sm.sessions)
	if count > sm.peakSessions {
		sm.peakSessions = count
	}
	sm.mu.Unlock()

	sm.totalCreated.Add(1)
	sm.metrics.sessionOpened()
	sm.logger.Debug("session registered", "session_id", sess.ID, "ip", ip, "online", count)

	if sm.onCountChange != nil {
		sm.onCountChange(count)
	}
	return sess
}

// Unregister removes and closes the session. Unknown ids are ignored and
// produce no notification.
func (sm *SessionManager) Unregister(id string) {
	sm.notifyMu.Lock()
	defer sm.notifyMu.Unlock()

	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	if !ok {
		return
	}

	sess.Close()
	sm.totalClosed.Add(1)
	sm.metrics.sessionClosed()
	sm.logger.Debug("session unregistered", "session_id", id, "online", count)

	if sm.onCountChange != nil {
		sm.onCountChange(count)
	}
}

// Get returns the session with id, or nil.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ForEach calls fn for every live session while holding the read lock.
// fn must not block or call mutating manager methods. Returning false stops
// the iteration.
func (sm *SessionManager) ForEach(fn func(*Session) bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		if !fn(s) {
			return
		}
	}
}

// Shutdown closes every session without count notifications. Later
// registrations are refused.
func (sm *SessionManager) Shutdown() {
	sm.notifyMu.Lock()
	defer sm.notifyMu.Unlock()

	sm.mu.Lock()
	sm.shutdown = true
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.CloseWithReason(websocket.CloseGoingAway, closeShutdown)
			sm.metrics.sessionClosed()
		}(session)
	}
	wg.Wait()
	sm.totalClosed.Add(uint64(len(sessions)))

	sm.logger.Info("session manager shutdown",
		"closed_sessions", len(sessions))
}

// ManagerStats is a snapshot of session manager counters.
type ManagerStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
	Peak         int
}

// Stats returns session manager counters.
func (sm *SessionManager) Stats() ManagerStats {
	sm.mu.RLock()
	active := len(sm.sessions)
	peak := sm.peakSessions
	sm.mu.RUnlock()

	return ManagerStats{
		Active:       active,
		TotalCreated: sm.totalCreated.Load(),
		TotalClosed:  sm.totalClosed.Load(),
		Peak:         peak,
	}
}
