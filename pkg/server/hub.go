package server

import (
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/pixeltree/pkg/protocol"
)

// Hub fans encoded events out to every live session.
//
// Publish never blocks: each frame is offered to every session queue with a
// non-blocking send. A session whose queue is full is disconnected, which
// bounds memory per client and keeps one slow reader from stalling others.
type Hub struct {
	sessions *SessionManager
	metrics  *Metrics
	logger   *slog.Logger
}

// NewHub creates a Hub delivering to the sessions of sm.
func NewHub(sm *SessionManager, metrics *Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: sm,
		metrics:  metrics,
		logger:   logger.With("component", "hub"),
	}
}

// Publish encodes ev once and enqueues it on every session. It returns the
// number of sessions that accepted the frame.
func (h *Hub) Publish(ev protocol.Event) (int, error) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return 0, err
	}
	return h.Broadcast(ev.EventType(), frame), nil
}

// Broadcast enqueues an already encoded frame on every session.
func (h *Hub) Broadcast(typ protocol.Type, frame []byte) int {
	delivered := 0
	h.sessions.ForEach(func(s *Session) bool {
		err := s.Enqueue(frame)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrQueueFull):
			// Publish runs under the grid stripe lock and the registry read
			// lock, so the connection is torn down asynchronously. The read
			// loop then notices and unregisters.
			if s.evict(websocket.ClosePolicyViolation, closeSlowConsumer) {
				h.metrics.sessionEvicted()
				h.logger.Warn("slow consumer disconnected",
					"session_id", s.ID,
					"queue", cap(s.send))
			}
		}
		return true
	})
	h.metrics.broadcast(string(typ), delivered)
	return delivered
}
