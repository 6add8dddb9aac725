package server

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/pixeltree/pkg/protocol"
)

// RequestHandler handles one decoded client frame.
type RequestHandler func(s *Session, req protocol.Request)

// writeDirect writes a frame on the connection, bypassing the queue. It is
// only used before WriteLoop starts, when the caller is the sole writer.
func (s *Session) writeDirect(frame []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	s.framesSent.Add(1)
	s.bytesSent.Add(int64(len(frame)))
	return nil
}

// ReadLoop continuously reads frames from the WebSocket connection and
// passes decoded requests to handle. Undecodable frames are logged and
// dropped. ReadLoop blocks until the connection fails or the session is
// closed, and closes the session on return.
func (s *Session) ReadLoop(handle RequestHandler) {
	defer s.Close()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				s.logger.Warn("read error", "error", err)
			}
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		s.framesRecv.Add(1)
		s.bytesRecv.Add(int64(len(msg)))

		req, err := protocol.Decode(msg)
		if err != nil {
			perr := &ProtocolError{SessionID: s.ID, Err: err}
			s.logger.Debug("frame dropped", "error", perr)
			s.metrics.protocolError()
			continue
		}
		s.metrics.frameReceived(string(protocol.TypeOf(req)))

		if !s.safeHandle(handle, req) {
			return
		}
	}
}

// safeHandle runs handle with panic recovery. It reports false when the
// handler panicked; the connection is then closed.
func (s *Session) safeHandle(handle RequestHandler, req protocol.Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			herr := &HandlerError{
				SessionID: s.ID,
				FrameType: fmt.Sprint(protocol.TypeOf(req)),
				Panic:     r,
				Stack:     debug.Stack(),
			}
			s.logger.Error("handler panic",
				"error", herr,
				"stack", string(herr.Stack))
			s.metrics.handlerPanic()
			s.CloseWithReason(websocket.CloseInternalServerErr, closeHandlerPanic)
			ok = false
		}
	}()
	handle(s, req)
	return true
}

// WriteLoop drains the outbound queue and sends heartbeat pings.
// It runs until the session is closed or a write fails.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !s.closed.Load() {
					s.logger.Debug("write error", "error", err)
				}
				s.Close()
				return
			}
			s.framesSent.Add(1)
			s.bytesSent.Add(int64(len(frame)))

		case <-ticker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !s.closed.Load() {
					s.logger.Debug("ping error", "error", err)
				}
				s.Close()
				return
			}

		case <-s.done:
			return
		}
	}
}
