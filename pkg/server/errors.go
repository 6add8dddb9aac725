package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for session and server conditions.
var (
	// ErrSessionClosed is returned when an operation is attempted on a closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrQueueFull is returned when a session's outbound queue cannot take
	// another frame. The hub disconnects such sessions.
	ErrQueueFull = errors.New("server: outbound queue full")
)

// ProtocolError reports a frame that could not be decoded. The connection
// stays open; the frame is dropped.
type ProtocolError struct {
	SessionID string
	Err       error
}

// Error returns the error message with session context.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server: session %s: protocol: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a panic that occurred while handling a frame.
type HandlerError struct {
	SessionID string
	FrameType string
	Panic     any
	Stack     []byte
}

// Error returns the error message with handler context.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: session %s: panic handling %s: %v", e.SessionID, e.FrameType, e.Panic)
}
