// Package server provides the websocket runtime for the shared pixel tree.
//
// The server package accepts WebSocket connections, keeps the set of live
// participants, dispatches client frames to the grid and the falling item
// broker, and fans committed changes out to every participant.
//
// # Architecture
//
//   - Session: one connection with a bounded outbound queue
//   - SessionManager: the live set and the participant count
//   - Hub: encodes an event once and enqueues it on every session
//   - Server: chi router with /ws, /health, /stats and /metrics
//
// # Session Lifecycle
//
// On upgrade the session is registered (broadcasting UPDATE_COUNT), the grid
// is snapshotted and INITIAL_STATE is written directly to the connection.
// Only then does WriteLoop start draining the queue, so every event
// committed after registration reaches the client after its initial state.
//
// The session runs two goroutines:
//   - ReadLoop: decodes JSON frames and dispatches them in arrival order
//   - WriteLoop: drains the outbound queue and sends heartbeat pings
//
// # Ordering
//
// UPDATE_PIXEL is published from the grid's commit hook while the index's
// stripe lock is held, so for any single index the publish order equals the
// commit order. Queues are FIFO, so every client observes the commits of one
// index in the same order.
//
// # Slow Consumers
//
// Publishing never blocks. A session whose queue is full is marked closed
// on the spot; its close frame and socket close happen in a separate
// goroutine, since its write loop may be stuck on the stalled connection.
package server
