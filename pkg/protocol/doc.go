// Package protocol implements the pixeltree websocket wire protocol.
//
// Every frame is a JSON text message with a type tag and a payload body:
//
//	{"type": "PAINT", "payload": {"index": 1234, "color": "#ff0000"}}
//
// # Client → Server
//
//   - PAINT {index, color}: paint one cell
//   - SEND_MESSAGE {text}: drop a falling text message (≤ 50 characters)
//   - SEND_IMAGE {data}: drop a falling image (data URI, ≤ 100KB decoded)
//
// # Server → Client
//
//   - INITIAL_STATE {grid: [{color}], online_count, tree_mask: [bool]}
//   - UPDATE_PIXEL {index, color}
//   - UPDATE_COUNT {count}
//   - FALLING_ITEM {item_type, content, x_position}
//
// The protocol is fire-and-forget: the server never answers a request with
// an error frame. Undecodable frames are reported to the caller as
// *DecodeError so the connection can drop them and carry on.
package protocol
