package protocol

// Type is the value of a frame's "type" field.
type Type string

// Client → server frame types.
const (
	TypePaint       Type = "PAINT"
	TypeSendMessage Type = "SEND_MESSAGE"
	TypeSendImage   Type = "SEND_IMAGE"
)

// Server → client frame types.
const (
	TypeInitialState Type = "INITIAL_STATE"
	TypeUpdatePixel  Type = "UPDATE_PIXEL"
	TypeUpdateCount  Type = "UPDATE_COUNT"
	TypeFallingItem  Type = "FALLING_ITEM"
)

// Request is a decoded client frame: one of *Paint, *SendMessage, *SendImage.
type Request interface {
	requestType() Type
}

// Paint asks to set one cell. Color is validated by the caller.
type Paint struct {
	Index int    `json:"index"`
	Color string `json:"color"`
}

// SendMessage asks to broadcast a falling text message.
type SendMessage struct {
	Text string `json:"text"`
}

// SendImage asks to broadcast a falling image given as a data URI.
type SendImage struct {
	Data string `json:"data"`
}

func (*Paint) requestType() Type       { return TypePaint }
func (*SendMessage) requestType() Type { return TypeSendMessage }
func (*SendImage) requestType() Type   { return TypeSendImage }

// TypeOf returns the frame type of r, or "" for nil.
func TypeOf(r Request) Type {
	if r == nil {
		return ""
	}
	return r.requestType()
}

// Event is a server frame payload.
type Event interface {
	EventType() Type
}

// PixelData is one grid cell in InitialState.
type PixelData struct {
	Color string `json:"color"`
}

// InitialState is sent once to a newly connected client.
type InitialState struct {
	Grid        []PixelData `json:"grid"`
	OnlineCount int         `json:"online_count"`
	TreeMask    []bool      `json:"tree_mask"`
}

// UpdatePixel announces a committed paint.
type UpdatePixel struct {
	Index int    `json:"index"`
	Color string `json:"color"`
}

// UpdateCount announces a new live participant count.
type UpdateCount struct {
	Count int `json:"count"`
}

// FallingItem announces an ephemeral text or image item.
type FallingItem struct {
	ItemType  string  `json:"item_type"`
	Content   string  `json:"content"`
	XPosition float64 `json:"x_position"`
}

func (*InitialState) EventType() Type { return TypeInitialState }
func (*UpdatePixel) EventType() Type  { return TypeUpdatePixel }
func (*UpdateCount) EventType() Type  { return TypeUpdateCount }
func (*FallingItem) EventType() Type  { return TypeFallingItem }
