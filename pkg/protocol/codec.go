package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors.
var (
	// ErrMalformed is returned for frames that are not valid JSON envelopes
	// or whose payload does not match the declared type.
	ErrMalformed = errors.New("protocol: malformed frame")

	// ErrUnknownType is returned for frames with an unrecognized type tag.
	ErrUnknownType = errors.New("protocol: unknown frame type")
)

// DecodeError describes a frame that could not be decoded.
type DecodeError struct {
	Type Type
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (type %s)", e.Err, e.Type)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type inbound struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outbound struct {
	Type    Type  `json:"type"`
	Payload Event `json:"payload"`
}

// Raw payload shapes with pointer fields so missing keys are detected.
type (
	rawPaint struct {
		Index *int    `json:"index"`
		Color *string `json:"color"`
	}
	rawSendMessage struct {
		Text *string `json:"text"`
	}
	rawSendImage struct {
		Data *string `json:"data"`
	}
)

// Decode parses a client frame.
func Decode(data []byte) (Request, error) {
	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: missing type", ErrMalformed)}
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return nil, &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: missing payload", ErrMalformed)}
	}

	malformed := func(err error) error {
		return &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	missing := func(field string) error {
		return &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: missing %s", ErrMalformed, field)}
	}

	switch env.Type {
	case TypePaint:
		var p rawPaint
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(err)
		}
		if p.Index == nil {
			return nil, missing("index")
		}
		if p.Color == nil {
			return nil, missing("color")
		}
		return &Paint{Index: *p.Index, Color: *p.Color}, nil

	case TypeSendMessage:
		var m rawSendMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, malformed(err)
		}
		if m.Text == nil {
			return nil, missing("text")
		}
		return &SendMessage{Text: *m.Text}, nil

	case TypeSendImage:
		var m rawSendImage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, malformed(err)
		}
		if m.Data == nil {
			return nil, missing("data")
		}
		return &SendImage{Data: *m.Data}, nil
	}

	return nil, &DecodeError{Type: env.Type, Err: ErrUnknownType}
}

// Encode serializes a server event into a frame.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("protocol: nil event")
	}
	return json.Marshal(outbound{Type: ev.EventType(), Payload: ev})
}
