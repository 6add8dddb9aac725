package canvas

import "fmt"

// Color is a packed 24-bit RGB value (0xRRGGBB).
type Color uint32

// DefaultBackground is the fill color of a fresh canvas.
const DefaultBackground Color = 0x1a1a2e

// ParseColor parses a "#rrggbb" color. Hex digits are case-insensitive.
func ParseColor(s string) (Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	var c Color
	for i := 1; i < 7; i++ {
		d, ok := hexDigit(s[i])
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrBadColor, s)
		}
		c = c<<4 | Color(d)
	}
	return c, nil
}

// MustParseColor is like ParseColor but panics on malformed input.
func MustParseColor(s string) Color {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

const hexchars = "0123456789abcdef"

// String returns the lowercase "#rrggbb" form.
func (c Color) String() string {
	var b [7]byte
	b[0] = '#'
	for i := 6; i >= 1; i-- {
		b[i] = hexchars[c&0xf]
		c >>= 4
	}
	return string(b[:])
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
