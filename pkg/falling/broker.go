// Package falling validates and packages falling items: short text messages
// and small images that drift across every participant's screen. Items are
// ephemeral broadcast payloads and are never stored.
//
// The broker is the trust boundary for these payloads. Client-side checks
// are advisory only.
package falling

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/unicode/norm"
)

// Kind tags an item as text or image.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Default limits.
const (
	DefaultMaxTextChars  = 50
	DefaultMaxImageBytes = 100 * 1024
)

// Sentinel errors returned by Submit.
var (
	ErrEmpty     = errors.New("falling: empty payload")
	ErrTooLong   = errors.New("falling: text too long")
	ErrTooLarge  = errors.New("falling: image too large")
	ErrBadFormat = errors.New("falling: unrecognized image encoding")
	ErrBadKind   = errors.New("falling: unknown item kind")
)

// Item is a validated falling item ready for broadcast.
type Item struct {
	Kind    Kind
	Content string
	// X is the horizontal placement fraction in [0,1).
	X float64
}

// Limits bounds accepted payloads.
type Limits struct {
	// MaxTextChars is the maximum message length in characters (runes,
	// after NFC normalization). Default: 50.
	MaxTextChars int

	// MaxImageBytes is the maximum decoded image size in bytes.
	// Default: 100KB (102400).
	MaxImageBytes int
}

// Broker validates submissions. It is safe for concurrent use.
type Broker struct {
	limits Limits

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBroker creates a Broker. Zero limits take the defaults.
func NewBroker(limits Limits) *Broker {
	if limits.MaxTextChars <= 0 {
		limits.MaxTextChars = DefaultMaxTextChars
	}
	if limits.MaxImageBytes <= 0 {
		limits.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Broker{
		limits: limits,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Limits returns the effective limits.
func (b *Broker) Limits() Limits {
	return b.limits
}

// Submit validates payload as an item of kind and returns it with a random
// horizontal position.
func (b *Broker) Submit(kind Kind, payload string) (Item, error) {
	var (
		content string
		err     error
	)
	switch kind {
	case KindText:
		content, err = b.checkText(payload)
	case KindImage:
		content, err = b.checkImage(payload)
	default:
		err = fmt.Errorf("%w: %q", ErrBadKind, kind)
	}
	if err != nil {
		return Item{}, err
	}
	return Item{Kind: kind, Content: content, X: b.position()}, nil
}

func (b *Broker) position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64()
}

func (b *Broker) checkText(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrBadFormat)
	}
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(text); n > b.limits.MaxTextChars {
		return "", fmt.Errorf("%w: %d > %d characters", ErrTooLong, n, b.limits.MaxTextChars)
	}
	return text, nil
}

// imageTypes maps data URI subtypes to the format name image.DecodeConfig
// reports for them.
var imageTypes = map[string]string{
	"png":  "png",
	"jpeg": "jpeg",
	"jpg":  "jpeg",
	"gif":  "gif",
	"webp": "webp",
	"bmp":  "bmp",
}

func (b *Broker) checkImage(data string) (string, error) {
	if data == "" {
		return "", ErrEmpty
	}

	const prefix = "data:image/"
	const marker = ";base64,"
	if !strings.HasPrefix(data, prefix) {
		return "", fmt.Errorf("%w: not an image data URI", ErrBadFormat)
	}
	rest := data[len(prefix):]
	sep := strings.Index(rest, marker)
	if sep < 0 {
		return "", fmt.Errorf("%w: data URI is not base64", ErrBadFormat)
	}
	subtype := strings.ToLower(rest[:sep])
	want, ok := imageTypes[subtype]
	if !ok {
		return "", fmt.Errorf("%w: unsupported type image/%s", ErrBadFormat, subtype)
	}

	encoded := rest[sep+len(marker):]
	// Reject on the encoded length before decoding anything large.
	if base64.StdEncoding.DecodedLen(len(encoded)) > b.limits.MaxImageBytes+2 {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, b.limits.MaxImageBytes)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if len(raw) > b.limits.MaxImageBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(raw), b.limits.MaxImageBytes)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if format != want {
		return "", fmt.Errorf("%w: declared image/%s but found %s", ErrBadFormat, subtype, format)
	}
	return data, nil
}
