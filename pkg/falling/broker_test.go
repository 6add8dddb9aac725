package falling

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if size < buf.Len() {
		t.Fatalf("requested %d bytes but png is %d", size, buf.Len())
	}
	// Trailing bytes after the header chunks do not affect DecodeConfig.
	return append(buf.Bytes(), make([]byte, size-buf.Len())...)
}

func dataURI(subtype string, raw []byte) string {
	return "data:image/" + subtype + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

func TestSubmitText(t *testing.T) {
	b := NewBroker(Limits{})

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr error
	}{
		{"simple", "Merry Christmas!", "Merry Christmas!", nil},
		{"trimmed", "  hi  ", "hi", nil},
		{"exactly 50", strings.Repeat("a", 50), strings.Repeat("a", 50), nil},
		{"50 runes multibyte", strings.Repeat("🎄", 50), strings.Repeat("🎄", 50), nil},
		{"51 chars", strings.Repeat("a", 51), "", ErrTooLong},
		{"51 runes multibyte", strings.Repeat("ß", 51), "", ErrTooLong},
		{"empty", "", "", ErrEmpty},
		{"whitespace", " \t\n ", "", ErrEmpty},
		{"invalid utf8", "\xff\xfe", "", ErrBadFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := b.Submit(KindText, tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if item.Kind != KindText || item.Content != tt.want {
				t.Errorf("item = %+v, want content %q", item, tt.want)
			}
			if item.X < 0 || item.X >= 1 {
				t.Errorf("X = %v, want [0,1)", item.X)
			}
		})
	}
}

func TestSubmitTextNormalizes(t *testing.T) {
	b := NewBroker(Limits{})
	// 50 "e" + combining acute accents compose into 50 characters under NFC.
	decomposed := strings.Repeat("e\u0301", 50)
	item, err := b.Submit(KindText, decomposed)
	if err != nil {
		t.Fatalf("composed text of 50 characters rejected: %v", err)
	}
	if item.Content != strings.Repeat("\u00e9", 50) {
		t.Errorf("content not NFC-normalized: %q", item.Content)
	}
}

func TestSubmitImageSizeBoundary(t *testing.T) {
	b := NewBroker(Limits{})

	exact := dataURI("png", pngBytes(t, DefaultMaxImageBytes))
	item, err := b.Submit(KindImage, exact)
	if err != nil {
		t.Fatalf("image of exactly %d bytes rejected: %v", DefaultMaxImageBytes, err)
	}
	if item.Kind != KindImage || item.Content != exact {
		t.Error("accepted image should carry the original data URI")
	}

	over := dataURI("png", pngBytes(t, DefaultMaxImageBytes+1))
	if _, err := b.Submit(KindImage, over); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("image of %d bytes error = %v, want ErrTooLarge", DefaultMaxImageBytes+1, err)
	}

	huge := "data:image/png;base64," + strings.Repeat("A", 4*DefaultMaxImageBytes)
	if _, err := b.Submit(KindImage, huge); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("huge image error = %v, want ErrTooLarge", err)
	}
}

func TestSubmitImageFormats(t *testing.T) {
	b := NewBroker(Limits{})

	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, image.NewPaletted(image.Rect(0, 0, 1, 1), []color.Color{color.Black}), nil); err != nil {
		t.Fatal(err)
	}
	pngData := pngBytes(t, 200)

	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"png", dataURI("png", pngData), nil},
		{"uppercase subtype", dataURI("PNG", pngData), nil},
		{"gif", dataURI("gif", gifBuf.Bytes()), nil},
		{"empty", "", ErrEmpty},
		{"not a data uri", "https://example.com/x.png", ErrBadFormat},
		{"not base64 uri", "data:image/png,rawbytes", ErrBadFormat},
		{"unsupported subtype", dataURI("svg+xml", []byte("<svg/>")), ErrBadFormat},
		{"bad base64", "data:image/png;base64,!!!!", ErrBadFormat},
		{"garbage bytes", dataURI("png", []byte("definitely not an image")), ErrBadFormat},
		{"mismatched subtype", dataURI("jpeg", pngData), ErrBadFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Submit(KindImage, tt.data)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitUnknownKind(t *testing.T) {
	b := NewBroker(Limits{})
	if _, err := b.Submit(Kind("video"), "x"); !errors.Is(err, ErrBadKind) {
		t.Errorf("error = %v, want ErrBadKind", err)
	}
}

func TestCustomLimits(t *testing.T) {
	b := NewBroker(Limits{MaxTextChars: 5, MaxImageBytes: 300})
	if _, err := b.Submit(KindText, "sixsix"); !errors.Is(err, ErrTooLong) {
		t.Errorf("error = %v, want ErrTooLong", err)
	}
	if _, err := b.Submit(KindImage, dataURI("png", pngBytes(t, 301))); !errors.Is(err, ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
	if got := b.Limits(); got.MaxTextChars != 5 || got.MaxImageBytes != 300 {
		t.Errorf("Limits() = %+v", got)
	}
}

func TestPositionRange(t *testing.T) {
	b := NewBroker(Limits{})
	for i := 0; i < 1000; i++ {
		item, err := b.Submit(KindText, "x")
		if err != nil {
			t.Fatal(err)
		}
		if item.X < 0 || item.X >= 1 {
			t.Fatalf("X = %v out of range", item.X)
		}
	}
}
