package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vango-dev/pixeltree/pkg/canvas"
)

// SnapshotFormat identifies pixeltree snapshot documents.
const SnapshotFormat = "pixeltree.grid"

// CurrentSnapshotVersion is the version written by EncodeSnapshot.
// Increment when making breaking changes to the format.
const CurrentSnapshotVersion = 1

// ErrCorrupt is returned when snapshot bytes cannot be decoded or do not
// describe a grid of the expected size.
var ErrCorrupt = errors.New("persist: corrupt snapshot")

// Snapshot is the serialized form of the grid.
type Snapshot struct {
	// Format is always SnapshotFormat.
	Format string `json:"format"`

	// Version is the serialization format version.
	Version int `json:"version"`

	Width   int            `json:"width"`
	Height  int            `json:"height"`
	SavedAt time.Time      `json:"saved_at"`
	Pixels  []canvas.Color `json:"pixels"`

	// Legacy is set when the document was a bare pixel array.
	Legacy bool `json:"-"`
}

// EncodeSnapshot serializes pixels of a width x height grid.
func EncodeSnapshot(width, height int, pixels []canvas.Color, savedAt time.Time) ([]byte, error) {
	if len(pixels) != width*height {
		return nil, fmt.Errorf("persist: %d pixels for %dx%d grid", len(pixels), width, height)
	}
	return json.Marshal(&Snapshot{
		Format:  SnapshotFormat,
		Version: CurrentSnapshotVersion,
		Width:   width,
		Height:  height,
		SavedAt: savedAt.UTC(),
		Pixels:  pixels,
	})
}

// legacyPixel is one entry of the pre-versioned backup layout: a bare JSON array
// of {"color", "last_updated", "modifier_id"} objects.
type legacyPixel struct {
	Color canvas.Color `json:"color"`
}

// DecodeSnapshot parses snapshot bytes. Both the versioned document and the
// legacy bare-array layout are accepted. The result is not checked against
// any particular grid size; see Snapshot.Fits.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrCorrupt)
	}

	if data[0] == '[' {
		var legacy []legacyPixel
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		pixels := make([]canvas.Color, len(legacy))
		for i, p := range legacy {
			pixels[i] = p.Color
		}
		return &Snapshot{Pixels: pixels, Legacy: true}, nil
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.Format != SnapshotFormat {
		return nil, fmt.Errorf("%w: format %q", ErrCorrupt, s.Format)
	}
	if s.Version < 1 || s.Version > CurrentSnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, s.Version)
	}
	if len(s.Pixels) != s.Width*s.Height {
		return nil, fmt.Errorf("%w: %d pixels for %dx%d", ErrCorrupt, len(s.Pixels), s.Width, s.Height)
	}
	return &s, nil
}

// Fits reports whether the snapshot describes a width x height grid.
// Legacy snapshots carry no dimensions and only the pixel count is checked.
func (s *Snapshot) Fits(width, height int) bool {
	if len(s.Pixels) != width*height {
		return false
	}
	return s.Legacy || (s.Width == width && s.Height == height)
}
