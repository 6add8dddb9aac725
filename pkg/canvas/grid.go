package canvas

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Sentinel errors returned by Grid and ParseColor.
var (
	// ErrOutOfBounds is returned when a paint targets an index outside the grid.
	ErrOutOfBounds = errors.New("canvas: index out of bounds")

	// ErrOutsideMask is returned when a paint targets a cell outside the tree.
	ErrOutsideMask = errors.New("canvas: index outside paintable mask")

	// ErrBadColor is returned for colors that are not "#rrggbb".
	ErrBadColor = errors.New("canvas: malformed color")

	// ErrSizeMismatch is returned by Restore when the pixel count is wrong.
	ErrSizeMismatch = errors.New("canvas: pixel count does not match grid size")
)

// stripes is the number of lock stripes. Index i is guarded by stripe i%stripes.
const stripes = 64

// Update describes one committed paint.
type Update struct {
	Index int
	Color Color
}

// Grid is the canonical canvas. The zero value is not usable; use New.
type Grid struct {
	width  int
	height int

	pixels []Color
	mask   []bool // immutable after New

	locks [stripes]sync.Mutex
	dirty atomic.Bool

	commits atomic.Uint64
}

// New creates a width x height grid filled with background and the tree
// mask for those dimensions.
func New(width, height int, background Color) *Grid {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("canvas: invalid dimensions %dx%d", width, height))
	}
	g := &Grid{
		width:  width,
		height: height,
		pixels: make([]Color, width*height),
		mask:   TreeMask(width, height),
	}
	for i := range g.pixels {
		g.pixels[i] = background
	}
	return g
}

// Width returns the grid width.
func (g *Grid) Width() int { return g.width }

// Height returns the grid height.
func (g *Grid) Height() int { return g.height }

// Len returns width*height.
func (g *Grid) Len() int { return len(g.pixels) }

// Paintable reports whether index is inside the grid and the mask.
func (g *Grid) Paintable(index int) bool {
	return index >= 0 && index < len(g.mask) && g.mask[index]
}

// Mask returns a copy of the tree mask.
func (g *Grid) Mask() []bool {
	out := make([]bool, len(g.mask))
	copy(out, g.mask)
	return out
}

// At returns the color at index.
func (g *Grid) At(index int) (Color, error) {
	if index < 0 || index >= len(g.pixels) {
		return 0, ErrOutOfBounds
	}
	mu := &g.locks[index%stripes]
	mu.Lock()
	c := g.pixels[index]
	mu.Unlock()
	return c, nil
}

// Paint replaces the color at index. On success onCommit, when non-nil,
// is called with the stripe for index still held, so for any single index
// onCommit observes commits in commit order. onCommit must not block.
func (g *Grid) Paint(index int, color Color, onCommit func(Update)) error {
	if index < 0 || index >= len(g.pixels) {
		return ErrOutOfBounds
	}
	if !g.mask[index] {
		return ErrOutsideMask
	}

	mu := &g.locks[index%stripes]
	mu.Lock()
	defer mu.Unlock()

	g.pixels[index] = color
	g.dirty.Store(true)
	g.commits.Add(1)
	if onCommit != nil {
		onCommit(Update{Index: index, Color: color})
	}
	return nil
}

// Snapshot returns an independent copy of every pixel. All stripes are held
// while copying so no partially applied state is visible.
func (g *Grid) Snapshot() []Color {
	g.lockAll()
	defer g.unlockAll()

	out := make([]Color, len(g.pixels))
	copy(out, g.pixels)
	return out
}

// Restore overwrites every pixel, typically with a loaded checkpoint.
// Restore does not mark the grid dirty.
func (g *Grid) Restore(pixels []Color) error {
	if len(pixels) != len(g.pixels) {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(pixels), len(g.pixels))
	}
	g.lockAll()
	defer g.unlockAll()
	copy(g.pixels, pixels)
	return nil
}

// Dirty reports whether the grid changed since the last TakeDirty.
func (g *Grid) Dirty() bool {
	return g.dirty.Load()
}

// TakeDirty clears the dirty flag and reports whether it was set.
func (g *Grid) TakeDirty() bool {
	return g.dirty.Swap(false)
}

// MarkDirty sets the dirty flag, e.g. after a failed checkpoint.
func (g *Grid) MarkDirty() {
	g.dirty.Store(true)
}

// Commits returns the number of paints applied since New.
func (g *Grid) Commits() uint64 {
	return g.commits.Load()
}

func (g *Grid) lockAll() {
	for i := range g.locks {
		g.locks[i].Lock()
	}
}

func (g *Grid) unlockAll() {
	for i := len(g.locks) - 1; i >= 0; i-- {
		g.locks[i].Unlock()
	}
}
