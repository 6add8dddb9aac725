// Package canvas owns the canonical shared pixel grid and the immutable
// tree mask that decides which cells may be painted.
//
// All access to pixel memory goes through *Grid. Mutations are atomic per
// index: the grid is split into lock stripes so paints to unrelated cells
// proceed in parallel, while two paints to the same cell are serialized and
// the last committed color wins.
//
// A commit hook passed to Paint runs while the cell's stripe is still held.
// This makes the order in which hooks observe commits to a given index equal
// to the order in which those commits happened, which is what the broadcast
// layer relies on. Hooks must not block.
package canvas
