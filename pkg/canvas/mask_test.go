package canvas

import "testing"

func TestTreeMaskReferenceShape(t *testing.T) {
	const w, h = 120, 180
	mask := TreeMask(w, h)
	if len(mask) != w*h {
		t.Fatalf("len = %d, want %d", len(mask), w*h)
	}

	at := func(x, y int) bool { return mask[y*w+x] }

	tests := []struct {
		name string
		x, y int
		want bool
	}{
		{"corner", 0, 0, false},
		{"bottom corner", w - 1, h - 1, false},
		{"star center", 60, 9, true},
		{"star tip", 60, 7, true},
		{"star diagonal out", 62, 8, false},
		{"tree top", 60, 12, true},
		{"tree top wide bump", 62, 12, false},
		{"tree base center", 60, 150, true},
		{"tree base edge", 60 - 47, 150, true},
		{"outside base", 4, 150, false},
		{"trunk", 60, 170, true},
		{"trunk edge", 68, 170, true},
		{"beside trunk", 69, 170, false},
		{"below trunk", 60, 175, false},
	}

	for _, tt := range tests {
		if got := at(tt.x, tt.y); got != tt.want {
			t.Errorf("%s (%d,%d) = %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestTreeMaskBumpRows(t *testing.T) {
	const w, h = 120, 180
	mask := TreeMask(w, h)
	// Row 20 is the start of a layer period and gets two extra columns each side.
	half := (20 - refTreeTop) * refMaxSpread / (refTreeBottom - refTreeTop)
	if !mask[20*w+60+half+2] {
		t.Error("bump row should extend two columns")
	}
	if mask[25*w+60+((25-refTreeTop)*refMaxSpread/(refTreeBottom-refTreeTop))+1] {
		t.Error("non-bump row should not extend")
	}
}

func TestTreeMaskScales(t *testing.T) {
	for _, dims := range [][2]int{{60, 90}, {240, 360}, {10, 10}, {1, 1}} {
		mask := TreeMask(dims[0], dims[1])
		if len(mask) != dims[0]*dims[1] {
			t.Errorf("%v: len = %d", dims, len(mask))
		}
	}
	mask := TreeMask(240, 360)
	if !mask[200*240+120] {
		t.Error("scaled tree body missing at center")
	}
}

func TestTreeMaskDeterministic(t *testing.T) {
	a := TreeMask(120, 180)
	b := TreeMask(120, 180)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("mask differs at %d", i)
		}
	}
}
