package canvas

// Tree geometry, expressed on the reference 120x180 canvas. Other canvas
// sizes scale these proportionally; at 120x180 the mask is identical to the
// reference shape.
const (
	refWidth  = 120
	refHeight = 180

	refTreeTop     = 12
	refTreeBottom  = 156
	refTrunkBottom = 174

	refMaxSpread  = 50 // half width of the triangle at its base
	refSpreadCap  = 55
	refLayerBump  = 2
	refLayerEvery = 20
	refLayerRows  = 5
	refTrunkHalf  = 8

	starAbove  = 3
	starRadius = 2
)

// TreeMask computes the paintable region for a width x height canvas:
// a layered triangle, a trunk below it and a small diamond star on top.
// Index i is paintable iff mask[i] is true.
func TreeMask(width, height int) []bool {
	mask := make([]bool, width*height)
	if width <= 0 || height <= 0 {
		return mask
	}

	sy := func(v int) int { return v * height / refHeight }
	sx := func(v int) int { return v * width / refWidth }

	top := sy(refTreeTop)
	bottom := sy(refTreeBottom)
	trunkBottom := sy(refTrunkBottom)
	center := width / 2

	maxSpread := sx(refMaxSpread)
	spreadCap := sx(refSpreadCap)
	bump := sx(refLayerBump)
	layerEvery := max(sy(refLayerEvery), 1)
	layerRows := sy(refLayerRows)

	fillRow := func(y, half int) {
		if y < 0 || y >= height {
			return
		}
		left := max(center-half, 0)
		right := min(center+half, width-1)
		for x := left; x <= right; x++ {
			mask[y*width+x] = true
		}
	}

	span := bottom - top
	for y := top; y <= bottom; y++ {
		half := 0
		if span > 0 {
			half = (y - top) * maxSpread / span
		}
		if y%layerEvery < layerRows {
			half += bump
		}
		fillRow(y, min(half, spreadCap))
	}

	trunkHalf := sx(refTrunkHalf)
	for y := bottom; y <= trunkBottom; y++ {
		fillRow(y, trunkHalf)
	}

	starY := top - starAbove
	for dy := -starRadius; dy <= starRadius; dy++ {
		for dx := -starRadius; dx <= starRadius; dx++ {
			if abs(dx)+abs(dy) > starRadius {
				continue
			}
			x, y := center+dx, starY+dy
			if x >= 0 && x < width && y >= 0 && y < height {
				mask[y*width+x] = true
			}
		}
	}

	return mask
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
