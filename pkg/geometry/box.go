package geometry

// Box is an axis-aligned bounding box in projected map coordinates.
// XMin/YMin is the lower-left corner, XMax/YMax the upper-right.
type Box struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// NewBox creates a new Box.
func NewBox(xMin, yMin, xMax, yMax float64) Box {
	return Box{XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}
}

// Width returns the box extent along X.
func (b Box) Width() float64 {
	return b.XMax - b.XMin
}

// Height returns the box extent along Y.
func (b Box) Height() float64 {
	return b.YMax - b.YMin
}

// IsValid reports whether the box is a non-degenerate rectangle.
func (b Box) IsValid() bool {
	return b.XMin < b.XMax && b.YMin < b.YMax
}

// Expand returns the box grown by dx on the left/right sides and dy on the
// top/bottom sides. Negative values shrink the box.
func (b Box) Expand(dx, dy float64) Box {
	return Box{
		XMin: b.XMin - dx,
		YMin: b.YMin - dy,
		XMax: b.XMax + dx,
		YMax: b.YMax + dy,
	}
}

// Intersects reports whether two boxes overlap.
func (b Box) Intersects(other Box) bool {
	return b.XMin < other.XMax && b.XMax > other.XMin &&
		b.YMin < other.YMax && b.YMax > other.YMin
}
