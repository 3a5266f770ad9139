package valueobjects

import "math"

// Position is a point in canvas space.
// Value objects are immutable and have no identity beyond their value.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPosition creates a Position from canvas coordinates.
func NewPosition(x, y float64) Position {
	return Position{X: x, Y: y}
}

// Equals checks if two positions are equal
func (p Position) Equals(other Position) bool {
	return p.X == other.X && p.Y == other.Y
}

// Translate returns the position shifted by the given offsets.
func (p Position) Translate(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Delta returns the component-wise offset from other to p.
func (p Position) Delta(other Position) (dx, dy float64) {
	return p.X - other.X, p.Y - other.Y
}

// WithinTolerance reports whether both coordinates of other lie within
// tolerance of p. Used for matching creation acknowledgements back to
// staged paste entries, where float round-trips through the wire make
// exact comparison unreliable.
func (p Position) WithinTolerance(other Position, tolerance float64) bool {
	return math.Abs(p.X-other.X) <= tolerance && math.Abs(p.Y-other.Y) <= tolerance
}
