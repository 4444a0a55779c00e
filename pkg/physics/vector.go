// pkg/physics/vector.go
package physics

import "math"

// Vector2D is a planar vector in angular coordinates.
// X is aligned with longitude (east positive), Y with latitude (north positive).
type Vector2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the sum of two vectors
func (v Vector2D) Add(other Vector2D) Vector2D {
	return Vector2D{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub returns the difference between two vectors
func (v Vector2D) Sub(other Vector2D) Vector2D {
	return Vector2D{X: v.X - other.X, Y: v.Y - other.Y}
}

// Scale multiplies the vector by a scalar value
func (v Vector2D) Scale(factor float64) Vector2D {
	return Vector2D{X: v.X * factor, Y: v.Y * factor}
}

// Length returns the magnitude of the vector
func (v Vector2D) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

// LengthSquared returns magnitude squared, for comparisons against a limit
func (v Vector2D) LengthSquared() float64 {
	return v.X*v.X + v.Y*v.Y
}

// Normalize returns a unit vector in the same direction
func (v Vector2D) Normalize() Vector2D {
	length := v.Length()
	if length == 0 {
		return Vector2D{}
	}
	return Vector2D{X: v.X / length, Y: v.Y / length}
}

// Heading returns the compass bearing of the vector in radians.
// 0 points north (increasing Y) and angles grow clockwise.
func (v Vector2D) Heading() float64 {
	return math.Atan2(v.X, v.Y)
}

// FromHeading creates a vector from a compass bearing and magnitude.
func FromHeading(heading, magnitude float64) Vector2D {
	return Vector2D{
		X: math.Sin(heading) * magnitude,
		Y: math.Cos(heading) * magnitude,
	}
}
