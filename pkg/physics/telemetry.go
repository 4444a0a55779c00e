// pkg/physics/telemetry.go
package physics

import "math"

// MetersPerDegLon returns the length of one degree of longitude at latDeg.
func MetersPerDegLon(latDeg float64) float64 {
	return MetersPerDegLat * math.Cos(latDeg*math.Pi/180)
}

// ToMeters converts an angular displacement at latDeg into east/north metres.
func ToMeters(d Vector2D, latDeg float64) Vector2D {
	return Vector2D{
		X: d.X * MetersPerDegLon(latDeg),
		Y: d.Y * MetersPerDegLat,
	}
}

// InstantaneousSpeed projects a per-step angular velocity into metres per
// second. A zero or negative dt yields 0.
func InstantaneousSpeed(velocity Vector2D, latDeg, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	return ToMeters(velocity, latDeg).Length() / dt
}

// DistanceMeters returns the local-plane distance between two positions,
// scaled at their mean latitude.
func DistanceMeters(a, b Vector2D) float64 {
	return ToMeters(b.Sub(a), (a.Y+b.Y)/2).Length()
}
