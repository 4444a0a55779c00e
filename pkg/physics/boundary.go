// pkg/physics/boundary.go
package physics

import "math"

// ApplyBoundary keeps the drone inside env.
//
// In ModeAuto each edge is checked independently (west, east, south, north):
// a velocity component pointing further outward at or past an edge is negated
// and the heading realigned with the new velocity. Position is clamped
// afterwards in both modes. ModeManual never touches velocity.
func ApplyBoundary(state *SimulationState, mode Mode, env Envelope, p Params) []Edge {
	var bounced []Edge

	if mode == ModeAuto {
		pos := state.Position
		vel := &state.Velocity
		margin := p.BoundaryMargin

		if pos.X <= env.MinLng+margin && vel.X < 0 {
			vel.X = -vel.X
			bounced = append(bounced, EdgeWest)
		}
		if pos.X >= env.MaxLng-margin && vel.X > 0 {
			vel.X = -vel.X
			bounced = append(bounced, EdgeEast)
		}
		if pos.Y <= env.MinLat+margin && vel.Y < 0 {
			vel.Y = -vel.Y
			bounced = append(bounced, EdgeSouth)
		}
		if pos.Y >= env.MaxLat-margin && vel.Y > 0 {
			vel.Y = -vel.Y
			bounced = append(bounced, EdgeNorth)
		}

		if len(bounced) > 0 {
			state.Heading = math.Atan2(vel.X, vel.Y)
		}
	}

	state.Position = env.Clamp(state.Position)
	return bounced
}
