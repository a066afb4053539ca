// Package vecmath provides the 2D vector, AABB overlap, and projectile
// launch-velocity primitives shared by the player and match packages.
//
// Every function here is pure - no locking, no allocation beyond the
// returned value. All checks are O(1).
package vecmath

import "math"

// Vec2 is a 2D vector or point.
type Vec2 struct {
	X, Y float64
}

// Rect is an axis-aligned bounding box described by its edges, matching the
// {left, right, top, bottom, width, height} shape used throughout the wire
// protocol and the platform/player bounds accessors.
type Rect struct {
	Left, Right, Top, Bottom float64
	Width, Height            float64
}

const (
	// PlayerWidth and PlayerHeight are the player hitbox dimensions.
	PlayerWidth  = 50.0
	PlayerHeight = 50.0

	// ProjectileWidth and ProjectileHeight are the projectile hitbox dimensions.
	ProjectileWidth  = 20.0
	ProjectileHeight = 20.0

	// defaultProjectileSpeed is the launch speed used when callers don't
	// override it.
	defaultProjectileSpeed = 30.0

	// minLaunchDistance guards against normalizing a near-zero vector.
	minLaunchDistance = 1e-8
)

// LaunchVelocity returns the unit direction from (spawnX, spawnY) to
// (targetX, targetY) scaled by speed. If the two points are closer than
// 1e-8, the direction is undefined, so the velocity is the zero vector.
func LaunchVelocity(spawnX, spawnY, targetX, targetY, speed float64) Vec2 {
	dx := targetX - spawnX
	dy := targetY - spawnY
	dist := math.Sqrt(dx*dx + dy*dy)
	if dist < minLaunchDistance {
		return Vec2{}
	}
	return Vec2{X: dx / dist * speed, Y: dy / dist * speed}
}

// DefaultLaunchVelocity calls LaunchVelocity with the default projectile
// speed of 30 units/sec used by the shooting protocol (§4.4.5).
func DefaultLaunchVelocity(spawnX, spawnY, targetX, targetY float64) Vec2 {
	return LaunchVelocity(spawnX, spawnY, targetX, targetY, defaultProjectileSpeed)
}

// AABBOverlap reports strict half-open overlap between two axis-aligned
// rectangles expressed as (x, y, width, height) tuples: true iff the two
// boxes overlap on both axes, touching edges excluded.
func AABBOverlap(x1, y1, w1, h1, x2, y2, w2, h2 float64) bool {
	return x1 < x2+w2 && x1+w1 > x2 &&
		y1 < y2+h2 && y1+h1 > y2
}

// RectOverlap is the Rect-typed form of AABBOverlap.
func RectOverlap(r1, r2 Rect) bool {
	return AABBOverlap(r1.Left, r1.Top, r1.Width, r1.Height, r2.Left, r2.Top, r2.Width, r2.Height)
}

// Clamp confines v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
