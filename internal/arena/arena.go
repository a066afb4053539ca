// Package arena holds the fixed physical constants and platform layout
// every match is built on top of. This is the single source of truth for
// bounds, gravity, and movement speed (§3 of the design).
package arena

import "matchserver/internal/vecmath"

// Arena dimensions and physics constants, fixed per match.
const (
	Width  = 1920.0
	Height = 1080.0

	Gravity       = 1500.0 // units/s^2
	MaxFallSpeed  = 1500.0 // units/s
	WalkSpeed     = 750.0  // units/s
	JumpStrength  = 750.0  // units/s impulse
	PlayerHalfW   = 25.0
	PlayerHeight  = 50.0
	BoundsPadding = PlayerHalfW
)

// Bounds returns the game bounds rectangle in the {left,right,top,bottom}
// shape referenced throughout the spec.
func Bounds() vecmath.Rect {
	return vecmath.Rect{
		Left: 0, Right: Width, Top: 0, Bottom: Height,
		Width: Width, Height: Height,
	}
}

// Platform is an immutable rectangular surface. Once constructed it never
// mutates - callers that need a different platform construct a new one.
type Platform struct {
	x, y, width, height float64
}

// DefaultPlatformWidth and DefaultPlatformHeight match the initial four
// platforms spec.md §3 lays out.
const (
	DefaultPlatformWidth  = 500.0
	DefaultPlatformHeight = 30.0
)

// NewPlatform constructs an immutable platform at (x, y) with the given
// dimensions.
func NewPlatform(x, y, width, height float64) Platform {
	return Platform{x: x, y: y, width: width, height: height}
}

// Bounds returns the platform's bounding rectangle.
func (p Platform) Bounds() vecmath.Rect {
	return vecmath.Rect{
		Left: p.x, Right: p.x + p.width,
		Top: p.y, Bottom: p.y + p.height,
		Width: p.width, Height: p.height,
	}
}

// DefaultPlatforms returns the initial set of four platforms from §3,
// positioned relative to arena width/height so they stay correct if those
// constants ever change.
func DefaultPlatforms() []Platform {
	w, h := DefaultPlatformWidth, DefaultPlatformHeight
	return []Platform{
		NewPlatform(115, Height-250, w, h),
		NewPlatform(Width-610, Height-250, w, h),
		NewPlatform(115, Height-500, w, h),
		NewPlatform(Width-610, Height-500, w, h),
	}
}
