package vecmath

import "testing"

func TestLaunchVelocityDirection(t *testing.T) {
	v := LaunchVelocity(0, 0, 10, 0, 30)
	if v.X != 30 || v.Y != 0 {
		t.Fatalf("expected (30,0), got (%v,%v)", v.X, v.Y)
	}
}

func TestLaunchVelocityZeroDistance(t *testing.T) {
	v := LaunchVelocity(5, 5, 5, 5, 30)
	if v.X != 0 || v.Y != 0 {
		t.Fatalf("expected zero vector for coincident points, got (%v,%v)", v.X, v.Y)
	}
}

func TestDefaultLaunchVelocitySpeed(t *testing.T) {
	v := DefaultLaunchVelocity(0, 0, 0, 10)
	if v.Y != 30 {
		t.Fatalf("expected speed 30 along y axis, got %v", v.Y)
	}
}

func TestAABBOverlapTouchingEdgesDoNotOverlap(t *testing.T) {
	// r1 right edge exactly meets r2 left edge - half-open, must not overlap.
	if AABBOverlap(0, 0, 10, 10, 10, 0, 10, 10) {
		t.Fatal("touching edges should not count as overlap")
	}
}

func TestAABBOverlapTrue(t *testing.T) {
	if !AABBOverlap(0, 0, 10, 10, 5, 5, 10, 10) {
		t.Fatal("expected overlap")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(-5, 0, 10) != 0 {
		t.Fatal("expected clamp to lower bound")
	}
	if Clamp(15, 0, 10) != 10 {
		t.Fatal("expected clamp to upper bound")
	}
	if Clamp(5, 0, 10) != 5 {
		t.Fatal("expected value unchanged within bounds")
	}
}
