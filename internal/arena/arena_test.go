package arena

import "testing"

func TestDefaultPlatformsCount(t *testing.T) {
	plats := DefaultPlatforms()
	if len(plats) != 4 {
		t.Fatalf("expected 4 platforms, got %d", len(plats))
	}
}

func TestPlatformBoundsImmutable(t *testing.T) {
	p := NewPlatform(10, 20, 500, 30)
	b := p.Bounds()
	if b.Left != 10 || b.Top != 20 || b.Right != 510 || b.Bottom != 50 {
		t.Fatalf("unexpected bounds: %+v", b)
	}
	// Calling Bounds() again must return the same values - no mutation path exists.
	b2 := p.Bounds()
	if b != b2 {
		t.Fatalf("expected stable bounds, got %+v then %+v", b, b2)
	}
}

func TestBoundsMatchesArenaConstants(t *testing.T) {
	b := Bounds()
	if b.Right != Width || b.Bottom != Height {
		t.Fatalf("arena bounds do not match constants: %+v", b)
	}
}
