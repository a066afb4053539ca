package match

import (
	"math"
	"testing"

	"matchserver/internal/arena"
)

func approxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// Boundary scenario 1: single-player jump arc.
func TestPlayerJumpArc(t *testing.T) {
	p := NewPlayer("p1", "Alice")
	// x=700 keeps the player clear of every default platform's horizontal
	// span so the fall in the second half of this test reaches world-bottom
	// ground rather than landing on a platform first.
	p.X, p.Y = 700, 100
	p.IsOnSurface = true
	p.CanDoubleJump = true

	platforms := arena.DefaultPlatforms()

	p.Update(InputVector{Y: -1}, FixedStepS, 1, "test", platforms)

	if !approxEqual(p.VY, -700, 0.5) {
		t.Fatalf("expected vy ≈ -700 after first step, got %v", p.VY)
	}
	if !approxEqual(p.Y, 76.67, 0.5) {
		t.Fatalf("expected y ≈ 76.67 after first step, got %v", p.Y)
	}
	if p.IsOnSurface {
		t.Fatal("player should have left the surface on jump")
	}

	for i := 0; i < 60; i++ {
		p.Update(InputVector{}, FixedStepS, int64(i+2), "test", platforms)
	}

	if !p.IsOnSurface {
		t.Fatal("expected player to have landed on the ground within 2s")
	}
	if !p.CanDoubleJump {
		t.Fatal("expected double jump restored on landing")
	}
	if p.VY != 0 {
		t.Fatalf("expected vy = 0 at rest, got %v", p.VY)
	}
}

// Boundary scenario 2: landing cleanly on a platform.
func TestPlayerPlatformLanding(t *testing.T) {
	p := NewPlayer("p1", "Alice")
	platforms := arena.DefaultPlatforms()
	target := platforms[0].Bounds()

	p.X = target.Left + 50
	p.Y = target.Top - 5
	p.VY = 100
	p.IsOnSurface = false
	p.CanDoubleJump = false
	p.IsJumping = true

	p.Update(InputVector{}, FixedStepS, 1, "test", platforms)

	if p.Y != target.Top {
		t.Fatalf("expected y snapped to platform top %v, got %v", target.Top, p.Y)
	}
	if p.VY != 0 {
		t.Fatalf("expected vy = 0 after landing, got %v", p.VY)
	}
	if !p.CanDoubleJump {
		t.Fatal("expected double jump restored on platform landing")
	}
	if p.IsJumping {
		t.Fatal("expected isJumping cleared on platform landing")
	}
}

func TestPlayerDoubleJump(t *testing.T) {
	p := NewPlayer("p1", "Alice")
	platforms := arena.DefaultPlatforms()
	p.IsOnSurface = true
	p.CanDoubleJump = true

	p.Update(InputVector{Y: -1}, FixedStepS, 1, "test", platforms)
	if p.IsOnSurface {
		t.Fatal("expected airborne after first jump")
	}
	if !p.CanDoubleJump {
		t.Fatal("expected double jump still available right after leaving ground")
	}

	p.Update(InputVector{Y: -1}, FixedStepS, 2, "test", platforms)
	if p.CanDoubleJump {
		t.Fatal("expected double jump consumed")
	}

	vyAfterDouble := p.VY
	p.Update(InputVector{Y: -1}, FixedStepS, 3, "test", platforms)
	if p.VY < vyAfterDouble {
		t.Fatal("expected a third jump attempt with no double jump left to have no upward impulse")
	}
}

func TestPlayerInputDebtStack(t *testing.T) {
	p := NewPlayer("p1", "Alice")
	v1 := InputVector{X: 1}
	v2 := InputVector{X: -1}
	p.AddInputDebt(v1)
	p.AddInputDebt(v2)

	top, ok := p.PeekInputDebt()
	if !ok || !top.Equal(v2) {
		t.Fatalf("expected top of stack to be most recently pushed vector")
	}
	popped, ok := p.PopInputDebt()
	if !ok || !popped.Equal(v2) {
		t.Fatal("expected LIFO pop order")
	}
	popped, ok = p.PopInputDebt()
	if !ok || !popped.Equal(v1) {
		t.Fatal("expected second pop to return first pushed vector")
	}
	if _, ok := p.PopInputDebt(); ok {
		t.Fatal("expected empty stack after popping both entries")
	}
}

func TestPlayerDeathClearsQueueAndDebt(t *testing.T) {
	p := NewPlayer("p1", "Alice")
	p.QueueInput(InputPayload{Tick: 1, Vector: InputVector{X: 1}})
	p.AddInputDebt(InputVector{X: 1})

	p.AddDeath()

	if len(p.InputQueue) != 0 {
		t.Fatal("expected input queue cleared on death")
	}
	if len(p.InputDebt) != 0 {
		t.Fatal("expected input debt cleared on death")
	}
	if !p.IsDead {
		t.Fatal("expected isDead set")
	}
	if p.Deaths != 1 {
		t.Fatalf("expected deaths incremented, got %d", p.Deaths)
	}
}

func TestPlayerBroadcastDeltaOmitsUnchangedFields(t *testing.T) {
	p := NewPlayer("p1", "Alice")
	full := p.GetFullBroadcastState(0)
	if full.HP == nil || *full.HP != 100 {
		t.Fatal("expected full broadcast to include hp")
	}

	delta := p.GetLatestStateDelta(1)
	if delta.HP != nil {
		t.Fatal("expected unchanged hp omitted from delta")
	}

	p.Damage(10)
	delta2 := p.GetLatestStateDelta(2)
	if delta2.HP == nil || *delta2.HP != 90 {
		t.Fatal("expected changed hp present in delta")
	}
}
