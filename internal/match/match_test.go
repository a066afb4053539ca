package match

import (
	"testing"
	"time"
)

type fakeSession struct {
	id         string
	events     []string
	payloads   []any
	disconnect bool
}

func (f *fakeSession) Emit(event string, payload any) {
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
}
func (f *fakeSession) Disconnect() { f.disconnect = true }
func (f *fakeSession) ID() string  { return f.id }

type fakeCallbacks struct {
	disconnects []string
	reconnects  []string
}

func (f *fakeCallbacks) OnDisconnect(playerMatchID, matchID string) {
	f.disconnects = append(f.disconnects, playerMatchID)
}
func (f *fakeCallbacks) OnReconnectCleared(playerMatchID string) {
	f.reconnects = append(f.reconnects, playerMatchID)
}

func newTestMatch() (*Match, *fakeSession) {
	m := New("m1", "NA")
	s := &fakeSession{id: "sock1"}
	m.AddPlayer("p1", "Alice", s)
	return m, s
}

// Boundary scenario 3: a queued input that matches the synthesized
// prediction is consumed from the debt stack without a second physics
// application.
func TestInputDebtReuse(t *testing.T) {
	m, _ := newTestMatch()
	p := m.players["p1"]
	p.IsOnSurface = true

	// No input queued: one fixed step synthesizes a predicted vector and
	// pushes it onto the debt stack (non-AFK because Y is forced to 0 but the
	// last processed input had nonzero X).
	p.LastProcessedInput = InputPayload{Tick: 0, Vector: InputVector{X: 1}}
	m.integratePlayerInputs()

	if len(p.InputDebt) != 1 {
		t.Fatalf("expected one predicted vector pushed to debt, got %d", len(p.InputDebt))
	}
	predicted := p.InputDebt[0]

	// Now the real input arrives late, matching the prediction exactly.
	p.QueueInput(InputPayload{Tick: 99, Vector: predicted})
	tickBefore := p.LastProcessedInput.Tick
	m.integratePlayerInputs()

	if len(p.InputDebt) != 0 {
		t.Fatal("expected matching late input to pop the debt stack")
	}
	if p.LastProcessedInput.Tick != tickBefore {
		t.Fatal("expected lastProcessedInput untouched when a debt match is consumed, not reapplied")
	}
}

// Boundary scenario 4: a queued input that diverges from the top of the
// debt stack clears the whole stack and applies the real input once.
func TestInputDebtDivergenceClearsStack(t *testing.T) {
	m, _ := newTestMatch()
	p := m.players["p1"]
	p.IsOnSurface = false
	p.LastProcessedInput = InputPayload{Tick: 0, Vector: InputVector{X: 1}}
	p.AddInputDebt(InputVector{X: 1})
	p.AddInputDebt(InputVector{X: -1})

	p.QueueInput(InputPayload{Tick: 5, Vector: InputVector{X: 1}})
	m.integratePlayerInputs()

	if len(p.InputDebt) != 0 {
		t.Fatal("expected divergent input to clear the entire debt stack")
	}
	if p.LastProcessedInput.Tick != 5 {
		t.Fatal("expected the divergent input itself to become lastProcessedInput")
	}
}

// Boundary scenario 5: reaching the kill threshold ends the round, revives
// queued-for-respawn players in place, and schedules a reset.
func TestWinTriggersGameOverAndReset(t *testing.T) {
	m := New("m1", "NA")
	s1 := &fakeSession{id: "sock1"}
	s2 := &fakeSession{id: "sock2"}
	m.AddPlayer("p1", "Alice", s1)
	m.AddPlayer("p2", "Bob", s2)

	victim := m.players["p2"]
	victim.X, victim.Y = 555, 444

	for kill := 0; kill < maxKillsToWin; kill++ {
		for hit := 0; hit < 100/DefaultDamage; hit++ {
			m.HandleProjectileHit("p1", "p2", "proj")
		}
		if kill < maxKillsToWin-1 {
			victim.IsDead = false
			victim.HP = 100
		}
	}

	if m.state != StateAwaitingReset {
		t.Fatalf("expected match to enter awaiting-reset state, got %v", m.state)
	}
	found := false
	for _, e := range s1.events {
		if e == EventGameOver {
			found = true
		}
	}
	if !found {
		t.Fatal("expected gameOver broadcast to winner's session")
	}
	if victim.IsDead {
		t.Fatal("expected queued-for-respawn victim revived in place on round end")
	}
	if victim.X != 555 || victim.Y != 444 {
		t.Fatal("expected revive-in-place to preserve position")
	}

	m.resetMatch()
	if m.state != StateActive {
		t.Fatal("expected resetMatch to return to active state")
	}
	if m.players["p1"].Kills != 0 {
		t.Fatal("expected kills cleared after reset")
	}
}

// Boundary scenario 6: a disconnect starts the grace period; a rejoin
// before it elapses restores the player without removing it, while one
// that never rejoins is swept after the grace window.
func TestDisconnectReconnectGracePeriod(t *testing.T) {
	m, s1 := newTestMatch()
	cb := &fakeCallbacks{}

	m.HandleDisconnect("p1", cb)
	if !m.players["p1"].IsDisconnected {
		t.Fatal("expected player marked disconnected")
	}
	if len(cb.disconnects) != 1 {
		t.Fatal("expected matchmaker notified of disconnect")
	}

	s2 := &fakeSession{id: "sock1-new"}
	if !m.RejoinPlayer("p1", s2, cb) {
		t.Fatal("expected rejoin to succeed for a known player")
	}
	if m.players["p1"].IsDisconnected {
		t.Fatal("expected disconnected flag cleared on rejoin")
	}
	if len(cb.reconnects) != 1 {
		t.Fatal("expected matchmaker notified of reconnect")
	}
	_ = s1

	// Unknown player rejoin fails cleanly.
	if m.RejoinPlayer("ghost", s2, cb) {
		t.Fatal("expected rejoin of unknown playerMatchID to fail")
	}

	// Disconnect again and let the grace period lapse via the sweep timer.
	m.HandleDisconnect("p1", cb)
	m.sweepDisconnected(time.Now().Add(DisconnectGrace + time.Second))
	if _, stillPresent := m.players["p1"]; stillPresent {
		t.Fatal("expected player removed after grace period elapses")
	}
	if !m.ShouldRemove() {
		t.Fatal("expected match marked for removal once empty")
	}
}

func TestAddPlayerIdempotentForRetriedJoin(t *testing.T) {
	m, _ := newTestMatch()
	before := len(m.players)
	m.AddPlayer("p1", "Alice", &fakeSession{id: "sock1"})
	if len(m.players) != before {
		t.Fatal("expected retried joinQueue for an existing playerMatchID not to create a duplicate")
	}
}

func TestInputRateLimitDropsExcess(t *testing.T) {
	m, _ := newTestMatch()
	for i := 0; i < inputRateLimitMax; i++ {
		m.HandlePlayerInput("p1", InputPayload{Tick: int64(i), Vector: InputVector{X: 1}})
	}
	if len(m.players["p1"].InputQueue) != inputRateLimitMax {
		t.Fatalf("expected %d inputs accepted, got %d", inputRateLimitMax, len(m.players["p1"].InputQueue))
	}
	m.HandlePlayerInput("p1", InputPayload{Tick: 999, Vector: InputVector{X: 1}})
	if len(m.players["p1"].InputQueue) != inputRateLimitMax {
		t.Fatal("expected input beyond the rate limit window to be dropped")
	}
}

func TestBystanderCannotBeDamaged(t *testing.T) {
	m := New("m1", "NA")
	m.AddPlayer("p1", "Alice", &fakeSession{id: "s1"})
	m.AddPlayer("p2", "Bob", &fakeSession{id: "s2"})
	m.players["p2"].IsBystander = true

	m.HandleProjectileHit("p1", "p2", "proj1")

	if m.players["p2"].HP != 100 {
		t.Fatal("expected bystander to take no damage")
	}
}

func TestBroadcastGameStateSendsFullOnJoin(t *testing.T) {
	m, s1 := newTestMatch()
	m.BroadcastGameState()
	if len(s1.events) == 0 || s1.events[0] != EventStateUpdate {
		t.Fatal("expected a stateUpdate broadcast")
	}
	payload, ok := s1.payloads[0].(stateUpdatePayload)
	if !ok || !payload.Full {
		t.Fatal("expected the first broadcast after a join to be a full snapshot")
	}
}
