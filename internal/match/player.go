package match

import (
	"time"

	"matchserver/internal/arena"
	"matchserver/internal/vecmath"
)

// Starting spawn/respawn coordinates (§4.4.6).
const (
	StartingX = 100.0
	StartingY = 100.0

	// DefaultDamage is the damage a confirmed projectileHit applies (§4.4.5).
	DefaultDamage = 10
)

// Player is the per-player physics, gameplay, and networking state described
// in spec.md §3/§4.3. It is pure simulation state - no socket, no timers;
// those are owned by the Match that holds this player.
type Player struct {
	PlayerMatchID string
	Name          string

	// Physics.
	X, Y           float64
	VX, VY         float64
	IsOnSurface    bool
	CanDoubleJump  bool
	IsJumping      bool

	// Gameplay.
	HP          int
	IsBystander bool
	IsDead      bool
	Kills       int
	Deaths      int

	// Networking.
	InputQueue         []InputPayload
	LastProcessedInput InputPayload
	InputDebt          []InputVector
	LastInputTimestamp time.Time
	IsDisconnected     bool

	// afkWarned is set once an afkWarning has fired for the current idle
	// spell and cleared the moment a new input arrives (§4.4.7). It lives
	// here because it's player-local bookkeeping; the timer it gates is
	// owned by the Match.
	afkWarned bool

	// IsShooting/PendingShot are set by Update when an applied input carries
	// a mouse target from a non-bystander; the Match reads and clears them
	// after emitting the resulting projectile update.
	IsShooting bool
	PendingShot *MouseTarget

	lastBroadcast    broadcastSnapshot
	hasLastBroadcast bool

	// lastAppliedTick/lastScenarioTag record the most recent Update() call's
	// origin for diagnostics only; nothing reads them back for physics.
	lastAppliedTick int64
	lastScenarioTag string
}

type broadcastSnapshot struct {
	hp        int
	bystander bool
	name      string
	isDead    bool
	kills     int
	deaths    int
}

// NewPlayer constructs a player at the starting spawn position with full HP.
func NewPlayer(playerMatchID, name string) *Player {
	return &Player{
		PlayerMatchID:       playerMatchID,
		Name:                name,
		X:                   StartingX,
		Y:                   StartingY,
		HP:                  100,
		CanDoubleJump:       true,
		LastInputTimestamp:  time.Now(),
	}
}

// QueueInput appends to the FIFO input queue and refreshes the AFK clock.
// It never blocks or drops - the Match enforces the rate limit before this
// is called.
func (p *Player) QueueInput(payload InputPayload) {
	p.InputQueue = append(p.InputQueue, payload)
	p.LastInputTimestamp = time.Now()
}

// DequeueInput pops the oldest queued input, if any.
func (p *Player) DequeueInput() (InputPayload, bool) {
	if len(p.InputQueue) == 0 {
		return InputPayload{}, false
	}
	head := p.InputQueue[0]
	p.InputQueue = p.InputQueue[1:]
	return head, true
}

// ClearInputQueue empties the FIFO - used when a player dies (§3 invariant:
// isDead ⇒ inputQueue = ∅).
func (p *Player) ClearInputQueue() {
	p.InputQueue = nil
}

// AddInputDebt pushes a predicted vector onto the debt stack.
func (p *Player) AddInputDebt(v InputVector) {
	p.InputDebt = append(p.InputDebt, v)
}

// PeekInputDebt returns the top of the debt stack without removing it.
func (p *Player) PeekInputDebt() (InputVector, bool) {
	if len(p.InputDebt) == 0 {
		return InputVector{}, false
	}
	return p.InputDebt[len(p.InputDebt)-1], true
}

// PopInputDebt removes and returns the top of the debt stack.
func (p *Player) PopInputDebt() (InputVector, bool) {
	n := len(p.InputDebt)
	if n == 0 {
		return InputVector{}, false
	}
	v := p.InputDebt[n-1]
	p.InputDebt = p.InputDebt[:n-1]
	return v, true
}

// ClearInputDebt empties the debt stack (prediction divergence, or death).
func (p *Player) ClearInputDebt() {
	p.InputDebt = nil
}

// IsAfk reports whether the given (predicted) vector represents an idle
// player: no movement/jump intent and already resting on a surface.
func (p *Player) IsAfk(v InputVector) bool {
	return v.X == 0 && v.Y == 0 && p.IsOnSurface
}

// Bounds returns the player's AABB. The pivot (X, Y) is the bottom-center
// of the hitbox.
func (p *Player) Bounds() vecmath.Rect {
	return vecmath.Rect{
		Left:   p.X - arena.PlayerHalfW,
		Right:  p.X + arena.PlayerHalfW,
		Top:    p.Y - arena.PlayerHeight,
		Bottom: p.Y,
		Width:  arena.PlayerHalfW * 2,
		Height: arena.PlayerHeight,
	}
}

// Update runs one physics sub-step (§4.3) against inputVector over dt
// seconds, against the given platform set. tick and scenarioTag are not
// used by the physics itself; they're recorded for diagnostics (the input-
// debt protocol in Match stamps each sub-step with its origin: "predicted",
// "direct", or "divergence").
func (p *Player) Update(inputVector InputVector, dt float64, tick int64, scenarioTag string, platforms []arena.Platform) {
	p.lastAppliedTick = tick
	p.lastScenarioTag = scenarioTag

	if inputVector.X != 0 {
		p.VX = float64(inputVector.X) * arena.WalkSpeed
	} else {
		p.VX = 0
	}

	if inputVector.Y < 0 {
		if p.IsOnSurface {
			p.VY = float64(inputVector.Y) * arena.JumpStrength
			p.CanDoubleJump = true
			p.IsOnSurface = false
			p.IsJumping = true
		} else if p.CanDoubleJump {
			p.VY = float64(inputVector.Y) * arena.JumpStrength
			p.CanDoubleJump = false
		}
	}

	p.VY += arena.Gravity * dt
	if p.VY > arena.MaxFallSpeed {
		p.VY = arena.MaxFallSpeed
	}

	p.X += p.VX * dt
	p.Y += p.VY * dt

	bounds := arena.Bounds()
	p.X = vecmath.Clamp(p.X, bounds.Left+arena.BoundsPadding, bounds.Right-arena.BoundsPadding)
	p.Y = vecmath.Clamp(p.Y, bounds.Top, bounds.Bottom)

	if p.Y == bounds.Bottom {
		p.IsOnSurface = true
		p.VY = 0
		p.IsJumping = false
		p.CanDoubleJump = true
	}

	p.resolvePlatformCollisions(platforms)

	if inputVector.Mouse != nil && !p.IsBystander {
		p.IsShooting = true
		shot := *inputVector.Mouse
		p.PendingShot = &shot
	}
}

// resolvePlatformCollisions implements §4.3a: the first platform (in
// insertion order) that the player is landing on or has tunneled into wins.
func (p *Player) resolvePlatformCollisions(platforms []arena.Platform) {
	if p.VY <= 0 {
		return
	}
	pb := p.Bounds()
	for _, plat := range platforms {
		fb := plat.Bounds()
		horizontalOverlap := pb.Right > fb.Left && pb.Left < fb.Right
		justLanded := pb.Bottom == fb.Top
		tunneled := pb.Bottom > fb.Top && pb.Bottom < fb.Bottom
		if horizontalOverlap && (justLanded || tunneled) {
			p.Y = fb.Top
			p.VY = 0
			p.CanDoubleJump = true
			p.IsJumping = false
			return
		}
	}
}

// Damage reduces HP by amount, floored at 0.
func (p *Player) Damage(amount int) {
	p.HP -= amount
	if p.HP < 0 {
		p.HP = 0
	}
}

// Heal increases HP by amount, capped at 100.
func (p *Player) Heal(amount int) {
	p.HP += amount
	if p.HP > 100 {
		p.HP = 100
	}
}

// Respawn resets the player to the starting position with full HP and zero
// velocity (§4.4.6 "still in respawn queue when timer fires").
func (p *Player) Respawn(x, y float64) {
	p.X = x
	p.Y = y
	p.VX = 0
	p.VY = 0
	p.HP = 100
	p.IsDead = false
	p.IsOnSurface = false
	p.IsJumping = false
	p.CanDoubleJump = true
}

// ReviveInPlace is used when a round ends (win transition) while players
// are still queued to respawn: they come back to life at their current
// position rather than teleporting to spawn (§4.4.6).
func (p *Player) ReviveInPlace() {
	p.VX = 0
	p.VY = 0
	p.HP = 100
	p.IsDead = false
}

// AddDeath marks the player dead, clears its queue/debt (§3 invariant), and
// increments its death counter.
func (p *Player) AddDeath() {
	p.IsDead = true
	p.Deaths++
	p.ClearInputQueue()
	p.ClearInputDebt()
}

// AddKill increments the kill counter.
func (p *Player) AddKill() {
	p.Kills++
}

// ResetScore zeroes kills/deaths and restores HP without moving the player
// or touching its bystander flag (§4.4.6 resetMatch).
func (p *Player) ResetScore() {
	p.HP = 100
	p.Kills = 0
	p.Deaths = 0
}

// PlayerBroadcastState is the wire shape for one player in a stateUpdate
// message: always {id,x,y,vx,vy,tick}, plus whichever of the optional
// fields are present (full state: all of them; delta: only changed ones).
type PlayerBroadcastState struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	VX   float64 `json:"vx"`
	VY   float64 `json:"vy"`
	Tick int64   `json:"tick"`

	HP        *int    `json:"hp,omitempty"`
	Bystander *bool   `json:"by,omitempty"`
	Name      *string `json:"name,omitempty"`
	IsDead    *bool   `json:"isDead,omitempty"`
	Kills     *int    `json:"kills,omitempty"`
	Deaths    *int    `json:"deaths,omitempty"`
}

func (p *Player) currentSnapshot() broadcastSnapshot {
	return broadcastSnapshot{
		hp:        p.HP,
		bystander: p.IsBystander,
		name:      p.Name,
		isDead:    p.IsDead,
		kills:     p.Kills,
		deaths:    p.Deaths,
	}
}

// GetFullBroadcastState returns every field and records the broadcast
// snapshot so the next delta only carries what changes after this point.
func (p *Player) GetFullBroadcastState(tick int64) PlayerBroadcastState {
	snap := p.currentSnapshot()
	p.lastBroadcast = snap
	p.hasLastBroadcast = true

	hp, by, name, dead, kills, deaths := snap.hp, snap.bystander, snap.name, snap.isDead, snap.kills, snap.deaths
	return PlayerBroadcastState{
		ID: p.PlayerMatchID, X: p.X, Y: p.Y, VX: p.VX, VY: p.VY, Tick: tick,
		HP: &hp, Bystander: &by, Name: &name, IsDead: &dead, Kills: &kills, Deaths: &deaths,
	}
}

// GetLatestStateDelta returns the mandatory motion fields plus only the
// gameplay fields that changed since the last broadcast, then updates the
// stored snapshot.
func (p *Player) GetLatestStateDelta(tick int64) PlayerBroadcastState {
	snap := p.currentSnapshot()
	out := PlayerBroadcastState{ID: p.PlayerMatchID, X: p.X, Y: p.Y, VX: p.VX, VY: p.VY, Tick: tick}

	prev := p.lastBroadcast
	first := !p.hasLastBroadcast
	if first || snap.hp != prev.hp {
		hp := snap.hp
		out.HP = &hp
	}
	if first || snap.bystander != prev.bystander {
		by := snap.bystander
		out.Bystander = &by
	}
	if first || snap.name != prev.name {
		name := snap.name
		out.Name = &name
	}
	if first || snap.isDead != prev.isDead {
		dead := snap.isDead
		out.IsDead = &dead
	}
	if first || snap.kills != prev.kills {
		kills := snap.kills
		out.Kills = &kills
	}
	if first || snap.deaths != prev.deaths {
		deaths := snap.deaths
		out.Deaths = &deaths
	}

	p.lastBroadcast = snap
	p.hasLastBroadcast = true
	return out
}
