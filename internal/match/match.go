// Package match implements a single authoritative game room: fixed-step
// physics, the input-debt reconciliation protocol, shooting, and the
// win/reset and disconnect/reconnect state machines described in the
// design. A Match knows nothing about HTTP, WebSockets, or how it was
// placed - it is driven purely by repeated calls to Update() and by the
// Handle* methods a transport gateway calls when a client event arrives.
package match

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"matchserver/internal/arena"
	"matchserver/internal/metrics"
	"matchserver/internal/vecmath"
)

// FixedStepMS is the simulation tick length in milliseconds (30 Hz).
const FixedStepMS = 1000.0 / 30.0

// FixedStepS is FixedStepMS expressed in seconds, the unit Player.Update wants.
const FixedStepS = FixedStepMS / 1000.0

// maxFrameMS bounds how much wall-clock time a single Update() call will
// fold into the accumulator, guarding against a spiral of death after a
// stall (GC pause, deploy, debugger breakpoint).
const maxFrameMS = 100.0

const (
	maxKillsToWin      = 4
	respawnDelay       = 3 * time.Second
	matchResetDelay    = 10 * time.Second
	afkWarnAfter       = 60 * time.Second
	afkRemoveAfter     = 10 * time.Second
	DisconnectGrace    = 20 * time.Second
	disconnectSweep    = 3 * time.Second
	inputRateLimitMax  = 100
	inputRateWindow    = 1000 * time.Millisecond
)

// State is the match's coarse lifecycle phase (§4.4.6).
type State int

const (
	StateActive State = iota
	StateAwaitingReset
)

type timerKind int

const (
	timerRespawn timerKind = iota
	timerMatchReset
	timerAfkRemoval
	timerDisconnectSweep
)

type scheduledTimer struct {
	deadline  time.Time
	kind      timerKind
	playerID  string
	cancelled bool
}

type inputRateCounter struct {
	count       int
	windowStart time.Time
}

// Match is one authoritative game room. Every public method is guarded by
// mu, matching the teacher's engine.go: the matchmaker's driver goroutine
// calls Update/BroadcastGameState while each session's own goroutine calls
// the Handle* methods concurrently, and none of that may observe
// intermediate state (§5). Private helpers below never lock themselves -
// they only ever run from inside an already-locked public method.
type Match struct {
	mu sync.Mutex

	ID     string
	Region string

	players  map[string]*Player
	sessions map[string]Session
	order    []string // insertion order, for stable full-state/platform iteration

	platforms []arena.Platform

	state        State
	serverTick   int64
	accumulator  float64 // ms
	lastUpdate   time.Time

	scheduled []*scheduledTimer

	projectileUpdates map[string]ProjectileUpdate
	projectileOrder   []string

	disconnectedAt map[string]time.Time
	inputRates     map[string]*inputRateCounter

	pendingFullBroadcast bool
	cleanedUp            bool
	shouldRemove         bool
}

// New constructs an empty match ready to accept players.
func New(id, region string) *Match {
	now := time.Now()
	m := &Match{
		ID:                 id,
		Region:             region,
		players:            make(map[string]*Player),
		sessions:           make(map[string]Session),
		platforms:          arena.DefaultPlatforms(),
		lastUpdate:         now,
		projectileUpdates:  make(map[string]ProjectileUpdate),
		disconnectedAt:     make(map[string]time.Time),
		inputRates:         make(map[string]*inputRateCounter),
	}
	m.scheduleRecurring(timerDisconnectSweep, "", now.Add(disconnectSweep))
	return m
}

// ShouldRemove reports whether every player has left permanently and the
// matchmaker may dispose of this match.
func (m *Match) ShouldRemove() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldRemove
}

// PlayerCount returns the number of players currently tracked, connected or
// grace-period-disconnected.
func (m *Match) PlayerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}

// DerivePlayerMatchID builds the stable per-match identity a socket ID maps
// to, so a reconnecting client with the same transport session key is
// recognized as the same player (§4.2).
func DerivePlayerMatchID(socketID, matchID string) string {
	return fmt.Sprintf("%s:%s", matchID, socketID)
}

// AddPlayer registers a brand-new player under this match, bound to
// session. It is idempotent for a playerMatchID already present - joinQueue
// retried before the matchFound ack lands must not create a second player
// (§9 open question 2).
func (m *Match) AddPlayer(playerMatchID, name string, session Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.players[playerMatchID]; ok {
		_ = existing
		m.sessions[playerMatchID] = session
		m.pendingFullBroadcast = true
		return
	}
	p := NewPlayer(playerMatchID, name)
	m.players[playerMatchID] = p
	m.sessions[playerMatchID] = session
	m.order = append(m.order, playerMatchID)
	m.inputRates[playerMatchID] = &inputRateCounter{windowStart: time.Now()}
	m.pendingFullBroadcast = true
	log.Printf("🎮 player %s joined match %s (%s)", playerMatchID, m.ID, m.Region)
}

// RejoinPlayer reattaches a reconnecting client's new session to its
// existing player state (§4.4.8). It returns false if playerMatchID is not
// known to this match at all.
func (m *Match) RejoinPlayer(playerMatchID string, session Session, mm MatchmakerCallbacks) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerMatchID]
	if !ok {
		return false
	}
	p.IsDisconnected = false
	delete(m.disconnectedAt, playerMatchID)
	m.sessions[playerMatchID] = session
	m.pendingFullBroadcast = true
	if mm != nil {
		mm.OnReconnectCleared(playerMatchID)
	}
	log.Printf("📱 player %s rejoined match %s", playerMatchID, m.ID)
	return true
}

// Update advances the match by whatever wall-clock time has passed since
// the previous call, running zero or more fixed physics steps and then
// processing due timers (§4.4.2).
func (m *Match) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	frameMS := float64(now.Sub(m.lastUpdate)) / float64(time.Millisecond)
	m.lastUpdate = now
	if frameMS > maxFrameMS {
		frameMS = maxFrameMS
	}
	m.accumulator += frameMS

	for m.accumulator >= FixedStepMS {
		m.integratePlayerInputs()
		m.processAfkPlayers(now)
		m.accumulator -= FixedStepMS
		m.serverTick++
	}

	m.processTimers(now)
}

// integratePlayerInputs runs the input-debt reconciliation protocol
// (§4.4.3) for every living player, once per fixed step.
func (m *Match) integratePlayerInputs() {
	for _, id := range m.order {
		p := m.players[id]
		if p == nil || p.IsDead || p.IsDisconnected {
			continue
		}
		m.integrateOnePlayer(id, p)
	}
}

// integrateOnePlayer runs the reconciliation protocol for a single player,
// recovering from any panic raised out of Player.Update so one player's
// fault never takes down the rest of the match (§7 "Simulation fault" -
// capture, record metric, continue the loop).
func (m *Match) integrateOnePlayer(id string, p *Player) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️ simulation fault for player %s in match %s: %v", id, m.ID, r)
			metrics.RecordSimulationFault()
		}
	}()

	payload, hasInput := p.DequeueInput()
	if !hasInput {
		predicted := InputVector{X: p.LastProcessedInput.Vector.X, Y: 0}
		if !p.IsAfk(predicted) {
			p.AddInputDebt(predicted)
		}
		newTick := p.LastProcessedInput.Tick + 1
		p.Update(predicted, FixedStepS, newTick, "predicted", m.platforms)
		p.LastProcessedInput = InputPayload{Tick: newTick, Vector: predicted}
	} else {
		top, hasDebt := p.PeekInputDebt()
		switch {
		case !hasDebt:
			p.Update(payload.Vector, FixedStepS, payload.Tick, "direct", m.platforms)
			p.LastProcessedInput = payload
		case payload.Vector.Mouse == nil && top.Equal(payload.Vector):
			p.PopInputDebt()
		default:
			p.ClearInputDebt()
			p.Update(payload.Vector, FixedStepS, payload.Tick, "divergence", m.platforms)
			p.LastProcessedInput = payload
		}
	}

	if p.IsShooting && p.PendingShot != nil {
		m.emitProjectile(id, p)
	}
	p.IsShooting = false
	p.PendingShot = nil
}

// emitProjectile computes the launch velocity for a confirmed shot and
// stages it for the next broadcast. The server never simulates projectile
// motion; clients report hits themselves (§4.4.5, §9 open question 1).
func (m *Match) emitProjectile(ownerID string, p *Player) {
	target := p.PendingShot
	muzzleY := p.Y - arena.PlayerHeight
	v := vecmath.DefaultLaunchVelocity(p.X, muzzleY, target.X, target.Y)
	m.projectileUpdates[target.ID] = ProjectileUpdate{
		ID: target.ID, OwnerID: ownerID,
		X: f64(p.X), Y: f64(muzzleY), VX: f64(v.X), VY: f64(v.Y),
	}
	m.projectileOrder = append(m.projectileOrder, target.ID)
}

// processAfkPlayers arms or leaves alone the AFK warning for every
// connected player whose input has gone stale (§4.4.7).
func (m *Match) processAfkPlayers(now time.Time) {
	for _, id := range m.order {
		p := m.players[id]
		if p == nil || p.IsDead || p.IsDisconnected || p.afkWarned {
			continue
		}
		if now.Sub(p.LastInputTimestamp) > afkWarnAfter {
			p.afkWarned = true
			if s := m.sessions[id]; s != nil {
				s.Emit(EventAfkWarning, map[string]any{"playerMatchId": id})
			}
			m.scheduleOnce(timerAfkRemoval, id, now.Add(afkRemoveAfter))
		}
	}
}

// HandlePlayerInput applies the per-player fixed-window rate limit
// (§4.4.9) and, if the input is allowed, queues it and clears any armed
// AFK removal.
func (m *Match) HandlePlayerInput(playerMatchID string, payload InputPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerMatchID]
	if !ok || p.IsDead {
		return
	}
	if !m.allowInput(playerMatchID) {
		metrics.RecordInputRateLimited()
		return
	}
	m.cancelAfkRemoval(playerMatchID)
	p.afkWarned = false
	p.QueueInput(payload)
}

// allowInput implements the literal fixed-window counter from §4.4.9:
// at most 100 inputs accepted per fixed 1000ms window per player, the window
// restarting at the first input after it has elapsed.
func (m *Match) allowInput(playerMatchID string) bool {
	rc, ok := m.inputRates[playerMatchID]
	if !ok {
		rc = &inputRateCounter{windowStart: time.Now()}
		m.inputRates[playerMatchID] = rc
	}
	now := time.Now()
	if now.Sub(rc.windowStart) >= inputRateWindow {
		rc.windowStart = now
		rc.count = 0
	}
	if rc.count >= inputRateLimitMax {
		return false
	}
	rc.count++
	return true
}

// HandleProjectileHit applies a client-reported hit (§4.4.5). shooterID is
// the player who fired; enemyID is the reported victim. Bystanders cannot
// be damaged.
func (m *Match) HandleProjectileHit(shooterID, enemyID, projectileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shooter, ok := m.players[shooterID]
	if !ok || shooter.IsDead {
		return
	}
	enemy, ok := m.players[enemyID]
	if !ok || enemy.IsDead || enemy.IsBystander {
		return
	}

	enemy.Damage(DefaultDamage)
	if up, exists := m.projectileUpdates[projectileID]; exists {
		up.Dud = true
		m.projectileUpdates[projectileID] = up
	} else {
		m.projectileUpdates[projectileID] = ProjectileUpdate{ID: projectileID, OwnerID: shooterID, Dud: true}
		m.projectileOrder = append(m.projectileOrder, projectileID)
	}

	if enemy.HP <= 0 {
		m.killPlayer(shooterID, enemyID)
	}
}

func (m *Match) killPlayer(killerID, victimID string) {
	victim := m.players[victimID]
	victim.AddDeath()
	if killer := m.players[killerID]; killer != nil && killerID != victimID {
		killer.AddKill()
	}
	m.scheduleOnce(timerRespawn, victimID, time.Now().Add(respawnDelay))
	log.Printf("💀 %s killed %s in match %s", killerID, victimID, m.ID)
	metrics.RecordKill()
	m.checkForWinner()
}

// checkForWinner implements the win/reset state machine (§4.4.6): the
// first player to reach maxKillsToWin ends the round immediately.
func (m *Match) checkForWinner() {
	if m.state != StateActive {
		return
	}
	var leader *Player
	ids := append([]string(nil), m.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return m.players[ids[i]].Kills > m.players[ids[j]].Kills
	})
	if len(ids) > 0 {
		leader = m.players[ids[0]]
	}
	if leader == nil || leader.Kills < maxKillsToWin {
		return
	}

	m.state = StateAwaitingReset
	m.cancelAllRespawns()
	for _, id := range m.order {
		p := m.players[id]
		if p.IsDead {
			p.ReviveInPlace()
		}
	}

	scores := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		p := m.players[id]
		scores = append(scores, map[string]any{"playerMatchId": id, "kills": p.Kills, "deaths": p.Deaths, "name": p.Name})
	}
	m.broadcastAll(EventGameOver, map[string]any{"scores": scores, "winner": leader.PlayerMatchID})
	m.scheduleOnce(timerMatchReset, "", time.Now().Add(matchResetDelay))
	metrics.RecordRoundComplete()
}

// resetMatch clears scores/projectiles and returns to StateActive (§4.4.6).
func (m *Match) resetMatch() {
	m.projectileUpdates = make(map[string]ProjectileUpdate)
	m.projectileOrder = nil
	for _, id := range m.order {
		m.players[id].ResetScore()
	}
	m.state = StateActive
	m.pendingFullBroadcast = true
	m.broadcastAll(EventMatchReset, map[string]any{})
}

// HandleToggleBystander flips whether a player participates in combat.
func (m *Match) HandleToggleBystander(playerMatchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[playerMatchID]; ok {
		p.IsBystander = !p.IsBystander
	}
}

// HandleDisconnect begins the grace-period state machine for a dropped
// session (§4.4.8).
func (m *Match) HandleDisconnect(playerMatchID string, mm MatchmakerCallbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerMatchID]
	if !ok || p.IsDisconnected {
		return
	}
	p.IsDisconnected = true
	delete(m.sessions, playerMatchID)
	m.disconnectedAt[playerMatchID] = time.Now()
	metrics.RecordDisconnect()
	if mm != nil {
		mm.OnDisconnect(playerMatchID, m.ID)
	}
	log.Printf("⚠️ player %s disconnected from match %s, grace period started", playerMatchID, m.ID)
}

// processTimers executes every due, non-cancelled scheduled timer and
// compacts the slice in place (the teacher's zero-allocation particle
// filtering pattern, adapted here for timers instead of effects).
func (m *Match) processTimers(now time.Time) {
	n := 0
	for _, t := range m.scheduled {
		if t.cancelled {
			continue
		}
		if now.Before(t.deadline) {
			m.scheduled[n] = t
			n++
			continue
		}
		m.fireTimer(t, now)
		if t.kind == timerDisconnectSweep {
			m.scheduled[n] = t
			n++
		}
	}
	m.scheduled = m.scheduled[:n]
}

func (m *Match) fireTimer(t *scheduledTimer, now time.Time) {
	switch t.kind {
	case timerRespawn:
		if p, ok := m.players[t.playerID]; ok && p.IsDead {
			p.Respawn(StartingX, StartingY)
		}
	case timerMatchReset:
		m.resetMatch()
	case timerAfkRemoval:
		p, ok := m.players[t.playerID]
		if !ok || !p.afkWarned {
			return
		}
		if s := m.sessions[t.playerID]; s != nil {
			s.Emit(EventAfkRemoved, map[string]any{"playerMatchId": t.playerID})
			s.Disconnect()
		}
		m.removePlayer(t.playerID)
		metrics.RecordAfkRemoval()
	case timerDisconnectSweep:
		m.sweepDisconnected(now)
		t.deadline = now.Add(disconnectSweep)
	}
}

func (m *Match) sweepDisconnected(now time.Time) {
	for id, since := range m.disconnectedAt {
		if now.Sub(since) >= DisconnectGrace {
			m.removePlayer(id)
			delete(m.disconnectedAt, id)
		}
	}
	if len(m.players) == 0 {
		m.shouldRemove = true
	}
}

func (m *Match) removePlayer(playerMatchID string) {
	delete(m.players, playerMatchID)
	delete(m.sessions, playerMatchID)
	delete(m.inputRates, playerMatchID)
	delete(m.disconnectedAt, playerMatchID)
	for i, id := range m.order {
		if id == playerMatchID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if len(m.players) == 0 {
		m.shouldRemove = true
	}
}

func (m *Match) scheduleOnce(kind timerKind, playerID string, deadline time.Time) {
	for _, t := range m.scheduled {
		if t.kind == kind && t.playerID == playerID && !t.cancelled {
			return
		}
	}
	m.scheduled = append(m.scheduled, &scheduledTimer{kind: kind, playerID: playerID, deadline: deadline})
}

func (m *Match) scheduleRecurring(kind timerKind, playerID string, deadline time.Time) {
	m.scheduled = append(m.scheduled, &scheduledTimer{kind: kind, playerID: playerID, deadline: deadline})
}

func (m *Match) cancelAfkRemoval(playerID string) {
	for _, t := range m.scheduled {
		if t.kind == timerAfkRemoval && t.playerID == playerID {
			t.cancelled = true
		}
	}
}

func (m *Match) cancelAllRespawns() {
	for _, t := range m.scheduled {
		if t.kind == timerRespawn {
			t.cancelled = true
		}
	}
}

// broadcastAll emits an event to every currently connected session.
func (m *Match) broadcastAll(event string, payload any) {
	for _, id := range m.order {
		if s := m.sessions[id]; s != nil {
			s.Emit(event, payload)
		}
	}
}

// stateUpdatePayload is the wire shape of a stateUpdate broadcast.
type stateUpdatePayload struct {
	Tick        int64                  `json:"tick"`
	Players     []PlayerBroadcastState `json:"players"`
	Projectiles []ProjectileUpdate     `json:"projectiles,omitempty"`
	Full        bool                   `json:"full,omitempty"`
}

// BroadcastGameState pushes the current tick's state to every connected
// session: full state on join/rejoin/reset, delta otherwise (§4.4.4). It
// returns the serialized byte size of the payload (for metrics/bandwidth
// accounting), or zero if the match has nothing to broadcast or the
// payload failed to serialize (§7 "Broadcast fault").
func (m *Match) BroadcastGameState() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return 0
	}

	full := m.pendingFullBroadcast
	m.pendingFullBroadcast = false

	players := make([]PlayerBroadcastState, 0, len(m.order))
	for _, id := range m.order {
		p := m.players[id]
		if full {
			players = append(players, p.GetFullBroadcastState(m.serverTick))
		} else {
			players = append(players, p.GetLatestStateDelta(m.serverTick))
		}
	}

	projectiles := make([]ProjectileUpdate, 0, len(m.projectileOrder))
	for _, id := range m.projectileOrder {
		projectiles = append(projectiles, m.projectileUpdates[id])
	}
	m.projectileUpdates = make(map[string]ProjectileUpdate)
	m.projectileOrder = nil

	payload := stateUpdatePayload{Tick: m.serverTick, Players: players, Projectiles: projectiles, Full: full}

	encoded, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️ broadcast serialization failed for match %s: %v", m.ID, err)
		metrics.RecordBroadcastFault()
		return 0
	}
	metrics.RecordBroadcastBytes(len(encoded))

	m.broadcastAll(EventStateUpdate, payload)
	return len(encoded)
}

// InformShowIsLive notifies every connected session that the stream has
// gone live (§6.1).
func (m *Match) InformShowIsLive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastAll(EventShowIsLive, map[string]any{})
}

// CleanUpSession releases all timers and player state for this match. It is
// idempotent so the matchmaker can call it without tracking whether it
// already has.
func (m *Match) CleanUpSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleanedUp {
		return
	}
	m.cleanedUp = true
	m.scheduled = nil
	m.players = make(map[string]*Player)
	m.sessions = make(map[string]Session)
	m.order = nil
	m.shouldRemove = true
	log.Printf("🛑 match %s cleaned up", m.ID)
}
