// Package matchmaker owns the registry of live matches, places newly
// queued players with a region-scoped first-fit strategy, routes
// reconnecting clients back to their match, and drives every match's fixed-
// step simulation from one global ticker goroutine - the same
// ticker-driven-loop-with-stopChan shape the teacher's engine uses for its
// single authoritative simulation, generalized here to fan out across many
// independent rooms.
package matchmaker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"matchserver/internal/match"
	"matchserver/internal/metrics"
)

// DisconnectTracker is the optional persistence capability a matchmaker can
// report disconnect-grace bookkeeping through, so an operator can see who
// is mid-grace-period without reaching into in-process match state.
type DisconnectTracker interface {
	TrackDisconnect(ctx context.Context, playerMatchID string, deadline time.Time) error
	ClearDisconnect(ctx context.Context, playerMatchID string) error
}

// Config controls placement and lifecycle limits (§6.3).
type Config struct {
	MaxPlayersPerMatch int
	ValidRegions       []string
}

// Matchmaker places players into matches and ticks them all at a fixed
// rate. Safe for concurrent use.
type Matchmaker struct {
	mu sync.RWMutex

	maxPlayers   int
	validRegions map[string]bool

	matchesByRegion map[string][]*match.Match
	matchByID       map[string]*match.Match
	playerToMatch   map[string]string // playerMatchID -> matchID, for housekeeping/metrics

	nextMatchSeq int64

	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup

	tracker DisconnectTracker
}

// SetDisconnectTracker wires an optional persistence backend for
// disconnect-grace bookkeeping. Safe to leave unset.
func (mm *Matchmaker) SetDisconnectTracker(tracker DisconnectTracker) {
	mm.tracker = tracker
}

// New constructs a matchmaker. Call Start to begin driving matches.
func New(cfg Config) *Matchmaker {
	regions := make(map[string]bool, len(cfg.ValidRegions))
	for _, r := range cfg.ValidRegions {
		regions[r] = true
	}
	return &Matchmaker{
		maxPlayers:      cfg.MaxPlayersPerMatch,
		validRegions:    regions,
		matchesByRegion: make(map[string][]*match.Match),
		matchByID:       make(map[string]*match.Match),
		playerToMatch:   make(map[string]string),
		stopChan:        make(chan struct{}),
	}
}

// IsValidRegion reports whether region is one of the configured regions.
func (mm *Matchmaker) IsValidRegion(region string) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.validRegions[region]
}

// Start launches the background goroutine that ticks every match at
// match.FixedStepMS. Safe to call once; a second call is a no-op.
func (mm *Matchmaker) Start() {
	if mm.ticker != nil {
		return
	}
	stepMS := match.FixedStepMS
	mm.ticker = time.NewTicker(time.Duration(stepMS * float64(time.Millisecond)))
	mm.wg.Add(1)
	go mm.driveLoop()
	log.Printf("🎮 matchmaker started, tick=%.2fms", match.FixedStepMS)
}

// Stop halts the driver goroutine and cleans up every active match.
func (mm *Matchmaker) Stop() {
	close(mm.stopChan)
	mm.wg.Wait()
	if mm.ticker != nil {
		mm.ticker.Stop()
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, m := range mm.matchByID {
		m.CleanUpSession()
	}
	mm.matchByID = make(map[string]*match.Match)
	mm.matchesByRegion = make(map[string][]*match.Match)
	mm.playerToMatch = make(map[string]string)
	log.Printf("🛑 matchmaker stopped")
}

func (mm *Matchmaker) driveLoop() {
	defer mm.wg.Done()
	for {
		select {
		case <-mm.stopChan:
			return
		case <-mm.ticker.C:
			mm.tickAll()
		}
	}
}

func (mm *Matchmaker) tickAll() {
	mm.mu.RLock()
	matches := make([]*match.Match, 0, len(mm.matchByID))
	for _, m := range mm.matchByID {
		matches = append(matches, m)
	}
	mm.mu.RUnlock()

	var toRemove []string
	start := time.Now()
	for _, m := range matches {
		m.Update()
		m.BroadcastGameState()
		if m.ShouldRemove() {
			toRemove = append(toRemove, m.ID)
		}
	}
	metrics.RecordTick(time.Since(start))
	if len(toRemove) > 0 {
		mm.removeMatches(toRemove)
	}

	stats := mm.Stats()
	metrics.UpdateActiveMatches(stats.MatchCount)
	metrics.UpdateActivePlayers(stats.PlayerCount)
}

func (mm *Matchmaker) removeMatches(ids []string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, id := range ids {
		m, ok := mm.matchByID[id]
		if !ok {
			continue
		}
		delete(mm.matchByID, id)
		region := m.Region
		list := mm.matchesByRegion[region]
		for i, candidate := range list {
			if candidate.ID == id {
				mm.matchesByRegion[region] = append(list[:i], list[i+1:]...)
				break
			}
		}
		for pid, mid := range mm.playerToMatch {
			if mid == id {
				delete(mm.playerToMatch, pid)
			}
		}
		log.Printf("🛑 match %s removed (empty)", id)
	}
}

// JoinQueue places a newly connecting client into a match in region,
// first-fit against existing matches with room, else a freshly created one
// (§4.5). It returns the match's ID and the player's stable per-match identity.
func (mm *Matchmaker) JoinQueue(region, socketID, name string, session match.Session) (matchID, playerMatchID string, err error) {
	if !mm.IsValidRegion(region) {
		return "", "", fmt.Errorf("matchmaker: unknown region %q", region)
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	var target *match.Match
	for _, m := range mm.matchesByRegion[region] {
		if m.PlayerCount() < mm.maxPlayers && !m.ShouldRemove() {
			target = m
			break
		}
	}
	if target == nil {
		mm.nextMatchSeq++
		matchID = fmt.Sprintf("%s-%d", region, mm.nextMatchSeq)
		target = match.New(matchID, region)
		mm.matchByID[matchID] = target
		mm.matchesByRegion[region] = append(mm.matchesByRegion[region], target)
		log.Printf("🎮 created match %s in region %s", matchID, region)
	}

	playerMatchID = match.DerivePlayerMatchID(socketID, target.ID)
	target.AddPlayer(playerMatchID, name, session)
	mm.playerToMatch[playerMatchID] = target.ID
	metrics.RecordConnect()
	return target.ID, playerMatchID, nil
}

// Rejoin routes a reconnecting client back to the match it names (§4.4.8).
func (mm *Matchmaker) Rejoin(matchID, playerMatchID string, session match.Session) bool {
	mm.mu.RLock()
	m, ok := mm.matchByID[matchID]
	mm.mu.RUnlock()
	if !ok {
		return false
	}
	if !m.RejoinPlayer(playerMatchID, session, mm) {
		return false
	}
	mm.mu.Lock()
	mm.playerToMatch[playerMatchID] = matchID
	mm.mu.Unlock()
	metrics.RecordReconnect()
	return true
}

// GetMatch looks up a match by ID for routing player-initiated events.
func (mm *Matchmaker) GetMatch(matchID string) (*match.Match, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	m, ok := mm.matchByID[matchID]
	return m, ok
}

// MatchIDForPlayer returns the match a player was last placed or rejoined
// into, used by the transport gateway to route a rejoining client by its
// playerMatchId without trusting a client-supplied matchID.
func (mm *Matchmaker) MatchIDForPlayer(playerMatchID string) (string, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	id, ok := mm.playerToMatch[playerMatchID]
	return id, ok
}

// OnDisconnect implements match.MatchmakerCallbacks. The per-match grace
// timer already lives on the Match itself; this mirrors the deadline into
// the optional tracker so it survives a matchmaker restart.
func (mm *Matchmaker) OnDisconnect(playerMatchID, matchID string) {
	log.Printf("⚠️ matchmaker observed disconnect: player=%s match=%s", playerMatchID, matchID)
	if mm.tracker == nil {
		return
	}
	deadline := time.Now().Add(match.DisconnectGrace)
	if err := mm.tracker.TrackDisconnect(context.Background(), playerMatchID, deadline); err != nil {
		log.Printf("persistence: track disconnect failed for %s: %v", playerMatchID, err)
	}
}

// OnReconnectCleared implements match.MatchmakerCallbacks.
func (mm *Matchmaker) OnReconnectCleared(playerMatchID string) {
	log.Printf("📱 matchmaker observed reconnect: player=%s", playerMatchID)
	if mm.tracker == nil {
		return
	}
	if err := mm.tracker.ClearDisconnect(context.Background(), playerMatchID); err != nil {
		log.Printf("persistence: clear disconnect failed for %s: %v", playerMatchID, err)
	}
}

// InformShowIsLive has every registered match emit a showIsLive event to its
// connected sessions right away, for the POST /api/live operational toggle
// (§6.2). No flag is kept, so nothing is added to a later broadcast and
// sessions that connect afterwards do not receive it.
func (mm *Matchmaker) InformShowIsLive() {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	for _, m := range mm.matchByID {
		m.InformShowIsLive()
	}
}

// Stats reports live counts for metrics/health endpoints.
type Stats struct {
	MatchCount      int            `json:"matchCount"`
	PlayerCount     int            `json:"playerCount"`
	MatchesByRegion map[string]int `json:"matchesByRegion"`
}

func (mm *Matchmaker) Stats() Stats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := Stats{MatchesByRegion: make(map[string]int, len(mm.matchesByRegion))}
	for region, matches := range mm.matchesByRegion {
		out.MatchesByRegion[region] = len(matches)
		for _, m := range matches {
			out.MatchCount++
			out.PlayerCount += m.PlayerCount()
		}
	}
	return out
}

var _ match.MatchmakerCallbacks = (*Matchmaker)(nil)
