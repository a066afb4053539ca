package match

// Wire event names, shared by the transport gateway and the match engine.
// Keeping them as typed constants here (rather than scattered string
// literals) mirrors how the teacher centralizes magic values in
// internal/config - one source of truth for names other packages reference.
const (
	EventJoinQueue       = "joinQueue"
	EventPlayerInput     = "playerInput"
	EventProjectileHit   = "projectileHit"
	EventToggleBystander = "toggleBystander"
	EventPing            = "m-ping"

	EventMatchFound    = "matchFound"
	EventRejoinedMatch = "rejoinedMatch"
	EventStateUpdate   = "stateUpdate"
	EventMatchReset    = "matchReset"
	EventGameOver      = "gameOver"
	EventShowIsLive    = "showIsLive"
	EventAfkWarning    = "afkWarning"
	EventAfkRemoved    = "afkRemoved"
	EventError         = "error"
	EventPong          = "m-pong"
)

// MouseTarget is the optional shot-aim payload attached to a playerInput.
type MouseTarget struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	ID string  `json:"id"`
}

// InputVector is the raw directional/shoot intent sent by a client. X and Y
// are expected to be in {-1,0,1}; behavior for other values is unspecified
// per spec.md §9 open question 4, so callers are trusted here.
type InputVector struct {
	X     int          `json:"x"`
	Y     int          `json:"y"`
	Mouse *MouseTarget `json:"mouse,omitempty"`
}

// Equal compares only X and Y, the fields the input-debt protocol checks for
// a match (§4.4.3 step 3c) - mouse must additionally be absent on the
// incoming payload for that comparison, which callers check separately.
func (v InputVector) Equal(other InputVector) bool {
	return v.X == other.X && v.Y == other.Y
}

// InputPayload is one queued client input.
type InputPayload struct {
	Tick   int64
	Vector InputVector
}

// ProjectileUpdate is the ephemeral, published-once projectile record
// described in §3 and §4.4.5. Pointer fields distinguish "unset" from the
// zero value so the broadcast can omit them.
type ProjectileUpdate struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId,omitempty"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
	VX      *float64 `json:"vx,omitempty"`
	VY      *float64 `json:"vy,omitempty"`
	Dud     bool     `json:"dud,omitempty"`
}

func f64(v float64) *float64 { return &v }

// Session is the capability a Match holds for a connected client: emit a
// typed event, force-disconnect, and report a per-connection identifier. Concrete transports (e.g. a WebSocket connection)
// implement this; the match package never depends on a transport library.
type Session interface {
	Emit(event string, payload any)
	Disconnect()
	ID() string
}

// MatchmakerCallbacks is the narrow interface a Match uses to inform its
// owning matchmaker of disconnect/reconnect bookkeeping, avoiding a cyclic
// dependency back through the matchmaker (§9 design notes).
type MatchmakerCallbacks interface {
	OnDisconnect(playerMatchID, matchID string)
	OnReconnectCleared(playerMatchID string)
}
