package transport

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"matchserver/internal/config"
	"matchserver/internal/match"
	"matchserver/internal/matchmaker"
	"matchserver/internal/metrics"
)

// MatchmakerAPI is the slice of *matchmaker.Matchmaker the gateway drives,
// narrowed so the gateway can be tested against a fake.
type MatchmakerAPI interface {
	IsValidRegion(region string) bool
	JoinQueue(region, socketID, name string, session match.Session) (matchID, playerMatchID string, err error)
	Rejoin(matchID, playerMatchID string, session match.Session) bool
	GetMatch(matchID string) (*match.Match, bool)
	MatchIDForPlayer(playerMatchID string) (string, bool)
	match.MatchmakerCallbacks
}

var _ MatchmakerAPI = (*matchmaker.Matchmaker)(nil)

// ipConnLimiter caps concurrent WebSocket connections per source IP,
// mirroring the teacher's WebSocketRateLimiter atomic-counter shape.
type ipConnLimiter struct {
	counts sync.Map // ip -> *int32
	maxPerIP int
}

func newIPConnLimiter(maxPerIP int) *ipConnLimiter {
	return &ipConnLimiter{maxPerIP: maxPerIP}
}

func (l *ipConnLimiter) Allow(ip string) bool {
	actual, _ := l.counts.LoadOrStore(ip, new(int32))
	counter := actual.(*int32)
	for {
		cur := atomic.LoadInt32(counter)
		if int(cur) >= l.maxPerIP {
			return false
		}
		if atomic.CompareAndSwapInt32(counter, cur, cur+1) {
			return true
		}
	}
}

func (l *ipConnLimiter) Release(ip string) {
	if v, ok := l.counts.Load(ip); ok {
		atomic.AddInt32(v.(*int32), -1)
	}
}

// Gateway upgrades HTTP connections to WebSocket sessions, enforces origin
// and connection-count limits (§4.6), and routes decoded frames into the
// matchmaker or the match a session has joined.
type Gateway struct {
	mm     MatchmakerAPI
	server config.ServerConfig

	upgrader websocket.Upgrader
	ipLimit  *ipConnLimiter
	maxTotal int32
	total    int32
}

// NewGateway constructs a Gateway. rl.MaxWSPerIP/MaxWSTotal bound connection
// counts the way the teacher's MaxWSConnectionsPerIP/Total do.
func NewGateway(mm MatchmakerAPI, server config.ServerConfig, rl config.RateLimitConfig) *Gateway {
	g := &Gateway{
		mm:       mm,
		server:   server,
		ipLimit:  newIPConnLimiter(rl.MaxWSPerIP),
		maxTotal: int32(rl.MaxWSTotal),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if g.server.IsAllowedOrigin(origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			metrics.RecordConnectionRejected("origin")
			return false
		},
	}
	return g
}

// ServeHTTP upgrades the connection and spawns its read/write pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if total := atomic.LoadInt32(&g.total); total >= g.maxTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		metrics.RecordConnectionRejected("ws_total_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !g.ipLimit.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		metrics.RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.ipLimit.Release(ip)
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	atomic.AddInt32(&g.total, 1)
	sess := newWSSession(conn, ip)
	go sess.writePump()
	metrics.UpdateActivePlayers(int(atomic.LoadInt32(&g.total)))

	go g.readPump(sess, ip)
}

func (g *Gateway) readPump(sess *wsSession, ip string) {
	var playerMatchID string
	var matchID string
	defer func() {
		atomic.AddInt32(&g.total, -1)
		g.ipLimit.Release(ip)
		sess.Disconnect()
		// §4.6: the gateway changes no player state itself; it hands the
		// disconnect to the match, which owns the grace-period transition.
		if playerMatchID != "" {
			if m, ok := g.mm.GetMatch(matchID); ok {
				m.HandleDisconnect(playerMatchID, g.mm)
			}
		}
		log.Printf("📱 session closed ip=%s player=%s", ip, playerMatchID)
	}()

	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame wireFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("⚠️ malformed frame from %s: %v", ip, err)
			continue
		}

		switch frame.Event {
		case match.EventJoinQueue:
			matchID, playerMatchID = g.handleJoinQueue(sess, frame.Data)

		case match.EventPlayerInput:
			if playerMatchID == "" {
				continue
			}
			var payload struct {
				Tick   int64             `json:"tick"`
				Vector match.InputVector `json:"vector"`
			}
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				continue
			}
			if m, ok := g.mm.GetMatch(matchID); ok {
				m.HandlePlayerInput(playerMatchID, match.InputPayload{Tick: payload.Tick, Vector: payload.Vector})
			}

		case match.EventProjectileHit:
			if playerMatchID == "" {
				continue
			}
			var payload struct {
				EnemyID     string `json:"enemyId"`
				ProjectileID string `json:"projectileId"`
			}
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				continue
			}
			if m, ok := g.mm.GetMatch(matchID); ok {
				m.HandleProjectileHit(playerMatchID, payload.EnemyID, payload.ProjectileID)
			}

		case match.EventToggleBystander:
			if playerMatchID == "" {
				continue
			}
			if m, ok := g.mm.GetMatch(matchID); ok {
				m.HandleToggleBystander(playerMatchID)
			}

		case match.EventPing:
			var echo json.RawMessage
			_ = json.Unmarshal(frame.Data, &echo)
			sess.Emit(match.EventPong, map[string]any{"serverTime": time.Now().UnixMilli(), "echo": echo})

		default:
			log.Printf("⚠️ unknown event %q from %s", frame.Event, ip)
		}
	}
}

// handleJoinQueue implements the joinQueue/rejoin branch of §4.5's
// enqueuePlayer and §4.6's gateway validation.
func (g *Gateway) handleJoinQueue(sess *wsSession, data json.RawMessage) (matchID, playerMatchID string) {
	var req struct {
		Region        string `json:"region"`
		Name          string `json:"name"`
		PlayerMatchID string `json:"playerMatchId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		sess.Emit(match.EventError, map[string]string{"message": "malformed joinQueue"})
		sess.Disconnect()
		return "", ""
	}

	if req.PlayerMatchID != "" {
		if mid, ok := g.mm.MatchIDForPlayer(req.PlayerMatchID); ok {
			if g.mm.Rejoin(mid, req.PlayerMatchID, sess) {
				if m, ok := g.mm.GetMatch(mid); ok {
					sess.Emit(match.EventRejoinedMatch, map[string]string{"matchId": mid, "region": m.Region})
					return mid, req.PlayerMatchID
				}
			}
		}
		sess.Emit(match.EventError, map[string]string{"message": "grace period expired"})
		sess.Disconnect()
		return "", ""
	}

	if !g.mm.IsValidRegion(req.Region) {
		sess.Emit(match.EventError, map[string]string{"message": "unknown region"})
		sess.Disconnect()
		return "", ""
	}

	mid, pid, err := g.mm.JoinQueue(req.Region, sess.ID(), req.Name, sess)
	if err != nil {
		sess.Emit(match.EventError, map[string]string{"message": err.Error()})
		sess.Disconnect()
		return "", ""
	}
	sess.Emit(match.EventMatchFound, map[string]string{"matchId": mid, "region": req.Region, "playerId": pid})
	return mid, pid
}

// clientIP mirrors the teacher's GetClientIP: trust X-Forwarded-For/
// X-Real-IP ahead of RemoteAddr, for deployments behind a reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
