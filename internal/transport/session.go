// Package transport is the WebSocket connection gateway: it upgrades HTTP
// connections, enforces per-IP/total connection limits and origin checks,
// and decodes client frames into calls against the matchmaker and the match
// a session belongs to. It is the concrete Session implementation the
// match package's capability interface expects (§4.6), grounded on the
// teacher's internal/api/websocket.go hub.
package transport

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"matchserver/internal/match"
)

// writeBufferSize bounds how many outgoing events a slow client can lag by
// before the session is dropped, rather than letting one stalled socket
// block the match's broadcast (§5 "must not stall the match").
const writeBufferSize = 64

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outbound struct {
	event   string
	payload any
}

// wsSession adapts a *websocket.Conn to match.Session. gorilla/websocket
// only tolerates a single writing goroutine per connection, so all sends
// funnel through a buffered channel drained by one write pump goroutine.
type wsSession struct {
	conn *websocket.Conn
	ip   string

	send chan outbound

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSSession(conn *websocket.Conn, ip string) *wsSession {
	return &wsSession{
		conn:   conn,
		ip:     ip,
		send:   make(chan outbound, writeBufferSize),
		closed: make(chan struct{}),
	}
}

// Emit implements match.Session. Non-blocking: a session that can't keep up
// is disconnected rather than allowed to backpressure the match.
func (s *wsSession) Emit(event string, payload any) {
	select {
	case s.send <- outbound{event: event, payload: payload}:
	default:
		log.Printf("⚠️ session %s send buffer full, dropping connection", s.ip)
		s.Disconnect()
	}
}

// Disconnect implements match.Session.
func (s *wsSession) Disconnect() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// ID implements match.Session, identifying this session for
// DerivePlayerMatchID and logging.
func (s *wsSession) ID() string { return s.conn.RemoteAddr().String() + ":" + s.ip }

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			b, err := json.Marshal(wireEnvelope{Event: msg.event, Data: msg.payload})
			if err != nil {
				log.Printf("⚠️ marshal error for event %s: %v", msg.event, err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wireEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

var _ match.Session = (*wsSession)(nil)
