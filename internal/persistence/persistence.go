// Package persistence is the durable boundary behind daily rollups, bug
// reports, and disconnect-grace bookkeeping (§6.4). Redis stands in for
// whatever document/KV store a deployment points MONGO_URI-equivalent at;
// go-redis is the concrete client, grounded the same way the rest of the
// pack reaches for it - per-key writes with a TTL, and sorted sets for
// time-ordered bookkeeping (mirroring an idle-tracking zset pattern seen
// elsewhere in the retrieval pack).
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"matchserver/internal/metrics"
)

// redisClient is the narrow slice of *redis.Client this package depends on,
// so tests can substitute a fake without a live Redis server.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Close() error
}

// Store persists rollups, bug reports, and disconnect bookkeeping to Redis.
type Store struct {
	client redisClient
}

// New constructs a Store backed by a real Redis connection.
func New(addr, password string, db int) *Store {
	return &Store{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.client.Close() }

const bugReportTTL = 30 * 24 * time.Hour

// BugReport is a client-submitted report tied to a match and player (§6.4).
type BugReport struct {
	PlayerMatchID string    `json:"playerMatchId"`
	MatchID       string    `json:"matchId"`
	Description   string    `json:"description"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// SaveBugReport persists a bug report, expiring it after 30 days.
func (s *Store) SaveBugReport(ctx context.Context, report BugReport) error {
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("bugreport:%s:%d", report.MatchID, report.SubmittedAt.UnixNano())
	return s.client.Set(ctx, key, b, bugReportTTL).Err()
}

// SaveDailyRollup implements metrics.RollupSink, persisting one document
// per calendar day indefinitely.
func (s *Store) SaveDailyRollup(ctx context.Context, doc metrics.RollupDocument) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("rollup:%s", doc.Date)
	return s.client.Set(ctx, key, b, 0).Err()
}

const disconnectGraceSetKey = "disconnect_grace"

// TrackDisconnect records a player's grace-period deadline in a sorted set
// keyed by deadline, so an operator (or a future horizontally-scaled
// matchmaker) can see who is mid-grace-period without touching in-process
// match state.
func (s *Store) TrackDisconnect(ctx context.Context, playerMatchID string, deadline time.Time) error {
	return s.client.ZAdd(ctx, disconnectGraceSetKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: playerMatchID,
	}).Err()
}

// ClearDisconnect removes a player from the grace-period set, called on
// rejoin. A player removed after the grace period is not cleared here.
func (s *Store) ClearDisconnect(ctx context.Context, playerMatchID string) error {
	return s.client.ZRem(ctx, disconnectGraceSetKey, playerMatchID).Err()
}

var _ metrics.RollupSink = (*Store)(nil)
