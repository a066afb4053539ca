package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"matchserver/internal/metrics"
)

type fakeRedis struct {
	sets  map[string][]byte
	zadds map[string][]redis.Z
	zrems []interface{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: make(map[string][]byte), zadds: make(map[string][]redis.Z)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.sets[key] = v
	case string:
		f.sets[key] = []byte(v)
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.zadds[key] = append(f.zadds[key], members...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.zrems = append(f.zrems, members...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func TestSaveDailyRollupWritesKeyedByDate(t *testing.T) {
	fr := newFakeRedis()
	store := &Store{client: fr}

	err := store.SaveDailyRollup(context.Background(), metrics.RollupDocument{Date: "2026-07-31", MatchCount: 5})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fr.sets["rollup:2026-07-31"]; !ok {
		t.Fatal("expected rollup persisted under a date-scoped key")
	}
}

func TestSaveBugReportScopesKeyToMatch(t *testing.T) {
	fr := newFakeRedis()
	store := &Store{client: fr}

	err := store.SaveBugReport(context.Background(), BugReport{
		PlayerMatchID: "m1:sockA",
		MatchID:       "m1",
		Description:   "fell through platform",
		SubmittedAt:   time.Unix(0, 1700000000000000000),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fr.sets) != 1 {
		t.Fatalf("expected exactly one key written, got %d", len(fr.sets))
	}
	if _, ok := fr.sets["bugreport:m1:1700000000000000000"]; !ok {
		t.Fatalf("expected key scoped to match m1, got %v", fr.sets)
	}
}

func TestTrackAndClearDisconnect(t *testing.T) {
	fr := newFakeRedis()
	store := &Store{client: fr}
	ctx := context.Background()

	if err := store.TrackDisconnect(ctx, "m1:sockA", time.Now().Add(20*time.Second)); err != nil {
		t.Fatal(err)
	}
	if len(fr.zadds[disconnectGraceSetKey]) != 1 {
		t.Fatal("expected one zadd entry for the tracked player")
	}

	if err := store.ClearDisconnect(ctx, "m1:sockA"); err != nil {
		t.Fatal(err)
	}
	if len(fr.zrems) != 1 {
		t.Fatal("expected one zrem entry for the cleared player")
	}
}
