package matchmaker

import (
	"context"
	"testing"
	"time"
)

type fakeSession struct {
	id string
}

func (f *fakeSession) Emit(event string, payload any) {}
func (f *fakeSession) Disconnect()                     {}
func (f *fakeSession) ID() string                      { return f.id }

type fakeTracker struct {
	tracked []string
	cleared []string
}

func (f *fakeTracker) TrackDisconnect(ctx context.Context, playerMatchID string, deadline time.Time) error {
	f.tracked = append(f.tracked, playerMatchID)
	return nil
}

func (f *fakeTracker) ClearDisconnect(ctx context.Context, playerMatchID string) error {
	f.cleared = append(f.cleared, playerMatchID)
	return nil
}

func testConfig() Config {
	return Config{MaxPlayersPerMatch: 2, ValidRegions: []string{"NA", "EU"}}
}

func TestJoinQueueRejectsUnknownRegion(t *testing.T) {
	mm := New(testConfig())
	_, _, err := mm.JoinQueue("MARS", "sock1", "Alice", &fakeSession{id: "sock1"})
	if err == nil {
		t.Fatal("expected error for unknown region")
	}
}

func TestJoinQueueFirstFitFillsExistingMatchBeforeCreatingNew(t *testing.T) {
	mm := New(testConfig())
	matchID1, _, err := mm.JoinQueue("NA", "sock1", "Alice", &fakeSession{id: "sock1"})
	if err != nil {
		t.Fatal(err)
	}
	matchID2, _, err := mm.JoinQueue("NA", "sock2", "Bob", &fakeSession{id: "sock2"})
	if err != nil {
		t.Fatal(err)
	}
	if matchID1 != matchID2 {
		t.Fatalf("expected second player to fill the same match, got %s vs %s", matchID1, matchID2)
	}

	matchID3, _, err := mm.JoinQueue("NA", "sock3", "Carol", &fakeSession{id: "sock3"})
	if err != nil {
		t.Fatal(err)
	}
	if matchID3 == matchID1 {
		t.Fatal("expected a third player in a full match to start a new one")
	}
}

func TestRejoinRoutesToExistingMatch(t *testing.T) {
	mm := New(testConfig())
	matchID, playerMatchID, err := mm.JoinQueue("NA", "sock1", "Alice", &fakeSession{id: "sock1"})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := mm.GetMatch(matchID)
	if !ok {
		t.Fatal("expected match to be registered")
	}
	m.HandleDisconnect(playerMatchID, mm)

	if !mm.Rejoin(matchID, playerMatchID, &fakeSession{id: "sock1-new"}) {
		t.Fatal("expected rejoin to succeed")
	}
	if mm.Rejoin("does-not-exist", playerMatchID, &fakeSession{id: "sock1-new"}) {
		t.Fatal("expected rejoin against an unknown match to fail")
	}
}

func TestDisconnectTrackerMirrorsGraceBookkeeping(t *testing.T) {
	mm := New(testConfig())
	tracker := &fakeTracker{}
	mm.SetDisconnectTracker(tracker)

	matchID, playerMatchID, err := mm.JoinQueue("NA", "sock1", "Alice", &fakeSession{id: "sock1"})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := mm.GetMatch(matchID)
	m.HandleDisconnect(playerMatchID, mm)
	if len(tracker.tracked) != 1 || tracker.tracked[0] != playerMatchID {
		t.Fatalf("expected disconnect tracked once for %s, got %+v", playerMatchID, tracker.tracked)
	}

	mm.Rejoin(matchID, playerMatchID, &fakeSession{id: "sock1-new"})
	if len(tracker.cleared) != 1 || tracker.cleared[0] != playerMatchID {
		t.Fatalf("expected disconnect cleared once for %s, got %+v", playerMatchID, tracker.cleared)
	}
}

func TestInformShowIsLiveReachesEveryMatch(t *testing.T) {
	mm := New(testConfig())
	s1 := &fakeSession{id: "sock1"}
	mm.JoinQueue("NA", "sock1", "Alice", s1)

	mm.InformShowIsLive()
	// InformShowIsLive emits showIsLive at once through each match's
	// sessions (a no-op Emit here); exercising it just confirms it reaches
	// the registered match without panicking on an empty/partial registry.
	if len(mm.matchByID) != 1 {
		t.Fatal("expected exactly one match registered")
	}
}

func TestStatsReportsLiveCounts(t *testing.T) {
	mm := New(testConfig())
	mm.JoinQueue("NA", "sock1", "Alice", &fakeSession{id: "sock1"})
	mm.JoinQueue("EU", "sock2", "Bob", &fakeSession{id: "sock2"})

	stats := mm.Stats()
	if stats.MatchCount != 2 || stats.PlayerCount != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
