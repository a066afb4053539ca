package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"matchserver/internal/config"
)

type fakeStore struct {
	saved []BugReport
	err   error
}

func (f *fakeStore) SaveBugReport(ctx context.Context, report BugReport) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, report)
	return nil
}

type fakeLive struct {
	calls int
}

func (f *fakeLive) InformShowIsLive() { f.calls++ }

func testRouterConfig(store BugReportStore, live LiveAnnouncer) RouterConfig {
	return RouterConfig{
		Store:          store,
		Live:           live,
		Server:         config.ServerConfig{ClientURL: "http://example.test"},
		RateLimit:      config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		DisableLogging: true,
	}
}

func TestHandleBugReportPersistsAndReturns200(t *testing.T) {
	store := &fakeStore{}
	r := NewRouter(testRouterConfig(store, &fakeLive{}))

	body := []byte(`{"bugReport":{"playerMatchId":"m1:p1","matchId":"m1","description":"fell through a platform"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/health", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(store.saved) != 1 {
		t.Fatal("expected one bug report persisted")
	}
}

func TestHandleBugReportRejectsMissingBody(t *testing.T) {
	store := &fakeStore{}
	r := NewRouter(testRouterConfig(store, &fakeLive{}))

	req := httptest.NewRequest(http.MethodPost, "/api/health", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing body, got %d", w.Code)
	}
}

func TestHandleShowLiveInvokesAnnouncer(t *testing.T) {
	live := &fakeLive{}
	r := NewRouter(testRouterConfig(&fakeStore{}, live))

	req := httptest.NewRequest(http.MethodPost, "/api/live", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if live.calls != 1 {
		t.Fatal("expected InformShowIsLive called once")
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	r := NewRouter(testRouterConfig(&fakeStore{}, &fakeLive{}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
