package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"matchserver/internal/config"
	"matchserver/internal/httpapi"
	"matchserver/internal/matchmaker"
	"matchserver/internal/metrics"
	"matchserver/internal/persistence"
	"matchserver/internal/transport"
)

func main() {
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  MATCH SERVER")
	log.Println("🎮 ================================")

	appConfig := config.Load()
	log.Printf("🎮 Config: port=%d maxPlayersPerMatch=%d regions=%v", appConfig.Server.Port, appConfig.Match.MaxPlayersPerMatch, appConfig.Match.ValidRegions)

	store := persistence.New(appConfig.Persistence.RedisAddr, appConfig.Persistence.RedisPassword, appConfig.Persistence.RedisDB)
	defer store.Close()

	mm := matchmaker.New(matchmaker.Config{
		MaxPlayersPerMatch: appConfig.Match.MaxPlayersPerMatch,
		ValidRegions:       appConfig.Match.ValidRegions,
	})
	mm.SetDisconnectTracker(store)
	mm.Start()

	metrics.ConfigureAlerts(metrics.DefaultAlertThresholds())
	rollup := metrics.NewRollupScheduler(store, 24*time.Hour, func() metrics.RollupDocument {
		stats := mm.Stats()
		return metrics.CollectDailyRollup(time.Now().Format("2006-01-02"), stats.MatchCount, stats.PlayerCount)
	})
	rollup.Start()
	defer rollup.Stop()

	// Feeds the daily rollup's peakMemoryUsageMB (§6.4).
	memStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		var ms runtime.MemStats
		for {
			select {
			case <-memStop:
				return
			case <-ticker.C:
				runtime.ReadMemStats(&ms)
				metrics.ObserveMemoryUsageMB(float64(ms.Alloc) / (1024 * 1024))
			}
		}
	}()
	defer close(memStop)

	gateway := transport.NewGateway(mm, appConfig.Server, appConfig.RateLimit)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Store:     bugReportAdapter{store: store},
		Live:      mm,
		Server:    appConfig.Server,
		RateLimit: appConfig.RateLimit,
	})
	router.Handle("/ws", gateway)

	addr := ":" + strconv.Itoa(appConfig.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("🌐 match server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown error: %v", err)
	}
	mm.Stop()
	log.Println("👋 Goodbye!")
}

// bugReportAdapter bridges persistence.BugReport to httpapi.BugReport so
// httpapi doesn't need to import persistence just to name the request
// shape it accepts.
type bugReportAdapter struct {
	store *persistence.Store
}

func (a bugReportAdapter) SaveBugReport(ctx context.Context, report httpapi.BugReport) error {
	return a.store.SaveBugReport(ctx, persistence.BugReport{
		PlayerMatchID: report.PlayerMatchID,
		MatchID:       report.MatchID,
		Description:   report.Description,
		SubmittedAt:   report.SubmittedAt,
	})
}
