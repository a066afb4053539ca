// Package metrics exposes Prometheus counters/gauges for the matchmaker and
// every match it drives, plus rolling-window threshold alerting and a daily
// rollup trigger. Every label set here is bounded (never a raw playerID or
// matchID) to avoid a cardinality-based DoS, the same discipline the
// teacher's observability layer applies.
package metrics

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchserver_active_matches",
		Help: "Currently active matches",
	})

	activePlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchserver_active_players",
		Help: "Currently connected or grace-period-disconnected players",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchserver_tick_duration_seconds",
		Help:    "Time spent driving one matchmaker tick across all matches",
		Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.033, 0.05, 0.1},
	})

	killsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_kills_total",
		Help: "Total confirmed kills across all matches",
	})

	disconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_disconnects_total",
		Help: "Total player disconnect events",
	})

	afkRemovalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_afk_removals_total",
		Help: "Total players removed for being AFK",
	})

	inputsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_inputs_rate_limited_total",
		Help: "Total playerInput events dropped by the per-player rate limiter",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchserver_connections_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // bounded: "rate_limit", "origin", "ws_ip_limit", "ws_total_limit"

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchserver_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	broadcastBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_broadcast_bytes_total",
		Help: "Total bytes of serialized stateUpdate payloads sent",
	})

	broadcastSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchserver_broadcast_size_bytes",
		Help:    "Size in bytes of one match's serialized stateUpdate payload",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	})

	broadcastFaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_broadcast_faults_total",
		Help: "stateUpdate serialization failures (§7 broadcast fault)",
	})

	simulationFaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_simulation_faults_total",
		Help: "Recovered panics inside a match's fixed-step update (§7 simulation fault)",
	})

	connectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_connects_total",
		Help: "Total players placed into a match via joinQueue",
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_reconnects_total",
		Help: "Total players successfully rejoined within the grace period",
	})

	roundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_rounds_total",
		Help: "Total completed rounds (a player reached the kill threshold)",
	})

	slowLoopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchserver_slow_loops_total",
		Help: "Matchmaker driver ticks that exceeded the slow-loop threshold",
	})
)

// slowLoopThreshold is the driver-tick duration (§4.4.2's FixedStepMS is
// ~33.33ms) above which a tick is considered slow for alerting/rollup
// purposes.
const slowLoopThreshold = 40 * time.Millisecond

// UpdateActiveMatches sets the active-match gauge.
func UpdateActiveMatches(n int) { activeMatches.Set(float64(n)) }

// UpdateActivePlayers sets the active-player gauge and feeds the daily
// peak/average concurrent-player tracking.
func UpdateActivePlayers(n int) {
	activePlayers.Set(float64(n))
	daily.observeConcurrentPlayers(n)
}

// RecordTick records how long one global matchmaker tick took and feeds the
// daily slow-loop counter when it exceeds slowLoopThreshold.
func RecordTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
	if d > slowLoopThreshold {
		slowLoopsTotal.Inc()
		daily.recordSlowLoop()
	}
}

// RecordBroadcastBytes records the serialized size of one match's
// stateUpdate payload (§4.4.4 "report serialized size for metrics") and
// feeds the daily bandwidth peak.
func RecordBroadcastBytes(n int) {
	broadcastBytesTotal.Add(float64(n))
	broadcastSize.Observe(float64(n))
	daily.recordBroadcastBytes(n)
}

// RecordBroadcastFault records a broadcast serialization failure (§7
// "Broadcast fault" - capture, record metric, drop that broadcast).
func RecordBroadcastFault() {
	broadcastFaultsTotal.Inc()
	daily.recordError()
}

// RecordSimulationFault records a recovered panic from inside a match's
// fixed-step update (§7 "Simulation fault" - capture, record metric,
// continue the loop).
func RecordSimulationFault() {
	simulationFaultsTotal.Inc()
	daily.recordError()
}

// RecordConnect records a player placed into a match via joinQueue, feeding
// the daily total-connected and peak-concurrent counters.
func RecordConnect() {
	connectsTotal.Inc()
	daily.recordConnect()
}

// RecordReconnect records a successful grace-period rejoin.
func RecordReconnect() {
	reconnectsTotal.Inc()
	daily.recordReconnect()
}

// RecordRoundComplete records a round ending because a player reached the
// kill threshold (§4.4.6).
func RecordRoundComplete() {
	roundsTotal.Inc()
	daily.recordRound()
}

// RecordKill increments the kill counter and feeds the default alerts
// aggregator's rolling window.
func RecordKill() {
	killsTotal.Inc()
	defaultAlerts.ObserveKill(time.Now())
	daily.recordKill()
}

// RecordDisconnect increments the disconnect counter and feeds the default
// alerts aggregator's rolling window.
func RecordDisconnect() {
	disconnectsTotal.Inc()
	defaultAlerts.ObserveDisconnect(time.Now())
	daily.recordDisconnect()
}

// RecordAfkRemoval increments the AFK-removal counter.
func RecordAfkRemoval() { afkRemovalsTotal.Inc() }

// RecordInputRateLimited increments the dropped-input counter and feeds the
// default alerts aggregator's rolling window.
func RecordInputRateLimited() {
	inputsRateLimited.Inc()
	defaultAlerts.ObserveRateLimited(time.Now())
}

// defaultAlerts is the process-wide alert aggregator the Record* helpers
// feed; ConfigureAlerts lets cmd/server override its thresholds at startup.
var defaultAlerts = NewAlerts(DefaultAlertThresholds())

// ConfigureAlerts replaces the default alerts aggregator's thresholds.
func ConfigureAlerts(thresholds AlertThresholds) {
	defaultAlerts = NewAlerts(thresholds)
}

// RecordConnectionRejected increments the rejection counter for a bounded reason.
func RecordConnectionRejected(reason string) { connectionRejected.WithLabelValues(reason).Inc() }

// RecordRequest increments the HTTP request counter.
func RecordRequest(method, endpoint, status string) {
	requestTotal.WithLabelValues(method, endpoint, status).Inc()
}

// window10s and window60s are the rolling alert windows aggregated events
// are bucketed into.
const (
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// AlertThresholds configures when a rolling counter should log a warning.
type AlertThresholds struct {
	DisconnectsPer60s int
	KillsPer10s       int
	RateLimitedPer60s int
}

// DefaultAlertThresholds returns conservative defaults for a ≤10-player match.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		DisconnectsPer60s: 20,
		KillsPer10s:       30,
		RateLimitedPer60s: 50,
	}
}

// RollingWindow tracks event timestamps so Count can answer "how many
// happened in the last N seconds" without a fixed-size histogram - matches
// are small (≤10 players) so a pruned timestamp slice is cheap.
type RollingWindow struct {
	mu   sync.Mutex
	hits []time.Time
}

// Record marks one event at now.
func (w *RollingWindow) Record(now time.Time) {
	w.mu.Lock()
	w.hits = append(w.hits, now)
	w.mu.Unlock()
}

// Count returns how many events were recorded within window of now, pruning
// anything older in the process.
func (w *RollingWindow) Count(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = w.hits[i:]
	}
	return len(w.hits)
}

// Alerts aggregates rolling windows for the event types operators care about
// and logs a warning the first time a window crosses its threshold, reusing
// the teacher's emoji-tagged log.Printf convention.
type Alerts struct {
	thresholds   AlertThresholds
	disconnects  RollingWindow
	kills        RollingWindow
	rateLimited  RollingWindow
	mu           sync.Mutex
	lastWarnedAt map[string]time.Time
}

// NewAlerts constructs an alert aggregator with the given thresholds.
func NewAlerts(thresholds AlertThresholds) *Alerts {
	return &Alerts{thresholds: thresholds, lastWarnedAt: make(map[string]time.Time)}
}

func (a *Alerts) warn(key, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.lastWarnedAt[key]; ok && time.Since(last) < window60s {
		return
	}
	a.lastWarnedAt[key] = time.Now()
	log.Printf("⚠️ %s", msg)
}

// ObserveDisconnect records a disconnect in the rolling window and alerts on
// a spike. Called from RecordDisconnect; does not itself touch the counter.
func (a *Alerts) ObserveDisconnect(now time.Time) {
	a.disconnects.Record(now)
	if n := a.disconnects.Count(now, window60s); n >= a.thresholds.DisconnectsPer60s {
		a.warn("disconnects", "disconnect spike detected: "+strconv.Itoa(n)+" in the last 60s")
	}
}

// ObserveKill records a kill in the rolling window and alerts on a spike.
func (a *Alerts) ObserveKill(now time.Time) {
	a.kills.Record(now)
	if n := a.kills.Count(now, window10s); n >= a.thresholds.KillsPer10s {
		a.warn("kills", "kill-rate spike detected: "+strconv.Itoa(n)+" in the last 10s")
	}
}

// ObserveRateLimited records a dropped input in the rolling window and
// alerts on a spike.
func (a *Alerts) ObserveRateLimited(now time.Time) {
	a.rateLimited.Record(now)
	if n := a.rateLimited.Count(now, window60s); n >= a.thresholds.RateLimitedPer60s {
		a.warn("rate_limited", "input rate-limit spike detected: "+strconv.Itoa(n)+" in the last 60s")
	}
}

// RollupDocument is the daily aggregate a RollupScheduler persists once per
// interval (§6.4). The schedule counts from when the scheduler starts and is
// not aligned to midnight. Date is the unique key; every other field is a
// counter or peak reset to zero once the document is durably saved.
type RollupDocument struct {
	Date                   string  `json:"date"`
	MatchCount             int     `json:"matchCount"`
	PlayerCount            int     `json:"playerCount"`
	KillCount              int     `json:"killCount"`
	TotalPlayersConnected  int     `json:"totalPlayersConnected"`
	PeakConcurrentPlayers  int     `json:"peakConcurrentPlayers"`
	AvgConcurrentPlayers   float64 `json:"avgConcurrentPlayers"`
	TotalRoundsPlayed      int     `json:"totalRoundsPlayed"`
	TotalDisconnects       int     `json:"totalDisconnects"`
	TemporaryDisconnects   int     `json:"temporaryDisconnects"`
	Reconnects             int     `json:"reconnects"`
	ReconnectRate          float64 `json:"reconnectRate"`
	SlowLoopsCount         int     `json:"slowLoopsCount"`
	ErrorCount             int     `json:"errorCount"`
	PeakMemoryUsageMB      float64 `json:"peakMemoryUsageMB"`
	PeakBandwidthMBPerSec  float64 `json:"peakBandwidthMBPerSec"`
}

// daily is the process-wide accumulator backing CollectDailyRollup/
// ResetDailyStats. It is deliberately package-private: every write goes
// through a Record* helper above so no caller can skip the bookkeeping.
var daily = newDailyAggregator()

// dailyAggregator accumulates the counters and peaks behind one calendar
// day's RollupDocument (§6.4). Reset once the document is durably
// persisted - the spec calls this out explicitly ("resets the daily
// counters on success").
type dailyAggregator struct {
	mu sync.Mutex

	totalPlayersConnected int
	peakConcurrentPlayers int
	concurrentSampleSum   int64
	concurrentSampleCount int64
	totalRoundsPlayed     int
	killCount             int
	totalDisconnects      int
	reconnects            int
	slowLoopsCount        int
	errorCount            int
	peakMemoryUsageMB     float64

	bandwidthWindowStart time.Time
	bandwidthWindowBytes int64
	peakBandwidthMBPerSec float64
}

func newDailyAggregator() *dailyAggregator {
	return &dailyAggregator{bandwidthWindowStart: time.Now()}
}

func (d *dailyAggregator) recordConnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalPlayersConnected++
}

func (d *dailyAggregator) recordDisconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalDisconnects++
}

func (d *dailyAggregator) recordReconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconnects++
}

func (d *dailyAggregator) recordRound() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalRoundsPlayed++
}

func (d *dailyAggregator) recordKill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killCount++
}

func (d *dailyAggregator) recordSlowLoop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowLoopsCount++
}

func (d *dailyAggregator) recordError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorCount++
}

func (d *dailyAggregator) observeConcurrentPlayers(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > d.peakConcurrentPlayers {
		d.peakConcurrentPlayers = n
	}
	d.concurrentSampleSum += int64(n)
	d.concurrentSampleCount++
}

func (d *dailyAggregator) observeMemoryMB(mb float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mb > d.peakMemoryUsageMB {
		d.peakMemoryUsageMB = mb
	}
}

// recordBroadcastBytes buckets bytes into a rolling one-second window and
// updates the peak MB/s the moment a window closes, matching §4.7's
// "MB/s bandwidth" windowed measure.
func (d *dailyAggregator) recordBroadcastBytes(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bandwidthWindowBytes += int64(n)
	elapsed := time.Since(d.bandwidthWindowStart)
	if elapsed >= time.Second {
		mbPerSec := (float64(d.bandwidthWindowBytes) / (1024 * 1024)) / elapsed.Seconds()
		if mbPerSec > d.peakBandwidthMBPerSec {
			d.peakBandwidthMBPerSec = mbPerSec
		}
		d.bandwidthWindowBytes = 0
		d.bandwidthWindowStart = time.Now()
	}
}

// snapshot builds the persisted document for date from the accumulated
// counters, without resetting them.
func (d *dailyAggregator) snapshot(date string) RollupDocument {
	d.mu.Lock()
	defer d.mu.Unlock()

	avg := 0.0
	if d.concurrentSampleCount > 0 {
		avg = float64(d.concurrentSampleSum) / float64(d.concurrentSampleCount)
	}
	rate := 0.0
	if d.totalDisconnects > 0 {
		rate = float64(d.reconnects) / float64(d.totalDisconnects)
	}

	return RollupDocument{
		Date:                  date,
		KillCount:             d.killCount,
		TotalPlayersConnected: d.totalPlayersConnected,
		PeakConcurrentPlayers: d.peakConcurrentPlayers,
		AvgConcurrentPlayers:  avg,
		TotalRoundsPlayed:     d.totalRoundsPlayed,
		TotalDisconnects:      d.totalDisconnects,
		TemporaryDisconnects:  d.reconnects,
		Reconnects:            d.reconnects,
		ReconnectRate:         rate,
		SlowLoopsCount:        d.slowLoopsCount,
		ErrorCount:            d.errorCount,
		PeakMemoryUsageMB:     d.peakMemoryUsageMB,
		PeakBandwidthMBPerSec: d.peakBandwidthMBPerSec,
	}
}

// reset zeroes every counter and peak, called after a successful persist.
func (d *dailyAggregator) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalPlayersConnected = 0
	d.peakConcurrentPlayers = 0
	d.concurrentSampleSum = 0
	d.concurrentSampleCount = 0
	d.totalRoundsPlayed = 0
	d.killCount = 0
	d.totalDisconnects = 0
	d.reconnects = 0
	d.slowLoopsCount = 0
	d.errorCount = 0
	d.peakMemoryUsageMB = 0
	d.bandwidthWindowStart = time.Now()
	d.bandwidthWindowBytes = 0
	d.peakBandwidthMBPerSec = 0
}

// CollectDailyRollup builds today's RollupDocument, overlaying the live
// matchCount/playerCount snapshot (point-in-time, not historical) onto the
// accumulated daily counters. date is passed in rather than computed here
// because callers stamp it from their own clock at the moment they collect.
func CollectDailyRollup(date string, matchCount, playerCount int) RollupDocument {
	doc := daily.snapshot(date)
	doc.MatchCount = matchCount
	doc.PlayerCount = playerCount
	return doc
}

// ObserveMemoryUsageMB feeds the daily peak-memory tracker; cmd/server
// samples runtime.MemStats on a ticker and calls this.
func ObserveMemoryUsageMB(mb float64) { daily.observeMemoryMB(mb) }

// ResetDailyStats zeroes the accumulated daily counters. Call this only
// after the rollup document has been durably persisted (§4.7).
func ResetDailyStats() { daily.reset() }

// RollupSink is the narrow persistence boundary the scheduler writes
// through, matching the Session-capability pattern used between match and
// transport: this package does not know or care how rollups are stored.
type RollupSink interface {
	SaveDailyRollup(ctx context.Context, doc RollupDocument) error
}

// RollupScheduler fires once every interval (24h in production; tests pass
// something shorter) and persists a snapshot built from the supplied
// collect function.
type RollupScheduler struct {
	sink     RollupSink
	interval time.Duration
	collect  func() RollupDocument
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRollupScheduler constructs a scheduler. Call Start to begin.
func NewRollupScheduler(sink RollupSink, interval time.Duration, collect func() RollupDocument) *RollupScheduler {
	return &RollupScheduler{sink: sink, interval: interval, collect: collect, stopChan: make(chan struct{})}
}

// Start launches the background ticker goroutine.
func (s *RollupScheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				doc := s.collect()
				if err := s.sink.SaveDailyRollup(context.Background(), doc); err != nil {
					log.Printf("⚠️ failed to persist daily rollup: %v", err)
					continue
				}
				// §4.7: "resets the daily counters on success".
				ResetDailyStats()
			}
		}
	}()
}

// Stop halts the scheduler.
func (s *RollupScheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
