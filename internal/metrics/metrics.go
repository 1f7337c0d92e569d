// Package metrics collects and exposes driver tick observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package, exactly as in the teacher's
// original:
//
//  1. The in-process Metrics struct (atomic counters + a minute-bucketed
//     time series) for a lightweight JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordTick is called once per driver tick and must stay cheap: atomic
// increments for the global counters, plus a buffered-channel event for
// the time-series worker so no tick ever blocks on a lock.
//
// # Invariants
//
//   - TicksTotal == TicksOK + TicksFaulted.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores tick metrics for a single minute.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Ticks        int64
	Faults       int64
	TotalLatency int64
	Count        int64
}

// Metrics collects and exposes driver tick metrics.
type Metrics struct {
	TicksTotal   atomic.Int64
	TicksOK      atomic.Int64
	TicksFaulted atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	HeartbeatsFired atomic.Int64
	CalloutsFired   atomic.Int64
	CombatRounds    atomic.Int64
	Deaths          atomic.Int64
	MessagesSent    atomic.Int64

	// Per-blueprint metrics
	bpMetrics sync.Map // blueprintID -> *BlueprintMetrics

	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

type timeSeriesEvent struct {
	durationMs int64
	isFault    bool
}

// BlueprintMetrics tracks invocation counts for a single blueprint,
// surfaced alongside object.Stats for the stats CLI subcommand.
type BlueprintMetrics struct {
	Invocations atomic.Int64
	Faults      atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the metrics system initialized.
func StartTime() time.Time { return global.startTime }

// RecordTick records one driver tick's summary.
func (m *Metrics) RecordTick(durationMs int64, heartbeats, callouts, combatRounds, deaths, messages int, faulted bool) {
	m.TicksTotal.Add(1)
	if faulted {
		m.TicksFaulted.Add(1)
	} else {
		m.TicksOK.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	m.HeartbeatsFired.Add(int64(heartbeats))
	m.CalloutsFired.Add(int64(callouts))
	m.CombatRounds.Add(int64(combatRounds))
	m.Deaths.Add(int64(deaths))
	m.MessagesSent.Add(int64(messages))

	m.recordTimeSeries(durationMs, faulted)
	RecordPrometheusTick(durationMs, heartbeats, callouts, combatRounds, deaths, messages, faulted)
}

// RecordInvocation records a single hook/callout dispatch against
// blueprintID, for the per-blueprint breakdown.
func (m *Metrics) RecordInvocation(blueprintID string, faulted bool) {
	bm := m.getBlueprintMetrics(blueprintID)
	bm.Invocations.Add(1)
	if faulted {
		bm.Faults.Add(1)
	}
}

func (m *Metrics) recordTimeSeries(durationMs int64, isFault bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isFault: isFault}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isFault)
	}
}

func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isFault bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Ticks++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isFault {
			bucket.Faults++
		}
	}
}

func (m *Metrics) getBlueprintMetrics(blueprintID string) *BlueprintMetrics {
	if v, ok := m.bpMetrics.Load(blueprintID); ok {
		return v.(*BlueprintMetrics)
	}
	bm := &BlueprintMetrics{}
	actual, _ := m.bpMetrics.LoadOrStore(blueprintID, bm)
	return actual.(*BlueprintMetrics)
}

// BlueprintStats returns per-blueprint invocation metrics, or nil if
// none recorded yet.
func (m *Metrics) BlueprintStats(blueprintID string) *BlueprintMetrics {
	if v, ok := m.bpMetrics.Load(blueprintID); ok {
		return v.(*BlueprintMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all tick metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TicksTotal.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"ticks": map[string]interface{}{
			"total":   total,
			"ok":      m.TicksOK.Load(),
			"faulted": m.TicksFaulted.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"phases": map[string]interface{}{
			"heartbeats_fired": m.HeartbeatsFired.Load(),
			"callouts_fired":   m.CalloutsFired.Load(),
			"combat_rounds":    m.CombatRounds.Load(),
			"deaths":           m.Deaths.Load(),
			"messages_sent":    m.MessagesSent.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// JSONHandler exposes metrics in JSON format over HTTP.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"ticks":        bucket.Ticks,
			"faults":       bucket.Faults,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler exposes time-series metrics over HTTP.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
