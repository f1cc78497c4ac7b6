package broker

import (
	"sync"
	"time"
)

// logRingCapacity bounds the in-memory log ring, spec §3/§7.
const logRingCapacity = 1000

// latencyWindowSize bounds the rolling latency sample window, spec §7.
const latencyWindowSize = 100

// LogEntry is one bounded-ring log record fanned out to attached dashboard
// sessions, spec §4.7.
type LogEntry struct {
	Severity  string
	Message   string
	Timestamp time.Time
}

// Stats is the snapshot fanned out to dashboard sessions and served by the
// status endpoint, spec §4.7/§6.
type Stats struct {
	ActiveSlugs      int            `json:"active_slugs"`
	PendingRequests  int            `json:"pending_requests"`
	RequestsByHour   map[string]int `json:"requests_by_hour"`
	RequestsByDay    map[string]int `json:"requests_by_day"`
	AverageLatencyMs float64        `json:"average_latency_ms"`
	SampleCount      int            `json:"sample_count"`
	Received         int            `json:"received"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
}

// observer owns the bounded log ring, rolling latency window, and
// hour/day aggregation buckets, and fans both out to attached dashboard
// sessions. Grounded on destiny-lucas's internal/hermes/client.go
// recordLatency bookkeeping and internal/hub/nonce_cache.go's
// periodic-sweep-with-RLock-snapshot pattern.
type observer struct {
	mu sync.Mutex

	logs     []LogEntry
	logHead  int
	logCount int

	latencies []time.Duration
	latHead   int
	latCount  int

	byHour map[string]int
	byDay  map[string]int

	received  int
	succeeded int
	failed    int

	activeSlugs     func() int
	pendingRequests func() int

	dashboards map[*Session]struct{}
}

func newObserver(activeSlugs, pendingRequests func() int) *observer {
	return &observer{
		logs:            make([]LogEntry, logRingCapacity),
		latencies:       make([]time.Duration, latencyWindowSize),
		byHour:          make(map[string]int),
		byDay:           make(map[string]int),
		activeSlugs:     activeSlugs,
		pendingRequests: pendingRequests,
		dashboards:      make(map[*Session]struct{}),
	}
}

// record appends a log line to the ring, evicting the oldest entry once
// full, and fans it out to every attached dashboard.
func (o *observer) record(severity, message string) {
	o.mu.Lock()
	o.logs[o.logHead] = LogEntry{Severity: severity, Message: message, Timestamp: time.Now()}
	o.logHead = (o.logHead + 1) % logRingCapacity
	if o.logCount < logRingCapacity {
		o.logCount++
	}
	targets := o.dashboardList()
	o.mu.Unlock()

	frame, err := buildLogFanout(severity, message, time.Now().Unix())
	if err != nil {
		return
	}
	for _, d := range targets {
		d.Send(frame)
	}
}

// observeLatency folds a completed request's latency into the rolling
// window and the hour/day buckets for its completion time.
func (o *observer) observeLatency(d time.Duration, at time.Time) {
	o.mu.Lock()
	o.latencies[o.latHead] = d
	o.latHead = (o.latHead + 1) % latencyWindowSize
	if o.latCount < latencyWindowSize {
		o.latCount++
	}
	o.byHour[at.Format("2006-01-02T15")]++
	o.byDay[at.Format("2006-01-02")]++
	o.mu.Unlock()
}

// recordReceived increments the cumulative received counter, once per
// admission attempt (spec §3, §8 invariant "succeeded + failed + pending ==
// received").
func (o *observer) recordReceived() {
	o.mu.Lock()
	o.received++
	o.mu.Unlock()
}

// recordSucceeded increments the cumulative succeeded counter, once per
// request that reaches a 2xx completion.
func (o *observer) recordSucceeded() {
	o.mu.Lock()
	o.succeeded++
	o.mu.Unlock()
}

// recordFailed increments the cumulative failed counter, once per request
// that terminates in a rejection or a failure completion.
func (o *observer) recordFailed() {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

// snapshot computes the current Stats, for the status endpoint and for
// dashboard fan-out.
func (o *observer) snapshot() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	var sum time.Duration
	for i := 0; i < o.latCount; i++ {
		sum += o.latencies[i]
	}
	avgMs := 0.0
	if o.latCount > 0 {
		avgMs = float64(sum.Milliseconds()) / float64(o.latCount)
	}

	hourCopy := make(map[string]int, len(o.byHour))
	for k, v := range o.byHour {
		hourCopy[k] = v
	}
	dayCopy := make(map[string]int, len(o.byDay))
	for k, v := range o.byDay {
		dayCopy[k] = v
	}

	return Stats{
		ActiveSlugs:      o.activeSlugs(),
		PendingRequests:  o.pendingRequests(),
		RequestsByHour:   hourCopy,
		RequestsByDay:    dayCopy,
		AverageLatencyMs: avgMs,
		SampleCount:      o.latCount,
		Received:         o.received,
		Succeeded:        o.succeeded,
		Failed:           o.failed,
	}
}

// attach registers a session as a dashboard fan-out target.
func (o *observer) attach(s *Session) {
	o.mu.Lock()
	o.dashboards[s] = struct{}{}
	o.mu.Unlock()
}

// detach removes a session from the fan-out set, called from
// on_session_loss regardless of whether the session was ever a dashboard.
func (o *observer) detach(s *Session) {
	o.mu.Lock()
	delete(o.dashboards, s)
	o.mu.Unlock()
}

func (o *observer) dashboardList() []*Session {
	list := make([]*Session, 0, len(o.dashboards))
	for s := range o.dashboards {
		list = append(list, s)
	}
	return list
}

// broadcastStats pushes a fresh snapshot to every attached dashboard, for
// the periodic maintenance tick.
func (o *observer) broadcastStats() {
	snap := o.snapshot()
	frame, err := buildStatsFanout(snap)
	if err != nil {
		return
	}
	o.mu.Lock()
	targets := o.dashboardList()
	o.mu.Unlock()
	for _, d := range targets {
		d.Send(frame)
	}
}

// logRetentionHorizon and statsRetentionHorizon are the two distinct
// retention windows of spec §3: log ring entries are kept for 7 days, while
// the hourly/daily statistics aggregates are kept for 30 days.
const logRetentionHorizon = 7 * 24 * time.Hour
const statsRetentionHorizon = 30 * 24 * time.Hour

// pruneLogs drops ring entries older than logRetentionHorizon, rebuilding
// the ring from its currently-live entries in order. Runs on the 60s
// maintenance tick (spec §4.7); the count-bounded eviction in record
// handles the capacity-1000 overflow case on its own, so this only matters
// once entries are old relative to the horizon rather than merely numerous.
func (o *observer) pruneLogs(now time.Time) {
	cutoff := now.Add(-logRetentionHorizon)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.logCount == 0 {
		return
	}

	start := (o.logHead - o.logCount + logRingCapacity) % logRingCapacity
	kept := make([]LogEntry, 0, o.logCount)
	for i := 0; i < o.logCount; i++ {
		entry := o.logs[(start+i)%logRingCapacity]
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}

	o.logs = make([]LogEntry, logRingCapacity)
	copy(o.logs, kept)
	o.logCount = len(kept)
	o.logHead = o.logCount % logRingCapacity
}

// pruneAggregates drops hour/day buckets older than statsRetentionHorizon,
// on the 5-minute maintenance tick (spec §4.7). Per-sample hour/day
// aggregation happens eagerly in observeLatency rather than via a separate
// batch-collapse step, so this tick only needs to expire old buckets.
func (o *observer) pruneAggregates(now time.Time) {
	cutoffDay := now.Add(-statsRetentionHorizon)
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.byDay {
		t, err := time.Parse("2006-01-02", k)
		if err == nil && t.Before(cutoffDay) {
			delete(o.byDay, k)
		}
	}
	for k := range o.byHour {
		t, err := time.Parse("2006-01-02T15", k)
		if err == nil && t.Before(cutoffDay) {
			delete(o.byHour, k)
		}
	}
}
