package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// relay session lifecycle events, encoder health, queue activity, and webhook
// delivery. It coordinates concurrent writers via a RWMutex while exposing
// thread-safe gauges for active session tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	sessionEvents   map[string]uint64
	queueEvents     map[string]uint64
	notifyAttempts  map[string]uint64
	notifyFailures  map[string]uint64
	encoderCPU      float64
	encoderRSS      uint64
	activeSessions  atomic.Int64
	bytesIngested   atomic.Uint64
	writeFailures   atomic.Uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		sessionEvents:   make(map[string]uint64),
		queueEvents:     make(map[string]uint64),
		notifyAttempts:  make(map[string]uint64),
		notifyFailures:  make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the recorder used by the package-level helpers.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultRecorder = r
}

// Registry bundles a Recorder for callers that own their instrumentation
// lifecycle while still routing package-level helpers to it.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry constructs a Registry with a fresh Recorder and installs it as
// the process default.
func NewRegistry() *Registry {
	recorder := New()
	SetDefault(recorder)
	return &Registry{Recorder: recorder}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionStarted records a session start event and increments the active
// session gauge atomically so concurrent sessions remain consistent.
func (r *Recorder) SessionStarted() {
	r.incrementSessionEvent("started")
	r.activeSessions.Add(1)
}

// SessionEnded records a terminal session event keyed by outcome ("clean" or
// "error") and decrements the active session gauge, guarding against negative
// counts when concurrent updates race.
func (r *Recorder) SessionEnded(outcome string) {
	r.incrementSessionEvent(outcome)
	r.decrementGauge(&r.activeSessions)
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// AddBytesIngested accumulates raw bytes accepted from clients across all
// sessions.
func (r *Recorder) AddBytesIngested(n int64) {
	if n <= 0 {
		return
	}
	r.bytesIngested.Add(uint64(n))
}

// EncoderWriteFailure records a failed write to an encoder input pipe.
func (r *Recorder) EncoderWriteFailure() {
	r.writeFailures.Add(1)
}

// ObserveQueueEvent records a lifecycle-queue event keyed by action (e.g.
// "published", "dropped", "consumed").
func (r *Recorder) ObserveQueueEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.queueEvents[normalized]++
	r.mu.Unlock()
}

// ObserveNotifyAttempt records a webhook delivery attempt keyed by event type.
func (r *Recorder) ObserveNotifyAttempt(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.notifyAttempts[normalized]++
	r.mu.Unlock()
}

// ObserveNotifyFailure records a webhook delivery failure keyed by event type.
// The caller should also record the attempt separately.
func (r *Recorder) ObserveNotifyFailure(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.notifyFailures[normalized]++
	r.mu.Unlock()
}

// SetEncoderUsage stores the most recent aggregate CPU and resident-memory
// sample for live encoder processes.
func (r *Recorder) SetEncoderUsage(cpuPercent float64, rssBytes uint64) {
	r.mu.Lock()
	r.encoderCPU = cpuPercent
	r.encoderRSS = rssBytes
	r.mu.Unlock()
}

// ActiveSessions exposes the current gauge of concurrently active sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// BytesIngested exposes the cumulative count of bytes accepted from clients.
func (r *Recorder) BytesIngested() uint64 {
	return r.bytesIngested.Load()
}

// EncoderWriteFailures exposes the cumulative count of encoder write failures.
func (r *Recorder) EncoderWriteFailures() uint64 {
	return r.writeFailures.Load()
}

// SessionCounts returns a copy of the session event counters for testing and
// reporting purposes.
func (r *Recorder) SessionCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.sessionEvents))
	for k, v := range r.sessionEvents {
		counts[k] = v
	}
	return counts
}

// NotifyCounts returns copies of webhook attempt and failure counters.
func (r *Recorder) NotifyCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.notifyAttempts))
	for k, v := range r.notifyAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.notifyFailures))
	for k, v := range r.notifyFailures {
		failures[k] = v
	}
	return attempts, failures
}

// EncoderUsage returns the most recent encoder CPU and memory sample.
func (r *Recorder) EncoderUsage() (cpuPercent float64, rssBytes uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.encoderCPU, r.encoderRSS
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[string]uint64)
	r.queueEvents = make(map[string]uint64)
	r.notifyAttempts = make(map[string]uint64)
	r.notifyFailures = make(map[string]uint64)
	r.encoderCPU = 0
	r.encoderRSS = 0
	r.activeSessions.Store(0)
	r.bytesIngested.Store(0)
	r.writeFailures.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	sessionEvents := r.sortedSessionEvents()
	queueEvents := r.sortedQueueEvents()
	notifyEvents := r.sortedNotifyEvents()

	fmt.Fprintln(w, "# HELP relay_http_requests_total Total number of HTTP requests processed by the control plane")
	fmt.Fprintln(w, "# TYPE relay_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "relay_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP relay_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE relay_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "relay_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP relay_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE relay_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "relay_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP relay_session_events_total Relay session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE relay_session_events_total counter")
	for _, event := range sessionEvents {
		value := r.sessionEvents[event]
		fmt.Fprintf(w, "relay_session_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP relay_active_sessions Current number of live relay sessions")
	fmt.Fprintln(w, "# TYPE relay_active_sessions gauge")
	fmt.Fprintf(w, "relay_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP relay_bytes_ingested_total Raw bytes accepted from clients across all sessions")
	fmt.Fprintln(w, "# TYPE relay_bytes_ingested_total counter")
	fmt.Fprintf(w, "relay_bytes_ingested_total %d\n", r.bytesIngested.Load())

	fmt.Fprintln(w, "# HELP relay_encoder_write_failures_total Failed writes to encoder input pipes")
	fmt.Fprintln(w, "# TYPE relay_encoder_write_failures_total counter")
	fmt.Fprintf(w, "relay_encoder_write_failures_total %d\n", r.writeFailures.Load())

	fmt.Fprintln(w, "# HELP relay_queue_events_total Lifecycle queue events by action")
	fmt.Fprintln(w, "# TYPE relay_queue_events_total counter")
	for _, event := range queueEvents {
		count := r.queueEvents[event]
		fmt.Fprintf(w, "relay_queue_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP relay_notify_attempts_total Webhook delivery attempts by event type")
	fmt.Fprintln(w, "# TYPE relay_notify_attempts_total counter")
	for _, event := range notifyEvents {
		count := r.notifyAttempts[event]
		fmt.Fprintf(w, "relay_notify_attempts_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP relay_notify_failures_total Webhook delivery failures by event type")
	fmt.Fprintln(w, "# TYPE relay_notify_failures_total counter")
	for _, event := range notifyEvents {
		count := r.notifyFailures[event]
		fmt.Fprintf(w, "relay_notify_failures_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP relay_encoder_cpu_percent Aggregate CPU usage of live encoder processes")
	fmt.Fprintln(w, "# TYPE relay_encoder_cpu_percent gauge")
	fmt.Fprintf(w, "relay_encoder_cpu_percent %f\n", r.encoderCPU)

	fmt.Fprintln(w, "# HELP relay_encoder_rss_bytes Aggregate resident memory of live encoder processes")
	fmt.Fprintln(w, "# TYPE relay_encoder_rss_bytes gauge")
	fmt.Fprintf(w, "relay_encoder_rss_bytes %d\n", r.encoderRSS)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedSessionEvents() []string {
	events := make([]string, 0, len(r.sessionEvents))
	for event := range r.sessionEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedQueueEvents() []string {
	events := make([]string, 0, len(r.queueEvents))
	for event := range r.queueEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedNotifyEvents() []string {
	seen := make(map[string]struct{}, len(r.notifyAttempts)+len(r.notifyFailures))
	for event := range r.notifyAttempts {
		seen[event] = struct{}{}
	}
	for event := range r.notifyFailures {
		seen[event] = struct{}{}
	}
	events := make([]string, 0, len(seen))
	for event := range seen {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// SessionStarted increments counters on the default recorder.
func SessionStarted() {
	defaultRecorder.SessionStarted()
}

// SessionEnded records a terminal session outcome on the default recorder.
func SessionEnded(outcome string) {
	defaultRecorder.SessionEnded(outcome)
}

// AddBytesIngested accumulates ingested bytes on the default recorder.
func AddBytesIngested(n int64) {
	defaultRecorder.AddBytesIngested(n)
}

// EncoderWriteFailure records a pipe-write failure on the default recorder.
func EncoderWriteFailure() {
	defaultRecorder.EncoderWriteFailure()
}

// ObserveQueueEvent records a queue event on the default recorder.
func ObserveQueueEvent(event string) {
	defaultRecorder.ObserveQueueEvent(event)
}

// ObserveNotifyAttempt records a webhook attempt on the default recorder.
func ObserveNotifyAttempt(event string) {
	defaultRecorder.ObserveNotifyAttempt(event)
}

// ObserveNotifyFailure records a webhook failure on the default recorder.
func ObserveNotifyFailure(event string) {
	defaultRecorder.ObserveNotifyFailure(event)
}

// SetEncoderUsage stores an encoder usage sample on the default recorder.
func SetEncoderUsage(cpuPercent float64, rssBytes uint64) {
	defaultRecorder.SetEncoderUsage(cpuPercent, rssBytes)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
