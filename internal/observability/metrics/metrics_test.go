package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "id segment",
			method:   "get",
			path:     "/ws/123",
			status:   101,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "trailing slash and alpha id",
			method:   "GET",
			path:     "/ws/abc123def/",
			status:   101,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "multi ids",
			method:   "PATCH",
			path:     "api/abc/456/extra",
			status:   404,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestSessionGaugeConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	starts := 100
	stops := 150

	wg.Add(starts + stops)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.SessionStarted()
		}()
	}
	for i := 0; i < stops; i++ {
		go func() {
			defer wg.Done()
			recorder.SessionEnded("clean")
		}()
	}

	wg.Wait()

	if active := recorder.ActiveSessions(); active != 0 {
		t.Fatalf("active sessions should not go negative; got %d", active)
	}

	counts := recorder.SessionCounts()
	if counts["started"] != uint64(starts) {
		t.Fatalf("unexpected started events: got %d want %d", counts["started"], starts)
	}
	if counts["clean"] != uint64(stops) {
		t.Fatalf("unexpected clean events: got %d want %d", counts["clean"], stops)
	}
}

func TestBytesIngestedIgnoresNonPositive(t *testing.T) {
	recorder := New()
	recorder.AddBytesIngested(1000)
	recorder.AddBytesIngested(0)
	recorder.AddBytesIngested(-5)
	recorder.AddBytesIngested(2000)

	if got := recorder.BytesIngested(); got != 3000 {
		t.Fatalf("expected 3000 bytes ingested, got %d", got)
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/healthz", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/healthz", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/ws/relay", 101, time.Second)

	recorder.SessionStarted()
	recorder.SessionStarted()
	recorder.SessionEnded("clean")

	recorder.AddBytesIngested(4500)
	recorder.EncoderWriteFailure()

	recorder.ObserveQueueEvent("published")
	recorder.ObserveQueueEvent("published")
	recorder.ObserveQueueEvent("dropped")

	recorder.ObserveNotifyAttempt("session.ended")
	recorder.ObserveNotifyAttempt("session.ended")
	recorder.ObserveNotifyFailure("session.ended")
	recorder.ObserveNotifyAttempt("session.started")

	recorder.SetEncoderUsage(42.5, 1048576)

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP relay_http_requests_total Total number of HTTP requests processed by the control plane
# TYPE relay_http_requests_total counter
relay_http_requests_total{method="GET",path="/healthz",status="200"} 2
relay_http_requests_total{method="POST",path="/ws/relay",status="101"} 1
# HELP relay_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE relay_http_request_duration_seconds_sum counter
relay_http_request_duration_seconds_sum{method="GET",path="/healthz",status="200"} 0.200000
relay_http_request_duration_seconds_sum{method="POST",path="/ws/relay",status="101"} 1.000000
# HELP relay_http_request_duration_seconds_count Total number of observations for request durations
# TYPE relay_http_request_duration_seconds_count counter
relay_http_request_duration_seconds_count{method="GET",path="/healthz",status="200"} 2
relay_http_request_duration_seconds_count{method="POST",path="/ws/relay",status="101"} 1
# HELP relay_session_events_total Relay session lifecycle events by type
# TYPE relay_session_events_total counter
relay_session_events_total{event="clean"} 1
relay_session_events_total{event="started"} 2
# HELP relay_active_sessions Current number of live relay sessions
# TYPE relay_active_sessions gauge
relay_active_sessions 1
# HELP relay_bytes_ingested_total Raw bytes accepted from clients across all sessions
# TYPE relay_bytes_ingested_total counter
relay_bytes_ingested_total 4500
# HELP relay_encoder_write_failures_total Failed writes to encoder input pipes
# TYPE relay_encoder_write_failures_total counter
relay_encoder_write_failures_total 1
# HELP relay_queue_events_total Lifecycle queue events by action
# TYPE relay_queue_events_total counter
relay_queue_events_total{event="dropped"} 1
relay_queue_events_total{event="published"} 2
# HELP relay_notify_attempts_total Webhook delivery attempts by event type
# TYPE relay_notify_attempts_total counter
relay_notify_attempts_total{event="session.ended"} 2
relay_notify_attempts_total{event="session.started"} 1
# HELP relay_notify_failures_total Webhook delivery failures by event type
# TYPE relay_notify_failures_total counter
relay_notify_failures_total{event="session.ended"} 1
relay_notify_failures_total{event="session.started"} 0
# HELP relay_encoder_cpu_percent Aggregate CPU usage of live encoder processes
# TYPE relay_encoder_cpu_percent gauge
relay_encoder_cpu_percent 42.500000
# HELP relay_encoder_rss_bytes Aggregate resident memory of live encoder processes
# TYPE relay_encoder_rss_bytes gauge
relay_encoder_rss_bytes 1048576`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
