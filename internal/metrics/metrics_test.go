package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}
}

func TestNilMetrics_methodsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Millisecond)
	m.ObserveProbe("ping", true, time.Millisecond)
	m.IncProbeSkipped("in_flight")
	m.IncStatusTransition("offline")
	m.SetPollTasks(3)
	m.IncFramesRendered()
	m.AddStreamClients(1)
	m.AddEventsPruned(4)
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.ObserveProbe("ping", true, 15*time.Millisecond)
	m.ObserveProbe("port", false, time.Second)
	m.IncProbeSkipped("in_flight")
	m.IncStatusTransition("critical")
	m.SetPollTasks(10)
	m.IncFramesRendered()
	m.AddEventsPruned(7)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	want := []string{
		"ampnm_http_requests_total{method=\"GET\",path=\"/readyz\",status=\"200\"} 1",
		"ampnm_probes_total{method=\"ping\",result=\"success\"} 1",
		"ampnm_probes_total{method=\"port\",result=\"failure\"} 1",
		"ampnm_probe_duration_seconds_count{method=\"ping\"} 1",
		"ampnm_probes_skipped_total{reason=\"in_flight\"} 1",
		"ampnm_status_transitions_total{status=\"critical\"} 1",
		"ampnm_poll_tasks 10",
		"ampnm_frames_rendered_total 1",
		"ampnm_status_events_pruned_total 7",
	}
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Fatalf("expected %q in metrics output; body=%s", w, body)
		}
	}
}
