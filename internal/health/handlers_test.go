package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestMux(r *Registry) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandlers(r).Register(mux)
	return mux
}

func TestHandlePing(t *testing.T) {
	mux := newTestMux(NewRegistry())
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ping", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHandleSummary(t *testing.T) {
	r := NewRegistry()
	r.ReportSuccess("n1", time.Now(), time.Millisecond)
	mux := newTestMux(r)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/summary", nil))
	var s Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TotalNodes != 1 || s.Healthy != 1 {
		t.Fatalf("summary = %+v, want total=1 healthy=1", s)
	}
}

func TestHandleNodeNotFound(t *testing.T) {
	mux := newTestMux(NewRegistry())
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/nodes/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleNodeFound(t *testing.T) {
	r := NewRegistry()
	r.ReportSuccess("n1", time.Now(), time.Millisecond)
	mux := newTestMux(r)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/nodes/n1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var rec Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.NodeID != "n1" || rec.Status != StatusHealthy {
		t.Fatalf("record = %+v, want n1/HEALTHY", rec)
	}
}

func TestHandleHealthyAndUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.ReportSuccess("n1", time.Now(), time.Millisecond)
	r.ReportFailure("n2", time.Now(), 1)
	mux := newTestMux(r)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/healthy", nil))
	var healthy []Record
	if err := json.Unmarshal(rr.Body.Bytes(), &healthy); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(healthy) != 1 || healthy[0].NodeID != "n1" {
		t.Fatalf("healthy = %+v, want [n1]", healthy)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/unhealthy", nil))
	var unhealthy []Record
	if err := json.Unmarshal(rr.Body.Bytes(), &unhealthy); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(unhealthy) != 1 || unhealthy[0].NodeID != "n2" {
		t.Fatalf("unhealthy = %+v, want [n2]", unhealthy)
	}
}
