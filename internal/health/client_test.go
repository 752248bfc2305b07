package health

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCacheStatusUnknownBeforePoll(t *testing.T) {
	c := NewCache("http://unused.invalid", time.Minute)
	if got := c.Status("n1"); got != StatusUnknown {
		t.Fatalf("Status before Poll = %s, want UNKNOWN", got)
	}
}

func TestCachePollPopulatesStatuses(t *testing.T) {
	r := NewRegistry()
	r.ReportSuccess("n1", time.Now(), time.Millisecond)
	r.ReportFailure("n2", time.Now(), 1)
	srv := httptest.NewServer(newTestMux(r))
	defer srv.Close()

	c := NewCache(srv.URL, time.Minute)
	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := c.Status("n1"); got != StatusHealthy {
		t.Fatalf("Status(n1) = %s, want HEALTHY", got)
	}
	if got := c.Status("n2"); got != StatusUnhealthy {
		t.Fatalf("Status(n2) = %s, want UNHEALTHY", got)
	}
	if got := c.Status("n3"); got != StatusUnknown {
		t.Fatalf("Status(n3) = %s, want UNKNOWN (not in any snapshot)", got)
	}
}

func TestCacheStatusGoesStale(t *testing.T) {
	r := NewRegistry()
	r.ReportSuccess("n1", time.Now(), time.Millisecond)
	srv := httptest.NewServer(newTestMux(r))
	defer srv.Close()

	c := NewCache(srv.URL, 10*time.Millisecond)
	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := c.Status("n1"); got != StatusHealthy {
		t.Fatalf("Status(n1) immediately after poll = %s, want HEALTHY", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := c.Status("n1"); got != StatusUnknown {
		t.Fatalf("Status(n1) after staleAfter elapsed = %s, want UNKNOWN", got)
	}
}
