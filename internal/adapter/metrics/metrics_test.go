package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIngestMetrics_Independent(t *testing.T) {
	// Each instance owns its registry, so creating two must not panic on
	// duplicate registration.
	a := NewIngestMetrics()
	b := NewIngestMetrics()

	a.EventsTotal.WithLabelValues("ingested").Add(3)

	if got := testutil.ToFloat64(a.EventsTotal.WithLabelValues("ingested")); got != 3 {
		t.Errorf("expected 3 ingested events, got %v", got)
	}
	if got := testutil.ToFloat64(b.EventsTotal.WithLabelValues("ingested")); got != 0 {
		t.Errorf("expected second instance to be untouched, got %v", got)
	}
}

func TestIngestMetrics_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewIngestMetrics()
	m.RunNumber.Set(7)

	if err := m.Push(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected push to succeed, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Errorf("expected PUT, got %s", method)
	}
	if !strings.Contains(path, "/metrics/job/auditd_ingest") {
		t.Errorf("unexpected push path %q", path)
	}
	if body == "" {
		t.Error("expected a metrics payload")
	}
}

func TestIngestMetrics_PushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewIngestMetrics().Push(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error from a failing gateway")
	}
}
