package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/multisig-custody/backend/internal/events"
	"go.uber.org/zap"
)

func TestForwarderPost(t *testing.T) {
	type received struct {
		tenant string
		event  events.Event
	}
	ch := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec received
		rec.tenant = r.Header.Get("X-Tenant-ID")
		_ = json.NewDecoder(r.Body).Decode(&rec.event)
		ch <- rec
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := newForwarder(srv.URL, time.Second, zap.NewNop())
	event := events.Event{
		Type:     events.EventApprovalCompleted,
		TenantID: "acme",
		Payload:  map[string]any{"request_id": "r1", "status": "completed"},
	}
	if err := f.post(context.Background(), event); err != nil {
		t.Fatalf("post: %v", err)
	}
	rec := <-ch
	if rec.tenant != "acme" {
		t.Errorf("X-Tenant-ID = %q", rec.tenant)
	}
	if got := rec.event; got.Type != events.EventApprovalCompleted || got.Payload["status"] != "completed" {
		t.Errorf("received %+v", rec.event)
	}
}

func TestForwarderPost_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newForwarder(srv.URL, time.Second, zap.NewNop())
	if err := f.post(context.Background(), events.Event{Type: "x"}); err == nil {
		t.Fatal("expected error for 503")
	}
}
