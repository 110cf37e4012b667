package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testHandler(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transfer", requireMethod(http.MethodPost, s.handleStart("transfer", s.transfer)))
	mux.HandleFunc("/api/refresh", requireMethod(http.MethodPost, s.handleStart("refresh", s.refresh)))
	mux.HandleFunc("/api/status", requireMethod(http.MethodGet, s.handleStatus))
	return mux
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	return body
}

func TestStartAcceptsAndRunsOnce(t *testing.T) {
	done := make(chan struct{})
	server := NewServer("127.0.0.1:0", func(ctx context.Context) error {
		close(done)
		return nil
	}, nil, nil, nil)
	handler := testHandler(server)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfer", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "started" || body["kind"] != "transfer" {
		t.Fatalf("Unexpected body: %v", body)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never executed")
	}
}

func TestStartConflictsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	server := NewServer("127.0.0.1:0", func(ctx context.Context) error {
		<-release
		return nil
	}, nil, nil, nil)
	handler := testHandler(server)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfer", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfer", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409 while running, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if !strings.Contains(fmt.Sprint(body["error"]), "already in progress") {
		t.Fatalf("Unexpected conflict body: %v", body)
	}

	close(release)
	waitForIdle(t, server)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfer", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected a new run after the first finished, got %d", rec.Code)
	}
}

func TestStatusReportsLastRunAndEvents(t *testing.T) {
	events := NewEventLog(10)
	server := NewServer("127.0.0.1:0", func(ctx context.Context) error {
		_ = events.Write(map[string]string{"type": "run.started"})
		return fmt.Errorf("push rejected")
	}, nil, events, nil)
	handler := testHandler(server)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfer", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	waitForIdle(t, server)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["running"] != false {
		t.Fatalf("Expected running=false, got %v", body["running"])
	}
	last, ok := body["last_run"].(map[string]any)
	if !ok {
		t.Fatalf("Missing last_run in %v", body)
	}
	if last["kind"] != "transfer" || last["error"] != "push rejected" {
		t.Fatalf("Unexpected last_run: %v", last)
	}
	if last["started_at"] == nil || last["finished_at"] == nil {
		t.Fatalf("Expected timestamps, got %v", last)
	}
	eventList, ok := body["events"].([]any)
	if !ok || len(eventList) != 1 {
		t.Fatalf("Expected one retained event, got %v", body["events"])
	}
}

func TestStartWithoutHandlerIsNotImplemented(t *testing.T) {
	server := NewServer("127.0.0.1:0", func(ctx context.Context) error { return nil }, nil, nil, nil)
	handler := testHandler(server)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("Expected 501 for a missing refresh handler, got %d", rec.Code)
	}
}

func TestStartResetsTheEventLog(t *testing.T) {
	events := NewEventLog(10)
	_ = events.Write(map[string]string{"type": "stale"})
	server := NewServer("127.0.0.1:0", func(ctx context.Context) error { return nil }, nil, events, nil)
	handler := testHandler(server)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfer", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	waitForIdle(t, server)

	if len(events.Snapshot()) != 0 {
		t.Fatalf("Expected the log cleared for the new run, got %v", events.Snapshot())
	}
}

// waitForIdle polls until the server's current run has finished.
func waitForIdle(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Run never finished")
}
