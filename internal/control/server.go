// Package control serves the HTTP control panel: a small API to start
// transfer and sync-check runs and observe their progress.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	shutdownGrace  = 5 * time.Second
	eventRetention = 500
)

// RunFunc executes one run, streaming its progress through the sinks the
// caller wired up (see EventLog).
type RunFunc func(ctx context.Context) error

// Server exposes the control API. One run executes at a time; starting a
// second while one is active yields 409.
type Server struct {
	addr     string
	transfer RunFunc
	refresh  RunFunc
	events   *EventLog
	logger   *zap.Logger

	mu      sync.Mutex
	baseCtx context.Context
	running bool
	last    runRecord
}

type runRecord struct {
	Kind       string     `json:"kind,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func NewServer(addr string, transfer, refresh RunFunc, events *EventLog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = NewEventLog(eventRetention)
	}
	return &Server{
		addr:     addr,
		transfer: transfer,
		refresh:  refresh,
		events:   events,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
// Runs started through the API inherit ctx, so cancelling it stops them
// between mappings.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/transfer", requireMethod(http.MethodPost, s.handleStart("transfer", s.transfer)))
	mux.HandleFunc("/api/refresh", requireMethod(http.MethodPost, s.handleStart("refresh", s.refresh)))
	mux.HandleFunc("/api/status", requireMethod(http.MethodGet, s.handleStatus))

	server := &http.Server{Addr: s.addr, Handler: mux}

	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()

	s.logger.Info("control panel listening", zap.String("addr", s.addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errs:
		return err
	}
}

// requireMethod replicates the method dispatch of Go 1.22+ ServeMux
// patterns ("POST /path") on toolchains where ServeMux predates them.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStart(kind string, run RunFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if run == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": kind + " is not available"})
			return
		}

		s.mu.Lock()
		if s.running {
			last := s.last
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":    "a run is already in progress",
				"last_run": last,
			})
			return
		}
		started := time.Now().UTC()
		s.running = true
		s.last = runRecord{Kind: kind, StartedAt: &started}
		runCtx := s.baseCtx
		s.mu.Unlock()

		s.events.Reset()
		go s.execute(runCtx, kind, run)

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "kind": kind})
	}
}

func (s *Server) execute(ctx context.Context, kind string, run RunFunc) {
	err := run(ctx)

	finished := time.Now().UTC()
	s.mu.Lock()
	s.running = false
	s.last.FinishedAt = &finished
	if err != nil {
		s.last.Error = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("run failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	s.logger.Info("run finished", zap.String("kind", kind))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snapshot := map[string]any{
		"running":  s.running,
		"last_run": s.last,
	}
	s.mu.Unlock()
	snapshot["events"] = s.events.Snapshot()
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
