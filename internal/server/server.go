// Package server exposes the observer's local HTTP surface: the latest
// snapshot, client performance reports, and the health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/health"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// perfCapacity bounds the client performance report history.
const perfCapacity = 60

// perfMaxBody caps a single performance report.
const perfMaxBody = 1 << 20

// SnapshotSource yields the latest snapshot for /api/sessions.
type SnapshotSource interface {
	Latest() *model.Snapshot
}

// Server is the local observer API.
type Server struct {
	source SnapshotSource
	probe  *health.Probe
	port   int
	log    *logrus.Entry
	server *http.Server

	perfMu sync.Mutex
	perf   []json.RawMessage
}

// New builds the local server around a snapshot source.
func New(source SnapshotSource, probe *health.Probe, port int) *Server {
	return &Server{
		source: source,
		probe:  probe,
		port:   port,
		log:    logging.NewLogger("server"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/perf", s.handlePerfGet).Methods(http.MethodGet)
	r.HandleFunc("/api/perf", s.handlePerfPost).Methods(http.MethodPost)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Start binds the port and serves in the background. A failed bind is
// fatal at startup and returned to the caller.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding observer port %d: %w", s.port, err)
	}
	s.log.WithField("port", s.port).Info("Observer API listening")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Observer API stopped: %v", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Latest())
}

func (s *Server) handlePerfPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, perfMaxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.perfMu.Lock()
	s.perf = append(s.perf, json.RawMessage(body))
	if len(s.perf) > perfCapacity {
		s.perf = s.perf[len(s.perf)-perfCapacity:]
	}
	s.perfMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// perfView is the GET /api/perf payload: the most recent report plus the
// retained history, oldest first.
type perfView struct {
	Latest  json.RawMessage   `json:"latest"`
	History []json.RawMessage `json:"history"`
}

func (s *Server) handlePerfGet(w http.ResponseWriter, _ *http.Request) {
	s.perfMu.Lock()
	view := perfView{History: make([]json.RawMessage, len(s.perf))}
	copy(view.History, s.perf)
	s.perfMu.Unlock()

	if n := len(view.History); n > 0 {
		view.Latest = view.History[n-1]
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.probe.Check())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
