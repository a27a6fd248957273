package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// Server is the relay HTTP surface. When a token is configured every route
// requires it as a bearer credential.
type Server struct {
	store  *SnapshotStore
	port   int
	token  string
	clock  clock.Clock
	log    *logrus.Entry
	server *http.Server
}

// NewServer builds the relay server. A nil clock means the real one.
func NewServer(store *SnapshotStore, port int, token string, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	return &Server{
		store: store,
		port:  port,
		token: token,
		clock: clk,
		log:   logging.NewLogger("relay"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/publish", s.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/api/combined", s.handleCombined).Methods(http.MethodGet)
	r.HandleFunc("/api/users", s.handleUsers).Methods(http.MethodGet)
	r.Use(s.authenticate)
	return r
}

// Start binds the port and serves in the background. A failed bind is
// returned to the caller; it is fatal at startup.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding relay port %d: %w", s.port, err)
	}
	s.log.WithField("port", s.port).Info("Relay listening")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Relay server stopped: %v", err)
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

// authenticate enforces the bearer token when one is configured. A missing
// or malformed Authorization header is 401; a well-formed wrong token is
// 403.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		presented := strings.TrimPrefix(header, prefix)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// publishRequest is the body a remote observer posts.
type publishRequest struct {
	User     string          `json:"user"`
	Color    string          `json:"color"`
	Snapshot *model.Snapshot `json:"snapshot"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.User == "" || req.Snapshot == nil {
		writeError(w, http.StatusBadRequest, "user and snapshot are required")
		return
	}
	color := req.Color
	if color == "" {
		color = DefaultColor
	}
	s.store.Publish(req.User, color, req.Snapshot)
	s.log.WithFields(logrus.Fields{
		"user":     req.User,
		"sessions": len(req.Snapshot.Sessions),
	}).Debug("Snapshot published")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCombined(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Merge(s.store.Entries(), s.clock.Now()))
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": s.store.Users()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
