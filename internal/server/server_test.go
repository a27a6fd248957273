package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/health"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

var testNow = time.Date(2026, 2, 6, 14, 30, 0, 0, time.UTC)

type stubSource struct {
	snap *model.Snapshot
}

func (s stubSource) Latest() *model.Snapshot { return s.snap }

func newTestServer(snap *model.Snapshot) *Server {
	clk := clock.NewMock()
	clk.Set(testNow)
	return New(stubSource{snap: snap}, health.NewProbe(clk), 0)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSessionsEndpoint(t *testing.T) {
	snap := &model.Snapshot{
		Timestamp: model.Timestamp(testNow),
		Sessions: []model.Session{
			{ID: "claude-42", PID: 42, CWD: "/p", State: model.StateActive, Group: "p"},
		},
		Groups: []model.Group{
			{ID: "p", CWD: "/p", SessionCount: 1, SessionIDs: []string{"claude-42"}},
		},
	}
	w := doRequest(t, newTestServer(snap).Handler(), http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var got model.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(got.Sessions) != 1 || got.Sessions[0].ID != "claude-42" {
		t.Errorf("sessions = %+v", got.Sessions)
	}
	if got.Timestamp != "2026-02-06T14:30:00Z" {
		t.Errorf("timestamp = %q", got.Timestamp)
	}
}

func TestSessionsBeforeFirstPollHasEmptyArrays(t *testing.T) {
	w := doRequest(t, newTestServer(model.EmptySnapshot(testNow)).Handler(), http.MethodGet, "/api/sessions", "")
	body := w.Body.String()
	if !strings.Contains(body, `"sessions":[]`) || !strings.Contains(body, `"groups":[]`) {
		t.Errorf("empty snapshot body = %s", body)
	}
}

func TestSessionsWrongMethod(t *testing.T) {
	w := doRequest(t, newTestServer(model.EmptySnapshot(testNow)).Handler(), http.MethodPost, "/api/sessions", "{}")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestPerfRoundTrip(t *testing.T) {
	h := newTestServer(model.EmptySnapshot(testNow)).Handler()

	w := doRequest(t, h, http.MethodGet, "/api/perf", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"latest":null`) {
		t.Errorf("empty perf body = %s", w.Body.String())
	}

	for i := 1; i <= 3; i++ {
		w = doRequest(t, h, http.MethodPost, "/api/perf", fmt.Sprintf(`{"fps":%d}`, i))
		if w.Code != http.StatusNoContent {
			t.Fatalf("post %d status = %d, want 204", i, w.Code)
		}
	}

	w = doRequest(t, h, http.MethodGet, "/api/perf", "")
	var view struct {
		Latest  map[string]int   `json:"latest"`
		History []map[string]int `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding perf view: %v", err)
	}
	if view.Latest["fps"] != 3 {
		t.Errorf("latest = %v, want fps 3", view.Latest)
	}
	if len(view.History) != 3 || view.History[0]["fps"] != 1 {
		t.Errorf("history = %v, want oldest first", view.History)
	}
}

func TestPerfRingDropsOldest(t *testing.T) {
	h := newTestServer(model.EmptySnapshot(testNow)).Handler()
	for i := 1; i <= perfCapacity+5; i++ {
		doRequest(t, h, http.MethodPost, "/api/perf", fmt.Sprintf(`{"n":%d}`, i))
	}

	w := doRequest(t, h, http.MethodGet, "/api/perf", "")
	var view struct {
		Latest  map[string]int   `json:"latest"`
		History []map[string]int `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.History) != perfCapacity {
		t.Fatalf("history = %d entries, want %d", len(view.History), perfCapacity)
	}
	if view.History[0]["n"] != 6 {
		t.Errorf("oldest retained = %v, want n=6", view.History[0])
	}
	if view.Latest["n"] != perfCapacity+5 {
		t.Errorf("latest = %v", view.Latest)
	}
}

func TestPerfRejectsInvalidJSON(t *testing.T) {
	h := newTestServer(model.EmptySnapshot(testNow)).Handler()
	w := doRequest(t, h, http.MethodPost, "/api/perf", `{"fps": `)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(model.EmptySnapshot(testNow)).Handler()
	w := doRequest(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var st health.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if st.Status != "ok" {
		t.Errorf("status = %q", st.Status)
	}
	if st.Observer.PID != os.Getpid() {
		t.Errorf("pid = %d", st.Observer.PID)
	}
}
