package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

var testNow = time.Date(2026, 2, 6, 14, 30, 0, 0, time.UTC)

type stubSource struct {
	snap *model.Snapshot
}

func (s stubSource) Latest() *model.Snapshot { return s.snap }

func testServer() *Server {
	snap := &model.Snapshot{
		Timestamp: model.Timestamp(testNow),
		Sessions: []model.Session{
			{ID: "claude-1", PID: 1, Group: "api", State: model.StateActive},
			{ID: "claude-2", PID: 2, Group: "api", State: model.StateAwaiting},
			{ID: "claude-3", PID: 3, Group: "web", State: model.StateAwaiting},
		},
		Groups: []model.Group{
			{ID: "api", CWD: "/home/dev/api", SessionCount: 2, SessionIDs: []string{"claude-1", "claude-2"}},
			{ID: "web", CWD: "/home/dev/web", SessionCount: 1, SessionIDs: []string{"claude-3"}},
		},
		Metrics: model.Metrics{
			AwaitingAgentMinutes: 4.2,
			BlockedCount:         0,
			LongestWait:          &model.LongestWait{SessionID: "claude-2", Name: "Grace", Group: "api", Seconds: 95},
		},
	}
	return NewServer(stubSource{snap: snap}, "test")
}

func requestWith(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	if args != nil {
		req.Params.Arguments = args
	}
	return req
}

func decodeText(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error result: %+v", result.Content)
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &payload); err != nil {
		t.Fatalf("tool output is not JSON: %v\n%s", err, tc.Text)
	}
	return payload
}

// --- tool handlers ---

func TestGetSessions_All(t *testing.T) {
	result, err := testServer().handleGetSessions(context.Background(), requestWith(nil))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeText(t, result)
	if payload["count"] != float64(3) {
		t.Fatalf("count = %v, want 3", payload["count"])
	}
	if payload["timestamp"] != "2026-02-06T14:30:00Z" {
		t.Errorf("timestamp = %v", payload["timestamp"])
	}
}

func TestGetSessions_FilterByGroup(t *testing.T) {
	result, err := testServer().handleGetSessions(context.Background(),
		requestWith(map[string]interface{}{"group": "api"}))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeText(t, result)
	if payload["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", payload["count"])
	}
}

func TestGetSessions_FilterByState(t *testing.T) {
	result, err := testServer().handleGetSessions(context.Background(),
		requestWith(map[string]interface{}{"state": "awaiting", "group": "web"}))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeText(t, result)
	if payload["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", payload["count"])
	}
	sessions := payload["sessions"].([]interface{})
	first := sessions[0].(map[string]interface{})
	if first["id"] != "claude-3" {
		t.Errorf("session = %v", first["id"])
	}
}

func TestGetGroups(t *testing.T) {
	result, err := testServer().handleGetGroups(context.Background(), requestWith(nil))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeText(t, result)
	if payload["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", payload["count"])
	}
	groups := payload["groups"].([]interface{})
	first := groups[0].(map[string]interface{})
	if first["id"] != "api" || first["session_count"] != float64(2) {
		t.Errorf("first group = %v", first)
	}
}

func TestGetMetrics(t *testing.T) {
	result, err := testServer().handleGetMetrics(context.Background(), requestWith(nil))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeText(t, result)
	metrics := payload["metrics"].(map[string]interface{})
	if metrics["awaitingAgentMinutes"] != float64(4.2) {
		t.Errorf("awaitingAgentMinutes = %v", metrics["awaitingAgentMinutes"])
	}
	lw := metrics["longestWait"].(map[string]interface{})
	if lw["sessionId"] != "claude-2" {
		t.Errorf("longestWait = %v", lw)
	}
}

func TestGetLongestWait_Waiting(t *testing.T) {
	result, err := testServer().handleGetLongestWait(context.Background(), requestWith(nil))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeText(t, result)
	if payload["waiting"] != true {
		t.Fatalf("waiting = %v", payload["waiting"])
	}
	if payload["name"] != "Grace" || payload["seconds"] != float64(95) {
		t.Errorf("payload = %v", payload)
	}
}

func TestGetLongestWait_NothingWaiting(t *testing.T) {
	srv := NewServer(stubSource{snap: model.EmptySnapshot(testNow)}, "test")
	result, err := srv.handleGetLongestWait(context.Background(), requestWith(nil))
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeText(t, result)
	if payload["waiting"] != false {
		t.Fatalf("waiting = %v, want false", payload["waiting"])
	}
	if payload["message"] == "" {
		t.Error("message missing")
	}
}

// --- getArgs / stringArg helpers ---

func TestGetArgs_NilArguments(t *testing.T) {
	args := getArgs(mcp.CallToolRequest{})
	if args == nil {
		t.Fatal("getArgs returned nil, expected empty map")
	}
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestGetArgs_WrongType(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = "not a map"
	args := getArgs(req)
	if len(args) != 0 {
		t.Fatalf("expected empty map for wrong type, got %v", args)
	}
}

func TestStringArg(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"present", map[string]interface{}{"k": "v"}, "v"},
		{"missing", map[string]interface{}{}, "default"},
		{"nil value", map[string]interface{}{"k": nil}, "default"},
		{"empty string", map[string]interface{}{"k": ""}, "default"},
		{"wrong type", map[string]interface{}{"k": 42}, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stringArg(tt.args, "k", "default"); got != tt.want {
				t.Errorf("stringArg = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- result constructors ---

func TestNewTextResult(t *testing.T) {
	result := newTextResult("hello world")
	if result.IsError {
		t.Fatal("newTextResult should not set IsError")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if tc.Text != "hello world" {
		t.Fatalf("expected 'hello world', got %q", tc.Text)
	}
}

func TestErrResult(t *testing.T) {
	result := errResult("something failed")
	if !result.IsError {
		t.Fatal("errResult should set IsError=true")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if tc.Text != "something failed" {
		t.Fatalf("expected 'something failed', got %q", tc.Text)
	}
}
