package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// handleGetSessions returns the live session list, optionally filtered by
// group or state.
func (s *Server) handleGetSessions(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.source.Latest()
	args := getArgs(request)
	group := stringArg(args, "group", "")
	state := stringArg(args, "state", "")

	sessions := make([]model.Session, 0, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		if group != "" && sess.Group != group {
			continue
		}
		if state != "" && string(sess.State) != state {
			continue
		}
		sessions = append(sessions, sess)
	}

	payload := map[string]interface{}{
		"timestamp": snap.Timestamp,
		"count":     len(sessions),
		"sessions":  sessions,
	}
	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// handleGetGroups returns the per-group rollup from the latest snapshot.
func (s *Server) handleGetGroups(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.source.Latest()

	payload := map[string]interface{}{
		"timestamp": snap.Timestamp,
		"count":     len(snap.Groups),
		"groups":    snap.Groups,
	}
	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// handleGetMetrics returns the idle-economics summary.
func (s *Server) handleGetMetrics(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.source.Latest()

	payload := map[string]interface{}{
		"timestamp": snap.Timestamp,
		"metrics":   snap.Metrics,
	}
	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// handleGetLongestWait spotlights the session most starved of attention.
func (s *Server) handleGetLongestWait(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.source.Latest()

	var payload map[string]interface{}
	if lw := snap.Metrics.LongestWait; lw != nil {
		payload = map[string]interface{}{
			"waiting":   true,
			"sessionId": lw.SessionID,
			"name":      lw.Name,
			"group":     lw.Group,
			"seconds":   lw.Seconds,
			"message":   fmt.Sprintf("%s has been waiting %ds in %s.", lw.Name, lw.Seconds, lw.Group),
		}
	} else {
		payload = map[string]interface{}{
			"waiting": false,
			"message": "No session is currently waiting for input.",
		}
	}

	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// getArgs safely extracts the arguments map from a CallToolRequest.
// Returns an empty map if Arguments is nil or not a map.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true).
// This is returned as a tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
