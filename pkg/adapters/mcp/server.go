// Package mcp exposes the conversation engine as an MCP server, so agent
// hosts can drive a dialog through tool calls. Every tool is
// fire-and-forget on the engine side; the response body is the batch of
// envelopes buffered since the previous call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/session"
)

// Server wraps a session manager and exposes it as an MCP server.
type Server struct {
	sessions  *session.Manager
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance.
func NewServer(sessions *session.Manager, version string) *Server {
	s := &Server{
		sessions:  sessions,
		mcpServer: server.NewMCPServer("colloquy-mcp", version),
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	startTool := mcp.NewTool("start_conversation",
		mcp.WithDescription("Start (or resume) a conversation session and return its buffered events."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Identifier of the session")),
	)
	s.mcpServer.AddTool(startTool, s.handleStart)

	messageTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a text message into the conversation and return the resulting events."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Identifier of the session")),
		mcp.WithString("text", mcp.Required(), mcp.Description("The message text")),
	)
	s.mcpServer.AddTool(messageTool, s.handleMessage)

	inputTool := mcp.NewTool("submit_input",
		mcp.WithDescription("Submit external input (e.g. a card form) as a JSON object and return the resulting events."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Identifier of the session")),
		mcp.WithString("data", mcp.Required(), mcp.Description("JSON object of submitted fields")),
	)
	s.mcpServer.AddTool(inputTool, s.handleInput)

	resetTool := mcp.NewTool("reset_conversation",
		mcp.WithDescription("Reset the conversation to its pristine state."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Identifier of the session")),
	)
	s.mcpServer.AddTool(resetTool, s.handleReset)
}

func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.sessions.Start(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.drain(id)
}

func (s *Server) handleMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sessions.ProcessMessage(ctx, id, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.drain(id)
}

func (s *Server) handleInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("data is not a JSON object: %v", err)), nil
	}
	if err := s.sessions.SubmitInput(ctx, id, data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.drain(id)
}

func (s *Server) handleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sessions.Reset(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.drain(id)
}

// drain serializes the session's buffered envelopes as the tool result.
func (s *Server) drain(sessionID string) (*mcp.CallToolResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	drained := sess.Events.Drain()
	if drained == nil {
		drained = []events.Envelope{}
	}
	out, err := json.Marshal(map[string]any{"events": drained})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
