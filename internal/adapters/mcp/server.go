// Package mcpadapter exposes the query and rebuild operations as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
)

const (
	ToolAskQuestion  = "ask_question"
	ToolRebuildIndex = "rebuild_index"
)

type Server struct {
	answerer     ports.QueryAnswerer
	rebuilder    ports.IndexRebuilder
	version      string
	queryTimeout time.Duration
	logger       *slog.Logger
}

type Options struct {
	Version      string
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

func New(answerer ports.QueryAnswerer, rebuilder ports.IndexRebuilder, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		answerer:     answerer,
		rebuilder:    rebuilder,
		version:      opts.Version,
		queryTimeout: opts.QueryTimeout,
		logger:       opts.Logger,
	}
}

func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("hybrid-rag-agent", s.version, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool(ToolAskQuestion,
		mcp.WithDescription("Answer a question from the local document index, falling back to web search when local context is weak or the question asks for recent information."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question."),
		),
	), s.askQuestion)

	srv.AddTool(mcp.NewTool(ToolRebuildIndex,
		mcp.WithDescription("Rebuild the local document index from every stored document."),
	), s.rebuildIndex)

	return srv
}

// ServeStdio blocks until stdin is closed.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.MCPServer())
}

func (s *Server) askQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	answer, err := s.answerer.Answer(ctx, question)
	if err != nil {
		s.logger.ErrorContext(ctx, "mcp_tool_failed", "tool", ToolAskQuestion, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	return jsonResult(answer)
}

func (s *Server) rebuildIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.rebuilder.Rebuild(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "mcp_tool_failed", "tool", ToolRebuildIndex, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	return jsonResult(report)
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func toolErrorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case domain.IsKind(err, domain.ErrEmptyCorpus):
		return domain.ErrEmptyCorpus.Error()
	default:
		return err.Error()
	}
}
