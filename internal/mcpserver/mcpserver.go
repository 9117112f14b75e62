// Package mcpserver exposes the read tools of one tenant over the Model
// Context Protocol. Write tools are never registered: anything that mutates
// state has to go through the approval flow.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/grcpilot/internal/tools"
)

// ReadExecutor runs read tools against a tenant.
type ReadExecutor interface {
	Execute(ctx context.Context, tenantID *uuid.UUID, in tools.Input) (any, error)
}

// Server serves the read tools for a fixed tenant.
type Server struct {
	mcp      *server.MCPServer
	exec     ReadExecutor
	tenantID *uuid.UUID
	names    []string
	logger   *slog.Logger
}

// New creates a server. tenantID may be nil, in which case tools answer with
// sample data.
func New(exec ReadExecutor, tenantID *uuid.UUID, version string, logger *slog.Logger) (*Server, error) {
	s := &Server{
		mcp:      server.NewMCPServer("grcpilot", version, server.WithToolCapabilities(false), server.WithRecovery()),
		exec:     exec,
		tenantID: tenantID,
		logger:   logger,
	}
	for _, def := range tools.All() {
		if def.Class != tools.ClassRead {
			continue
		}
		schema, err := json.Marshal(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("encoding schema for %s: %w", def.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, schema), s.handle)
		s.names = append(s.names, def.Name)
	}
	return s, nil
}

// ToolNames returns the registered tool names in catalog order.
func (s *Server) ToolNames() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves requests from in and writes responses to out until ctx is
// cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	tenant := "none"
	if s.tenantID != nil {
		tenant = s.tenantID.String()
	}
	s.logger.InfoContext(ctx, "mcp server listening on stdio",
		slog.String("tenant_id", tenant),
		slog.Int("tools", len(s.names)),
	)
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.Params.Name
	if class, ok := tools.Classify(name); !ok || class != tools.ClassRead {
		return mcp.NewToolResultError(fmt.Sprintf("tool %q is not available", name)), nil
	}

	in, err := tools.DecodeMap(name, req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.exec.Execute(ctx, s.tenantID, in)
	if err != nil {
		s.logger.WarnContext(ctx, "mcp tool failed",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", name, err)
	}
	return mcp.NewToolResultText(tools.TruncateOutput(string(raw), tools.MaxOutputBytes)), nil
}
