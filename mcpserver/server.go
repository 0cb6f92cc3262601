// Package mcpserver exposes the dashboard's question answering to MCP
// clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spektr-org/insight"
	core "github.com/spektr-org/insight/insight"
	"github.com/spektr-org/insight/render"
	"github.com/spektr-org/insight/schema"
)

// SchemaURI is the resource holding the discovered dataset schema.
const SchemaURI = "insight://schema"

const (
	defaultRowLimit = 50
	imagePrefix     = "data:image/png;base64,"
)

// Asker answers one question.
type Asker interface {
	HandleQuery(ctx context.Context, req core.Request) (core.Result, error)
}

// Table is the dataset behind the tools.
type Table interface {
	Name() string
	Headers() []string
	Filter(column, substr string) ([][]string, error)
	Schema() (*schema.Config, error)
}

// Server wraps an MCPServer bound to one dataset.
type Server struct {
	asker     Asker
	table     Table
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New registers the tools and the schema resource.
func New(asker Asker, table Table, opts ...Option) (*Server, error) {
	if asker == nil || table == nil {
		return nil, fmt.Errorf("mcpserver: asker and table are required")
	}
	s := &Server{
		asker:     asker,
		table:     table,
		logger:    slog.Default(),
		mcpServer: server.NewMCPServer("insight-mcp", insight.Version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// ServeStdio serves on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("ask_dataset",
		mcp.WithDescription("Ask a natural-language question about the "+s.table.Name()+" dataset. "+
			"Questions containing \"plot\" return a chart image."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The question")),
		mcp.WithString("mode", mcp.Description("not_use_llm (default) returns the raw answer, use_llm rephrases it")),
	), s.handleAsk)

	s.mcpServer.AddTool(mcp.NewTool("filter_rows",
		mcp.WithDescription("List dataset rows whose column contains a substring, ignoring case."),
		mcp.WithString("column", mcp.Required(), mcp.Description("Column header")),
		mcp.WithString("contains", mcp.Description("Substring to look for; empty matches every row")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows returned (default 50)")),
	), s.handleFilter)
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := request.GetString("mode", core.ModeRaw)

	// Each call is a fresh one-turn transcript on the insight tab.
	res, err := s.asker.HandleQuery(ctx, core.Request{
		Tab:     core.TabInsight,
		Trigger: 1,
		Mode:    mode,
		Prompt:  prompt,
	})
	if err != nil {
		s.logger.Warn("mcp question failed", "prompt", prompt, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("question failed: %v", err)), nil
	}
	if res.Message != "" {
		return mcp.NewToolResultError(res.Message), nil
	}
	if len(res.Output) == 0 {
		return mcp.NewToolResultError("no answer"), nil
	}

	turn := res.Output[len(res.Output)-1]
	var instruction string
	if res.Instruction != nil {
		instruction = *res.Instruction
	}
	if turn.IsImage() {
		return mcp.NewToolResultImage(
			"instruction: "+instruction,
			strings.TrimPrefix(turn.Image, imagePrefix),
			"image/png",
		), nil
	}
	return mcp.NewToolResultText(turn.Answer + "\n\ninstruction: " + instruction), nil
}

func (s *Server) handleFilter(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	column, err := request.RequireString("column")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.table.Filter(column, request.GetString("contains", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	total := len(rows)
	if limit := request.GetInt("limit", defaultRowLimit); limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	var b strings.Builder
	render.WriteRows(&b, s.table.Headers(), rows)
	fmt.Fprintf(&b, "%d of %d rows\n", len(rows), total)
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(SchemaURI, "Dataset schema",
		mcp.WithResourceDescription("Dimensions and measures discovered in the loaded table"),
		mcp.WithMIMEType("application/json"),
	), s.readSchema)
}

func (s *Server) readSchema(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sch, err := s.table.Schema()
	if err != nil {
		return nil, fmt.Errorf("discover schema: %w", err)
	}
	data, err := json.Marshal(sch)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      SchemaURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
