// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes coherence monitor tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/coherence/internal/ingest"
	"github.com/starford/coherence/internal/monitor"
)

const recordFormatURI = "coherence://record-format"

// Server wraps the MCP server with coherence tools.
type Server struct {
	mcp *server.MCPServer
	svc *monitor.Service
}

// New creates a new MCP server with all coherence tools registered.
func New(svc *monitor.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Coherence",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_signals",
		mcp.WithDescription("List computed coherence signals, oldest first. Each signal carries the "+
			"minimum cut value of one temporal window and its change from the previous window."),
		mcp.WithNumber("limit", mcp.Description("Return only the most recent N signals (0 for all)")),
	), s.getSignals)

	s.mcp.AddTool(mcp.NewTool("latest_signal",
		mcp.WithDescription("Return the most recent coherence signal."),
	), s.latestSignal)

	s.mcp.AddTool(mcp.NewTool("detect_events",
		mcp.WithDescription("Detect coherence events (strengthened, weakened, split, merged, "+
			"threshold_crossed, anomaly) across the signal history."),
		mcp.WithNumber("threshold", mcp.Description("Minimum |delta| for strengthened/weakened events; defaults to the configured value")),
	), s.detectEvents)

	s.mcp.AddTool(mcp.NewTool("list_boundaries",
		mcp.WithDescription("List the tracked coherence boundaries with their cut value history."),
	), s.listBoundaries)

	s.mcp.AddTool(mcp.NewTool("ingest_records",
		mcp.WithDescription("Ingest timestamped records. Records MUST follow the record format "+
			"contract; read it first via get_record_contract or the "+recordFormatURI+" resource."),
		mcp.WithString("records", mcp.Required(), mcp.Description("A JSON array of records, or one JSON record per line")),
	), s.ingestRecords)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the record format contract. "+
			"Call this before ingesting records to ensure correct structure."),
	), s.getRecordContract)

	s.mcp.AddResource(
		mcp.NewResource(recordFormatURI, "Record Format Contract",
			mcp.WithResourceDescription("Format of the timestamped relational records the monitor ingests."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getSignals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	signals := s.svc.Signals()
	if limit := int(req.GetFloat("limit", 0)); limit > 0 && limit < len(signals) {
		signals = signals[len(signals)-limit:]
	}
	return jsonResult(signals)
}

func (s *Server) latestSignal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sig, err := s.svc.Latest()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sig)
}

func (s *Server) detectEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threshold := req.GetFloat("threshold", s.svc.Config().Detection.DefaultThreshold)
	if threshold < 0 {
		return mcp.NewToolResultError("threshold must be non-negative"), nil
	}
	return jsonResult(s.svc.Events(threshold))
}

func (s *Server) listBoundaries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Boundaries())
}

func (s *Server) ingestRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("records")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	records, err := ingest.Parse(ingest.FormatJSONL, []byte(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultError("no records found"), nil
	}
	res, err := s.svc.Ingest(ctx, records)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) getRecordContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readRecordFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      recordFormatURI,
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
