package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	// kioku_ask runs one full kernel cycle.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_ask",
			mcplib.WithDescription(`Send a natural-language request to the assistant kernel.

The kernel loads relevant memory, plans tool calls, executes them, and
persists memory and an audit entry. Requests may be English or Chinese.

High-risk operations (deleting or wholly replacing a record) are NOT
executed immediately: the result carries confirmation_required=true and a
single-use token. Redeem it with kioku_confirm within its lifetime.

In-band directives: "#MERGE:overwrite|keep|versioned" controls how a
conflicting memory is merged.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("request",
				mcplib.Description("The free-text request, e.g. \"搜索 京都\" or \"note down the meeting time\""),
				mcplib.Required(),
			),
		),
		s.handleAsk,
	)

	// kioku_confirm redeems a confirmation token.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_confirm",
			mcplib.WithDescription(`Redeem a confirmation token issued by kioku_ask for a high-risk plan.

Tokens are single use, expire after a few minutes, and are only valid from
the surface that issued them. A successful call executes the parked plan.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("token",
				mcplib.Description("The confirmation token from a previous kioku_ask result"),
				mcplib.Required(),
			),
		),
		s.handleConfirm,
	)

	// kioku_search is a direct record search, no kernel cycle.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_search",
			mcplib.WithDescription(`Full-text search over stored records. Read-only and unaudited;
use kioku_ask when the interaction should appear in memory and the audit trail.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Search terms; Latin text matches words, CJK text matches substrings"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(8),
			),
		),
		s.handleSearch,
	)
}

func (s *Server) handleAsk(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("request", "")
	if text == "" {
		return errorResult("request is required"), nil
	}

	result, err := s.kernel.Ask(ctx, text, Source)
	if err != nil {
		s.logger.Error("mcp ask failed", "error", err)
		return errorResult(fmt.Sprintf("ask failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleConfirm(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	token := request.GetString("token", "")
	if token == "" {
		return errorResult("token is required"), nil
	}

	result, err := s.kernel.Confirm(ctx, token, Source)
	if err != nil {
		s.logger.Error("mcp confirm failed", "error", err)
		return errorResult(fmt.Sprintf("confirm failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	limit := request.GetInt("limit", 8)

	hits, err := s.store.SearchRecords(ctx, query, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"hits":  hits,
		"total": len(hits),
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
