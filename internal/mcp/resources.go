package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kioku/internal/model"
)

const recentLimit = 20

func (s *Server) registerResources() {
	// kioku://memory/recent serves the most recent long-term memory records.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kioku://memory/recent",
			"Recent Memory",
			mcplib.WithResourceDescription("Most recently updated long-term memory records"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMemoryRecent,
	)

	// kioku://audit/recent serves recent audit-trail entries.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kioku://audit/recent",
			"Recent Audit Trail",
			mcplib.WithResourceDescription("Most recent audit trail records"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAuditRecent,
	)

	// kioku://skills serves the skill catalog.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kioku://skills",
			"Skill Catalog",
			mcplib.WithResourceDescription("All defined skills with their descriptions"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSkills,
	)
}

func (s *Server) handleMemoryRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return s.taggedRecords(ctx, request.Params.URI, model.TagCore)
}

func (s *Server) handleAuditRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return s.taggedRecords(ctx, request.Params.URI, model.TagAuditLog)
}

func (s *Server) taggedRecords(ctx context.Context, uri, tag string) ([]mcplib.ResourceContents, error) {
	records, err := s.store.ContextRecords(ctx, tag, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: load %s records: %w", tag, err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode records: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSkills(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	skills, err := s.store.ListSkills(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list skills: %w", err)
	}
	data, err := json.MarshalIndent(skills, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode skills: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
