// Package model defines the entities shared by the storage layer and the
// assistant kernel: records, tags, tool calls, plans, confirmations, and
// the per-request result.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Reserved tag names with kernel-specific meaning.
const (
	// TagCore marks records that form the assistant's long-term memory.
	TagCore = "Core"
	// TagAuditLog marks the append-only audit trail records.
	TagAuditLog = "AuditLog"
)

// Record is the atomic content unit: one stored file plus metadata.
type Record struct {
	ID        uuid.UUID        `json:"id"`
	Filename  string           `json:"filename"`
	Kind      string           `json:"kind"` // text | markdown | binary
	Preview   string           `json:"preview"`
	Body      string           `json:"body,omitempty"`
	Archived  bool             `json:"archived"`
	Embedding *pgvector.Vector `json:"-"` // nil when no embedding provider is configured
	Tags      []string         `json:"tags,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Tag is a named, hierarchical label attachable to records. Hierarchy is
// expressed in the name ("Projects/Go/Kioku"); the kernel only cares about
// the reserved flat names above.
type Tag struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchHit is one full-text search result.
type SearchHit struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContextRecord is a memory record as fetched for context loading:
// metadata plus a bounded body excerpt, never the full body.
type ContextRecord struct {
	ID        uuid.UUID
	Filename  string
	Preview   string
	Snippet   string
	UpdatedAt time.Time
}
