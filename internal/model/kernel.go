package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RiskLevel classifies how dangerous a tool is to execute.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ToolSpec describes one callable action exposed to the planner.
// Specs are defined once at process start and never mutated.
type ToolSpec struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	RequiredArgs []string  `json:"required_args"`
	Risk         RiskLevel `json:"risk"`
}

// ToolCall is a planned invocation of a tool. Arguments are validated
// against the ToolSpec before execution.
type ToolCall struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

// Arg returns the named argument or "".
func (c ToolCall) Arg(name string) string {
	if c.Arguments == nil {
		return ""
	}
	return c.Arguments[name]
}

// PlannedCalls is the planner's output. ClarifyQuestion and a non-empty
// Calls slice are mutually exclusive.
type PlannedCalls struct {
	Calls           []ToolCall `json:"calls"`
	PlannerSource   string     `json:"planner_source"` // "llm:<model>" or "rule"
	PlannerNote     string     `json:"planner_note,omitempty"`
	ToolPlan        []string   `json:"tool_plan"`
	ClarifyQuestion string     `json:"clarify_question,omitempty"`
}

// PendingConfirmation is a high-risk plan parked behind a single-use token.
// Persisted keyed by token; durable across process restarts.
type PendingConfirmation struct {
	Token     string     `json:"token"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Source    string     `json:"source"`
	Request   string     `json:"request"`
	ToolPlan  []string   `json:"tool_plan"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// ContextItem is a scored memory record, rebuilt per request and never
// persisted.
type ContextItem struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	Snippet   string    `json:"snippet"`
	UpdatedAt time.Time `json:"updated_at"`
	Score     int       `json:"score"`
}

// MergeStrategy controls how a new memory entry relates to conflicting
// prior memory.
type MergeStrategy string

const (
	MergeOverwrite MergeStrategy = "overwrite"
	MergeKeep      MergeStrategy = "keep"
	MergeVersioned MergeStrategy = "versioned"
)

// MemoryConflict describes the strongest detected conflict between the
// current outcome and a prior memory entry.
type MemoryConflict struct {
	RecordID   uuid.UUID `json:"record_id"`
	Filename   string    `json:"filename"`
	RequestSim float64   `json:"request_sim"`
	ReplySim   float64   `json:"reply_sim"`
	Score      float64   `json:"score"`
}

// KernelResult is the immutable outcome of one kernel cycle.
// JSON field names and Unix-second timestamps are part of the CLI contract.
type KernelResult struct {
	RequestID            uuid.UUID  `json:"request_id"`
	Source               string     `json:"source"`
	Request              string     `json:"request"`
	Intent               string     `json:"intent"`
	PlannerSource        string     `json:"planner_source"`
	PlannerNote          string     `json:"planner_note,omitempty"`
	ToolPlan             []string   `json:"tool_plan"`
	ConfirmationRequired bool       `json:"confirmation_required"`
	ConfirmationToken    string     `json:"confirmation_token,omitempty"`
	ConfirmationExpires  *time.Time `json:"-"`
	Reply                string     `json:"reply"`
	Actions              []string   `json:"actions"`
	RelatedRecordIDs     []string   `json:"related_record_ids"`
	CoreContextRecordIDs []string   `json:"core_context_record_ids"`
	CoreMemoryRecordID   string     `json:"core_memory_record_id,omitempty"`
	AuditRecordID        string     `json:"audit_record_id,omitempty"`
	MergeStrategy        string     `json:"merge_strategy,omitempty"`
	StartedAt            time.Time  `json:"-"`
	FinishedAt           time.Time  `json:"-"`
	Succeeded            bool       `json:"succeeded"`
}

// MarshalJSON renders timestamps as Unix seconds per the CLI contract.
func (r KernelResult) MarshalJSON() ([]byte, error) {
	type alias KernelResult
	out := struct {
		alias
		ConfirmationExpiresAt *int64 `json:"confirmation_expires_at,omitempty"`
		StartedAt             int64  `json:"started_at"`
		FinishedAt            int64  `json:"finished_at"`
	}{
		alias:      alias(r),
		StartedAt:  r.StartedAt.Unix(),
		FinishedAt: r.FinishedAt.Unix(),
	}
	if r.ConfirmationExpires != nil {
		exp := r.ConfirmationExpires.Unix()
		out.ConfirmationExpiresAt = &exp
	}
	return json.Marshal(out)
}
