package kioku

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Result is the public outcome of one kernel cycle.
// It is a curated view of the internal result for use by embedding consumers.
// No internal package imports, so it is safe to use from outside the module.
// JSON field names and Unix-second timestamps are part of the CLI contract.
type Result struct {
	RequestID     uuid.UUID `json:"request_id"`
	Source        string    `json:"source"`
	Request       string    `json:"request"`
	Intent        string    `json:"intent"`
	PlannerSource string    `json:"planner_source"`
	PlannerNote   string    `json:"planner_note,omitempty"`
	ToolPlan      []string  `json:"tool_plan"`

	// Confirmation fields are set when a high-risk plan was parked behind a
	// single-use token instead of being executed.
	ConfirmationRequired bool       `json:"confirmation_required"`
	ConfirmationToken    string     `json:"confirmation_token,omitempty"`
	ConfirmationExpires  *time.Time `json:"-"`

	Reply            string   `json:"reply"`
	Actions          []string `json:"actions"`
	RelatedRecordIDs []string `json:"related_record_ids"`
	ContextRecordIDs []string `json:"core_context_record_ids"`

	// MemoryRecordID and AuditRecordID name the day files this cycle wrote to.
	// MemoryRecordID is empty when the memory gate skipped the write.
	MemoryRecordID string `json:"core_memory_record_id,omitempty"`
	AuditRecordID  string `json:"audit_record_id,omitempty"`
	MergeStrategy  string `json:"merge_strategy,omitempty"`

	StartedAt  time.Time `json:"-"`
	FinishedAt time.Time `json:"-"`
	Succeeded  bool      `json:"succeeded"`
}

// MarshalJSON renders timestamps as Unix seconds per the CLI contract.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
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

// SearchHit is one record match from App.Search.
type SearchHit struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
}
