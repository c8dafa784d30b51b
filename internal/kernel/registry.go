// Package kernel implements the assistant kernel: the pipeline that turns a
// free-text request into planned, validated, audited tool calls against the
// record store.
//
// The pipeline is: context load → plan (model-assisted with a rule-based
// fallback) → confirmation gate for high-risk plans → sequential execution →
// memory/audit write. Each stage is its own type, constructed with explicit
// dependencies; there is no package-level state.
package kernel

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kioku/internal/model"
)

// Tool names. The set is closed: the executor dispatches exhaustively over it.
const (
	ToolHelp     = "assistant.help"
	ToolSummary  = "core.summarize"
	ToolAnswer   = "assistant.answer"
	ToolCatalog  = "skills.catalog"
	ToolSearch   = "record.search"
	ToolCreate   = "record.create"
	ToolTaskRun  = "task.run"
	ToolSkillRun = "skill.run"
	ToolDelete   = "record.delete"
	ToolAppend   = "record.append"
	ToolReplace  = "record.replace"
)

// Registry is the static catalog of callable tools. Built once at
// construction; immutable afterwards.
type Registry struct {
	specs map[string]model.ToolSpec
	order []string
}

// NewRegistry builds the fixed tool catalog.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]model.ToolSpec)}
	for _, spec := range []model.ToolSpec{
		{Name: ToolHelp, Description: "Explain what the assistant can do", Risk: model.RiskLow},
		{Name: ToolSummary, Description: "Summarize the loaded long-term memory", Risk: model.RiskLow},
		{Name: ToolAnswer, Description: "Answer a question grounded in memory and audit history", RequiredArgs: []string{"question"}, Risk: model.RiskLow},
		{Name: ToolCatalog, Description: "List available skills", Risk: model.RiskLow},
		{Name: ToolSearch, Description: "Full-text search over records", RequiredArgs: []string{"query"}, Risk: model.RiskLow},
		{Name: ToolCreate, Description: "Create a new text record", RequiredArgs: []string{"content"}, Risk: model.RiskMedium},
		{Name: ToolTaskRun, Description: "Run a defined task by id or name", RequiredArgs: []string{"task"}, Risk: model.RiskMedium},
		{Name: ToolSkillRun, Description: "Run a defined skill by id or name", RequiredArgs: []string{"skill"}, Risk: model.RiskMedium},
		{Name: ToolDelete, Description: "Delete a record; irreversible", RequiredArgs: []string{"record"}, Risk: model.RiskHigh},
		{Name: ToolAppend, Description: "Append content to a record", RequiredArgs: []string{"record", "content"}, Risk: model.RiskMedium},
		{Name: ToolReplace, Description: "Replace a record's content wholesale", RequiredArgs: []string{"record", "content"}, Risk: model.RiskHigh},
	} {
		r.specs[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}
	return r
}

// Lookup returns the spec for a tool name. Unknown names are a caller
// error, not a registry error.
func (r *Registry) Lookup(name string) (model.ToolSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Specs returns all specs in registration order.
func (r *Registry) Specs() []model.ToolSpec {
	out := make([]model.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Validate checks a call against its spec: the tool must exist and every
// required argument must be present and non-empty.
func (r *Registry) Validate(call model.ToolCall) error {
	spec, ok := r.specs[call.Name]
	if !ok {
		return fmt.Errorf("kernel: unknown tool %q", call.Name)
	}
	for _, arg := range spec.RequiredArgs {
		if strings.TrimSpace(call.Arg(arg)) == "" {
			return fmt.Errorf("kernel: tool %s missing required argument %q", call.Name, arg)
		}
	}
	return nil
}

// HighRisk reports whether any call in the plan is high-risk.
func (r *Registry) HighRisk(calls []model.ToolCall) bool {
	for _, call := range calls {
		if spec, ok := r.specs[call.Name]; ok && spec.Risk == model.RiskHigh {
			return true
		}
	}
	return false
}

// Describe serializes the catalog for inclusion in the planner prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.order {
		spec := r.specs[name]
		fmt.Fprintf(&b, "- %s (risk=%s", spec.Name, spec.Risk)
		if len(spec.RequiredArgs) > 0 {
			fmt.Fprintf(&b, ", args: %s", strings.Join(spec.RequiredArgs, ", "))
		}
		fmt.Fprintf(&b, "): %s\n", spec.Description)
	}
	return b.String()
}
