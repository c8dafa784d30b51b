package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/kioku/internal/llm"
	"github.com/ashita-ai/kioku/internal/model"
)

// Planner turns a request plus loaded context into tool calls. It asks the
// model first and falls back to the deterministic rule plan whenever the
// model is unavailable, times out, or returns nothing usable. A model
// failure therefore never fails the request.
type Planner struct {
	registry *Registry
	provider llm.Provider
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewPlanner constructs a Planner. timeout bounds the model call only.
func NewPlanner(registry *Registry, provider llm.Provider, logger *slog.Logger, timeout time.Duration, now func() time.Time) *Planner {
	if now == nil {
		now = time.Now
	}
	return &Planner{registry: registry, provider: provider, logger: logger, timeout: timeout, now: now}
}

const plannerSystemPrompt = `You plan tool calls for a personal knowledge assistant.
Reply with a single JSON object and nothing else:
{"calls":[{"name":"...","arguments":{...}}],"plan":["step"],"note":"...","clarify_question":""}
Use only the listed tools. Set clarify_question (and no calls) when the
request is too vague to act on. Answer questions with assistant.answer,
never with a mutating tool. Arguments are strings.`

// Plan produces the plan for a cleaned request. The minimal-clarification
// rule runs first: when even a human could not act without more detail, ask
// instead of invoking the model.
func (p *Planner) Plan(ctx context.Context, request string, items []model.ContextItem) model.PlannedCalls {
	intent := classify(request)
	if isQuestion(request) && mutatingIntent(intent) {
		// A question never triggers a mutation, however imperative it sounds.
		intent = IntentAnswer
	}
	fallback := rulePlan(request, intent, p.now())
	if fallback.ClarifyQuestion != "" {
		return fallback
	}

	planned, err := p.modelPlan(ctx, request, items)
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			p.logger.Warn("model planning failed, using rule plan", "error", err)
		}
		return p.override(request, fallback)
	}
	if planned.ClarifyQuestion != "" {
		return planned
	}
	if len(planned.Calls) == 0 {
		return p.override(request, fallback)
	}
	return p.override(request, planned)
}

// override enforces the question guard: a question never executes a
// mutating plan, whatever the planner said.
func (p *Planner) override(request string, plan model.PlannedCalls) model.PlannedCalls {
	if !isQuestion(request) || !p.mutating(plan.Calls) {
		return plan
	}
	call := model.ToolCall{Name: ToolAnswer, Arguments: map[string]string{"question": request}}
	return model.PlannedCalls{
		Calls:         []model.ToolCall{call},
		PlannerSource: plan.PlannerSource,
		PlannerNote:   "question guard replaced a mutating plan",
		ToolPlan:      []string{call.Name},
	}
}

func (p *Planner) mutating(calls []model.ToolCall) bool {
	for _, call := range calls {
		if spec, ok := p.registry.Lookup(call.Name); ok && spec.Risk != model.RiskLow {
			return true
		}
	}
	return false
}

// modelPlan asks the provider for a plan and materializes it. Calls that
// still fail registry validation after materialization are dropped; an
// empty result falls back to the rule plan in Plan.
func (p *Planner) modelPlan(ctx context.Context, request string, items []model.ContextItem) (model.PlannedCalls, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.provider.Complete(ctx, plannerSystemPrompt, p.buildPrompt(request, items))
	if err != nil {
		return model.PlannedCalls{}, err
	}
	planned, err := p.parse(raw)
	if err != nil {
		return model.PlannedCalls{}, fmt.Errorf("kernel: parse model plan: %w", err)
	}
	kept := planned.Calls[:0]
	for _, call := range planned.Calls {
		call = p.materialize(call, request)
		if err := p.registry.Validate(call); err != nil {
			p.logger.Debug("dropping unmaterializable call", "tool", call.Name, "error", err)
			continue
		}
		kept = append(kept, call)
	}
	planned.Calls = kept
	planned.PlannerSource = "llm:" + p.provider.Name()
	if len(planned.ToolPlan) == 0 {
		for _, call := range planned.Calls {
			planned.ToolPlan = append(planned.ToolPlan, call.Name)
		}
	}
	return planned, nil
}

// materialize back-fills missing required arguments from the request text:
// quoted strings become content, date-like or file-like references become
// record keys, filenames default from content. Calls that stay incomplete
// after this are dropped by the caller.
func (p *Planner) materialize(call model.ToolCall, request string) model.ToolCall {
	spec, ok := p.registry.Lookup(call.Name)
	if !ok {
		return call
	}
	if call.Arguments == nil {
		call.Arguments = make(map[string]string)
	}
	for _, arg := range spec.RequiredArgs {
		if call.Arguments[arg] != "" {
			continue
		}
		switch arg {
		case "content":
			if quoted := extractQuoted(request); quoted != "" {
				call.Arguments[arg] = quoted
			}
		case "record":
			if ref := extractRecordRef(request); ref != "" {
				call.Arguments[arg] = ref
			}
		case "query", "question":
			call.Arguments[arg] = request
		}
	}
	return call
}

func (p *Planner) buildPrompt(request string, items []model.ContextItem) string {
	var b strings.Builder
	b.WriteString("Tools:\n")
	b.WriteString(p.registry.Describe())
	if len(items) > 0 {
		b.WriteString("\nRelevant memory:\n")
		for _, item := range items {
			fmt.Fprintf(&b, "- [%s] %s\n", item.Filename, truncateRunes(item.Snippet, 160))
		}
	}
	b.WriteString("\nRequest: ")
	b.WriteString(request)
	return b.String()
}

// modelPlanPayload is the shape the prompt asks for. Argument values arrive
// as arbitrary JSON and are coerced to strings.
type modelPlanPayload struct {
	Calls []struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"calls"`
	Plan            []string `json:"plan"`
	Note            string   `json:"note"`
	ClarifyQuestion string   `json:"clarify_question"`
}

func (p *Planner) parse(raw string) (model.PlannedCalls, error) {
	blob := extractJSONObject(raw)
	if blob == "" {
		return model.PlannedCalls{}, errors.New("no JSON object in response")
	}
	var payload modelPlanPayload
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return model.PlannedCalls{}, err
	}
	out := model.PlannedCalls{
		PlannerNote:     payload.Note,
		ToolPlan:        payload.Plan,
		ClarifyQuestion: strings.TrimSpace(payload.ClarifyQuestion),
	}
	if out.ClarifyQuestion != "" {
		// A clarification and calls are mutually exclusive; the question wins.
		out.ToolPlan = nil
		return out, nil
	}
	for _, c := range payload.Calls {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		call := model.ToolCall{Name: strings.TrimSpace(c.Name), Arguments: make(map[string]string, len(c.Arguments))}
		for k, v := range c.Arguments {
			var s string
			switch val := v.(type) {
			case string:
				s = strings.TrimSpace(val)
			case float64:
				s = fmt.Sprintf("%g", val)
			case bool:
				s = fmt.Sprintf("%t", val)
			default:
				// Nested values are not part of any tool contract.
			}
			if s != "" {
				call.Arguments[k] = s
			}
		}
		out.Calls = append(out.Calls, call)
	}
	return out, nil
}

// extractJSONObject pulls the first balanced top-level JSON object out of a
// model response, tolerating code fences and prose around it.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
