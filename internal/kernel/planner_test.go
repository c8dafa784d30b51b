package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/llm"
	"github.com/ashita-ai/kioku/internal/model"
)

func newTestPlanner(provider llm.Provider) *Planner {
	now := func() time.Time { return time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC) }
	return NewPlanner(NewRegistry(), provider, testLogger(), time.Second, now)
}

func TestPlannerUsesModelPlan(t *testing.T) {
	provider := &fakeProvider{response: "```json\n" + `{
		"calls": [{"name": "record.search", "arguments": {"query": "京都"}}],
		"plan": ["search records for 京都"],
		"note": "lexical search is enough"
	}` + "\n```"}
	p := newTestPlanner(provider)

	plan := p.Plan(context.Background(), "帮我找找京都相关的内容", nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolSearch, plan.Calls[0].Name)
	assert.Equal(t, "京都", plan.Calls[0].Arg("query"))
	assert.Equal(t, "llm:fake", plan.PlannerSource)
	assert.Equal(t, []string{"search records for 京都"}, plan.ToolPlan)
	assert.Contains(t, provider.gotPrompt, "record.search")
}

func TestPlannerFallsBackWhenModelUnavailable(t *testing.T) {
	p := newTestPlanner(llm.NoopProvider{})
	plan := p.Plan(context.Background(), "搜索 京都", nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolSearch, plan.Calls[0].Name)
	assert.Equal(t, "rule", plan.PlannerSource)
}

func TestPlannerFallsBackOnGarbageResponse(t *testing.T) {
	p := newTestPlanner(&fakeProvider{response: "I cannot help with that."})
	plan := p.Plan(context.Background(), "搜索 京都", nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "rule", plan.PlannerSource)
}

func TestPlannerDropsInvalidModelCalls(t *testing.T) {
	// Unknown tool name: the call is dropped, leaving nothing usable.
	p := newTestPlanner(&fakeProvider{response: `{"calls":[{"name":"record.nuke","arguments":{}}]}`})
	plan := p.Plan(context.Background(), "搜索 京都", nil)
	assert.Equal(t, "rule", plan.PlannerSource)

	// Known tool whose required argument cannot be materialized either.
	p = newTestPlanner(&fakeProvider{response: `{"calls":[{"name":"record.delete","arguments":{}}]}`})
	plan = p.Plan(context.Background(), "搜索 京都", nil)
	assert.Equal(t, "rule", plan.PlannerSource)
}

func TestPlannerMaterializesMissingArguments(t *testing.T) {
	// Content is back-filled from the quoted request text.
	p := newTestPlanner(&fakeProvider{response: `{"calls":[{"name":"record.create","arguments":{}}]}`})
	plan := p.Plan(context.Background(), `记一下 "周五和小李吃饭"`, nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolCreate, plan.Calls[0].Name)
	assert.Equal(t, "周五和小李吃饭", plan.Calls[0].Arg("content"))
	assert.Equal(t, "llm:fake", plan.PlannerSource)

	// The record reference is back-filled from a filename in the request.
	p = newTestPlanner(&fakeProvider{response: `{"calls":[{"name":"record.delete","arguments":{}}]}`})
	plan = p.Plan(context.Background(), "删除 kyoto.md", nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "kyoto.md", plan.Calls[0].Arg("record"))
}

func TestPlannerClarifiesBeforeCallingModel(t *testing.T) {
	provider := &fakeProvider{err: errors.New("should not be called")}
	p := newTestPlanner(provider)
	plan := p.Plan(context.Background(), "删除记录", nil)
	assert.Empty(t, plan.Calls)
	assert.NotEmpty(t, plan.ClarifyQuestion)
	assert.Empty(t, provider.gotPrompt, "model must not be consulted for an unanswerable request")
}

func TestPlannerModelClarification(t *testing.T) {
	p := newTestPlanner(&fakeProvider{response: `{"calls":[],"clarify_question":"哪一条京都记录？"}`})
	plan := p.Plan(context.Background(), "帮我处理一下京都那条", nil)
	assert.Empty(t, plan.Calls)
	assert.Equal(t, "哪一条京都记录？", plan.ClarifyQuestion)
}

func TestPlannerClarificationDiscardsCalls(t *testing.T) {
	// A payload carrying both calls and a clarification resolves to the
	// clarification alone.
	p := newTestPlanner(&fakeProvider{response: `{
		"calls":[{"name":"record.delete","arguments":{"record":"kyoto.md"}}],
		"plan":["delete kyoto.md"],
		"clarify_question":"确定要删除京都的记录吗？"}`})
	plan := p.Plan(context.Background(), "帮我处理一下京都那条", nil)
	assert.Empty(t, plan.Calls)
	assert.Empty(t, plan.ToolPlan)
	assert.Equal(t, "确定要删除京都的记录吗？", plan.ClarifyQuestion)
}

func TestPlannerQuestionGuard(t *testing.T) {
	// The model answers a question with a delete; the guard replaces it.
	p := newTestPlanner(&fakeProvider{response: `{"calls":[{"name":"record.delete","arguments":{"record":"kyoto.md"}}]}`})
	plan := p.Plan(context.Background(), "should I delete the kyoto note?", nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolAnswer, plan.Calls[0].Name)
	assert.NotEmpty(t, plan.PlannerNote)
}

func TestPlannerCoercesArgumentTypes(t *testing.T) {
	p := newTestPlanner(&fakeProvider{response: `{"calls":[{"name":"record.search","arguments":{"query":"trip","limit":5}}]}`})
	plan := p.Plan(context.Background(), "find trip notes", nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "5", plan.Calls[0].Arg("limit"))
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! {"a":{"b":2}} Hope that helps.`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`},
		{"none", "no json here", ""},
		{"unbalanced", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.in))
		})
	}
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Validate(model.ToolCall{Name: ToolHelp}))
	assert.NoError(t, r.Validate(model.ToolCall{Name: ToolSearch, Arguments: map[string]string{"query": "x"}}))
	assert.Error(t, r.Validate(model.ToolCall{Name: ToolSearch}))
	assert.Error(t, r.Validate(model.ToolCall{Name: ToolAppend, Arguments: map[string]string{"record": "a.md"}}))
	assert.Error(t, r.Validate(model.ToolCall{Name: "bogus"}))
}

func TestRegistryHighRisk(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.HighRisk([]model.ToolCall{{Name: ToolSearch}, {Name: ToolDelete}}))
	assert.True(t, r.HighRisk([]model.ToolCall{{Name: ToolReplace}}))
	assert.False(t, r.HighRisk([]model.ToolCall{{Name: ToolCreate}, {Name: ToolAppend}}))
}
