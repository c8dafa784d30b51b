package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ruleNow = time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	tests := []struct {
		request string
		want    string
	}{
		{"help", IntentHelp},
		{"你能做什么", IntentHelp},
		{"总结一下我的记忆", IntentSummarize},
		{"有哪些技能", IntentSkills},
		{"运行技能 周报", IntentSkillRun},
		{"run task backup", IntentTaskRun},
		{"删除记录 旅行计划.md", IntentDelete},
		{"delete the kyoto note", IntentDelete},
		{"替换 旅行计划.md 的内容为 \"新内容\"", IntentReplace},
		{"追加到今天 \"买牛奶\"", IntentAppend},
		{"搜索 京都", IntentSearch},
		{"find my travel notes", IntentSearch},
		{"记一下 明天要开会", IntentCreate},
		{"create a note about the meeting", IntentCreate},
		{"上次旅行的结论是什么？", IntentAnswer},
		{"what did I decide about the trip", IntentAnswer},
		{"嗯嗯好的", IntentUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.request), tt.request)
	}
}

func TestIsQuestion(t *testing.T) {
	assert.True(t, isQuestion("上次的结论是什么？"))
	assert.True(t, isQuestion("did I book the hotel?"))
	assert.True(t, isQuestion("酒店订好了吗"))
	assert.True(t, isQuestion("what happened"))
	assert.False(t, isQuestion("删除记录 旅行计划.md"))
}

func TestRulePlanDelete(t *testing.T) {
	plan := rulePlan("删除记录 旅行计划.md", IntentDelete, ruleNow)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolDelete, plan.Calls[0].Name)
	assert.Equal(t, "旅行计划.md", plan.Calls[0].Arg("record"))
	assert.Equal(t, "rule", plan.PlannerSource)
}

func TestRulePlanDeleteWithoutTargetClarifies(t *testing.T) {
	plan := rulePlan("删除记录", IntentDelete, ruleNow)
	assert.Empty(t, plan.Calls)
	assert.NotEmpty(t, plan.ClarifyQuestion)
	assert.True(t, containsCJK(plan.ClarifyQuestion), "clarification should match request language")

	plan = rulePlan("delete it", IntentDelete, ruleNow)
	assert.NotEmpty(t, plan.ClarifyQuestion)
	assert.False(t, containsCJK(plan.ClarifyQuestion))
}

func TestRulePlanCreate(t *testing.T) {
	plan := rulePlan("记一下 \"周五和小李吃饭\"", IntentCreate, ruleNow)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolCreate, plan.Calls[0].Name)
	assert.Equal(t, "周五和小李吃饭", plan.Calls[0].Arg("content"))
	assert.Equal(t, "周五和小李吃饭.md", plan.Calls[0].Arg("filename"))
}

func TestRulePlanCreateUnquoted(t *testing.T) {
	plan := rulePlan("记一下 明天要带伞", IntentCreate, ruleNow)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "明天要带伞", plan.Calls[0].Arg("content"))
}

func TestRulePlanCreateWithoutContentClarifies(t *testing.T) {
	plan := rulePlan("创建", IntentCreate, ruleNow)
	assert.Empty(t, plan.Calls)
	assert.NotEmpty(t, plan.ClarifyQuestion)
}

func TestRulePlanAppendRelativeDate(t *testing.T) {
	plan := rulePlan("追加到今天 \"买牛奶\"", IntentAppend, ruleNow)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolAppend, plan.Calls[0].Name)
	assert.Equal(t, "今天", plan.Calls[0].Arg("record"))
	assert.Equal(t, "买牛奶", plan.Calls[0].Arg("content"))
}

func TestRulePlanSearchStripsKeyword(t *testing.T) {
	plan := rulePlan("搜索 京都 酒店", IntentSearch, ruleNow)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "京都 酒店", plan.Calls[0].Arg("query"))
}

func TestRulePlanUnknownFallsBackToSearch(t *testing.T) {
	plan := rulePlan("京都之行", IntentUnknown, ruleNow)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, ToolSearch, plan.Calls[0].Name)
	assert.Equal(t, "京都之行", plan.Calls[0].Arg("query"))
}

func TestRulePlanTaskRef(t *testing.T) {
	plan := rulePlan("运行任务 每日备份", IntentTaskRun, ruleNow)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "每日备份", plan.Calls[0].Arg("task"))
}

func TestExtractRecordRef(t *testing.T) {
	assert.Equal(t, "3f2a8c1e-0000-4000-8000-000000000001",
		extractRecordRef("删除 3f2a8c1e-0000-4000-8000-000000000001"))
	assert.Equal(t, "notes.md", extractRecordRef("delete notes.md please"))
	assert.Equal(t, "昨天", extractRecordRef("删除昨天的记录"))
	assert.Equal(t, "2026-08-01", extractRecordRef("删除 2026-08-01 的记录"))
	assert.Equal(t, "", extractRecordRef("删除那个"))

	// With two relative days in the request, the first one mentioned wins.
	assert.Equal(t, "今天", extractRecordRef("删除今天和明天的记录"))
	assert.Equal(t, "明天", extractRecordRef("删除明天和今天的记录"))
	assert.Equal(t, "tomorrow", extractRecordRef("delete tomorrow and yesterday"))
}

func TestResolveRelativeDate(t *testing.T) {
	got, ok := resolveRelativeDate("昨天", ruleNow)
	assert.True(t, ok)
	assert.Equal(t, "2026-08-28", got)

	got, ok = resolveRelativeDate("Tomorrow", ruleNow)
	assert.True(t, ok)
	assert.Equal(t, "2026-08-30", got)

	got, ok = resolveRelativeDate("notes.md", ruleNow)
	assert.False(t, ok)
	assert.Equal(t, "notes.md", got)
}

func TestDefaultFilename(t *testing.T) {
	assert.Equal(t, "周五和小李吃饭.md", defaultFilename("周五和小李吃饭\n细节稍后补充", ruleNow))
	assert.Equal(t, "Note 2026-08-29 140000.md", defaultFilename("   ", ruleNow))
	long := defaultFilename("this is a very long first line that should be shortened for a filename", ruleNow)
	assert.LessOrEqual(t, len([]rune(long)), 24+len(".md"))
}
