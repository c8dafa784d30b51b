package kernel

import (
	"strings"
	"time"

	"github.com/ashita-ai/kioku/internal/model"
)

// Intent labels produced by the rule classifier. Exposed on KernelResult so
// callers can see how the request was read even when the model planned it.
const (
	IntentHelp      = "help"
	IntentSummarize = "summarize"
	IntentAnswer    = "answer"
	IntentSkills    = "skills"
	IntentSkillRun  = "skill"
	IntentSearch    = "search"
	IntentCreate    = "create"
	IntentTaskRun   = "task"
	IntentDelete    = "delete"
	IntentAppend    = "append"
	IntentReplace   = "replace"
	IntentConfirm   = "confirm"
	IntentUnknown   = "unknown"
)

// Keyword groups per intent. Order matters: the first matching group wins,
// so narrower phrasings are listed before broader ones. The create group
// deliberately avoids the bare 记录, which also appears in requests like
// 删除记录.
var intentRules = []struct {
	intent   string
	keywords []string
}{
	{IntentHelp, []string{"help", "what can you do", "帮助", "你能做什么", "使用说明"}},
	{IntentSummarize, []string{"summarize", "summary", "总结", "概括", "汇总"}},
	{IntentSkills, []string{"list skills", "what skills", "技能列表", "有哪些技能", "列出技能"}},
	{IntentSkillRun, []string{"run skill", "use skill", "运行技能", "执行技能", "用技能"}},
	{IntentTaskRun, []string{"run task", "execute task", "运行任务", "执行任务", "跑任务"}},
	{IntentDelete, []string{"delete", "remove", "删除", "删掉", "移除"}},
	{IntentReplace, []string{"replace", "rewrite", "overwrite", "替换", "重写", "改写"}},
	{IntentAppend, []string{"append", "add to", "补充", "追加", "加一条", "加到"}},
	{IntentSearch, []string{"search", "find", "look up", "搜索", "查找", "查询", "找一下", "搜一下"}},
	{IntentCreate, []string{"create", "new note", "note down", "jot", "创建", "新建", "写一条", "写一篇", "记一下", "记录一下", "记下"}},
}

var questionPrefixes = []string{
	"what", "how", "why", "when", "who", "where", "which", "is ", "are ", "do ", "does ", "can ", "should ",
	"什么", "怎么", "如何", "为什么", "为何", "是否", "哪", "谁", "多少",
}

// classify maps a cleaned request to an intent by ordered keyword matching.
// Question detection sits between the imperative groups and the fallback so
// "删除记录 X" stays a delete but "上次旅行的结论是什么?" becomes a question.
func classify(request string) string {
	lowered := strings.ToLower(request)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.intent
			}
		}
	}
	if isQuestion(request) {
		return IntentAnswer
	}
	return IntentUnknown
}

// isQuestion reports whether the request reads as a question.
func isQuestion(request string) bool {
	trimmed := strings.TrimSpace(request)
	if strings.Contains(trimmed, "?") || strings.Contains(trimmed, "？") {
		return true
	}
	if strings.HasSuffix(trimmed, "吗") || strings.HasSuffix(trimmed, "呢") {
		return true
	}
	lowered := strings.ToLower(trimmed)
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}

// mutatingIntent reports whether the intent would change state if executed.
func mutatingIntent(intent string) bool {
	switch intent {
	case IntentCreate, IntentAppend, IntentReplace, IntentDelete, IntentTaskRun, IntentSkillRun:
		return true
	}
	return false
}

// rulePlan builds a deterministic plan for the request. It returns either a
// single runnable call or a clarification question when a required slot
// cannot be extracted.
func rulePlan(request, intent string, now time.Time) model.PlannedCalls {
	plan := func(call model.ToolCall) model.PlannedCalls {
		return model.PlannedCalls{
			Calls:         []model.ToolCall{call},
			PlannerSource: "rule",
			ToolPlan:      []string{call.Name},
		}
	}
	clarify := func(zh, en string) model.PlannedCalls {
		return model.PlannedCalls{PlannerSource: "rule", ClarifyQuestion: pick(request, zh, en)}
	}

	switch intent {
	case IntentHelp:
		return plan(model.ToolCall{Name: ToolHelp})
	case IntentSummarize:
		return plan(model.ToolCall{Name: ToolSummary})
	case IntentSkills:
		return plan(model.ToolCall{Name: ToolCatalog})
	case IntentAnswer:
		return plan(model.ToolCall{Name: ToolAnswer, Arguments: map[string]string{"question": request}})
	case IntentSkillRun:
		ref := extractAfterKeyword(request, "run skill", "use skill", "运行技能", "执行技能", "用技能", "skill", "技能")
		if ref == "" {
			return clarify("要运行哪个技能？", "Which skill should I run?")
		}
		return plan(model.ToolCall{Name: ToolSkillRun, Arguments: map[string]string{"skill": ref}})
	case IntentTaskRun:
		ref := extractAfterKeyword(request, "run task", "execute task", "运行任务", "执行任务", "跑任务", "task", "任务")
		if ref == "" {
			return clarify("要运行哪个任务？", "Which task should I run?")
		}
		return plan(model.ToolCall{Name: ToolTaskRun, Arguments: map[string]string{"task": ref}})
	case IntentSearch:
		query := extractQuoted(request)
		if query == "" {
			query = extractAfterKeyword(request, "search for", "search", "look up", "find", "搜索", "查找", "查询", "找一下", "搜一下")
		}
		if query == "" {
			query = request
		}
		return plan(model.ToolCall{Name: ToolSearch, Arguments: map[string]string{"query": query}})
	case IntentCreate:
		content := extractQuoted(request)
		if content == "" {
			content = extractAfterKeyword(request, "note down", "create", "jot", "创建", "新建", "写一条", "写一篇", "记录一下", "记一下", "记下")
			content = contentQuoteTrim(content)
		}
		if content == "" {
			return clarify("要记录什么内容？", "What should the new record say?")
		}
		return plan(model.ToolCall{Name: ToolCreate, Arguments: map[string]string{
			"content":  content,
			"filename": defaultFilename(content, now),
		}})
	case IntentDelete:
		ref := extractRecordRef(request)
		if ref == "" {
			return clarify("要删除哪条记录？请给出文件名或 ID。", "Which record should I delete? Give a filename or id.")
		}
		return plan(model.ToolCall{Name: ToolDelete, Arguments: map[string]string{"record": ref}})
	case IntentAppend:
		ref := extractRecordRef(request)
		content := extractQuoted(request)
		if ref == "" {
			return clarify("要补充到哪条记录？", "Which record should I append to?")
		}
		if content == "" {
			return clarify("要补充什么内容？", "What should I append?")
		}
		return plan(model.ToolCall{Name: ToolAppend, Arguments: map[string]string{"record": ref, "content": content}})
	case IntentReplace:
		ref := extractRecordRef(request)
		content := extractQuoted(request)
		if ref == "" {
			return clarify("要替换哪条记录的内容？", "Which record should I replace?")
		}
		if content == "" {
			return clarify("新的内容是什么？", "What should the new content be?")
		}
		return plan(model.ToolCall{Name: ToolReplace, Arguments: map[string]string{"record": ref, "content": content}})
	default:
		// Unrecognized requests degrade to a search over the raw text.
		return plan(model.ToolCall{Name: ToolSearch, Arguments: map[string]string{"query": request}})
	}
}
