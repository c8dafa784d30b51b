package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kioku/internal/embedding"
	"github.com/ashita-ai/kioku/internal/llm"
	"github.com/ashita-ai/kioku/internal/model"
)

// ExecResult aggregates the outcome of running a plan. Actions are compact
// machine-readable markers, one per effect, in execution order.
type ExecResult struct {
	Reply            string
	Actions          []string
	RelatedRecordIDs []string
	Failures         int
}

// Executor runs validated tool calls in plan order. One failing call does
// not stop the rest: its failure becomes part of the reply and the plan
// continues, so a mixed plan still does as much as it can.
type Executor struct {
	store    Store
	registry *Registry
	provider llm.Provider
	embedder embedding.Provider // nil disables semantic search
	logger   *slog.Logger
	now      func() time.Time
	shell    func(ctx context.Context, command string) (string, error)
}

// NewExecutor constructs an Executor. embedder may be nil.
func NewExecutor(store Store, registry *Registry, provider llm.Provider, embedder embedding.Provider, logger *slog.Logger, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		store:    store,
		registry: registry,
		provider: provider,
		embedder: embedder,
		logger:   logger,
		now:      now,
		shell:    runShell,
	}
}

const searchLimit = 8

// Execute runs the calls sequentially and assembles the combined reply.
func (e *Executor) Execute(ctx context.Context, calls []model.ToolCall, request string, items []model.ContextItem) ExecResult {
	var out ExecResult
	var segments []string
	seen := make(map[string]struct{})

	for _, call := range calls {
		if err := e.registry.Validate(call); err != nil {
			e.logger.Warn("invalid tool call", "tool", call.Name, "error", err)
			segments = append(segments, pick(request, "无法执行 "+call.Name+"：参数不完整。", "Cannot run "+call.Name+": arguments incomplete."))
			out.Actions = append(out.Actions, call.Name+":invalid")
			out.Failures++
			continue
		}
		res, err := e.dispatch(ctx, call, request, items)
		if err != nil {
			e.logger.Error("tool call failed", "tool", call.Name, "error", err)
			segments = append(segments, pick(request, call.Name+" 执行失败。", call.Name+" failed."))
			out.Actions = append(out.Actions, call.Name+":error")
			out.Failures++
			continue
		}
		if res.reply != "" {
			segments = append(segments, res.reply)
		}
		out.Actions = append(out.Actions, res.actions...)
		for _, id := range res.related {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out.RelatedRecordIDs = append(out.RelatedRecordIDs, id)
		}
	}
	out.Reply = strings.Join(segments, "\n\n")
	return out
}

type callResult struct {
	reply   string
	actions []string
	related []string
}

func (e *Executor) dispatch(ctx context.Context, call model.ToolCall, request string, items []model.ContextItem) (callResult, error) {
	switch call.Name {
	case ToolHelp:
		return e.runHelp(request), nil
	case ToolSummary:
		return e.runSummarize(request, items), nil
	case ToolAnswer:
		return e.runAnswer(ctx, call.Arg("question"), items)
	case ToolCatalog:
		return e.runCatalog(ctx, request)
	case ToolSearch:
		return e.runSearch(ctx, call.Arg("query"), request)
	case ToolCreate:
		return e.runCreate(ctx, call, request)
	case ToolAppend:
		return e.runAppend(ctx, call, request)
	case ToolReplace:
		return e.runReplace(ctx, call, request)
	case ToolDelete:
		return e.runDelete(ctx, call, request)
	case ToolTaskRun:
		return e.runTask(ctx, call.Arg("task"), request)
	case ToolSkillRun:
		return e.runSkill(ctx, call.Arg("skill"), request)
	default:
		return callResult{}, fmt.Errorf("kernel: unknown tool %q", call.Name)
	}
}

func (e *Executor) runHelp(request string) callResult {
	zh := "我可以：搜索和总结你的记录，创建、补充、替换或删除记录，回答基于记忆的问题，以及运行已定义的任务和技能。删除和整体替换需要确认口令。"
	en := "I can search and summarize your records, create, append to, replace, or delete records, answer questions grounded in your memory, and run defined tasks and skills. Deletes and full replacements require a confirmation token."
	return callResult{reply: pick(request, zh, en)}
}

func (e *Executor) runSummarize(request string, items []model.ContextItem) callResult {
	if len(items) == 0 {
		return callResult{reply: pick(request, "目前没有可总结的记忆。", "There is no memory to summarize yet.")}
	}
	var b strings.Builder
	b.WriteString(pick(request, "记忆摘要：\n", "Memory summary:\n"))
	var related []string
	for _, item := range items {
		fmt.Fprintf(&b, "- %s: %s\n", item.Filename, truncateRunes(strings.ReplaceAll(item.Snippet, "\n", " "), 120))
		related = append(related, item.ID.String())
	}
	return callResult{reply: strings.TrimRight(b.String(), "\n"), related: related}
}

func (e *Executor) runAnswer(ctx context.Context, question string, items []model.ContextItem) (callResult, error) {
	var related []string
	var b strings.Builder
	b.WriteString("Notes:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", item.Filename, item.Snippet)
		related = append(related, item.ID.String())
	}
	if audits, err := e.store.ContextRecords(ctx, model.TagAuditLog, 2); err == nil {
		for _, a := range audits {
			fmt.Fprintf(&b, "Recent activity [%s]:\n%s\n\n", a.Filename, truncateRunes(a.Snippet, 300))
		}
	}
	if skills, err := e.store.ListSkills(ctx); err == nil && len(skills) > 0 {
		b.WriteString("Available skills:\n")
		for _, s := range skills {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)

	system := "You are a personal memory assistant. Answer the question using only the notes provided. If the notes do not contain the answer, say so plainly. Answer in the language of the question."
	answer, err := e.provider.Complete(ctx, system, b.String())
	if err != nil {
		// Model-free fallback: surface the best matching snippet instead of
		// failing the request.
		if len(items) == 0 {
			return callResult{reply: pick(question, "我没有相关的记忆来回答这个问题。", "I have no memory relevant to that question.")}, nil
		}
		top := items[0]
		reply := pick(question,
			fmt.Sprintf("最相关的记忆来自 %s：\n%s", top.Filename, top.Snippet),
			fmt.Sprintf("The closest memory is from %s:\n%s", top.Filename, top.Snippet))
		return callResult{reply: reply, related: related}, nil
	}
	return callResult{reply: strings.TrimSpace(answer), related: related}, nil
}

func (e *Executor) runCatalog(ctx context.Context, request string) (callResult, error) {
	skills, err := e.store.ListSkills(ctx)
	if err != nil {
		return callResult{}, fmt.Errorf("kernel: list skills: %w", err)
	}
	if len(skills) == 0 {
		return callResult{reply: pick(request, "还没有定义任何技能。", "No skills are defined yet.")}, nil
	}
	var b strings.Builder
	b.WriteString(pick(request, "可用技能：\n", "Available skills:\n"))
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return callResult{reply: strings.TrimRight(b.String(), "\n")}, nil
}

func (e *Executor) runSearch(ctx context.Context, query, request string) (callResult, error) {
	// Lexical and semantic retrieval run concurrently; semantic is best
	// effort and never fails the search.
	var hits, semantic []model.SearchHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = e.store.SearchRecords(gctx, query, searchLimit)
		if err != nil {
			return fmt.Errorf("kernel: search: %w", err)
		}
		return nil
	})
	if e.embedder != nil {
		g.Go(func() error {
			semantic = e.semanticHits(gctx, query)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return callResult{}, err
	}
	hits = mergeHits(hits, semantic, searchLimit)
	res := callResult{actions: []string{fmt.Sprintf("record.search:%s:%d", query, len(hits))}}
	if len(hits) == 0 {
		res.reply = pick(request, fmt.Sprintf("没有找到与 %q 相关的记录。", query), fmt.Sprintf("No records match %q.", query))
		return res, nil
	}
	var b strings.Builder
	b.WriteString(pick(request, fmt.Sprintf("找到 %d 条记录：\n", len(hits)), fmt.Sprintf("Found %d records:\n", len(hits))))
	for _, hit := range hits {
		fmt.Fprintf(&b, "- %s: %s\n", hit.Filename, truncateRunes(strings.ReplaceAll(hit.Preview, "\n", " "), 100))
		res.related = append(res.related, hit.ID.String())
	}
	res.reply = strings.TrimRight(b.String(), "\n")
	return res, nil
}

// semanticHits returns vector-search results for the query. Any failure is
// logged and returns nil so the lexical results stand alone.
func (e *Executor) semanticHits(ctx context.Context, query string) []model.SearchHit {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Debug("query embedding failed", "error", err)
		return nil
	}
	semantic, err := e.store.SearchRecordsByEmbedding(ctx, vec, searchLimit)
	if err != nil {
		e.logger.Debug("semantic search failed", "error", err)
		return nil
	}
	return semantic
}

// mergeHits appends semantic hits that lexical search missed, keeping
// lexical ordering first and capping at limit.
func mergeHits(hits, semantic []model.SearchHit, limit int) []model.SearchHit {
	if len(semantic) == 0 {
		return hits
	}
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		seen[h.ID.String()] = struct{}{}
	}
	for _, h := range semantic {
		if len(hits) >= limit {
			break
		}
		if _, dup := seen[h.ID.String()]; dup {
			continue
		}
		hits = append(hits, h)
	}
	return hits
}

func (e *Executor) runCreate(ctx context.Context, call model.ToolCall, request string) (callResult, error) {
	content := call.Arg("content")
	filename := strings.TrimSpace(call.Arg("filename"))
	if filename == "" {
		filename = defaultFilename(content, e.now())
	}
	created, err := e.store.CreateRecord(ctx, model.Record{Filename: filename, Kind: "text", Body: content})
	if err != nil {
		return callResult{}, fmt.Errorf("kernel: create record: %w", err)
	}
	e.embedRecord(ctx, created)
	return callResult{
		reply:   pick(request, fmt.Sprintf("已创建记录 %s。", created.Filename), fmt.Sprintf("Created record %s.", created.Filename)),
		actions: []string{"record.create:" + created.ID.String()},
		related: []string{created.ID.String()},
	}, nil
}

func (e *Executor) runAppend(ctx context.Context, call model.ToolCall, request string) (callResult, error) {
	ref := call.Arg("record")
	content := call.Arg("content")
	rec, ok, err := e.resolveRecord(ctx, ref, true)
	if err != nil {
		return callResult{}, err
	}
	if !ok {
		return notFoundResult(request, ref), nil
	}
	if err := e.store.AppendRecordBody(ctx, rec.ID, content); err != nil {
		return callResult{}, fmt.Errorf("kernel: append record: %w", err)
	}
	return callResult{
		reply:   pick(request, fmt.Sprintf("已补充到 %s。", rec.Filename), fmt.Sprintf("Appended to %s.", rec.Filename)),
		actions: []string{"record.append:" + rec.ID.String()},
		related: []string{rec.ID.String()},
	}, nil
}

func (e *Executor) runReplace(ctx context.Context, call model.ToolCall, request string) (callResult, error) {
	ref := call.Arg("record")
	rec, ok, err := e.resolveRecord(ctx, ref, false)
	if err != nil {
		return callResult{}, err
	}
	if !ok {
		return notFoundResult(request, ref), nil
	}
	if err := e.store.ReplaceRecordBody(ctx, rec.ID, call.Arg("content")); err != nil {
		return callResult{}, fmt.Errorf("kernel: replace record: %w", err)
	}
	e.embedRecord(ctx, rec)
	return callResult{
		reply:   pick(request, fmt.Sprintf("已替换 %s 的内容。", rec.Filename), fmt.Sprintf("Replaced the content of %s.", rec.Filename)),
		actions: []string{"record.replace:" + rec.ID.String()},
		related: []string{rec.ID.String()},
	}, nil
}

func (e *Executor) runDelete(ctx context.Context, call model.ToolCall, request string) (callResult, error) {
	ref := call.Arg("record")
	rec, ok, err := e.resolveRecord(ctx, ref, false)
	if err != nil {
		return callResult{}, err
	}
	if !ok {
		return notFoundResult(request, ref), nil
	}
	if err := e.store.DeleteRecord(ctx, rec.ID); err != nil {
		return callResult{}, fmt.Errorf("kernel: delete record: %w", err)
	}
	return callResult{
		reply:   pick(request, fmt.Sprintf("已删除记录 %s。", rec.Filename), fmt.Sprintf("Deleted record %s.", rec.Filename)),
		actions: []string{"record.delete:" + rec.ID.String()},
		related: []string{rec.ID.String()},
	}, nil
}

// embedRecord computes and stores the record embedding. Best effort: a
// missing or failing embedder never affects the write that just happened.
func (e *Executor) embedRecord(ctx context.Context, rec model.Record) {
	if e.embedder == nil {
		return
	}
	vec, err := e.embedder.Embed(ctx, rec.Filename+"\n"+rec.Body)
	if err != nil {
		e.logger.Debug("record embedding failed", "record_id", rec.ID, "error", err)
		return
	}
	if err := e.store.SetRecordEmbedding(ctx, rec.ID, vec); err != nil {
		e.logger.Warn("store record embedding", "record_id", rec.ID, "error", err)
	}
}

func notFoundResult(request, ref string) callResult {
	return callResult{
		reply: pick(request, fmt.Sprintf("找不到记录 %q。", ref), fmt.Sprintf("Record %q not found.", ref)),
	}
}

// runShell executes a task's shell command through sh. Output is capped so
// a chatty command cannot flood the reply.
func runShell(ctx context.Context, command string) (string, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("kernel: shell command: %w", err)
	}
	return truncateRunes(strings.TrimSpace(string(out)), 2000), nil
}
