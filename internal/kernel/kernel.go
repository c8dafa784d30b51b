package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kioku/internal/embedding"
	"github.com/ashita-ai/kioku/internal/llm"
	"github.com/ashita-ai/kioku/internal/model"
)

// Config carries the kernel's tunables.
type Config struct {
	ContextLimit    int
	ContextWindow   int
	ConfirmationTTL time.Duration
	ModelTimeout    time.Duration
	Conflict        ConflictThresholds

	// Now overrides the clock. nil means time.Now.
	Now func() time.Time
}

// Kernel orchestrates one full cycle per request: load context, plan, gate
// high-risk plans behind confirmation, execute, and persist memory and
// audit. A Kernel is safe for concurrent use; all state lives in the store.
type Kernel struct {
	store     Store
	registry  *Registry
	loader    *Loader
	planner   *Planner
	confirmer *Confirmer
	executor  *Executor
	writer    *Writer
	logger    *slog.Logger
	now       func() time.Time

	tracer      trace.Tracer
	askCounter  metric.Int64Counter
	askDuration metric.Float64Histogram
}

// New wires a Kernel from its dependencies. embedder may be nil to disable
// semantic search.
func New(store Store, provider llm.Provider, embedder embedding.Provider, logger *slog.Logger, cfg Config) *Kernel {
	registry := NewRegistry()
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	meter := otel.Meter("kioku/kernel")
	askCounter, _ := meter.Int64Counter("kioku.ask.count",
		metric.WithDescription("Completed kernel cycles"))
	askDuration, _ := meter.Float64Histogram("kioku.ask.duration",
		metric.WithDescription("Kernel cycle duration"), metric.WithUnit("ms"))

	k := &Kernel{
		store:       store,
		registry:    registry,
		logger:      logger,
		now:         now,
		tracer:      otel.Tracer("kioku/kernel"),
		askCounter:  askCounter,
		askDuration: askDuration,
	}
	k.loader = NewLoader(store, logger, cfg.ContextLimit, cfg.ContextWindow)
	k.planner = NewPlanner(registry, provider, logger, cfg.ModelTimeout, now)
	k.confirmer = NewConfirmer(store, logger, cfg.ConfirmationTTL, now)
	k.executor = NewExecutor(store, registry, provider, embedder, logger, now)
	k.writer = NewWriter(store, logger, cfg.Conflict, now)
	return k
}

// Registry exposes the tool catalog, for surfaces that list capabilities.
func (k *Kernel) Registry() *Registry { return k.registry }

// Ask runs one kernel cycle for a free-text request. It returns an error
// only for infrastructure failures; user-level problems (vague request,
// bad token, missing record) come back as a normal result.
func (k *Kernel) Ask(ctx context.Context, request, source string) (model.KernelResult, error) {
	started := k.now()
	ctx, span := k.tracer.Start(ctx, "kernel.ask", trace.WithAttributes(attribute.String("source", source)))
	defer span.End()

	res := model.KernelResult{
		RequestID: uuid.New(),
		Source:    source,
		Request:   request,
		StartedAt: started,
	}

	token, hasToken := parseConfirmMarker(request)
	merge, _ := parseMergeMarker(request)
	cleaned := stripDirectives(request)

	if hasToken {
		return k.finishConfirm(ctx, res, token, source, merge)
	}

	if cleaned == "" {
		res.Intent = IntentUnknown
		res.PlannerSource = "rule"
		res.Reply = pick(request, "请告诉我你想做什么。", "Tell me what you'd like me to do.")
		res.Succeeded = true
		return k.finish(ctx, res, nil, merge, "")
	}

	items, err := k.loader.Load(ctx, cleaned)
	if err != nil {
		return k.fail(ctx, res, err)
	}
	for _, item := range items {
		res.CoreContextRecordIDs = append(res.CoreContextRecordIDs, item.ID.String())
	}
	res.Intent = classify(cleaned)

	plan := k.planner.Plan(ctx, cleaned, items)
	res.PlannerSource = plan.PlannerSource
	res.PlannerNote = plan.PlannerNote
	res.ToolPlan = plan.ToolPlan

	if plan.ClarifyQuestion != "" {
		res.Reply = plan.ClarifyQuestion
		res.Succeeded = true
		return k.finish(ctx, res, items, merge, "")
	}

	if k.registry.HighRisk(plan.Calls) {
		pending, err := k.confirmer.Create(ctx, plan.Calls, source, cleaned, plan.ToolPlan)
		if err != nil {
			return k.fail(ctx, res, err)
		}
		res.ConfirmationRequired = true
		res.ConfirmationToken = pending.Token
		expires := pending.ExpiresAt
		res.ConfirmationExpires = &expires
		res.Reply = k.confirmationPrompt(ctx, cleaned, plan.Calls, pending)
		res.Succeeded = true
		return k.finish(ctx, res, items, merge, pending.Token)
	}

	exec := k.executor.Execute(ctx, plan.Calls, cleaned, items)
	res.Reply = exec.Reply
	res.Actions = exec.Actions
	res.RelatedRecordIDs = exec.RelatedRecordIDs
	res.Succeeded = exec.Failures == 0
	return k.finish(ctx, res, items, merge, "")
}

// Confirm redeems a token issued by a previous Ask. Equivalent to sending
// the confirmation marker as a request.
func (k *Kernel) Confirm(ctx context.Context, token, source string) (model.KernelResult, error) {
	return k.Ask(ctx, "#CONFIRM:"+token, source)
}

// finishConfirm redeems the token and executes the parked plan. The token
// is burned on first presentation regardless of what happens after.
func (k *Kernel) finishConfirm(ctx context.Context, res model.KernelResult, token, source string, merge model.MergeStrategy) (model.KernelResult, error) {
	res.Intent = IntentConfirm
	res.PlannerSource = "confirmed"
	res.ConfirmationToken = token

	pending, err := k.confirmer.Redeem(ctx, token, source)
	if errors.Is(err, ErrConfirmationInvalid) {
		res.Reply = pick(res.Request, "确认口令无效或已过期，请重新发起操作。", "That confirmation token is invalid or expired. Please start over.")
		res.Succeeded = false
		return k.finish(ctx, res, nil, merge, token)
	}
	if err != nil {
		return k.fail(ctx, res, err)
	}

	items, err := k.loader.Load(ctx, pending.Request)
	if err != nil {
		return k.fail(ctx, res, err)
	}
	for _, item := range items {
		res.CoreContextRecordIDs = append(res.CoreContextRecordIDs, item.ID.String())
	}
	res.ToolPlan = pending.ToolPlan

	exec := k.executor.Execute(ctx, pending.ToolCalls, pending.Request, items)
	res.Reply = exec.Reply
	res.Actions = exec.Actions
	res.RelatedRecordIDs = exec.RelatedRecordIDs
	res.Succeeded = exec.Failures == 0
	return k.finish(ctx, res, items, merge, token)
}

// confirmationPrompt renders the dry-run preview and redemption
// instructions in the language of the request.
func (k *Kernel) confirmationPrompt(ctx context.Context, request string, calls []model.ToolCall, pending model.PendingConfirmation) string {
	preview := k.executor.Preview(ctx, calls)
	minutes := int(pending.ExpiresAt.Sub(pending.CreatedAt).Minutes())
	var b strings.Builder
	b.WriteString(pick(request, "此操作不可逆，将执行：\n", "This is irreversible and would run:\n"))
	for _, line := range preview {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString(pick(request,
		fmt.Sprintf("确认请在 %d 分钟内回复 #确认:%s", minutes, pending.Token),
		fmt.Sprintf("To proceed, reply with #CONFIRM:%s within %d minutes.", pending.Token, minutes)))
	return b.String()
}

// finish persists memory and audit, stamps timing, and records metrics. An
// audit failure fails an otherwise successful request; after a failed
// request it is logged and swallowed so the original outcome survives.
func (k *Kernel) finish(ctx context.Context, res model.KernelResult, items []model.ContextItem, merge model.MergeStrategy, confirmToken string) (model.KernelResult, error) {
	res.FinishedAt = k.now()

	outcome, err := k.writer.Write(ctx, WriteInput{
		RequestID:         res.RequestID,
		Source:            res.Source,
		Request:           stripDirectives(res.Request),
		Intent:            res.Intent,
		PlannerSource:     res.PlannerSource,
		PlannerNote:       res.PlannerNote,
		ToolPlan:          res.ToolPlan,
		Actions:           res.Actions,
		Reply:             res.Reply,
		RelatedRecordIDs:  res.RelatedRecordIDs,
		ContextRecordIDs:  res.CoreContextRecordIDs,
		Items:             items,
		MergeDirective:    merge,
		ConfirmationToken: confirmToken,
		StartedAt:         res.StartedAt,
		FinishedAt:        res.FinishedAt,
		Succeeded:         res.Succeeded,
	})
	if err != nil {
		if res.Succeeded {
			return k.fail(ctx, res, err)
		}
		k.logger.Warn("audit write failed after unsuccessful request", "error", err)
	}
	res.CoreMemoryRecordID = outcome.MemoryRecordID
	res.AuditRecordID = outcome.AuditRecordID
	if outcome.MemoryWritten || outcome.Conflict != nil {
		res.MergeStrategy = string(outcome.Strategy)
	}

	k.record(ctx, res)
	k.logger.Info("kernel cycle finished",
		"request_id", res.RequestID, "intent", res.Intent, "planner", res.PlannerSource,
		"actions", len(res.Actions), "succeeded", res.Succeeded,
		"elapsed_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds())
	return res, nil
}

// fail finalizes an infrastructure failure: best-effort audit, then the
// error propagates to the caller.
func (k *Kernel) fail(ctx context.Context, res model.KernelResult, cause error) (model.KernelResult, error) {
	res.FinishedAt = k.now()
	res.Succeeded = false
	if _, auditErr := k.writer.Write(ctx, WriteInput{
		RequestID:     res.RequestID,
		Source:        res.Source,
		Request:       stripDirectives(res.Request),
		Intent:        res.Intent,
		PlannerSource: res.PlannerSource,
		Reply:         "error: " + cause.Error(),
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}); auditErr != nil {
		k.logger.Warn("audit write failed for failed request", "error", auditErr)
	}
	k.record(ctx, res)
	k.logger.Error("kernel cycle failed", "request_id", res.RequestID, "error", cause)
	return res, cause
}

func (k *Kernel) record(ctx context.Context, res model.KernelResult) {
	attrs := metric.WithAttributes(
		attribute.String("intent", res.Intent),
		attribute.Bool("succeeded", res.Succeeded),
	)
	k.askCounter.Add(ctx, 1, attrs)
	k.askDuration.Record(ctx, float64(res.FinishedAt.Sub(res.StartedAt).Milliseconds()), attrs)
}
