package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/model"
)

// ConflictThresholds gate what counts as contradicting prior memory: the
// requests must be similar, the replies must not be, and the combined score
// must clear the floor.
type ConflictThresholds struct {
	RequestSimMin float64
	ReplySimMax   float64
	ScoreMin      float64
}

// Writer decides whether an outcome is worth remembering, detects conflicts
// with prior memory, applies the merge strategy, and always appends the
// audit trail. Memory and audit live in day files: "Memory 2026-08-29.md"
// tagged Core, "Audit 2026-08-29.md" tagged AuditLog.
type Writer struct {
	store      Store
	logger     *slog.Logger
	now        func() time.Time
	thresholds ConflictThresholds
}

// NewWriter constructs a Writer.
func NewWriter(store Store, logger *slog.Logger, thresholds ConflictThresholds, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{store: store, logger: logger, now: now, thresholds: thresholds}
}

// WriteInput is everything the writer needs about a finished cycle.
type WriteInput struct {
	RequestID         uuid.UUID
	Source            string
	Request           string
	Intent            string
	PlannerSource     string
	PlannerNote       string
	ToolPlan          []string
	Actions           []string
	Reply             string
	RelatedRecordIDs  []string
	ContextRecordIDs  []string
	Items             []model.ContextItem
	MergeDirective    model.MergeStrategy // "" when the request carried none
	ConfirmationToken string
	StartedAt         time.Time
	FinishedAt        time.Time
	Succeeded         bool
}

// WriteOutcome reports what was persisted.
type WriteOutcome struct {
	MemoryRecordID string
	AuditRecordID  string
	Strategy       model.MergeStrategy
	Conflict       *model.MemoryConflict
	MemoryWritten  bool
}

// Write runs the persistence gate and appends to the day files. The audit
// entry is written whether or not the memory gate opened.
func (w *Writer) Write(ctx context.Context, in WriteInput) (WriteOutcome, error) {
	var out WriteOutcome

	if w.shouldPersist(in) {
		out.Conflict = w.detectConflict(in)
		out.Strategy = resolveStrategy(in.MergeDirective)
		if out.Strategy == model.MergeKeep && out.Conflict != nil {
			w.logger.Info("memory write skipped, keeping prior entry", "conflict_record", out.Conflict.RecordID)
		} else {
			id, err := w.appendDayFile(ctx, "Memory", model.TagCore, w.memoryEntry(in, out))
			if err != nil {
				return out, fmt.Errorf("kernel: write memory: %w", err)
			}
			out.MemoryRecordID = id.String()
			out.MemoryWritten = true
		}
	}

	auditID, err := w.appendDayFile(ctx, "Audit", model.TagAuditLog, w.auditEntry(in, out))
	if err != nil {
		return out, fmt.Errorf("kernel: write audit: %w", err)
	}
	out.AuditRecordID = auditID.String()
	return out, nil
}

// Keywords whose presence in the request marks the outcome as memorable.
var persistKeywords = []string{
	"remember", "don't forget", "preference", "prefer", "decision", "decide", "agreed", "from now on",
	"记住", "别忘", "偏好", "喜欢", "决定", "决策", "约定", "以后", "今后",
}

// Reply terms that signal a conclusion was reached.
var conclusionTerms = []string{
	"conclusion", "decided", "decision", "结论", "决定", "总之", "最终",
}

// Action prefixes that denote a record mutation worth remembering.
var mutationPrefixes = []string{
	"record.create:", "record.append:", "record.replace:", "record.delete:",
}

// shouldPersist is the memory gate: an explicit merge directive, a memorable
// request, a successful record mutation or task run, or a concluded reply
// tied to records. A skill run opens the gate only through the record
// markers its action emitted.
func (w *Writer) shouldPersist(in WriteInput) bool {
	if in.MergeDirective != "" {
		return true
	}
	lowered := strings.ToLower(in.Request)
	for _, kw := range persistKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	for _, action := range in.Actions {
		// Failure markers share the mutation prefixes, so skip them first.
		if strings.HasSuffix(action, ":error") || strings.HasSuffix(action, ":invalid") {
			continue
		}
		for _, prefix := range mutationPrefixes {
			if strings.HasPrefix(action, prefix) {
				return true
			}
		}
		if strings.HasPrefix(action, "task.run:") && strings.HasSuffix(action, ":ok") {
			return true
		}
	}
	if len(in.RelatedRecordIDs) > 0 {
		loweredReply := strings.ToLower(in.Reply)
		for _, term := range conclusionTerms {
			if strings.Contains(loweredReply, term) {
				return true
			}
		}
	}
	return false
}

// detectConflict compares this cycle against each context item that parses
// as a prior memory entry and returns the strongest conflict, if any. A
// conflict is a similar request that produced a dissimilar reply.
func (w *Writer) detectConflict(in WriteInput) *model.MemoryConflict {
	reqTokens := tokenSet(in.Request)
	replyTokens := tokenSet(in.Reply)

	var best *model.MemoryConflict
	for _, item := range in.Items {
		prevReq, prevReply, ok := parseMemoryEntry(item.Snippet)
		if !ok {
			continue
		}
		reqSim := jaccard(reqTokens, tokenSet(prevReq))
		replySim := jaccard(replyTokens, tokenSet(prevReply))
		score := reqSim * (1 - replySim)
		if reqSim < w.thresholds.RequestSimMin || replySim > w.thresholds.ReplySimMax || score < w.thresholds.ScoreMin {
			continue
		}
		if best == nil || score > best.Score {
			best = &model.MemoryConflict{
				RecordID:   item.ID,
				Filename:   item.Filename,
				RequestSim: reqSim,
				ReplySim:   replySim,
				Score:      score,
			}
		}
	}
	if best != nil {
		w.logger.Info("memory conflict detected",
			"record", best.RecordID, "request_sim", best.RequestSim, "reply_sim", best.ReplySim, "score", best.Score)
	}
	return best
}

// resolveStrategy picks the merge strategy: an explicit directive always
// wins; otherwise versioned, conflict or not.
func resolveStrategy(directive model.MergeStrategy) model.MergeStrategy {
	if directive != "" {
		return directive
	}
	return model.MergeVersioned
}

// parseMemoryEntry recovers the Request/Reply sections from a memory
// snippet written by memoryEntry.
func parseMemoryEntry(snippet string) (request, reply string, ok bool) {
	reqIdx := strings.Index(snippet, "Request: ")
	replyIdx := strings.Index(snippet, "Reply: ")
	if reqIdx < 0 || replyIdx < 0 || replyIdx < reqIdx {
		return "", "", false
	}
	request = firstLine(snippet[reqIdx+len("Request: "):])
	reply = firstLine(snippet[replyIdx+len("Reply: "):])
	return request, reply, request != "" && reply != ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// memoryEntry formats one memory block. Request and Reply stay on single
// lines so parseMemoryEntry can read them back for conflict detection.
func (w *Writer) memoryEntry(in WriteInput, out WriteOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s [%s] strategy=%s\n", w.now().Format("15:04:05"), in.Source, out.Strategy)
	fmt.Fprintf(&b, "Request: %s\n", oneLine(in.Request))
	fmt.Fprintf(&b, "Reply: %s\n", oneLine(truncateRunes(in.Reply, 500)))
	if len(in.RelatedRecordIDs) > 0 {
		fmt.Fprintf(&b, "Related: %s\n", strings.Join(in.RelatedRecordIDs, ", "))
	}
	if out.Conflict != nil {
		fmt.Fprintf(&b, "Conflict: %s score=%.2f\n", out.Conflict.RecordID, out.Conflict.Score)
		if out.Strategy == model.MergeOverwrite {
			b.WriteString("Supersedes the conflicting entry above.\n")
		}
	}
	return b.String()
}

// auditEntry formats one audit block: the full trace of the cycle.
func (w *Writer) auditEntry(in WriteInput, out WriteOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s request=%s [%s]\n", w.now().Format("15:04:05"), in.RequestID, in.Source)
	fmt.Fprintf(&b, "Request: %s\n", oneLine(in.Request))
	fmt.Fprintf(&b, "Intent: %s planner=%s\n", in.Intent, in.PlannerSource)
	if in.PlannerNote != "" {
		fmt.Fprintf(&b, "Note: %s\n", oneLine(in.PlannerNote))
	}
	if len(in.ToolPlan) > 0 {
		fmt.Fprintf(&b, "Plan: %s\n", strings.Join(in.ToolPlan, " → "))
	}
	if len(in.Actions) > 0 {
		fmt.Fprintf(&b, "Actions: %s\n", strings.Join(in.Actions, ", "))
	}
	if len(in.ContextRecordIDs) > 0 {
		fmt.Fprintf(&b, "Context: %s\n", strings.Join(in.ContextRecordIDs, ", "))
	}
	if len(in.RelatedRecordIDs) > 0 {
		fmt.Fprintf(&b, "Related: %s\n", strings.Join(in.RelatedRecordIDs, ", "))
	}
	if in.ConfirmationToken != "" {
		fmt.Fprintf(&b, "Confirmation: %s\n", in.ConfirmationToken)
	}
	if out.Strategy != "" {
		fmt.Fprintf(&b, "Memory: written=%t strategy=%s\n", out.MemoryWritten, out.Strategy)
	}
	fmt.Fprintf(&b, "Elapsed: %dms succeeded=%t\n", in.FinishedAt.Sub(in.StartedAt).Milliseconds(), in.Succeeded)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendDayFile appends an entry to today's tagged day file, creating the
// file on first use.
func (w *Writer) appendDayFile(ctx context.Context, prefix, tag, entry string) (uuid.UUID, error) {
	filename := fmt.Sprintf("%s %s.md", prefix, w.now().Format("2006-01-02"))
	id, err := w.store.EnsureTaggedRecord(ctx, filename, tag)
	if err != nil {
		return uuid.Nil, err
	}
	if err := w.store.AppendRecordBody(ctx, id, strings.TrimRight(entry, "\n")); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
