package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
)

var memNow = time.Date(2026, 8, 29, 14, 23, 5, 0, time.UTC)

func newTestWriter(store Store) *Writer {
	thresholds := ConflictThresholds{RequestSimMin: 0.34, ReplySimMax: 0.62, ScoreMin: 0.22}
	return NewWriter(store, testLogger(), thresholds, func() time.Time { return memNow })
}

func baseInput() WriteInput {
	return WriteInput{
		RequestID:     uuid.New(),
		Source:        "cli",
		Request:       "搜索 京都",
		Intent:        IntentSearch,
		PlannerSource: "rule",
		Reply:         "找到 1 条记录",
		StartedAt:     memNow.Add(-50 * time.Millisecond),
		FinishedAt:    memNow,
		Succeeded:     true,
	}
}

func TestWriterAuditAlwaysWritten(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Actions = []string{"record.search:京都:1"}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, out.MemoryWritten, "a plain search is not memorable")
	assert.Empty(t, out.MemoryRecordID)
	require.NotEmpty(t, out.AuditRecordID)

	audit, err := store.FindRecordByFilename(context.Background(), "Audit 2026-08-29.md")
	require.NoError(t, err)
	assert.Contains(t, audit.Body, "搜索 京都")
	assert.Contains(t, audit.Body, "planner=rule")
	assert.Contains(t, audit.Body, "record.search:京都:1")
}

func TestWriterGateOpensOnKeyword(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "记住 我喜欢靠窗的座位"
	in.Reply = "好的，已经记住了。"
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, out.MemoryWritten)
	assert.Equal(t, model.MergeVersioned, out.Strategy)

	mem, err := store.FindRecordByFilename(context.Background(), "Memory 2026-08-29.md")
	require.NoError(t, err)
	assert.Contains(t, mem.Body, "Request: 记住 我喜欢靠窗的座位")
	assert.Contains(t, mem.Body, "strategy=versioned")
}

func TestWriterGateOpensOnMutation(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "创建一条记录"
	in.Actions = []string{"record.create:" + uuid.NewString()}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.MemoryWritten)
}

func TestWriterGateIgnoresFailedMutations(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	for _, action := range []string{"record.delete:error", "record.create:invalid"} {
		in := baseInput()
		in.Request = "删除记录 旅行计划.md"
		in.Actions = []string{action}
		in.Succeeded = false
		out, err := w.Write(context.Background(), in)
		require.NoError(t, err)
		assert.False(t, out.MemoryWritten, "marker %s must not open the gate", action)
	}
}

func TestWriterGateOpensOnTaskRun(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "运行任务 磁盘检查"
	in.Actions = []string{"task.run:" + uuid.NewString() + ":ok"}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.MemoryWritten)
}

func TestWriterGateClosedForPromptSkillRun(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "运行技能 俳句"
	in.Actions = []string{"skill.run:" + uuid.NewString() + ":ok"}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.MemoryWritten, "a skill that touched no record is not memorable")
}

func TestWriterGateOpensForRecordTouchingSkillRun(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "运行技能 每日总结"
	in.Actions = []string{"skill.run:" + uuid.NewString() + ":ok", "record.append:" + uuid.NewString()}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.MemoryWritten)
}

func TestWriterGateStaysClosedForChitchat(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "你好"
	in.Reply = "你好！"
	in.Actions = nil
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.MemoryWritten)
	assert.NotEmpty(t, out.AuditRecordID)
}

// conflictItem builds a context item that parses as a prior memory entry.
func conflictItem(id uuid.UUID, request, reply string) model.ContextItem {
	return model.ContextItem{
		ID:       id,
		Filename: "Memory 2026-08-20.md",
		Snippet:  "## 09:00:00 [cli] strategy=versioned\nRequest: " + request + "\nReply: " + reply + "\n",
	}
}

func TestWriterDetectsConflict(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)
	prior := uuid.New()

	in := baseInput()
	in.Request = "remember the hotel for the kyoto trip"
	in.Reply = "Booked the station-front hotel in Kyoto."
	in.Items = []model.ContextItem{
		conflictItem(prior, "remember the hotel for the kyoto trip", "Booked the riverside ryokan in Arashiyama."),
	}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, out.Conflict, "same request, different reply must conflict")
	assert.Equal(t, prior, out.Conflict.RecordID)
	assert.True(t, out.MemoryWritten)
	assert.Equal(t, model.MergeVersioned, out.Strategy)

	mem, err := store.FindRecordByFilename(context.Background(), "Memory 2026-08-29.md")
	require.NoError(t, err)
	assert.Contains(t, mem.Body, "Conflict: "+prior.String())
}

func TestWriterNoConflictWhenRepliesAgree(t *testing.T) {
	w := newTestWriter(newMemStore())
	prior := uuid.New()

	in := baseInput()
	in.Request = "remember the hotel for the kyoto trip"
	in.Reply = "Booked the station-front hotel in Kyoto."
	in.Items = []model.ContextItem{
		conflictItem(prior, "remember the hotel for the kyoto trip", "Booked the station-front hotel in Kyoto."),
	}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out.Conflict)
}

func TestWriterNoConflictForUnrelatedRequests(t *testing.T) {
	w := newTestWriter(newMemStore())

	in := baseInput()
	in.Request = "remember my seat preference"
	in.Reply = "Window seat noted."
	in.Items = []model.ContextItem{
		conflictItem(uuid.New(), "weekly grocery budget planning", "Set the budget to 300."),
	}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out.Conflict)
}

func TestWriterKeepDirectiveSkipsWriteOnConflict(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "remember the hotel for the kyoto trip"
	in.Reply = "Booked the station-front hotel in Kyoto."
	in.MergeDirective = model.MergeKeep
	in.Items = []model.ContextItem{
		conflictItem(uuid.New(), "remember the hotel for the kyoto trip", "Booked the riverside ryokan in Arashiyama."),
	}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)

	assert.NotNil(t, out.Conflict)
	assert.False(t, out.MemoryWritten, "keep preserves the prior entry")
	assert.Equal(t, model.MergeKeep, out.Strategy)
	_, err = store.FindRecordByFilename(context.Background(), "Memory 2026-08-29.md")
	assert.Error(t, err, "no memory day file should exist")
}

func TestWriterKeepDirectiveWritesWithoutConflict(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "记住 我喜欢靠窗的座位"
	in.MergeDirective = model.MergeKeep
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.MemoryWritten, "keep only skips when something conflicts")
}

func TestWriterOverwriteDirectiveMarksSupersession(t *testing.T) {
	store := newMemStore()
	w := newTestWriter(store)

	in := baseInput()
	in.Request = "remember the hotel for the kyoto trip"
	in.Reply = "Booked the station-front hotel in Kyoto."
	in.MergeDirective = model.MergeOverwrite
	in.Items = []model.ContextItem{
		conflictItem(uuid.New(), "remember the hotel for the kyoto trip", "Booked the riverside ryokan in Arashiyama."),
	}
	out, err := w.Write(context.Background(), in)
	require.NoError(t, err)
	require.True(t, out.MemoryWritten)

	mem, err := store.FindRecordByFilename(context.Background(), "Memory 2026-08-29.md")
	require.NoError(t, err)
	assert.Contains(t, mem.Body, "strategy=overwrite")
	assert.Contains(t, mem.Body, "Supersedes")
}

func TestParseMemoryEntry(t *testing.T) {
	req, reply, ok := parseMemoryEntry("## 09:00:00 [cli] strategy=versioned\nRequest: hello there\nReply: hi\n")
	require.True(t, ok)
	assert.Equal(t, "hello there", req)
	assert.Equal(t, "hi", reply)

	_, _, ok = parseMemoryEntry("just a plain note about kyoto")
	assert.False(t, ok)
}
