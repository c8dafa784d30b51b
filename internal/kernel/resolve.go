package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/llm"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/storage"
)

// resolveRecord turns a record reference into a record. Accepted forms, in
// order: a UUID, a relative-day token (today/明天/...), an explicit date, or
// a filename with or without extension. createDay controls whether a
// date-shaped reference with no record yet gets its day file created, which
// append wants and delete must never do.
func (e *Executor) resolveRecord(ctx context.Context, ref string, createDay bool) (model.Record, bool, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		rec, err := e.store.GetRecord(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return model.Record{}, false, nil
		}
		if err != nil {
			return model.Record{}, false, err
		}
		return rec, true, nil
	}

	name, isDate := resolveRelativeDate(ref, e.now())
	if !isDate && dateRe.MatchString(ref) {
		name, isDate = dateRe.FindString(ref), true
	}
	if isDate {
		name += ".md"
	}

	rec, err := e.store.FindRecordByFilename(ctx, name)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Record{}, false, err
	}
	if !isDate && !strings.Contains(name, ".") {
		rec, err = e.store.FindRecordByFilename(ctx, name+".md")
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return model.Record{}, false, err
		}
	}
	if isDate && createDay {
		id, err := e.store.EnsureTaggedRecord(ctx, name, model.TagCore)
		if err != nil {
			return model.Record{}, false, fmt.Errorf("kernel: ensure day record: %w", err)
		}
		rec, err := e.store.GetRecord(ctx, id)
		if err != nil {
			return model.Record{}, false, err
		}
		return rec, true, nil
	}
	return model.Record{}, false, nil
}

func (e *Executor) runTask(ctx context.Context, ref, request string) (callResult, error) {
	task, err := e.store.FindTask(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return callResult{reply: pick(request, fmt.Sprintf("找不到任务 %q。", ref), fmt.Sprintf("Task %q not found.", ref))}, nil
	}
	if err != nil {
		return callResult{}, fmt.Errorf("kernel: find task: %w", err)
	}
	if !task.Enabled {
		return callResult{reply: pick(request, fmt.Sprintf("任务 %s 已停用。", task.Name), fmt.Sprintf("Task %s is disabled.", task.Name))}, nil
	}
	output, extra, related, err := e.runAction(ctx, task.Action)
	if err != nil {
		e.logger.Warn("task action failed", "task", task.Name, "error", err)
		return callResult{
			reply:   pick(request, fmt.Sprintf("任务 %s 执行失败：%s", task.Name, output), fmt.Sprintf("Task %s failed: %s", task.Name, output)),
			actions: []string{"task.run:" + task.ID.String() + ":error"},
		}, nil
	}
	res := callResult{
		reply:   pick(request, fmt.Sprintf("任务 %s 已完成。", task.Name), fmt.Sprintf("Task %s completed.", task.Name)),
		actions: append([]string{"task.run:" + task.ID.String() + ":ok"}, extra...),
		related: related,
	}
	if output != "" {
		res.reply += "\n" + output
	}
	return res, nil
}

func (e *Executor) runSkill(ctx context.Context, ref, request string) (callResult, error) {
	skill, err := e.store.FindSkill(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return callResult{reply: pick(request, fmt.Sprintf("找不到技能 %q。", ref), fmt.Sprintf("Skill %q not found.", ref))}, nil
	}
	if err != nil {
		return callResult{}, fmt.Errorf("kernel: find skill: %w", err)
	}
	output, extra, related, err := e.runAction(ctx, skill.Action)
	if err != nil {
		e.logger.Warn("skill action failed", "skill", skill.Name, "error", err)
		return callResult{
			reply:   pick(request, fmt.Sprintf("技能 %s 执行失败：%s", skill.Name, output), fmt.Sprintf("Skill %s failed: %s", skill.Name, output)),
			actions: []string{"skill.run:" + skill.ID.String() + ":error"},
		}, nil
	}
	res := callResult{
		reply:   pick(request, fmt.Sprintf("技能 %s 已完成。", skill.Name), fmt.Sprintf("Skill %s completed.", skill.Name)),
		actions: append([]string{"skill.run:" + skill.ID.String() + ":ok"}, extra...),
		related: related,
	}
	if output != "" {
		res.reply += "\n" + output
	}
	return res, nil
}

// runAction executes one task/skill action. Record-touching kinds report the
// touched record as extra action markers so the memory gate sees them.
func (e *Executor) runAction(ctx context.Context, act model.Action) (output string, extra []string, related []string, err error) {
	expand := func(s string) string {
		return strings.ReplaceAll(s, "{date}", e.now().Format("2006-01-02"))
	}
	switch act.Kind {
	case model.ActionShell:
		out, err := e.shell(ctx, act.Command)
		return out, nil, nil, err
	case model.ActionPrompt:
		out, err := e.provider.Complete(ctx, "", expand(act.Prompt))
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) {
				return "model unavailable", nil, nil, err
			}
			return "", nil, nil, err
		}
		return strings.TrimSpace(out), nil, nil, nil
	case model.ActionRecordCreate:
		filename := expand(act.Filename)
		content := expand(act.Content)
		rec, findErr := e.store.FindRecordByFilename(ctx, filename)
		if findErr == nil {
			if err := e.store.AppendRecordBody(ctx, rec.ID, content); err != nil {
				return "", nil, nil, err
			}
			return "", []string{"record.append:" + rec.ID.String()}, []string{rec.ID.String()}, nil
		}
		if !errors.Is(findErr, storage.ErrNotFound) {
			return "", nil, nil, findErr
		}
		created, err := e.store.CreateRecord(ctx, model.Record{Filename: filename, Kind: "text", Body: content})
		if err != nil {
			return "", nil, nil, err
		}
		return "", []string{"record.create:" + created.ID.String()}, []string{created.ID.String()}, nil
	case model.ActionRecordAppend:
		id, err := e.store.EnsureTaggedRecord(ctx, expand(act.Filename), model.TagCore)
		if err != nil {
			return "", nil, nil, err
		}
		if err := e.store.AppendRecordBody(ctx, id, expand(act.Content)); err != nil {
			return "", nil, nil, err
		}
		return "", []string{"record.append:" + id.String()}, []string{id.String()}, nil
	default:
		return "", nil, nil, fmt.Errorf("kernel: unknown action kind %q", act.Kind)
	}
}

// Preview renders a human-readable line per call for the confirmation
// prompt, resolving record references read-only so the user sees what would
// actually be hit.
func (e *Executor) Preview(ctx context.Context, calls []model.ToolCall) []string {
	lines := make([]string, 0, len(calls))
	for _, call := range calls {
		target := call.Arg("record")
		if rec, ok, err := e.resolveRecord(ctx, target, false); err == nil && ok {
			target = fmt.Sprintf("%s (%s)", rec.Filename, rec.ID)
		}
		switch call.Name {
		case ToolDelete:
			lines = append(lines, fmt.Sprintf("%s → %s", call.Name, target))
		case ToolReplace:
			lines = append(lines, fmt.Sprintf("%s → %s (%d chars)", call.Name, target, len([]rune(call.Arg("content")))))
		default:
			lines = append(lines, call.Name)
		}
	}
	return lines
}
