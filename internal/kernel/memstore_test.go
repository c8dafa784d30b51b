package kernel

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/storage"
)

// memStore is an in-memory Store for kernel tests. Behavior mirrors the
// Postgres implementation: case-insensitive filename lookup, append that
// never truncates, atomic single-use confirmation take.
type memStore struct {
	mu            sync.Mutex
	records       map[uuid.UUID]*model.Record
	tags          map[uuid.UUID]map[string]struct{}
	confirmations map[string]model.PendingConfirmation
	tasks         []model.Task
	skills        []model.Skill
	clock         func() time.Time
}

func newMemStore() *memStore {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	return &memStore{
		records:       make(map[uuid.UUID]*model.Record),
		tags:          make(map[uuid.UUID]map[string]struct{}),
		confirmations: make(map[string]model.PendingConfirmation),
		clock:         func() time.Time { return base },
	}
}

// addRecord seeds a record directly, bypassing the kernel.
func (m *memStore) addRecord(filename, body string, updatedAt time.Time, tagNames ...string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.records[id] = &model.Record{
		ID:        id,
		Filename:  filename,
		Kind:      "text",
		Preview:   snippetOf(body),
		Body:      body,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	tags := make(map[string]struct{})
	for _, t := range tagNames {
		tags[t] = struct{}{}
	}
	m.tags[id] = tags
	return id
}

func snippetOf(body string) string {
	runes := []rune(body)
	if len(runes) > 400 {
		runes = runes[:400]
	}
	return string(runes)
}

func (m *memStore) ContextRecords(_ context.Context, tagName string, limit int) ([]model.ContextRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ContextRecord
	for id, rec := range m.records {
		if rec.Archived {
			continue
		}
		if _, ok := m.tags[id][tagName]; !ok {
			continue
		}
		out = append(out, model.ContextRecord{
			ID:        rec.ID,
			Filename:  rec.Filename,
			Preview:   rec.Preview,
			Snippet:   snippetOf(rec.Body),
			UpdatedAt: rec.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SearchRecords(_ context.Context, query string, limit int) ([]model.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	type scored struct {
		hit   model.SearchHit
		score int
	}
	var hits []scored
	for _, rec := range m.records {
		if rec.Archived {
			continue
		}
		score := 0
		if strings.Contains(strings.ToLower(rec.Filename), q) {
			score += 3
		}
		if strings.Contains(strings.ToLower(rec.Preview), q) {
			score += 2
		}
		if strings.Contains(strings.ToLower(rec.Body), q) {
			score++
		}
		if score == 0 {
			continue
		}
		hits = append(hits, scored{model.SearchHit{ID: rec.ID, Filename: rec.Filename, Preview: rec.Preview, UpdatedAt: rec.UpdatedAt}, score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]model.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = h.hit
	}
	return out, nil
}

func (m *memStore) SearchRecordsByEmbedding(_ context.Context, _ pgvector.Vector, limit int) ([]model.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SearchHit
	for _, rec := range m.records {
		if rec.Embedding == nil || rec.Archived {
			continue
		}
		out = append(out, model.SearchHit{ID: rec.ID, Filename: rec.Filename, Preview: rec.Preview, UpdatedAt: rec.UpdatedAt})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SetRecordEmbedding(_ context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Embedding = &embedding
	return nil
}

func (m *memStore) GetRecord(_ context.Context, id uuid.UUID) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return model.Record{}, storage.ErrNotFound
	}
	return *rec, nil
}

func (m *memStore) FindRecordByFilename(_ context.Context, filename string) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.findByFilenameLocked(filename)
	if !ok {
		return model.Record{}, storage.ErrNotFound
	}
	return *rec, nil
}

func (m *memStore) findByFilenameLocked(filename string) (*model.Record, bool) {
	for _, rec := range m.records {
		if strings.EqualFold(rec.Filename, filename) {
			return rec, true
		}
	}
	return nil, false
}

func (m *memStore) CreateRecord(_ context.Context, rec model.Record) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := m.clock()
	rec.Preview = snippetOf(rec.Body)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.records[rec.ID] = &rec
	m.tags[rec.ID] = make(map[string]struct{})
	return rec, nil
}

func (m *memStore) AppendRecordBody(_ context.Context, id uuid.UUID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.Body == "" {
		rec.Body = text
	} else {
		rec.Body += "\n" + text
	}
	rec.Preview = snippetOf(rec.Body)
	rec.UpdatedAt = m.clock()
	return nil
}

func (m *memStore) ReplaceRecordBody(_ context.Context, id uuid.UUID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Body = body
	rec.Preview = snippetOf(body)
	rec.UpdatedAt = m.clock()
	return nil
}

func (m *memStore) DeleteRecord(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.records, id)
	delete(m.tags, id)
	return nil
}

func (m *memStore) EnsureTaggedRecord(_ context.Context, filename, tagName string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.findByFilenameLocked(filename); ok {
		m.tags[rec.ID][tagName] = struct{}{}
		return rec.ID, nil
	}
	id := uuid.New()
	now := m.clock()
	m.records[id] = &model.Record{ID: id, Filename: filename, Kind: "text", CreatedAt: now, UpdatedAt: now}
	m.tags[id] = map[string]struct{}{tagName: {}}
	return id, nil
}

func (m *memStore) PutConfirmation(_ context.Context, pending model.PendingConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations[strings.ToUpper(pending.Token)] = pending
	return nil
}

func (m *memStore) TakeConfirmation(_ context.Context, token string) (model.PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.confirmations[strings.ToUpper(token)]
	if !ok {
		return model.PendingConfirmation{}, storage.ErrNotFound
	}
	delete(m.confirmations, strings.ToUpper(token))
	return pending, nil
}

func (m *memStore) SweepConfirmations(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, pending := range m.confirmations {
		if now.After(pending.ExpiresAt) {
			delete(m.confirmations, token)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListTasks(_ context.Context) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Task(nil), m.tasks...), nil
}

func (m *memStore) ListSkills(_ context.Context) ([]model.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Skill(nil), m.skills...), nil
}

func (m *memStore) FindTask(_ context.Context, ref string) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID.String() == ref || strings.EqualFold(t.Name, ref) {
			return t, nil
		}
	}
	for _, t := range m.tasks {
		if strings.Contains(strings.ToLower(t.Name), strings.ToLower(ref)) {
			return t, nil
		}
	}
	return model.Task{}, storage.ErrNotFound
}

func (m *memStore) FindSkill(_ context.Context, ref string) (model.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.skills {
		if s.ID.String() == ref || strings.EqualFold(s.Name, ref) {
			return s, nil
		}
	}
	for _, s := range m.skills {
		if strings.Contains(strings.ToLower(s.Name), strings.ToLower(ref)) {
			return s, nil
		}
	}
	return model.Skill{}, storage.ErrNotFound
}

// fakeProvider is a canned llm.Provider for planner and executor tests.
type fakeProvider struct {
	response  string
	err       error
	gotSystem string
	gotPrompt string
}

func (f *fakeProvider) Complete(_ context.Context, system, prompt string) (string, error) {
	f.gotSystem = system
	f.gotPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeProvider) Name() string { return "fake" }
