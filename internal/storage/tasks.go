package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kioku/internal/model"
)

// CreateTask inserts a task definition.
func (db *DB) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	action, err := json.Marshal(t.Action)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: marshal task action: %w", err)
	}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, name, schedule, action, enabled)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 RETURNING created_at`,
		t.ID, t.Name, t.Schedule, action, t.Enabled,
	).Scan(&t.CreatedAt)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: create task: %w", err)
	}
	return t, nil
}

// CreateSkill inserts a skill definition.
func (db *DB) CreateSkill(ctx context.Context, s model.Skill) (model.Skill, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	action, err := json.Marshal(s.Action)
	if err != nil {
		return model.Skill{}, fmt.Errorf("storage: marshal skill action: %w", err)
	}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO skills (id, name, description, action)
		 VALUES ($1, $2, $3, $4::jsonb)
		 RETURNING created_at`,
		s.ID, s.Name, s.Description, action,
	).Scan(&s.CreatedAt)
	if err != nil {
		return model.Skill{}, fmt.Errorf("storage: create skill: %w", err)
	}
	return s, nil
}

// ListTasks returns all enabled tasks ordered by name.
func (db *DB) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, schedule, action, enabled, created_at
		 FROM tasks WHERE enabled ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListSkills returns all skills ordered by name.
func (db *DB) ListSkills(ctx context.Context) ([]model.Skill, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, description, action, created_at
		 FROM skills ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list skills: %w", err)
	}
	defer rows.Close()

	var skills []model.Skill
	for rows.Next() {
		var (
			s      model.Skill
			action []byte
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &action, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan skill: %w", err)
		}
		if err := json.Unmarshal(action, &s.Action); err != nil {
			return nil, fmt.Errorf("storage: unmarshal skill action: %w", err)
		}
		skills = append(skills, s)
	}
	return skills, rows.Err()
}

// FindTask resolves a task by ID, exact name (case-insensitive), then
// name substring, in that order.
func (db *DB) FindTask(ctx context.Context, ref string) (model.Task, error) {
	if id, err := uuid.Parse(ref); err == nil {
		rows, err := db.pool.Query(ctx,
			`SELECT id, name, schedule, action, enabled, created_at FROM tasks WHERE id = $1`, id,
		)
		if err != nil {
			return model.Task{}, fmt.Errorf("storage: find task: %w", err)
		}
		defer rows.Close()
		return oneTask(rows)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, name, schedule, action, enabled, created_at
		 FROM tasks
		 WHERE enabled AND (lower(name) = lower($1) OR name ILIKE $2)
		 ORDER BY (lower(name) = lower($1)) DESC, name
		 LIMIT 1`,
		ref, "%"+ref+"%",
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: find task: %w", err)
	}
	defer rows.Close()
	return oneTask(rows)
}

// FindSkill resolves a skill by ID, exact name (case-insensitive), then
// name substring, in that order.
func (db *DB) FindSkill(ctx context.Context, ref string) (model.Skill, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		rows, err = db.pool.Query(ctx,
			`SELECT id, name, description, action, created_at FROM skills WHERE id = $1`, id,
		)
	} else {
		rows, err = db.pool.Query(ctx,
			`SELECT id, name, description, action, created_at
			 FROM skills
			 WHERE lower(name) = lower($1) OR name ILIKE $2
			 ORDER BY (lower(name) = lower($1)) DESC, name
			 LIMIT 1`,
			ref, "%"+ref+"%",
		)
	}
	if err != nil {
		return model.Skill{}, fmt.Errorf("storage: find skill: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s      model.Skill
			action []byte
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &action, &s.CreatedAt); err != nil {
			return model.Skill{}, fmt.Errorf("storage: scan skill: %w", err)
		}
		if err := json.Unmarshal(action, &s.Action); err != nil {
			return model.Skill{}, fmt.Errorf("storage: unmarshal skill action: %w", err)
		}
		return s, rows.Err()
	}
	if err := rows.Err(); err != nil {
		return model.Skill{}, fmt.Errorf("storage: find skill: %w", err)
	}
	return model.Skill{}, ErrNotFound
}

func scanTasks(rows pgx.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		var (
			t      model.Task
			action []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Schedule, &action, &t.Enabled, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		if err := json.Unmarshal(action, &t.Action); err != nil {
			return nil, fmt.Errorf("storage: unmarshal task action: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func oneTask(rows pgx.Rows) (model.Task, error) {
	tasks, err := scanTasks(rows)
	if err != nil {
		return model.Task{}, err
	}
	if len(tasks) == 0 {
		return model.Task{}, ErrNotFound
	}
	return tasks[0], nil
}
