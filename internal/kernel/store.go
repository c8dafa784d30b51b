package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/model"
)

// Store is the persistence surface the kernel needs. *storage.DB implements
// it; tests substitute an in-memory fake. Lookups report missing rows with
// storage.ErrNotFound.
type Store interface {
	ContextRecords(ctx context.Context, tagName string, limit int) ([]model.ContextRecord, error)
	SearchRecords(ctx context.Context, query string, limit int) ([]model.SearchHit, error)
	SearchRecordsByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]model.SearchHit, error)
	SetRecordEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error

	GetRecord(ctx context.Context, id uuid.UUID) (model.Record, error)
	FindRecordByFilename(ctx context.Context, filename string) (model.Record, error)
	CreateRecord(ctx context.Context, rec model.Record) (model.Record, error)
	AppendRecordBody(ctx context.Context, id uuid.UUID, text string) error
	ReplaceRecordBody(ctx context.Context, id uuid.UUID, body string) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error
	EnsureTaggedRecord(ctx context.Context, filename, tagName string) (uuid.UUID, error)

	PutConfirmation(ctx context.Context, pending model.PendingConfirmation) error
	TakeConfirmation(ctx context.Context, token string) (model.PendingConfirmation, error)
	SweepConfirmations(ctx context.Context, now time.Time) (int64, error)

	ListTasks(ctx context.Context) ([]model.Task, error)
	ListSkills(ctx context.Context) ([]model.Skill, error)
	FindTask(ctx context.Context, ref string) (model.Task, error)
	FindSkill(ctx context.Context, ref string) (model.Skill, error)
}
