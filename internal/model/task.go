package model

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind is the closed set of things a task or skill can do when run.
// Dispatch over this union is exhaustive: adding a kind must extend every
// switch that consumes it.
type ActionKind string

const (
	ActionShell        ActionKind = "shell"         // run a shell command, surface stdout
	ActionPrompt       ActionKind = "prompt"        // send a prompt to the model provider
	ActionRecordCreate ActionKind = "record_create" // create a new record from a template
	ActionRecordAppend ActionKind = "record_append" // append to an existing record
)

// Action is one executable step of a task or skill definition.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Command is the shell command for ActionShell.
	Command string `json:"command,omitempty"`
	// Prompt is the model prompt for ActionPrompt.
	Prompt string `json:"prompt,omitempty"`
	// Filename and Content drive the record actions. Filename supports the
	// {date} placeholder, expanded to the current date at run time.
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Task is a user-defined, possibly scheduled unit of work. The cron
// schedule is evaluated outside the kernel; the kernel only runs tasks.
type Task struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule,omitempty"` // cron expression, informational here
	Action    Action    `json:"action"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Skill is a reusable named capability invokable by the assistant.
type Skill struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Action      Action    `json:"action"`
	CreatedAt   time.Time `json:"created_at"`
}
