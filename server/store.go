package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	ErrScopeExists   = errors.New("scope already exists")
	ErrScopeNotFound = errors.New("scope not found")
)

// ScopeRecord represents a stored scope document.
type ScopeRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Source    json.RawMessage `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunRecord represents a recorded scope evaluation.
type RunRecord struct {
	ID         string          `json:"id"`
	ScopeID    string          `json:"scope_id,omitempty"`
	Status     string          `json:"status"` // "succeeded" or "failed"
	Error      string          `json:"error,omitempty"`
	Inputs     json.RawMessage `json:"inputs,omitempty"`
	Outputs    json.RawMessage `json:"outputs,omitempty"`
	Trace      json.RawMessage `json:"trace,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// ScopeStore provides CRUD operations for scope records.
type ScopeStore interface {
	ListScopes(ctx context.Context) ([]ScopeRecord, error)
	GetScope(ctx context.Context, id string) (ScopeRecord, bool, error)
	CreateScope(ctx context.Context, rec ScopeRecord) error
	UpdateScope(ctx context.Context, rec ScopeRecord) error
	DeleteScope(ctx context.Context, id string) error
}

// RunStore records evaluation runs for later inspection by viewers.
type RunStore interface {
	ListRuns(ctx context.Context, scopeID string) ([]RunRecord, error)
	GetRun(ctx context.Context, id string) (RunRecord, bool, error)
	CreateRun(ctx context.Context, rec RunRecord) error

	// DeleteRunsBefore removes runs that finished before the cutoff and
	// returns how many were deleted. Used by the retention sweeper.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store combines scope and run storage; both provided implementations
// (memory, SQLite) satisfy it.
type Store interface {
	ScopeStore
	RunStore
}
