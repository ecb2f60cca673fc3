// Package state records pipeline runs in a SQLite ledger: one row per run and
// one row per table the run materialized.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one pipeline execution.
type Run struct {
	ID          string
	Status      RunStatus
	Selection   []string
	InputRoot   string
	OutputRoot  string
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// TableResult is one table written by a run.
type TableResult struct {
	RunID    string
	Table    string
	Rows     int64
	Files    int
	Duration time.Duration
}

// Store is the run ledger.
type Store interface {
	CreateRun(ctx context.Context, run NewRun) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error
	RecordTable(ctx context.Context, result TableResult) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	TableResults(ctx context.Context, runID string) ([]TableResult, error)
	Close() error
}

// NewRun describes a run about to start.
type NewRun struct {
	Selection  []string
	InputRoot  string
	OutputRoot string
}
