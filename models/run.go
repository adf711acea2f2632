package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusError
}

// SyncRun is one invocation of the sync pipeline. It is inserted as running
// and finalized exactly once.
type SyncRun struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Status        RunStatus  `json:"status" db:"status"`
	Site          *Site      `json:"site" db:"site"` // nil = all sites
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	TotalProducts *int       `json:"total_products" db:"total_products"`
	ErrorMessage  *string    `json:"error_message" db:"error_message"`
}

// SyncResult is returned to whoever triggered a run.
type SyncResult struct {
	Success  bool      `json:"success"`
	Inserted int       `json:"inserted"`
	RunID    uuid.UUID `json:"runId"`
	Error    string    `json:"error,omitempty"`
}
