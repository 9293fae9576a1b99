package models

import "time"

// BatchStatus represents the outcome of an import batch.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// ImportBatch records one "create tasks" action.
type ImportBatch struct {
	ID          string
	CloudID     string
	ProjectKey  string
	Source      string // uploaded file name or "pasted text"
	TotalRows   int
	CreatedRows int
	Status      BatchStatus
	Error       string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// ImportedIssue is an issue created by a batch.
type ImportedIssue struct {
	ID        string
	BatchID   string
	RowIndex  int
	IssueKey  string
	IssueID   string
	Summary   string
	CreatedAt time.Time
}
