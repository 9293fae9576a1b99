package store

import (
	"context"

	"github.com/joescharf/kanban/internal/models"
)

// Store defines the persistence interface for import history.
type Store interface {
	// Batches
	CreateBatch(ctx context.Context, b *models.ImportBatch) error
	FinishBatch(ctx context.Context, b *models.ImportBatch) error
	GetBatch(ctx context.Context, id string) (*models.ImportBatch, error)
	ListBatches(ctx context.Context, limit int) ([]*models.ImportBatch, error)

	// Imported issues
	RecordIssue(ctx context.Context, issue *models.ImportedIssue) error
	ListBatchIssues(ctx context.Context, batchID string) ([]*models.ImportedIssue, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
