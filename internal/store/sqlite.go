package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/kanban/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; concurrent requests queue on the pool instead of
	// failing with "database is locked".
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Batches ---

const batchColumns = `id, cloud_id, project_key, source, total_rows, created_rows, status, error, started_at, finished_at`

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *models.ImportBatch) error {
	if b.ID == "" {
		b.ID = newULID()
	}
	if b.Status == "" {
		b.Status = models.BatchStatusRunning
	}
	b.StartedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		b.ID, b.CloudID, b.ProjectKey, b.Source, b.TotalRows, b.CreatedRows, string(b.Status), b.Error, b.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// FinishBatch stores the final counts, status and error of a batch.
func (s *SQLiteStore) FinishBatch(ctx context.Context, b *models.ImportBatch) error {
	now := time.Now().UTC()
	b.FinishedAt = &now

	result, err := s.db.ExecContext(ctx,
		`UPDATE import_batches SET created_rows=?, status=?, error=?, finished_at=? WHERE id=?`,
		b.CreatedRows, string(b.Status), b.Error, now, b.ID,
	)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("batch not found: %s", b.ID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*models.ImportBatch, error) {
	b := &models.ImportBatch{}
	var status string
	var finishedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.CloudID, &b.ProjectKey, &b.Source, &b.TotalRows, &b.CreatedRows,
		&status, &b.Error, &b.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)
	if finishedAt.Valid {
		b.FinishedAt = &finishedAt.Time
	}
	return b, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*models.ImportBatch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns the most recent batches first. limit <= 0 means no limit.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit int) ([]*models.ImportBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM import_batches ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []*models.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// --- Imported issues ---

func (s *SQLiteStore) RecordIssue(ctx context.Context, issue *models.ImportedIssue) error {
	if issue.ID == "" {
		issue.ID = newULID()
	}
	issue.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_issues (id, batch_id, row_index, issue_key, issue_id, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.BatchID, issue.RowIndex, issue.IssueKey, issue.IssueID, issue.Summary, issue.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record issue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListBatchIssues(ctx context.Context, batchID string) ([]*models.ImportedIssue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, row_index, issue_key, issue_id, summary, created_at
		FROM imported_issues WHERE batch_id = ? ORDER BY row_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.ImportedIssue
	for rows.Next() {
		i := &models.ImportedIssue{}
		if err := rows.Scan(&i.ID, &i.BatchID, &i.RowIndex, &i.IssueKey, &i.IssueID, &i.Summary, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan imported issue: %w", err)
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}
