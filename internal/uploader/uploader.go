// Package uploader drives the login, task loading and issue creation flow for one session.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/joescharf/kanban/internal/dataset"
	"github.com/joescharf/kanban/internal/jira"
	"github.com/joescharf/kanban/internal/metrics"
	"github.com/joescharf/kanban/internal/models"
	"github.com/joescharf/kanban/internal/oauth"
	"github.com/joescharf/kanban/internal/store"
)

var (
	ErrNotLoggedIn   = errors.New("not logged in to Jira")
	ErrNoTasks       = errors.New("no tasks loaded")
	ErrNoProject     = errors.New("no project selected")
	ErrUnknownColumn = errors.New("unknown column")
)

// Authenticator performs the OAuth side of the flow.
type Authenticator interface {
	AuthorizationURL() string
	Exchange(ctx context.Context, code string) (*oauth.Token, error)
	Site(ctx context.Context, accessToken string) (*oauth.Resource, error)
}

// Tracker talks to the issue tracker.
type Tracker interface {
	ListProjects(ctx context.Context, accessToken, cloudID string) ([]jira.Project, error)
	CreateIssue(ctx context.Context, accessToken, cloudID string, draft jira.IssueDraft) (*jira.CreatedIssue, error)
}

// Options configures a Controller. Store and Metrics are optional.
type Options struct {
	Auth      Authenticator
	Tracker   Tracker
	Store     store.Store
	Metrics   *metrics.Metrics
	Separator string
}

// Controller implements the session state machine. It holds no per-session state.
type Controller struct {
	auth      Authenticator
	tracker   Tracker
	store     store.Store
	metrics   *metrics.Metrics
	separator string
}

// New creates a Controller.
func New(opts Options) *Controller {
	sep := opts.Separator
	if sep == "" {
		sep = dataset.DefaultSeparator
	}
	return &Controller{
		auth:      opts.Auth,
		tracker:   opts.Tracker,
		store:     opts.Store,
		metrics:   opts.Metrics,
		separator: sep,
	}
}

// Separator is the title/description separator for pasted text.
func (c *Controller) Separator() string { return c.separator }

// LoginURL is where the login button sends the browser.
func (c *Controller) LoginURL() string {
	return c.auth.AuthorizationURL()
}

// Login completes the redirect-back step. It does nothing without a code or when the
// session already holds a token. On failure the session is left logged out.
func (c *Controller) Login(ctx context.Context, sess *Session, code string) error {
	if code == "" || sess.AccessToken != "" {
		return nil
	}

	tok, err := c.auth.Exchange(ctx, code)
	if err != nil {
		c.countLogin("failed")
		return err
	}
	site, err := c.auth.Site(ctx, tok.AccessToken)
	if err != nil {
		c.countLogin("failed")
		return err
	}

	sess.AccessToken = tok.AccessToken
	sess.CloudID = site.ID
	sess.SiteName = site.Name
	sess.SiteURL = site.URL
	c.countLogin("success")

	log.Info().Str("cloud_id", site.ID).Str("site", site.Name).Msg("logged in to Jira")
	return nil
}

// Logout clears all session state.
func (c *Controller) Logout(sess *Session) {
	sess.Reset()
}

// Projects loads the projects the session can create issues in.
func (c *Controller) Projects(ctx context.Context, sess *Session) ([]jira.Project, error) {
	if sess.State() != StateLoggedIn {
		return nil, ErrNotLoggedIn
	}
	projects, err := c.tracker.ListProjects(ctx, sess.AccessToken, sess.CloudID)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	return projects, nil
}

// Upload parses a spreadsheet and makes it the session's task list. The first two
// columns are preselected as title and description.
func (c *Controller) Upload(sess *Session, name string, data []byte) error {
	ds, err := dataset.ParseFile(name, data)
	if err != nil {
		return err
	}

	title, desc := "", ""
	if len(ds.Columns) > 0 {
		title, desc = ds.Columns[0], ds.Columns[0]
	}
	if len(ds.Columns) > 1 {
		desc = ds.Columns[1]
	}
	sess.setDataset(ds, name, title, desc)
	return nil
}

// Paste turns "title<sep>description" lines into the session's task list.
func (c *Controller) Paste(sess *Session, text string) error {
	ds := dataset.ParseText(text, c.separator)
	if ds.Len() == 0 {
		return fmt.Errorf("%w: no line contains the separator %q", ErrNoTasks, c.separator)
	}
	sess.setDataset(ds, PastedSource, dataset.PasteTitleColumn, dataset.PasteDescriptionColumn)
	return nil
}

// SelectColumns maps dataset columns to issue summary and description.
func (c *Controller) SelectColumns(sess *Session, title, desc string) error {
	if sess.Dataset == nil {
		return ErrNoTasks
	}
	for _, col := range []string{title, desc} {
		if !sess.Dataset.HasColumn(col) {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}
	}
	sess.TitleColumn = title
	sess.DescriptionColumn = desc
	return nil
}

// Drafts builds one draft per row in dataset order. Columns other than the title and
// description columns are appended to the description as "Column: value" lines.
func Drafts(ds *dataset.Dataset, projectKey, titleCol, descCol string) []jira.IssueDraft {
	drafts := make([]jira.IssueDraft, 0, ds.Len())
	for _, row := range ds.Rows {
		var sb strings.Builder
		sb.WriteString(row[descCol])
		for _, col := range ds.Columns {
			if col == titleCol || col == descCol {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%s: %s", col, row[col])
		}
		drafts = append(drafts, jira.IssueDraft{
			ProjectKey:  projectKey,
			Summary:     row[titleCol],
			Description: sb.String(),
		})
	}
	return drafts
}

// RowError is the failure that stopped a batch.
type RowError struct {
	Row     int // zero-based
	Summary string
	Err     error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (%q): %v", e.Row+1, e.Summary, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// BatchResult summarizes a CreateTasks run.
type BatchResult struct {
	BatchID    string
	ProjectKey string
	Total      int
	Created    []jira.CreatedIssue
	Failed     *RowError
}

// Skipped is the number of rows never attempted.
func (r *BatchResult) Skipped() int {
	n := r.Total - len(r.Created)
	if r.Failed != nil {
		n--
	}
	return n
}

// CreateTasks creates one issue per loaded row, strictly in order. The first failure
// stops the batch: issues already created stay created and later rows are not sent.
// Cancelling ctx does not stop a started batch; each call is bounded by the tracker's
// HTTP timeout. The returned result is non-nil whenever the batch started.
func (c *Controller) CreateTasks(ctx context.Context, sess *Session, projectKey string) (*BatchResult, error) {
	if sess.State() != StateLoggedIn {
		return nil, ErrNotLoggedIn
	}
	if sess.Dataset.Len() == 0 {
		return nil, ErrNoTasks
	}
	if projectKey == "" {
		return nil, ErrNoProject
	}

	ctx = context.WithoutCancel(ctx)

	drafts := Drafts(sess.Dataset, projectKey, sess.TitleColumn, sess.DescriptionColumn)
	result := &BatchResult{ProjectKey: projectKey, Total: len(drafts)}

	batch := c.startBatch(ctx, sess, projectKey, len(drafts))
	if batch != nil {
		result.BatchID = batch.ID
	}

	logger := log.With().Str("project", projectKey).Str("batch", result.BatchID).Logger()
	logger.Info().Int("rows", len(drafts)).Msg("creating issues")

	for i, draft := range drafts {
		created, err := c.tracker.CreateIssue(ctx, sess.AccessToken, sess.CloudID, draft)
		if err != nil {
			result.Failed = &RowError{Row: i, Summary: draft.Summary, Err: err}
			logger.Error().Err(err).Int("row", i+1).Msg("issue creation failed, stopping batch")
			break
		}
		result.Created = append(result.Created, *created)
		c.recordIssue(ctx, batch, i, draft, created)
	}

	c.finishBatch(ctx, batch, result)

	if result.Failed != nil {
		return result, result.Failed
	}
	logger.Info().Int("created", len(result.Created)).Msg("batch completed")
	return result, nil
}

func (c *Controller) countLogin(result string) {
	if c.metrics != nil {
		c.metrics.Logins.WithLabelValues(result).Inc()
	}
}

// History bookkeeping is best effort; it never changes the batch outcome.

func (c *Controller) startBatch(ctx context.Context, sess *Session, projectKey string, total int) *models.ImportBatch {
	if c.store == nil {
		return nil
	}
	b := &models.ImportBatch{
		CloudID:    sess.CloudID,
		ProjectKey: projectKey,
		Source:     sess.Source,
		TotalRows:  total,
	}
	if err := c.store.CreateBatch(ctx, b); err != nil {
		log.Warn().Err(err).Msg("failed to record import batch")
		return nil
	}
	return b
}

func (c *Controller) recordIssue(ctx context.Context, b *models.ImportBatch, row int, draft jira.IssueDraft, created *jira.CreatedIssue) {
	if c.metrics != nil {
		c.metrics.IssuesCreated.Inc()
	}
	if b == nil {
		return
	}
	err := c.store.RecordIssue(ctx, &models.ImportedIssue{
		BatchID:  b.ID,
		RowIndex: row,
		IssueKey: created.Key,
		IssueID:  created.ID,
		Summary:  draft.Summary,
	})
	if err != nil {
		log.Warn().Err(err).Str("issue", created.Key).Msg("failed to record imported issue")
	}
}

func (c *Controller) finishBatch(ctx context.Context, b *models.ImportBatch, result *BatchResult) {
	status := models.BatchStatusCompleted
	if result.Failed != nil {
		status = models.BatchStatusFailed
	}
	if c.metrics != nil {
		c.metrics.Batches.WithLabelValues(string(status)).Inc()
	}
	if b == nil {
		return
	}

	b.CreatedRows = len(result.Created)
	b.Status = status
	if result.Failed != nil {
		b.Error = result.Failed.Error()
	}
	if err := c.store.FinishBatch(ctx, b); err != nil {
		log.Warn().Err(err).Str("batch", b.ID).Msg("failed to finish import batch")
	}
}
