package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/kanban/internal/dataset"
	"github.com/joescharf/kanban/internal/jira"
	"github.com/joescharf/kanban/internal/metrics"
	"github.com/joescharf/kanban/internal/models"
	"github.com/joescharf/kanban/internal/oauth"
	"github.com/joescharf/kanban/internal/store"
)

type fakeAuth struct {
	exchangeErr error
	siteErr     error
	exchanges   int
}

func (f *fakeAuth) AuthorizationURL() string { return "https://auth.example/authorize" }

func (f *fakeAuth) Exchange(_ context.Context, code string) (*oauth.Token, error) {
	f.exchanges++
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth.Token{AccessToken: "token-for-" + code}, nil
}

func (f *fakeAuth) Site(_ context.Context, _ string) (*oauth.Resource, error) {
	if f.siteErr != nil {
		return nil, f.siteErr
	}
	return &oauth.Resource{ID: "cloud-1", Name: "acme", URL: "https://acme.atlassian.net"}, nil
}

type fakeTracker struct {
	projects    []jira.Project
	projectsErr error
	failAt      int // 1-based call number that fails; 0 never fails
	drafts      []jira.IssueDraft
}

func (f *fakeTracker) ListProjects(_ context.Context, _, _ string) ([]jira.Project, error) {
	return f.projects, f.projectsErr
}

func (f *fakeTracker) CreateIssue(_ context.Context, _, _ string, d jira.IssueDraft) (*jira.CreatedIssue, error) {
	f.drafts = append(f.drafts, d)
	n := len(f.drafts)
	if n == f.failAt {
		return nil, &jira.APIError{StatusCode: 400, Reason: "Bad Request", Body: `{"errors":{"summary":"too long"}}`}
	}
	return &jira.CreatedIssue{ID: fmt.Sprint(10000 + n), Key: fmt.Sprintf("KAN-%d", n)}, nil
}

func loggedIn() *Session {
	return &Session{AccessToken: "tok", CloudID: "cloud-1"}
}

func fiveRows() *dataset.Dataset {
	ds := &dataset.Dataset{Columns: []string{"Title", "Description"}}
	for i := 1; i <= 5; i++ {
		ds.Rows = append(ds.Rows, dataset.Row{"Title": fmt.Sprintf("task %d", i), "Description": "d"})
	}
	return ds
}

func TestSessionState(t *testing.T) {
	s := &Session{}
	assert.Equal(t, StateLoggedOut, s.State())
	s.AccessToken = "tok"
	assert.Equal(t, StateLoggedOut, s.State(), "cloud id is required too")
	s.CloudID = "c"
	assert.Equal(t, StateLoggedIn, s.State())
	assert.Equal(t, "logged_in", s.State().String())
}

func TestLogin(t *testing.T) {
	auth := &fakeAuth{}
	m := metrics.New()
	c := New(Options{Auth: auth, Tracker: &fakeTracker{}, Metrics: m})
	sess := &Session{}

	require.NoError(t, c.Login(context.Background(), sess, "abc"))
	assert.Equal(t, StateLoggedIn, sess.State())
	assert.Equal(t, "token-for-abc", sess.AccessToken)
	assert.Equal(t, "cloud-1", sess.CloudID)
	assert.Equal(t, "acme", sess.SiteName)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues("success")))

	// A replayed code is ignored once a token is stored.
	require.NoError(t, c.Login(context.Background(), sess, "again"))
	assert.Equal(t, 1, auth.exchanges)
	assert.Equal(t, "token-for-abc", sess.AccessToken)
}

func TestLogin_NoCode(t *testing.T) {
	auth := &fakeAuth{}
	c := New(Options{Auth: auth})
	sess := &Session{}

	require.NoError(t, c.Login(context.Background(), sess, ""))
	assert.Zero(t, auth.exchanges)
	assert.Equal(t, StateLoggedOut, sess.State())
}

func TestLogin_FailuresStayLoggedOut(t *testing.T) {
	exchangeErr := &oauth.AuthError{Op: "token exchange", StatusCode: 400, Body: "bad code"}
	siteErr := &oauth.AuthError{Op: "resolve cloud id", Err: oauth.ErrNoAccessibleResources}

	for name, auth := range map[string]*fakeAuth{
		"exchange": {exchangeErr: exchangeErr},
		"site":     {siteErr: siteErr},
	} {
		t.Run(name, func(t *testing.T) {
			c := New(Options{Auth: auth})
			sess := &Session{}

			err := c.Login(context.Background(), sess, "abc")
			require.Error(t, err)
			var aerr *oauth.AuthError
			assert.True(t, errors.As(err, &aerr))
			assert.Equal(t, StateLoggedOut, sess.State())
			assert.Empty(t, sess.AccessToken)
		})
	}
}

func TestLogout(t *testing.T) {
	c := New(Options{})
	sess := loggedIn()
	sess.Dataset = fiveRows()

	c.Logout(sess)
	assert.Equal(t, StateLoggedOut, sess.State())
	assert.Nil(t, sess.Dataset)
}

func TestProjects(t *testing.T) {
	tr := &fakeTracker{projects: []jira.Project{{Key: "KAN", Name: "Kanban"}}}
	c := New(Options{Tracker: tr})

	_, err := c.Projects(context.Background(), &Session{})
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	projects, err := c.Projects(context.Background(), loggedIn())
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	tr.projectsErr = &jira.APIError{StatusCode: 401, Reason: "Unauthorized"}
	_, err = c.Projects(context.Background(), loggedIn())
	var apiErr *jira.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.StatusCode)
}

func TestUpload(t *testing.T) {
	c := New(Options{})
	sess := loggedIn()

	require.NoError(t, c.Upload(sess, "tasks.csv", []byte("Title,Details,Owner\na,b,c\n")))
	assert.Equal(t, "tasks.csv", sess.Source)
	assert.Equal(t, "Title", sess.TitleColumn)
	assert.Equal(t, "Details", sess.DescriptionColumn)
	assert.Equal(t, 1, sess.Dataset.Len())

	// A bad file leaves the previous dataset in place.
	err := c.Upload(sess, "tasks.pdf", []byte("%PDF"))
	var perr *dataset.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "tasks.csv", sess.Source)
}

func TestUpload_SingleColumn(t *testing.T) {
	c := New(Options{})
	sess := loggedIn()

	require.NoError(t, c.Upload(sess, "tasks.csv", []byte("Title\na\n")))
	assert.Equal(t, "Title", sess.TitleColumn)
	assert.Equal(t, "Title", sess.DescriptionColumn)
}

func TestPaste(t *testing.T) {
	c := New(Options{})
	sess := loggedIn()

	require.NoError(t, c.Paste(sess, "Fix bug, Adjust login\nNoSeparatorLine\nWrite tests, Add coverage"))
	assert.Equal(t, PastedSource, sess.Source)
	assert.Equal(t, 2, sess.Dataset.Len())
	assert.Equal(t, dataset.PasteTitleColumn, sess.TitleColumn)

	err := c.Paste(sess, "nothing to split")
	assert.ErrorIs(t, err, ErrNoTasks)
	assert.Equal(t, 2, sess.Dataset.Len(), "failed paste keeps the previous tasks")
}

func TestSelectColumns(t *testing.T) {
	c := New(Options{})
	sess := loggedIn()
	assert.ErrorIs(t, c.SelectColumns(sess, "a", "b"), ErrNoTasks)

	sess.Dataset = fiveRows()
	require.NoError(t, c.SelectColumns(sess, "Description", "Title"))
	assert.Equal(t, "Description", sess.TitleColumn)
	assert.Equal(t, "Title", sess.DescriptionColumn)

	assert.ErrorIs(t, c.SelectColumns(sess, "Title", "Nope"), ErrUnknownColumn)
}

func TestDrafts(t *testing.T) {
	ds := &dataset.Dataset{
		Columns: []string{"Owner", "Title", "Notes", "Points"},
		Rows: []dataset.Row{
			{"Owner": "ann", "Title": "Fix bug", "Notes": "Login fails", "Points": "3"},
			{"Owner": "bob", "Title": "Docs", "Notes": "", "Points": ""},
		},
	}

	drafts := Drafts(ds, "KAN", "Title", "Notes")
	require.Len(t, drafts, 2)
	assert.Equal(t, jira.IssueDraft{
		ProjectKey:  "KAN",
		Summary:     "Fix bug",
		Description: "Login fails\nOwner: ann\nPoints: 3",
	}, drafts[0])
	assert.Equal(t, "Owner: bob\nPoints: ", drafts[1].Description)
}

func TestDrafts_PastedText(t *testing.T) {
	ds := dataset.ParseText("Fix bug, Adjust login", ",")
	drafts := Drafts(ds, "KAN", dataset.PasteTitleColumn, dataset.PasteDescriptionColumn)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Fix bug", drafts[0].Summary)
	assert.Equal(t, " Adjust login", drafts[0].Description)
}

func TestCreateTasks_Preconditions(t *testing.T) {
	c := New(Options{Tracker: &fakeTracker{}})
	ctx := context.Background()

	_, err := c.CreateTasks(ctx, &Session{Dataset: fiveRows()}, "KAN")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = c.CreateTasks(ctx, loggedIn(), "KAN")
	assert.ErrorIs(t, err, ErrNoTasks)

	sess := loggedIn()
	sess.Dataset = fiveRows()
	_, err = c.CreateTasks(ctx, sess, "")
	assert.ErrorIs(t, err, ErrNoProject)
}

func TestCreateTasks_AllSucceed(t *testing.T) {
	tr := &fakeTracker{}
	m := metrics.New()
	c := New(Options{Tracker: tr, Metrics: m})
	sess := loggedIn()
	sess.Dataset = fiveRows()
	sess.TitleColumn, sess.DescriptionColumn = "Title", "Description"

	res, err := c.CreateTasks(context.Background(), sess, "KAN")
	require.NoError(t, err)
	assert.Len(t, res.Created, 5)
	assert.Nil(t, res.Failed)
	assert.Zero(t, res.Skipped())
	assert.Equal(t, "task 1", tr.drafts[0].Summary)
	assert.Equal(t, "task 5", tr.drafts[4].Summary)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.IssuesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Batches.WithLabelValues("completed")))
}

func TestCreateTasks_StopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	tr := &fakeTracker{failAt: 3}
	c := New(Options{Tracker: tr, Store: s})
	sess := loggedIn()
	sess.Source = "tasks.csv"
	sess.Dataset = fiveRows()
	sess.TitleColumn, sess.DescriptionColumn = "Title", "Description"

	res, err := c.CreateTasks(context.Background(), sess, "KAN")
	require.Error(t, err)

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 2, rowErr.Row)
	assert.Contains(t, err.Error(), "row 3")

	var apiErr *jira.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)

	// Rows 1-2 created, row 3 attempted and failed, rows 4-5 never sent.
	require.NotNil(t, res)
	assert.Len(t, res.Created, 2)
	assert.Len(t, tr.drafts, 3)
	assert.Equal(t, 2, res.Skipped())

	batch, err := s.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, batch.Status)
	assert.Equal(t, 2, batch.CreatedRows)
	assert.Equal(t, 5, batch.TotalRows)
	assert.Equal(t, "tasks.csv", batch.Source)
	assert.Contains(t, batch.Error, "400")

	issues, err := s.ListBatchIssues(context.Background(), res.BatchID)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "KAN-1", issues[0].IssueKey)
	assert.Equal(t, "KAN-2", issues[1].IssueKey)
}

func TestCreateTasks_CallerCancellationDoesNotStopBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ex/jira/cloud-1/rest/api/3/issue", r.URL.Path)
		n := creates.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"id":"%d","key":"KAN-%d","self":"https://example.test/%d"}`, 10000+n, n, n)
		// The browser goes away once the first issue exists.
		if n == 1 {
			cancel()
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	c := New(Options{Tracker: jira.NewClient(srv.URL, srv.Client()), Store: s})
	sess := loggedIn()
	sess.Dataset = fiveRows()
	sess.TitleColumn, sess.DescriptionColumn = "Title", "Description"

	res, err := c.CreateTasks(ctx, sess, "KAN")
	require.NoError(t, err)
	assert.Equal(t, int32(5), creates.Load())
	require.Len(t, res.Created, 5)
	assert.Equal(t, "KAN-1", res.Created[0].Key)
	assert.Zero(t, res.Skipped())

	batch, err := s.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 5, batch.CreatedRows)
}
