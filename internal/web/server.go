// Package web serves the task uploader's browser UI.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/kanban/internal/dataset"
	"github.com/joescharf/kanban/internal/jira"
	"github.com/joescharf/kanban/internal/metrics"
	"github.com/joescharf/kanban/internal/uploader"
)

//go:embed templates/*.html
var templatesFS embed.FS

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 10 << 20

const previewRows = 5

// Config holds the dependencies of the UI server.
type Config struct {
	Controller     *uploader.Controller
	SessionStore   sessions.Store
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Server renders pages and maps form posts onto the uploader controller.
type Server struct {
	ctrl      *uploader.Controller
	sessions  sessions.Store
	metrics   *metrics.Metrics
	maxUpload int64
	logger    zerolog.Logger
	tmpl      *template.Template
}

// NewServer creates a Server.
func NewServer(cfg Config) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Server{
		ctrl:      cfg.Controller,
		sessions:  cfg.SessionStore,
		metrics:   cfg.Metrics,
		maxUpload: cfg.MaxUploadBytes,
		logger:    logger,
		tmpl:      tmpl,
	}, nil
}

// Router returns the HTTP handler with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		hlog.NewHandler(s.logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
		middleware.Recoverer,
	)

	r.Get("/", s.index)
	r.Get("/login", s.login)
	r.Post("/logout", s.logout)
	r.Post("/refresh", s.refresh)
	r.Post("/upload", s.upload)
	r.Post("/paste", s.paste)
	r.Post("/columns", s.columns)
	r.Post("/tasks", s.createTasks)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug().Msg("shutting down UI server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// --- session plumbing ---

// withSession loads the session, runs fn, saves the session and redirects home.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(gs *sessions.Session, sess *uploader.Session)) {
	gs, sess := s.session(r)
	fn(gs, sess)
	storeSession(gs, sess)
	s.save(w, r, gs)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) session(r *http.Request) (*sessions.Session, *uploader.Session) {
	gs, err := s.sessions.Get(r, SessionName)
	if err != nil {
		// Unreadable or expired sessions start over; gorilla still returns a new one.
		hlog.FromRequest(r).Warn().Err(err).Msg("discarding invalid session")
	}
	return gs, loadSession(gs)
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, gs *sessions.Session) {
	if err := gs.Save(r, w); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to save session")
	}
}

// --- pages ---

type sample struct {
	Title       string
	Description string
}

type taskView struct {
	Source            string
	Rows              int
	Columns           []string
	Preview           [][]string
	Samples           []sample
	TitleColumn       string
	DescriptionColumn string
}

type pageView struct {
	LoggedIn      bool
	LoginURL      string
	CloudID       string
	SiteName      string
	SiteURL       string
	Flashes       []flash
	ProjectsError string
	Projects      []jira.Project
	Tasks         *taskView
	Separator     string
	Accept        string
}

func newTaskView(sess *uploader.Session) *taskView {
	ds := sess.Dataset
	if ds == nil {
		return nil
	}
	tv := &taskView{
		Source:            sess.Source,
		Rows:              ds.Len(),
		Columns:           ds.Columns,
		TitleColumn:       sess.TitleColumn,
		DescriptionColumn: sess.DescriptionColumn,
	}
	for i, row := range ds.Head(previewRows) {
		tv.Preview = append(tv.Preview, ds.Values(i))
		tv.Samples = append(tv.Samples, sample{Title: row[sess.TitleColumn], Description: row[sess.DescriptionColumn]})
	}
	return tv
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	gs, sess := s.session(r)
	q := r.URL.Query()

	// Redirect-back from the authorization server. Whatever happens, send the browser
	// to a clean URL so a refresh cannot replay the code.
	if code, oauthErr := q.Get("code"), q.Get("error"); code != "" || oauthErr != "" {
		if oauthErr != "" {
			gs.AddFlash(fmt.Sprintf("Login cancelled: %s %s", oauthErr, q.Get("error_description")), flashError)
		} else if err := s.ctrl.Login(r.Context(), sess, code); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("login failed")
			gs.AddFlash("Login failed: "+err.Error(), flashError)
		} else if sess.State() == uploader.StateLoggedIn {
			gs.AddFlash("Logged in to Jira.", flashSuccess)
		}
		storeSession(gs, sess)
		s.save(w, r, gs)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	view := pageView{
		LoggedIn:  sess.State() == uploader.StateLoggedIn,
		CloudID:   sess.CloudID,
		SiteName:  sess.SiteName,
		SiteURL:   sess.SiteURL,
		Flashes:   popFlashes(gs),
		Separator: s.ctrl.Separator(),
		Accept:    strings.Join([]string{dataset.ExtCSV, dataset.ExtXLSX}, ","),
	}

	if !view.LoggedIn {
		view.LoginURL = "/login"
	} else {
		projects, err := s.ctrl.Projects(r.Context(), sess)
		if err != nil {
			// Without projects there is nothing to create issues in; stop here.
			hlog.FromRequest(r).Warn().Err(err).Msg("failed to load projects")
			view.ProjectsError = err.Error()
		} else {
			view.Projects = projects
			view.Tasks = newTaskView(sess)
		}
	}

	// Only popped flashes change the session on a page view.
	if len(view.Flashes) > 0 {
		s.save(w, r, gs)
	}
	s.render(w, r, view)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, view pageView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index", view); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render page")
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.ctrl.LoginURL(), http.StatusFound)
}

// logout deletes the stored session and starts a new one that only carries the flash.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	gs, sess := s.session(r)
	s.ctrl.Logout(sess)

	opts := *gs.Options
	gs.Options.MaxAge = -1
	s.save(w, r, gs)

	fresh := sessions.NewSession(s.sessions, SessionName)
	fresh.Options = &opts
	fresh.IsNew = true
	fresh.AddFlash("Logged out.", flashInfo)
	s.save(w, r, fresh)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(gs *sessions.Session, sess *uploader.Session) {
		name, data, err := s.readUpload(w, r)
		if err != nil {
			gs.AddFlash(err.Error(), flashError)
			return
		}
		if err := s.ctrl.Upload(sess, name, data); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("file", name).Msg("upload rejected")
			gs.AddFlash("Failed to parse file. Please upload a valid CSV or Excel file.", flashError)
			return
		}
		gs.AddFlash("File uploaded and parsed successfully!", flashSuccess)
	})
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("no file received: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, nil
}

func (s *Server) paste(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(gs *sessions.Session, sess *uploader.Session) {
		if err := s.ctrl.Paste(sess, r.PostFormValue("text")); err != nil {
			gs.AddFlash(err.Error(), flashError)
			return
		}
		gs.AddFlash(fmt.Sprintf("Loaded %d pasted tasks.", sess.Dataset.Len()), flashSuccess)
	})
}

func (s *Server) columns(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(gs *sessions.Session, sess *uploader.Session) {
		if err := s.ctrl.SelectColumns(sess, r.PostFormValue("title"), r.PostFormValue("description")); err != nil {
			gs.AddFlash(err.Error(), flashError)
		}
	})
}

func (s *Server) createTasks(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(gs *sessions.Session, sess *uploader.Session) {
		res, err := s.ctrl.CreateTasks(r.Context(), sess, r.PostFormValue("project"))
		gs.AddFlash(batchMessage(res, err), flashKind(err))
	})
}

func flashKind(err error) string {
	if err != nil {
		return flashError
	}
	return flashSuccess
}

// batchMessage reports what a batch did, including partial success.
func batchMessage(res *uploader.BatchResult, err error) string {
	if res == nil {
		return err.Error()
	}

	keys := make([]string, len(res.Created))
	for i, c := range res.Created {
		keys[i] = c.Key
	}

	var sb strings.Builder
	if err != nil {
		fmt.Fprintf(&sb, "Created %d of %d tasks in %s before an error stopped the batch.", len(res.Created), res.Total, res.ProjectKey)
		if res.Skipped() > 0 {
			fmt.Fprintf(&sb, " %d rows were not attempted.", res.Skipped())
		}
		fmt.Fprintf(&sb, "\n%v", err)
	} else {
		fmt.Fprintf(&sb, "Created %d tasks in %s.", len(res.Created), res.ProjectKey)
	}
	if len(keys) > 0 {
		sb.WriteString("\nIssues: " + strings.Join(keys, ", "))
	}
	return sb.String()
}
