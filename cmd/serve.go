package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/kanban/internal/config"
	"github.com/joescharf/kanban/internal/jira"
	"github.com/joescharf/kanban/internal/metrics"
	"github.com/joescharf/kanban/internal/oauth"
	"github.com/joescharf/kanban/internal/uploader"
	"github.com/joescharf/kanban/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the task uploader web UI",
	Long: `Start the HTTP server for the task uploader.
By default it listens on port 8501. Use --port to change it.

The OAuth client must be configured first (client_id, client_secret and
redirect_uri; see 'kanban config show').`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8501, "port to listen on")
	_ = viper.BindPFlag(config.KeyPort, serveCmd.Flags().Lookup("port"))
}

func serveRun(ctx context.Context) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	ui.Info("Serving task uploader at http://localhost%s", addr)
	ui.VerboseLog("OAuth redirect URI: %s", cfg.RedirectURI)

	if dryRun {
		ui.DryRunMsg("Would listen on %s", addr)
		return nil
	}
	return srv.Serve(ctx, addr)
}

// newServer wires the OAuth client, Jira client, history store and metrics into the UI server.
func newServer(ctx context.Context, cfg *config.Config) (*web.Server, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	auth, err := oauth.New(oauth.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		HTTPClient:   httpClient,
	})
	if err != nil {
		return nil, err
	}

	// History is optional; the uploader works without it.
	s, err := getStore(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("import history disabled")
	}

	m := metrics.New()
	ctrl := uploader.New(uploader.Options{
		Auth:      auth,
		Tracker:   jira.NewClient(jira.DefaultBaseURL, httpClient),
		Store:     s,
		Metrics:   m,
		Separator: cfg.PasteSeparator,
	})

	secret, err := sessionSecret(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	sessionDir := filepath.Join(cfg.StateDir, "sessions")
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return web.NewServer(web.Config{
		Controller:   ctrl,
		SessionStore: web.NewSessionStore(sessionDir, secret),
		Metrics:      m,
	})
}

// sessionSecret returns the configured secret, or a random one when none is set.
func sessionSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	ui.Warning("session_secret is not set; sessions will not survive a restart")
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return b, nil
}
