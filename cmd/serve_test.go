package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/kanban/internal/config"
)

func setOAuthConfig() {
	viper.Set(config.KeyClientID, "cid")
	viper.Set(config.KeyClientSecret, "secret")
	viper.Set(config.KeyRedirectURI, "http://localhost:8501/")
}

func TestSessionSecret_Configured(t *testing.T) {
	testEnv(t)

	secret, err := sessionSecret("s3cret")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), secret)
}

func TestSessionSecret_Random(t *testing.T) {
	testEnv(t)

	a, err := sessionSecret("")
	require.NoError(t, err)
	b, err := sessionSecret("")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestServeRun_MissingOAuthConfig(t *testing.T) {
	testEnv(t)

	err := serveRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id is not set")
}

func TestNewServer_CreatesSessionDir(t *testing.T) {
	dir := testEnv(t)
	setOAuthConfig()

	cfg, err := config.Load(viper.GetViper())
	require.NoError(t, err)

	srv, err := newServer(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, srv)

	info, err := os.Stat(filepath.Join(dir, "sessions"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(dir, "kanban.db"))
	assert.NoError(t, err, "history database should be created")
}

func TestServeRun_DryRun(t *testing.T) {
	testEnv(t)
	setOAuthConfig()
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() { dryRun = false })

	assert.NoError(t, serveRun(context.Background()))
}
