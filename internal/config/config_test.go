package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearOAuthEnv(t *testing.T) {
	t.Helper()
	for key := range oauthEnv {
		for _, env := range EnvVars(key) {
			t.Setenv(env, "")
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearOAuthEnv(t)
	dir := t.TempDir()
	v := viper.New()
	SetDefaults(v, dir)
	v.Set(KeyClientID, "id")
	v.Set(KeyClientSecret, "secret")
	v.Set(KeyRedirectURI, "http://localhost:8501/")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8501, cfg.Port)
	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, filepath.Join(dir, "kanban.db"), cfg.DBPath)
	assert.Equal(t, ",", cfg.PasteSeparator)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
}

func TestLoad_OAuthFromEnvAliases(t *testing.T) {
	clearOAuthEnv(t)
	t.Setenv("JIRA_CLIENT_ID", "jira-id")
	t.Setenv("CLIENT_SECRET", "plain-secret")
	t.Setenv("KANBAN_REDIRECT_URI", "https://example.com/callback")

	v := viper.New()
	SetDefaults(v, t.TempDir())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "jira-id", cfg.ClientID)
	assert.Equal(t, "plain-secret", cfg.ClientSecret)
	assert.Equal(t, "https://example.com/callback", cfg.RedirectURI)
}

func TestLoad_MissingOAuthFailsFast(t *testing.T) {
	clearOAuthEnv(t)
	v := viper.New()
	SetDefaults(v, t.TempDir())
	v.Set(KeyClientID, "id")

	cfg, err := Load(v)
	assert.Nil(t, cfg)
	require.Error(t, err)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Len(t, cerr.Problems, 2)
	assert.Contains(t, err.Error(), "client_secret is not set")
	assert.Contains(t, err.Error(), "JIRA_CLIENT_SECRET")
	assert.Contains(t, err.Error(), "redirect_uri is not set")
	assert.NotContains(t, err.Error(), "client_id")
}

func TestValidate_BadRedirectURI(t *testing.T) {
	cfg := &Config{ClientID: "id", ClientSecret: "s", RedirectURI: "not a url", Port: 8501}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid URL")
}

func TestEnvVars(t *testing.T) {
	assert.Equal(t, []string{"KANBAN_CLIENT_ID", "JIRA_CLIENT_ID", "CLIENT_ID"}, EnvVars(KeyClientID))
	assert.Equal(t, []string{"KANBAN_PASTE_SEPARATOR"}, EnvVars(KeyPasteSeparator))
}
