// Package config loads and validates the uploader's configuration from viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config keys.
const (
	KeyClientID       = "client_id"
	KeyClientSecret   = "client_secret"
	KeyRedirectURI    = "redirect_uri"
	KeySessionSecret  = "session_secret"
	KeyPort           = "port"
	KeyStateDir       = "state_dir"
	KeyDBPath         = "db_path"
	KeyPasteSeparator = "paste.separator"
	KeyHTTPTimeout    = "http.timeout"
)

// EnvPrefix is the prefix for automatically bound environment variables.
const EnvPrefix = "KANBAN"

// oauthEnv lists the environment variables accepted for each OAuth key, most specific first.
var oauthEnv = map[string][]string{
	KeyClientID:     {"JIRA_CLIENT_ID", "CLIENT_ID"},
	KeyClientSecret: {"JIRA_CLIENT_SECRET", "CLIENT_SECRET"},
	KeyRedirectURI:  {"JIRA_REDIRECT_URI", "REDIRECT_URI"},
}

// Config is the effective configuration.
type Config struct {
	ClientID       string `validate:"required"`
	ClientSecret   string `validate:"required"`
	RedirectURI    string `validate:"required,url"`
	SessionSecret  string
	Port           int `validate:"gt=0,lt=65536"`
	StateDir       string
	DBPath         string
	PasteSeparator string
	HTTPTimeout    time.Duration
}

// SetDefaults registers defaults rooted at configDir and binds the OAuth env aliases.
func SetDefaults(v *viper.Viper, configDir string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range oauthEnv {
		_ = v.BindEnv(append([]string{key, EnvPrefix + "_" + strings.ToUpper(key)}, envs...)...)
	}

	v.SetDefault(KeyStateDir, configDir)
	v.SetDefault(KeyDBPath, filepath.Join(configDir, "kanban.db"))
	v.SetDefault(KeyPort, 8501)
	v.SetDefault(KeySessionSecret, "")
	v.SetDefault(KeyPasteSeparator, ",")
	v.SetDefault(KeyHTTPTimeout, 30*time.Second)
}

// EnvVars returns the environment variables that can set key.
func EnvVars(key string) []string {
	envs := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
	return append(envs, oauthEnv[key]...)
}

// FromViper reads the configuration without validating it.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		ClientID:       v.GetString(KeyClientID),
		ClientSecret:   v.GetString(KeyClientSecret),
		RedirectURI:    v.GetString(KeyRedirectURI),
		SessionSecret:  v.GetString(KeySessionSecret),
		Port:           v.GetInt(KeyPort),
		StateDir:       v.GetString(KeyStateDir),
		DBPath:         v.GetString(KeyDBPath),
		PasteSeparator: v.GetString(KeyPasteSeparator),
		HTTPTimeout:    v.GetDuration(KeyHTTPTimeout),
	}
}

// Load reads and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Error lists invalid configuration keys.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

var fieldKeys = map[string]string{
	"ClientID":     KeyClientID,
	"ClientSecret": KeyClientSecret,
	"RedirectURI":  KeyRedirectURI,
	"Port":         KeyPort,
}

// Validate checks that the OAuth settings are present so no request is sent half-configured.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	cerr := &Error{}
	for _, fe := range verrs {
		key := fieldKeys[fe.Field()]
		envs := strings.Join(EnvVars(key), " or ")
		switch fe.Tag() {
		case "required":
			cerr.Problems = append(cerr.Problems, fmt.Sprintf("%s is not set (set %s)", key, envs))
		case "url":
			cerr.Problems = append(cerr.Problems, fmt.Sprintf("%s %q is not a valid URL", key, fe.Value()))
		default:
			cerr.Problems = append(cerr.Problems, fmt.Sprintf("%s is invalid (%s)", key, fe.Tag()))
		}
	}
	return cerr
}
