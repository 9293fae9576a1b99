package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/kanban/internal/config"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kanban"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage kanban configuration.

Running bare 'kanban config' is the same as 'kanban config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# kanban configuration
# See: kanban config show (for effective values and sources)

# Jira OAuth 2.0 (3LO) app credentials from developer.atlassian.com.
# Prefer the environment for the secret: JIRA_CLIENT_SECRET or CLIENT_SECRET.
client_id: "{{ .ClientID }}"
# client_secret: ""
redirect_uri: "{{ .RedirectURI }}"

# Key that signs session cookies. A random key is used when empty,
# which logs everyone out on restart.
# session_secret: ""

# HTTP port for 'kanban serve' (default: 8501)
port: {{ .Port }}

# State/data directory, holds browser sessions (default: ~/.config/kanban)
# state_dir: {{ .StateDir }}

# SQLite import history (default: ~/.config/kanban/kanban.db)
# db_path: {{ .DBPath }}

paste:
  # Splits pasted lines into title and description (default: ",")
  separator: "{{ .PasteSeparator }}"

http:
  # Timeout for each request to Atlassian (default: 30s)
  timeout: {{ .HTTPTimeout }}
`

type configTemplateData struct {
	ClientID       string
	RedirectURI    string
	Port           int
	StateDir       string
	DBPath         string
	PasteSeparator string
	HTTPTimeout    string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		ClientID:       viper.GetString(config.KeyClientID),
		RedirectURI:    viper.GetString(config.KeyRedirectURI),
		Port:           viper.GetInt(config.KeyPort),
		StateDir:       viper.GetString(config.KeyStateDir),
		DBPath:         viper.GetString(config.KeyDBPath),
		PasteSeparator: viper.GetString(config.KeyPasteSeparator),
		HTTPTimeout:    viper.GetDuration(config.KeyHTTPTimeout).String(),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeys lists the keys shown by 'config show', in display order.
var configKeys = []string{
	config.KeyClientID,
	config.KeyClientSecret,
	config.KeyRedirectURI,
	config.KeySessionSecret,
	config.KeyPort,
	config.KeyStateDir,
	config.KeyDBPath,
	config.KeyPasteSeparator,
	config.KeyHTTPTimeout,
}

// secretKeys are masked in 'config show'.
var secretKeys = map[string]bool{
	config.KeyClientSecret:  true,
	config.KeySessionSecret: true,
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, key := range configKeys {
		val := displayValue(key, viper.Get(key))
		source := detectSource(key, config.EnvVars(key), fileValues)
		fmt.Fprintf(ui.Out, "  %-18s %v  %s\n", key, val, source)
	}

	if err := config.FromViper(viper.GetViper()).Validate(); err != nil {
		fmt.Fprintln(ui.Out)
		ui.Warning("%v", err)
	}
	return nil
}

func displayValue(key string, val any) any {
	if !secretKeys[key] {
		return val
	}
	if s, _ := val.(string); s != "" {
		return "********"
	}
	return "(unset)"
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from. The first set
// environment variable wins, matching viper's lookup order.
func detectSource(key string, envVars []string, fileValues map[string]bool) string {
	for _, env := range envVars {
		if _, ok := os.LookupEnv(env); ok {
			return fmt.Sprintf("(env: %s)", env)
		}
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'kanban config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	args := strings.Fields(editor)
	editCmd := exec.Command(args[0], append(args[1:], cfgPath)...)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
