package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default Jira Cloud endpoints used with OAuth 2.0 (3LO) access tokens.
const (
	DefaultDiscoveryURL = "https://api.atlassian.com/oauth/token/accessible-resources"
	DefaultAPIBaseURL   = "https://api.atlassian.com/ex/jira"
	DefaultIssuePath    = "rest/api/2/issue"
	DefaultSearchPath   = "rest/api/2/search"
	DefaultProjectKey   = "PTD"
)

// JiraConfig holds the remote tracker endpoints and call policy.
type JiraConfig struct {
	// DiscoveryURL lists the sites an access token is authorized for.
	DiscoveryURL string `mapstructure:"discovery_url" yaml:"discovery_url"`

	// APIBaseURL is the prefix the site id is appended to.
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`

	// IssuePath is the site-relative path issues are created at.
	IssuePath string `mapstructure:"issue_path" yaml:"issue_path"`

	// SearchPath is the site-relative JQL search path.
	SearchPath string `mapstructure:"search_path" yaml:"search_path"`

	// ProjectKey is the single project tasks are filed under.
	ProjectKey string `mapstructure:"project_key" yaml:"project_key"`

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MaxRetries is how many times a rate-limited (429) call is retried.
	// Zero disables retries entirely.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// ServerConfig holds the skill webhook listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LocaleConfig controls where localized prompts come from.
type LocaleConfig struct {
	// Dir optionally points at a directory of <locale>.yaml files that
	// override the embedded prompts.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Default is the locale used when a request carries none.
	Default string `mapstructure:"default" yaml:"default"`
}

// JournalConfig controls the local turn journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`

	// Retention is how long turns are kept. Zero keeps them forever.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`

	// PruneInterval is how often the server deletes expired turns.
	PruneInterval time.Duration `mapstructure:"prune_interval" yaml:"prune_interval"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Jira    JiraConfig    `mapstructure:"jira" yaml:"jira"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Locale  LocaleConfig  `mapstructure:"locale" yaml:"locale"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns ~/.config/tasktalk, or the working directory when the
// home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tasktalk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tasktalk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jira.discovery_url", DefaultDiscoveryURL)
	v.SetDefault("jira.api_base_url", DefaultAPIBaseURL)
	v.SetDefault("jira.issue_path", DefaultIssuePath)
	v.SetDefault("jira.search_path", DefaultSearchPath)
	v.SetDefault("jira.project_key", DefaultProjectKey)
	v.SetDefault("jira.timeout", 8*time.Second)
	v.SetDefault("jira.max_retries", 0)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("locale.dir", "")
	v.SetDefault("locale.default", "en-US")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", filepath.Join(ConfigDir(), "journal.db"))
	v.SetDefault("journal.retention", 30*24*time.Hour)
	v.SetDefault("journal.prune_interval", time.Hour)
	v.SetDefault("log.level", "info")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults apply, and every key can be
// overridden through TASKTALK_* environment variables
// (e.g. TASKTALK_JIRA_PROJECT_KEY).
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("tasktalk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can drive the tracker client.
func (c *AppConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Jira.ProjectKey) == "":
		return errors.New("config: jira.project_key must not be empty")
	case c.Jira.DiscoveryURL == "" || c.Jira.APIBaseURL == "":
		return errors.New("config: jira.discovery_url and jira.api_base_url are required")
	case c.Jira.IssuePath == "" || c.Jira.SearchPath == "":
		return errors.New("config: jira.issue_path and jira.search_path are required")
	case c.Jira.Timeout <= 0:
		return fmt.Errorf("config: jira.timeout must be positive, got %s", c.Jira.Timeout)
	case c.Jira.MaxRetries < 0:
		return fmt.Errorf("config: jira.max_retries must not be negative, got %d", c.Jira.MaxRetries)
	case c.Journal.Retention < 0:
		return fmt.Errorf("config: journal.retention must not be negative, got %s", c.Journal.Retention)
	case c.Journal.Retention > 0 && c.Journal.PruneInterval <= 0:
		return fmt.Errorf("config: journal.prune_interval must be positive, got %s", c.Journal.PruneInterval)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("jira.discovery_url", cfg.Jira.DiscoveryURL)
	v.Set("jira.api_base_url", cfg.Jira.APIBaseURL)
	v.Set("jira.issue_path", cfg.Jira.IssuePath)
	v.Set("jira.search_path", cfg.Jira.SearchPath)
	v.Set("jira.project_key", cfg.Jira.ProjectKey)
	v.Set("jira.timeout", cfg.Jira.Timeout.String())
	v.Set("jira.max_retries", cfg.Jira.MaxRetries)
	v.Set("server", cfg.Server)
	v.Set("locale", cfg.Locale)
	v.Set("journal.enabled", cfg.Journal.Enabled)
	v.Set("journal.path", cfg.Journal.Path)
	v.Set("journal.retention", cfg.Journal.Retention.String())
	v.Set("journal.prune_interval", cfg.Journal.PruneInterval.String())
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
