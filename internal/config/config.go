package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SourceConfig names one export file. Sources are listed in priority order.
type SourceConfig struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// Config represents the application configuration
type Config struct {
	Sources        []SourceConfig      `yaml:"sources"`
	Base           string              `yaml:"base"`
	OutputDir      string              `yaml:"output_dir"`
	OutputPrefix   string              `yaml:"output_prefix"`
	LedgerPath     string              `yaml:"ledger_path"`
	LogLevel       string              `yaml:"log_level"`
	Output         string              `yaml:"output"`
	CompareFields  map[string][]string `yaml:"compare_fields"`
	OrganizationID int64               `yaml:"organization_id"`

	// File is the YAML file the configuration was read from, if any.
	File string `yaml:"-"`
}

// envConfig holds raw environment overrides.
type envConfig struct {
	Sources        []string `env:"EXPORTMERGE_SOURCES" envSeparator:","`
	Base           string   `env:"EXPORTMERGE_BASE"`
	OutputDir      string   `env:"EXPORTMERGE_OUTPUT_DIR"`
	OutputPrefix   string   `env:"EXPORTMERGE_OUTPUT_PREFIX"`
	LedgerPath     string   `env:"EXPORTMERGE_LEDGER_PATH"`
	LedgerPathFile string   `env:"EXPORTMERGE_LEDGER_PATH_FILE,file"`
	LogLevel       string   `env:"EXPORTMERGE_LOG_LEVEL"`
	Output         string   `env:"EXPORTMERGE_OUTPUT"`
	OrganizationID int64    `env:"EXPORTMERGE_ORGANIZATION_ID"`
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigPath is an explicit YAML file. When set it must exist.
	ConfigPath string
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. --config, ./exportmerge.yaml or ~/.config/exportmerge/config.yaml (YAML)
func Load(opts LoadOptions) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Output:   "table",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	if err := loadYAMLConfig(cfg, opts.ConfigPath); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Set defaults if not configured
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.LedgerPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.LedgerPath = filepath.Join(homeDir, ".local", "share", "exportmerge", "ledger.db")
	}

	return cfg, nil
}

// loadYAMLConfig reads the first config file found. Relative source paths are
// resolved against the file's directory.
func loadYAMLConfig(cfg *Config, explicit string) error {
	path := explicit
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.File = path

	dir := filepath.Dir(path)
	for i, s := range cfg.Sources {
		if s.Path != "" && !filepath.IsAbs(s.Path) {
			cfg.Sources[i].Path = filepath.Join(dir, s.Path)
		}
	}
	return nil
}

func findConfigFile() string {
	if _, err := os.Stat("exportmerge.yaml"); err == nil {
		return "exportmerge.yaml"
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(homeDir, ".config", "exportmerge", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func applyEnv(cfg *Config) error {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if len(e.Sources) > 0 {
		sources, err := ParseSources(e.Sources)
		if err != nil {
			return fmt.Errorf("EXPORTMERGE_SOURCES: %w", err)
		}
		cfg.Sources = sources
	}
	if e.Base != "" {
		cfg.Base = e.Base
	}
	if e.OutputDir != "" {
		cfg.OutputDir = e.OutputDir
	}
	if e.OutputPrefix != "" {
		cfg.OutputPrefix = e.OutputPrefix
	}
	if e.LedgerPath != "" {
		cfg.LedgerPath = e.LedgerPath
	} else if p := strings.TrimSpace(e.LedgerPathFile); p != "" {
		cfg.LedgerPath = p
	}
	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	if e.Output != "" {
		cfg.Output = e.Output
	}
	if e.OrganizationID != 0 {
		cfg.OrganizationID = e.OrganizationID
	}
	return nil
}

// ParseSources parses name=path pairs, keeping their order.
func ParseSources(specs []string) ([]SourceConfig, error) {
	sources := make([]SourceConfig, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid source %q, expected name=path", spec)
		}
		sources = append(sources, SourceConfig{Name: name, Path: path})
	}
	return sources, nil
}

// Validate checks the fields a merge needs.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("no sources configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" || s.Path == "" {
			return fmt.Errorf("source %q needs both name and path", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("source %q listed twice", s.Name)
		}
		seen[s.Name] = true
	}
	if c.Base != "" && !seen[c.Base] {
		return fmt.Errorf("base source %q is not a configured source", c.Base)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
