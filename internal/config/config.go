package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the settings for talking to the issue tracker.
type Config struct {
	BaseURL     string        `yaml:"baseUrl,omitempty"`
	Token       string        `yaml:"token,omitempty"`
	OrgID       string        `yaml:"org,omitempty"`
	ProjectID   string        `yaml:"project,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`

	LogLevel  string `yaml:"logLevel,omitempty"`
	LogFormat string `yaml:"logFormat,omitempty"`

	KeepOneUnmerged bool    `yaml:"keepOneUnmerged"`
	MinScore        float64 `yaml:"minScore,omitempty"`

	MCPAddr string `yaml:"mcpAddr,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		Concurrency:     4,
		LogLevel:        "info",
		LogFormat:       "text",
		KeepOneUnmerged: true,
		MinScore:        0.6,
		MCPAddr:         "localhost:8090",
	}
}

// Load builds a config with precedence, lowest first: defaults, triage.yml
// or triage.yaml in dir, then TRIAGE_* environment variables. A .env file in
// dir is loaded into the environment first; it never overrides variables
// that are already set. Missing files are not an error.
func Load(dir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{"triage.yml", "triage.yaml"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", name, err)
		}
		break
	}

	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TRIAGE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getEnvOrFile("TRIAGE_TOKEN", "TRIAGE_TOKEN_FILE"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("TRIAGE_ORG"); v != "" {
		cfg.OrgID = v
	}
	if v := os.Getenv("TRIAGE_PROJECT"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TRIAGE_MCP_ADDR"); v != "" {
		cfg.MCPAddr = v
	}

	if v := os.Getenv("TRIAGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TRIAGE_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("TRIAGE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: TRIAGE_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}
	if v := os.Getenv("TRIAGE_KEEP_ONE_UNMERGED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: TRIAGE_KEEP_ONE_UNMERGED: %w", err)
		}
		cfg.KeepOneUnmerged = b
	}
	if v := os.Getenv("TRIAGE_MIN_SCORE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: TRIAGE_MIN_SCORE: %w", err)
		}
		cfg.MinScore = f
	}
	return nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("baseUrl is required (TRIAGE_BASE_URL)"))
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		errs = append(errs, fmt.Errorf("minScore must be within [0, 1], got %v", c.MinScore))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// getEnvOrFile returns the variable, or the trimmed contents of the file
// named by the _FILE variant.
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	if path := os.Getenv(fileVar); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}
