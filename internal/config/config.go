package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML configuration file, applies defaults and
// expands environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Validate checks the configuration for consistency. It returns every
// problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errors []error

	if c.Server.ListenAddr == "" {
		errors = append(errors, fmt.Errorf("server.listen_addr is required"))
	}
	if c.Server.RequestDeadlineSeconds <= 0 {
		errors = append(errors, fmt.Errorf("server.request_deadline_seconds must be positive"))
	}

	if c.Database.Path == "" {
		errors = append(errors, fmt.Errorf("database.path is required"))
	} else if err := validatePath(c.Database.Path, "database.path"); err != nil {
		errors = append(errors, err)
	}

	if c.Travel.OracleURL != "" {
		if !strings.HasPrefix(c.Travel.OracleURL, "http://") && !strings.HasPrefix(c.Travel.OracleURL, "https://") {
			errors = append(errors, fmt.Errorf("travel.oracle_url must be an http(s) URL, got: %s", c.Travel.OracleURL))
		}
		if c.Travel.APIKey != "" && len(c.Travel.APIKey) < 10 {
			errors = append(errors, fmt.Errorf("travel.api_key is too short (minimum 10 characters, got %d)", len(c.Travel.APIKey)))
		}
	}
	if c.Travel.FallbackKmh <= 0 {
		errors = append(errors, fmt.Errorf("travel.fallback_kmh must be positive"))
	}
	if c.Travel.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("travel.timeout_seconds must be positive"))
	}
	if c.Travel.DefaultMinutes < 0 {
		errors = append(errors, fmt.Errorf("travel.default_minutes cannot be negative"))
	}

	if c.Scheduling.ShortNoticeHours < 0 {
		errors = append(errors, fmt.Errorf("scheduling.short_notice_hours cannot be negative"))
	}
	for i, slot := range c.Scheduling.TimelineSlots {
		if slot.Start == "" || slot.End == "" {
			errors = append(errors, fmt.Errorf("scheduling.timeline_slots[%d] is missing start or end", i))
		}
	}

	if c.Sweeper.Enabled && c.Sweeper.CronSpec == "" {
		errors = append(errors, fmt.Errorf("sweeper.cron_spec is required when sweeper is enabled"))
	}

	if c.Logging.Level == "" {
		errors = append(errors, fmt.Errorf("logging.level is required"))
	} else {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[strings.ToLower(c.Logging.Level)] {
			errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}
	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[strings.ToLower(c.Logging.Format)] {
			errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}

	return errors
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}

	if strings.HasPrefix(path, "~") {
		return nil
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}

	return nil
}

// expandEnvVars expands environment variable references in string fields
// that commonly carry secrets or machine-specific paths.
func expandEnvVars(c *Config) {
	if strings.HasPrefix(c.Travel.APIKey, "${") {
		c.Travel.APIKey = expandEnv(c.Travel.APIKey)
	}
	if strings.HasPrefix(c.Travel.OracleURL, "${") {
		c.Travel.OracleURL = expandEnv(c.Travel.OracleURL)
	}
	if strings.HasPrefix(c.Database.Path, "${") {
		c.Database.Path = expandEnv(c.Database.Path)
	}
	c.Database.Path = expandHome(c.Database.Path)
	c.Catalog.SeedPath = expandHome(c.Catalog.SeedPath)
}

// expandEnv expands a ${VAR} or ${VAR:default} reference.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		key := parts[0]
		defaultVal := parts[1]
		if val := os.Getenv(key); val != "" {
			return val
		}
		return defaultVal
	}

	return os.Getenv(s[2:end])
}

// expandHome expands a leading ~ in a path.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
