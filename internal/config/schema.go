// Package config provides configuration loading and validation for dispatchd.
// It supports TOML configuration files with environment variable expansion,
// default values, and comprehensive validation.
//
// Configuration structure:
//   - [server]: HTTP listen address and request deadline
//   - [database]: SQLite database path
//   - [travel]: travel-time oracle endpoint, credentials and fallback
//   - [scheduling]: booking horizon and timeline slot grid
//   - [sweeper]: SLA sweep cron schedule
//   - [catalog]: service catalog seed file
//   - [logging]: logging level, format, and output
//   - [metrics]: metrics endpoint toggle
//
// Environment variables can be referenced using ${VAR} or ${VAR:default}
// syntax. For example: api_key = "${TRAVEL_API_KEY}".
package config

// Config represents the main application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Travel     TravelConfig     `toml:"travel"`
	Scheduling SchedulingConfig `toml:"scheduling"`
	Sweeper    SweeperConfig    `toml:"sweeper"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Logging    LoggingConfig    `toml:"logging"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	ListenAddr             string `toml:"listen_addr"`
	RequestDeadlineSeconds int    `toml:"request_deadline_seconds"`
}

// DatabaseConfig controls the SQLite store.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// TravelConfig controls the travel-time oracle and its fallback.
type TravelConfig struct {
	OracleURL      string  `toml:"oracle_url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	FallbackKmh    float64 `toml:"fallback_kmh"`
	DefaultMinutes int     `toml:"default_minutes"`
}

// SchedulingConfig controls booking rules and the published timeline grid.
type SchedulingConfig struct {
	ShortNoticeHours int        `toml:"short_notice_hours"`
	TimelineSlots    []SlotSpec `toml:"timeline_slots"`
}

// SlotSpec is one fixed timeline cell, HH:MM bounds.
type SlotSpec struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

// SweeperConfig controls the periodic SLA sweep.
type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	CronSpec string `toml:"cron_spec"`
}

// CatalogConfig points at the service catalog seed file.
type CatalogConfig struct {
	SeedPath string `toml:"seed_path"`
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}
