package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldsvc/dispatchd/internal/config"
	"github.com/fieldsvc/dispatchd/internal/constants"
	"github.com/fieldsvc/dispatchd/internal/logger"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate and manage dispatchd configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and check for errors.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log, err := logger.New(logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		configPath := constants.DefaultConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		log.Info("Validating configuration", logger.Field{Key: "path", Value: configPath})

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error("Failed to load config", err)
			os.Exit(1)
		}

		errors := cfg.Validate()
		if len(errors) > 0 {
			log.Error("Config validation failed", fmt.Errorf("%d errors", len(errors)))
			for _, e := range errors {
				log.Error("Validation error", e)
			}
			os.Exit(1)
		}

		log.Info("Configuration is valid")
	},
}

// configInitCmd writes a starter configuration file.
var configInitCmd = &cobra.Command{
	Use:   "init [config-file]",
	Short: "Write a starter configuration file",
	Long:  `Write a commented starter configuration file with all defaults.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath := constants.DefaultConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(os.Stderr, "Refusing to overwrite existing file: %s\n", configPath)
			os.Exit(1)
		}

		if err := os.WriteFile(configPath, []byte(starterConfig), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", configPath)
	},
}

const starterConfig = `[server]
listen_addr = ":8080"
request_deadline_seconds = 30

[database]
path = "dispatchd.db"

[travel]
# Leave oracle_url empty to use only the great-circle fallback.
oracle_url = ""
api_key = "${TRAVEL_API_KEY:}"
timeout_seconds = 5
fallback_kmh = 40.0
default_minutes = 30

[scheduling]
short_notice_hours = 24
# timeline_slots: omit to use the default 6-cell grid.

[sweeper]
enabled = true
cron_spec = "@every 15m"

[catalog]
# Seed file applied idempotently at startup; leave empty to skip seeding.
seed_path = ""

[logging]
level = "info"
format = "text"
output = "stdout"

[metrics]
enabled = true
`

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
}
