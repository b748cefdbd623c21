// Package commands implements the docpipeline command line.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdziat/docpipeline/internal/app"
	"github.com/jdziat/docpipeline/internal/config"
	"github.com/jdziat/docpipeline/internal/logging"
)

// RootCmd is the docpipeline entry point.
var RootCmd = &cobra.Command{
	Use:   "docpipeline",
	Short: "User registration and document conversion service",
	Long: `docpipeline accepts user registrations with an attached document,
converts the document in the background and notifies the user.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (DOCPIPELINE_* prefix)
3. Config file (--config)
4. Default values

Examples:
  docpipeline serve                       # Start the HTTP server and workers
  docpipeline serve --addr :9000          # Listen on another port
  docpipeline migrate                     # Create or update tables
  docpipeline stats                       # Show job counts by state`,
	SilenceUsage: true,
}

var configPath string

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"log-json":  "log.json",
	"db-driver": "database.driver",
	"db-dsn":    "database.dsn",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML or YAML config file")
	RootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	RootCmd.PersistentFlags().String("db-driver", "sqlite", "Database driver: sqlite or postgres")
	RootCmd.PersistentFlags().String("db-dsn", "", "Database DSN (overrides config)")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(MigrateCmd)
	RootCmd.AddCommand(StatsCmd)
	RootCmd.AddCommand(JobCmd)
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig reads the configuration and binds the command's flags over it.
// keys maps local flag names to configuration keys in addition to flagKeys.
func loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, *slog.Logger, error) {
	v, err := config.New(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := bindFlags(cmd, v, flagKeys); err != nil {
		return nil, nil, err
	}
	if err := bindFlags(cmd, v, keys); err != nil {
		return nil, nil, err
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func bindFlags(cmd *cobra.Command, v *viper.Viper, keys map[string]string) error {
	for name, key := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// openApp loads the configuration and builds the service.
func openApp(cmd *cobra.Command, keys map[string]string) (*app.App, *slog.Logger, error) {
	cfg, logger, err := loadConfig(cmd, keys)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}
