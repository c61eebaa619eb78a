package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/config"
	"github.com/nosurfing/moderation/internal/logger"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "modctl",
		Short:         "Administer the moderation service",
		Long:          `Run database migrations, check dependencies, purge old moderation logs and override content status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	defaultPath := os.Getenv("APP_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultPath, "path to the YAML config file")

	rootCmd.AddCommand(
		newMigrateCommand(),
		newCheckCommand(),
		newPurgeCommand(),
		newStatusCommand(),
	)
}

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

// commandDeps is what every subcommand needs: the loaded config and a logger.
type commandDeps struct {
	cfg config.Config
	log *zap.Logger
}

func loadDeps() (*commandDeps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return &commandDeps{cfg: cfg, log: log}, nil
}

func (d *commandDeps) requireDSN() error {
	if d.cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is not configured")
	}
	return nil
}
