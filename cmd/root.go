package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/outreachly/lead-engine/internal/config"
	"github.com/outreachly/lead-engine/internal/logging"
	"github.com/outreachly/lead-engine/internal/tenant"
	"github.com/outreachly/lead-engine/internal/tracking"
)

var (
	cfg    *config.Config
	binder *logging.Binder
)

var rootCmd = &cobra.Command{
	Use:   "lead-engine",
	Short: "Multi-tenant lead processing pipeline",
	Long:  "Scores queued leads per client via Gemini, harvests posts through a scraping actor for higher tiers, and tracks every run in Airtable.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		b, err := initBinder(cfg.Log)
		if err != nil {
			return err
		}
		binder = b

		applyTableNames(cfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// initBinder installs the global logger and builds the per-stage binder.
// Stage overrides may be more verbose than the base level, so the root logger
// is built at the most verbose level in play and the binder tightens children
// back up to their configured levels.
func initBinder(lc config.LogConfig) (*logging.Binder, error) {
	stages, err := logging.ParseStageLevels(lc.StageLevels)
	if err != nil {
		return nil, fmt.Errorf("parse stage levels: %w", err)
	}
	base, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	rootLC := lc
	rootLC.Level = logging.MinLevel(base, stages).String()
	if err := config.InitLogger(rootLC); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	return logging.NewBinder(zap.L(), base, stages), nil
}

// applyTableNames pushes configured table names onto the package-level table
// definitions so every caller sees the same layout.
func applyTableNames(c *config.Config) {
	if c.Airtable.JobsTable != "" {
		tracking.JobsTable.Name = c.Airtable.JobsTable
	}
	if c.Airtable.ClientRunsTable != "" {
		tracking.ClientRunsTable.Name = c.Airtable.ClientRunsTable
	}
	if c.Airtable.TenantsTable != "" {
		tenant.DirectoryTable.Name = c.Airtable.TenantsTable
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
