package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outreachly/lead-engine/internal/orchestrator"
)

var (
	runClient     string
	runStream     int
	runStandalone bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one batch over all active clients",
	Long:  "Creates a parent job record, processes every active client concurrently (or one client with --client), and closes the job with aggregated metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runStandalone {
			cfg.Standalone = true
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		stream := runStream
		if stream == 0 {
			stream = cfg.Schedule.Stream
		}

		env, err := initEngine(ctx, cfg.Standalone, !cfg.Standalone, stream, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.orch.RunBatch(ctx, runClient)
		if err != nil {
			return err
		}

		zap.L().Info("batch finished",
			zap.String("run_id", result.BaseRunID),
			zap.String("status", string(result.Status)),
			zap.Int("clients", len(result.Clients)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runSummary(result))
	},
}

// batchSummary is the printable shape of a finished batch.
type batchSummary struct {
	RunID   string          `json:"run_id"`
	Status  string          `json:"status"`
	Clients []clientSummary `json:"clients"`
}

type clientSummary struct {
	ClientID string `json:"client_id"`
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func runSummary(r *orchestrator.BatchResult) batchSummary {
	s := batchSummary{
		RunID:   r.BaseRunID,
		Status:  string(r.Status),
		Clients: make([]clientSummary, 0, len(r.Clients)),
	}
	for _, c := range r.Clients {
		cs := clientSummary{
			ClientID: c.ClientID,
			RunID:    c.RunID,
			Status:   string(c.Status),
		}
		if c.Err != nil {
			cs.Error = c.Err.Error()
		}
		s.Clients = append(s.Clients, cs)
	}
	return s
}

func init() {
	runCmd.Flags().StringVar(&runClient, "client", "", "restrict the batch to a single client ID")
	runCmd.Flags().IntVar(&runStream, "stream", 0, "stream number recorded on the job (default from config)")
	runCmd.Flags().BoolVar(&runStandalone, "standalone", false, "dry run: no tracking writes, no mapping persistence")
	rootCmd.AddCommand(runCmd)
}
