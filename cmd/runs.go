package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tracking"
	"github.com/outreachly/lead-engine/pkg/airtable"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect tracked job runs",
	Long:  "Commands for listing jobs, viewing a job's client runs, and reviewing webhook receipts.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		repo := tracking.NewRepository(masterClient(cfg))

		limit, _ := cmd.Flags().GetInt("limit")
		jobs, err := repo.ListJobs(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a job and its client runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := tracking.NewRepository(masterClient(cfg))
		return showJob(cmd.Context(), repo, args[0], os.Stdout)
	},
}

func showJob(ctx context.Context, repo *tracking.Repository, runID string, out io.Writer) error {
	job, err := repo.GetJob(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "runs show")
	}
	if job == nil {
		return eris.Errorf("runs show: job %s not found", runID)
	}
	clients, err := repo.ListClientRuns(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "runs show")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"job":     job.Fields,
		"clients": recordFields(clients),
	})
}

// -- runs receipts --

var runsReceiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "List recent webhook receipts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		receipts, err := st.ListReceipts(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs receipts")
		}

		if len(receipts) == 0 {
			fmt.Fprintln(os.Stderr, "No receipts found.")
			return nil
		}

		formatReceipts(os.Stdout, receipts)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of jobs to display")
	runsReceiptsCmd.Flags().Int("limit", 50, "max number of receipts to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsReceiptsCmd)
	rootCmd.AddCommand(runsCmd)
}

func recordFields(records []airtable.Record) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = r.Fields
	}
	return out
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []airtable.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN_ID\tSTREAM\tSTATUS\tCLIENTS\tERRORS\tSTART\tEND")
	for i := range jobs {
		j := &jobs[i]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			j.Str(tracking.FieldRunID),
			j.Int(tracking.FieldStream),
			j.Str(tracking.FieldStatus),
			j.Int(tracking.FieldClientsProcessed),
			j.Int(tracking.FieldClientsWithErrors),
			j.Str(tracking.FieldStart),
			j.Str(tracking.FieldEnd),
		)
	}
	_ = w.Flush()
}

// formatReceipts writes a tabular list of webhook receipts to w.
func formatReceipts(out io.Writer, receipts []store.WebhookReceipt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECEIVED\tACTOR_RUN\tSTATUS\tOUTCOME")
	for _, r := range receipts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.ReceivedAt.Format("2006-01-02 15:04:05"),
			r.ActorRunID,
			r.Status,
			r.Outcome,
		)
	}
	_ = w.Flush()
}
