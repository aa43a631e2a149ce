package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outreachly/lead-engine/internal/monitoring"
	"github.com/outreachly/lead-engine/internal/webhook"
)

var servePort int

// staleMappingAge is how long an actor-run mapping may sit since dispatch
// before the hourly sweep discards it, whatever status it last reported.
const staleMappingAge = 48 * time.Hour

// shutdownGrace bounds how long in-flight webhook requests get to finish
// once the stop signal arrives.
const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and scheduled batches",
	Long:  "Serves actor webhook callbacks, runs batches on the configured cron schedule, and sweeps stale actor-run mappings hourly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg.Standalone, true, cfg.Schedule.Stream, "scheduler")
		if err != nil {
			return err
		}
		defer env.Close()

		correlator := webhook.NewCorrelator(env.repo, env.st, binder.Stage("webhook"))
		handler := webhook.Router(correlator, cfg.Actor.WebhookSecret, binder.Stage("webhook"))

		// One batch at a time. A slow batch overlapping the next cron tick
		// skips rather than stacking.
		var batchMu sync.Mutex
		runBatch := func() {
			if !batchMu.TryLock() {
				zap.L().Warn("scheduled batch skipped, previous batch still running")
				return
			}
			defer batchMu.Unlock()

			result, err := env.orch.RunBatch(ctx, "")
			if err != nil {
				zap.L().Error("scheduled batch failed", zap.Error(err))
				return
			}
			zap.L().Info("scheduled batch finished",
				zap.String("run_id", result.BaseRunID),
				zap.String("status", string(result.Status)))
		}

		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.Schedule.Cron, runBatch); err != nil {
			return eris.Wrapf(err, "bad cron expression %q", cfg.Schedule.Cron)
		}
		if env.st != nil {
			if _, err := scheduler.AddFunc("@hourly", func() {
				n, err := env.st.DeleteStaleMappings(ctx, staleMappingAge)
				if err != nil {
					zap.L().Warn("stale mapping sweep failed", zap.Error(err))
					return
				}
				if n > 0 {
					zap.L().Info("stale mappings removed", zap.Int("count", n))
				}
			}); err != nil {
				return eris.Wrap(err, "schedule mapping sweep")
			}
		}
		scheduler.Start()
		defer scheduler.Stop()

		if cfg.Monitoring.WebhookURL != "" {
			collector := monitoring.NewCollector(env.repo, env.st)
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			// The signal context is already cancelled here. Drain in-flight
			// webhook requests on a fresh deadline instead.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("schedule", cfg.Schedule.Cron))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
