package cli

import (
	"fmt"
	"time"

	"estatecrm/internal/service/overdue"
	"estatecrm/internal/service/pipeline"
	"estatecrm/migrations"
	"estatecrm/pkg/outbox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configDir)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requirePostgres("migrate"); err != nil {
				return err
			}

			applied, err := migrations.Apply(cmd.Context(), a.db, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			}
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default pipelines and their stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configDir)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := pipeline.NewService(a.store, a.store, a.locker, time.Now, a.logger)
			results := svc.InitializeDefaults(cmd.Context())
			logSeedResults(a.logger, results)
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", r.Pipeline, r.Status)
			}
			if !results.AllSucceeded() {
				return fmt.Errorf("some default pipelines failed to seed")
			}
			return nil
		},
	}
}

func logSeedResults(log *zap.Logger, results pipeline.SeedResults) {
	for _, r := range results {
		if r.Err != nil {
			log.Error("Seeding pipeline failed", zap.String("pipeline", r.Pipeline), zap.Error(r.Err))
			continue
		}
		log.Info("Seeded pipeline", zap.String("pipeline", r.Pipeline), zap.String("status", r.Status))
	}
}

func newScanOverdueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-overdue",
		Short: "Publish deal.overdue for every deal past its stage deadline, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configDir)
			if err != nil {
				return err
			}
			defer a.Close()

			scanner := overdue.NewScanner(a.store, a.events, a.dedup, a.cfg.Scanner.Interval, time.Now, a.logger)
			n, err := scanner.ScanOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d overdue deal(s) announced\n", n)
			return nil
		},
	}
}

func outboxDispatcher(a *app, publisher outbox.Publisher) *outbox.Dispatcher {
	return outbox.NewDispatcher(a.outbox, publisher, a.logger).
		WithInterval(a.cfg.Outbox.Interval).
		WithBatchSize(a.cfg.Outbox.BatchSize).
		WithMaxRetries(a.cfg.Outbox.MaxRetries)
}

func newOutboxCommand() *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the event outbox",
	}

	var (
		eventID int64
		limit   int
	)
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Queue failed outbox events for another delivery attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configDir)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requirePostgres("outbox replay"); err != nil {
				return err
			}

			replay := outbox.NewReplayService(a.outbox, a.logger)
			if eventID > 0 {
				if err := replay.ReplayEvent(cmd.Context(), eventID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "event %d queued\n", eventID)
				return nil
			}
			n, err := replay.ReplayFailedEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) queued\n", n)
			return nil
		},
	}
	replayCmd.Flags().Int64Var(&eventID, "id", 0, "Replay a single event by id")
	replayCmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of failed events to replay")

	outboxCmd.AddCommand(replayCmd)
	return outboxCmd
}
