package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/catalogsync/internal/importer"
	"github.com/vonshlovens/catalogsync/internal/provider/local"
	"github.com/vonshlovens/catalogsync/internal/syncqueue"
	"github.com/vonshlovens/catalogsync/internal/watcher"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Import on a schedule and replay playlist edits",
		Long:  `Runs an initial import, re-imports on the configured interval and when local music folders change, and replays queued playlist edits to the media servers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.db.RunMigrations(ctx); err != nil {
				return err
			}

			providers, remotes := buildProviders(e.cfg)
			im, _, err := e.importer(providers)
			if err != nil {
				return fmt.Errorf("failed to create importer: %w", err)
			}

			trigger := make(chan string, 1)
			requestImport := func(reason string) {
				select {
				case trigger <- reason:
				default:
				}
			}
			requestImport("startup")

			if e.cfg.SyncQueue.Enabled && len(remotes) > 0 {
				worker := syncqueue.NewWorker(e.db, remotes, e.cfg.SyncQueue.PollInterval(), e.cfg.SyncQueue.BatchSize)
				go worker.Run(ctx)
			}

			if e.cfg.Watch.Enabled {
				for _, p := range providers {
					lp, ok := p.(*local.Provider)
					if !ok {
						continue
					}
					w, err := watcher.New(watcher.Options{
						Roots:          lp.Roots(),
						DebounceMs:     e.cfg.Watch.DebounceMs,
						IgnorePatterns: e.cfg.Providers.Local.IgnorePatterns,
						Relevant:       lp.Relevant,
					})
					if err != nil {
						return fmt.Errorf("failed to create watcher: %w", err)
					}
					if err := w.Start(ctx); err != nil {
						return fmt.Errorf("failed to start watcher: %w", err)
					}
					defer w.Stop()

					go func() {
						for batch := range w.Batches() {
							slog.Debug("library changed", "changes", len(batch.Changes))
							requestImport("filesystem")
						}
					}()
				}
			}

			var tick <-chan time.Time
			if e.cfg.Import.IntervalMinutes > 0 {
				ticker := time.NewTicker(time.Duration(e.cfg.Import.IntervalMinutes) * time.Minute)
				defer ticker.Stop()
				tick = ticker.C
			}

			slog.Info("daemon started", "providers", len(providers), "remotes", len(remotes))
			fmt.Println("Catalog sync running. Press Ctrl+C to stop.")

			for {
				select {
				case <-ctx.Done():
					slog.Info("shutting down...")
					return nil

				case <-tick:
					requestImport("interval")

				case reason := <-trigger:
					slog.Info("import triggered", "reason", reason)
					err := im.Import(ctx)
					if err != nil && !errors.Is(err, importer.ErrImportInProgress) && !errors.Is(err, importer.ErrNoProviders) {
						slog.Error("import failed", "error", err)
					}
				}
			}
		},
	}
}
