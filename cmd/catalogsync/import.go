package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/provider"
)

func importCmd() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "One-time import from every enabled provider, then exit",
		Long:  `Imports songs and playlists from every enabled provider into the catalog and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			providers, _ := buildProviders(e.cfg)
			if len(only) > 0 {
				providers, err = filterProviders(providers, only)
				if err != nil {
					return err
				}
			}

			im, _, err := e.importer(providers)
			if err != nil {
				return fmt.Errorf("failed to create importer: %w", err)
			}
			progress := newProgressListener()
			im.AddListener(progress)

			start := time.Now()
			if err := im.Import(ctx); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			if n := progress.Failures(); n > 0 {
				return fmt.Errorf("import finished with %d failed phase(s)", n)
			}

			slog.Debug("import done", "duration", time.Since(start))
			fmt.Println("Import completed successfully.")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&only, "provider", nil, "only import from these providers")
	return cmd
}

func filterProviders(providers []provider.Provider, names []string) ([]provider.Provider, error) {
	want := make(map[model.ProviderType]bool, len(names))
	for _, n := range names {
		pt, err := model.ParseProviderType(n)
		if err != nil {
			return nil, err
		}
		want[pt] = true
	}

	var out []provider.Provider
	for _, p := range providers {
		if want[p.Type()] {
			out = append(out, p)
			delete(want, p.Type())
		}
	}
	for pt := range want {
		return nil, fmt.Errorf("provider %s is not enabled", pt)
	}
	return out, nil
}
