package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/catalogsync/internal/config"
	"github.com/vonshlovens/catalogsync/internal/db"
	"github.com/vonshlovens/catalogsync/internal/importer"
	"github.com/vonshlovens/catalogsync/internal/logging"
	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/provider"
	"github.com/vonshlovens/catalogsync/internal/provider/local"
	"github.com/vonshlovens/catalogsync/internal/provider/mediaserver"
	"github.com/vonshlovens/catalogsync/internal/provider/mediastore"
	"github.com/vonshlovens/catalogsync/internal/provider/plex"
	"github.com/vonshlovens/catalogsync/internal/syncqueue"
	"github.com/vonshlovens/catalogsync/internal/telemetry"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "catalogsync",
		Short:   "Music catalog import and playlist sync",
		Long:    `Imports songs and playlists from local folders, a device media index, Jellyfin, Emby and Plex into one PostgreSQL catalog, and replays local playlist edits back to the media servers.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		daemonCmd(),
		importCmd(),
		statusCmd(),
		migrateCmd(),
		initCmd(),
		queueCmd(),
		playlistCmd(),
		songCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what most commands need: config, logging and a database handle
type env struct {
	cfg      *config.Config
	db       *db.DB
	logFile  io.Closer
	shutdown telemetry.ShutdownFunc
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logFile := logging.Setup(cfg.Logging, verbose)

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}

	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &env{cfg: cfg, db: database, logFile: logFile, shutdown: shutdown}, nil
}

func (e *env) Close() {
	e.db.Close()
	if err := e.shutdown(context.Background()); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	e.logFile.Close()
}

func (e *env) tracker() *syncqueue.Tracker {
	return syncqueue.NewTracker(e.db, e.cfg.SyncQueue.MaxRetries)
}

// buildProviders creates every enabled provider. Providers that can replay
// playlist edits are also returned as remotes.
func buildProviders(cfg *config.Config) ([]provider.Provider, map[model.ProviderType]syncqueue.Remote) {
	var providers []provider.Provider
	remotes := make(map[model.ProviderType]syncqueue.Remote)

	for _, pt := range cfg.EnabledProviders() {
		switch pt {
		case model.ProviderLocal:
			providers = append(providers, local.New(cfg.Providers.Local))
		case model.ProviderMediaStore:
			providers = append(providers, mediastore.New(cfg.Providers.MediaStore))
		case model.ProviderJellyfin:
			p := mediaserver.New(pt, cfg.Providers.Jellyfin)
			providers = append(providers, p)
			remotes[pt] = p
		case model.ProviderEmby:
			p := mediaserver.New(pt, cfg.Providers.Emby)
			providers = append(providers, p)
			remotes[pt] = p
		case model.ProviderPlex:
			p := plex.New(cfg.Providers.Plex)
			providers = append(providers, p)
			remotes[pt] = p
		}
	}
	return providers, remotes
}

func (e *env) importer(providers []provider.Provider) (*importer.Importer, *importer.StateFile, error) {
	statePath, err := e.cfg.StateFilePath()
	if err != nil {
		return nil, nil, err
	}
	state, err := importer.OpenStateFile(statePath)
	if err != nil {
		return nil, nil, err
	}

	im := importer.New(e.db, providers, importer.Options{
		PlaylistDelay: e.cfg.Import.PlaylistDelay(),
		Recorder:      state,
		Baseline:      e.tracker(),
	})
	im.AddListener(telemetry.NewImportMetrics())
	return im, state, nil
}
