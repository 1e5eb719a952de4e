package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/catalogsync/internal/config"
	"github.com/vonshlovens/catalogsync/internal/db"
	"github.com/vonshlovens/catalogsync/internal/importer"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status and catalog counts",
		Long:  `Shows the database connection status, catalog and queue counts, and the last import.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			database, err := db.New(ctx, &cfg.Database)
			if err != nil {
				fmt.Printf("Database Status: Disconnected\n")
				fmt.Printf("Error: %v\n", err)
				return nil
			}
			defer database.Close()

			status, err := database.GetStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			fmt.Println("=== Catalogsync Status ===")
			fmt.Printf("Database Status: Connected\n")
			fmt.Printf("  Host: %s\n", status.Host)
			fmt.Printf("  Schema: %s\n", cfg.Database.Schema)
			fmt.Println()
			fmt.Printf("Providers: %v\n", cfg.EnabledProviders())
			fmt.Println()
			fmt.Printf("Songs: %d (%d excluded)\n", status.TotalSongs, status.ExcludedSongs)
			printCounts(status.SongsByType)
			fmt.Printf("Playlists: %d\n", status.TotalPlaylists)
			printCounts(status.PlaylistByType)
			fmt.Printf("Sync queue:\n")
			printCounts(status.OpsByStatus)
			if status.Conflicts > 0 {
				fmt.Printf("  Conflicts: %d\n", status.Conflicts)
			}
			if status.LastCatalogUpdate != nil {
				fmt.Printf("Last catalog change: %s\n", status.LastCatalogUpdate.Format(time.RFC3339))
			}

			if statePath, err := cfg.StateFilePath(); err == nil {
				if sf, err := importer.OpenStateFile(statePath); err == nil {
					st := sf.State()
					fmt.Printf("Imports: %d\n", st.ImportCount)
					if st.LastImport != nil {
						fmt.Printf("  Last import: %s\n", st.LastImport.Format(time.RFC3339))
					}
					if st.LastRun != nil {
						for pt, ps := range st.LastRun.Providers {
							line := fmt.Sprintf("  %s: songs %s, playlists %s", pt, ps.Songs, ps.Playlists)
							if ps.Error != "" {
								line += " (" + ps.Error + ")"
							}
							fmt.Println(line)
						}
					}
				}
			}
			return nil
		},
	}
}

func printCounts(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d\n", k, counts[k])
	}
}

func migrateCmd() *cobra.Command {
	var showStatus bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Applies every pending embedded migration to the configured schema.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			database, err := db.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			if showStatus {
				return database.MigrationStatus(ctx)
			}
			if err := database.RunMigrations(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations completed successfully.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&showStatus, "status", false, "print migration status instead of migrating")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file with database settings and a local music folder.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)
			ask := func(prompt, def string) string {
				if def != "" {
					fmt.Printf("%s [%s]: ", prompt, def)
				} else {
					fmt.Printf("%s: ", prompt)
				}
				answer, _ := reader.ReadString('\n')
				answer = strings.TrimSpace(answer)
				if answer == "" {
					return def
				}
				return answer
			}

			fmt.Println("=== Catalogsync Setup ===")
			fmt.Println()

			cfg := config.DefaultConfig()

			musicDir := ask("Local music folder (empty to skip)", "")
			if musicDir != "" {
				if info, err := os.Stat(musicDir); err != nil || !info.IsDir() {
					return fmt.Errorf("music folder does not exist: %s", musicDir)
				}
				cfg.Providers.Local.Enabled = true
				cfg.Providers.Local.Roots = []string{musicDir}
				cfg.Watch.Enabled = true
			}

			fmt.Println("\nDatabase Configuration:")
			cfg.Database.Host = ask("  Host", "localhost")
			port, err := strconv.Atoi(ask("  Port", "5432"))
			if err != nil {
				return fmt.Errorf("invalid port: %w", err)
			}
			cfg.Database.Port = port
			cfg.Database.User = ask("  User", "")
			cfg.Database.Database = ask("  Database name", "")
			if cfg.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
			cfg.Database.Schema = config.SanitizeIdentifier(ask("  Schema name", cfg.Database.Schema))
			cfg.Database.SSLMode = ask("  SSL mode", cfg.Database.SSLMode)
			cfg.Database.Password = "${CATALOGSYNC_DB_PASSWORD}"

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			configDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			configPath := filepath.Join(configDir, "config.yaml")
			if err := os.WriteFile(configPath, out, 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Printf("\nIMPORTANT: Set the CATALOGSYNC_DB_PASSWORD environment variable.\n")
			fmt.Println("Media servers are configured under providers: in the same file.")
			fmt.Println("\nTo run migrations, run: catalogsync migrate")
			fmt.Println("To import once, run: catalogsync import")
			fmt.Println("To keep the catalog in sync, run: catalogsync daemon")
			return nil
		},
	}
}
