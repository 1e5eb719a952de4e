package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/vonshlovens/catalogsync/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// DB wraps the database connection pool
type DB struct {
	Pool     *pgxpool.Pool
	connStr  string
	Schema   string
	hostDesc string
}

// New creates a new database connection pool from config
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	db, err := Open(ctx, cfg.ConnectionString(), cfg.ConnectRetries)
	if err != nil {
		return nil, err
	}
	db.Schema = cfg.Schema
	db.hostDesc = fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)

	slog.Info("connected to database",
		"host", cfg.Host,
		"database", cfg.Database,
		"schema", cfg.Schema)
	return db, nil
}

// Open connects using a connection string. The first ping is retried with
// exponential backoff up to retries times.
func Open(ctx context.Context, connStr string, retries int) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database not reachable yet", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool, connStr: connStr}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		slog.Info("database connection closed")
	}
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// EnsureSchema creates the schema if it doesn't exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if db.Schema == "" {
		return nil
	}

	_, err := db.Pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", db.Schema))
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", db.Schema, err)
	}

	slog.Info("schema ready", "schema", db.Schema)
	return nil
}

func (db *DB) goose() (*sql.DB, error) {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}

	stdDB, err := sql.Open("pgx", db.connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open stdlib connection: %w", err)
	}

	// Keep goose bookkeeping next to the catalog tables
	if db.Schema != "" {
		goose.SetTableName(db.Schema + ".goose_db_version")
	}
	return stdDB, nil
}

// RunMigrations applies every pending embedded migration
func (db *DB) RunMigrations(ctx context.Context) error {
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	stdDB, err := db.goose()
	if err != nil {
		return err
	}
	defer stdDB.Close()

	if err := goose.UpContext(ctx, stdDB, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations completed successfully", "schema", db.Schema)
	return nil
}

// MigrationStatus prints the state of every embedded migration
func (db *DB) MigrationStatus(ctx context.Context) error {
	stdDB, err := db.goose()
	if err != nil {
		return err
	}
	defer stdDB.Close()

	return goose.StatusContext(ctx, stdDB, migrationsDir)
}

// GetStatus returns catalog and queue counts
func (db *DB) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		Connected:      true,
		Host:           db.hostDesc,
		SongsByType:    make(map[string]int),
		OpsByStatus:    make(map[string]int),
		PlaylistByType: make(map[string]int),
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT provider_type, COUNT(*), COUNT(*) FILTER (WHERE excluded)
		FROM songs GROUP BY provider_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count songs: %w", err)
	}
	for rows.Next() {
		var pt string
		var n, excluded int
		if err := rows.Scan(&pt, &n, &excluded); err != nil {
			rows.Close()
			return nil, err
		}
		status.SongsByType[pt] = n
		status.TotalSongs += n
		status.ExcludedSongs += excluded
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Pool.Query(ctx, "SELECT provider_type, COUNT(*) FROM playlists GROUP BY provider_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count playlists: %w", err)
	}
	for rows.Next() {
		var pt string
		var n int
		if err := rows.Scan(&pt, &n); err != nil {
			rows.Close()
			return nil, err
		}
		status.PlaylistByType[pt] = n
		status.TotalPlaylists += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Pool.Query(ctx, "SELECT status, COUNT(*) FROM sync_operations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count sync operations: %w", err)
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		status.OpsByStatus[st] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM playlist_sync_state WHERE conflict_detected").Scan(&status.Conflicts)
	if err != nil {
		return nil, fmt.Errorf("failed to count conflicts: %w", err)
	}

	var lastUpdate *time.Time
	if err := db.Pool.QueryRow(ctx, "SELECT MAX(updated_at) FROM songs").Scan(&lastUpdate); err != nil {
		slog.Warn("failed to get last catalog update", "error", err)
	}
	status.LastCatalogUpdate = lastUpdate

	return status, nil
}
