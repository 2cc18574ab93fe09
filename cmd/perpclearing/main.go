package main

import (
	"PerpClearing/internal/observability"
	"PerpClearing/internal/persistence"
	"PerpClearing/internal/projection"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cfg := DefaultConfig()
	root := &cobra.Command{
		Use:          "perpclearing",
		Short:        "Perpetual futures clearing engine",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres DSN; empty runs in memory")
	flags.StringVar(&cfg.MigrationsDir, "migrations-dir", cfg.MigrationsDir, "migration directory; empty uses the embedded set")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Recover the engine and serve commands and queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, observability.NewLogger("perpclearing"))
		},
	}
	sf := serve.Flags()
	sf.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL; empty disables the streams")
	sf.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for the snapshot cache")
	sf.StringVar(&cfg.Owner, "owner", cfg.Owner, "owner address (token minter, feeder admin)")
	sf.StringVar(&cfg.KeeperAddress, "keeper", cfg.KeeperAddress, "keeper address; empty disables the keeper")
	sf.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address")
	sf.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP gateway listen address")

	rebuild := &cobra.Command{
		Use:   "rebuild-projections",
		Short: "Rebuild the read tables from the event log; stop the server first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.NewLogger("rebuild")
			db, err := openPostgres(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			seq, err := projection.RebuildProjections(cmd.Context(), db, logger)
			if err != nil {
				return err
			}
			logger.Info().Int64("sequence", seq).Msg("projections rebuilt")
			return nil
		},
	}

	root.AddCommand(serve, rebuild)
	return root
}

// openPostgres connects and applies pending migrations.
func openPostgres(ctx context.Context, cfg Config, logger zerolog.Logger) (*sql.DB, error) {
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	var files fs.FS = persistence.Migrations()
	if cfg.MigrationsDir != "" {
		files = os.DirFS(cfg.MigrationsDir)
	}
	n, err := persistence.NewMigrator(db, files, logger).Up(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", n).Msg("migrations up to date")
	return db, nil
}
