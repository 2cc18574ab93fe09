package main

import (
	"PerpClearing/internal/observability"
	"PerpClearing/internal/persistence"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	var pgURL, dir string

	open := func() (*sql.DB, *persistence.Migrator, error) {
		if pgURL == "" {
			return nil, nil, fmt.Errorf("--postgres or PERP_POSTGRES_DSN is required")
		}
		db, err := sql.Open("postgres", pgURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		var files fs.FS = persistence.Migrations()
		if dir != "" {
			files = os.DirFS(dir)
		}
		return db, persistence.NewMigrator(db, files, observability.NewLogger("migrate")), nil
	}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back the clearing schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&pgURL, "postgres", os.Getenv("PERP_POSTGRES_DSN"), "Postgres connection string")
	root.PersistentFlags().StringVar(&dir, "dir", os.Getenv("PERP_MIGRATIONS_DIR"), "migrations directory; empty uses the embedded set")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			cmd.Printf("%d migrations applied\n", n)
			return nil
		},
	}, &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			done, err := m.Down(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			if !done {
				cmd.Println("nothing to roll back")
				return nil
			}
			cmd.Println("last migration rolled back")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
