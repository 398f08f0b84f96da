package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres vector store schema migrations",
		Long: `Apply every pending schema migration to the database named by
vectorstore.postgres.dsn. Only the postgres provider keeps a schema.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.VectorStore.Provider != "postgres" {
		return fmt.Errorf("vectorstore provider is %q; migrations apply to postgres only", cfg.VectorStore.Provider)
	}
	db, err := sqlx.Open("postgres", cfg.VectorStore.Postgres.DSN.Value())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	if err := vectorstore.Migrate(db.DB); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
