package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sharedcontext/server/internal/config"
	"github.com/sharedcontext/server/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema migrations to DATABASE_URL",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}

		ctx := context.Background()
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		if err := migrate.Apply(ctx, pool); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
		return nil
	},
}
