package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharedcontext/server/internal/config"
	"github.com/sharedcontext/server/internal/store"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check store connectivity and exit non-zero on failure",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := store.Open(ctx, cfg.DatabaseURL, store.Config{MaxConns: 2, MinConns: 1})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer st.Close()

		result := st.HealthCheck(ctx)
		if !result.OK {
			return fmt.Errorf("store unhealthy (latency %dms)", result.LatencyMs)
		}
		fmt.Printf("ok (latency %dms)\n", result.LatencyMs)
		return nil
	},
}
