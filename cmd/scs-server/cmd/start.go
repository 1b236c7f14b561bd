package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/background"
	"github.com/sharedcontext/server/internal/config"
	"github.com/sharedcontext/server/internal/coordination"
	"github.com/sharedcontext/server/internal/httpapi"
	"github.com/sharedcontext/server/internal/mcpserver/server"
	"github.com/sharedcontext/server/internal/mcpserver/tools"
	"github.com/sharedcontext/server/internal/memory"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/notify"
	"github.com/sharedcontext/server/internal/search"
	"github.com/sharedcontext/server/internal/session"
	"github.com/sharedcontext/server/internal/store"
	"github.com/sharedcontext/server/internal/token"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the MCP server, dashboard HTTP surface, and background tasks",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStart()
	},
}

func runStart() error {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "shared-context-server").Logger()

	cfg := config.Load()
	if cfg.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.DatabaseURL, store.Config{
		MaxConns: cfg.PoolMax,
		MinConns: cfg.PoolMin,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer st.Close()

	auditLog := audit.NewLog(st, cfg.WriteBatchSize, cfg.WriteFlushInterval)
	defer auditLog.Close()

	hub := notify.NewHub()

	messages := message.NewLog(st, auditLog, hub)
	sessions := session.NewRegistry(st, auditLog, messages)
	messages.SetSessions(sessions)

	memoryStore := memory.NewStore(st, auditLog)
	searchEngine := search.NewEngine(st, auditLog)
	coordRegistry := coordination.NewRegistry()

	tokenSvc, err := token.NewService(st, token.Config{
		SigningKey:    cfg.JWTSigningKey,
		EncryptionKey: cfg.JWTEncryptionKey,
		APIKey:        cfg.APIKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build token service")
	}

	deps := &tools.Deps{
		Sessions:                  sessions,
		Messages:                  messages,
		Memory:                    memoryStore,
		Search:                    searchEngine,
		Tokens:                    tokenSvc,
		Audit:                     auditLog,
		Hub:                       hub,
		Coordination:              coordRegistry,
		Store:                     st,
		DefaultSearchRecencyHours: cfg.DefaultSearchRecencyHours,
		DefaultSearchMaxRows:      cfg.DefaultSearchMaxRows,
	}

	sched := background.New(st, hub, cfg.MemorySweepInterval, cfg.WSIdleTimeout, coordRegistry)
	sched.Start()
	defer sched.Stop()

	mcp := server.NewMCPServer(cfg, deps)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting MCP server")
		if err := mcp.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("MCP server failed")
		}
	}()

	dashboardAddr := cfg.WSPort
	if dashboardAddr == "" {
		dashboardAddr = ":8081"
	}
	dashboard := &httpapi.Server{
		Deps:            deps,
		Tokens:          tokenSvc,
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
		WSIdleTimeout:   cfg.WSIdleTimeout,
	}
	dashboardServer := &http.Server{
		Addr:         dashboardAddr,
		Handler:      dashboard.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", dashboardAddr).Msg("starting dashboard HTTP server")
		if err := dashboardServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("dashboard server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mcp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("MCP server shutdown error")
	}
	if err := dashboardServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("dashboard server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
