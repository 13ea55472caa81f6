package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashishshetty777/auction-app/internal/auction"
	"github.com/ashishshetty777/auction-app/internal/bot"
	"github.com/ashishshetty777/auction-app/internal/bot/commands"
	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/gate"
	"github.com/ashishshetty777/auction-app/internal/health"
	"github.com/ashishshetty777/auction-app/internal/httpapi"
	"github.com/ashishshetty777/auction-app/internal/leader"
	"github.com/ashishshetty777/auction-app/internal/metrics"
	"github.com/ashishshetty777/auction-app/internal/roster"
	"github.com/ashishshetty777/auction-app/internal/telemetry"
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the auction API, live feed and operator bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Setup(ctx, cfg.Telemetry,
		attribute.String("auction.store", cfg.Database.Driver),
		attribute.String("auction.notify", cfg.Notify.Driver),
		attribute.Int("auction.teams", cfg.Rules.TotalTeams),
		attribute.Int64("auction.team_purse", cfg.Rules.TeamPurse),
	)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()
	logger := tp.Logger

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("closing connections", slog.Any("error", closeErr))
		}
	}()

	auctionMgr := auction.NewManager(rt.repos, *cfg.Rules, rt.session, rt.bus, logger, tp.TracerProvider, rt.clock)
	rosterMgr := roster.NewManager(rt.repos, *cfg.Rules, rt.bus, logger, tp.TracerProvider, rt.clock)
	editGate := gate.New(cfg.Gate, rt.clock)
	if editGate.Open() {
		logger.WarnContext(ctx, "edit gate is open: anyone can change auction data")
	}

	healthHandler := health.NewHandler(rt.clock, rt.checkers...)

	// Health checks and metrics run on all replicas.
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           healthHandler.Routes(metrics.Handler()),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	go func() {
		logger.InfoContext(ctx, "starting ops server", slog.Int("port", cfg.Server.Port))
		if listenErr := opsServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "ops server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	// lead is the work only the leader runs. It blocks until ctx is done.
	lead := func(ctx context.Context) {
		api := httpapi.NewServer(auctionMgr, rosterMgr, editGate, rt.bus, cfg.Server.CORSOrigins, logger)
		apiServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.APIPort),
			Handler:           api.Handler(),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		}
		go func() {
			logger.InfoContext(ctx, "starting api server", slog.Int("port", cfg.Server.APIPort))
			if listenErr := apiServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "api server error", slog.Any("error", listenErr))
				cancel()
			}
		}()

		var discordBot *bot.Bot
		if cfg.Discord.Token != "" {
			handlers := commands.NewHandlers(auctionMgr, rosterMgr, cfg.Discord.OperatorRoleID, logger, tp.TracerProvider)
			b, botErr := bot.New(cfg.Discord, handlers, rt.bus, logger)
			if botErr == nil {
				botErr = b.Start(ctx)
			}
			if botErr != nil {
				logger.ErrorContext(ctx, "starting bot failed", slog.Any("error", botErr))
			} else {
				discordBot = b
			}
		}

		healthHandler.SetRole(health.RoleLeader)
		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

		<-ctx.Done()

		healthHandler.SetReady(false)
		healthHandler.SetRole(health.RoleFollower)
		if discordBot != nil {
			if stopErr := discordBot.Stop(); stopErr != nil {
				logger.Error("bot shutdown error", slog.Any("error", stopErr))
			}
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown error", slog.Any("error", err))
		}
	}

	leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, leader.Callbacks{
		OnStarted: lead,
		OnStopped: func() {
			logger.Info("leadership ended, shutting down")
			cancel()
		},
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", slog.Any("error", err))
	}

	if leaderErr != nil {
		return fmt.Errorf("leader election: %w", leaderErr)
	}
	logger.Info("shutdown complete")
	return nil
}
