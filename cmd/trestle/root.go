package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/trestle/internal/api"
	"github.com/hyperengineering/trestle/internal/config"
	"github.com/hyperengineering/trestle/internal/crm"
	"github.com/hyperengineering/trestle/internal/mapping"
	"github.com/hyperengineering/trestle/internal/media"
	"github.com/hyperengineering/trestle/internal/store"
	"github.com/hyperengineering/trestle/internal/syncer"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "trestle",
	Short: "Trestle - CRM sync service for construction progress tracking",
	RunE:  runServe,
}

// services bundles everything a command needs to talk to the CRM and the
// local store.
type services struct {
	cfg          *config.Config
	store        *store.Store
	orchestrator *syncer.Orchestrator
	mediaSync    *media.Syncer
	logger       *slog.Logger
}

// buildServices wires the store, CRM client, media pipeline and orchestrator
// from configuration. The caller owns closing the store.
func buildServices() (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	set, err := mapping.NewSet()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Database.Path, set)
	if err != nil {
		return nil, err
	}
	logger.Info("store initialized", "path", cfg.Database.Path)

	client := crm.NewClient(cfg.CRM.BaseURL, crm.Credentials{
		CorpID:    cfg.CRM.CorpID,
		AppKey:    cfg.CRM.AppKey,
		AppSecret: cfg.CRM.AppSecret,
		UserID:    cfg.CRM.UserID,
	}, cfg.Sync.MaxRetries)

	archiver, err := media.NewArchiver(cfg.MediaArchive)
	if err != nil {
		st.Close()
		return nil, err
	}
	mediaSync := media.NewSyncer(client.Files(), st, archiver, logger)

	orchestrator := syncer.New(client, st, set, mediaSync, logger)

	return &services{
		cfg:          cfg,
		store:        st,
		orchestrator: orchestrator,
		mediaSync:    mediaSync,
		logger:       logger,
	}, nil
}

func syncOptions(cfg *config.Config) syncer.Options {
	return syncer.Options{
		PageSize:   cfg.Sync.PageSize,
		RunTimeout: time.Duration(cfg.Sync.RunTimeout),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.store.Close()
	cfg := svc.cfg

	handler := api.NewHandler(svc.orchestrator, svc.mediaSync, syncOptions(cfg), cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	if time.Duration(cfg.Sync.Interval) > 0 {
		scheduler := syncer.NewScheduler(svc.orchestrator, time.Duration(cfg.Sync.Interval), syncOptions(cfg), svc.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Start(ctx)
		}()
	}

	go func() {
		svc.logger.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error on graceful Shutdown().
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			svc.logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	svc.logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		svc.logger.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	svc.logger.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
