package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wabridge/internal/app"
	"wabridge/internal/engine"
	"wabridge/internal/infra/http/router"
	"wabridge/internal/infra/repository"
	"wabridge/internal/infra/waclient"
	"wabridge/platform/config"
	"wabridge/platform/database"
	"wabridge/platform/logger"
)

const appVersion = "1.0.0"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromAppConfig(cfg)
	log.InfoWithFields("Starting wabridge", map[string]interface{}{
		"version":     appVersion,
		"environment": cfg.Environment,
		"port":        cfg.Server.Port,
	})

	db, err := database.NewFromAppConfig(cfg, log)
	if err != nil {
		log.Fatal(fmt.Sprintf("Failed to initialize database: %v", err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal(fmt.Sprintf("Failed to run migrations: %v", err))
	}

	store := repository.NewInstanceRepository(db, log)

	factory, err := waclient.NewFactory(db.DB.DB, cfg.Database.Driver, store, log)
	if err != nil {
		log.Fatal(fmt.Sprintf("Failed to initialize transport factory: %v", err))
	}

	renderer := waclient.NewQRRenderer(cfg.Instance.QRTerminal, log)
	registry := engine.NewRegistry(log)
	manager := app.NewManager(cfg, store, factory, registry, renderer.DataURL, log)

	// Bring every persisted account back up before serving traffic.
	manager.RestoreAll(ctx)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router.SetupRoutes(cfg, log, manager),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)

	go func() {
		log.InfoWithFields("Starting HTTP server", map[string]interface{}{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case sig := <-sigChan:
		log.InfoWithFields("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
	case err := <-errChan:
		log.ErrorWithFields("Application error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithFields("Error shutting down HTTP server", map[string]interface{}{
			"error": err.Error(),
		})
	}

	for _, key := range registry.Keys() {
		if inst, ok := registry.Lookup(key); ok {
			inst.Teardown()
		}
	}

	log.Info("Shutdown completed")
}
