package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowsync/infrastructure/config"
	"flowsync/infrastructure/di"
)

func newRunCommand() *cobra.Command {
	var graphID, userID, endpoint string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync engine and debug surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Flags override the environment.
			if graphID != "" {
				os.Setenv("GRAPH_ID", graphID)
			}
			if userID != "" {
				os.Setenv("USER_ID", userID)
			}
			if endpoint != "" {
				os.Setenv("CHANNEL_ENDPOINT", endpoint)
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&graphID, "graph", "", "graph id to open")
	cmd.Flags().StringVar(&userID, "user", "", "user id for the session")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "remote authority websocket URL")
	return cmd
}

func run(cfg *config.Config) error {
	container, err := di.InitializeContainer(cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	logger := container.Logger

	if container.TuningWatcher != nil {
		container.TuningWatcher.Start()
	}
	if err := container.Engine.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.DebugAddress,
		Handler:      container.DebugServer.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("debug surface listening",
			zap.String("address", cfg.DebugAddress),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("debug server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("debug server shutdown error", zap.Error(err))
	}
	return nil
}
