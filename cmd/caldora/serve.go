package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyp0633/caldora/internal/router"
	"github.com/cyp0633/caldora/server/changelog"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CalDAV server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Listen = listenAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.ChangeLog.PruneSchedule != "" {
			pruner := changelog.NewPruner(a.log, cfg.RetentionPeriod(), logger.With("component", "pruner"))
			if err := pruner.Start(cfg.ChangeLog.PruneSchedule); err != nil {
				return err
			}
			defer pruner.Stop()
		}

		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           router.New(a.handler, logger.With("component", "http")),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", cfg.Listen, "prefix", cfg.Prefix, "changelog", cfg.ChangeLog.Type)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", os.Getenv("CALDORA_LISTEN"), "listen address, overrides the config")
}
