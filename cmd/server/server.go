// Package server wires the polling engine, alarm manager and HTTP API
// into the long-running monitoring daemon.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/api"
	"github.com/martinsuchenak/switchwatch/internal/config"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/paularlott/cli"
	"github.com/robfig/cron/v3"
)

// resolvedAlarmRetention is how long resolved alarms are kept before
// the daily cleanup job deletes them
const resolvedAlarmRetention = 30 * 24 * time.Hour

// debounceRetention bounds the in-memory notification debounce map
const debounceRetention = 24 * time.Hour

// RunServer starts the poll scheduler and HTTP API and blocks until a
// shutdown signal arrives
func RunServer(app *App) error {
	interval := time.Duration(app.Config.Polling.Interval)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		app.Engine.PollAll()
	}); err != nil {
		return fmt.Errorf("scheduling poll cycle: %w", err)
	}
	if _, err := scheduler.AddFunc("@daily", func() {
		removed := app.Alarms.CleanupNotifications(debounceRetention)
		deleted, err := app.Store.DeleteResolvedAlarmsBefore(time.Now().Add(-resolvedAlarmRetention))
		if err != nil {
			log.Error("Alarm cleanup failed", "error", err)
			return
		}
		log.Info("Daily cleanup finished", "alarms_deleted", deleted, "debounce_evicted", removed)
	}); err != nil {
		return fmt.Errorf("scheduling cleanup: %w", err)
	}

	// First cycle runs immediately; cron only fires after one interval
	go app.Engine.PollAll()
	scheduler.Start()
	log.Info("Poll scheduler started", "interval", interval,
		"devices", len(app.Config.Devices), "concurrency", app.Config.Polling.Concurrency)

	mux := http.NewServeMux()
	api.NewHandler(app.Store, app.Alarms).RegisterRoutes(mux)

	var handler http.Handler = mux
	if app.Config.API.BearerToken != "" {
		handler = api.AuthMiddleware(app.Config.API.BearerToken, handler)
		log.Info("API authentication enabled")
	}
	handler = api.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:    app.Config.API.ListenAddr,
		Handler: handler,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down...")

		// Wait for an in-flight poll cycle before closing storage
		<-scheduler.Stop().Done()
		server.Close()
	}()

	log.Info("Starting switchwatch server", "addr", app.Config.API.ListenAddr)
	log.Info("API available", "url", "http://localhost"+app.Config.API.ListenAddr+"/api/")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the monitoring server",
		Description: "Poll all configured switches on a schedule and serve the HTTP API",
		Flags:       config.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			log.Info("Configuration loaded", "source", cfg.String(),
				"devices", len(cfg.Devices))

			app, err := Bootstrap(cfg, "")
			if err != nil {
				return err
			}
			defer app.Close()

			return RunServer(app)
		},
	}
}
