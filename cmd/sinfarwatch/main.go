// Package main provides the entry point for Sinfar Watch.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/corvase/sinfarwatch/internal/api"
	"github.com/corvase/sinfarwatch/internal/config"
	"github.com/corvase/sinfarwatch/internal/feed"
	"github.com/corvase/sinfarwatch/internal/monitor"
	"github.com/corvase/sinfarwatch/internal/roster"
	"github.com/corvase/sinfarwatch/internal/snapshot"
	"github.com/corvase/sinfarwatch/internal/store"
	"github.com/corvase/sinfarwatch/internal/version"
)

func main() {
	// 1. Load .env if present; real environment variables win.
	_ = godotenv.Load()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Log)

	// 3. Open the store; the monitor cannot run without durability.
	if err := config.EnsureDataDir(cfg); err != nil {
		logger.Fatalf("Failed to ensure data directory: %v", err)
	}
	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// 4. Restore the roster from the previous run's snapshot files.
	players := make(map[string]*roster.Player)
	characters := make(map[string]*roster.Character)
	if loaded, err := snapshot.Load(cfg.Storage.PlayerSnapshotPath, &players); err != nil {
		logger.Fatalf("Player snapshot is corrupt: %v", err)
	} else if loaded {
		logger.Infof("Restored %d players from %s", len(players), cfg.Storage.PlayerSnapshotPath)
	}
	if loaded, err := snapshot.Load(cfg.Storage.CharacterSnapshotPath, &characters); err != nil {
		logger.Fatalf("Character snapshot is corrupt: %v", err)
	} else if loaded {
		logger.Infof("Restored %d characters from %s", len(characters), cfg.Storage.CharacterSnapshotPath)
	}

	// 5. Build the feed client and the monitor.
	fd := feed.New(cfg.Feed.BaseURL,
		feed.WithHTTPClient(&http.Client{Timeout: cfg.Feed.Timeout}),
		feed.WithBioRetries(uint64(cfg.Feed.BioRetries)))
	mon := monitor.New(db, fd, cfg.Monitor, monitor.WithLogger(logger))
	mon.Restore(players, characters)

	// 6. Start the poll scheduler.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedOpts := []monitor.SchedulerOption{monitor.WithSchedulerLogger(logger)}
	if cfg.Feed.KeepAliveURL != "" {
		schedOpts = append(schedOpts, monitor.WithKeepAlive(cfg.Feed.KeepAliveURL, cfg.Feed.KeepAliveInterval))
	}
	scheduler := monitor.NewScheduler(mon, fd, cfg.Monitor.PollInterval, schedOpts...)
	go scheduler.Run(ctx)

	// 7. Start the HTTP surface.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(addr, mon,
		api.WithRateLimiter(api.NewRateLimiter(cfg.RateLimit)),
		api.WithLogger(logger),
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Sinfar Watch v%s listening on %s, polling every %s", version.String(), addr, cfg.Monitor.PollInterval)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
		logger.Info("Shutting down...")
	case err := <-errCh:
		logger.Errorf("Server error: %v", err)
		os.Exit(1)
	}

	// 8. Two-phase drain: stop polling and join the scheduler so no
	// cycle is in flight, then log everyone off and wait for those
	// writes before snapshotting the roster to file.
	cancel()
	<-scheduler.Done()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := mon.Cleanup(drainCtx); err != nil {
		logger.Errorf("Shutdown drain incomplete: %v", err)
	}

	if err := snapshot.Save(cfg.Storage.PlayerSnapshotPath, mon.Players()); err != nil {
		logger.Errorf("Failed to save player snapshot: %v", err)
	}
	if err := snapshot.Save(cfg.Storage.CharacterSnapshotPath, mon.Characters()); err != nil {
		logger.Errorf("Failed to save character snapshot: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
