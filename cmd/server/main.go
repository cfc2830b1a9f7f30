package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/gotp/internal/config"
	"github.com/me/gotp/internal/logging"
	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/internal/server"
	"github.com/me/gotp/internal/store"
	"github.com/me/gotp/internal/workload"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	addr := flag.String("addr", "", "Listen address (default :8080)")
	cpus := flag.Int("cpus", 0, "Number of scheduled CPUs (default 4)")
	dbPath := flag.String("db", "", "Database path (default ~/.gotp/gotp.db)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags win over the file and the environment.
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *cpus > 0 {
		cfg.Sched.CPUs = *cpus
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	if cfg.Server.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", filepath.Dir(cfg.Server.DBPath), err)
			os.Exit(1)
		}
	}

	st, err := store.NewSQLiteStore(cfg.Server.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.Server.DBPath)

	core, err := sched.New(cfg.Sched.CPUs, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create scheduling core: %v\n", err)
		os.Exit(1)
	}
	runner := workload.NewRunner(core, logger)

	srv := server.New(cfg.Server, logger, core, runner, st)

	if err := srv.RestoreSchedules(context.Background()); err != nil {
		logger.Error("restore schedules", "error", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "cpus", cfg.Sched.CPUs)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
