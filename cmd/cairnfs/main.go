package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/cache"
	"github.com/cairnfs/cairnfs/pkg/config"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure logger
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("CairnFS - Metadata Cache Layer")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Delegate: %s", cfg.Delegate.Type)

	delegate, closeDelegate, err := config.BuildDelegate(ctx, &cfg.Delegate)
	if err != nil {
		log.Fatalf("Failed to build delegate: %v", err)
	}

	budget, exports := config.BuildExports(cfg, delegate)
	logger.Info("Open file budget: %d", budget.Limit())

	// Resolve and pin every export root up front so a bad path fails at
	// startup rather than on first access
	roots := make([]*cache.Entry, 0, len(exports))
	for _, exp := range exports {
		root, st := exp.RootEntry(ctx)
		if st.IsError() {
			log.Fatalf("Failed to resolve root of export %d (%s): %v", exp.ID, exp.Path, st)
		}
		roots = append(roots, root)
		logger.Info("Export %d mounted at %s", exp.ID, exp.Path)

		op := &cache.OpContext{Context: ctx, Creds: fsal.Credentials{}, Export: exp}
		if info, ist := root.Statfs(op); !ist.IsError() {
			logger.Info("Export %d: %d/%d bytes free", exp.ID, info.FreeBytes, info.TotalBytes)
		}
	}

	// Wait for a shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received %s, shutting down", sig)

	cancel()
	for i, exp := range exports {
		exp.Shutdown()
		roots[i].Unref()
		exp.Unref()
	}
	if err := closeDelegate(); err != nil {
		logger.Error("Error closing delegate: %v", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
