package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/binho-transportes/picking/client"
	"github.com/binho-transportes/picking/config"
	"github.com/binho-transportes/picking/manifest"
	"github.com/binho-transportes/picking/repository"
	"github.com/binho-transportes/picking/server"
	"github.com/binho-transportes/picking/session"
)

var (
	configPath string
	httpPort   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to the picking config file")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides config)")
}

func main() {
	// Load Config
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Creating logger: %v", err)
	}
	defer logger.Sync()

	// Initialize Badger DB
	db, err := badger.Open(badger.DefaultOptions(cfg.DataDir))
	if err != nil {
		log.Fatalf("Opening database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Closing database: %v", err)
		}
	}()

	store := repository.NewStore(db, logger, repository.Options{
		QueueCap:    cfg.OfflineQueueCap,
		AuditCap:    cfg.AuditLogCap,
		AuditMaxAge: cfg.AuditMaxAge(),
	})
	remote := client.New(cfg.EndpointURL, store, logger)

	sess := session.New(store, remote, logger, session.Config{
		Policy:         manifest.Policy{AllowOverscan: cfg.AllowOverscan},
		DebounceWindow: cfg.DebounceWindow(),
	})

	// Restore persisted progress before anything can render it.
	if m, err := sess.Restore(); err != nil {
		logger.Warn("restore failed, starting empty", zap.Error(err))
	} else if m != nil {
		logger.Info("resuming picking", zap.String("ctrc", m.ID))
	}

	// Replay completions queued during the last offline period.
	if remote.Online() {
		if remaining, err := remote.Flush(context.Background()); err != nil {
			logger.Warn("startup queue flush failed", zap.Error(err))
		} else if remaining > 0 {
			logger.Info("offline actions still queued", zap.Int("remaining", remaining))
		}
	}

	// Start Web Server
	webserver := server.NewWebServer(sess, remote, cfg.HTTPPort, logger)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("shutting down HTTP web server", zap.Error(err))
	}
	logger.Info("HTTP web server gracefully stopped")
}
