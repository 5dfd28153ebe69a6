package main

import (
	"os"
	"os/signal"
	"syscall"

	"jamsync/internal/catalog"
	"jamsync/internal/config"
	"jamsync/internal/server"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "./config.toml"

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Optional .env for secrets (ngrok token).
	if _, err := os.Stat(".env"); err == nil {
		godotenv.Load(".env")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}
	configureLogger(logger, cfg)

	store, err := catalog.NewStore(cfg.Catalog.DatabasePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing catalog store")
	}
	defer store.Close()

	// Seed the catalog from the hosted song manifest when present.
	if cfg.Catalog.ManifestPath != "" {
		if _, err := os.Stat(cfg.Catalog.ManifestPath); err == nil {
			if n, err := store.ImportManifest(cfg.Catalog.ManifestPath); err != nil {
				logger.WithError(err).Warn("Could not import song manifest")
			} else if n == 0 {
				logger.Warn("Song manifest contained no usable entries")
			}
		}
	}

	jamServer, err := server.NewJamServer(cfg, store, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating jam server")
	}

	if err := jamServer.ScanLibrary(); err != nil {
		logger.WithError(err).Fatal("Error scanning music library")
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		errc <- jamServer.Start()
	}()

	select {
	case <-c:
		logger.Info("Received shutdown signal")
	case err := <-errc:
		if err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	}

	jamServer.Shutdown()
}

// configureLogger applies level, format and output file from config.
func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.WithError(err).Warn("Could not open log file, using stderr")
		} else {
			logger.SetOutput(f)
		}
	}
}
