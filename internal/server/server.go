package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"jamsync/internal/cache"
	"jamsync/internal/catalog"
	"jamsync/internal/config"
	"jamsync/internal/hub"
	"jamsync/internal/metadata"
	"jamsync/internal/ngrok"
	"jamsync/internal/protocol"
	"jamsync/internal/session"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// JamServer ties the catalog, session manager and connection hub
// together behind the HTTP/WebSocket surface.
type JamServer struct {
	config       *config.Config
	catalog      *catalog.Store
	sessions     *session.Manager
	registry     *hub.Registry
	router       *hub.Router
	extractor    *metadata.Extractor
	songCache    *cache.SongCache
	ngrokService *ngrok.Service
	logger       *logrus.Logger

	watcher         *fsnotify.Watcher
	manifestWatcher *catalog.ManifestWatcher
	httpServer      *http.Server
	mux             *http.ServeMux
}

// NewJamServer creates a new jam server instance
func NewJamServer(cfg *config.Config, store *catalog.Store, logger *logrus.Logger) (*JamServer, error) {
	if logger == nil {
		logger = logrus.New()
	}

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	js := &JamServer{
		config:       cfg,
		catalog:      store,
		sessions:     session.NewManager(store, cfg.Session, logger),
		registry:     hub.NewRegistry(cfg.Session.SendQueueDepth, logger),
		extractor:    metadata.NewExtractor(cfg.Catalog.SupportedFormats, logger),
		songCache:    cache.NewSongCache(),
		ngrokService: ngrokSvc,
		logger:       logger,
		mux:          http.NewServeMux(),
	}
	js.router = hub.NewRouter(js.registry)

	// A dropped connection leaves its session through the registry so
	// the roster never holds a dead participant.
	js.registry.SetLeaveHook(func(sessionID, connID string) {
		if s, ok := js.sessions.Get(sessionID); ok {
			s.Leave(connID)
		}
	})

	return js, nil
}

// attachSink routes a session's committed events to its connections.
// The sink runs under the session mutex and only enqueues, so delivery
// order matches commit order; targeted events (join snapshots) go
// through the same per-connection queues as broadcasts.
func (js *JamServer) attachSink(s *session.Session) {
	sessionID := s.ID
	s.SetEventSink(func(target string, event interface{}) {
		frame, err := protocol.EncodeFrame(event)
		if err != nil {
			js.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to encode event")
			return
		}
		if target == "" {
			js.router.Publish(sessionID, frame, "")
			return
		}
		js.router.Send(target, frame)
	})
}

// ScanLibrary scans the local music directory and adds songs to the catalog
func (js *JamServer) ScanLibrary() error {
	if js.config.Catalog.LibraryPath == "" || !js.config.Catalog.ScanOnStartup {
		js.logger.Debug("Skipping library scan (disabled in config)")
		return nil
	}

	js.logger.WithField("library_path", js.config.Catalog.LibraryPath).Info("Scanning music library")

	var wg sync.WaitGroup
	var songCount int64
	jobs := make(chan string, 100)

	numWorkers := runtime.NumCPU()
	for i := 0; i < numWorkers; i++ {
		go func() {
			for path := range jobs {
				song, err := js.extractor.ExtractFromFile(path)
				if err != nil {
					js.logger.WithError(err).WithField("file_path", path).Error("Failed to extract metadata")
					wg.Done()
					continue
				}
				song.StreamURL = localStreamURL(path)
				if err := js.catalog.UpsertSong(song); err == nil {
					atomic.AddInt64(&songCount, 1)
				}
				wg.Done()
			}
		}()
	}

	walkErr := filepath.Walk(js.config.Catalog.LibraryPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if js.extractor.IsAudioFile(path) {
			wg.Add(1)
			jobs <- path
		}
		return nil
	})

	close(jobs)
	wg.Wait()

	js.logger.WithField("songs", songCount).Info("Library scan complete")
	return walkErr
}

// Start brings up background workers and serves HTTP until Shutdown.
func (js *JamServer) Start() error {
	if js.config.Catalog.WatchManifest && js.config.Catalog.ManifestPath != "" {
		mw, err := js.catalog.WatchManifest(js.config.Catalog.ManifestPath)
		if err != nil {
			js.logger.WithError(err).Warn("Could not start manifest watcher")
		} else {
			js.manifestWatcher = mw
		}
	}

	if js.config.Catalog.LibraryPath != "" {
		if err := js.startFileWatcher(); err != nil {
			js.logger.WithError(err).Warn("Could not start file watcher")
		}
	}

	js.setupRoutes()

	go js.sessions.Run()

	localAddress := fmt.Sprintf("http://%s", js.config.GetAddress())
	js.logger.WithFields(logrus.Fields{
		"address": localAddress,
		"port":    js.config.Server.Port,
	}).Info("Jamsync server starting")

	if js.ngrokService != nil {
		if err := js.ngrokService.StartTunnel(context.Background(), localAddress); err != nil {
			js.logger.WithError(err).Warn("Could not start ngrok tunnel")
		}
	}

	handler := js.panicRecoveryMiddleware(js.corsMiddleware(js.requestLoggingMiddleware(js.mux)))
	js.httpServer = &http.Server{
		Addr:        js.config.GetAddress(),
		Handler:     handler,
		ReadTimeout: time.Duration(js.config.Server.ReadTimeout) * time.Second,
	}

	err := js.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (js *JamServer) setupRoutes() {
	js.mux.HandleFunc("/create-jam", js.handleCreateJam)
	js.mux.HandleFunc("/get-jam-playlist/", js.handleGetJamPlaylist)
	js.mux.HandleFunc("/get-songs", js.handleGetSongs)
	js.mux.HandleFunc("/load-audio", js.handleLoadAudio)
	js.mux.HandleFunc("/health", js.handleHealthCheck)
	js.mux.HandleFunc("/ws/jam/", js.handleJamSocket)
}

// Shutdown gracefully shuts down the jam server
func (js *JamServer) Shutdown() {
	js.logger.Info("Shutting down jam server...")

	if js.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := js.httpServer.Shutdown(ctx); err != nil {
			js.logger.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	js.sessions.Stop()
	js.stopFileWatcher()
	if js.manifestWatcher != nil {
		js.manifestWatcher.Close()
	}
	if js.ngrokService != nil {
		js.ngrokService.Stop()
	}

	js.logger.Info("Jam server shutdown complete")
}
