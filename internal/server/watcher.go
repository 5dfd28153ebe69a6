package server

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// startFileWatcher initializes fsnotify watcher for recursive library monitoring.
func (js *JamServer) startFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	js.watcher = watcher

	go js.watchFiles()

	if err := js.addDirectoryToWatcher(js.config.Catalog.LibraryPath); err != nil {
		return err
	}

	js.logger.WithField("library_path", js.config.Catalog.LibraryPath).Info("File watcher started")
	return nil
}

// addDirectoryToWatcher recursively walks and adds subdirectories to watcher.
func (js *JamServer) addDirectoryToWatcher(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return js.watcher.Add(path)
		}
		return nil
	})
}

// watchFiles selects on watcher channels and dispatches events.
func (js *JamServer) watchFiles() {
	defer js.watcher.Close()

	for {
		select {
		case event, ok := <-js.watcher.Events:
			if !ok {
				return
			}
			js.handleFileEvent(event)

		case err, ok := <-js.watcher.Errors:
			if !ok {
				return
			}
			js.logger.WithError(err).Error("File watcher error")
		}
	}
}

// handleFileEvent applies filtering & delegates creation/removal actions.
func (js *JamServer) handleFileEvent(event fsnotify.Event) {
	// Ignore temporary files and hidden files
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}

	isAudioFile := js.extractor.IsAudioFile(event.Name)

	switch {
	case event.Has(fsnotify.Create) && isAudioFile:
		go func(name string) {
			time.Sleep(500 * time.Millisecond) // Ensure file is fully written
			js.handleNewFile(name)
		}(event.Name)

	case event.Has(fsnotify.Remove) && isAudioFile:
		go js.handleRemovedFile(event.Name)

	case event.Has(fsnotify.Create):
		// Check if it's a new directory
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			js.watcher.Add(event.Name)
			js.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

// handleNewFile extracts metadata & catalogs the new song.
func (js *JamServer) handleNewFile(filePath string) {
	js.logger.WithField("file_path", filePath).Info("New audio file detected")

	song, err := js.extractor.ExtractFromFile(filePath)
	if err != nil {
		js.logger.WithError(err).WithField("file_path", filePath).Error("Error extracting metadata")
		return
	}
	song.StreamURL = localStreamURL(filePath)

	if err := js.catalog.UpsertSong(song); err != nil {
		js.logger.WithError(err).Error("Error adding new song to catalog")
		return
	}
	js.songCache.Clear()

	js.logger.WithFields(logrus.Fields{
		"artist":  song.Artist,
		"title":   song.Title,
		"song_id": song.ID,
	}).Info("Added new song")
}

// handleRemovedFile removes catalog rows referencing deleted audio files.
func (js *JamServer) handleRemovedFile(filePath string) {
	js.logger.WithField("file_path", filePath).Info("Audio file removed")

	if err := js.catalog.RemoveSongByPath(filePath); err != nil {
		js.logger.WithError(err).WithField("file_path", filePath).Error("Error removing song from catalog")
		return
	}
	js.songCache.Clear()
}

// stopFileWatcher closes the watcher (idempotent).
func (js *JamServer) stopFileWatcher() {
	if js.watcher != nil {
		js.watcher.Close()
	}
}
