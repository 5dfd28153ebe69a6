package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jamsync/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultThumbnail = "https://placehold.co/128x128/CCCCCC/FFFFFF?text=MP3"

// manifestEntry is the on-disk shape of one hosted song. Fields beyond
// these are ignored.
type manifestEntry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Duration  float64 `json:"duration"`
	URL       string  `json:"url"`
	Thumbnail string  `json:"thumbnail"`
}

// LoadManifest reads a JSON song manifest and returns the validated
// entries. Entries that are not objects, or that lack an id or url, are
// skipped; missing display fields get placeholder values.
func LoadManifest(path string) ([]models.Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in manifest %s: %w", path, err)
	}

	songs := make([]models.Song, 0, len(raw))
	for _, item := range raw {
		var entry manifestEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		if entry.ID == "" || entry.URL == "" {
			continue
		}
		if entry.Title == "" {
			entry.Title = "Unknown Title"
		}
		if entry.Artist == "" {
			entry.Artist = "Unknown Artist"
		}
		if entry.Thumbnail == "" {
			entry.Thumbnail = defaultThumbnail
		}
		songs = append(songs, models.Song{
			ID:        entry.ID,
			Title:     entry.Title,
			Artist:    entry.Artist,
			Duration:  int(entry.Duration),
			StreamURL: entry.URL,
			Thumbnail: entry.Thumbnail,
		})
	}
	return songs, nil
}

// ImportManifest loads the manifest at path and upserts every validated
// entry into the store. Returns the number of songs imported.
func (s *Store) ImportManifest(path string) (int, error) {
	songs, err := LoadManifest(path)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, song := range songs {
		if err := s.UpsertSong(song); err != nil {
			continue
		}
		imported++
	}

	s.logger.WithFields(logrus.Fields{
		"manifest": path,
		"imported": imported,
	}).Info("Imported song manifest")
	return imported, nil
}

// ManifestWatcher re-imports a manifest file whenever it changes on
// disk. The containing directory is watched rather than the file itself
// so editors that replace the file (rename over it) are still seen.
type ManifestWatcher struct {
	store   *Store
	path    string
	watcher *fsnotify.Watcher
	logger  *logrus.Logger
	done    chan struct{}
}

// WatchManifest starts watching the manifest at path and re-imports it
// on every write or rename. Caller should Close() it when finished.
func (s *Store) WatchManifest(path string) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	mw := &ManifestWatcher{
		store:   s,
		path:    abs,
		watcher: watcher,
		logger:  s.logger,
		done:    make(chan struct{}),
	}
	go mw.watchLoop()

	s.logger.WithField("manifest", abs).Info("Manifest watcher started")
	return mw, nil
}

// watchLoop selects on watcher channels and re-imports on changes.
func (mw *ManifestWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != mw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				// Give the writer a moment to finish the file.
				go func() {
					time.Sleep(500 * time.Millisecond)
					if _, err := mw.store.ImportManifest(mw.path); err != nil {
						mw.logger.WithError(err).Warn("Manifest re-import failed")
					}
				}()
			}

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.logger.WithError(err).Error("Manifest watcher error")

		case <-mw.done:
			return
		}
	}
}

// Close stops the watcher (idempotent).
func (mw *ManifestWatcher) Close() error {
	select {
	case <-mw.done:
	default:
		close(mw.done)
	}
	return mw.watcher.Close()
}
