package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"jamsync/internal/protocol"
	"jamsync/pkg/models"
)

// jamInfo is the /create-jam response.
type jamInfo struct {
	JamID     string    `json:"jam_id"`
	HostName  string    `json:"host_name"`
	CreatedAt time.Time `json:"created_at"`
	PublicURL string    `json:"public_url,omitempty"`
}

// handleCreateJam allocates a fresh jam session and returns its ID. The
// caller becomes host by being the first to open the jam's socket.
func (js *JamServer) handleCreateJam(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "Host"
	}
	if utf8.RuneCountInString(name) > 20 {
		writeJSONError(w, http.StatusBadRequest, "Name must be at most 20 characters")
		return
	}

	s := js.sessions.Create()
	js.attachSink(s)

	info := jamInfo{
		JamID:     s.ID,
		HostName:  name,
		CreatedAt: s.CreatedAt,
	}
	if js.ngrokService != nil {
		info.PublicURL = js.ngrokService.GetPublicURL()
	}

	js.logger.WithField("jam_id", s.ID).Info("Created jam session")
	writeJSON(w, http.StatusOK, info)
}

// jamPlaylistView is the read-only REST peek at a running jam.
type jamPlaylistView struct {
	Playback     interface{}              `json:"playback"`
	Position     float64                  `json:"position"`
	Playlist     []protocol.PlaylistEntry `json:"playlist"`
	Participants []protocol.Participant   `json:"participants"`
	HostConnID   string                   `json:"hostId,omitempty"`
	CreatedAt    time.Time                `json:"sessionCreated"`
}

// handleGetJamPlaylist serves GET /get-jam-playlist/{jamID}.
func (js *JamServer) handleGetJamPlaylist(w http.ResponseWriter, r *http.Request) {
	jamID := strings.TrimPrefix(r.URL.Path, "/get-jam-playlist/")
	if jamID == "" || strings.Contains(jamID, "/") {
		writeJSONError(w, http.StatusBadRequest, "Invalid jam ID")
		return
	}

	s, ok := js.sessions.Get(jamID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Jam session not found")
		return
	}

	snap := s.Snapshot("")
	writeJSON(w, http.StatusOK, jamPlaylistView{
		Playback:     snap.Playback,
		Position:     snap.Position,
		Playlist:     snap.Playlist,
		Participants: snap.Roster,
		HostConnID:   snap.HostConnID,
		CreatedAt:    snap.CreatedAt,
	})
}

// handleGetSongs returns the whole catalog, cached briefly to keep
// polling clients off the database.
func (js *JamServer) handleGetSongs(w http.ResponseWriter, r *http.Request) {
	if songs, ok := js.songCache.GetSongs("all"); ok {
		writeJSON(w, http.StatusOK, songs)
		return
	}

	songs, err := js.catalog.GetAllSongs()
	if err != nil {
		js.logger.WithError(err).Error("Failed to list songs")
		writeJSONError(w, http.StatusInternalServerError, "Failed to list songs")
		return
	}
	if songs == nil {
		songs = []models.Song{}
	}

	js.songCache.SetSongs("all", songs)
	writeJSON(w, http.StatusOK, songs)
}

// handleLoadAudio resolves a playback source. Remote URLs pass through
// untouched; local paths are streamed with range support.
func (js *JamServer) handleLoadAudio(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing path parameter")
		return
	}

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		writeJSON(w, http.StatusOK, map[string]string{"url": path})
		return
	}

	if !js.extractor.IsAudioFile(path) {
		writeJSONError(w, http.StatusBadRequest, "Unsupported audio format")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeJSONError(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", js.extractor.GetContentType(path))
	http.ServeFile(w, r, path)
}

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Jams        int                    `json:"activeJams"`
	Connections int                    `json:"activeConnections"`
	Songs       int                    `json:"songCount"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (js *JamServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Database:    "ok",
		Jams:        js.sessions.Count(),
		Connections: js.registry.Count(),
		Details:     make(map[string]interface{}),
	}

	count, err := js.catalog.Count()
	if err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	} else {
		health.Songs = count
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// localStreamURL builds the /load-audio reference for a library file.
func localStreamURL(path string) string {
	return "/load-audio?path=" + url.QueryEscape(path)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
