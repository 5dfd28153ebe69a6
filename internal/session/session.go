package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"jamsync/internal/config"
	"jamsync/internal/playback"
	"jamsync/internal/protocol"
	"jamsync/pkg/models"

	"github.com/google/uuid"
)

// Command rejection errors. Every rejection maps to a targeted error
// event for the sender; session state is left untouched.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidReference = errors.New("invalid reference")
	ErrEmptyChat        = errors.New("chat text is empty")
)

// Catalog is the read-only song lookup the session validates playlist
// adds against.
type Catalog interface {
	Lookup(trackID string) (models.Song, error)
}

// Session owns one shared playback timeline: its playback state,
// playlist, chat log and participant roster. All mutation is serialized
// through the session mutex; different sessions are fully independent.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	hostConnID   string // empty when the host seat is vacant
	participants map[string]*protocol.Participant
	playlist     []protocol.PlaylistEntry
	chat         []protocol.ChatEntry
	state        playback.State

	catalog Catalog
	cfg     config.SessionConfig

	// emit hands a state-changing event to the broadcast layer. An empty
	// target broadcasts to the whole session; a connection ID targets one
	// participant (join snapshots). It is invoked with the session lock
	// held so fan-out order matches commit order; the sink must only
	// enqueue, never block.
	emit func(target string, event interface{})

	// now is replaceable in tests
	now func() time.Time
}

// New creates an empty session.
func New(id string, catalog Catalog, cfg config.SessionConfig) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		participants: make(map[string]*protocol.Participant),
		state:        playback.Empty(now),
		catalog:      catalog,
		cfg:          cfg,
		emit:         func(string, interface{}) {},
		now:          time.Now,
	}
}

// SetEventSink installs the fan-out callback. The sink is called with
// the session lock held and must not block.
func (s *Session) SetEventSink(sink func(target string, event interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink == nil {
		sink = func(string, interface{}) {}
	}
	s.emit = sink
}

// Join adds a participant. The first participant into a host-vacant
// session takes the host seat; everyone else joins as guest. The
// snapshot is the joiner's single source of truth for catching up; it
// is emitted targeted to the joiner under the same lock hold as the
// roster update, so nothing committed afterwards can reach the joiner
// ahead of it. It is also returned for callers outside the socket path.
func (s *Session) Join(connID, displayName string) *protocol.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.advanceLocked(now)

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "Guest"
	}
	if runes := []rune(name); len(runes) > s.cfg.MaxDisplayNameLen {
		name = string(runes[:s.cfg.MaxDisplayNameLen])
	}

	role := protocol.RoleGuest
	if s.hostConnID == "" {
		role = protocol.RoleHost
		s.hostConnID = connID
	}

	s.participants[connID] = &protocol.Participant{
		ConnID:   connID,
		Name:     name,
		Role:     role,
		JoinedAt: now,
	}

	s.emit("", &protocol.RosterUpdate{
		Type:       protocol.TypeRosterUpdate,
		Roster:     s.rosterLocked(),
		HostConnID: s.hostConnID,
	})

	snap := s.snapshotLocked(connID, now)
	s.emit(connID, snap)
	return snap
}

// Leave removes a participant. A departing host hands the seat to the
// longest-connected remaining guest; playback is left frozen at its
// anchor either way, so connection churn never causes an audible jump.
func (s *Session) Leave(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[connID]; !ok {
		return
	}
	delete(s.participants, connID)

	if s.hostConnID == connID {
		s.hostConnID = ""
		s.promoteLocked()
	}

	s.emit("", &protocol.RosterUpdate{
		Type:       protocol.TypeRosterUpdate,
		Roster:     s.rosterLocked(),
		HostConnID: s.hostConnID,
	})
}

// promoteLocked hands the host seat to the longest-connected guest, or
// leaves it vacant when nobody remains.
func (s *Session) promoteLocked() {
	var oldest *protocol.Participant
	for _, p := range s.participants {
		if oldest == nil ||
			p.JoinedAt.Before(oldest.JoinedAt) ||
			(p.JoinedAt.Equal(oldest.JoinedAt) && p.ConnID < oldest.ConnID) {
			oldest = p
		}
	}
	if oldest == nil {
		return
	}
	oldest.Role = protocol.RoleHost
	s.hostConnID = oldest.ConnID
}

// ApplyTransport handles play/pause/seek/set_track. Host only; every
// accepted command replaces the anchor pair atomically and emits a
// playback update.
func (s *Session) ApplyTransport(connID string, msg *protocol.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[connID]; !ok {
		return ErrInvalidReference
	}
	if s.hostConnID != connID {
		return ErrPermissionDenied
	}

	now := s.now()
	s.advanceLocked(now)

	switch msg.Action {
	case protocol.ActionPlay:
		if !s.state.HasTrack() {
			return ErrInvalidReference
		}
		s.state = s.state.ReAnchor(s.state.Position(now), true, now)

	case protocol.ActionPause:
		if !s.state.HasTrack() {
			return ErrInvalidReference
		}
		s.state = s.state.ReAnchor(s.state.Position(now), false, now)

	case protocol.ActionSeek:
		if !s.state.HasTrack() {
			return ErrInvalidReference
		}
		s.state = s.state.ReAnchor(*msg.Position, s.state.IsPlaying, now)

	case protocol.ActionSetTrack:
		idx := *msg.TrackIndex
		if idx < 0 || idx >= len(s.playlist) {
			return ErrInvalidReference
		}
		s.state.TrackIndex = idx
		s.state = s.state.ReAnchor(0, true, now)
	}

	// A seek past the end of the track resolves immediately, the same
	// way end-of-track does; advanceLocked emits the playback update
	// itself in that case.
	if !s.advanceLocked(now) {
		s.emitPlaybackLocked(now)
	}
	return nil
}

// ApplyPlaylist handles add/remove/reorder. Adding is open to every
// participant; insertion order is arrival order at the session lock,
// so concurrent adds commute. Remove and reorder are host only.
func (s *Session) ApplyPlaylist(connID string, msg *protocol.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return ErrInvalidReference
	}

	now := s.now()
	s.advanceLocked(now)

	switch msg.Action {
	case protocol.ActionAdd:
		song, err := s.catalog.Lookup(msg.TrackID)
		if err != nil {
			return ErrInvalidReference
		}
		s.playlist = append(s.playlist, protocol.PlaylistEntry{
			EntryID:  uuid.New().String(),
			TrackID:  song.ID,
			Title:    song.Title,
			Artist:   song.Artist,
			Duration: song.Duration,
			AddedBy:  p.Name,
			AddedAt:  now,
		})

	case protocol.ActionRemove:
		if s.hostConnID != connID {
			return ErrPermissionDenied
		}
		idx := s.entryIndexLocked(msg.EntryID)
		if idx < 0 {
			return ErrInvalidReference
		}
		s.removeEntryLocked(idx, now)

	case protocol.ActionReorder:
		if s.hostConnID != connID {
			return ErrPermissionDenied
		}
		idx := s.entryIndexLocked(msg.EntryID)
		if idx < 0 {
			return ErrInvalidReference
		}
		newIdx := *msg.NewIndex
		if newIdx < 0 || newIdx >= len(s.playlist) {
			return ErrInvalidReference
		}
		s.moveEntryLocked(idx, newIdx)
	}

	s.emit("", &protocol.PlaylistUpdate{
		Type:     protocol.TypePlaylistUpdate,
		Playlist: s.playlistCopyLocked(),
	})
	return nil
}

// PostChat appends a chat entry. Empty text is rejected; over-long text
// is truncated rather than failed. The log is bounded, oldest evicted.
func (s *Session) PostChat(connID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return ErrInvalidReference
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyChat
	}
	if runes := []rune(text); len(runes) > s.cfg.ChatMaxLength {
		text = string(runes[:s.cfg.ChatMaxLength])
	}

	entry := protocol.ChatEntry{
		Sender:    p.Name,
		Text:      text,
		Timestamp: s.now(),
		FromHost:  connID == s.hostConnID,
	}

	s.chat = append(s.chat, entry)
	if over := len(s.chat) - s.cfg.ChatHistoryLimit; over > 0 {
		s.chat = append([]protocol.ChatEntry(nil), s.chat[over:]...)
	}

	s.emit("", &protocol.ChatMessage{Type: protocol.TypeChatMessage, Entry: entry})
	return nil
}

// Snapshot returns the current full-state view for one connection.
func (s *Session) Snapshot(connID string) *protocol.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.advanceLocked(now)
	return s.snapshotLocked(connID, now)
}

// Resync answers an in-stream join message: a fresh snapshot is emitted
// targeted to the requesting connection through the sink, so it lands
// in commit order relative to the broadcasts around it.
func (s *Session) Resync(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.advanceLocked(now)
	s.emit(connID, s.snapshotLocked(connID, now))
}

// State returns a copy of the playback state after resolving any
// pending end-of-track transition.
func (s *Session) State() playback.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked(s.now())
	return s.state
}

// CheckAdvance is the periodic end-of-track scan hook. A transition up
// to one scan interval late is acceptable; clients extrapolating from
// the old anchor drift by less than that before the update lands.
func (s *Session) CheckAdvance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked(s.now())
}

// Empty reports whether the roster is empty, making the session
// reapable.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants) == 0
}

// advanceLocked resolves end-of-track transitions so position is never
// reported past the end of the current entry. Advancing past an entry
// removes it from the playlist; overshoot carries into the next track.
// Any transition it resolves is broadcast here, playlist and playback
// both, so whichever caller happens to consume it — the periodic scan
// or a join/snapshot racing ahead of it — the clients still hear about
// the new anchor. Returns true if the state changed. Must be called
// with lock held.
func (s *Session) advanceLocked(now time.Time) bool {
	changed := false
	for s.state.IsPlaying && s.state.HasTrack() {
		idx := s.state.TrackIndex
		if idx >= len(s.playlist) {
			// Track index points past a shrunken playlist; stop playback.
			s.state.TrackIndex = playback.NoTrack
			s.state = s.state.ReAnchor(0, false, now)
			changed = true
			break
		}
		duration := float64(s.playlist[idx].Duration)
		if duration <= 0 || s.state.Position(now) < duration {
			break
		}

		overshoot := s.state.Position(now) - duration
		s.playlist = append(s.playlist[:idx], s.playlist[idx+1:]...)

		if idx < len(s.playlist) {
			// The next entry shifted into the finished entry's slot.
			s.state.TrackIndex = idx
			s.state = s.state.ReAnchor(overshoot, true, now)
		} else if len(s.playlist) == 0 {
			s.state = playback.Empty(now)
		} else {
			// Queue exhausted but earlier entries remain; pause with no
			// current track until the host picks one.
			s.state.TrackIndex = playback.NoTrack
			s.state = s.state.ReAnchor(0, false, now)
		}
		changed = true

		s.emit("", &protocol.PlaylistUpdate{
			Type:     protocol.TypePlaylistUpdate,
			Playlist: s.playlistCopyLocked(),
		})
	}
	if changed {
		s.emitPlaybackLocked(now)
	}
	return changed
}

// removeEntryLocked removes the entry at idx, keeping the track index
// pointing at the same logical entry. Removing the playing entry
// triggers the same transition as end-of-track. Must be called with
// lock held.
func (s *Session) removeEntryLocked(idx int, now time.Time) {
	playing := s.state.TrackIndex == idx

	s.playlist = append(s.playlist[:idx], s.playlist[idx+1:]...)

	switch {
	case playing:
		if idx < len(s.playlist) {
			s.state.TrackIndex = idx
			s.state = s.state.ReAnchor(0, s.state.IsPlaying, now)
		} else if len(s.playlist) == 0 {
			s.state = playback.Empty(now)
		} else {
			s.state.TrackIndex = playback.NoTrack
			s.state = s.state.ReAnchor(0, false, now)
		}
		s.emitPlaybackLocked(now)

	case s.state.HasTrack() && idx < s.state.TrackIndex:
		s.state.TrackIndex--
	}
}

// moveEntryLocked moves the entry at from to position to. The track
// index follows the playing entry wherever it lands. Must be called
// with lock held.
func (s *Session) moveEntryLocked(from, to int) {
	if from == to {
		return
	}
	playingEntry := ""
	if s.state.HasTrack() && s.state.TrackIndex < len(s.playlist) {
		playingEntry = s.playlist[s.state.TrackIndex].EntryID
	}

	entry := s.playlist[from]
	rest := append(s.playlist[:from], s.playlist[from+1:]...)
	s.playlist = append(rest[:to], append([]protocol.PlaylistEntry{entry}, rest[to:]...)...)

	if playingEntry != "" {
		if idx := s.entryIndexLocked(playingEntry); idx >= 0 {
			s.state.TrackIndex = idx
		}
	}
}

// entryIndexLocked finds a playlist entry by ID. Must be called with
// lock held.
func (s *Session) entryIndexLocked(entryID string) int {
	for i := range s.playlist {
		if s.playlist[i].EntryID == entryID {
			return i
		}
	}
	return -1
}

// emitPlaybackLocked broadcasts the current anchor pair. Must be called
// with lock held.
func (s *Session) emitPlaybackLocked(now time.Time) {
	s.emit("", &protocol.PlaybackUpdate{
		Type:     protocol.TypePlaybackUpdate,
		Playback: s.state,
		Position: s.state.Position(now),
	})
}

// snapshotLocked builds the full-state view for connID. Must be called
// with lock held.
func (s *Session) snapshotLocked(connID string, now time.Time) *protocol.StateSnapshot {
	return &protocol.StateSnapshot{
		Type:       protocol.TypeStateSnapshot,
		Playback:   s.state,
		Position:   s.state.Position(now),
		Playlist:   s.playlistCopyLocked(),
		Chat:       append([]protocol.ChatEntry(nil), s.chat...),
		Roster:     s.rosterLocked(),
		HostConnID: s.hostConnID,
		YouAreHost: connID == s.hostConnID,
		CreatedAt:  s.CreatedAt,
	}
}

// playlistCopyLocked copies the playlist for handing outside the lock.
// Must be called with lock held.
func (s *Session) playlistCopyLocked() []protocol.PlaylistEntry {
	return append([]protocol.PlaylistEntry(nil), s.playlist...)
}

// rosterLocked copies the roster ordered by join time. Must be called
// with lock held.
func (s *Session) rosterLocked() []protocol.Participant {
	roster := make([]protocol.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		roster = append(roster, *p)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].ConnID < roster[j].ConnID
		}
		return roster[i].JoinedAt.Before(roster[j].JoinedAt)
	})
	return roster
}
