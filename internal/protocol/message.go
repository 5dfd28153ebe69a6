package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jamsync/internal/playback"
)

// Message types exchanged between a session and its participants.
const (
	// client -> server
	TypeJoin      = "join"
	TypeTransport = "transport"
	TypePlaylist  = "playlist"
	TypeChat      = "chat"

	// server -> client
	TypeStateSnapshot  = "state_snapshot"
	TypePlaybackUpdate = "playback_update"
	TypePlaylistUpdate = "playlist_update"
	TypeChatMessage    = "chat_message"
	TypeRosterUpdate   = "roster_update"
	TypeError          = "error"
)

// Transport actions a host may issue.
const (
	ActionPlay     = "play"
	ActionPause    = "pause"
	ActionSeek     = "seek"
	ActionSetTrack = "set_track"
)

// Playlist actions.
const (
	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionReorder = "reorder"
)

// Error reason codes reported to the offending connection.
const (
	ReasonPermissionDenied = "permission_denied"
	ReasonInvalidReference = "invalid_reference"
	ReasonMalformed        = "malformed_message"
)

// ErrMalformed indicates a client message that does not fit the schema.
// The connection is not dropped for it; the sender gets an error event.
var ErrMalformed = errors.New("malformed message")

// ClientMessage is the flat inbound envelope. Fields beyond Type are
// populated depending on the message type; pointer fields distinguish
// "absent" from zero values.
type ClientMessage struct {
	Type string `json:"type"`

	// join
	DisplayName string `json:"displayName,omitempty"`

	// transport / playlist
	Action     string   `json:"action,omitempty"`
	Position   *float64 `json:"position,omitempty"`
	TrackIndex *int     `json:"trackIndex,omitempty"`
	TrackID    string   `json:"trackId,omitempty"`
	EntryID    string   `json:"entryId,omitempty"`
	NewIndex   *int     `json:"newIndex,omitempty"`

	// chat
	Text string `json:"text,omitempty"`
}

// ParseClientMessage decodes and schema-checks one inbound frame.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeJoin:
		// display name may be empty; the session substitutes a default
	case TypeTransport:
		switch msg.Action {
		case ActionPlay, ActionPause:
		case ActionSeek:
			if msg.Position == nil {
				return nil, fmt.Errorf("%w: seek requires position", ErrMalformed)
			}
		case ActionSetTrack:
			if msg.TrackIndex == nil {
				return nil, fmt.Errorf("%w: set_track requires trackIndex", ErrMalformed)
			}
		default:
			return nil, fmt.Errorf("%w: unknown transport action %q", ErrMalformed, msg.Action)
		}
	case TypePlaylist:
		switch msg.Action {
		case ActionAdd:
			if msg.TrackID == "" {
				return nil, fmt.Errorf("%w: add requires trackId", ErrMalformed)
			}
		case ActionRemove:
			if msg.EntryID == "" {
				return nil, fmt.Errorf("%w: remove requires entryId", ErrMalformed)
			}
		case ActionReorder:
			if msg.EntryID == "" || msg.NewIndex == nil {
				return nil, fmt.Errorf("%w: reorder requires entryId and newIndex", ErrMalformed)
			}
		default:
			return nil, fmt.Errorf("%w: unknown playlist action %q", ErrMalformed, msg.Action)
		}
	case TypeChat:
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformed, msg.Type)
	}

	return &msg, nil
}

// PlaylistEntry is one queued track. EntryID identifies the queue slot
// (a track may be queued twice); TrackID references the catalog.
type PlaylistEntry struct {
	EntryID  string    `json:"entryId"`
	TrackID  string    `json:"trackId"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist,omitempty"`
	Duration int       `json:"duration"`
	AddedBy  string    `json:"addedBy"`
	AddedAt  time.Time `json:"addedAt"`
}

// ChatEntry is one chat log line.
type ChatEntry struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	FromHost  bool      `json:"isHost,omitempty"`
}

// Participant is a roster entry as seen by clients.
type Participant struct {
	ConnID   string    `json:"connId"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Roles a participant can hold. Exactly one behavioral difference
// (transport and playlist remove/reorder permission), so this stays a
// tag on the roster entry rather than separate types.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// StateSnapshot is the full session view sent once on join/reconnect.
// It is the only catch-up mechanism; there is no incremental replay.
type StateSnapshot struct {
	Type       string          `json:"type"`
	Playback   playback.State  `json:"playback"`
	Position   float64         `json:"position"`
	Playlist   []PlaylistEntry `json:"playlist"`
	Chat       []ChatEntry     `json:"chat"`
	Roster     []Participant   `json:"participants"`
	HostConnID string          `json:"hostId,omitempty"`
	YouAreHost bool            `json:"youAreHost"`
	CreatedAt  time.Time       `json:"sessionCreated"`
}

// PlaybackUpdate is broadcast on every transport command and
// auto-advance. Position carries the anchor position for clients that
// do not extrapolate.
type PlaybackUpdate struct {
	Type     string         `json:"type"`
	Playback playback.State `json:"playback"`
	Position float64        `json:"position"`
}

// PlaylistUpdate is broadcast on every playlist mutation and carries
// the whole playlist, keeping guests order-consistent without diffs.
type PlaylistUpdate struct {
	Type     string          `json:"type"`
	Playlist []PlaylistEntry `json:"playlist"`
}

// ChatMessage is broadcast on every accepted chat post.
type ChatMessage struct {
	Type  string    `json:"type"`
	Entry ChatEntry `json:"entry"`
}

// RosterUpdate is broadcast on join/leave/promotion.
type RosterUpdate struct {
	Type       string        `json:"type"`
	Roster     []Participant `json:"participants"`
	HostConnID string        `json:"hostId,omitempty"`
}

// ErrorEvent is sent to the single offending connection only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// NewErrorEvent builds a targeted error response for a rejected command.
func NewErrorEvent(reason, message string) *ErrorEvent {
	return &ErrorEvent{Type: TypeError, Reason: reason, Message: message}
}
