package playback

import "time"

// NoTrack is the TrackIndex value of a session whose playlist holds
// nothing playable.
const NoTrack = -1

// State is the authoritative playback state of one session. Position is
// never stored directly; it is extrapolated from the anchor pair, so a
// single snapshot is enough for any client to reconstruct the timeline.
type State struct {
	TrackIndex     int       `json:"trackIndex"`
	IsPlaying      bool      `json:"isPlaying"`
	PositionAnchor float64   `json:"position"` // seconds at AnchorTime
	AnchorTime     time.Time `json:"anchorTime"`
}

// Empty returns the state of a session with no playable track.
func Empty(now time.Time) State {
	return State{
		TrackIndex: NoTrack,
		AnchorTime: now,
	}
}

// Position computes the playback position in seconds at the given
// instant. Pure function of the snapshot; callers on both sides of the
// wire use it identically to extrapolate between updates.
func (s State) Position(now time.Time) float64 {
	if !s.IsPlaying {
		return s.PositionAnchor
	}
	elapsed := now.Sub(s.AnchorTime).Seconds()
	if elapsed < 0 {
		// Clock went backwards relative to the anchor; report the anchor
		// rather than a position before it.
		elapsed = 0
	}
	return s.PositionAnchor + elapsed
}

// HasTrack reports whether the state references a playlist entry.
func (s State) HasTrack() bool {
	return s.TrackIndex != NoTrack
}

// ReAnchor returns a copy of the state with the anchor pair replaced
// atomically. Transport commands always go through here; position is
// never adjusted incrementally.
func (s State) ReAnchor(position float64, playing bool, now time.Time) State {
	if position < 0 {
		position = 0
	}
	s.PositionAnchor = position
	s.IsPlaying = playing
	s.AnchorTime = now
	return s
}
