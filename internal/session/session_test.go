package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"jamsync/internal/config"
	"jamsync/internal/protocol"
	"jamsync/pkg/models"
)

// fakeCatalog serves a fixed set of songs.
type fakeCatalog struct {
	songs map[string]models.Song
}

func (c *fakeCatalog) Lookup(trackID string) (models.Song, error) {
	song, ok := c.songs[trackID]
	if !ok {
		return models.Song{}, errors.New("song not found")
	}
	return song, nil
}

// fakeClock lets tests move session time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testCatalog() *fakeCatalog {
	return &fakeCatalog{songs: map[string]models.Song{
		"t1": {ID: "t1", Title: "First", Artist: "A", Duration: 180},
		"t2": {ID: "t2", Title: "Second", Artist: "B", Duration: 240},
		"t3": {ID: "t3", Title: "Third", Artist: "C", Duration: 60},
	}}
}

func newTestSession(t *testing.T) (*Session, *fakeClock, *[]interface{}) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := New("abc12345", testCatalog(), config.DefaultConfig().Session)
	s.now = clock.now

	// Record broadcasts; targeted join snapshots have their own test.
	var events []interface{}
	s.SetEventSink(func(target string, evt interface{}) {
		if target == "" {
			events = append(events, evt)
		}
	})
	return s, clock, &events
}

func addTrack(t *testing.T, s *Session, connID, trackID string) {
	t.Helper()
	err := s.ApplyPlaylist(connID, &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionAdd, TrackID: trackID,
	})
	if err != nil {
		t.Fatalf("add %s: %v", trackID, err)
	}
}

func setTrack(t *testing.T, s *Session, connID string, idx int) {
	t.Helper()
	err := s.ApplyTransport(connID, &protocol.ClientMessage{
		Type: protocol.TypeTransport, Action: protocol.ActionSetTrack, TrackIndex: &idx,
	})
	if err != nil {
		t.Fatalf("set_track %d: %v", idx, err)
	}
}

func TestJoinAssignsRoles(t *testing.T) {
	s, _, _ := newTestSession(t)

	snap := s.Join("c1", "Alice")
	if !snap.YouAreHost {
		t.Error("first joiner should become host")
	}
	if snap.HostConnID != "c1" {
		t.Errorf("host id = %q, want c1", snap.HostConnID)
	}

	snap2 := s.Join("c2", "Bob")
	if snap2.YouAreHost {
		t.Error("second joiner should be a guest")
	}
	if len(snap2.Roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(snap2.Roster))
	}
	if snap2.Roster[0].Role != protocol.RoleHost || snap2.Roster[1].Role != protocol.RoleGuest {
		t.Errorf("roster roles = %s,%s, want host,guest", snap2.Roster[0].Role, snap2.Roster[1].Role)
	}
}

func TestJoinNameHandling(t *testing.T) {
	s, _, _ := newTestSession(t)

	snap := s.Join("c1", "   ")
	if snap.Roster[0].Name != "Guest" {
		t.Errorf("blank name = %q, want Guest fallback", snap.Roster[0].Name)
	}

	long := strings.Repeat("x", 100)
	snap2 := s.Join("c2", long)
	for _, p := range snap2.Roster {
		if p.ConnID == "c2" && len([]rune(p.Name)) != 20 {
			t.Errorf("long name kept %d runes, want 20", len([]rune(p.Name)))
		}
	}
}

func TestGuestTransportDenied(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")
	s.Join("guest", "G")
	addTrack(t, s, "host", "t1")
	setTrack(t, s, "host", 0)

	before := s.State()

	pos := 10.0
	idx := 0
	commands := []*protocol.ClientMessage{
		{Type: protocol.TypeTransport, Action: protocol.ActionPlay},
		{Type: protocol.TypeTransport, Action: protocol.ActionPause},
		{Type: protocol.TypeTransport, Action: protocol.ActionSeek, Position: &pos},
		{Type: protocol.TypeTransport, Action: protocol.ActionSetTrack, TrackIndex: &idx},
	}
	for _, cmd := range commands {
		if err := s.ApplyTransport("guest", cmd); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("guest %s: error = %v, want ErrPermissionDenied", cmd.Action, err)
		}
	}

	if after := s.State(); after != before {
		t.Errorf("state changed by denied commands: %+v -> %+v", before, after)
	}
	_ = clock
}

func TestTransportStateMachine(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")

	// Transport on an empty session references nothing playable.
	err := s.ApplyTransport("host", &protocol.ClientMessage{Type: protocol.TypeTransport, Action: protocol.ActionPlay})
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("play on empty session: error = %v, want ErrInvalidReference", err)
	}

	addTrack(t, s, "host", "t1")
	if s.State().HasTrack() {
		t.Fatal("adding a track must not start playback")
	}

	setTrack(t, s, "host", 0)
	st := s.State()
	if !st.IsPlaying || st.TrackIndex != 0 || st.PositionAnchor != 0 {
		t.Fatalf("after set_track: %+v, want playing track 0 at 0", st)
	}

	clock.advance(5 * time.Second)
	if err := s.ApplyTransport("host", &protocol.ClientMessage{Type: protocol.TypeTransport, Action: protocol.ActionPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	st = s.State()
	if st.IsPlaying || st.PositionAnchor < 4.99 || st.PositionAnchor > 5.01 {
		t.Fatalf("after pause at 5s: %+v", st)
	}

	clock.advance(time.Minute)
	if pos := s.State().Position(clock.now()); pos < 4.99 || pos > 5.01 {
		t.Errorf("paused position drifted to %v", pos)
	}

	if err := s.ApplyTransport("host", &protocol.ClientMessage{Type: protocol.TypeTransport, Action: protocol.ActionPlay}); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.advance(2 * time.Second)
	if pos := s.State().Position(clock.now()); pos < 6.99 || pos > 7.01 {
		t.Errorf("position after resume+2s = %v, want ~7", pos)
	}

	seek := 30.0
	if err := s.ApplyTransport("host", &protocol.ClientMessage{Type: protocol.TypeTransport, Action: protocol.ActionSeek, Position: &seek}); err != nil {
		t.Fatalf("seek: %v", err)
	}
	st = s.State()
	if st.PositionAnchor != 30 || !st.IsPlaying {
		t.Errorf("after seek: %+v, want anchor 30 still playing", st)
	}
}

func TestLateJoinerSnapshotPosition(t *testing.T) {
	// Host starts T1, guest joins 5 seconds later and must see ~5s.
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t1")
	setTrack(t, s, "host", 0)

	clock.advance(5 * time.Second)
	snap := s.Join("guest", "G")
	if snap.Position < 4.99 || snap.Position > 5.01 {
		t.Errorf("late join position = %v, want ~5", snap.Position)
	}
	if !snap.Playback.IsPlaying || snap.Playback.TrackIndex != 0 {
		t.Errorf("late join playback = %+v", snap.Playback)
	}
	if len(snap.Playlist) != 1 || snap.Playlist[0].TrackID != "t1" {
		t.Errorf("late join playlist = %+v", snap.Playlist)
	}
}

func TestHostPromotionOnLeave(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")
	clock.advance(time.Second)
	s.Join("g1", "Oldest Guest")
	clock.advance(time.Second)
	s.Join("g2", "Newer Guest")

	s.Leave("host")

	snap := s.Snapshot("g1")
	if snap.HostConnID != "g1" {
		t.Errorf("promoted host = %q, want longest-connected guest g1", snap.HostConnID)
	}

	hosts := 0
	for _, p := range snap.Roster {
		if p.Role == protocol.RoleHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Errorf("roster holds %d hosts, want exactly 1", hosts)
	}

	// Promoted guest now controls transport.
	addTrack(t, s, "g1", "t1")
	setTrack(t, s, "g1", 0)
	if err := s.ApplyTransport("g2", &protocol.ClientMessage{Type: protocol.TypeTransport, Action: protocol.ActionPause}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("unpromoted guest transport: error = %v, want ErrPermissionDenied", err)
	}
}

func TestHostLeaveWithNoGuests(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t1")
	setTrack(t, s, "host", 0)

	clock.advance(3 * time.Second)
	s.Leave("host")

	if !s.Empty() {
		t.Error("session with empty roster should be reapable")
	}

	// Playback freezes at its anchor; it does not pause.
	st := s.State()
	if !st.IsPlaying {
		t.Error("playback should not auto-pause on host departure")
	}

	// A rejoin inherits the timeline and the vacant host seat.
	snap := s.Join("back", "Returning")
	if !snap.YouAreHost {
		t.Error("joiner into host-vacant session should take the host seat")
	}
}

func TestPlaylistPermissions(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Join("host", "H")
	s.Join("guest", "G")

	// Any participant may add.
	addTrack(t, s, "guest", "t1")
	addTrack(t, s, "host", "t2")

	snap := s.Snapshot("host")
	if len(snap.Playlist) != 2 {
		t.Fatalf("playlist size = %d, want 2", len(snap.Playlist))
	}
	if snap.Playlist[0].AddedBy != "G" {
		t.Errorf("first entry added by %q, want G", snap.Playlist[0].AddedBy)
	}

	entryID := snap.Playlist[0].EntryID
	newIdx := 1

	// remove/reorder are host-only.
	err := s.ApplyPlaylist("guest", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionRemove, EntryID: entryID,
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("guest remove: error = %v, want ErrPermissionDenied", err)
	}
	err = s.ApplyPlaylist("guest", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionReorder, EntryID: entryID, NewIndex: &newIdx,
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("guest reorder: error = %v, want ErrPermissionDenied", err)
	}

	// Unknown track IDs are invalid references.
	err = s.ApplyPlaylist("host", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionAdd, TrackID: "nope",
	})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("add unknown track: error = %v, want ErrInvalidReference", err)
	}
}

func TestRemoveCurrentlyPlayingAdvances(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t1")
	addTrack(t, s, "host", "t2")
	setTrack(t, s, "host", 0)

	snap := s.Snapshot("host")
	err := s.ApplyPlaylist("host", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionRemove, EntryID: snap.Playlist[0].EntryID,
	})
	if err != nil {
		t.Fatalf("remove playing entry: %v", err)
	}

	snap = s.Snapshot("host")
	if len(snap.Playlist) != 1 || snap.Playlist[0].TrackID != "t2" {
		t.Fatalf("playlist after remove = %+v", snap.Playlist)
	}
	if snap.Playback.TrackIndex != 0 || !snap.Playback.IsPlaying {
		t.Errorf("playback after remove = %+v, want playing next entry at index 0", snap.Playback)
	}
	if snap.Position != 0 {
		t.Errorf("position after advance = %v, want 0", snap.Position)
	}

	// Removing the last entry empties the timeline.
	err = s.ApplyPlaylist("host", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionRemove, EntryID: snap.Playlist[0].EntryID,
	})
	if err != nil {
		t.Fatalf("remove last entry: %v", err)
	}
	st := s.State()
	if st.HasTrack() || st.IsPlaying {
		t.Errorf("state after emptying playlist = %+v, want empty", st)
	}
}

func TestRemoveEarlierEntryShiftsIndex(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t1")
	addTrack(t, s, "host", "t2")
	setTrack(t, s, "host", 1)

	snap := s.Snapshot("host")
	err := s.ApplyPlaylist("host", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionRemove, EntryID: snap.Playlist[0].EntryID,
	})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	snap = s.Snapshot("host")
	if snap.Playback.TrackIndex != 0 {
		t.Errorf("track index = %d, want 0 after earlier entry removed", snap.Playback.TrackIndex)
	}
	if snap.Playlist[snap.Playback.TrackIndex].TrackID != "t2" {
		t.Error("track index points at the wrong entry")
	}
}

func TestReorderFollowsPlayingEntry(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t1")
	addTrack(t, s, "host", "t2")
	addTrack(t, s, "host", "t3")
	setTrack(t, s, "host", 0)

	snap := s.Snapshot("host")
	last := 2
	err := s.ApplyPlaylist("host", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionReorder,
		EntryID: snap.Playlist[0].EntryID, NewIndex: &last,
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}

	snap = s.Snapshot("host")
	if snap.Playback.TrackIndex != 2 {
		t.Errorf("track index = %d, want 2 (follows the playing entry)", snap.Playback.TrackIndex)
	}
	if snap.Playlist[2].TrackID != "t1" {
		t.Errorf("moved entry = %s, want t1", snap.Playlist[2].TrackID)
	}
}

func TestAutoAdvanceOnTrackEnd(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t3") // 60s
	addTrack(t, s, "host", "t1") // 180s
	setTrack(t, s, "host", 0)

	// 70 seconds in: past the end of t3, 10 seconds into t1.
	clock.advance(70 * time.Second)
	s.CheckAdvance()

	snap := s.Snapshot("host")
	if len(snap.Playlist) != 1 || snap.Playlist[0].TrackID != "t1" {
		t.Fatalf("playlist after advance = %+v, want just t1", snap.Playlist)
	}
	if snap.Playback.TrackIndex != 0 || !snap.Playback.IsPlaying {
		t.Fatalf("playback after advance = %+v", snap.Playback)
	}
	if snap.Position < 9.99 || snap.Position > 10.01 {
		t.Errorf("overshoot carried = %v, want ~10", snap.Position)
	}
}

func TestAutoAdvancePastQueueEnd(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t3") // 60s
	setTrack(t, s, "host", 0)

	clock.advance(2 * time.Minute)
	st := s.State()
	if st.IsPlaying {
		t.Error("playback should pause when the last track ends")
	}
	if st.HasTrack() {
		t.Errorf("track index = %d, want none after the queue drains", st.TrackIndex)
	}
}

func TestAdvanceConsumedByJoinStillBroadcasts(t *testing.T) {
	s, clock, events := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t3") // 60s
	addTrack(t, s, "host", "t1")
	setTrack(t, s, "host", 0)

	// A guest joins after t3 has ended but before the periodic scan
	// fires, so the join resolves the transition. The broadcasts for it
	// must still go out; the scan afterwards finds nothing left to do.
	clock.advance(70 * time.Second)
	*events = (*events)[:0]
	s.Join("guest", "G")
	s.CheckAdvance()

	var playlists, playbacks int
	for _, evt := range *events {
		switch e := evt.(type) {
		case *protocol.PlaylistUpdate:
			playlists++
		case *protocol.PlaybackUpdate:
			playbacks++
			if e.Playback.TrackIndex != 0 || !e.Playback.IsPlaying {
				t.Errorf("advance broadcast = %+v, want playing track 0", e.Playback)
			}
			if e.Position < 9.99 || e.Position > 10.01 {
				t.Errorf("advance broadcast position = %v, want ~10", e.Position)
			}
		}
	}
	if playlists != 1 {
		t.Errorf("playlist updates = %d, want 1", playlists)
	}
	if playbacks != 1 {
		t.Errorf("playback updates = %d, want 1 for the new anchor", playbacks)
	}
}

func TestSnapshotNeverReportsPastEnd(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t3") // 60s
	addTrack(t, s, "host", "t1")
	setTrack(t, s, "host", 0)

	// Snapshot itself must resolve the transition even without a scan.
	clock.advance(61 * time.Second)
	snap := s.Snapshot("host")
	if snap.Playlist[snap.Playback.TrackIndex].Duration < int(snap.Position) {
		t.Errorf("position %v reported past track end", snap.Position)
	}
}

func TestChat(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Join("host", "H")
	s.Join("guest", "G")

	if err := s.PostChat("guest", "   "); !errors.Is(err, ErrEmptyChat) {
		t.Errorf("empty chat: error = %v, want ErrEmptyChat", err)
	}

	if err := s.PostChat("guest", "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	// Over-long text is truncated, not rejected.
	if err := s.PostChat("host", strings.Repeat("a", 2000)); err != nil {
		t.Fatalf("long chat: %v", err)
	}

	snap := s.Snapshot("host")
	if len(snap.Chat) != 2 {
		t.Fatalf("chat size = %d, want 2", len(snap.Chat))
	}
	if len([]rune(snap.Chat[1].Text)) != 500 {
		t.Errorf("truncated length = %d, want 500", len([]rune(snap.Chat[1].Text)))
	}
	if !snap.Chat[1].FromHost || snap.Chat[0].FromHost {
		t.Error("host attribution on chat entries is wrong")
	}
}

func TestChatEviction(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cfg := config.DefaultConfig().Session
	cfg.ChatHistoryLimit = 3
	s := New("abc12345", testCatalog(), cfg)
	s.now = clock.now
	s.Join("c1", "A")

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		if err := s.PostChat("c1", text); err != nil {
			t.Fatalf("chat %q: %v", text, err)
		}
	}

	snap := s.Snapshot("c1")
	if len(snap.Chat) != 3 {
		t.Fatalf("chat size = %d, want cap 3", len(snap.Chat))
	}
	if snap.Chat[0].Text != "three" || snap.Chat[2].Text != "five" {
		t.Errorf("eviction kept wrong entries: %+v", snap.Chat)
	}
}

func TestUnknownConnectionRejected(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Join("host", "H")

	if err := s.PostChat("stranger", "hi"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("stranger chat: error = %v, want ErrInvalidReference", err)
	}
	err := s.ApplyPlaylist("stranger", &protocol.ClientMessage{
		Type: protocol.TypePlaylist, Action: protocol.ActionAdd, TrackID: "t1",
	})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("stranger add: error = %v, want ErrInvalidReference", err)
	}
}

func TestJoinSnapshotDeliveredThroughSink(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := New("abc12345", testCatalog(), config.DefaultConfig().Session)
	s.now = clock.now

	type delivery struct {
		target string
		event  interface{}
	}
	var log []delivery
	s.SetEventSink(func(target string, evt interface{}) {
		log = append(log, delivery{target, evt})
	})

	s.Join("host", "H")
	s.Join("guest", "G")

	// Each join commits a broadcast roster update followed by the
	// joiner's targeted snapshot, in that order.
	if len(log) != 4 {
		t.Fatalf("deliveries = %d, want 4 (roster+snapshot per join)", len(log))
	}
	if log[2].target != "" {
		t.Errorf("roster update target = %q, want broadcast", log[2].target)
	}
	if log[3].target != "guest" {
		t.Fatalf("snapshot target = %q, want guest", log[3].target)
	}
	snap, ok := log[3].event.(*protocol.StateSnapshot)
	if !ok {
		t.Fatalf("last delivery = %T, want StateSnapshot", log[3].event)
	}
	if snap.YouAreHost || len(snap.Roster) != 2 {
		t.Errorf("guest snapshot: host=%v roster=%d, want guest view of 2", snap.YouAreHost, len(snap.Roster))
	}

	// A re-sync request answers through the same targeted path.
	log = log[:0]
	s.Resync("guest")
	if len(log) != 1 || log[0].target != "guest" {
		t.Fatalf("resync deliveries = %+v, want one targeted snapshot", log)
	}
	if _, ok := log[0].event.(*protocol.StateSnapshot); !ok {
		t.Fatalf("resync delivery = %T, want StateSnapshot", log[0].event)
	}
}

func TestEventEmissionOrder(t *testing.T) {
	s, clock, events := newTestSession(t)
	s.Join("host", "H")
	addTrack(t, s, "host", "t1")
	setTrack(t, s, "host", 0)
	clock.advance(time.Second)
	if err := s.PostChat("host", "hi"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	var types []string
	for _, evt := range *events {
		switch evt.(type) {
		case *protocol.RosterUpdate:
			types = append(types, protocol.TypeRosterUpdate)
		case *protocol.PlaylistUpdate:
			types = append(types, protocol.TypePlaylistUpdate)
		case *protocol.PlaybackUpdate:
			types = append(types, protocol.TypePlaybackUpdate)
		case *protocol.ChatMessage:
			types = append(types, protocol.TypeChatMessage)
		}
	}

	want := []string{
		protocol.TypeRosterUpdate,
		protocol.TypePlaylistUpdate,
		protocol.TypePlaybackUpdate,
		protocol.TypeChatMessage,
	}
	if len(types) != len(want) {
		t.Fatalf("emitted %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("emitted %v, want %v", types, want)
		}
	}

	// The pause scenario: all participants receive the anchored position.
	clock.advance(4 * time.Second)
	if err := s.ApplyTransport("host", &protocol.ClientMessage{Type: protocol.TypeTransport, Action: protocol.ActionPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	last := (*events)[len(*events)-1]
	update, ok := last.(*protocol.PlaybackUpdate)
	if !ok {
		t.Fatalf("last event = %T, want PlaybackUpdate", last)
	}
	if update.Playback.IsPlaying || update.Position < 4.99 || update.Position > 5.01 {
		t.Errorf("pause update = playing=%v pos=%v, want paused at ~5", update.Playback.IsPlaying, update.Position)
	}
}
