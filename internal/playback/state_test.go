package playback

import (
	"testing"
	"time"
)

func TestPositionWhilePaused(t *testing.T) {
	now := time.Now()
	s := State{
		TrackIndex:     0,
		IsPlaying:      false,
		PositionAnchor: 42.5,
		AnchorTime:     now,
	}

	// Paused position is exactly the anchor regardless of elapsed time.
	for _, offset := range []time.Duration{0, time.Second, time.Hour} {
		if got := s.Position(now.Add(offset)); got != 42.5 {
			t.Errorf("Position(+%v) = %v, want 42.5", offset, got)
		}
	}
}

func TestPositionWhilePlaying(t *testing.T) {
	now := time.Now()
	s := State{
		TrackIndex:     0,
		IsPlaying:      true,
		PositionAnchor: 10,
		AnchorTime:     now,
	}

	tests := []struct {
		name   string
		offset time.Duration
		want   float64
	}{
		{"at anchor", 0, 10},
		{"five seconds later", 5 * time.Second, 15},
		{"subsecond precision", 1500 * time.Millisecond, 11.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Position(now.Add(tt.offset))
			if diff := got - tt.want; diff > 0.001 || diff < -0.001 {
				t.Errorf("Position() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPositionMonotonic(t *testing.T) {
	now := time.Now()
	s := State{TrackIndex: 0, IsPlaying: true, PositionAnchor: 3, AnchorTime: now}

	prev := s.Position(now)
	for i := 1; i <= 100; i++ {
		cur := s.Position(now.Add(time.Duration(i) * 137 * time.Millisecond))
		if cur < prev {
			t.Fatalf("position went backwards: %v < %v at step %d", cur, prev, i)
		}
		prev = cur
	}
}

func TestPositionClockBeforeAnchor(t *testing.T) {
	now := time.Now()
	s := State{TrackIndex: 0, IsPlaying: true, PositionAnchor: 20, AnchorTime: now}

	if got := s.Position(now.Add(-time.Minute)); got != 20 {
		t.Errorf("Position(before anchor) = %v, want anchor position 20", got)
	}
}

func TestReAnchor(t *testing.T) {
	now := time.Now()
	s := Empty(now)
	s.TrackIndex = 2

	later := now.Add(time.Minute)
	s2 := s.ReAnchor(30, true, later)

	if s2.PositionAnchor != 30 || !s2.IsPlaying || !s2.AnchorTime.Equal(later) {
		t.Errorf("ReAnchor() = %+v, want position=30 playing anchored at %v", s2, later)
	}
	if s2.TrackIndex != 2 {
		t.Errorf("ReAnchor() changed track index to %d", s2.TrackIndex)
	}

	// Negative seek clamps to the start of the track.
	s3 := s.ReAnchor(-5, false, later)
	if s3.PositionAnchor != 0 {
		t.Errorf("ReAnchor(-5) anchor = %v, want 0", s3.PositionAnchor)
	}
}

func TestEmptyState(t *testing.T) {
	s := Empty(time.Now())
	if s.HasTrack() {
		t.Error("Empty() should not reference a track")
	}
	if s.IsPlaying {
		t.Error("Empty() should not be playing")
	}
}
