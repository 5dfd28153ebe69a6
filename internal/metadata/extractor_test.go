package metadata

import "testing"

func TestIsAudioFile(t *testing.T) {
	e := NewExtractor([]string{".mp3", ".flac", ".wav", ".m4a"}, nil)

	tests := []struct {
		path string
		want bool
	}{
		{"/music/song.mp3", true},
		{"/music/SONG.MP3", true},
		{"/music/track.flac", true},
		{"/music/sound.wav", true},
		{"/music/clip.m4a", true},
		{"/music/video.mp4", false},
		{"/music/cover.jpg", false},
		{"/music/noext", false},
	}

	for _, tt := range tests {
		if got := e.IsAudioFile(tt.path); got != tt.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestGetContentType(t *testing.T) {
	e := NewExtractor(nil, nil)

	tests := []struct {
		path string
		want string
	}{
		{"a.mp3", "audio/mpeg"},
		{"a.flac", "audio/flac"},
		{"a.wav", "audio/wav"},
		{"a.m4a", "audio/mp4"},
		{"a.ogg", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := e.GetContentType(tt.path); got != tt.want {
			t.Errorf("GetContentType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSongIDStable(t *testing.T) {
	a := SongID("/music/one.mp3")
	b := SongID("/music/one.mp3")
	c := SongID("/music/two.mp3")

	if a != b {
		t.Errorf("SongID not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("SongID collision for distinct paths: %q", a)
	}
}
