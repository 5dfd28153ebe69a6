package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:  "valid join",
			input: `{"type":"join","displayName":"Alice"}`,
		},
		{
			name:  "join without name",
			input: `{"type":"join"}`,
		},
		{
			name:  "valid play",
			input: `{"type":"transport","action":"play"}`,
		},
		{
			name:  "valid seek",
			input: `{"type":"transport","action":"seek","position":12.5}`,
		},
		{
			name:      "seek without position",
			input:     `{"type":"transport","action":"seek"}`,
			wantError: true,
		},
		{
			name:  "valid set_track",
			input: `{"type":"transport","action":"set_track","trackIndex":0}`,
		},
		{
			name:      "set_track without index",
			input:     `{"type":"transport","action":"set_track"}`,
			wantError: true,
		},
		{
			name:      "unknown transport action",
			input:     `{"type":"transport","action":"rewind"}`,
			wantError: true,
		},
		{
			name:  "valid playlist add",
			input: `{"type":"playlist","action":"add","trackId":"song-1"}`,
		},
		{
			name:      "playlist add without track",
			input:     `{"type":"playlist","action":"add"}`,
			wantError: true,
		},
		{
			name:  "valid reorder",
			input: `{"type":"playlist","action":"reorder","entryId":"e1","newIndex":2}`,
		},
		{
			name:      "reorder without newIndex",
			input:     `{"type":"playlist","action":"reorder","entryId":"e1"}`,
			wantError: true,
		},
		{
			name:  "valid chat",
			input: `{"type":"chat","text":"hello"}`,
		},
		{
			name:      "unknown type",
			input:     `{"type":"teleport"}`,
			wantError: true,
		},
		{
			name:      "not json",
			input:     `{{{`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tt.input))
			if tt.wantError {
				if err == nil {
					t.Fatal("ParseClientMessage() expected error but got none")
				}
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("ParseClientMessage() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClientMessage() unexpected error: %v", err)
			}
			if msg == nil {
				t.Fatal("ParseClientMessage() returned nil message")
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	event := NewErrorEvent(ReasonPermissionDenied, "only the host controls playback")

	frame, err := EncodeFrame(event)
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}
	if !looksDeflated(frame) {
		t.Fatal("EncodeFrame() output is not a zlib stream")
	}

	raw, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}

	var decoded ErrorEvent
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal decoded frame: %v", err)
	}
	if decoded.Type != TypeError || decoded.Reason != ReasonPermissionDenied {
		t.Errorf("round trip = %+v, want original error event", decoded)
	}
}

func TestDecodeFramePlainJSON(t *testing.T) {
	input := []byte(`{"type":"chat","text":"hi"}`)
	out, err := DecodeFrame(input)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if string(out) != string(input) {
		t.Errorf("DecodeFrame() altered plain JSON: %s", out)
	}
}

func TestDecodeFrameBadZlib(t *testing.T) {
	// Valid zlib header check value but garbage stream.
	input := []byte{0x78, 0x9c, 0xff, 0xff, 0xff}
	if _, err := DecodeFrame(input); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeFrame(garbage) error = %v, want ErrMalformed", err)
	}
}
