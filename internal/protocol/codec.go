package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
)

// Outbound frames are zlib-deflated JSON; browser clients inflate them
// with pako. Inbound frames arrive as plain JSON text but Decode also
// accepts deflated payloads so native clients can symmetrically
// compress.

// EncodeFrame marshals an event and deflates it into a wire frame.
func EncodeFrame(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to compress event: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress event: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame inflates a frame if needed and returns the JSON payload.
func DecodeFrame(data []byte) ([]byte, error) {
	if !looksDeflated(data) {
		return data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: bad zlib header", ErrMalformed)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxFrameBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: truncated zlib stream", ErrMalformed)
	}
	if len(raw) > maxFrameBytes {
		return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformed, maxFrameBytes)
	}
	return raw, nil
}

// maxFrameBytes bounds decompressed inbound frames so a malicious
// client cannot zlib-bomb the session.
const maxFrameBytes = 1 << 20

// looksDeflated checks for a zlib stream header (RFC 1950: CMF 0x78
// with a valid FCHECK). JSON text never starts with 0x78.
func looksDeflated(data []byte) bool {
	if len(data) < 2 || data[0] != 0x78 {
		return false
	}
	return (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}
