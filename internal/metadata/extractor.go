package metadata

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jamsync/pkg/models"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// Extractor builds catalog songs from local audio files.
type Extractor struct {
	supportedFormats []string
	logger           *logrus.Logger
}

// NewExtractor creates a new metadata extractor
func NewExtractor(supportedFormats []string, logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Extractor{
		supportedFormats: supportedFormats,
		logger:           logger,
	}
}

// ExtractFromFile reads tags and duration from an audio file and
// returns it as a catalog song. The song ID is derived from the file
// path so rescans produce the same ID for the same file.
func (e *Extractor) ExtractFromFile(filePath string) (models.Song, error) {
	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open audio file")
		return models.Song{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Error("Failed to get file stats")
		return models.Song{}, err
	}

	duration, err := e.calculateDuration(filePath)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Warn("Failed to calculate duration, setting to 0")
		duration = 0
	}

	song := models.Song{
		ID:       SongID(filePath),
		Duration: duration,
		FilePath: filePath,
		FileSize: stat.Size(),
	}

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		// Fall back to the filename when the file carries no usable tags.
		e.logger.WithError(err).WithField("file_path", filePath).Warn("Failed to extract metadata, using filename")
		song.Title = baseName(filePath)
		song.Artist = "Unknown Artist"
		return song, nil
	}

	song.Title = metadata.Title()
	if song.Title == "" {
		song.Title = baseName(filePath)
	}
	song.Artist = metadata.Artist()
	if song.Artist == "" {
		song.Artist = "Unknown Artist"
	}

	e.logger.WithFields(logrus.Fields{
		"file_path":       filePath,
		"title":           song.Title,
		"artist":          song.Artist,
		"duration":        duration,
		"processing_time": time.Since(startTime),
	}).Debug("Extracted metadata")

	return song, nil
}

// SongID derives a stable catalog ID from a file path.
func SongID(filePath string) string {
	hash := md5.Sum([]byte(filePath))
	return fmt.Sprintf("local-%x", hash[:6])
}

func baseName(filePath string) string {
	name := filepath.Base(filePath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// calculateDuration calculates the duration of an audio file in seconds
func (e *Extractor) calculateDuration(filePath string) (int, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return e.durationMP3(filePath)
	case ".flac":
		return e.durationFLAC(filePath)
	case ".wav":
		return e.durationWAV(filePath)
	case ".m4a":
		return e.durationM4A(filePath)
	default:
		return 0, fmt.Errorf("unsupported format: %s", filepath.Ext(filePath))
	}
}

// MP3 duration using frame decoding; fallback to average bitrate estimation only if frames fail entirely.
func (e *Extractor) durationMP3(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 { // could not decode any frame
				return e.estimateFromFileSize(path, 192000) // assume 192 kbps
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	return int(total.Seconds()), nil
}

// FLAC duration via STREAMINFO metadata block
func (e *Extractor) durationFLAC(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		secs := float64(si.NSamples) / float64(si.SampleRate)
		return int(secs + 0.5), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration using go-audio/wav to read header
func (e *Extractor) durationWAV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}
	// Approximate using file size; an exact sample count would require
	// decoding the whole stream.
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pcmBytes := st.Size() - 44
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	bytesPerFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	secs := float64(pcmBytes/bytesPerFrame) / float64(dec.SampleRate)
	return int(secs + 0.5), nil
}

// M4A (AAC in MP4) minimal duration parsing: read 'mvhd' timescale &
// duration via a manual atom scan. Best-effort.
func (e *Extractor) durationM4A(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for {
		head := make([]byte, 8)
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(head[0:4])
		atom := string(head[4:8])
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if atom != "moov" {
			if _, err := f.Seek(int64(size)-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		limit := int64(size) - 8
		for read := int64(0); read < limit; {
			subHead := make([]byte, 8)
			if _, err := io.ReadFull(f, subHead); err != nil {
				return 0, err
			}
			subSize := binary.BigEndian.Uint32(subHead[0:4])
			if subSize < 8 {
				return 0, fmt.Errorf("invalid sub-atom size")
			}
			if string(subHead[4:8]) != "mvhd" {
				if _, err := f.Seek(int64(subSize)-8, io.SeekCurrent); err != nil {
					return 0, err
				}
				read += int64(subSize)
				continue
			}

			version := make([]byte, 1)
			if _, err := io.ReadFull(f, version); err != nil {
				return 0, err
			}
			var skip int64
			if version[0] == 1 { // 64-bit creation/modification times
				skip = 3 + 8 + 8
			} else {
				skip = 3 + 4 + 4
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return 0, err
			}
			buf := make([]byte, 8)
			if _, err := io.ReadFull(f, buf); err != nil {
				return 0, err
			}
			timescale := binary.BigEndian.Uint32(buf[0:4])
			durUnits := binary.BigEndian.Uint32(buf[4:8])
			if timescale == 0 {
				return 0, fmt.Errorf("invalid timescale")
			}
			return int(float64(durUnits)/float64(timescale) + 0.5), nil
		}
		break
	}
	return 0, fmt.Errorf("mvhd atom not found")
}

// estimateFromFileSize provides last-resort estimation if parsing fails.
func (e *Extractor) estimateFromFileSize(path string, bitrate int) (int, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	return int((st.Size() * 8) / int64(bitrate)), nil
}

// IsAudioFile checks if a file is a supported audio format
func (e *Extractor) IsAudioFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range e.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// GetContentType returns the MIME type for an audio file
func (e *Extractor) GetContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
