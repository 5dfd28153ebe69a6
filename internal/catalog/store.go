package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jamsync/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a song ID does not exist in the catalog.
var ErrNotFound = errors.New("song not found")

// Store wraps a *sql.DB providing higher-level helper methods for the
// song catalog. It is safe for concurrent use because the underlying
// *sql.DB is concurrency-safe.
type Store struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for better performance
	upsertSongStmt  *sql.Stmt
	getSongByIDStmt *sql.Stmt
	songExistsStmt  *sql.Stmt
	removeSongStmt  *sql.Stmt
}

// NewStore opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. It also applies lightweight
// performance-oriented pragmas (WAL, cache sizing). Caller should Close() it
// when finished.
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5) // SQLite works better with fewer connections
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	// Enable WAL mode for better concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA auto_vacuum=INCREMENTAL;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	s := &Store{
		conn:   conn,
		logger: logger,
	}

	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Catalog store initialized")
	return s, nil
}

// createTables creates tables and indices if they do not already exist.
// This is idempotent and safe to call multiple times.
func (s *Store) createTables() error {
	songsTable := `
	CREATE TABLE IF NOT EXISTS songs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		duration INTEGER DEFAULT 0,
		stream_url TEXT NOT NULL,
		thumbnail TEXT,
		file_path TEXT,
		file_size INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_songs_artist ON songs(artist);",
		"CREATE INDEX IF NOT EXISTS idx_songs_title ON songs(title, artist);",
		"CREATE INDEX IF NOT EXISTS idx_songs_file_path ON songs(file_path);",
	}

	if _, err := s.conn.Exec(songsTable); err != nil {
		return err
	}
	for _, index := range indices {
		if _, err := s.conn.Exec(index); err != nil {
			return err
		}
	}
	return nil
}

// prepareStatements prepares commonly used SQL statements for better performance
func (s *Store) prepareStatements() error {
	var err error

	s.upsertSongStmt, err = s.conn.Prepare(`
		INSERT INTO songs (id, title, artist, duration, stream_url, thumbnail, file_path, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			artist=excluded.artist,
			duration=excluded.duration,
			stream_url=excluded.stream_url,
			thumbnail=excluded.thumbnail,
			file_path=excluded.file_path,
			file_size=excluded.file_size`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert song statement: %w", err)
	}

	s.getSongByIDStmt, err = s.conn.Prepare(`
		SELECT id, title, artist, duration, stream_url, thumbnail, COALESCE(file_path, ''), file_size
		FROM songs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get song by ID statement: %w", err)
	}

	s.songExistsStmt, err = s.conn.Prepare(`
		SELECT COUNT(*) FROM songs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare song exists statement: %w", err)
	}

	s.removeSongStmt, err = s.conn.Prepare(`
		DELETE FROM songs WHERE file_path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare remove song statement: %w", err)
	}

	return nil
}

// UpsertSong inserts a new song or updates an existing one matched by ID.
func (s *Store) UpsertSong(song models.Song) error {
	_, err := s.upsertSongStmt.Exec(
		song.ID, song.Title, song.Artist, song.Duration,
		song.StreamURL, song.Thumbnail, song.FilePath, song.FileSize)
	if err != nil {
		s.logger.WithError(err).WithField("song_id", song.ID).Error("Failed to upsert song")
	}
	return err
}

// Lookup returns the song with the given ID, or ErrNotFound.
func (s *Store) Lookup(trackID string) (models.Song, error) {
	var song models.Song
	var thumbnail sql.NullString

	err := s.getSongByIDStmt.QueryRow(trackID).Scan(
		&song.ID, &song.Title, &song.Artist, &song.Duration,
		&song.StreamURL, &thumbnail, &song.FilePath, &song.FileSize)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Song{}, ErrNotFound
		}
		s.logger.WithError(err).WithField("song_id", trackID).Error("Failed to look up song")
		return models.Song{}, err
	}

	if thumbnail.Valid {
		song.Thumbnail = thumbnail.String
	}
	return song, nil
}

// GetAllSongs returns all songs ordered by artist/title.
func (s *Store) GetAllSongs() ([]models.Song, error) {
	rows, err := s.conn.Query(`
		SELECT id, title, artist, duration, stream_url, thumbnail, COALESCE(file_path, ''), file_size
		FROM songs
		ORDER BY artist, title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSongRows(rows)
}

// SongExists returns true if a song exists with the given ID.
func (s *Store) SongExists(id string) (bool, error) {
	var count int
	err := s.songExistsStmt.QueryRow(id).Scan(&count)
	if err != nil {
		s.logger.WithError(err).WithField("song_id", id).Error("Failed to check if song exists")
		return false, err
	}
	return count > 0, nil
}

// RemoveSongByPath deletes a song row identified by its file path.
func (s *Store) RemoveSongByPath(filePath string) error {
	_, err := s.removeSongStmt.Exec(filePath)
	if err != nil {
		s.logger.WithError(err).WithField("file_path", filePath).Error("Failed to remove song by path")
	}
	return err
}

// Count returns the number of songs in the catalog.
func (s *Store) Count() (int, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM songs").Scan(&count)
	return count, err
}

// Close closes the underlying database connection and prepared statements.
func (s *Store) Close() error {
	statements := []*sql.Stmt{
		s.upsertSongStmt,
		s.getSongByIDStmt,
		s.songExistsStmt,
		s.removeSongStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// scanSongRows scans standard song result sets into a slice of models.Song.
func scanSongRows(rows *sql.Rows) ([]models.Song, error) {
	var songs []models.Song
	for rows.Next() {
		var song models.Song
		var thumbnail sql.NullString

		if err := rows.Scan(&song.ID, &song.Title, &song.Artist, &song.Duration,
			&song.StreamURL, &thumbnail, &song.FilePath, &song.FileSize); err != nil {
			return nil, err
		}
		if thumbnail.Valid {
			song.Thumbnail = thumbnail.String
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}
