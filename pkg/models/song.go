package models

// Song represents an entry in the hosted song catalog
type Song struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Duration  int    `json:"duration"` // in seconds
	StreamURL string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
	FilePath  string `json:"-"` // don't expose file path to client
	FileSize  int64  `json:"fileSize,omitempty"`
}
