package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is the archival record handed to the history collaborator
// once per completed download. JobID is the idempotency key.
type HistoryEntry struct {
	JobID        uuid.UUID `json:"job_id" db:"job_id"`
	Owner        string    `json:"owner" db:"owner"`
	SourceURL    string    `json:"source_url" db:"source_url"`
	Title        string    `json:"title" db:"title"`
	Thumbnail    string    `json:"thumbnail" db:"thumbnail"`
	Format       Format    `json:"format" db:"format"`
	Quality      string    `json:"quality" db:"quality"`
	FileSize     int64     `json:"file_size" db:"file_size"`
	Duration     float64   `json:"duration" db:"duration"`
	DownloadedAt time.Time `json:"downloaded_at" db:"downloaded_at"`
}

func NewHistoryEntry(d *Download) *HistoryEntry {
	e := &HistoryEntry{
		JobID:     d.ID,
		Owner:     d.Owner,
		SourceURL: d.SourceURL,
		Title:     d.Title,
		Thumbnail: d.Thumbnail,
		Format:    d.Format,
		Quality:   d.Quality,
	}
	if d.FileSize != nil {
		e.FileSize = *d.FileSize
	}
	if d.Duration != nil {
		e.Duration = *d.Duration
	}
	if d.CompletedAt != nil {
		e.DownloadedAt = *d.CompletedAt
	} else {
		e.DownloadedAt = d.UpdatedAt
	}
	return e
}
