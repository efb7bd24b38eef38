package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
)

func (f Format) IsValid() bool {
	return f == FormatVideo || f == FormatAudio
}

const QualityBest = "best"

// Download is one user requested download task and its tracked lifecycle state.
type Download struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Owner         string     `json:"owner" db:"owner"`
	SourceURL     string     `json:"source_url" db:"source_url"`
	Format        Format     `json:"format" db:"format"`
	Quality       string     `json:"quality" db:"quality"`
	Status        JobStatus  `json:"status" db:"status"`
	Progress      int        `json:"progress" db:"progress"`
	Title         string     `json:"title,omitempty" db:"title"`
	Thumbnail     string     `json:"thumbnail,omitempty" db:"thumbnail"`
	FileSize      *int64     `json:"file_size,omitempty" db:"file_size"`
	DownloadSpeed string     `json:"download_speed,omitempty" db:"download_speed"`
	ETA           string     `json:"eta,omitempty" db:"eta"`
	Duration      *float64   `json:"duration,omitempty" db:"duration"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
	Attempt       int        `json:"attempt" db:"attempt"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	WorkerID       string     `json:"-" db:"worker_id"`
	ClaimedAt      *time.Time `json:"-" db:"claimed_at"`
	LeaseExpiresAt *time.Time `json:"-" db:"lease_expires_at"`
	Archived       bool       `json:"-" db:"archived"`
}

// DownloadInput is the submit payload.
type DownloadInput struct {
	URL     string `json:"url" validate:"required,lte=2048"`
	Format  Format `json:"format" validate:"required,oneof=video audio"`
	Quality string `json:"quality" validate:"omitempty,lte=32"`
}

// Normalize trims the input and fills the default quality.
func (in *DownloadInput) Normalize() {
	in.URL = strings.TrimSpace(in.URL)
	in.Quality = strings.TrimSpace(in.Quality)
	if in.Quality == "" {
		in.Quality = QualityBest
	}
}

// NewDownload builds a pending download owned by owner.
func NewDownload(owner string, in *DownloadInput, now time.Time) *Download {
	return &Download{
		ID:        uuid.New(),
		Owner:     owner,
		SourceURL: in.URL,
		Format:    in.Format,
		Quality:   in.Quality,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy, so snapshots never alias store state.
func (d *Download) Clone() *Download {
	if d == nil {
		return nil
	}
	c := *d
	if d.FileSize != nil {
		v := *d.FileSize
		c.FileSize = &v
	}
	if d.Duration != nil {
		v := *d.Duration
		c.Duration = &v
	}
	if d.CompletedAt != nil {
		v := *d.CompletedAt
		c.CompletedAt = &v
	}
	if d.ClaimedAt != nil {
		v := *d.ClaimedAt
		c.ClaimedAt = &v
	}
	if d.LeaseExpiresAt != nil {
		v := *d.LeaseExpiresAt
		c.LeaseExpiresAt = &v
	}
	return &c
}

// ClearTransient resets the fields that only make sense while a claim is active.
func (d *Download) ClearTransient() {
	d.Progress = 0
	d.DownloadSpeed = ""
	d.ETA = ""
	d.FileSize = nil
	d.WorkerID = ""
	d.LeaseExpiresAt = nil
}

// SameView reports whether a and b look identical to a client, ignoring
// UpdatedAt and the lease bookkeeping that never leaves the store.
func SameView(a, b *Download) bool {
	if a == nil || b == nil {
		return a == b
	}
	ac, bc := *a, *b
	ac.UpdatedAt, bc.UpdatedAt = time.Time{}, time.Time{}
	aj, err := json.Marshal(&ac)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(&bc)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
