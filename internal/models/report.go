package models

import (
	"fmt"
	"time"
)

// ProgressReport is a partial update sent by the worker holding claim Attempt.
// Empty strings and nil pointers leave the stored value untouched.
type ProgressReport struct {
	Attempt       int      `json:"attempt"`
	Progress      int      `json:"progress"`
	DownloadSpeed string   `json:"download_speed,omitempty"`
	ETA           string   `json:"eta,omitempty"`
	Title         string   `json:"title,omitempty"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	FileSize      *int64   `json:"file_size,omitempty"`
	Duration      *float64 `json:"duration,omitempty"`
}

// Outcome is the single terminal report of a claim.
type Outcome struct {
	Attempt      int
	Status       JobStatus
	FileSize     int64
	Title        string
	Thumbnail    string
	Duration     *float64
	ErrorMessage string
}

func Succeeded(attempt int, fileSize int64) Outcome {
	return Outcome{Attempt: attempt, Status: StatusCompleted, FileSize: fileSize}
}

func Failed(attempt int, message string) Outcome {
	return Outcome{Attempt: attempt, Status: StatusFailed, ErrorMessage: message}
}

// ReportResult tells a worker what happened to its write.
type ReportResult int

const (
	// ReportApplied means the mutation was stored and published.
	ReportApplied ReportResult = iota
	// ReportIgnored means the write was stale (lower progress) and dropped.
	ReportIgnored
	// ReportGone means the job was deleted, finished or reclaimed; the worker must stop.
	ReportGone
)

func (r ReportResult) String() string {
	switch r {
	case ReportApplied:
		return "applied"
	case ReportIgnored:
		return "ignored"
	case ReportGone:
		return "gone"
	default:
		return "unknown"
	}
}

// ClaimRequest asks the store to hand one pending job to WorkerID.
type ClaimRequest struct {
	WorkerID      string
	Lease         time.Duration
	PerOwnerLimit int
	// Precheck runs on the locked candidate; an error rejects it (pending -> failed).
	Precheck func(*Download) error
}

// ApplyProgress merges r into d when d accepts it under the monotonic progress rule.
func (d *Download) ApplyProgress(r ProgressReport) ReportResult {
	if d.Status != StatusDownloading || d.Attempt != r.Attempt {
		return ReportGone
	}
	if r.Progress < d.Progress {
		return ReportIgnored
	}
	if r.Progress > 100 {
		r.Progress = 100
	}
	d.Progress = r.Progress
	if r.DownloadSpeed != "" {
		d.DownloadSpeed = r.DownloadSpeed
	}
	if r.ETA != "" {
		d.ETA = r.ETA
	}
	if r.Title != "" {
		d.Title = r.Title
	}
	if r.Thumbnail != "" {
		d.Thumbnail = r.Thumbnail
	}
	if r.FileSize != nil {
		v := *r.FileSize
		d.FileSize = &v
	}
	if r.Duration != nil {
		v := *r.Duration
		d.Duration = &v
	}
	return ReportApplied
}

// Finish applies a terminal outcome at now.
func (d *Download) Finish(o Outcome, now time.Time) ReportResult {
	if d.Status != StatusDownloading || d.Attempt != o.Attempt {
		return ReportGone
	}
	if !o.Status.IsTerminal() {
		return ReportGone
	}
	if err := TransitionStatus(d, o.Status); err != nil {
		return ReportGone
	}
	d.DownloadSpeed = ""
	d.ETA = ""
	d.LeaseExpiresAt = nil
	d.CompletedAt = &now
	d.UpdatedAt = now
	switch o.Status {
	case StatusCompleted:
		d.Progress = 100
		size := o.FileSize
		d.FileSize = &size
		if o.Title != "" {
			d.Title = o.Title
		}
		if o.Thumbnail != "" {
			d.Thumbnail = o.Thumbnail
		}
		if o.Duration != nil {
			v := *o.Duration
			d.Duration = &v
		}
	case StatusFailed:
		d.ErrorMessage = o.ErrorMessage
	}
	return ReportApplied
}

// Claim hands a pending download to workerID until now+lease and bumps Attempt,
// which then acts as the claim token for every later write.
func (d *Download) Claim(workerID string, lease time.Duration, now time.Time) error {
	if d.Status != StatusPending {
		return ErrConflict
	}
	if err := TransitionStatus(d, StatusDownloading); err != nil {
		return err
	}
	d.ClearTransient()
	d.Attempt++
	d.WorkerID = workerID
	d.ClaimedAt = &now
	expires := now.Add(lease)
	d.LeaseExpiresAt = &expires
	d.ErrorMessage = ""
	d.UpdatedAt = now
	return nil
}

// Reject fails a pending download that never reached a worker.
func (d *Download) Reject(reason string, now time.Time) error {
	if err := TransitionStatus(d, StatusFailed); err != nil {
		return err
	}
	d.ErrorMessage = reason
	d.CompletedAt = &now
	d.UpdatedAt = now
	return nil
}

// Requeue gives up the claim identified by attempt. The download goes back to
// pending while Attempt <= retryBudget and fails otherwise.
func (d *Download) Requeue(attempt int, reason string, retryBudget int, now time.Time) ReportResult {
	if d.Status != StatusDownloading || d.Attempt != attempt {
		return ReportGone
	}
	if d.Attempt > retryBudget {
		return d.Finish(Failed(attempt, fmt.Sprintf("%s after %d attempt(s)", reason, d.Attempt)), now)
	}
	if err := TransitionStatus(d, StatusPending); err != nil {
		return ReportGone
	}
	d.ClearTransient()
	d.ClaimedAt = nil
	d.UpdatedAt = now
	return ReportApplied
}

// LeaseExpired reports whether an active claim has outlived its lease at now.
func (d *Download) LeaseExpired(now time.Time) bool {
	return d.Status == StatusDownloading && d.LeaseExpiresAt != nil && d.LeaseExpiresAt.Before(now)
}
