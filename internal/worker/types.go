package worker

import (
	"context"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/google/uuid"
)

// Fetcher is the fetch engine. It downloads job's source into a local file,
// calling progress as it goes, and returns once the file is complete.
// Errors wrapped in models.TransientWorkerError are retried.
type Fetcher interface {
	Fetch(ctx context.Context, job *models.Download, progress func(models.ProgressReport)) (*FetchResult, error)
}

type FetchResult struct {
	Path        string
	FileSize    int64
	ContentType string
	Title       string
	Thumbnail   string
	Duration    *float64
}

// Claimer is the scheduling side a worker pulls jobs from.
type Claimer interface {
	ClaimNext(ctx context.Context, workerID string, precheck func(*models.Download) error) (*models.Download, error)
	WaitForWork(ctx context.Context, timeout time.Duration)
}

// Reporter receives a worker's writes. Every call tells the worker whether
// the job is still its own.
type Reporter interface {
	ReportProgress(ctx context.Context, id uuid.UUID, report models.ProgressReport) models.ReportResult
	ReportTerminal(ctx context.Context, id uuid.UUID, outcome models.Outcome) models.ReportResult
	ReportRetry(ctx context.Context, id uuid.UUID, attempt int, reason string) models.ReportResult
}
