package downloads

import (
	"context"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/google/uuid"
)

type UseCase interface {
	Create(ctx context.Context, owner string, input *models.DownloadInput) (*models.Download, error)
	List(ctx context.Context, owner string) ([]*models.Download, error)
	Delete(ctx context.Context, owner string, id uuid.UUID) error
	Subscribe(ctx context.Context, owner string, since *int64, wait time.Duration) (*models.FeedBatch, error)

	ReportProgress(ctx context.Context, id uuid.UUID, report models.ProgressReport) models.ReportResult
	ReportTerminal(ctx context.Context, id uuid.UUID, outcome models.Outcome) models.ReportResult
	ReportRetry(ctx context.Context, id uuid.UUID, attempt int, reason string) models.ReportResult
}

// Queue is the scheduling side the use case hands new jobs to.
type Queue interface {
	Enqueue(ctx context.Context, download *models.Download) error
}

// FeedWaiter blocks until the owner's feed moves past since or ctx ends.
type FeedWaiter interface {
	Wait(ctx context.Context, owner string, since int64) bool
}

// Archiver receives the finished download for exactly-once history emission.
type Archiver interface {
	Emit(ctx context.Context, download *models.Download) error
}
