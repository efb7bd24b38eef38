package downloads

import (
	"context"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/google/uuid"
)

// Repository is the Job Store. Every accepted mutation appends exactly one
// ChangeEvent to the owner's feed in the same transaction and returns it;
// a nil event means the call was a no-op.
type Repository interface {
	Create(ctx context.Context, download *models.Download) (*models.Download, *models.ChangeEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Download, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.Download, error)
	Delete(ctx context.Context, owner string, id uuid.UUID) (*models.ChangeEvent, error)

	ClaimNext(ctx context.Context, req models.ClaimRequest) (*models.Download, *models.ChangeEvent, error)
	ApplyProgress(ctx context.Context, id uuid.UUID, report models.ProgressReport, lease time.Duration) (models.ReportResult, *models.ChangeEvent, error)
	Finish(ctx context.Context, id uuid.UUID, outcome models.Outcome) (models.ReportResult, *models.ChangeEvent, error)
	Release(ctx context.Context, id uuid.UUID, attempt int, reason string, retryBudget int) (models.ReportResult, *models.ChangeEvent, error)
	ReapExpired(ctx context.Context, retryBudget int) ([]*models.ChangeEvent, error)

	ReadFeed(ctx context.Context, owner string, since *int64) (*models.FeedBatch, error)
	PruneFeed(ctx context.Context, olderThan time.Time) (int64, error)

	ListUnarchived(ctx context.Context, limit int) ([]*models.Download, error)
	MarkArchived(ctx context.Context, id uuid.UUID) error
}
