package history

import (
	"context"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/pkg/errors"
)

// Sink stores history entries keyed by job id. Record reports false when the
// entry was already there.
type Sink interface {
	Record(ctx context.Context, entry *models.HistoryEntry) (bool, error)
}

type archiver struct {
	sink   Sink
	repo   downloads.Repository
	logger logger.Logger
}

// NewArchiver emits each completed download to sink exactly once. The sink
// write is idempotent and the job is flagged archived only afterwards, so a
// crash in between is repaired by the next re-drive.
func NewArchiver(sink Sink, repo downloads.Repository, log logger.Logger) downloads.Archiver {
	return &archiver{sink: sink, repo: repo, logger: log}
}

func (a *archiver) Emit(ctx context.Context, download *models.Download) error {
	if download.Status != models.StatusCompleted {
		return errors.Errorf("history: download %s is %s, not completed", download.ID, download.Status)
	}
	if download.Archived {
		return nil
	}
	inserted, err := a.sink.Record(ctx, models.NewHistoryEntry(download))
	if err != nil {
		return errors.Wrap(err, "archiver.Emit.Record")
	}
	if err = a.repo.MarkArchived(ctx, download.ID); err != nil {
		return errors.Wrap(err, "archiver.Emit.MarkArchived")
	}
	if inserted {
		a.logger.Infof("history entry recorded for %s (%s)", download.ID, download.Title)
	}
	return nil
}
