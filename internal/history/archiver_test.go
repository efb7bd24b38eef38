package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/downloads/repository"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
)

func completedDownload(t *testing.T) (*models.Download, func() *models.Download, *MemorySink, func(*models.Download) error) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	in := &models.DownloadInput{URL: "https://example.com/watch?v=1", Format: models.FormatVideo}
	in.Normalize()
	created, _, err := repo.Create(ctx, models.NewDownload("alice", in, time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, _, _ := repo.ClaimNext(ctx, models.ClaimRequest{WorkerID: "w", Lease: time.Minute, PerOwnerLimit: 1})
	outcome := models.Succeeded(claimed.Attempt, 1048576)
	outcome.Title = "Clip"
	_, ev, _ := repo.Finish(ctx, created.ID, outcome)

	sink := NewMemorySink()
	a := NewArchiver(sink, repo, logger.NewNop())
	reload := func() *models.Download {
		d, _ := repo.GetByID(ctx, created.ID)
		return d
	}
	return ev.Job, reload, sink, func(d *models.Download) error { return a.Emit(ctx, d) }
}

func TestArchiver_EmitsExactlyOnce(t *testing.T) {
	job, reload, sink, emit := completedDownload(t)

	if err := emit(job); err != nil {
		t.Fatalf("emit: %v", err)
	}
	// A retried emission with the stale, unflagged copy must not duplicate.
	if err := emit(job); err != nil {
		t.Fatalf("second emit: %v", err)
	}
	if err := emit(reload()); err != nil {
		t.Fatalf("emit of archived job: %v", err)
	}

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].Title != "Clip" || entries[0].FileSize != 1048576 || entries[0].DownloadedAt.IsZero() {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	if !reload().Archived {
		t.Fatal("job not flagged archived")
	}
}

type failingSink struct{}

func (failingSink) Record(context.Context, *models.HistoryEntry) (bool, error) {
	return false, errors.New("sink down")
}

func TestArchiver_SinkFailureLeavesJobUnarchived(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	in := &models.DownloadInput{URL: "https://example.com/a", Format: models.FormatAudio}
	in.Normalize()
	created, _, _ := repo.Create(ctx, models.NewDownload("alice", in, time.Now()))
	claimed, _, _ := repo.ClaimNext(ctx, models.ClaimRequest{WorkerID: "w", Lease: time.Minute, PerOwnerLimit: 1})
	_, ev, _ := repo.Finish(ctx, created.ID, models.Succeeded(claimed.Attempt, 10))

	a := NewArchiver(failingSink{}, repo, logger.NewNop())
	if err := a.Emit(ctx, ev.Job); err == nil {
		t.Fatal("expected sink error")
	}
	list, _ := repo.ListUnarchived(ctx, 10)
	if len(list) != 1 {
		t.Fatalf("job must stay unarchived for re-drive, got %d", len(list))
	}
}

func TestArchiver_RejectsUnfinishedDownload(t *testing.T) {
	a := NewArchiver(NewMemorySink(), repository.NewMemoryRepo(), logger.NewNop())
	if err := a.Emit(context.Background(), &models.Download{Status: models.StatusDownloading}); err == nil {
		t.Fatal("expected error for a download that is not completed")
	}
}
