package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/downloads/repository"
	"github.com/amankumarsingh77/media-downloader/internal/history"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Queue: config.QueueConfig{
			PerOwnerLimit: 2,
			LeaseDuration: time.Minute,
			RetryBudget:   0,
			ReapInterval:  time.Second,
			ClaimRetries:  3,
		},
		Feed: config.FeedConfig{Retention: time.Hour},
	}
}

func submit(t *testing.T, repo downloads.Repository, owner, url string) *models.Download {
	t.Helper()
	in := &models.DownloadInput{URL: url, Format: models.FormatVideo}
	in.Normalize()
	d, _, err := repo.Create(context.Background(), models.NewDownload(owner, in, time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(time.Millisecond)
	return d
}

// conflictRepo loses the first n claim races.
type conflictRepo struct {
	downloads.Repository
	conflicts int
	calls     int
}

func (c *conflictRepo) ClaimNext(ctx context.Context, req models.ClaimRequest) (*models.Download, *models.ChangeEvent, error) {
	c.calls++
	if c.calls <= c.conflicts {
		return nil, nil, models.ErrConflict
	}
	return c.Repository.ClaimNext(ctx, req)
}

func TestScheduler_ClaimRetriesConflictsTransparently(t *testing.T) {
	base := repository.NewMemoryRepo()
	d := submit(t, base, "alice", "https://example.com/1")
	repo := &conflictRepo{Repository: base, conflicts: 2}
	s := NewScheduler(testConfig(), repo, repository.NewLocalNotifier(), nil, logger.NewNop())

	claimed, err := s.ClaimNext(context.Background(), "w1", nil)
	if err != nil {
		t.Fatalf("conflict leaked to caller: %v", err)
	}
	if claimed == nil || claimed.ID != d.ID {
		t.Fatalf("expected %s to be claimed, got %v", d.ID, claimed)
	}
}

func TestScheduler_ClaimGivesUpQuietlyAfterRetryBudget(t *testing.T) {
	base := repository.NewMemoryRepo()
	submit(t, base, "alice", "https://example.com/1")
	repo := &conflictRepo{Repository: base, conflicts: 100}
	s := NewScheduler(testConfig(), repo, nil, nil, logger.NewNop())

	claimed, err := s.ClaimNext(context.Background(), "w1", nil)
	if err != nil || claimed != nil {
		t.Fatalf("expected no claim and no error, got %v %v", claimed, err)
	}
	if repo.calls != testConfig().Queue.ClaimRetries+1 {
		t.Fatalf("expected %d attempts, got %d", testConfig().Queue.ClaimRetries+1, repo.calls)
	}
}

func TestScheduler_PrecheckRejectionSkipsToNextJob(t *testing.T) {
	repo := repository.NewMemoryRepo()
	bad := submit(t, repo, "alice", "not a url")
	good := submit(t, repo, "alice", "https://example.com/ok")
	s := NewScheduler(testConfig(), repo, repository.NewLocalNotifier(), nil, logger.NewNop())

	precheck := func(d *models.Download) error {
		if d.SourceURL == "not a url" {
			return errors.New("malformed url")
		}
		return nil
	}
	claimed, err := s.ClaimNext(context.Background(), "w1", precheck)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != good.ID {
		t.Fatalf("expected the valid job, got %v", claimed)
	}
	rejected, _ := repo.GetByID(context.Background(), bad.ID)
	if rejected.Status != models.StatusFailed || rejected.ErrorMessage != "malformed url" {
		t.Fatalf("unexpected rejected job: %+v", rejected)
	}
}

func TestScheduler_EnqueueWakesWaiters(t *testing.T) {
	repo := repository.NewMemoryRepo()
	s := NewScheduler(testConfig(), repo, repository.NewLocalNotifier(), nil, logger.NewNop())

	d := submit(t, repo, "alice", "https://example.com/1")
	if err := s.Enqueue(context.Background(), d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	start := time.Now()
	s.WaitForWork(context.Background(), 5*time.Second)
	if time.Since(start) > time.Second {
		t.Fatal("WaitForWork did not wake on enqueue")
	}

	d.Status = models.StatusDownloading
	if err := s.Enqueue(context.Background(), d); err == nil {
		t.Fatal("enqueue of a non-pending job must fail")
	}
}

func TestScheduler_SweepFailsExpiredLeaseWithZeroBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.LeaseDuration = 10 * time.Millisecond
	repo := repository.NewMemoryRepo()
	notifier := repository.NewLocalNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notes, _ := notifier.Subscribe(ctx)

	s := NewScheduler(cfg, repo, notifier, nil, logger.NewNop())
	d := submit(t, repo, "alice", "https://example.com/1")
	if _, err := s.ClaimNext(ctx, "w1", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	<-notes

	time.Sleep(30 * time.Millisecond)
	s.Sweep(ctx)

	got, _ := repo.GetByID(ctx, d.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "lease expired after 1 attempt(s)" {
		t.Fatalf("unexpected error message %q", got.ErrorMessage)
	}
	select {
	case n := <-notes:
		if n.Kind != models.NotifyChange || n.JobID != d.ID {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notification for the reaped job")
	}
}

func TestScheduler_SweepRedrivesHistory(t *testing.T) {
	repo := repository.NewMemoryRepo()
	sink := history.NewMemorySink()
	archiver := history.NewArchiver(sink, repo, logger.NewNop())
	s := NewScheduler(testConfig(), repo, nil, archiver, logger.NewNop())
	ctx := context.Background()

	d := submit(t, repo, "alice", "https://example.com/1")
	claimed, _ := s.ClaimNext(ctx, "w1", nil)
	// Finished without emission, as after a crash right after the write.
	_, _, _ = repo.Finish(ctx, d.ID, models.Succeeded(claimed.Attempt, 42))

	s.Sweep(ctx)
	s.Sweep(ctx)

	if n := len(sink.Entries()); n != 1 {
		t.Fatalf("expected exactly one history entry, got %d", n)
	}
}
