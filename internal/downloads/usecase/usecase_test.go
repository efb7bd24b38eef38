package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/downloads/repository"
	"github.com/amankumarsingh77/media-downloader/internal/history"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/internal/scheduler"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
)

type recordingQueue struct {
	mu       sync.Mutex
	enqueued []*models.Download
}

func (q *recordingQueue) Enqueue(ctx context.Context, d *models.Download) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, d)
	return nil
}

type memoryArtifacts struct {
	mu      sync.Mutex
	removed []string
}

func (m *memoryArtifacts) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := io.Copy(&bytes.Buffer{}, body)
	return "mem://" + key, err
}

func (m *memoryArtifacts) RemoveObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, key)
	return nil
}

type fixture struct {
	uc        downloads.UseCase
	repo      downloads.Repository
	queue     *recordingQueue
	artifacts *memoryArtifacts
	sink      *history.MemorySink
	notes     <-chan *models.Notification
}

func newFixture(t *testing.T, retryBudget int) *fixture {
	t.Helper()
	cfg := &config.Config{Queue: config.QueueConfig{
		PerOwnerLimit: 2,
		LeaseDuration: time.Minute,
		RetryBudget:   retryBudget,
	}}
	log := logger.NewNop()
	repo := repository.NewMemoryRepo()
	notifier := repository.NewLocalNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	notes, err := notifier.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	f := &fixture{
		repo:      repo,
		queue:     &recordingQueue{},
		artifacts: &memoryArtifacts{},
		sink:      history.NewMemorySink(),
		notes:     notes,
	}
	f.uc = NewDownloadsUseCase(cfg, repo, notifier, f.artifacts, f.queue, nil, history.NewArchiver(f.sink, repo, log), log)
	return f
}

func (f *fixture) create(t *testing.T, owner string) *models.Download {
	t.Helper()
	d, err := f.uc.Create(context.Background(), owner, &models.DownloadInput{URL: "https://example.com/v", Format: models.FormatVideo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return d
}

func (f *fixture) claim(t *testing.T) *models.Download {
	t.Helper()
	d, _, err := f.repo.ClaimNext(context.Background(), models.ClaimRequest{WorkerID: "w1", Lease: time.Minute, PerOwnerLimit: 2})
	if err != nil || d == nil {
		t.Fatalf("claim: %v %v", d, err)
	}
	return d
}

func (f *fixture) drain() []*models.Notification {
	var out []*models.Notification
	for {
		select {
		case n := <-f.notes:
			out = append(out, n)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t, 0)
	d := f.create(t, "alice")

	if d.Status != models.StatusPending || d.Quality != models.QualityBest {
		t.Fatalf("unexpected download %+v", d)
	}
	if len(f.queue.enqueued) != 1 || f.queue.enqueued[0].ID != d.ID {
		t.Fatal("created download was not enqueued")
	}
	notes := f.drain()
	if len(notes) != 1 || notes[0].Kind != models.NotifyChange || notes[0].Sequence != 1 {
		t.Fatalf("unexpected notifications %+v", notes)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 0)
	cases := []struct {
		name  string
		owner string
		input *models.DownloadInput
		msg   string
	}{
		{"no owner", "", &models.DownloadInput{URL: "https://x", Format: models.FormatVideo}, "owner is required"},
		{"no body", "alice", nil, "request body is required"},
		{"blank url", "alice", &models.DownloadInput{URL: "   ", Format: models.FormatVideo}, "url is required"},
		{"bad format", "alice", &models.DownloadInput{URL: "https://x", Format: "gif"}, "format must be one of: video, audio"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.uc.Create(context.Background(), tc.owner, tc.input)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if err.Error() != tc.msg {
				t.Fatalf("expected %q, got %q", tc.msg, err.Error())
			}
		})
	}
	if list, _ := f.uc.List(context.Background(), "alice"); len(list) != 0 {
		t.Fatal("rejected input was stored")
	}
}

func TestDeleteCompletedRemovesArtifact(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	d := f.create(t, "alice")
	claimed := f.claim(t)
	if r := f.uc.ReportTerminal(ctx, d.ID, models.Succeeded(claimed.Attempt, 1048576)); r != models.ReportApplied {
		t.Fatalf("terminal: %s", r)
	}
	f.drain()

	if err := f.uc.Delete(ctx, "bob", d.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("other owner: expected not found, got %v", err)
	}
	if err := f.uc.Delete(ctx, "alice", d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.uc.Delete(ctx, "alice", d.ID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if len(f.artifacts.removed) != 1 || f.artifacts.removed[0] != downloads.ArtifactKey("alice", d.ID.String()) {
		t.Fatalf("unexpected artifact removals %v", f.artifacts.removed)
	}

	kinds := map[models.NotificationKind]int{}
	for _, n := range f.drain() {
		kinds[n.Kind]++
	}
	if kinds[models.NotifyChange] != 1 || kinds[models.NotifyCancel] != 1 {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestReportTerminalEmitsHistoryOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	d := f.create(t, "alice")
	claimed := f.claim(t)

	if r := f.uc.ReportTerminal(ctx, d.ID, models.Succeeded(claimed.Attempt, 10)); r != models.ReportApplied {
		t.Fatalf("terminal: %s", r)
	}
	if r := f.uc.ReportTerminal(ctx, d.ID, models.Succeeded(claimed.Attempt, 10)); r != models.ReportGone {
		t.Fatalf("second terminal: expected gone, got %s", r)
	}
	if n := len(f.sink.Entries()); n != 1 {
		t.Fatalf("expected one history entry, got %d", n)
	}
}

func TestReportProgressAfterDeleteIsGone(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	d := f.create(t, "alice")
	claimed := f.claim(t)

	if r := f.uc.ReportProgress(ctx, d.ID, models.ProgressReport{Attempt: claimed.Attempt, Progress: 60}); r != models.ReportApplied {
		t.Fatalf("progress: %s", r)
	}
	if r := f.uc.ReportProgress(ctx, d.ID, models.ProgressReport{Attempt: claimed.Attempt, Progress: 45}); r != models.ReportIgnored {
		t.Fatalf("lower progress: expected ignored, got %s", r)
	}
	if err := f.uc.Delete(ctx, "alice", d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if r := f.uc.ReportProgress(ctx, d.ID, models.ProgressReport{Attempt: claimed.Attempt, Progress: 70}); r != models.ReportGone {
		t.Fatalf("progress after delete: expected gone, got %s", r)
	}
	if _, err := f.repo.GetByID(ctx, d.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("write recreated a deleted job: %v", err)
	}
}

func TestReportRetryRequeuesWithinBudget(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	d := f.create(t, "alice")
	claimed := f.claim(t)

	if r := f.uc.ReportRetry(ctx, d.ID, claimed.Attempt, "HTTP Error 503"); r != models.ReportApplied {
		t.Fatalf("retry: %s", r)
	}
	got, _ := f.repo.GetByID(ctx, d.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if len(f.queue.enqueued) != 2 {
		t.Fatalf("requeued job was not enqueued again: %d", len(f.queue.enqueued))
	}

	claimed = f.claim(t)
	if r := f.uc.ReportRetry(ctx, d.ID, claimed.Attempt, "HTTP Error 503"); r != models.ReportApplied {
		t.Fatalf("retry: %s", r)
	}
	got, _ = f.repo.GetByID(ctx, d.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed once the budget is spent, got %s", got.Status)
	}
}

// flakySink fails the first n Record calls, n being failures.
type flakySink struct {
	*history.MemorySink
	mu       sync.Mutex
	failures int
}

func (f *flakySink) Record(ctx context.Context, entry *models.HistoryEntry) (bool, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return false, errors.New("history store unavailable")
	}
	f.mu.Unlock()
	return f.MemorySink.Record(ctx, entry)
}

func TestDeleteUnarchivedCompletedRecordsHistoryFirst(t *testing.T) {
	cfg := &config.Config{Queue: config.QueueConfig{PerOwnerLimit: 2, LeaseDuration: time.Minute, ClaimRetries: 3}}
	log := logger.NewNop()
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	sink := &flakySink{MemorySink: history.NewMemorySink(), failures: 2}
	archiver := history.NewArchiver(sink, repo, log)
	sched := scheduler.NewScheduler(cfg, repo, nil, archiver, log)
	uc := NewDownloadsUseCase(cfg, repo, nil, nil, sched, nil, archiver, log)

	d, err := uc.Create(ctx, "alice", &models.DownloadInput{URL: "https://example.com/v", Format: models.FormatVideo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := sched.ClaimNext(ctx, "w1", nil)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	if r := uc.ReportTerminal(ctx, d.ID, models.Succeeded(claimed.Attempt, 1048576)); r != models.ReportApplied {
		t.Fatalf("terminal: %s", r)
	}
	if n := len(sink.Entries()); n != 0 {
		t.Fatalf("expected the first history write to fail, got %d entries", n)
	}

	// The history store is still down: the delete is refused and the job kept.
	if err = uc.Delete(ctx, "alice", d.ID); err == nil {
		t.Fatal("delete must fail while the history record cannot be written")
	}
	if _, err = repo.GetByID(ctx, d.ID); err != nil {
		t.Fatalf("job removed without its history record: %v", err)
	}

	if err = uc.Delete(ctx, "alice", d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sched.Sweep(ctx)
	sched.Sweep(ctx)

	entries := sink.Entries()
	if len(entries) != 1 || entries[0].JobID != d.ID {
		t.Fatalf("expected exactly one history entry for %s, got %+v", d.ID, entries)
	}
}
