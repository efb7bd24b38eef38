package scheduler

import (
	"context"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/pkg/errors"
)

const redriveBatch = 100

// Scheduler hands pending downloads to workers and recovers expired claims.
type Scheduler struct {
	queue    config.QueueConfig
	feed     config.FeedConfig
	repo     downloads.Repository
	notifier downloads.Notifier
	archiver downloads.Archiver
	logger   logger.Logger
	wake     chan struct{}
}

// NewScheduler builds a scheduler. archiver may be nil when the process does
// not re-drive history emission.
func NewScheduler(cfg *config.Config, repo downloads.Repository, notifier downloads.Notifier, archiver downloads.Archiver, log logger.Logger) *Scheduler {
	return &Scheduler{
		queue:    cfg.Queue,
		feed:     cfg.Feed,
		repo:     repo,
		notifier: notifier,
		archiver: archiver,
		logger:   log,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue announces a pending download to idle workers.
func (s *Scheduler) Enqueue(ctx context.Context, download *models.Download) error {
	if download.Status != models.StatusPending {
		return errors.Errorf("enqueue: download %s is %s, not pending", download.ID, download.Status)
	}
	s.signal()
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Publish(ctx, &models.Notification{
		Kind:  models.NotifyEnqueued,
		Owner: download.Owner,
		JobID: download.ID,
	})
}

// ClaimNext returns the next claimable download for workerID, or nil when
// there is none. Lost races are retried up to the configured budget and never
// surface; candidates rejected by precheck are failed and skipped.
func (s *Scheduler) ClaimNext(ctx context.Context, workerID string, precheck func(*models.Download) error) (*models.Download, error) {
	req := models.ClaimRequest{
		WorkerID:      workerID,
		Lease:         s.queue.LeaseDuration,
		PerOwnerLimit: s.queue.PerOwnerLimit,
		Precheck:      precheck,
	}
	conflicts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		claimed, event, err := s.repo.ClaimNext(ctx, req)
		if errors.Is(err, models.ErrConflict) {
			conflicts++
			if conflicts > s.queue.ClaimRetries {
				s.logger.Debugf("ClaimNext - %s gave up after %d conflicts", workerID, conflicts)
				return nil, nil
			}
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "Scheduler.ClaimNext")
		}
		s.publishChange(ctx, event)
		if claimed == nil && event != nil {
			s.logger.Infof("download %s rejected before claim: %s", event.JobID, event.Job.ErrorMessage)
			continue
		}
		if claimed != nil {
			s.logger.Infof("download %s claimed by %s (attempt %d)", claimed.ID, workerID, claimed.Attempt)
		}
		return claimed, nil
	}
}

// Listen turns enqueued notifications from other processes into local
// wake-ups until ctx ends.
func (s *Scheduler) Listen(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	ch, err := s.notifier.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "Scheduler.Listen")
	}
	go func() {
		for n := range ch {
			if n.Kind == models.NotifyEnqueued {
				s.signal()
			}
		}
	}()
	return nil
}

// WaitForWork blocks until a download is enqueued, timeout passes or ctx ends.
func (s *Scheduler) WaitForWork(ctx context.Context, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-s.wake:
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunReaper sweeps every reap interval until ctx ends.
func (s *Scheduler) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(s.queue.ReapInterval)
	defer ticker.Stop()

	s.logger.Infof("reaper started (interval %s, lease %s, retry budget %d)", s.queue.ReapInterval, s.queue.LeaseDuration, s.queue.RetryBudget)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep recovers expired claims, prunes the feed past retention and re-drives
// history emission for completed downloads that were never archived.
func (s *Scheduler) Sweep(ctx context.Context) {
	events, err := s.repo.ReapExpired(ctx, s.queue.RetryBudget)
	if err != nil {
		s.logger.Errorf("Sweep - ReapExpired error: %v", err)
	}
	requeued := false
	for _, ev := range events {
		s.publishChange(ctx, ev)
		if ev.Job == nil {
			continue
		}
		switch ev.Job.Status {
		case models.StatusPending:
			requeued = true
			s.logger.Warnf("download %s lease expired, requeued", ev.JobID)
		case models.StatusFailed:
			s.logger.Warnf("download %s failed: %s", ev.JobID, ev.Job.ErrorMessage)
		}
	}
	if requeued {
		s.signal()
		if s.notifier != nil {
			if err = s.notifier.Publish(ctx, &models.Notification{Kind: models.NotifyEnqueued}); err != nil {
				s.logger.Warnf("Sweep - Publish error: %v", err)
			}
		}
	}

	if s.feed.Retention > 0 {
		pruned, err := s.repo.PruneFeed(ctx, time.Now().Add(-s.feed.Retention))
		if err != nil {
			s.logger.Errorf("Sweep - PruneFeed error: %v", err)
		} else if pruned > 0 {
			s.logger.Debugf("pruned %d feed events", pruned)
		}
	}

	if s.archiver == nil {
		return
	}
	pending, err := s.repo.ListUnarchived(ctx, redriveBatch)
	if err != nil {
		s.logger.Errorf("Sweep - ListUnarchived error: %v", err)
		return
	}
	for _, d := range pending {
		if err = s.archiver.Emit(ctx, d); err != nil {
			s.logger.Errorf("Sweep - history emit for %s error: %v", d.ID, err)
		}
	}
}

func (s *Scheduler) publishChange(ctx context.Context, event *models.ChangeEvent) {
	if event == nil || s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, &models.Notification{
		Kind:     models.NotifyChange,
		Owner:    event.Owner,
		JobID:    event.JobID,
		Sequence: event.Sequence,
	}); err != nil {
		s.logger.Warnf("notifier.Publish change error: %v", err)
	}
}
