package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/pkg/errors"
)

// progressSlot holds the freshest progress seen since the last tick. Offers
// within one tick merge, so only one write per tick reaches the store.
type progressSlot struct {
	mu      sync.Mutex
	pending *models.ProgressReport
}

func (s *progressSlot) offer(r models.ProgressReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = &r
		return
	}
	p := s.pending
	if r.Progress > p.Progress {
		p.Progress = r.Progress
	}
	if r.DownloadSpeed != "" {
		p.DownloadSpeed = r.DownloadSpeed
	}
	if r.ETA != "" {
		p.ETA = r.ETA
	}
	if r.Title != "" {
		p.Title = r.Title
	}
	if r.Thumbnail != "" {
		p.Thumbnail = r.Thumbnail
	}
	if r.FileSize != nil {
		p.FileSize = r.FileSize
	}
	if r.Duration != nil {
		p.Duration = r.Duration
	}
}

func (s *progressSlot) take() (models.ProgressReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return models.ProgressReport{}, false
	}
	r := *s.pending
	s.pending = nil
	return r, true
}

type fetchDone struct {
	result *FetchResult
	err    error
}

// process runs one claimed download to its end. It writes at most one
// terminal report and none at all when the job is gone or the worker is
// shutting down; an abandoned claim is recovered once its lease expires.
func (w *Worker) process(ctx context.Context, job *models.Download) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.track(job.ID, cancel)

	w.logger.Infof("download %s started: %s (%s, %s, attempt %d)", job.ID, job.SourceURL, job.Format, job.Quality, job.Attempt)

	slot := &progressSlot{}
	done := make(chan fetchDone, 1)
	go func() {
		res, err := w.fetcher.Fetch(jobCtx, job, slot.offer)
		done <- fetchDone{result: res, err: err}
	}()

	ticker := time.NewTicker(w.cfg.Worker.ProgressInterval)
	defer ticker.Stop()

	last := job.Progress
	gone := false
	var out fetchDone
loop:
	for {
		select {
		case out = <-done:
			break loop
		case <-ticker.C:
			if gone || ctx.Err() != nil {
				continue
			}
			report, ok := slot.take()
			if !ok || report.Progress < last {
				// Heartbeat: the stored value must be accepted to extend the lease.
				report.Progress = last
			}
			report.Attempt = job.Attempt
			switch w.reporter.ReportProgress(ctx, job.ID, report) {
			case models.ReportApplied:
				last = report.Progress
			case models.ReportGone:
				w.logger.Infof("download %s no longer held by this worker, stopping", job.ID)
				gone = true
				cancel()
			}
		}
	}

	cancelled := w.untrack(job.ID)
	switch {
	case gone || cancelled:
		w.cleanup(job)
		return
	case ctx.Err() != nil:
		w.logger.Warnf("download %s interrupted by shutdown, leaving it to the reaper", job.ID)
		return
	}

	if out.err == nil && out.result == nil {
		out.err = &models.TerminalWorkerError{Err: errors.New("fetch engine returned no result")}
	}
	if out.err != nil {
		w.fail(ctx, job, out.err)
		return
	}
	w.complete(ctx, job, out.result)
}

func (w *Worker) fail(ctx context.Context, job *models.Download, err error) {
	w.cleanup(job)
	if models.IsTransient(err) {
		w.logger.Warnf("download %s attempt %d failed, releasing: %v", job.ID, job.Attempt, err)
		w.reporter.ReportRetry(ctx, job.ID, job.Attempt, err.Error())
		return
	}
	w.logger.Errorf("download %s failed: %v", job.ID, err)
	w.reporter.ReportTerminal(ctx, job.ID, models.Failed(job.Attempt, err.Error()))
}

func (w *Worker) complete(ctx context.Context, job *models.Download, res *FetchResult) {
	if w.artifacts != nil {
		location, err := w.uploadArtifact(ctx, job, res)
		if err != nil {
			w.fail(ctx, job, &models.TransientWorkerError{Err: err})
			return
		}
		w.logger.Infof("download %s stored at %s", job.ID, location)
		w.cleanup(job)
	}

	outcome := models.Succeeded(job.Attempt, res.FileSize)
	outcome.Title = res.Title
	outcome.Thumbnail = res.Thumbnail
	outcome.Duration = res.Duration
	if result := w.reporter.ReportTerminal(ctx, job.ID, outcome); result == models.ReportApplied {
		w.logger.Infof("download %s completed (%d bytes)", job.ID, res.FileSize)
	}
}

// cleanup removes the job's working directory.
func (w *Worker) cleanup(job *models.Download) {
	if w.cfg.Worker.DownloadDir == "" {
		return
	}
	if err := os.RemoveAll(jobDir(w.cfg.Worker.DownloadDir, job)); err != nil {
		w.logger.Warnf("cleanup of %s failed: %v", job.ID, err)
	}
}

func jobDir(root string, job *models.Download) string {
	return filepath.Join(root, job.ID.String())
}
