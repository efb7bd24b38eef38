package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/amankumarsingh77/media-downloader/pkg/utils"
	"github.com/google/uuid"
)

type activeJob struct {
	cancel    context.CancelFunc
	cancelled bool
}

type Worker struct {
	cfg       *config.Config
	logger    logger.Logger
	claimer   Claimer
	reporter  Reporter
	fetcher   Fetcher
	artifacts downloads.ArtifactStore
	notifier  downloads.Notifier
	cpuGate   func() (bool, float64)
	name      string
	wg        sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]*activeJob
}

// NewWorker builds a pool of cfg.Worker.WorkerCount goroutines. artifacts and
// notifier may be nil.
func NewWorker(
	cfg *config.Config,
	logger logger.Logger,
	claimer Claimer,
	reporter Reporter,
	fetcher Fetcher,
	artifacts downloads.ArtifactStore,
	notifier downloads.Notifier,
) *Worker {
	host, _ := os.Hostname()
	return &Worker{
		cfg:       cfg,
		logger:    logger,
		claimer:   claimer,
		reporter:  reporter,
		fetcher:   fetcher,
		artifacts: artifacts,
		notifier:  notifier,
		cpuGate: func() (bool, float64) {
			return utils.CheckCPUUsage(cfg.Worker.MaxCPUUsage)
		},
		name:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		active: make(map[uuid.UUID]*activeJob),
	}
}

// Start launches the pool and the cancel listener. It returns immediately;
// Wait blocks until every goroutine has stopped after ctx ends.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Infof("Starting worker %s with %d slots", w.name, w.cfg.Worker.WorkerCount)
	if w.notifier != nil {
		if err := w.listenCancels(ctx); err != nil {
			w.logger.Warnf("cancel listener unavailable, relying on progress checks: %v", err)
		}
	}
	for i := range w.cfg.Worker.WorkerCount {
		w.wg.Add(1)
		go w.run(ctx, fmt.Sprintf("%s/%d", w.name, i))
	}
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID string) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if ok, usage := w.cpuGate(); !ok {
			w.logger.Infof("CPU usage is high: %.1f%%, %s backing off", usage, workerID)
			w.sleep(ctx, w.cfg.Worker.PollInterval)
			continue
		}
		job, err := w.claimer.ClaimNext(ctx, workerID, ValidateSource)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Errorf("ClaimNext error: %v", err)
				w.sleep(ctx, w.cfg.Worker.PollInterval)
			}
			continue
		}
		if job == nil {
			w.claimer.WaitForWork(ctx, w.cfg.Worker.PollInterval)
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) track(id uuid.UUID, cancel context.CancelFunc) {
	w.mu.Lock()
	w.active[id] = &activeJob{cancel: cancel}
	w.mu.Unlock()
}

// untrack reports whether the job was cancelled while it ran.
func (w *Worker) untrack(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.active[id]
	delete(w.active, id)
	return ok && job.cancelled
}

func (w *Worker) cancelJob(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.active[id]
	if !ok {
		return false
	}
	job.cancelled = true
	job.cancel()
	return true
}

func (w *Worker) listenCancels(ctx context.Context) error {
	ch, err := w.notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for n := range ch {
			if n.Kind != models.NotifyCancel {
				continue
			}
			if w.cancelJob(n.JobID) {
				w.logger.Infof("download %s cancelled by owner", n.JobID)
			}
		}
	}()
	return nil
}
