package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/amankumarsingh77/media-downloader/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type downloadsUC struct {
	cfg       *config.Config
	repo      downloads.Repository
	notifier  downloads.Notifier
	artifacts downloads.ArtifactStore
	queue     downloads.Queue
	waiter    downloads.FeedWaiter
	archiver  downloads.Archiver
	logger    logger.Logger
}

// NewDownloadsUseCase wires the job lifecycle. artifacts, waiter and archiver
// may be nil: no S3 cleanup, no long-poll wait and no history emission.
func NewDownloadsUseCase(
	cfg *config.Config,
	repo downloads.Repository,
	notifier downloads.Notifier,
	artifacts downloads.ArtifactStore,
	queue downloads.Queue,
	waiter downloads.FeedWaiter,
	archiver downloads.Archiver,
	log logger.Logger,
) downloads.UseCase {
	return &downloadsUC{
		cfg:       cfg,
		repo:      repo,
		notifier:  notifier,
		artifacts: artifacts,
		queue:     queue,
		waiter:    waiter,
		archiver:  archiver,
		logger:    log,
	}
}

func (u *downloadsUC) Create(ctx context.Context, owner string, input *models.DownloadInput) (*models.Download, error) {
	if owner == "" {
		return nil, models.NewValidationError("owner is required")
	}
	if input == nil {
		return nil, models.NewValidationError("request body is required")
	}
	input.Normalize()
	if err := utils.ValidateStruct(ctx, input); err != nil {
		u.logger.Debugf("Create - ValidateStruct error: %v", err)
		return nil, models.NewValidationError(validationMessage(err))
	}

	created, event, err := u.repo.Create(ctx, models.NewDownload(owner, input, time.Now()))
	if err != nil {
		u.logger.Errorf("Create - repo.Create error: %v", err)
		return nil, errors.Wrap(err, "downloadsUC.Create")
	}
	u.publishChange(ctx, event)

	if u.queue != nil {
		if err = u.queue.Enqueue(ctx, created); err != nil {
			// The job is durable; workers still find it on their next poll.
			u.logger.Warnf("Create - Enqueue error for %s: %v", created.ID, err)
		}
	}
	u.logger.Infof("download %s created for owner %s (%s, %s)", created.ID, owner, created.Format, created.Quality)
	return created, nil
}

func (u *downloadsUC) List(ctx context.Context, owner string) ([]*models.Download, error) {
	list, err := u.repo.ListByOwner(ctx, owner)
	if err != nil {
		u.logger.Errorf("List - repo.ListByOwner error: %v", err)
		return nil, errors.Wrap(err, "downloadsUC.List")
	}
	return list, nil
}

func (u *downloadsUC) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	existing, err := u.repo.GetByID(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		u.logger.Errorf("Delete - repo.GetByID error: %v", err)
		return errors.Wrap(err, "downloadsUC.Delete")
	}

	// The reaper re-drives history only for rows that still exist, so a
	// completed download leaves its history record before it leaves the store.
	if existing != nil && existing.Owner == owner && existing.Status == models.StatusCompleted && !existing.Archived && u.archiver != nil {
		if err = u.archiver.Emit(ctx, existing); err != nil {
			u.logger.Errorf("Delete - history emit for %s error: %v", id, err)
			return errors.Wrap(err, "downloadsUC.Delete")
		}
	}

	event, err := u.repo.Delete(ctx, owner, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		u.logger.Errorf("Delete - repo.Delete error: %v", err)
		return errors.Wrap(err, "downloadsUC.Delete")
	}
	if event == nil {
		return nil
	}
	u.publishChange(ctx, event)

	// A claim may have raced the read above, so workers always get the cancel hint.
	u.publish(ctx, &models.Notification{Kind: models.NotifyCancel, Owner: owner, JobID: id})
	if existing != nil && existing.Status == models.StatusCompleted && u.artifacts != nil {
		if err = u.artifacts.RemoveObject(ctx, downloads.ArtifactKey(owner, id.String())); err != nil {
			u.logger.Warnf("Delete - RemoveObject error for %s: %v", id, err)
		}
	}
	u.logger.Infof("download %s deleted by owner %s", id, owner)
	return nil
}

// Subscribe reads the owner's feed. When the reader is caught up and wait is
// positive it blocks until the feed moves or wait elapses.
func (u *downloadsUC) Subscribe(ctx context.Context, owner string, since *int64, wait time.Duration) (*models.FeedBatch, error) {
	batch, err := u.repo.ReadFeed(ctx, owner, since)
	if err != nil {
		u.logger.Errorf("Subscribe - repo.ReadFeed error: %v", err)
		return nil, errors.Wrap(err, "downloadsUC.Subscribe")
	}
	if !batch.Empty() || wait <= 0 || u.waiter == nil {
		return batch, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		if !u.waiter.Wait(waitCtx, owner, batch.Sequence) {
			return batch, nil
		}
		next, err := u.repo.ReadFeed(ctx, owner, since)
		if err != nil {
			u.logger.Errorf("Subscribe - repo.ReadFeed error: %v", err)
			return nil, errors.Wrap(err, "downloadsUC.Subscribe")
		}
		if !next.Empty() {
			return next, nil
		}
		batch = next
	}
}

func (u *downloadsUC) ReportProgress(ctx context.Context, id uuid.UUID, report models.ProgressReport) models.ReportResult {
	result, event, err := u.repo.ApplyProgress(ctx, id, report, u.cfg.Queue.LeaseDuration)
	if err != nil {
		// A failed write is retried on the next tick; the lease covers a longer outage.
		u.logger.Errorf("ReportProgress - repo.ApplyProgress error for %s: %v", id, err)
		return models.ReportIgnored
	}
	switch result {
	case models.ReportGone:
		u.logger.Debugf("progress for %s (attempt %d) dropped: job gone", id, report.Attempt)
	case models.ReportIgnored:
		u.logger.Debugf("progress for %s dropped: %d is below stored value", id, report.Progress)
	}
	u.publishChange(ctx, event)
	return result
}

func (u *downloadsUC) ReportTerminal(ctx context.Context, id uuid.UUID, outcome models.Outcome) models.ReportResult {
	result, event, err := u.repo.Finish(ctx, id, outcome)
	if err != nil {
		u.logger.Errorf("ReportTerminal - repo.Finish error for %s: %v", id, err)
		return models.ReportIgnored
	}
	if result != models.ReportApplied {
		u.logger.Infof("terminal report %s for %s (attempt %d) dropped: job gone", outcome.Status, id, outcome.Attempt)
		return result
	}
	u.publishChange(ctx, event)

	if outcome.Status == models.StatusCompleted && u.archiver != nil && event != nil && event.Job != nil {
		if err = u.archiver.Emit(ctx, event.Job); err != nil {
			u.logger.Warnf("ReportTerminal - history emit for %s deferred to the reaper: %v", id, err)
		}
	}
	return result
}

func (u *downloadsUC) ReportRetry(ctx context.Context, id uuid.UUID, attempt int, reason string) models.ReportResult {
	result, event, err := u.repo.Release(ctx, id, attempt, reason, u.cfg.Queue.RetryBudget)
	if err != nil {
		u.logger.Errorf("ReportRetry - repo.Release error for %s: %v", id, err)
		return models.ReportIgnored
	}
	if result != models.ReportApplied {
		return result
	}
	u.publishChange(ctx, event)

	if event != nil && event.Job != nil && event.Job.Status == models.StatusPending && u.queue != nil {
		if err = u.queue.Enqueue(ctx, event.Job); err != nil {
			u.logger.Warnf("ReportRetry - Enqueue error for %s: %v", id, err)
		}
	}
	return result
}

func (u *downloadsUC) publishChange(ctx context.Context, event *models.ChangeEvent) {
	if event == nil {
		return
	}
	u.publish(ctx, &models.Notification{
		Kind:     models.NotifyChange,
		Owner:    event.Owner,
		JobID:    event.JobID,
		Sequence: event.Sequence,
	})
}

// publish is best effort: observers fall back to their next poll.
func (u *downloadsUC) publish(ctx context.Context, n *models.Notification) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Publish(ctx, n); err != nil {
		u.logger.Warnf("notifier.Publish %s error: %v", n.Kind, err)
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
