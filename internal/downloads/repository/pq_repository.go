package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	feedBatchLimit = 500
	reapBatchLimit = 100
)

type downloadRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewDownloadRepo(db *sqlx.DB) downloads.Repository {
	return &downloadRepo{
		db:  db,
		now: time.Now,
	}
}

type eventRow struct {
	Owner     string    `db:"owner"`
	Seq       int64     `db:"seq"`
	JobID     uuid.UUID `db:"job_id"`
	Op        string    `db:"op"`
	Snapshot  []byte    `db:"snapshot"`
	CreatedAt time.Time `db:"created_at"`
}

func (e *eventRow) toModel() (*models.ChangeEvent, error) {
	ev := &models.ChangeEvent{
		Owner:     e.Owner,
		JobID:     e.JobID,
		Sequence:  e.Seq,
		Op:        models.ChangeOp(e.Op),
		CreatedAt: e.CreatedAt,
	}
	if len(e.Snapshot) > 0 {
		job := &models.Download{}
		if err := json.Unmarshal(e.Snapshot, job); err != nil {
			return nil, errors.Wrapf(err, "decode snapshot of event %s/%d", e.Owner, e.Seq)
		}
		ev.Job = job
	}
	return ev, nil
}

func (r *downloadRepo) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

// appendEvent allocates the owner's next sequence number and stores the event
// inside tx, so the event commits or rolls back together with the mutation.
func appendEvent(ctx context.Context, tx *sqlx.Tx, owner string, jobID uuid.UUID, op models.ChangeOp, job *models.Download) (*models.ChangeEvent, error) {
	var seq int64
	if err := tx.GetContext(ctx, &seq, nextSequenceQuery, owner); err != nil {
		return nil, errors.Wrap(err, "allocate sequence")
	}
	var snapshot *string
	if job != nil {
		data, err := json.Marshal(job)
		if err != nil {
			return nil, errors.Wrap(err, "encode snapshot")
		}
		s := string(data)
		snapshot = &s
	}
	var createdAt time.Time
	if err := tx.GetContext(ctx, &createdAt, insertEventQuery, owner, seq, jobID, string(op), snapshot); err != nil {
		return nil, errors.Wrap(err, "insert event")
	}
	return &models.ChangeEvent{
		Owner:     owner,
		JobID:     jobID,
		Sequence:  seq,
		Op:        op,
		Job:       job.Clone(),
		CreatedAt: createdAt,
	}, nil
}

func saveDownload(ctx context.Context, tx *sqlx.Tx, d *models.Download) (*models.Download, error) {
	query, args, err := sqlx.Named(saveDownloadQuery, d)
	if err != nil {
		return nil, errors.Wrap(err, "bind save query")
	}
	saved := &models.Download{}
	if err = tx.QueryRowxContext(ctx, tx.Rebind(query), args...).StructScan(saved); err != nil {
		return nil, errors.Wrap(err, "save download")
	}
	return saved, nil
}

func lockDownload(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Download, error) {
	d := &models.Download{}
	if err := tx.GetContext(ctx, d, lockDownloadByIDQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lock download")
	}
	return d, nil
}

func (r *downloadRepo) Create(ctx context.Context, download *models.Download) (*models.Download, *models.ChangeEvent, error) {
	var (
		created *models.Download
		event   *models.ChangeEvent
	)
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		created = &models.Download{}
		if err := tx.QueryRowxContext(
			ctx,
			createDownloadQuery,
			download.ID,
			download.Owner,
			download.SourceURL,
			download.Format,
			download.Quality,
			models.StatusPending,
		).StructScan(created); err != nil {
			return errors.Wrap(err, "insert download")
		}
		var err error
		event, err = appendEvent(ctx, tx, created.Owner, created.ID, models.OpUpsert, created)
		return err
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "downloadRepo.Create")
	}
	return created, event, nil
}

func (r *downloadRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Download, error) {
	d := &models.Download{}
	if err := r.db.GetContext(ctx, d, getDownloadByIDQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "downloadRepo.GetByID")
	}
	return d, nil
}

func (r *downloadRepo) ListByOwner(ctx context.Context, owner string) ([]*models.Download, error) {
	list := make([]*models.Download, 0)
	if err := r.db.SelectContext(ctx, &list, getDownloadsByOwnerQuery, owner); err != nil {
		return nil, errors.Wrap(err, "downloadRepo.ListByOwner")
	}
	return list, nil
}

func (r *downloadRepo) Delete(ctx context.Context, owner string, id uuid.UUID) (*models.ChangeEvent, error) {
	var event *models.ChangeEvent
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		var deleted uuid.UUID
		err := tx.GetContext(ctx, &deleted, deleteDownloadQuery, id, owner)
		if errors.Is(err, sql.ErrNoRows) {
			var tombstoned bool
			if err = tx.GetContext(ctx, &tombstoned, tombstoneExistsQuery, id, owner); err != nil {
				return errors.Wrap(err, "check tombstone")
			}
			if !tombstoned {
				return models.ErrNotFound
			}
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "delete download")
		}
		if _, err = tx.ExecContext(ctx, insertTombstoneQuery, id, owner); err != nil {
			return errors.Wrap(err, "insert tombstone")
		}
		event, err = appendEvent(ctx, tx, owner, id, models.OpDelete, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "downloadRepo.Delete")
	}
	return event, nil
}

// ClaimNext returns (nil, nil, nil) when nothing is claimable and
// (nil, event, nil) when Precheck rejected the candidate.
func (r *downloadRepo) ClaimNext(ctx context.Context, req models.ClaimRequest) (*models.Download, *models.ChangeEvent, error) {
	var (
		claimed *models.Download
		event   *models.ChangeEvent
	)
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		candidate := &models.Download{}
		if err := tx.GetContext(ctx, candidate, selectClaimCandidateQuery, req.PerOwnerLimit); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return errors.Wrap(err, "select candidate")
		}

		var lastSeq int64
		if err := tx.GetContext(ctx, &lastSeq, lockFeedCursorQuery, candidate.Owner); err != nil {
			return errors.Wrap(err, "lock owner cursor")
		}
		var active int
		if err := tx.GetContext(ctx, &active, countActiveByOwnerQuery, candidate.Owner); err != nil {
			return errors.Wrap(err, "count active")
		}
		if active >= req.PerOwnerLimit {
			return models.ErrConflict
		}

		now := r.now()
		if req.Precheck != nil {
			if reason := req.Precheck(candidate); reason != nil {
				if err := candidate.Reject(reason.Error(), now); err != nil {
					return errors.Wrap(err, "reject candidate")
				}
				saved, err := saveDownload(ctx, tx, candidate)
				if err != nil {
					return err
				}
				event, err = appendEvent(ctx, tx, saved.Owner, saved.ID, models.OpUpsert, saved)
				return err
			}
		}

		claimed = &models.Download{}
		expires := now.Add(req.Lease)
		if err := tx.QueryRowxContext(ctx, claimDownloadQuery, candidate.ID, req.WorkerID, now, expires).StructScan(claimed); err != nil {
			claimed = nil
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrConflict
			}
			return errors.Wrap(err, "claim download")
		}
		var err error
		event, err = appendEvent(ctx, tx, claimed.Owner, claimed.ID, models.OpUpsert, claimed)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, nil, models.ErrConflict
		}
		return nil, nil, errors.Wrap(err, "downloadRepo.ClaimNext")
	}
	return claimed, event, nil
}

// mutate locks the download, lets fn change it and persists the result.
// A change the client cannot see is saved without an event.
func (r *downloadRepo) mutate(ctx context.Context, id uuid.UUID, fn func(d *models.Download, now time.Time) models.ReportResult) (models.ReportResult, *models.ChangeEvent, error) {
	result := models.ReportGone
	var event *models.ChangeEvent
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		current, err := lockDownload(ctx, tx, id)
		if err != nil || current == nil {
			return err
		}
		now := r.now()
		next := current.Clone()
		result = fn(next, now)
		if result != models.ReportApplied {
			return nil
		}
		if models.SameView(current, next) {
			_, err = tx.ExecContext(ctx, touchLeaseQuery, next.ID, next.LeaseExpiresAt)
			return errors.Wrap(err, "touch lease")
		}
		next.UpdatedAt = now
		saved, err := saveDownload(ctx, tx, next)
		if err != nil {
			return err
		}
		event, err = appendEvent(ctx, tx, saved.Owner, saved.ID, models.OpUpsert, saved)
		return err
	})
	if err != nil {
		return models.ReportGone, nil, err
	}
	return result, event, nil
}

func (r *downloadRepo) ApplyProgress(ctx context.Context, id uuid.UUID, report models.ProgressReport, lease time.Duration) (models.ReportResult, *models.ChangeEvent, error) {
	result, event, err := r.mutate(ctx, id, func(d *models.Download, now time.Time) models.ReportResult {
		res := d.ApplyProgress(report)
		if res == models.ReportApplied {
			expires := now.Add(lease)
			d.LeaseExpiresAt = &expires
		}
		return res
	})
	if err != nil {
		return result, nil, errors.Wrap(err, "downloadRepo.ApplyProgress")
	}
	return result, event, nil
}

func (r *downloadRepo) Finish(ctx context.Context, id uuid.UUID, outcome models.Outcome) (models.ReportResult, *models.ChangeEvent, error) {
	result, event, err := r.mutate(ctx, id, func(d *models.Download, now time.Time) models.ReportResult {
		return d.Finish(outcome, now)
	})
	if err != nil {
		return result, nil, errors.Wrap(err, "downloadRepo.Finish")
	}
	return result, event, nil
}

func (r *downloadRepo) Release(ctx context.Context, id uuid.UUID, attempt int, reason string, retryBudget int) (models.ReportResult, *models.ChangeEvent, error) {
	result, event, err := r.mutate(ctx, id, func(d *models.Download, now time.Time) models.ReportResult {
		return d.Requeue(attempt, reason, retryBudget, now)
	})
	if err != nil {
		return result, nil, errors.Wrap(err, "downloadRepo.Release")
	}
	return result, event, nil
}

// ReapExpired recovers each expired claim in its own transaction, so one
// stuck row never blocks the rest of the sweep.
func (r *downloadRepo) ReapExpired(ctx context.Context, retryBudget int) ([]*models.ChangeEvent, error) {
	now := r.now()
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, listExpiredLeasesQuery, now, reapBatchLimit); err != nil {
		return nil, errors.Wrap(err, "downloadRepo.ReapExpired.list")
	}
	events := make([]*models.ChangeEvent, 0, len(ids))
	for _, id := range ids {
		var event *models.ChangeEvent
		err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
			d := &models.Download{}
			if err := tx.GetContext(ctx, d, lockExpiredDownloadQuery, id, now); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return errors.Wrap(err, "lock expired download")
			}
			if d.Requeue(d.Attempt, "lease expired", retryBudget, now) != models.ReportApplied {
				return nil
			}
			saved, err := saveDownload(ctx, tx, d)
			if err != nil {
				return err
			}
			event, err = appendEvent(ctx, tx, saved.Owner, saved.ID, models.OpUpsert, saved)
			return err
		})
		if err != nil {
			return events, errors.Wrapf(err, "downloadRepo.ReapExpired(%s)", id)
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events, nil
}

// ReadFeed runs in one repeatable read transaction so the snapshot and the
// sequence it is tagged with come from the same point in time.
func (r *downloadRepo) ReadFeed(ctx context.Context, owner string, since *int64) (*models.FeedBatch, error) {
	batch := &models.FeedBatch{}
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := r.withTx(ctx, opts, func(tx *sqlx.Tx) error {
		var cursor struct {
			LastSeq   int64 `db:"last_seq"`
			PrunedSeq int64 `db:"pruned_seq"`
		}
		if err := tx.GetContext(ctx, &cursor, getFeedCursorQuery, owner); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(err, "read cursor")
		}

		if models.SnapshotNeeded(since, cursor.LastSeq, cursor.PrunedSeq) {
			jobs := make([]*models.Download, 0)
			if err := tx.SelectContext(ctx, &jobs, getDownloadsByOwnerQuery, owner); err != nil {
				return errors.Wrap(err, "read snapshot")
			}
			batch.Kind = models.FeedSnapshot
			batch.Sequence = cursor.LastSeq
			batch.Jobs = jobs
			return nil
		}

		var rows []eventRow
		if err := tx.SelectContext(ctx, &rows, getEventsSinceQuery, owner, *since, feedBatchLimit); err != nil {
			return errors.Wrap(err, "read events")
		}
		batch.Kind = models.FeedEvents
		batch.Sequence = *since
		batch.Events = make([]*models.ChangeEvent, 0, len(rows))
		for i := range rows {
			ev, err := rows[i].toModel()
			if err != nil {
				return err
			}
			batch.Events = append(batch.Events, ev)
			batch.Sequence = ev.Sequence
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "downloadRepo.ReadFeed")
	}
	return batch, nil
}

func (r *downloadRepo) PruneFeed(ctx context.Context, olderThan time.Time) (int64, error) {
	var pruned int64
	if err := r.db.GetContext(ctx, &pruned, pruneEventsQuery, olderThan); err != nil {
		return 0, errors.Wrap(err, "downloadRepo.PruneFeed")
	}
	return pruned, nil
}

func (r *downloadRepo) ListUnarchived(ctx context.Context, limit int) ([]*models.Download, error) {
	list := make([]*models.Download, 0)
	if err := r.db.SelectContext(ctx, &list, listUnarchivedQuery, limit); err != nil {
		return nil, errors.Wrap(err, "downloadRepo.ListUnarchived")
	}
	return list, nil
}

func (r *downloadRepo) MarkArchived(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, markArchivedQuery, id); err != nil {
		return errors.Wrap(err, "downloadRepo.MarkArchived")
	}
	return nil
}
