package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/google/uuid"
)

type ownerFeed struct {
	lastSeq   int64
	prunedSeq int64
	events    []*models.ChangeEvent
}

// memoryRepo keeps the Job Store in process. One mutex guards jobs and feeds
// together, which gives the same atomicity the Postgres store gets from
// transactions.
type memoryRepo struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*models.Download
	tombstones map[uuid.UUID]string
	feeds      map[string]*ownerFeed
	now        func() time.Time
}

func NewMemoryRepo() downloads.Repository {
	return newMemoryRepo(time.Now)
}

func newMemoryRepo(now func() time.Time) *memoryRepo {
	return &memoryRepo{
		jobs:       make(map[uuid.UUID]*models.Download),
		tombstones: make(map[uuid.UUID]string),
		feeds:      make(map[string]*ownerFeed),
		now:        now,
	}
}

func (m *memoryRepo) feed(owner string) *ownerFeed {
	f, ok := m.feeds[owner]
	if !ok {
		f = &ownerFeed{}
		m.feeds[owner] = f
	}
	return f
}

// appendLocked must be called with m.mu held.
func (m *memoryRepo) appendLocked(owner string, id uuid.UUID, op models.ChangeOp, job *models.Download) *models.ChangeEvent {
	f := m.feed(owner)
	f.lastSeq++
	ev := &models.ChangeEvent{
		Owner:     owner,
		JobID:     id,
		Sequence:  f.lastSeq,
		Op:        op,
		Job:       job.Clone(),
		CreatedAt: m.now(),
	}
	f.events = append(f.events, ev)
	return cloneEvent(ev)
}

func cloneEvent(ev *models.ChangeEvent) *models.ChangeEvent {
	c := *ev
	c.Job = ev.Job.Clone()
	return &c
}

func (m *memoryRepo) activeLocked(owner string) int {
	n := 0
	for _, d := range m.jobs {
		if d.Owner == owner && d.Status == models.StatusDownloading {
			n++
		}
	}
	return n
}

func (m *memoryRepo) Create(ctx context.Context, download *models.Download) (*models.Download, *models.ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	d := download.Clone()
	d.Status = models.StatusPending
	d.CreatedAt = now
	d.UpdatedAt = now
	m.jobs[d.ID] = d
	return d.Clone(), m.appendLocked(d.Owner, d.ID, models.OpUpsert, d), nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *memoryRepo) ListByOwner(ctx context.Context, owner string) ([]*models.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(owner), nil
}

// listLocked returns the owner's jobs newest first.
func (m *memoryRepo) listLocked(owner string) []*models.Download {
	list := make([]*models.Download, 0)
	for _, d := range m.jobs {
		if d.Owner == owner {
			list = append(list, d.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID.String() > list[j].ID.String()
	})
	return list
}

func (m *memoryRepo) Delete(ctx context.Context, owner string, id uuid.UUID) (*models.ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.jobs[id]
	if !ok || d.Owner != owner {
		if m.tombstones[id] == owner && owner != "" {
			return nil, nil
		}
		return nil, models.ErrNotFound
	}
	delete(m.jobs, id)
	m.tombstones[id] = owner
	return m.appendLocked(owner, id, models.OpDelete, nil), nil
}

func (m *memoryRepo) ClaimNext(ctx context.Context, req models.ClaimRequest) (*models.Download, *models.ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]*models.Download, 0)
	for _, d := range m.jobs {
		if d.Status == models.StatusPending {
			pending = append(pending, d)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID.String() < pending[j].ID.String()
	})

	now := m.now()
	for _, d := range pending {
		if m.activeLocked(d.Owner) >= req.PerOwnerLimit {
			continue
		}
		if req.Precheck != nil {
			if reason := req.Precheck(d.Clone()); reason != nil {
				if err := d.Reject(reason.Error(), now); err != nil {
					return nil, nil, err
				}
				return nil, m.appendLocked(d.Owner, d.ID, models.OpUpsert, d), nil
			}
		}
		if err := d.Claim(req.WorkerID, req.Lease, now); err != nil {
			return nil, nil, err
		}
		return d.Clone(), m.appendLocked(d.Owner, d.ID, models.OpUpsert, d), nil
	}
	return nil, nil, nil
}

func (m *memoryRepo) mutate(id uuid.UUID, fn func(d *models.Download, now time.Time) models.ReportResult) (models.ReportResult, *models.ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[id]
	if !ok {
		return models.ReportGone, nil
	}
	now := m.now()
	next := current.Clone()
	result := fn(next, now)
	if result != models.ReportApplied {
		return result, nil
	}
	// An invisible change keeps updated_at, so snapshots match the feed.
	if models.SameView(current, next) {
		next.UpdatedAt = current.UpdatedAt
		m.jobs[id] = next
		return result, nil
	}
	next.UpdatedAt = now
	m.jobs[id] = next
	return result, m.appendLocked(next.Owner, next.ID, models.OpUpsert, next)
}

func (m *memoryRepo) ApplyProgress(ctx context.Context, id uuid.UUID, report models.ProgressReport, lease time.Duration) (models.ReportResult, *models.ChangeEvent, error) {
	result, event := m.mutate(id, func(d *models.Download, now time.Time) models.ReportResult {
		res := d.ApplyProgress(report)
		if res == models.ReportApplied {
			expires := now.Add(lease)
			d.LeaseExpiresAt = &expires
		}
		return res
	})
	return result, event, nil
}

func (m *memoryRepo) Finish(ctx context.Context, id uuid.UUID, outcome models.Outcome) (models.ReportResult, *models.ChangeEvent, error) {
	result, event := m.mutate(id, func(d *models.Download, now time.Time) models.ReportResult {
		return d.Finish(outcome, now)
	})
	return result, event, nil
}

func (m *memoryRepo) Release(ctx context.Context, id uuid.UUID, attempt int, reason string, retryBudget int) (models.ReportResult, *models.ChangeEvent, error) {
	result, event := m.mutate(id, func(d *models.Download, now time.Time) models.ReportResult {
		return d.Requeue(attempt, reason, retryBudget, now)
	})
	return result, event, nil
}

func (m *memoryRepo) ReapExpired(ctx context.Context, retryBudget int) ([]*models.ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	events := make([]*models.ChangeEvent, 0)
	for _, d := range m.jobs {
		if !d.LeaseExpired(now) {
			continue
		}
		if d.Requeue(d.Attempt, "lease expired", retryBudget, now) != models.ReportApplied {
			continue
		}
		events = append(events, m.appendLocked(d.Owner, d.ID, models.OpUpsert, d))
	}
	return events, nil
}

func (m *memoryRepo) ReadFeed(ctx context.Context, owner string, since *int64) (*models.FeedBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest, pruned int64
	f, ok := m.feeds[owner]
	if ok {
		latest, pruned = f.lastSeq, f.prunedSeq
	}
	if models.SnapshotNeeded(since, latest, pruned) {
		return &models.FeedBatch{
			Kind:     models.FeedSnapshot,
			Sequence: latest,
			Jobs:     m.listLocked(owner),
		}, nil
	}

	batch := &models.FeedBatch{
		Kind:     models.FeedEvents,
		Sequence: *since,
		Events:   make([]*models.ChangeEvent, 0),
	}
	if !ok {
		return batch, nil
	}
	for _, ev := range f.events {
		if ev.Sequence <= *since {
			continue
		}
		if len(batch.Events) == feedBatchLimit {
			break
		}
		batch.Events = append(batch.Events, cloneEvent(ev))
		batch.Sequence = ev.Sequence
	}
	return batch, nil
}

func (m *memoryRepo) PruneFeed(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned int64
	for _, f := range m.feeds {
		keep := f.events[:0]
		for _, ev := range f.events {
			if ev.CreatedAt.Before(olderThan) {
				pruned++
				if ev.Sequence > f.prunedSeq {
					f.prunedSeq = ev.Sequence
				}
				continue
			}
			keep = append(keep, ev)
		}
		f.events = keep
	}
	return pruned, nil
}

func (m *memoryRepo) ListUnarchived(ctx context.Context, limit int) ([]*models.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]*models.Download, 0)
	for _, d := range m.jobs {
		if d.Status == models.StatusCompleted && !d.Archived {
			list = append(list, d.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CompletedAt.Before(*list[j].CompletedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *memoryRepo) MarkArchived(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.jobs[id]; ok {
		d.Archived = true
	}
	return nil
}
