package feed

import (
	"errors"
	"sort"
	"sync"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/google/uuid"
)

// ErrGap means the view missed events and must resync from a snapshot.
var ErrGap = errors.New("feed: sequence gap, resync required")

// View is one observer's reconciled copy of an owner's downloads.
type View struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*models.Download
	seq    int64
	synced bool
}

func NewView() *View {
	return &View{jobs: make(map[uuid.UUID]*models.Download)}
}

// Cursor is the since value for the next subscribe call; nil asks for a snapshot.
func (v *View) Cursor() *int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.synced {
		return nil
	}
	seq := v.seq
	return &seq
}

func (v *View) Sequence() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seq
}

// Apply folds a batch into the view. A snapshot replaces everything. Events
// already seen are skipped; a jump in sequence drops the view out of sync
// and returns ErrGap.
func (v *View) Apply(batch *models.FeedBatch) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if batch.Kind == models.FeedSnapshot {
		v.jobs = make(map[uuid.UUID]*models.Download, len(batch.Jobs))
		for _, d := range batch.Jobs {
			v.jobs[d.ID] = d.Clone()
		}
		v.seq = batch.Sequence
		v.synced = true
		return nil
	}

	if !v.synced {
		return ErrGap
	}
	for _, ev := range batch.Events {
		if ev.Sequence <= v.seq {
			continue
		}
		if ev.Sequence != v.seq+1 {
			v.synced = false
			return ErrGap
		}
		switch ev.Op {
		case models.OpDelete:
			delete(v.jobs, ev.JobID)
		default:
			if ev.Job != nil {
				v.jobs[ev.JobID] = ev.Job.Clone()
			}
		}
		v.seq = ev.Sequence
	}
	return nil
}

func (v *View) Get(id uuid.UUID) (*models.Download, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.jobs[id]
	return d.Clone(), ok
}

// Jobs returns the view newest first, matching the store's list order.
func (v *View) Jobs() []*models.Download {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*models.Download, 0, len(v.jobs))
	for _, d := range v.jobs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}
