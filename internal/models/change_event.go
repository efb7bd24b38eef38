package models

import (
	"time"

	"github.com/google/uuid"
)

type ChangeOp string

const (
	OpUpsert ChangeOp = "upsert"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is one entry of an owner's change feed.
type ChangeEvent struct {
	Owner     string    `json:"owner"`
	JobID     uuid.UUID `json:"job_id"`
	Sequence  int64     `json:"sequence"`
	Op        ChangeOp  `json:"op"`
	Job       *Download `json:"job,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type FeedKind string

const (
	FeedSnapshot FeedKind = "snapshot"
	FeedEvents   FeedKind = "events"
)

// FeedBatch answers a subscribe call: either a full snapshot or the events after since.
type FeedBatch struct {
	Kind     FeedKind       `json:"kind"`
	Sequence int64          `json:"sequence"`
	Jobs     []*Download    `json:"jobs,omitempty"`
	Events   []*ChangeEvent `json:"events,omitempty"`
}

// Empty reports whether an events batch carries nothing new.
func (b *FeedBatch) Empty() bool {
	return b.Kind == FeedEvents && len(b.Events) == 0
}

// SnapshotNeeded decides whether a subscriber at since must resync from a snapshot.
// prunedThrough is the highest sequence already removed by retention.
func SnapshotNeeded(since *int64, latest, prunedThrough int64) bool {
	if since == nil {
		return true
	}
	s := *since
	return s < 0 || s > latest || s < prunedThrough
}

// NotificationKind distinguishes the wake-up hints carried by the notifier.
type NotificationKind string

const (
	NotifyChange   NotificationKind = "change"
	NotifyEnqueued NotificationKind = "enqueued"
	NotifyCancel   NotificationKind = "cancel"
)

// Notification is a best effort hint; the feed table stays the source of truth.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Owner    string           `json:"owner,omitempty"`
	JobID    uuid.UUID        `json:"job_id,omitempty"`
	Sequence int64            `json:"sequence,omitempty"`
}
