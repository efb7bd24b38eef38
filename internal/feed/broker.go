package feed

import (
	"context"
	"sync"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
)

// Broker wakes feed readers waiting on an owner when that owner's feed moves.
// It only carries hints: readers always re-read the store.
type Broker struct {
	mu      sync.Mutex
	latest  map[string]int64
	waiters map[string]map[chan struct{}]struct{}
	logger  logger.Logger
}

func NewBroker(log logger.Logger) *Broker {
	return &Broker{
		latest:  make(map[string]int64),
		waiters: make(map[string]map[chan struct{}]struct{}),
		logger:  log,
	}
}

// Run feeds change notifications into the broker until ctx ends.
func (b *Broker) Run(ctx context.Context, notifier downloads.Notifier) error {
	ch, err := notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for n := range ch {
			if n.Kind == models.NotifyChange && n.Owner != "" {
				b.Notify(n.Owner, n.Sequence)
			}
		}
		b.logger.Info("feed broker stopped")
	}()
	return nil
}

// Notify records that owner's feed reached seq and wakes its waiters.
func (b *Broker) Notify(owner string, seq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq > b.latest[owner] {
		b.latest[owner] = seq
	}
	for ch := range b.waiters[owner] {
		close(ch)
	}
	delete(b.waiters, owner)
}

// Wait blocks until owner's feed is known to be past since, a change for
// owner arrives, or ctx ends. It reports false only when ctx ended.
func (b *Broker) Wait(ctx context.Context, owner string, since int64) bool {
	b.mu.Lock()
	if b.latest[owner] > since {
		b.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	if b.waiters[owner] == nil {
		b.waiters[owner] = make(map[chan struct{}]struct{})
	}
	b.waiters[owner][ch] = struct{}{}
	b.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		b.mu.Lock()
		if set, ok := b.waiters[owner]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.waiters, owner)
			}
		}
		b.mu.Unlock()
		return false
	}
}
