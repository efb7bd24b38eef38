package repository

import (
	"context"
	"sync"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
)

// localNotifier fans notifications out inside one process. It backs the
// memory store, where server and workers share an address space.
type localNotifier struct {
	mu   sync.Mutex
	subs map[chan *models.Notification]struct{}
}

func NewLocalNotifier() downloads.Notifier {
	return &localNotifier{subs: make(map[chan *models.Notification]struct{})}
}

func (l *localNotifier) Publish(ctx context.Context, n *models.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs {
		c := *n
		select {
		case ch <- &c:
		default:
		}
	}
	return nil
}

func (l *localNotifier) Subscribe(ctx context.Context) (<-chan *models.Notification, error) {
	ch := make(chan *models.Notification, 64)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, ch)
		close(ch)
		l.mu.Unlock()
	}()
	return ch, nil
}
