package history

import (
	"context"
	"sync"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/google/uuid"
)

// MemorySink keeps history in process for the memory store backend.
type MemorySink struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.HistoryEntry
	order   []uuid.UUID
}

func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make(map[uuid.UUID]*models.HistoryEntry)}
}

func (m *MemorySink) Record(ctx context.Context, entry *models.HistoryEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.JobID]; ok {
		return false, nil
	}
	e := *entry
	m.entries[entry.JobID] = &e
	m.order = append(m.order, entry.JobID)
	return true, nil
}

// Entries returns the recorded history, oldest first.
func (m *MemorySink) Entries() []*models.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.HistoryEntry, 0, len(m.order))
	for _, id := range m.order {
		e := *m.entries[id]
		out = append(out, &e)
	}
	return out
}
