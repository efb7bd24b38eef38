package downloads

import (
	"context"

	"github.com/amankumarsingh77/media-downloader/internal/models"
)

// Notifier carries wake-up hints between processes. Losing one only delays
// observers until their next poll; it never loses state.
type Notifier interface {
	Publish(ctx context.Context, n *models.Notification) error
	Subscribe(ctx context.Context) (<-chan *models.Notification, error)
}
