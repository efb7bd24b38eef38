package downloads

import (
	"context"
	"io"
)

// ArtifactStore keeps the media files produced by finished downloads.
type ArtifactStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	RemoveObject(ctx context.Context, key string) error
}

// ArtifactKey is the object key of a finished download.
func ArtifactKey(owner, id string) string {
	return "downloads/" + owner + "/" + id
}
