package worker

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
)

// uploadArtifact copies the fetched file into the artifact store under the
// job's key and returns its location.
func (w *Worker) uploadArtifact(ctx context.Context, job *models.Download, res *FetchResult) (string, error) {
	file, err := os.Open(res.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open downloaded file: %w", err)
	}
	defer file.Close()

	size := res.FileSize
	if size <= 0 {
		info, err := file.Stat()
		if err != nil {
			return "", fmt.Errorf("failed to stat downloaded file: %w", err)
		}
		size = info.Size()
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(res.Path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	location, err := w.artifacts.PutObject(ctx, downloads.ArtifactKey(job.Owner, job.ID.String()), file, size, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}
	return location, nil
}
