package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/lrstanley/go-ytdlp"
)

const ytdlpProgressInterval = 500 * time.Millisecond

// transientMarkers are yt-dlp failure messages worth another attempt.
var transientMarkers = []string{
	"HTTP Error 5",
	"HTTP Error 429",
	"timed out",
	"Connection reset",
	"Temporary failure in name resolution",
	"Read timed out",
	"IncompleteRead",
	"Unable to download webpage",
}

type ytdlpFetcher struct {
	downloadDir string
}

// NewYtdlpFetcher downloads through the yt-dlp binary into one directory per job.
func NewYtdlpFetcher(downloadDir string) Fetcher {
	return &ytdlpFetcher{downloadDir: downloadDir}
}

func (f *ytdlpFetcher) Fetch(ctx context.Context, job *models.Download, progress func(models.ProgressReport)) (*FetchResult, error) {
	dir := jobDir(f.downloadDir, job)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	dl := ytdlp.New().
		NoPlaylist().
		ForceOverwrites().
		RestrictFilenames().
		Output(filepath.Join(dir, "%(title)s.%(ext)s"))
	if job.Format == models.FormatAudio {
		dl = dl.Format("bestaudio/best").ExtractAudio().AudioFormat("mp3")
	} else {
		dl = dl.Format(videoSelector(job.Quality))
	}

	dl.ProgressFunc(ytdlpProgressInterval, func(update ytdlp.ProgressUpdate) {
		progress(progressFromUpdate(&update))
	})

	result, err := dl.Run(ctx, job.SourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyFetchError(err, result)
	}

	out := &FetchResult{}
	if info, err := result.GetExtractedInfo(); err == nil && len(info) > 0 {
		if info[0].Filename != nil {
			out.Path = *info[0].Filename
		}
		if info[0].Title != nil {
			out.Title = *info[0].Title
		}
		if info[0].Thumbnail != nil {
			out.Thumbnail = *info[0].Thumbnail
		}
		out.Duration = info[0].Duration
	}

	// Post-processing (merge, audio extraction) renames the file, so the
	// largest file left in the job directory is the artifact.
	path, size, err := largestFile(dir)
	if err != nil {
		return nil, &models.TerminalWorkerError{Err: err}
	}
	out.Path = path
	out.FileSize = size
	return out, nil
}

// videoSelector maps a quality such as "720p" to a yt-dlp format selector.
func videoSelector(quality string) string {
	height := strings.TrimSuffix(strings.ToLower(quality), "p")
	if quality == "" || quality == models.QualityBest || strings.Trim(height, "0123456789") != "" {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", height, height)
}

func progressFromUpdate(update *ytdlp.ProgressUpdate) models.ProgressReport {
	var r models.ProgressReport
	if update.TotalBytes > 0 {
		r.Progress = int(float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100)
		size := int64(update.TotalBytes)
		r.FileSize = &size
	}
	if !update.Started.IsZero() {
		if elapsed := time.Since(update.Started).Seconds(); elapsed > 0 {
			r.DownloadSpeed = fmt.Sprintf("%.1fMB/s", float64(update.DownloadedBytes)/elapsed/1024/1024)
		}
	}
	if eta := update.ETA(); eta > 0 {
		r.ETA = formatETA(eta)
	}
	if update.Info != nil {
		if update.Info.Title != nil {
			r.Title = *update.Info.Title
		}
		if update.Info.Thumbnail != nil {
			r.Thumbnail = *update.Info.Thumbnail
		}
		r.Duration = update.Info.Duration
	}
	return r
}

func formatETA(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func classifyFetchError(err error, result *ytdlp.Result) error {
	msg := err.Error()
	if result != nil && result.Stderr != "" {
		msg = lastLine(result.Stderr)
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return &models.TransientWorkerError{Err: fmt.Errorf("%s", msg)}
		}
	}
	return &models.TerminalWorkerError{Err: fmt.Errorf("%s", msg)}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func largestFile(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read download directory: %w", err)
	}
	var (
		best string
		size int64 = -1
	)
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > size {
			best, size = filepath.Join(dir, e.Name()), info.Size()
		}
	}
	if best == "" {
		return "", 0, fmt.Errorf("download finished without producing a file")
	}
	return best, size, nil
}
