package server

import (
	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/downloads/repository"
	downloadsUsecase "github.com/amankumarsingh77/media-downloader/internal/downloads/usecase"
	"github.com/amankumarsingh77/media-downloader/internal/feed"
	"github.com/amankumarsingh77/media-downloader/internal/history"
	"github.com/amankumarsingh77/media-downloader/internal/scheduler"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Components is the job lifecycle as one process sees it. The API server and
// the worker process build it the same way.
type Components struct {
	Repo      downloads.Repository
	Notifier  downloads.Notifier
	Artifacts downloads.ArtifactStore
	Archiver  downloads.Archiver
	Scheduler *scheduler.Scheduler
	Broker    *feed.Broker
	UseCase   downloads.UseCase
}

// NewComponents picks the store by cfg.Store.Driver. The postgres driver
// needs db; redisClient and s3Client may be nil, which falls back to an
// in-process notifier and no artifact upload.
func NewComponents(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, s3Client *s3.Client, log logger.Logger) (*Components, error) {
	c := &Components{}

	var sink history.Sink
	switch cfg.Store.Driver {
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres store selected without a database connection")
		}
		c.Repo = repository.NewDownloadRepo(db)
		sink = history.NewPgSink(db)
	case "memory":
		c.Repo = repository.NewMemoryRepo()
		sink = history.NewMemorySink()
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if redisClient != nil {
		c.Notifier = repository.NewRedisNotifier(redisClient, cfg.Redis.NotifyChannel)
	} else {
		c.Notifier = repository.NewLocalNotifier()
	}
	if s3Client != nil && cfg.S3.Enabled {
		c.Artifacts = repository.NewAwsRepository(s3Client, cfg.S3.OutputBucket)
	}

	c.Archiver = history.NewArchiver(sink, c.Repo, log)
	c.Scheduler = scheduler.NewScheduler(cfg, c.Repo, c.Notifier, c.Archiver, log)
	c.Broker = feed.NewBroker(log)
	c.UseCase = downloadsUsecase.NewDownloadsUseCase(cfg, c.Repo, c.Notifier, c.Artifacts, c.Scheduler, c.Broker, c.Archiver, log)
	return c, nil
}
