package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/server"
	"github.com/amankumarsingh77/media-downloader/internal/worker"
	"github.com/amankumarsingh77/media-downloader/pkg/db/aws"
	"github.com/amankumarsingh77/media-downloader/pkg/db/postgres"
	clientRedis "github.com/amankumarsingh77/media-downloader/pkg/db/redis"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/lrstanley/go-ytdlp"
)

func main() {
	configFile := os.Getenv("CONFIG_PATH")
	if configFile == "" {
		configFile = "config/config.yml"
	}
	cfgFile, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("loadConfig: %v", err)
	}
	cfg, err := config.ParseConfig(cfgFile)
	if err != nil {
		log.Fatalf("parseConfig: %v", err)
	}
	appLogger := logger.NewApiLogger(cfg)
	appLogger.InitLogger()
	appLogger.Infof("AppVersion: %s, LogLevel: %s, Mode: %s", cfg.Server.AppVersion, cfg.Logger.Level, cfg.Server.Mode)

	if cfg.Store.Driver != "postgres" {
		appLogger.Fatalf("the worker process needs the postgres store; the memory store runs its workers inside the server")
	}
	psqlDB, err := postgres.NewPsqlDB(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to db: %s", err)
	}
	appLogger.Infof("db connected, status: %#v", psqlDB.Stats())
	defer psqlDB.Close()

	var redisClient *redis.Client
	if cfg.Redis.RedisAddr != "" {
		redisClient, err = clientRedis.NewRedisClient(cfg)
		if err != nil {
			appLogger.Warnf("could not connect to redis, cancellation falls back to progress checks: %s", err)
			redisClient = nil
		} else {
			appLogger.Infof("redis connected")
			defer redisClient.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var s3Client *s3.Client
	if cfg.S3.Enabled {
		s3Client, err = aws.NewAWSClient(ctx, cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.AccessKey, cfg.S3.SecretKey)
		if err != nil {
			appLogger.Fatalf("could not connect to s3: %s", err)
		}
	}

	components, err := server.NewComponents(cfg, psqlDB, redisClient, s3Client, appLogger)
	if err != nil {
		appLogger.Fatalf("could not build components: %s", err)
	}
	if cfg.Worker.InstallYtdlp {
		ytdlp.MustInstall(ctx, nil)
	}

	if err = components.Scheduler.Listen(ctx); err != nil {
		appLogger.Warnf("enqueue notifications unavailable, polling only: %s", err)
	}
	w := worker.NewWorker(
		cfg,
		appLogger,
		components.Scheduler,
		components.UseCase,
		worker.NewYtdlpFetcher(cfg.Worker.DownloadDir),
		components.Artifacts,
		components.Notifier,
	)
	w.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down...")
	cancel()
	w.Wait()
}
