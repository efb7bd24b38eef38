package main

import (
	"context"
	"log"
	"os"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/server"
	"github.com/amankumarsingh77/media-downloader/internal/worker"
	"github.com/amankumarsingh77/media-downloader/pkg/db/aws"
	"github.com/amankumarsingh77/media-downloader/pkg/db/postgres"
	"github.com/amankumarsingh77/media-downloader/pkg/db/redis"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	goredis "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/lrstanley/go-ytdlp"
)

func main() {
	log.Println("Starting api server")
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
	appLogger.Infof("AppVersion: %s, LogLevel: %s, Mode: %s, Store: %s", cfg.Server.AppVersion, cfg.Logger.Level, cfg.Server.Mode, cfg.Store.Driver)

	var psqlDB *sqlx.DB
	if cfg.Store.Driver == "postgres" {
		psqlDB, err = postgres.NewPsqlDB(cfg)
		if err != nil {
			appLogger.Fatalf("could not connect to db: %s", err)
		}
		appLogger.Infof("db connected, status: %#v", psqlDB.Stats())
		defer psqlDB.Close()
	}

	var redisClient *goredis.Client
	if cfg.Redis.RedisAddr != "" {
		redisClient, err = redis.NewRedisClient(cfg)
		if err != nil {
			appLogger.Warnf("could not connect to redis, using in-process notifications: %s", err)
			redisClient = nil
		} else {
			appLogger.Infof("redis connected")
			defer redisClient.Close()
		}
	}

	var s3Client *s3.Client
	if cfg.S3.Enabled {
		s3Client, err = aws.NewAWSClient(context.Background(), cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.AccessKey, cfg.S3.SecretKey)
		if err != nil {
			appLogger.Fatalf("could not connect to s3: %s", err)
		}
	}

	components, err := server.NewComponents(cfg, psqlDB, redisClient, s3Client, appLogger)
	if err != nil {
		appLogger.Fatalf("could not build components: %s", err)
	}

	var fetcher worker.Fetcher
	if cfg.Store.Driver == "memory" {
		if cfg.Worker.InstallYtdlp {
			ytdlp.MustInstall(context.Background(), nil)
		}
		fetcher = worker.NewYtdlpFetcher(cfg.Worker.DownloadDir)
	}

	s := server.NewServer(cfg, psqlDB, components, fetcher, appLogger)
	if err = s.Run(); err != nil {
		appLogger.Errorf("server stopped with error: %s", err)
	}
}
