package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/go-redis/redis/v8"
)

func NewRedisClient(config *config.Config) (*redis.Client, error) {
	redisHost := config.Redis.RedisAddr

	if redisHost == "" {
		redisHost = ":6379"
	}

	opts := &redis.Options{
		Addr:         redisHost,
		Password:     config.Redis.RedisPassword,
		DB:           config.Redis.DB,
		MinIdleConns: config.Redis.MinIdleConns,
		PoolSize:     config.Redis.PoolSize,
		PoolTimeout:  time.Duration(config.Redis.PoolTimeout) * time.Second,
	}
	if config.Redis.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
