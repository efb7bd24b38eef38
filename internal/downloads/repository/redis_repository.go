package repository

import (
	"context"
	"encoding/json"

	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

type redisNotifier struct {
	redisClient *redis.Client
	channel     string
}

func NewRedisNotifier(redisClient *redis.Client, channel string) downloads.Notifier {
	return &redisNotifier{
		redisClient: redisClient,
		channel:     channel,
	}
}

func (r *redisNotifier) Publish(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "redisNotifier.Publish.Marshal")
	}
	if err = r.redisClient.Publish(ctx, r.channel, data).Err(); err != nil {
		return errors.Wrap(err, "redisNotifier.Publish")
	}
	return nil
}

// Subscribe relays notifications until ctx ends. Malformed payloads are dropped.
func (r *redisNotifier) Subscribe(ctx context.Context) (<-chan *models.Notification, error) {
	pubsub := r.redisClient.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrap(err, "redisNotifier.Subscribe")
	}

	out := make(chan *models.Notification, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n := &models.Notification{}
				if err := json.Unmarshal([]byte(msg.Payload), n); err != nil {
					continue
				}
				select {
				case out <- n:
				default:
				}
			}
		}
	}()
	return out, nil
}
