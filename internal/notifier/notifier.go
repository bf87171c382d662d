// Package notifier delivers sale events to the outside world. Every driver
// is fire-and-forget from the caller's point of view.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ds124wfegd/rafflr/config"
	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/pkg/queue"
	"github.com/ds124wfegd/rafflr/pkg/telegram"

	"github.com/go-redis/redis/v8"
)

type Emitter interface {
	Emit(ctx context.Context, event *entity.Event) error
	Close() error
}

// Encode is the JSON envelope shared by every transport
func Encode(event *entity.Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	return body, nil
}

// New builds the emitter selected by cfg.Driver. redisClient is only used
// by the redis driver and may be nil otherwise.
func New(cfg *config.NotifierConfig, redisClient *redis.Client) (Emitter, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogEmitter(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis notifier requires a redis client")
		}
		return NewQueueEmitter(queue.NewRedisQueue(redisClient, queue.DefaultRedisQueueConfig(cfg.RedisList))), nil
	case "rabbitmq":
		return NewRabbitMQEmitter(RabbitMQConfig{URL: cfg.RabbitMQURL, QueueName: cfg.RabbitMQQueue})
	case "kafka":
		return NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "telegram":
		if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
			return nil, fmt.Errorf("telegram notifier requires bot token and chat id")
		}
		return NewTelegramEmitter(telegram.NewBot(cfg.TelegramBotToken), cfg.TelegramChatID), nil
	}
	return nil, fmt.Errorf("unknown notifier driver %q", cfg.Driver)
}
