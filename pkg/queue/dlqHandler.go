package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ErrMessageNotFound is returned by Requeue for an id that is not in the DLQ
var ErrMessageNotFound = errors.New("message not found in DLQ")

// DLQHandler handles messages that exhausted their retries
type DLQHandler interface {
	HandleFailed(ctx context.Context, msg *Message, err error)
	GetFailed(ctx context.Context, limit int) ([]*FailedMessage, error)
	Requeue(ctx context.Context, id string) error
}

// FailedMessage represents a message that failed processing
type FailedMessage struct {
	Message  *Message  `json:"message"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Attempts int       `json:"attempts"`
}

// RedisDLQHandler keeps failed messages in a sorted set scored by failure time
type RedisDLQHandler struct {
	client    *redis.Client
	dlq       string
	mainQueue string
}

func NewRedisDLQHandler(client *redis.Client, dlq, mainQueue string) *RedisDLQHandler {
	return &RedisDLQHandler{
		client:    client,
		dlq:       dlq,
		mainQueue: mainQueue,
	}
}

// HandleFailed stores a failed message in the DLQ
func (d *RedisDLQHandler) HandleFailed(ctx context.Context, msg *Message, err error) {
	failed := &FailedMessage{
		Message:  msg,
		Error:    err.Error(),
		FailedAt: time.Now(),
		Attempts: msg.Attempts,
	}

	data, marshalErr := json.Marshal(failed)
	if marshalErr != nil {
		logrus.Errorf("Failed to marshal failed message: %v", marshalErr)
		return
	}

	score := float64(failed.FailedAt.UnixNano()) / 1e9
	if redisErr := d.client.ZAdd(ctx, d.dlq, &redis.Z{Score: score, Member: data}).Err(); redisErr != nil {
		logrus.Errorf("Failed to send message %s to DLQ: %v", msg.ID, redisErr)
		return
	}

	logrus.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"type":       msg.Type,
		"attempts":   msg.Attempts,
	}).Warnf("Message moved to DLQ: %v", err)
}

// GetFailed returns failed messages, newest first
func (d *RedisDLQHandler) GetFailed(ctx context.Context, limit int) ([]*FailedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	items, err := d.client.ZRevRangeByScore(ctx, d.dlq, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed messages: %w", err)
	}

	failed := make([]*FailedMessage, 0, len(items))
	for _, item := range items {
		var fm FailedMessage
		if err := json.Unmarshal([]byte(item), &fm); err != nil {
			logrus.Warnf("Skipping unreadable DLQ entry: %v", err)
			continue
		}
		failed = append(failed, &fm)
	}
	return failed, nil
}

// Requeue moves a failed message back to the main queue with a fresh attempt count
func (d *RedisDLQHandler) Requeue(ctx context.Context, id string) error {
	items, err := d.client.ZRange(ctx, d.dlq, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get DLQ messages: %w", err)
	}

	for _, item := range items {
		var fm FailedMessage
		if err := json.Unmarshal([]byte(item), &fm); err != nil || fm.Message == nil {
			continue
		}
		if fm.Message.ID != id {
			continue
		}

		fm.Message.Attempts = 0
		data, err := json.Marshal(fm.Message)
		if err != nil {
			return fmt.Errorf("failed to marshal message for requeue: %w", err)
		}

		pipe := d.client.TxPipeline()
		pipe.LPush(ctx, d.mainQueue, data)
		pipe.ZRem(ctx, d.dlq, item)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to requeue message: %w", err)
		}

		logrus.Infof("Message %s requeued from DLQ", id)
		return nil
	}

	return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
}
