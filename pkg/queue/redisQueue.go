package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries   = 3
	defaultBaseDelay    = time.Second
	defaultQueueTimeout = 5 * time.Second
)

// RedisQueue implements Queue on Redis lists. A consumed message sits in
// the processing list until its handler finishes.
type RedisQueue struct {
	client          *redis.Client
	mainQueue       string
	processingQueue string
	metricsPrefix   string
	retryManager    *RetryManager
	dlqHandler      DLQHandler
	config          *RedisQueueConfig
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// RedisQueueConfig contains configuration for RedisQueue
type RedisQueueConfig struct {
	MainQueue       string
	ProcessingQueue string
	DLQ             string

	MaxRetries    int
	BaseDelay     time.Duration
	QueueTimeout  time.Duration
	EnableDLQ     bool
	EnableMetrics bool
}

// DefaultRedisQueueConfig returns default configuration for a list name
func DefaultRedisQueueConfig(name string) *RedisQueueConfig {
	return &RedisQueueConfig{
		MainQueue:       name,
		ProcessingQueue: name + ":processing",
		DLQ:             name + ":dlq",
		MaxRetries:      defaultMaxRetries,
		BaseDelay:       defaultBaseDelay,
		QueueTimeout:    defaultQueueTimeout,
		EnableDLQ:       true,
		EnableMetrics:   true,
	}
}

// NewRedisQueue wraps an existing client. The caller owns the client.
func NewRedisQueue(client *redis.Client, cfg *RedisQueueConfig) *RedisQueue {
	if cfg == nil {
		cfg = DefaultRedisQueueConfig("rafflr:events")
	}

	q := &RedisQueue{
		client:          client,
		mainQueue:       cfg.MainQueue,
		processingQueue: cfg.ProcessingQueue,
		metricsPrefix:   cfg.MainQueue + ":metrics:",
		retryManager:    NewRetryManager(cfg.MaxRetries, cfg.BaseDelay),
		config:          cfg,
		stopChan:        make(chan struct{}),
	}
	if cfg.EnableDLQ {
		q.dlqHandler = NewRedisDLQHandler(client, cfg.DLQ, cfg.MainQueue)
	}

	logrus.Infof("RedisQueue initialized: main=%s, processing=%s, dlq=%s",
		cfg.MainQueue, cfg.ProcessingQueue, cfg.DLQ)
	return q
}

// Publish sends a message to the queue
func (r *RedisQueue) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.MaxRetries == 0 {
		msg.MaxRetries = r.config.MaxRetries
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := r.client.LPush(ctx, r.mainQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.incrementMetric(ctx, "published")
	logrus.Debugf("Message %s published to %s", msg.ID, r.mainQueue)
	return nil
}

// Subscribe starts consuming messages in the background
func (r *RedisQueue) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	if err := r.requeueProcessing(ctx); err != nil {
		logrus.Warnf("Failed to requeue in-flight messages: %v", err)
	}

	r.wg.Add(1)
	go r.processMainQueue(ctx, handler)

	logrus.Info("RedisQueue subscriber started")
	return nil
}

// processMainQueue processes messages from the main queue
func (r *RedisQueue) processMainQueue(ctx context.Context, handler Handler) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Main queue processor stopped by context")
			return
		case <-r.stopChan:
			logrus.Info("Main queue processor stopped")
			return
		default:
			if err := r.processOne(ctx, handler); err != nil {
				logrus.Errorf("Error processing queue: %v", err)
				select {
				case <-ctx.Done():
				case <-r.stopChan:
				case <-time.After(time.Second): // Backoff on error
				}
			}
		}
	}
}

// processOne moves one message to the processing list and handles it
func (r *RedisQueue) processOne(ctx context.Context, handler Handler) error {
	data, err := r.client.BRPopLPush(ctx, r.mainQueue, r.processingQueue, r.config.QueueTimeout).Result()
	if err == redis.Nil {
		return nil // Timeout, no messages
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to move message to processing queue: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		logrus.Errorf("Failed to unmarshal message: %v", err)
		r.fail(ctx, &Message{
			ID:   fmt.Sprintf("corrupted_%d", time.Now().UnixNano()),
			Type: "corrupted",
			Data: map[string]interface{}{"raw_data": data},
		}, fmt.Errorf("%w: invalid message format: %v", ErrPermanent, err))
	} else if err := r.executeWithRetry(ctx, &msg, handler); err != nil {
		logrus.Errorf("Message %s failed after %d attempts: %v", msg.ID, msg.Attempts, err)
		r.fail(ctx, &msg, err)
	} else {
		r.incrementMetric(ctx, "processed")
	}

	// Remove from processing queue regardless of outcome
	if err := r.client.LRem(ctx, r.processingQueue, 1, data).Err(); err != nil {
		logrus.Errorf("Failed to remove message from processing queue: %v", err)
	}
	return nil
}

// executeWithRetry runs the handler until it succeeds or the retry budget is spent
func (r *RedisQueue) executeWithRetry(ctx context.Context, msg *Message, handler Handler) error {
	for {
		msg.Attempts++

		err := handler(ctx, msg)
		if err == nil {
			return nil
		}

		shouldRetry, delay := r.retryManager.ShouldRetry(msg, err)
		if !shouldRetry {
			return err
		}

		logrus.Warnf("Message %s failed (attempt %d/%d), retrying in %v: %v",
			msg.ID, msg.Attempts, msg.MaxRetries, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *RedisQueue) fail(ctx context.Context, msg *Message, err error) {
	r.incrementMetric(ctx, "failed")
	if r.dlqHandler != nil {
		r.dlqHandler.HandleFailed(ctx, msg, err)
	}
}

// requeueProcessing returns messages left in the processing list by a crashed consumer
func (r *RedisQueue) requeueProcessing(ctx context.Context) error {
	moved := 0
	for {
		_, err := r.client.RPopLPush(ctx, r.processingQueue, r.mainQueue).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return err
		}
		moved++
	}
	if moved > 0 {
		logrus.Infof("Requeued %d in-flight messages", moved)
	}
	return nil
}

// incrementMetric increments a counter metric
func (r *RedisQueue) incrementMetric(ctx context.Context, metric string) {
	if !r.config.EnableMetrics {
		return
	}

	key := r.metricsPrefix + metric
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.Debugf("Failed to update queue metric %s: %v", metric, err)
	}
}

// Stats returns current queue statistics
func (r *RedisQueue) Stats(ctx context.Context) (*QueueStats, error) {
	pipe := r.client.Pipeline()

	mainLen := pipe.LLen(ctx, r.mainQueue)
	processingLen := pipe.LLen(ctx, r.processingQueue)
	dlqLen := pipe.ZCard(ctx, r.config.DLQ)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	return &QueueStats{
		MainQueue:       mainLen.Val(),
		ProcessingQueue: processingLen.Val(),
		DLQ:             dlqLen.Val(),
		Timestamp:       time.Now(),
	}, nil
}

// DLQ exposes the dead-letter handler, nil when disabled
func (r *RedisQueue) DLQ() DLQHandler {
	return r.dlqHandler
}

// Close stops the consumer and waits for the in-flight message
func (r *RedisQueue) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()

	logrus.Info("RedisQueue closed successfully")
	return nil
}

// QueueStats contains statistics about queue state
type QueueStats struct {
	MainQueue       int64     `json:"main_queue"`
	ProcessingQueue int64     `json:"processing_queue"`
	DLQ             int64     `json:"dlq"`
	Timestamp       time.Time `json:"timestamp"`
}
