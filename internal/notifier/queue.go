package notifier

import (
	"context"
	"strconv"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/pkg/queue"
)

// QueueEmitter адаптирует queue.Queue к Emitter
type QueueEmitter struct {
	queue queue.Queue
}

func NewQueueEmitter(q queue.Queue) *QueueEmitter {
	return &QueueEmitter{queue: q}
}

// Emit публикует событие, преобразуя entity.Event в queue.Message
func (e *QueueEmitter) Emit(ctx context.Context, event *entity.Event) error {
	return e.queue.Publish(ctx, EventToMessage(event))
}

// Queue returns the underlying queue
func (e *QueueEmitter) Queue() queue.Queue {
	return e.queue
}

func (e *QueueEmitter) Close() error {
	return e.queue.Close()
}

func EventToMessage(event *entity.Event) *queue.Message {
	return &queue.Message{
		ID:   event.ID,
		Type: string(event.Kind),
		Key:  strconv.FormatInt(event.ListingID, 10),
		Data: map[string]interface{}{
			"listing_id":  event.ListingID,
			"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
			"payload":     event.Payload,
		},
		CreatedAt: event.OccurredAt,
	}
}

// MessageToEvent is the consumer side of EventToMessage
func MessageToEvent(msg *queue.Message) *entity.Event {
	event := &entity.Event{
		ID:        msg.ID,
		ListingID: msg.GetInt64("listing_id"),
		Kind:      entity.EventKind(msg.Type),
	}
	if ts, err := time.Parse(time.RFC3339Nano, msg.GetString("occurred_at")); err == nil {
		event.OccurredAt = ts
	}
	if payload, ok := msg.Data["payload"].(map[string]interface{}); ok {
		event.Payload = payload
	}
	return event
}
