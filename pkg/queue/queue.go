package queue

import (
	"context"
)

// Handler processes one message. A nil error acknowledges it.
type Handler func(ctx context.Context, msg *Message) error

// Queue интерфейс очереди
type Queue interface {
	Publish(ctx context.Context, msg *Message) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
