package notifier

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter writes events keyed by listing id, so each listing's events
// stay ordered within a partition
type KafkaEmitter struct {
	writer messageWriter
	topic  string
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logrus.Infof("Kafka emitter configured for brokers %v, topic %s", brokers, topic)
	return &KafkaEmitter{writer: writer, topic: topic}
}

func (k *KafkaEmitter) Emit(ctx context.Context, event *entity.Event) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.ListingID, 10)),
		Value: body,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_kind", Value: []byte(event.Kind)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to Kafka topic %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}
