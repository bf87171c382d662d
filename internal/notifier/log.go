package notifier

import (
	"context"

	"github.com/ds124wfegd/rafflr/internal/entity"

	"github.com/sirupsen/logrus"
)

// LogEmitter writes events to the application log
type LogEmitter struct {
	logger logrus.FieldLogger
}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: logrus.StandardLogger()}
}

func (e *LogEmitter) Emit(ctx context.Context, event *entity.Event) error {
	e.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"listing_id": event.ListingID,
		"event":      event.Kind,
		"payload":    event.Payload,
	}).Info("Sale event")
	return nil
}

func (e *LogEmitter) Close() error {
	return nil
}
