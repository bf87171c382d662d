package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/ds124wfegd/rafflr/config"
	"github.com/ds124wfegd/rafflr/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	chatID string
	texts  []string
	err    error
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.chatID = chatID
	f.texts = append(f.texts, text)
	return nil
}

func TestTelegramEmitter(t *testing.T) {
	sender := &fakeSender{}
	e := &TelegramEmitter{bot: sender, chatID: "ops"}

	require.NoError(t, e.Emit(context.Background(), sampleEvent()))
	assert.Equal(t, "ops", sender.chatID)
	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "Лот #42")
	assert.Contains(t, sender.texts[0], "билет №3")

	sender.err = errors.New("blocked")
	assert.Error(t, e.Emit(context.Background(), sampleEvent()))
}

func TestFormatMessageCoversEveryKind(t *testing.T) {
	for _, kind := range []entity.EventKind{
		entity.EventReservationConfirmed,
		entity.EventSaleClosing,
		entity.EventDrawCompleted,
		entity.EventSaleCancelled,
		entity.EventRefundRequired,
	} {
		msg := FormatMessage(&entity.Event{ListingID: 7, Kind: kind, Payload: map[string]interface{}{}})
		assert.Contains(t, msg, "Лот #7", kind)
	}
}

func TestNewTelegramRequiresCredentials(t *testing.T) {
	_, err := New(&config.NotifierConfig{Driver: "telegram"}, nil)
	assert.Error(t, err)

	e, err := New(&config.NotifierConfig{Driver: "telegram", TelegramBotToken: "t", TelegramChatID: "c"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &TelegramEmitter{}, e)
}
