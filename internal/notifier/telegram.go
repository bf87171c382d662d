package notifier

import (
	"context"
	"fmt"

	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/pkg/telegram"
)

type messageSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// TelegramEmitter пересылает события продаж в чат операторов
type TelegramEmitter struct {
	bot    messageSender
	chatID string
}

func NewTelegramEmitter(bot *telegram.Bot, chatID string) *TelegramEmitter {
	return &TelegramEmitter{bot: bot, chatID: chatID}
}

func (e *TelegramEmitter) Emit(ctx context.Context, event *entity.Event) error {
	if err := e.bot.SendMessage(ctx, e.chatID, FormatMessage(event)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func (e *TelegramEmitter) Close() error {
	return nil
}

// FormatMessage renders an event as a human readable chat message
func FormatMessage(event *entity.Event) string {
	p := event.Payload
	switch event.Kind {
	case entity.EventReservationConfirmed:
		return fmt.Sprintf("🎫 Лот #%d: оплачена резервация #%v, билетов: %v",
			event.ListingID, p["reservation_id"], p["quantity"])
	case entity.EventSaleClosing:
		return fmt.Sprintf("⏳ Лот #%d: продажи закрыты (%v), подтверждено билетов: %v",
			event.ListingID, p["decision"], p["confirmed_tickets"])
	case entity.EventDrawCompleted:
		return fmt.Sprintf("🏆 Лот #%d: розыгрыш завершен, билет №%v, победитель #%v",
			event.ListingID, p["winning_ticket"], p["winner_id"])
	case entity.EventSaleCancelled:
		return fmt.Sprintf("❌ Лот #%d: продажа отменена (%v)", event.ListingID, p["reason"])
	case entity.EventRefundRequired:
		return fmt.Sprintf("💸 Лот #%d: нужен возврат по резервации #%v, сумма %v",
			event.ListingID, p["reservation_id"], p["amount"])
	}
	return fmt.Sprintf("Лот #%d: %s", event.ListingID, event.Kind)
}
