package reminder

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/medminder/medminder/internal/config"
	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/tracker"
)

// TelegramNotifier delivers reminders as chat messages with inline
// mark-taken / postpone buttons.
type TelegramNotifier struct {
	api *tgbotapi.BotAPI
	cfg config.ReminderConfig
}

// NewTelegramNotifier creates a notifier sending through the given bot API.
func NewTelegramNotifier(api *tgbotapi.BotAPI, cfg config.ReminderConfig) *TelegramNotifier {
	return &TelegramNotifier{api: api, cfg: cfg}
}

func (n *TelegramNotifier) Notify(chatID int64, med *domain.Medication, timeOfDay string, state tracker.State) error {
	var text string
	switch state {
	case tracker.StateAlertYellow:
		text = fmt.Sprintf("🔔 En 10 minutos toca tomar *%s* (%s)", med.Name, timeOfDay)
	case tracker.StateAlertRed:
		text = fmt.Sprintf("🔴 Es hora de tomar *%s* (%s)", med.Name, timeOfDay)
	case tracker.StateLate:
		text = fmt.Sprintf("⚠️ La toma de *%s* de las %s lleva 10 minutos de retraso", med.Name, timeOfDay)
	case tracker.StateMissed:
		text = fmt.Sprintf("❌ La toma de *%s* de las %s se ha marcado como omitida", med.Name, timeOfDay)
	default:
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableNotification = !n.cfg.SoundEnabled

	if state != tracker.StateMissed {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Tomada", fmt.Sprintf("taken:%s:%s", med.ID, timeOfDay)),
				tgbotapi.NewInlineKeyboardButtonData("⏰ Posponer 10 min", fmt.Sprintf("postpone:%s:%s", med.ID, timeOfDay)),
			),
		)
	}

	_, err := n.api.Send(msg)
	return err
}
