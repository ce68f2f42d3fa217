// Package bot is the telegram front end: it turns chat commands and button
// presses into service calls and renders the results in Spanish, the locale
// of the original user base.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/medminder/medminder/internal/bot/keyboards"
	"github.com/medminder/medminder/internal/bot/state"
	"github.com/medminder/medminder/internal/checker"
	"github.com/medminder/medminder/internal/domain"
	apperrors "github.com/medminder/medminder/internal/errors"
	"github.com/medminder/medminder/internal/logger"
	"github.com/medminder/medminder/internal/services"
	"github.com/medminder/medminder/internal/tracker"
)

const tempKeyRefillMedication = "refill_medication_id"

type Bot struct {
	api    *tgbotapi.BotAPI
	repo   domain.MedicationRepository
	meds   *services.MedicationService
	doses  *services.DoseService
	adh    *services.AdherenceService
	check  *checker.Checker
	track  *tracker.Tracker
	states state.StateManager
	flow   medicationFlow

	mu      sync.Mutex
	watched map[string]bool // user ids with an active medication watch
}

func NewBot(
	api *tgbotapi.BotAPI,
	repo domain.MedicationRepository,
	meds *services.MedicationService,
	doses *services.DoseService,
	adh *services.AdherenceService,
	check *checker.Checker,
	track *tracker.Tracker,
	states state.StateManager,
) *Bot {
	return &Bot{
		api:     api,
		repo:    repo,
		meds:    meds,
		doses:   doses,
		adh:     adh,
		check:   check,
		track:   track,
		states:  states,
		flow:    medicationFlow{states: states},
		watched: make(map[string]bool),
	}
}

func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	logger.Info("Bot is now listening for updates", "account", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Bot is shutting down")
			return ctx.Err()
		case update := <-updates:
			if err := b.handleUpdate(ctx, update); err != nil {
				logger.Error("Error handling update", "error", err)
			}
		}
	}
}

func (b *Bot) Stop() {
	b.api.StopReceivingUpdates()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil && update.CallbackQuery == nil {
		return nil
	}

	var from *tgbotapi.User
	var chatID int64
	if update.Message != nil {
		from = update.Message.From
		chatID = update.Message.Chat.ID
	} else {
		from = update.CallbackQuery.From
		chatID = update.CallbackQuery.Message.Chat.ID
	}

	user, err := b.repo.GetOrCreateUser(ctx, from.ID, from.UserName, from.FirstName, from.LastName)
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	b.check.RegisterSession(user.ID, chatID)
	b.ensureWatch(ctx, user.ID)

	if update.CallbackQuery != nil {
		callback := tgbotapi.NewCallback(update.CallbackQuery.ID, "")
		if _, err := b.api.Request(callback); err != nil {
			logger.Error("Failed to answer callback query", "error", err)
		}
		return b.handleCallbackQuery(ctx, update.CallbackQuery, user)
	}

	if update.Message.IsCommand() {
		return b.handleCommand(ctx, update.Message, user)
	}
	if update.Message.Text != "" {
		return b.handleText(ctx, update.Message, user)
	}
	return nil
}

// ensureWatch starts the live medication subscription once per user.
func (b *Bot) ensureWatch(ctx context.Context, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watched[userID] {
		return
	}
	if err := b.meds.StartWatch(ctx, userID); err != nil {
		logger.Error("Failed to start medication watch", "user_id", userID, "error", err)
		return
	}
	b.watched[userID] = true
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message, user *domain.User) error {
	chatID := message.Chat.ID
	switch message.Command() {
	case "start":
		b.states.SetUserState(user.TelegramID, state.None)
		return b.sendMainMenu(chatID)
	case "meds":
		return b.sendMedicationList(ctx, chatID, user)
	case "history":
		return b.sendHistory(ctx, chatID, user)
	case "stats":
		return b.sendAdherenceOverview(ctx, chatID, user)
	case "help":
		msg := tgbotapi.NewMessage(chatID, `Comandos disponibles:
/start - Mostrar el menú principal
/meds - Ver tus medicamentos
/history - Ver el historial de tomas
/stats - Ver la adherencia al tratamiento
/help - Mostrar este mensaje`)
		_, err := b.api.Send(msg)
		return err
	default:
		msg := tgbotapi.NewMessage(chatID, "Comando desconocido. Usa /help para ver los comandos disponibles.")
		_, err := b.api.Send(msg)
		return err
	}
}

func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery, user *domain.User) error {
	chatID := query.Message.Chat.ID
	data := query.Data

	switch data {
	case "main_menu":
		b.states.ClearUserState(user.TelegramID)
		b.states.ClearTempData(user.TelegramID)
		return b.sendMainMenu(chatID)
	case "meds_list":
		return b.sendMedicationList(ctx, chatID, user)
	case "history":
		return b.sendHistory(ctx, chatID, user)
	case "stats":
		return b.sendAdherenceOverview(ctx, chatID, user)
	case "med_add":
		prompt := b.flow.Begin(user.TelegramID, "")
		msg := tgbotapi.NewMessage(chatID, prompt)
		msg.ReplyMarkup = keyboards.BackToMenu()
		_, err := b.api.Send(msg)
		return err
	}

	action, args, ok := strings.Cut(data, ":")
	if !ok {
		return nil
	}

	switch action {
	case "taken":
		medicationID, timeOfDay, ok := strings.Cut(args, ":")
		if !ok {
			return nil
		}
		return b.onTaken(ctx, chatID, user, medicationID, timeOfDay)
	case "postpone":
		medicationID, timeOfDay, ok := strings.Cut(args, ":")
		if !ok {
			return nil
		}
		return b.onPostpone(ctx, chatID, user, medicationID, timeOfDay)
	case "taken_now":
		return b.onTakenNow(ctx, chatID, user, args)
	case "med":
		return b.sendMedicationDetail(ctx, chatID, user, args)
	case "refill":
		b.states.SetUserState(user.TelegramID, state.WaitingForRefillQty)
		b.states.SetTempData(user.TelegramID, tempKeyRefillMedication, args)
		msg := tgbotapi.NewMessage(chatID, "¿Cuántas unidades quieres añadir al stock?")
		msg.ReplyMarkup = keyboards.BackToMenu()
		_, err := b.api.Send(msg)
		return err
	case "pause":
		return b.onPauseResume(ctx, chatID, user, args, true)
	case "resume":
		return b.onPauseResume(ctx, chatID, user, args, false)
	case "edit":
		med, err := b.findMedication(ctx, user.ID, args)
		if err != nil {
			return b.sendError(chatID, err)
		}
		prompt := b.flow.Begin(user.TelegramID, med.ID)
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("✏️ Editando *%s*.\n%s", med.Name, prompt))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = keyboards.BackToMenu()
		_, err = b.api.Send(msg)
		return err
	case "delete":
		med, err := b.findMedication(ctx, user.ID, args)
		if err != nil {
			return b.sendError(chatID, err)
		}
		msg := tgbotapi.NewMessage(chatID,
			fmt.Sprintf("¿Seguro que quieres eliminar *%s* y todo su historial de tomas?", med.Name))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = keyboards.DeleteConfirm(med.ID)
		_, err = b.api.Send(msg)
		return err
	case "delete_confirm":
		return b.onDelete(ctx, chatID, user, args)
	}
	return nil
}

func (b *Bot) onDelete(ctx context.Context, chatID int64, user *domain.User, medicationID string) error {
	med, err := b.findMedication(ctx, user.ID, medicationID)
	if err != nil {
		return b.sendError(chatID, err)
	}
	if err := b.meds.Delete(ctx, med.ID); err != nil {
		return b.sendError(chatID, err)
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("🗑️ *%s* eliminado.", med.Name))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboards.BackToMenu()
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message, user *domain.User) error {
	chatID := message.Chat.ID

	if b.flow.Active(user.TelegramID) {
		result := b.flow.HandleInput(user.TelegramID, message.Text)
		if !result.done {
			msg := tgbotapi.NewMessage(chatID, result.reply)
			msg.ReplyMarkup = keyboards.BackToMenu()
			_, err := b.api.Send(msg)
			return err
		}
		return b.finishMedicationFlow(ctx, chatID, user, result)
	}

	switch b.states.GetUserState(user.TelegramID) {
	case state.WaitingForRefillQty:
		units, err := strconv.Atoi(strings.TrimSpace(message.Text))
		if err != nil || units <= 0 {
			msg := tgbotapi.NewMessage(chatID, "Introduce un número entero positivo (por ejemplo: 30).")
			_, err := b.api.Send(msg)
			return err
		}

		medicationID, ok := b.states.GetTempData(user.TelegramID, tempKeyRefillMedication)
		if !ok {
			b.states.ClearUserState(user.TelegramID)
			return b.sendMainMenu(chatID)
		}

		med, err := b.findMedication(ctx, user.ID, medicationID)
		if err != nil {
			return b.sendError(chatID, err)
		}
		if err := b.meds.Refill(ctx, med, units); err != nil {
			return b.sendError(chatID, err)
		}

		b.states.ClearUserState(user.TelegramID)
		b.states.ClearTempData(user.TelegramID)

		msg := tgbotapi.NewMessage(chatID,
			fmt.Sprintf("📦 Stock de *%s* actualizado: %d unidades.", med.Name, med.StockCurrent))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = keyboards.BackToMenu()
		_, err = b.api.Send(msg)
		return err

	default:
		msg := tgbotapi.NewMessage(chatID, "Usa el menú para elegir una acción.")
		msg.ReplyMarkup = keyboards.MainMenu()
		_, err := b.api.Send(msg)
		return err
	}
}

// finishMedicationFlow persists the conversation's draft: a new medication on
// create, or the edited fields applied over the stored one.
func (b *Bot) finishMedicationFlow(ctx context.Context, chatID int64, user *domain.User, result flowResult) error {
	draft := result.draft
	var med *domain.Medication

	if result.editID != "" {
		stored, err := b.findMedication(ctx, user.ID, result.editID)
		if err != nil {
			return b.sendError(chatID, err)
		}
		stored.Name = draft.Name
		stored.DosesPerDay = draft.DosesPerDay
		stored.FirstDoseTime = draft.FirstDoseTime
		stored.StockInitial = draft.StockInitial
		stored.StockCurrent = draft.StockCurrent
		stored.TreatmentDays = draft.TreatmentDays
		if err := b.meds.Update(ctx, stored); err != nil {
			return b.sendError(chatID, err)
		}
		med = stored
	} else {
		draft.UserID = user.ID
		if err := b.meds.Create(ctx, draft); err != nil {
			return b.sendError(chatID, err)
		}
		med = draft
	}

	var text string
	if result.editID != "" {
		text = fmt.Sprintf("✏️ *%s* actualizado.", med.Name)
	} else {
		text = fmt.Sprintf("✅ *%s* añadido.", med.Name)
	}
	if med.IsOccasional() {
		text += "\nPauta: ocasional, sin recordatorios."
	} else {
		text += fmt.Sprintf("\nTomas: %s", strings.Join(med.DoseTimes, ", "))
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboards.MainMenu()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) onTaken(ctx context.Context, chatID int64, user *domain.User, medicationID, timeOfDay string) error {
	med, err := b.findMedication(ctx, user.ID, medicationID)
	if err != nil {
		return b.sendError(chatID, err)
	}

	if err := b.doses.MarkTakenAt(ctx, med, timeOfDay); err != nil {
		return b.sendError(chatID, err)
	}

	text := fmt.Sprintf("✅ Toma de *%s* (%s) registrada.", med.Name, timeOfDay)
	if b.meds.LowStock(med) {
		text += fmt.Sprintf("\n⚠️ Quedan pocas unidades: %d (≈%d días).", med.StockCurrent, med.DaysRemaining)
	}
	if med.Paused {
		text += "\nℹ️ El tratamiento ha terminado y se ha pausado."
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) onTakenNow(ctx context.Context, chatID int64, user *domain.User, medicationID string) error {
	med, err := b.findMedication(ctx, user.ID, medicationID)
	if err != nil {
		return b.sendError(chatID, err)
	}

	if err := b.doses.MarkTakenNow(ctx, med); err != nil {
		return b.sendError(chatID, err)
	}

	text := fmt.Sprintf("✅ Toma de *%s* registrada.", med.Name)
	if b.meds.LowStock(med) {
		text += fmt.Sprintf("\n⚠️ Quedan pocas unidades: %d (≈%d días).", med.StockCurrent, med.DaysRemaining)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) onPostpone(ctx context.Context, chatID int64, user *domain.User, medicationID, timeOfDay string) error {
	med, err := b.findMedication(ctx, user.ID, medicationID)
	if err != nil {
		return b.sendError(chatID, err)
	}

	postponed, err := b.doses.Postpone(ctx, med, timeOfDay)
	if err != nil {
		return b.sendError(chatID, err)
	}

	var text string
	if postponed {
		text = fmt.Sprintf("⏰ Toma de *%s* pospuesta 10 minutos.", med.Name)
	} else {
		text = fmt.Sprintf("❌ No quedan aplazamientos: la toma de *%s* de las %s se ha marcado como omitida.",
			med.Name, timeOfDay)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) onPauseResume(ctx context.Context, chatID int64, user *domain.User, medicationID string, pause bool) error {
	med, err := b.findMedication(ctx, user.ID, medicationID)
	if err != nil {
		return b.sendError(chatID, err)
	}

	var text string
	if pause {
		err = b.meds.Pause(ctx, med)
		text = fmt.Sprintf("⏸️ *%s* pausado. No se generarán más recordatorios.", med.Name)
	} else {
		err = b.meds.Resume(ctx, med)
		text = fmt.Sprintf("▶️ *%s* reanudado.", med.Name)
	}
	if err != nil {
		return b.sendError(chatID, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboards.MedicationActions(med.ID, med.Paused)
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) sendMainMenu(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "¿Qué quieres hacer?")
	msg.ReplyMarkup = keyboards.MainMenu()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMedicationList(ctx context.Context, chatID int64, user *domain.User) error {
	meds, err := b.meds.List(ctx, user.ID)
	if err != nil {
		return b.sendError(chatID, err)
	}
	if len(meds) == 0 {
		msg := tgbotapi.NewMessage(chatID, "No tienes medicamentos registrados.")
		msg.ReplyMarkup = keyboards.BackToMenu()
		_, err := b.api.Send(msg)
		return err
	}

	b.meds.SortForDisplay(meds)

	var sb strings.Builder
	sb.WriteString("💊 *Tus medicamentos:*\n\n")
	keyboard := tgbotapi.NewInlineKeyboardMarkup()
	for i := range meds {
		med := &meds[i]
		sb.WriteString(b.formatMedicationLine(med))
		keyboard.InlineKeyboard = append(keyboard.InlineKeyboard,
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(med.Name, "med:"+med.ID),
			),
		)
	}
	keyboard.InlineKeyboard = append(keyboard.InlineKeyboard,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ Menú principal", "main_menu"),
		),
	)

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboard
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) formatMedicationLine(med *domain.Medication) string {
	var sb strings.Builder
	sb.WriteString("*" + med.Name + "*")
	if med.Paused {
		sb.WriteString(" ⏸️")
	} else if b.track.HasMissedEvents(med.ID) {
		sb.WriteString(" ❌")
	}
	sb.WriteString("\n")

	if med.IsOccasional() {
		sb.WriteString("  Ocasional")
	} else {
		sb.WriteString(fmt.Sprintf("  %d tomas/día: %s", med.DosesPerDay, strings.Join(med.DoseTimes, ", ")))
	}
	sb.WriteString(fmt.Sprintf(" · Stock: %d", med.StockCurrent))
	if !med.IsOccasional() && !med.IsChronic() {
		sb.WriteString(fmt.Sprintf(" · %d días restantes", med.DaysRemaining))
	}
	if b.meds.LowStock(med) {
		sb.WriteString(fmt.Sprintf("\n  ⚠️ Stock bajo: quedan ≈%d días", med.DaysRemaining))
	}
	sb.WriteString("\n\n")
	return sb.String()
}

func (b *Bot) sendMedicationDetail(ctx context.Context, chatID int64, user *domain.User, medicationID string) error {
	med, err := b.findMedication(ctx, user.ID, medicationID)
	if err != nil {
		return b.sendError(chatID, err)
	}

	var sb strings.Builder
	sb.WriteString("💊 *" + med.Name + "*\n")
	if med.Presentation != "" {
		sb.WriteString("Presentación: " + med.Presentation + "\n")
	}
	if med.Condition != "" {
		sb.WriteString("Indicación: " + med.Condition + "\n")
	}
	if med.IsOccasional() {
		sb.WriteString("Pauta: ocasional\n")
	} else {
		sb.WriteString(fmt.Sprintf("Pauta: %d tomas/día (%s)\n", med.DosesPerDay, strings.Join(med.DoseTimes, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Stock: %d de %d\n", med.StockCurrent, med.StockInitial))
	if med.IsChronic() {
		sb.WriteString("Tratamiento: crónico\n")
	} else {
		sb.WriteString(fmt.Sprintf("Tratamiento: %d días (%d restantes)\n", med.TreatmentDays, med.DaysRemaining))
	}
	if med.ExpiresAt != nil {
		sb.WriteString("Caducidad: " + med.ExpiresAt.Format("02/01/2006") + "\n")
	}
	if med.Paused {
		sb.WriteString("Estado: pausado ⏸️\n")
	}

	for _, ev := range b.track.EventsFor(med.ID) {
		sb.WriteString(fmt.Sprintf("\n%s %s", ev.TimeOfDay, describeState(ev.State)))
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboards.MedicationActions(med.ID, med.Paused)
	_, err = b.api.Send(msg)
	return err
}

func describeState(s tracker.State) string {
	switch s {
	case tracker.StateTaken:
		return "✅ tomada"
	case tracker.StateAlertYellow:
		return "🔔 en breve"
	case tracker.StateAlertRed:
		return "🔴 ahora"
	case tracker.StateLate:
		return "⚠️ con retraso"
	case tracker.StateMissed:
		return "❌ omitida"
	default:
		return "⏳ pendiente"
	}
}

func (b *Bot) sendHistory(ctx context.Context, chatID int64, user *domain.User) error {
	records, err := b.doses.History(ctx, user.ID)
	if err != nil {
		return b.sendError(chatID, err)
	}
	if len(records) == 0 {
		msg := tgbotapi.NewMessage(chatID, "Todavía no hay tomas registradas.")
		msg.ReplyMarkup = keyboards.BackToMenu()
		_, err := b.api.Send(msg)
		return err
	}

	const maxEntries = 20
	if len(records) > maxEntries {
		records = records[:maxEntries]
	}

	var sb strings.Builder
	sb.WriteString("📋 *Historial de tomas:*\n\n")
	for _, record := range records {
		icon := "✅"
		if record.Outcome == domain.OutcomeMissed {
			icon = "❌"
		}
		sb.WriteString(fmt.Sprintf("%s %s · %s\n",
			icon, record.MedicationName, record.EffectiveTime().Format("02/01 15:04")))
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboards.BackToMenu()
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) sendAdherenceOverview(ctx context.Context, chatID int64, user *domain.User) error {
	summaries, err := b.adh.Overview(ctx, user.ID)
	if err != nil {
		return b.sendError(chatID, err)
	}
	if len(summaries) == 0 {
		msg := tgbotapi.NewMessage(chatID, "Todavía no hay datos de adherencia.")
		msg.ReplyMarkup = keyboards.BackToMenu()
		_, err := b.api.Send(msg)
		return err
	}

	var sb strings.Builder
	sb.WriteString("📊 *Adherencia al tratamiento:*\n\n")
	for _, summary := range summaries {
		sb.WriteString(fmt.Sprintf("*%s*: %.0f%% (%d de %d tomas)\n",
			summary.MedicationName, summary.Percentage, summary.Actual, summary.Expected))
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboards.BackToMenu()
	_, err = b.api.Send(msg)
	return err
}

// findMedication resolves one of the user's medications by id.
func (b *Bot) findMedication(ctx context.Context, userID, medicationID string) (*domain.Medication, error) {
	meds, err := b.meds.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range meds {
		if meds[i].ID == medicationID {
			return &meds[i], nil
		}
	}
	return nil, apperrors.NewValidationError("medication not found")
}

func (b *Bot) sendError(chatID int64, err error) error {
	logger.Error("Bot operation failed", "error", err)

	text := "Ha ocurrido un error. Inténtalo de nuevo."
	if appErr, ok := err.(*apperrors.AppError); ok {
		switch appErr.Type {
		case apperrors.ErrorTypeConnectivity:
			text = "📡 Sin conexión. Comprueba la red e inténtalo de nuevo."
		case apperrors.ErrorTypeValidation:
			text = "⚠️ " + appErr.Message
		}
	}

	msg := tgbotapi.NewMessage(chatID, text)
	_, sendErr := b.api.Send(msg)
	return sendErr
}
