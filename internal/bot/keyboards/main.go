package keyboards

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MainMenu creates the main menu keyboard
func MainMenu() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💊 Mis medicamentos", "meds_list"),
			tgbotapi.NewInlineKeyboardButtonData("➕ Añadir", "med_add"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Historial", "history"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Adherencia", "stats"),
		),
	)
}

// MedicationActions creates the per-medication action keyboard
func MedicationActions(medicationID string, paused bool) tgbotapi.InlineKeyboardMarkup {
	pauseLabel := "⏸️ Pausar"
	pauseAction := "pause:" + medicationID
	if paused {
		pauseLabel = "▶️ Reanudar"
		pauseAction = "resume:" + medicationID
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Tomada ahora", "taken_now:"+medicationID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📦 Recargar", "refill:"+medicationID),
			tgbotapi.NewInlineKeyboardButtonData(pauseLabel, pauseAction),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Editar", "edit:"+medicationID),
			tgbotapi.NewInlineKeyboardButtonData("🗑️ Eliminar", "delete:"+medicationID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ Menú principal", "main_menu"),
		),
	)
}

// DeleteConfirm asks for confirmation before a medication is removed
func DeleteConfirm(medicationID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑️ Sí, eliminar", "delete_confirm:"+medicationID),
			tgbotapi.NewInlineKeyboardButtonData("◀️ Cancelar", "med:"+medicationID),
		),
	)
}

// BackToMenu creates a single back-to-menu row
func BackToMenu() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ Menú principal", "main_menu"),
		),
	)
}
