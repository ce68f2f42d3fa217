package bot

import (
	"strconv"
	"strings"

	"github.com/medminder/medminder/internal/bot/state"
	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/utils"
)

const (
	tempKeyMedName        = "med_name"
	tempKeyMedDoses       = "med_doses"
	tempKeyMedFirstTime   = "med_first_time"
	tempKeyMedStock       = "med_stock"
	tempKeyEditMedication = "edit_medication_id"
)

// medicationFlow drives the multi-step add/edit conversation on top of the
// state manager. It owns prompts and input validation; persistence stays with
// the bot handlers.
type medicationFlow struct {
	states state.StateManager
}

// flowResult is one conversation step. When done is set, draft carries the
// collected medication fields and editID names the medication being edited
// (empty on create).
type flowResult struct {
	reply  string
	done   bool
	draft  *domain.Medication
	editID string
}

// Begin arms the flow. A non-empty editID turns the final result into an edit
// of that medication instead of a creation.
func (f medicationFlow) Begin(userID int64, editID string) string {
	f.states.ClearTempData(userID)
	if editID != "" {
		f.states.SetTempData(userID, tempKeyEditMedication, editID)
	}
	f.states.SetUserState(userID, state.WaitingForMedName)
	return "¿Cómo se llama el medicamento?"
}

// Active reports whether the user is in the middle of the conversation.
func (f medicationFlow) Active(userID int64) bool {
	switch f.states.GetUserState(userID) {
	case state.WaitingForMedName, state.WaitingForMedDoses,
		state.WaitingForMedFirstTime, state.WaitingForMedStock, state.WaitingForMedDays:
		return true
	}
	return false
}

// HandleInput advances the conversation one step. Invalid input keeps the
// current step and re-prompts.
func (f medicationFlow) HandleInput(userID int64, text string) flowResult {
	text = strings.TrimSpace(text)

	switch f.states.GetUserState(userID) {
	case state.WaitingForMedName:
		if text == "" {
			return flowResult{reply: "El nombre no puede estar vacío. ¿Cómo se llama el medicamento?"}
		}
		f.states.SetTempData(userID, tempKeyMedName, text)
		f.states.SetUserState(userID, state.WaitingForMedDoses)
		return flowResult{reply: "¿Cuántas tomas al día? (0 si es ocasional)"}

	case state.WaitingForMedDoses:
		doses, err := strconv.Atoi(text)
		if err != nil || doses < 0 {
			return flowResult{reply: "Introduce un número entero de tomas (0 si es ocasional)."}
		}
		f.states.SetTempData(userID, tempKeyMedDoses, strconv.Itoa(doses))
		if doses == 0 {
			f.states.SetUserState(userID, state.WaitingForMedStock)
			return flowResult{reply: "¿Cuántas unidades hay en el envase?"}
		}
		f.states.SetUserState(userID, state.WaitingForMedFirstTime)
		return flowResult{reply: "¿A qué hora es la primera toma? (HH:MM)"}

	case state.WaitingForMedFirstTime:
		if _, _, err := utils.ParseTimeOfDay(text); err != nil {
			return flowResult{reply: "Hora no válida. Usa el formato HH:MM, por ejemplo 08:00."}
		}
		f.states.SetTempData(userID, tempKeyMedFirstTime, text)
		f.states.SetUserState(userID, state.WaitingForMedStock)
		return flowResult{reply: "¿Cuántas unidades hay en el envase?"}

	case state.WaitingForMedStock:
		stock, err := strconv.Atoi(text)
		if err != nil || stock < 0 {
			return flowResult{reply: "Introduce un número entero de unidades."}
		}
		f.states.SetTempData(userID, tempKeyMedStock, strconv.Itoa(stock))
		f.states.SetUserState(userID, state.WaitingForMedDays)
		return flowResult{reply: "¿Cuántos días dura el tratamiento? (0 si es crónico)"}

	case state.WaitingForMedDays:
		days, err := strconv.Atoi(text)
		if err != nil || days < 0 {
			return flowResult{reply: "Introduce un número entero de días (0 si es crónico)."}
		}
		draft := f.collectDraft(userID, days)
		editID, _ := f.states.GetTempData(userID, tempKeyEditMedication)
		f.states.ClearUserState(userID)
		f.states.ClearTempData(userID)
		return flowResult{done: true, draft: draft, editID: editID}
	}
	return flowResult{}
}

func (f medicationFlow) collectDraft(userID int64, days int) *domain.Medication {
	name, _ := f.states.GetTempData(userID, tempKeyMedName)
	dosesStr, _ := f.states.GetTempData(userID, tempKeyMedDoses)
	doses, _ := strconv.Atoi(dosesStr)
	firstTime, _ := f.states.GetTempData(userID, tempKeyMedFirstTime)
	stockStr, _ := f.states.GetTempData(userID, tempKeyMedStock)
	stock, _ := strconv.Atoi(stockStr)
	if days == 0 {
		days = domain.ChronicTreatment
	}
	return &domain.Medication{
		Name:          name,
		DosesPerDay:   doses,
		FirstDoseTime: firstTime,
		StockInitial:  stock,
		StockCurrent:  stock,
		TreatmentDays: days,
	}
}
