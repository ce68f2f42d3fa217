package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medminder/medminder/internal/bot/state"
	"github.com/medminder/medminder/internal/domain"
)

func newFlow() medicationFlow {
	return medicationFlow{states: state.NewManager()}
}

func TestFlowCreatesScheduledMedication(t *testing.T) {
	flow := newFlow()
	const userID int64 = 42

	prompt := flow.Begin(userID, "")
	assert.Contains(t, prompt, "llama")
	assert.True(t, flow.Active(userID))

	assert.False(t, flow.HandleInput(userID, "Enalapril").done)
	assert.False(t, flow.HandleInput(userID, "2").done)
	assert.False(t, flow.HandleInput(userID, "08:00").done)
	assert.False(t, flow.HandleInput(userID, "28").done)

	result := flow.HandleInput(userID, "14")
	require.True(t, result.done)
	require.NotNil(t, result.draft)
	assert.Empty(t, result.editID)
	assert.Equal(t, "Enalapril", result.draft.Name)
	assert.Equal(t, 2, result.draft.DosesPerDay)
	assert.Equal(t, "08:00", result.draft.FirstDoseTime)
	assert.Equal(t, 28, result.draft.StockInitial)
	assert.Equal(t, 28, result.draft.StockCurrent)
	assert.Equal(t, 14, result.draft.TreatmentDays)

	// The conversation is over: state and temp data are gone.
	assert.False(t, flow.Active(userID))
}

func TestFlowOccasionalSkipsTimeStep(t *testing.T) {
	flow := newFlow()
	const userID int64 = 42

	flow.Begin(userID, "")
	flow.HandleInput(userID, "Ibuprofeno")

	// Zero doses per day: the flow jumps straight to stock.
	step := flow.HandleInput(userID, "0")
	assert.Contains(t, step.reply, "unidades")

	flow.HandleInput(userID, "10")
	result := flow.HandleInput(userID, "0")
	require.True(t, result.done)
	assert.Equal(t, 0, result.draft.DosesPerDay)
	assert.Empty(t, result.draft.FirstDoseTime)
	assert.Equal(t, domain.ChronicTreatment, result.draft.TreatmentDays)
	assert.True(t, result.draft.IsOccasional())
}

func TestFlowRepromptsOnInvalidInput(t *testing.T) {
	flow := newFlow()
	const userID int64 = 42

	flow.Begin(userID, "")
	assert.False(t, flow.HandleInput(userID, "   ").done)
	flow.HandleInput(userID, "Enalapril")

	// Each invalid answer keeps the step alive.
	flow.HandleInput(userID, "dos")
	result := flow.HandleInput(userID, "-1")
	assert.Contains(t, result.reply, "entero")

	flow.HandleInput(userID, "2")
	result = flow.HandleInput(userID, "8 en punto")
	assert.Contains(t, result.reply, "HH:MM")

	flow.HandleInput(userID, "08:00")
	flow.HandleInput(userID, "28")
	result = flow.HandleInput(userID, "muchos")
	assert.False(t, result.done)

	result = flow.HandleInput(userID, "0")
	require.True(t, result.done)
	assert.Equal(t, domain.ChronicTreatment, result.draft.TreatmentDays)
}

func TestFlowCarriesEditTarget(t *testing.T) {
	flow := newFlow()
	const userID int64 = 42

	flow.Begin(userID, "med-1")
	flow.HandleInput(userID, "Enalapril 20mg")
	flow.HandleInput(userID, "3")
	flow.HandleInput(userID, "07:30")
	flow.HandleInput(userID, "90")

	result := flow.HandleInput(userID, "30")
	require.True(t, result.done)
	assert.Equal(t, "med-1", result.editID)
	assert.Equal(t, 3, result.draft.DosesPerDay)
}

func TestFlowInactiveByDefault(t *testing.T) {
	flow := newFlow()
	assert.False(t, flow.Active(7))
	assert.False(t, flow.HandleInput(7, "hola").done)
}
