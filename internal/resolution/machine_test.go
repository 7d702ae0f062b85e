package resolution

import (
	"smartlocate/internal/entity"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// locate mimics what the session does for a structural call.
func locate(m *Machine, selector string) entity.SelectorMode {
	mode := m.Route(selector)
	m.Record(selector, entity.CommandGet, mode)

	return mode
}

func TestTouchDefaultsToDom(t *testing.T) {
	m := NewMachine()
	m.Touch("#a")

	mode, ok := m.Mode("#a")
	require.True(t, ok)
	assert.Equal(t, entity.ModeUseDom, mode)
}

func TestFailOnEmptyHistoryIsNoop(t *testing.T) {
	m := NewMachine()
	m.Fail()

	assert.False(t, m.BackupMode())
}

func TestFailureRoutesNextLocateToAIOnce(t *testing.T) {
	m := NewMachine()

	assert.Equal(t, entity.ModeUseDom, locate(m, "#login"))

	m.Fail()
	require.True(t, m.BackupMode())

	assert.Equal(t, entity.ModeUseAI, locate(m, "#password"))
	assert.False(t, m.BackupMode())

	assert.Equal(t, entity.ModeUseDom, locate(m, "#submit"))
}

func TestEscalatedSelectorStaysAI(t *testing.T) {
	m := NewMachine()

	locate(m, "#login")
	m.Fail()
	locate(m, "#login")

	for i := 0; i < 3; i++ {
		assert.Equal(t, entity.ModeUseAI, locate(m, "#login"))
	}

	assert.Equal(t, entity.ModeUseAI, m.State("#login").Mode)
}

func TestFailureAfterAICommandDoesNotArmBackup(t *testing.T) {
	m := NewMachine()

	m.Record("username input", entity.CommandFindByAI, entity.ModeUseAI)
	m.Fail()
	assert.False(t, m.BackupMode())

	locate(m, "#x")
	m.Fail()
	locate(m, "#x")
	m.Fail()
	assert.False(t, m.BackupMode(), "a get already routed through AI is not structural")
}

func TestHistoryKeepsCallOrder(t *testing.T) {
	m := NewMachine()

	locate(m, "#a")
	m.Record("#b", entity.CommandFind, entity.ModeUseDom)
	locate(m, "#c")

	history := m.History()
	require.Len(t, history, 3)

	for i, want := range []string{"#a", "#b", "#c"} {
		assert.Equal(t, i+1, history[i].Index)
		assert.Equal(t, want, history[i].Selector)
	}
}

func TestReset(t *testing.T) {
	m := NewMachine()

	locate(m, "#a")
	m.Escalate("#a")
	m.Fail()
	m.Reset()

	assert.False(t, m.BackupMode())
	assert.Empty(t, m.History())

	_, ok := m.Mode("#a")
	assert.False(t, ok)
}
