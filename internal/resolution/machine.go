// Package resolution decides, per locate call, whether a selector is resolved
// structurally or through the AI path.
package resolution

import (
	"smartlocate/internal/entity"
)

// Machine holds the per-test selector states, the ordered command history and
// the one-shot backup flag. It belongs to a single test and is not locked.
type Machine struct {
	selectors map[string]entity.SelectorMode
	history   []entity.CommandRecord
	backup    bool
}

func NewMachine() *Machine {
	return &Machine{
		selectors: make(map[string]entity.SelectorMode),
	}
}

// Reset clears everything; called at test start.
func (m *Machine) Reset() {
	clear(m.selectors)
	m.history = m.history[:0]
	m.backup = false
}

// Touch initializes selector to UseDom unless it has been seen this test.
func (m *Machine) Touch(selector string) {
	if _, ok := m.selectors[selector]; !ok {
		m.selectors[selector] = entity.ModeUseDom
	}
}

// Route returns the mode to resolve selector with. While backup mode is on the
// selector is escalated to UseAI and backup mode is consumed.
func (m *Machine) Route(selector string) entity.SelectorMode {
	m.Touch(selector)

	if m.backup {
		m.Escalate(selector)
		m.backup = false

		return entity.ModeUseAI
	}

	return m.selectors[selector]
}

// Escalate makes selector sticky on UseAI for the rest of the test.
func (m *Machine) Escalate(selector string) {
	m.selectors[selector] = entity.ModeUseAI
}

// Record appends a locate attempt to the history.
func (m *Machine) Record(selector string, kind entity.CommandKind, mode entity.SelectorMode) entity.CommandRecord {
	record := entity.CommandRecord{
		Index:    len(m.history) + 1,
		Selector: selector,
		Kind:     kind,
		Mode:     mode,
	}

	m.history = append(m.history, record)

	return record
}

// Fail handles a test-framework failure signal. Failures are reported after the
// command queue may have moved on, so when the most recent command was a plain
// structural lookup the next lookup is treated as suspect.
func (m *Machine) Fail() {
	last, ok := m.Last()
	if !ok {
		return
	}

	if last.Kind.Structural() && last.Mode == entity.ModeUseDom {
		m.backup = true
	}
}

func (m *Machine) Last() (entity.CommandRecord, bool) {
	if len(m.history) == 0 {
		return entity.CommandRecord{}, false
	}

	return m.history[len(m.history)-1], true
}

func (m *Machine) BackupMode() bool {
	return m.backup
}

func (m *Machine) Mode(selector string) (entity.SelectorMode, bool) {
	mode, ok := m.selectors[selector]

	return mode, ok
}

func (m *Machine) State(selector string) entity.SelectorState {
	mode, ok := m.selectors[selector]
	if !ok {
		mode = entity.ModeUseDom
	}

	return entity.SelectorState{Selector: selector, Mode: mode}
}

// History returns a copy of the command records in call order.
func (m *Machine) History() []entity.CommandRecord {
	return append([]entity.CommandRecord(nil), m.history...)
}
