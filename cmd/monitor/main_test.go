package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestRowsForFormatsOptionalFields(t *testing.T) {
	v := int32(42)
	id := 3
	rows := rowsFor(statusResponse{
		Datapoints: []datapointStatus{
			{Datapoint: 7, Event: "SWITCH", NewValue: &v, ActiveMessageID: &id, TimeoutMillis: 1200, StatusRequests: 1},
			{Datapoint: 9, Event: "REQUEST"},
		},
	})

	assert.Len(t, rows, 2)
	assert.Equal(t, "7", rows[0][0])
	assert.Equal(t, "42", rows[0][2])
	assert.Equal(t, "3", rows[0][4])
	assert.Equal(t, "-", rows[1][2], "entries without a pending value render as a dash")
}

func TestUpdateQuitsOnQ(t *testing.T) {
	m := newModel("127.0.0.1:8686")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.NotNil(t, cmd)
	assert.IsType(t, tea.Quit(), cmd())
}

func TestUpdateStoresErrorAndKeepsPolling(t *testing.T) {
	m := newModel("127.0.0.1:8686")
	next, cmd := m.Update(statusMsg{err: assertErr{}})

	updated := next.(model)
	assert.Error(t, updated.lastErr)
	assert.NotNil(t, cmd, "should schedule another poll even after an error")
}

func TestUpdateStoresStatusAndClearsError(t *testing.T) {
	m := newModel("127.0.0.1:8686")
	m.lastErr = assertErr{}

	next, _ := m.Update(statusMsg{status: statusResponse{Connected: true, Window: windowStatus{InTransit: 1, Max: 1}}})

	updated := next.(model)
	assert.NoError(t, updated.lastErr)
	assert.True(t, updated.status.Connected)
	assert.Equal(t, 1, updated.status.Window.InTransit)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
