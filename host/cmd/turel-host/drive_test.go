package main

import (
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds one key and runs the resulting command, as the bubbletea runtime would
func press(t *testing.T, m driveModel, k string) driveModel {
	t.Helper()
	next, cmd := m.Update(key(k))
	m = next.(driveModel)
	for _, msg := range runCmd(cmd) {
		next, _ = m.Update(msg)
		m = next.(driveModel)
	}
	return m
}

func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, c := range batch {
			msgs = append(msgs, runCmd(c)...)
		}
		return msgs
	}
	return []tea.Msg{msg}
}

func TestDriveSpeedKeys(t *testing.T) {
	s, _, left, _, _ := newTestSession()
	m := newDriveModel(s)

	m = press(t, m, "right")
	m = press(t, m, "right")
	m = press(t, m, "left")
	for range 10 {
		m = press(t, m, "left")
	}

	assert.Equal(t, []string{"drive 32", "drive 64", "drive 32",
		"drive 0", "drive -32", "drive -64", "drive -96", "drive -128",
		"drive -160", "drive -192", "drive -224", "drive -255", "drive -255"}, left.calls)
	assert.Equal(t, -255, m.states["left"].speed)
	assert.Contains(t, m.View(), "reverse 255")
}

func TestDriveCommandsApplyInKeyOrder(t *testing.T) {
	s, _, left, right, _ := newTestSession()
	m := newDriveModel(s)
	defer m.w.close()

	var cmds []tea.Cmd
	for _, k := range []string{"right", "right", "right", "left", " ", "b", "right", "x"} {
		next, cmd := m.Update(key(k))
		m = next.(driveModel)
		require.NotNil(t, cmd)
		cmds = append(cmds, cmd)
	}

	// The runtime gives each Cmd its own goroutine; start them newest first
	var wg sync.WaitGroup
	for i := len(cmds) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(c tea.Cmd) {
			defer wg.Done()
			runCmd(c)
		}(cmds[i])
	}
	wg.Wait()

	assert.Equal(t, []string{"drive 32", "drive 64", "drive 96", "drive 64",
		"stop", "brake", "drive 32", "stop"}, left.calls)
	assert.Equal(t, []string{"stop"}, right.calls)
}

func TestDriveSelectionAndStops(t *testing.T) {
	s, _, left, right, _ := newTestSession()
	m := newDriveModel(s)

	m = press(t, m, "up")
	assert.Equal(t, 0, m.selected)
	m = press(t, m, "down")
	m = press(t, m, "down")
	assert.Equal(t, 1, m.selected)

	m = press(t, m, "right")
	m = press(t, m, "b")
	assert.True(t, m.states["right"].braked)
	assert.Contains(t, m.View(), "brake")

	m = press(t, m, " ")
	m = press(t, m, "x")

	assert.Empty(t, m.states["right"].speed)
	assert.Equal(t, []string{"stop"}, left.calls)
	assert.Equal(t, []string{"drive 32", "brake", "stop", "stop"}, right.calls)
}

func TestDriveLogsMotorErrors(t *testing.T) {
	s, _, left, _, _ := newTestSession()
	left.err = errors.New("firmware is shut down")
	m := newDriveModel(s)

	for range 7 {
		m = press(t, m, "right")
	}
	require.Len(t, m.logs, maxLogs)
	assert.Contains(t, m.View(), "left: firmware is shut down")
}

func TestDriveQuit(t *testing.T) {
	s, _, _, _, _ := newTestSession()
	m := newDriveModel(s)

	next, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "Drive stopped.\n", next.View())
}

func TestDriveWithoutMotors(t *testing.T) {
	m := newDriveModel(newSession(&fakeFirmware{}, nil, nil))

	next, cmd := m.Update(key("right"))
	assert.Nil(t, cmd)
	assert.Contains(t, next.View(), "No motors configured")

	_, cmd = next.Update(key("ctrl+c"))
	require.NotNil(t, cmd)
}
