package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	speedStep = 32
	maxSpeed  = 255
	maxLogs   = 5
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	motorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Foreground(lipgloss.Color("9"))
)

// driveState is what the UI believes a motor is doing
type driveState struct {
	speed  int // signed: positive forward, negative reverse
	braked bool
}

// motorResultMsg reports the outcome of one motor command
type motorResultMsg struct {
	name string
	err  error
}

type driveModel struct {
	s        *session
	w        *motorWorker
	selected int
	states   map[string]driveState
	logs     []string
	quitting bool
}

func newDriveModel(s *session) driveModel {
	return driveModel{s: s, w: newMotorWorker(), states: make(map[string]driveState)}
}

func (m *driveModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// motorJobQueue bounds how far key presses may run ahead of the firmware
const motorJobQueue = 64

type motorJob struct {
	fn   func() error
	done chan error
}

// motorWorker applies motor commands one at a time in submission order.
// bubbletea runs each Cmd on its own goroutine, so the Cmd only waits for
// the result and the order is fixed when Update submits.
type motorWorker struct {
	jobs chan motorJob
}

func newMotorWorker() *motorWorker {
	w := &motorWorker{jobs: make(chan motorJob, motorJobQueue)}
	go func() {
		for j := range w.jobs {
			j.done <- j.fn()
		}
	}()
	return w
}

// command queues fn and returns a Cmd reporting its result.
// Call it only from Update.
func (w *motorWorker) command(name string, fn func() error) tea.Cmd {
	done := make(chan error, 1)
	w.jobs <- motorJob{fn: fn, done: done}
	return func() tea.Msg {
		return motorResultMsg{name: name, err: <-done}
	}
}

func (w *motorWorker) close() {
	close(w.jobs)
}

func (m driveModel) Init() tea.Cmd {
	return nil
}

func (m driveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case motorResultMsg:
		if msg.err != nil {
			m.addLog(fmt.Sprintf("%s: %v", msg.name, msg.err))
		}
		return m, nil

	case tea.KeyMsg:
		if len(m.s.names) == 0 {
			if k := msg.String(); k == "q" || k == "ctrl+c" {
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		}
		name := m.s.names[m.selected]
		mo := m.s.motors[name]
		st := m.states[name]

		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.s.names)-1 {
				m.selected++
			}

		case "right", "l", "left", "h":
			step := speedStep
			if k := msg.String(); k == "left" || k == "h" {
				step = -speedStep
			}
			st.speed = min(max(st.speed+step, -maxSpeed), maxSpeed)
			st.braked = false
			m.states[name] = st
			speed := st.speed
			return m, m.w.command(name, func() error { return mo.Drive(speed) })

		case " ":
			m.states[name] = driveState{}
			return m, m.w.command(name, mo.Stop)

		case "b":
			m.states[name] = driveState{braked: true}
			return m, m.w.command(name, mo.Brake)

		case "x":
			cmds := make([]tea.Cmd, 0, len(m.s.names))
			for _, n := range m.s.names {
				m.states[n] = driveState{}
				cmds = append(cmds, m.w.command(n, m.s.motors[n].Stop))
			}
			return m, tea.Batch(cmds...)
		}
	}
	return m, nil
}

func (m driveModel) View() string {
	if m.quitting {
		return "Drive stopped.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("MX1508 Drive"))
	sb.WriteString("\n\n")

	if len(m.s.names) == 0 {
		sb.WriteString(statusStyle.Render("No motors configured"))
		sb.WriteString("\n")
	}
	for i, name := range m.s.names {
		line := fmt.Sprintf("%-12s %s", name, describe(m.states[name]))
		if i == m.selected {
			sb.WriteString(selectedStyle.Render("> " + line))
		} else {
			sb.WriteString(motorStyle.Render("  " + line))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(m.logs) > 0 {
		sb.WriteString(errorStyle.Render(strings.Join(m.logs, "\n")))
		sb.WriteString("\n")
	}
	sb.WriteString(statusStyle.Render("↑/↓ select  ←/→ speed  space stop  b brake  x stop all  q quit"))
	sb.WriteString("\n")
	return sb.String()
}

func describe(st driveState) string {
	switch {
	case st.braked:
		return "brake"
	case st.speed > 0:
		return fmt.Sprintf("forward %3d %s", st.speed, bar(st.speed))
	case st.speed < 0:
		return fmt.Sprintf("reverse %3d %s", -st.speed, bar(-st.speed))
	default:
		return "stop"
	}
}

func bar(speed int) string {
	n := speed * 16 / maxSpeed
	return strings.Repeat("█", n) + strings.Repeat("·", 16-n)
}

// runDrive runs the interactive drive UI until the user quits
func runDrive(s *session) error {
	m := newDriveModel(s)
	defer m.w.close()
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
