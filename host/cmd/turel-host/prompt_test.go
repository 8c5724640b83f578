package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turel/core"
	"turel/host/mcu"
)

// fakeMotor records every call as a string
type fakeMotor struct {
	calls []string
	err   error
}

func (f *fakeMotor) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeMotor) Stop() error                { return f.record("stop") }
func (f *fakeMotor) Brake() error               { return f.record("brake") }
func (f *fakeMotor) Forward(speed uint32) error { return f.record("forward %d", speed) }
func (f *fakeMotor) Reverse(speed uint32) error { return f.record("reverse %d", speed) }
func (f *fakeMotor) Drive(speed int) error      { return f.record("drive %d", speed) }

func (f *fakeMotor) Queue(clock uint32, mode core.Mode, speed uint32) error {
	return f.record("queue %d %s %d", clock, mode, speed)
}

type fakeFirmware struct {
	clock   uint32
	estops  int
	state   mcu.State
	dictOut string
}

func (f *fakeFirmware) Clock() (uint32, error)     { return f.clock, nil }
func (f *fakeFirmware) Uptime() (uint64, error)    { return uint64(f.clock), nil }
func (f *fakeFirmware) ClockFreq() (uint32, error) { return 12_000_000, nil }
func (f *fakeFirmware) State() (*mcu.State, error) { return &f.state, nil }
func (f *fakeFirmware) EmergencyStop() error       { f.estops++; return nil }
func (f *fakeFirmware) PrintDictionary(w io.Writer) {
	io.WriteString(w, f.dictOut)
}
func (f *fakeFirmware) DictionaryRaw() []byte { return []byte(`{"version":"x"}`) }

func newTestSession() (*session, *fakeFirmware, *fakeMotor, *fakeMotor, *bytes.Buffer) {
	fw := &fakeFirmware{clock: 1000, dictOut: "Version: x\n"}
	out := &bytes.Buffer{}
	s := newSession(fw, nil, out)
	left, right := &fakeMotor{}, &fakeMotor{}
	s.add("left", left)
	s.add("right", right)
	return s, fw, left, right, out
}

func TestExecDrivesMotors(t *testing.T) {
	s, _, left, right, _ := newTestSession()

	require.NoError(t, s.exec("fwd left 200"))
	require.NoError(t, s.exec("REV right 17"))
	require.NoError(t, s.exec("brake left"))
	require.NoError(t, s.exec("stop all"))
	require.NoError(t, s.exec("   "))

	assert.Equal(t, []string{"forward 200", "brake", "stop"}, left.calls)
	assert.Equal(t, []string{"reverse 17", "stop"}, right.calls)
}

func TestExecRejectsBadInput(t *testing.T) {
	s, _, left, _, _ := newTestSession()

	tests := []struct {
		line string
		want string
	}{
		{"fwd", "usage: fwd"},
		{"fwd middle 10", "unknown motor"},
		{"fwd left fast", "bad speed"},
		{"fwd left -3", "bad speed"},
		{"stop", "usage: stop"},
		{"queue left", "usage: queue"},
		{"queue left soon fwd", "bad delay"},
		{"queue left 10 spin", "bad mode"},
		{"jump", "unknown command"},
		{`fwd "left 10`, "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.ErrorContains(t, s.exec(tt.line), tt.want)
		})
	}
	assert.Empty(t, left.calls)
}

func TestExecQueueConvertsDelayToClock(t *testing.T) {
	s, _, left, _, out := newTestSession()

	// 12 MHz clock: 5 ms is 60000 ticks
	require.NoError(t, s.exec("queue left 5 fwd 90"))
	require.NoError(t, s.exec("queue left 0 coast"))

	assert.Equal(t, []string{"queue 61000 forward 90", "queue 1000 stop 0"}, left.calls)
	assert.Contains(t, out.String(), "left forward at clock 61000")
}

func TestExecStopAllJoinsErrors(t *testing.T) {
	s, _, left, right, _ := newTestSession()
	left.err = errors.New("nak")

	err := s.exec("stop all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left: nak")
	assert.Equal(t, []string{"stop"}, right.calls)
}

func TestExecFirmwareCommands(t *testing.T) {
	s, fw, _, _, out := newTestSession()
	fw.state = mcu.State{IsConfig: true, CRC: 0xabcd}

	require.NoError(t, s.exec("estop"))
	assert.Equal(t, 1, fw.estops)

	require.NoError(t, s.exec("status"))
	assert.Contains(t, out.String(), "clock=1000 uptime=1000 configured=true crc=0x0000abcd shutdown=false")

	require.NoError(t, s.exec("dict"))
	assert.Contains(t, out.String(), "Version: x")

	require.NoError(t, s.exec("raw"))
	assert.Contains(t, out.String(), `Raw dictionary data (15 bytes)`)

	require.NoError(t, s.exec("motors"))
	assert.Contains(t, out.String(), "  left\n  right\n")
}

func TestRunStopsAtQuit(t *testing.T) {
	s, _, left, _, out := newTestSession()

	in := strings.NewReader("fwd left 5\nbogus\nquit\nfwd left 6\n")
	require.NoError(t, s.run(in))

	assert.Equal(t, []string{"forward 5"}, left.calls)
	assert.Contains(t, out.String(), `error: unknown command "bogus"`)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]core.Mode{
		"stop": core.ModeStop, "coast": core.ModeStop,
		"brake": core.ModeBrake,
		"fwd": core.ModeForward, "Forward": core.ModeForward,
		"rev": core.ModeReverse, "reverse": core.ModeReverse,
	} {
		got, err := parseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseMode("idle")
	assert.Error(t, err)
}
