package core

import "testing"

func TestDebugPrintln(t *testing.T) {
	SetGlobalTransport(nil)
	ResetFirmwareState()
	t.Cleanup(func() {
		SetDebugWriter(nil)
		ResetFirmwareState()
	})

	// No writer installed: must not panic
	DebugPrintln("dropped")

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	TryShutdown("debug test")

	if len(lines) == 0 || lines[len(lines)-1] != "[core] shutdown: debug test" {
		t.Errorf("Expected shutdown to be logged, got %q", lines)
	}
}
