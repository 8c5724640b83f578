package core

import (
	"strings"
	"testing"

	"turel/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistrySequentialIDs(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	id3 := registry.Register("command3", "arg3=%u", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}

	if again := registry.Register("command2", "other=%u", nil); again != id2 {
		t.Errorf("Re-registering command2 returned %d, expected %d", again, id2)
	}
	if registry.Count() != 3 {
		t.Errorf("Expected 3 commands, got %d", registry.Count())
	}
}

func TestCommandRegistryResponsesNotDispatchable(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.Register("clock", "clock=%u", nil)

	var data []byte
	err := registry.Dispatch(id, &data)
	if err == nil || !strings.Contains(err.Error(), "not a command") {
		t.Errorf("Expected 'not a command' error, got %v", err)
	}
}

func TestCommandRegistrySplitsCommandsAndResponses(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("identify_response", "offset=%u data=%*s", nil)
	registry.Register("identify", "offset=%u count=%c", func(data *[]byte) error { return nil })
	registry.Register("get_clock", "", func(data *[]byte) error { return nil })

	commands, responses := registry.GetCommandsAndResponses()
	if commands["identify offset=%u count=%c"] != 1 {
		t.Errorf("identify: %v", commands)
	}
	if _, ok := commands["get_clock"]; !ok {
		t.Errorf("get_clock missing or formatted wrongly: %v", commands)
	}
	if responses["identify_response offset=%u data=%*s"] != 0 {
		t.Errorf("identify_response: %v", responses)
	}

	dict := registry.GetDictionary()
	if !strings.HasPrefix(dict, "identify_response offset=%u data=%*s\n") {
		t.Errorf("Dictionary not in ID order:\n%s", dict)
	}
}

// sentMessage is one response captured by recordingSender
type sentMessage struct {
	id   uint16
	args []byte
}

type recordingSender struct {
	sent []sentMessage
}

func (r *recordingSender) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	payload := make([]byte, len(out.Result()))
	copy(payload, out.Result())
	r.sent = append(r.sent, sentMessage{id: cmdID, args: payload})
}

func (r *recordingSender) last(t *testing.T) sentMessage {
	t.Helper()
	if len(r.sent) == 0 {
		t.Fatal("No response sent")
	}
	return r.sent[len(r.sent)-1]
}

func setupCoreCommands(t *testing.T) *recordingSender {
	t.Helper()
	InitCoreCommands()
	InitMotorCommands()
	sender := &recordingSender{}
	SetGlobalTransport(sender)
	setupMotorTest(t)
	t.Cleanup(func() { SetGlobalTransport(nil) })
	return sender
}

func responseID(t *testing.T, name string) uint16 {
	t.Helper()
	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		t.Fatalf("Response %s not registered", name)
	}
	return cmd.ID
}

func decodeAll(t *testing.T, data []byte, n int) []uint32 {
	t.Helper()
	values := make([]uint32, n)
	for i := range values {
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			t.Fatalf("Decoding value %d: %v", i, err)
		}
		values[i] = v
	}
	return values
}

func TestCoreCommandIDs(t *testing.T) {
	setupCoreCommands(t)

	if id := responseID(t, "identify_response"); id != 0 {
		t.Errorf("identify_response must be ID 0, got %d", id)
	}
	if id := responseID(t, "identify"); id != 1 {
		t.Errorf("identify must be ID 1, got %d", id)
	}
}

func TestGetClock(t *testing.T) {
	sender := setupCoreCommands(t)
	SetTime(123456)

	if err := run(t, handleGetClock); err != nil {
		t.Fatal(err)
	}
	msg := sender.last(t)
	if msg.id != responseID(t, "clock") {
		t.Errorf("Expected clock response, got ID %d", msg.id)
	}
	if v := decodeAll(t, msg.args, 1); v[0] != 123456 {
		t.Errorf("Expected clock 123456, got %d", v[0])
	}
}

func TestGetUptime(t *testing.T) {
	sender := setupCoreCommands(t)
	SetTime(777)

	if err := run(t, handleGetUptime); err != nil {
		t.Fatal(err)
	}
	msg := sender.last(t)
	if msg.id != responseID(t, "uptime") {
		t.Errorf("Expected uptime response, got ID %d", msg.id)
	}
	if v := decodeAll(t, msg.args, 2); v[0] != 0 || v[1] != 777 {
		t.Errorf("Expected uptime 0/777, got %v", v)
	}
}

func TestConfigLifecycle(t *testing.T) {
	sender := setupCoreCommands(t)

	if err := run(t, handleGetConfig); err != nil {
		t.Fatal(err)
	}
	if v := decodeAll(t, sender.last(t).args, 4); v[0] != 0 || v[1] != 0 || v[2] != 0 {
		t.Errorf("Fresh firmware should be unconfigured, got %v", v)
	}

	if err := run(t, handleFinalizeConfig, 0xCAFE); err != nil {
		t.Fatal(err)
	}
	if err := run(t, handleGetConfig); err != nil {
		t.Fatal(err)
	}
	if v := decodeAll(t, sender.last(t).args, 4); v[0] != 1 || v[1] != 0xCAFE {
		t.Errorf("Expected is_config=1 crc=0xCAFE, got %v", v)
	}

	if err := run(t, handleConfigReset); err != nil {
		t.Fatal(err)
	}
	if err := run(t, handleGetConfig); err != nil {
		t.Fatal(err)
	}
	if v := decodeAll(t, sender.last(t).args, 4); v[0] != 0 {
		t.Errorf("Expected is_config=0 after config_reset, got %v", v)
	}
}

func TestEmergencyStopReportsShutdown(t *testing.T) {
	sender := setupCoreCommands(t)

	if err := run(t, handleEmergencyStop); err != nil {
		t.Fatal(err)
	}
	msg := sender.last(t)
	if msg.id != responseID(t, "shutdown") {
		t.Fatalf("Expected shutdown response, got ID %d", msg.id)
	}
	data := msg.args
	if _, err := protocol.DecodeVLQUint(&data); err != nil {
		t.Fatal(err)
	}
	reason, err := protocol.DecodeVLQString(&data)
	if err != nil || reason != "emergency stop" {
		t.Errorf("Expected reason 'emergency stop', got %q (%v)", reason, err)
	}

	// A second stop does not report again
	count := len(sender.sent)
	if err := run(t, handleEmergencyStop); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != count {
		t.Error("Repeated emergency stop sent another shutdown")
	}

	if err := run(t, handleGetConfig); err != nil {
		t.Fatal(err)
	}
	if v := decodeAll(t, sender.last(t).args, 4); v[2] != 1 {
		t.Errorf("Expected is_shutdown=1, got %v", v)
	}
}

func TestResetIsDeferred(t *testing.T) {
	setupCoreCommands(t)

	var resets int
	SetResetHandler(func() { resets++ })
	t.Cleanup(func() {
		SetResetHandler(nil)
		resetPending = 0
	})

	CheckPendingReset()
	if resets != 0 {
		t.Fatal("Reset ran without being requested")
	}

	if err := run(t, handleReset); err != nil {
		t.Fatal(err)
	}
	if resets != 0 {
		t.Fatal("Reset must not run inside the command handler")
	}
	CheckPendingReset()
	if resets != 1 {
		t.Errorf("Expected one reset, got %d", resets)
	}
}

func TestIdentifyServesDictionary(t *testing.T) {
	sender := setupCoreCommands(t)
	dict := GetGlobalDictionary().Generate()

	var got []byte
	for offset := uint32(0); ; {
		if err := run(t, handleIdentify, offset, 40); err != nil {
			t.Fatal(err)
		}
		msg := sender.last(t)
		if msg.id != 0 {
			t.Fatalf("Expected identify_response, got ID %d", msg.id)
		}
		data := msg.args
		gotOffset, err := protocol.DecodeVLQUint(&data)
		if err != nil || gotOffset != offset {
			t.Fatalf("Expected offset %d, got %d (%v)", offset, gotOffset, err)
		}
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
		offset += uint32(len(chunk))
	}

	if raw := inflate(t, got); string(raw) != string(dict) {
		t.Errorf("Reassembled dictionary differs:\n%s\n%s", raw, dict)
	}
}

func TestIdentifyChunkFitsOneFrame(t *testing.T) {
	sender := setupCoreCommands(t)
	full := GetGlobalDictionary().Compressed()

	for _, offset := range []uint32{0, 95, 96, 4096} {
		if err := run(t, handleIdentify, offset, 255); err != nil {
			t.Fatal(err)
		}
		msg := sender.last(t)

		payload := append(protocol.EncodeVLQ(int32(msg.id)), msg.args...)
		frame, err := protocol.EncodeMessage(0x10, payload)
		if err != nil {
			t.Fatalf("offset %d: identify_response does not fit a frame (%d payload bytes): %v",
				offset, len(payload), err)
		}
		if _, err := protocol.DecodeMessage(frame); err != nil {
			t.Fatalf("offset %d: frame rejected: %v", offset, err)
		}

		data := msg.args
		if _, err := protocol.DecodeVLQUint(&data); err != nil {
			t.Fatal(err)
		}
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			t.Fatal(err)
		}
		if offset < uint32(len(full)) && len(chunk) == 0 {
			t.Errorf("offset %d: expected a non-empty chunk", offset)
		}
	}
}

func TestSendResponseWithoutTransport(t *testing.T) {
	SetGlobalTransport(nil)
	// Must not panic before a transport exists
	SendResponse("no_such_response", nil)
}
