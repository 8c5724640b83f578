package core

import (
	"sync/atomic"

	"turel/protocol"
)

// FirmwareState is the state reported by get_config
type FirmwareState struct {
	configCRC  uint32 // atomic
	isShutdown uint32 // atomic bool
	moveCount  uint16
}

var globalState = &FirmwareState{moveCount: 16}

// ResponseSender frames outgoing messages; *protocol.Transport implements it
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

var globalTransport ResponseSender

// SetGlobalTransport sets the sender used for responses
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

var (
	globalResetHandler func()
	resetPending       uint32 // atomic bool; reset runs after the ACK is out
)

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

// InitCoreCommands registers the link-level commands.
// identify_response and identify must be IDs 0 and 1: the host uses them
// before it has a dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
	RegisterResponse("shutdown", "clock=%u reason=%*s")

	RegisterConstant("PROTOCOL_VERSION", protocol.Version)
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	count = min(count, identifyChunkMax(offset))
	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// identifyChunkMax is the largest chunk whose identify_response still fits
// one frame: the payload holds the 1-byte response ID, the offset and a
// 1-byte length prefix ahead of the data.
func identifyChunkMax(offset uint32) uint32 {
	overhead := 2 + len(protocol.EncodeVLQ(int32(offset)))
	return uint32(protocol.MessageLengthMax - protocol.MessageLengthMin - overhead)
}

func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

func handleGetClock(data *[]byte) error {
	clock := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolToUint(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolToUint(IsShutdown()))
		protocol.EncodeVLQUint(output, uint32(globalState.moveCount))
	})
	return nil
}

// handleConfigReset drops every configured motor so the host can start over
func handleConfigReset(data *[]byte) error {
	resetMotors()
	atomic.StoreUint32(&globalState.configCRC, 0)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

// handleAllocateOids is accepted for host compatibility; OIDs index maps, not arrays
func handleAllocateOids(data *[]byte) error {
	_, err := protocol.DecodeVLQUint(data)
	return err
}

func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

// handleReset defers the reset to the main loop so the ACK gets out first
func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// TryShutdown coasts every motor, enters the shutdown state and tells the host why
func TryShutdown(reason string) {
	wasShutdown := atomic.SwapUint32(&globalState.isShutdown, 1) != 0
	ShutdownAllMotors()
	if wasShutdown {
		return
	}
	DebugPrintln("[core] shutdown: " + reason)
	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, GetTime())
		protocol.EncodeVLQString(output, reason)
	})
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ResetFirmwareState forgets all motors and clears shutdown after a host reconnect
func ResetFirmwareState() {
	resetMotors()
	atomic.StoreUint32(&globalState.configCRC, 0)
	atomic.StoreUint32(&globalState.isShutdown, 0)
}

// CheckPendingReset runs the reset handler once a reset has been requested
func CheckPendingReset() {
	if atomic.LoadUint32(&resetPending) != 0 && globalResetHandler != nil {
		globalResetHandler()
	}
}

// SendResponse frames a registered response through the global transport
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		panic("response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
