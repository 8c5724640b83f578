package mcu

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"turel/host/serial"
	"turel/protocol"
)

const (
	// Fixed IDs; the host needs them before it has a dictionary
	identifyResponseID = 0
	identifyID         = 1

	identifyChunkSize = 40

	// DefaultResponseTimeout bounds how long a query waits for its response
	DefaultResponseTimeout = time.Second
)

var (
	ErrNotConnected   = errors.New("not connected to MCU")
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownMotor   = errors.New("unknown motor")
	ErrFirmwareHalted = errors.New("firmware is shut down")
)

// MCU is a connection to the motor firmware
type MCU struct {
	logger *slog.Logger

	transport *protocol.HostTransport

	// Written once by RetrieveDictionary, read by the response handler goroutine
	dictionary     atomic.Pointer[Dictionary]
	dictionaryData []byte

	// queryMu keeps one request/response exchange in flight at a time
	queryMu sync.Mutex

	ResponseTimeout time.Duration

	shutdownMu     sync.Mutex
	shutdownReason string
}

// NewMCU creates an unconnected MCU client
func NewMCU(logger *slog.Logger) *MCU {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MCU{
		logger:          logger,
		ResponseTimeout: DefaultResponseTimeout,
	}
}

// Connect opens the serial port described by cfg
func (m *MCU) Connect(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	m.logger.Info("serial port open", "device", cfg.Device, "baud", cfg.Baud)
	m.Attach(port)

	// Give a freshly enumerated device a moment before the first frame
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach starts the protocol on an already open port
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
}

// Close stops the transport and closes the port
func (m *MCU) Close() error {
	if m.transport == nil {
		return nil
	}
	err := m.transport.Close()
	m.transport = nil
	return err
}

// RetrieveDictionary reads the compressed dictionary in identify chunks,
// inflates it and parses it
func (m *MCU) RetrieveDictionary() error {
	if m.transport == nil {
		return ErrNotConnected
	}

	var buf bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := m.identify(offset, identifyChunkSize)
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		m.logger.Debug("dictionary chunk", "offset", offset)

		if len(chunk) < identifyChunkSize {
			break
		}
	}

	compressed := buf.Len()
	r, err := zlib.NewReader(&buf)
	if err != nil {
		return fmt.Errorf("decompress dictionary: %w", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return fmt.Errorf("decompress dictionary: %w", err)
	}

	dict, err := ParseDictionary(data)
	if err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	m.dictionaryData = data
	m.dictionary.Store(dict)
	m.logger.Info("dictionary loaded", "version", dict.Version, "bytes", len(data),
		"compressed", compressed, "commands", len(dict.Commands), "responses", len(dict.Responses))
	return nil
}

func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	err := m.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("send identify: %w", err)
	}

	payload, err := m.awaitResponse(identifyResponseID)
	if err != nil {
		return nil, err
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode identify offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("identify offset mismatch: expected %d, got %d", offset, respOffset)
	}
	return protocol.DecodeVLQBytes(&payload)
}

// awaitResponse returns the payload of the next response with id, after the ID.
// Other responses arriving in between are dropped.
func (m *MCU) awaitResponse(id uint16) ([]byte, error) {
	deadline := time.Now().Add(m.ResponseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no response %d within %v", id, m.ResponseTimeout)
		}
		msg, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}

		payload := msg.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		if uint16(got) == id {
			return payload, nil
		}
		m.logger.Debug("skipping response", "id", got, "want", id)
	}
}

// handleResponse sees every response as it arrives
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	dict := m.dictionary.Load()
	if dict == nil {
		return nil
	}
	f, ok := dict.Response(cmdID)
	if !ok {
		m.logger.Warn("unknown response", "id", cmdID)
		return nil
	}
	if f.Name != "shutdown" {
		return nil
	}

	resp, err := f.Decode(*data)
	if err != nil {
		return err
	}
	reason := string(resp.Buffers["reason"])
	m.shutdownMu.Lock()
	m.shutdownReason = reason
	m.shutdownMu.Unlock()
	m.logger.Error("firmware shutdown", "reason", reason, "clock", resp.Uint("clock"))
	return nil
}

// ShutdownReason returns why the firmware last shut down, or ""
func (m *MCU) ShutdownReason() string {
	m.shutdownMu.Lock()
	defer m.shutdownMu.Unlock()
	return m.shutdownReason
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	return m.dictionary.Load()
}

// DictionaryRaw returns the dictionary JSON as served by the firmware
func (m *MCU) DictionaryRaw() []byte {
	return m.dictionaryData
}

func (m *MCU) lookup(name string) (*MessageFormat, error) {
	if m.transport == nil {
		return nil, ErrNotConnected
	}
	dict := m.dictionary.Load()
	if dict == nil {
		return nil, ErrNoDictionary
	}
	f, ok := dict.Command(name)
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	return f, nil
}

// SendCommand sends a command by name and waits for the ACK
func (m *MCU) SendCommand(name string, args ...uint32) error {
	f, err := m.lookup(name)
	if err != nil {
		return err
	}
	enc, err := f.Encode(args)
	if err != nil {
		return err
	}
	m.logger.Debug("send", "command", name, "args", args)
	if err := m.transport.SendCommand(f.ID, enc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Query sends a command and waits for the named response
func (m *MCU) Query(name, responseName string, args ...uint32) (*Response, error) {
	f, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	respFormat, ok := m.Dictionary().ResponseByName(responseName)
	if !ok {
		return nil, fmt.Errorf("unknown response: %s", responseName)
	}
	enc, err := f.Encode(args)
	if err != nil {
		return nil, err
	}

	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	if err := m.transport.SendCommand(f.ID, enc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	payload, err := m.awaitResponse(respFormat.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return respFormat.Decode(payload)
}

// Clock returns the firmware clock
func (m *MCU) Clock() (uint32, error) {
	resp, err := m.Query("get_clock", "clock")
	if err != nil {
		return 0, err
	}
	return resp.Uint("clock"), nil
}

// Uptime returns the firmware uptime in clock ticks
func (m *MCU) Uptime() (uint64, error) {
	resp, err := m.Query("get_uptime", "uptime")
	if err != nil {
		return 0, err
	}
	return uint64(resp.Uint("high"))<<32 | uint64(resp.Uint("clock")), nil
}

// State is the firmware's answer to get_config
type State struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
	MoveCount  uint32
}

// State queries the firmware configuration state
func (m *MCU) State() (*State, error) {
	resp, err := m.Query("get_config", "config")
	if err != nil {
		return nil, err
	}
	return &State{
		IsConfig:   resp.Uint("is_config") != 0,
		CRC:        resp.Uint("crc"),
		IsShutdown: resp.Uint("is_shutdown") != 0,
		MoveCount:  resp.Uint("move_count"),
	}, nil
}

// EmergencyStop coasts every motor and puts the firmware in shutdown
func (m *MCU) EmergencyStop() error {
	return m.SendCommand("emergency_stop")
}

// ClockFreq returns the firmware clock rate in Hz
func (m *MCU) ClockFreq() (uint32, error) {
	dict := m.Dictionary()
	if dict == nil {
		return 0, ErrNoDictionary
	}
	return dict.ConfigUint("CLOCK_FREQ")
}

// PrintDictionary writes a summary of the dictionary to w
func (m *MCU) PrintDictionary(w io.Writer) {
	d := m.Dictionary()
	if d == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintf(w, "Version: %s (%s)\n", d.Version, d.BuildVersions)
	fmt.Fprintln(w, "Config:")
	for _, k := range sortedKeys(d.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, d.Config[k])
	}
	fmt.Fprintf(w, "Commands (%d):\n", len(d.Commands))
	for _, sig := range sortedByID(d.Commands) {
		fmt.Fprintf(w, "  [%d] %s\n", d.Commands[sig], sig)
	}
	fmt.Fprintf(w, "Responses (%d):\n", len(d.Responses))
	for _, sig := range sortedByID(d.Responses) {
		fmt.Fprintf(w, "  [%d] %s\n", d.Responses[sig], sig)
	}
	for _, name := range sortedKeys(d.Enumerations) {
		fmt.Fprintf(w, "Enumeration %s: %d values\n", name, len(d.Enumerations[name]))
	}
}
