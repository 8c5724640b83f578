package protocol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout bounds how long SendCommand waits for the firmware ACK
const DefaultAckTimeout = 2 * time.Second

var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler receives responses asynchronously, after the command ID has been decoded
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link: it sends commands, waits for
// ACKs and collects responses from a background reader.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq     uint32 // atomic; 0x10-0x1F
	isSynchronized uint32 // atomic bool

	inputBuffer *FifoBuffer

	ackChan      chan *Message
	responseChan chan *Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	writeMutex sync.Mutex
	readMutex  sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport starts a reader on port and returns the transport
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:           port,
		currentSeq:     MessageDest,
		isSynchronized: 1,
		inputBuffer:    NewFifoBuffer(1024),
		ackChan:        make(chan *Message, 1),
		responseChan:   make(chan *Message, 16),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}

	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout sends a command and waits up to timeout for its ACK
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	msg, err := t.buildCommandMessage(cmdID, args)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}

	// Drop a stale ACK left over from a previous timeout
	select {
	case <-t.ackChan:
	default:
	}

	if err := t.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := t.waitForAck(timeout); err != nil {
		return fmt.Errorf("ACK timeout or error: %w", err)
	}
	return nil
}

func (t *HostTransport) buildCommandMessage(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	return EncodeMessage(seq, scratch.Result())
}

func (t *HostTransport) writeMessage(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitForAck waits for the ACK that carries the sequence after ours
func (t *HostTransport) waitForAck(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sent := uint8(atomic.LoadUint32(&t.currentSeq))
	want := nextSequence(sent)

	select {
	case ack := <-t.ackChan:
		if ack.Sequence != want {
			// NAK: adopt the firmware's sequence so a retry lines up
			atomic.StoreUint32(&t.currentSeq, uint32(ack.Sequence))
			return fmt.Errorf("NAK: firmware expects sequence 0x%02x", ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(want))
		return nil

	case <-timer.C:
		return fmt.Errorf("no ACK after %v", timeout)

	case <-t.stopChan:
		return ErrTransportClosed
	}
}

// ReceiveResponse returns the next response frame
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler sets a callback for every response frame
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.responseHandler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.readMutex.Lock()
			t.inputBuffer.Write(buffer[:n])
			t.processMessages()
			t.readMutex.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return
			}
			// A read timeout surfaces as EOF on serial ports; keep polling
			select {
			case <-t.stopChan:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// processMessages parses complete frames from the input buffer.
// Caller must hold readMutex.
func (t *HostTransport) processMessages() {
	data := t.inputBuffer.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			rest, ok := skipToSync(data)
			data = rest
			if ok {
				t.setSynchronized(true)
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, err := scanFrame(data)
		if err != nil {
			t.setSynchronized(false)
			continue
		}
		if msgLen == 0 {
			break
		}

		msg, err := DecodeMessage(data[:msgLen])
		data = data[msgLen:]
		if err == nil {
			t.dispatchMessage(msg)
		}
	}

	if consumed := t.inputBuffer.Available() - len(data); consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatchMessage routes empty frames to the ACK channel and everything else
// to the response handler and channel
func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
			// Keep only the newest ACK
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- msg
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		payload := append([]byte(nil), msg.Payload...)
		if cmdID, err := DecodeVLQUint(&payload); err == nil {
			_ = handler(uint16(cmdID), &payload)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Full: drop the oldest response
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		// Closing the port unblocks a pending Read
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// GetCurrentSequence returns the sequence the next command will carry
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}

func (t *HostTransport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *HostTransport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}
