package protocol

import "sync/atomic"

// CommandHandler handles one decoded command; it must consume its arguments from data
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link
type Transport struct {
	isSynchronized uint32 // atomic bool
	nextSequence   uint32 // atomic; expected host sequence, echoed in ACKs and responses

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
	errorCallback func(cmdID uint16, err error)
}

// NewTransport creates a transport writing frames to output
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		nextSequence:   MessageDest,
		output:         output,
		handler:        handler,
	}
}

// Receive consumes every complete frame in input, dispatching in-sequence
// frames and acknowledging each one.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			rest, ok := skipToSync(data)
			data = rest
			if ok {
				t.setSynchronized(true)
				t.encodeAckNak()
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

		seq := data[MessagePositionSeq]
		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(nextSequence(seq)))
			t.parseFrame(frame)
		}
		// A stale sequence gets the same ACK, which the host reads as a NAK
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every command in frame. A malformed ID or a handler
// panic desynchronises the link; handler errors only stop this frame.
func (t *Transport) parseFrame(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			if t.errorCallback != nil {
				t.errorCallback(uint16(cmdID), err)
			}
			return
		}
	}
}

// encodeAckNak writes an empty frame carrying the next expected sequence
// and flushes it ahead of any queued responses
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	crc := CRC16([]byte{MessageLengthMin, ns})
	t.output.Output([]byte{MessageLengthMin, ns, uint8(crc >> 8), uint8(crc), MessageValueSync})

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	// Patch the length now that the payload size is known
	t.output.Update(cursor, uint8(len(t.output.DataSince(cursor))+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand frames a message ID and its arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback run when the host restarts its sequence
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback that pushes ACKs out immediately
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorCallback sets a callback for command handler errors
func (t *Transport) SetErrorCallback(callback func(cmdID uint16, err error)) {
	t.errorCallback = callback
}

func (t *Transport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}
