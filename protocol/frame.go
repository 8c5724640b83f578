package protocol

import "errors"

// ErrBadFrame marks bytes at the head of the stream that are not a valid frame
var ErrBadFrame = errors.New("bad frame")

// scanFrame checks for a complete frame at the start of data.
// It returns the frame length, 0 if more bytes are needed, or ErrBadFrame.
func scanFrame(data []byte) (int, error) {
	if len(data) < MessageLengthMin {
		return 0, nil
	}

	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, ErrBadFrame
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, ErrBadFrame
	}
	if len(data) < msgLen {
		return 0, nil
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return 0, ErrBadFrame
	}

	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return 0, ErrBadFrame
	}
	return msgLen, nil
}

// skipToSync drops bytes up to and including the next sync byte.
// ok is false when no sync byte is present.
func skipToSync(data []byte) (rest []byte, ok bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// EncodeMessage frames payload with the given sequence byte
func EncodeMessage(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil, errors.New("message too long")
	}

	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	return append(msg, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// DecodeMessage parses one complete frame
func DecodeMessage(data []byte) (*Message, error) {
	n, err := scanFrame(data)
	if err != nil {
		return nil, err
	}
	if n == 0 || n != len(data) {
		return nil, ErrBadFrame
	}
	payload := make([]byte, n-MessageLengthMin)
	copy(payload, data[MessageHeaderSize:n-MessageTrailerSize])
	return &Message{
		Length:   uint8(n),
		Sequence: data[MessagePositionSeq],
		Payload:  payload,
		CRC:      uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1]),
	}, nil
}
