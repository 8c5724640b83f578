// Package protocol implements the framed serial link between the host and
// the motor firmware: VLQ encoded arguments inside CRC16 checked frames.
//
// Frame layout:
//
//	len | seq | payload ... | crc_hi | crc_lo | 0x7E
package protocol

// Version is the protocol revision reported in the firmware dictionary
const Version = "0.1.0"

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	MessageSeqMask = 0x0F

	// ScratchMax bounds one batch of encoded output
	ScratchMax = 512
)

// Message is a decoded frame
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // frame contents without header and trailer
	CRC      uint16
}

// nextSequence advances a sequence byte within the 0x10-0x1F window
func nextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
