// Package protocol implements the framed serial protocol spoken between the
// host tools and the I2C bridge firmware.
//
// A frame is laid out as
//
//	[len][seq][payload...][crc hi][crc lo][0x7E]
//
// where len counts the whole frame, seq carries MessageDest in its high
// nibble, and the CRC covers the header and payload. Payloads are sequences
// of VLQ-encoded command ids followed by their arguments.
package protocol

import "errors"

// Version is the bridge protocol revision reported in the data dictionary.
const Version = "twowire-0.2.0"

const (
	MessageMax         = 512 // scratch output capacity
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

var (
	// ErrShortFrame means more input is needed before a frame can be decoded.
	ErrShortFrame = errors.New("incomplete frame")
	// ErrBadFrame means the input does not start with a valid frame and the
	// receiver has to resynchronise on the next sync byte.
	ErrBadFrame = errors.New("malformed frame")
)

// Message is one decoded frame.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte
	CRC      uint16
}

// IsAck reports whether the frame carries no payload. Such frames acknowledge
// (or, with an unexpected sequence, reject) the previous host frame.
func (m Message) IsAck() bool {
	return len(m.Payload) == 0
}

// NextSequence returns the sequence number following seq.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
