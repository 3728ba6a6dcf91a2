package protocol

import (
	"bytes"
	"errors"
)

// EncodeFrame writes one complete frame with the given sequence to out. body
// may be nil for an empty (acknowledgement) frame. It returns the frame length;
// callers that need to enforce MessageLengthMax check it themselves.
func EncodeFrame(out OutputBuffer, seq uint8, body func(OutputBuffer)) int {
	start := out.CurPosition()
	out.Output([]byte{0, seq})
	if body != nil {
		body(out)
	}

	n := len(out.DataSince(start)) + MessageTrailerSize
	out.Update(start+MessagePositionLen, uint8(n))

	crc := CRC16(out.DataSince(start))
	out.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
	return n
}

// ParseFrame decodes the frame at the front of data and returns it with the
// number of bytes it occupied.
func ParseFrame(data []byte) (Message, int, error) {
	if len(data) < MessageLengthMin {
		return Message{}, 0, ErrShortFrame
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return Message{}, 0, ErrBadFrame
	}
	seq := data[MessagePositionSeq]
	if seq&^MessageSeqMask != MessageDest {
		return Message{}, 0, ErrBadFrame
	}
	if len(data) < n {
		return Message{}, 0, ErrShortFrame
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return Message{}, 0, ErrBadFrame
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if CRC16(data[:n-MessageTrailerSize]) != crc {
		return Message{}, 0, ErrBadFrame
	}

	payload := make([]byte, n-MessageLengthMin)
	copy(payload, data[MessageHeaderSize:n-MessageTrailerSize])
	return Message{Length: uint8(n), Sequence: seq, Payload: payload, CRC: crc}, n, nil
}

// Deframer pulls frames out of a byte stream, skipping sync bytes and
// resynchronising after corrupt input.
type Deframer struct {
	lost bool

	// OnResync, when set, runs each time the stream is recovered after
	// garbage.
	OnResync func()
}

// Next returns the first complete frame in data along with the number of
// bytes consumed. ok is false when no complete frame is available; consumed
// then covers only the garbage and sync bytes that were skipped.
func (d *Deframer) Next(data []byte) (msg Message, consumed int, ok bool) {
	pos := 0
	for pos < len(data) {
		if d.lost {
			i := bytes.IndexByte(data[pos:], MessageValueSync)
			if i < 0 {
				return Message{}, len(data), false
			}
			pos += i + 1
			d.lost = false
			if d.OnResync != nil {
				d.OnResync()
			}
			continue
		}
		if data[pos] == MessageValueSync {
			pos++
			continue
		}

		m, n, err := ParseFrame(data[pos:])
		switch {
		case err == nil:
			return m, pos + n, true
		case errors.Is(err, ErrShortFrame):
			return Message{}, pos, false
		default:
			d.lost = true
		}
	}
	return Message{}, pos, false
}

// Reset forgets any resynchronisation in progress.
func (d *Deframer) Reset() {
	d.lost = false
}
