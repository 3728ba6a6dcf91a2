package protocol

import "sync/atomic"

// CommandHandler consumes the arguments of one command from *data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link: it accepts host frames, hands
// their commands to a handler and queues acknowledgements and responses on
// an OutputBuffer.
type Transport struct {
	nextSequence uint32 // atomic; expected host sequence, echoed in replies
	deframer     Deframer

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
	t.deframer.OnResync = t.encodeAckNak
	return t
}

// Receive decodes every complete frame held by input and pops the bytes it
// consumed. Partial frames stay in input for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	total := 0
	for {
		msg, n, ok := t.deframer.Next(data[total:])
		total += n
		if !ok {
			break
		}
		t.handleFrame(msg)
	}
	input.Pop(total)
}

func (t *Transport) handleFrame(msg Message) {
	expected := uint8(atomic.LoadUint32(&t.nextSequence))

	// A host that restarts begins again at MessageDest.
	if msg.Sequence == MessageDest && expected != MessageDest {
		atomic.StoreUint32(&t.nextSequence, MessageDest)
		expected = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if msg.Sequence == expected {
		atomic.StoreUint32(&t.nextSequence, uint32(NextSequence(expected)))
		_ = t.dispatch(msg.Payload)
	}

	// Sent for every frame: with a stale sequence this doubles as a NAK
	// naming the sequence we want.
	t.encodeAckNak()
}

func (t *Transport) dispatch(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.deframer.lost = true
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.deframer.lost = true
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) encodeAckNak() {
	EncodeFrame(t.output, uint8(atomic.LoadUint32(&t.nextSequence)), nil)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// SendCommand queues a response frame. Responses carry the current expected
// sequence, like acknowledgements do.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	EncodeFrame(t.output, uint8(atomic.LoadUint32(&t.nextSequence)), func(out OutputBuffer) {
		EncodeVLQUint(out, uint32(cmdID))
		if args != nil {
			args(out)
		}
	})
}

// Reset returns the transport to its power-on state.
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	t.deframer.Reset()
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback registers fn to run when the host restarts the link.
func (t *Transport) SetResetCallback(fn func()) { t.resetCallback = fn }

// SetFlushCallback registers fn to push queued output out immediately after
// each acknowledgement.
func (t *Transport) SetFlushCallback(fn func()) { t.flushCallback = fn }

// NextSequence reports the host sequence the transport expects next.
func (t *Transport) NextSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.nextSequence))
}
