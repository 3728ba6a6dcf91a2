package protocol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	// ErrTransportClosed is returned by calls made after Close.
	ErrTransportClosed = errors.New("transport closed")
	// ErrNak means the firmware acknowledged with a sequence other than the
	// one following ours; the host adopts the firmware's sequence.
	ErrNak = errors.New("frame rejected by firmware")
	// ErrTimeout is returned when an ACK or response does not arrive in time.
	ErrTimeout = errors.New("timed out")
)

// DefaultAckTimeout bounds how long SendCommand waits for the firmware.
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler is invoked from the reader goroutine for every response.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link. A background goroutine reads
// the port and sorts incoming frames into acknowledgements and responses.
type HostTransport struct {
	port io.ReadWriteCloser

	writeMu sync.Mutex // serialises command/ACK round trips
	seq     uint8      // guarded by writeMu

	input    *FifoBuffer
	deframer Deframer

	acks      chan Message
	responses chan Message

	handlerMu sync.RWMutex
	handler   ResponseHandler
	onError   func(error)

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port immediately.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		seq:       MessageDest,
		input:     NewFifoBuffer(4 * MessageMax),
		acks:      make(chan Message, 1),
		responses: make(chan Message, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand frames one command and waits for the firmware to acknowledge it.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	out := NewScratchOutput()
	n := EncodeFrame(out, t.seq, func(o OutputBuffer) {
		EncodeVLQUint(o, uint32(cmdID))
		if args != nil {
			args(o)
		}
	})
	if n > MessageLengthMax {
		return fmt.Errorf("message too long: %d bytes (max %d)", n, MessageLengthMax)
	}

	// A late ACK from an earlier timed out command must not satisfy this one.
	select {
	case <-t.acks:
	default:
	}

	frame := out.Result()
	written, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if written != len(frame) {
		return fmt.Errorf("incomplete write: %d/%d bytes", written, len(frame))
	}

	return t.waitForAck(timeout)
}

// waitForAck must be called with writeMu held.
func (t *HostTransport) waitForAck(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.acks:
		want := NextSequence(t.seq)
		if ack.Sequence != want {
			t.seq = ack.Sequence
			return fmt.Errorf("%w: expected sequence 0x%02x, got 0x%02x", ErrNak, want, ack.Sequence)
		}
		t.seq = want
		return nil
	case <-timer.C:
		return fmt.Errorf("ACK %w after %v", ErrTimeout, timeout)
	case <-t.stop:
		return ErrTransportClosed
	}
}

// ReceiveResponse returns the oldest response not yet consumed.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responses:
		return resp, nil
	case <-timer.C:
		return Message{}, fmt.Errorf("response %w after %v", ErrTimeout, timeout)
	case <-t.stop:
		return Message{}, ErrTransportClosed
	}
}

// DrainResponses discards queued responses.
func (t *HostTransport) DrainResponses() {
	for {
		select {
		case <-t.responses:
		default:
			return
		}
	}
}

// SetResponseHandler installs a callback that sees every response in
// addition to the channel used by ReceiveResponse.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

// SetErrorHandler installs a callback for read errors the reader goroutine
// recovers from.
func (t *HostTransport) SetErrorHandler(fn func(error)) {
	t.handlerMu.Lock()
	t.onError = fn
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.input.Write(buf[:n])
			t.processMessages()
		}

		select {
		case <-t.stop:
			return
		default:
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return
		}
		if !errors.Is(err, io.EOF) {
			t.reportError(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (t *HostTransport) processMessages() {
	for {
		msg, n, ok := t.deframer.Next(t.input.Data())
		t.input.Pop(n)
		if !ok {
			return
		}
		t.dispatchMessage(msg)
	}
}

func (t *HostTransport) dispatchMessage(msg Message) {
	if msg.IsAck() {
		select {
		case t.acks <- msg:
		default:
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		payload := msg.Payload
		if cmdID, err := DecodeVLQUint(&payload); err == nil {
			_ = handler(uint16(cmdID), &payload)
		}
	}

	// Keep the newest responses when nobody is consuming them.
	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		select {
		case <-t.responses:
		default:
		}
	}
}

func (t *HostTransport) reportError(err error) {
	t.handlerMu.RLock()
	fn := t.onError
	t.handlerMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Reset drops queued frames and restarts the sequence, as after reopening
// the port.
func (t *HostTransport) Reset() {
	t.writeMu.Lock()
	t.seq = MessageDest
	t.writeMu.Unlock()

	select {
	case <-t.acks:
	default:
	}
	t.DrainResponses()
}

// CurrentSequence returns the sequence the next command will carry.
func (t *HostTransport) CurrentSequence() uint8 {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.seq
}
