package core

import (
	"errors"

	"twowire/protocol"

	"tinygo.org/x/drivers"
)

// TxWire presents a transaction-oriented bus (drivers.I2C) as a WireDriver
// with Arduino Wire semantics: writes are buffered in a fixed transmit
// buffer and received bytes are drained one at a time from a receive FIFO.
//
// EndTransmission(false) probes the address and holds the queued bytes back
// so that a following RequestFrom to the same address goes out as one Tx
// with a repeated start. Held bytes are flushed on their own by any other
// transaction and by End. A data NACK on held bytes surfaces through
// RequestStatus.
type TxWire struct {
	bus drivers.I2C

	tx     []byte
	txAddr I2CAddress
	txOpen bool

	held     []byte
	heldAddr I2CAddress

	rx       *protocol.FifoBuffer
	rxStatus TransmissionStatus
	began    bool
}

var (
	_ WireDriver  = (*TxWire)(nil)
	_ WireEnder   = (*TxWire)(nil)
	_ WireClocker = (*TxWire)(nil)

	_ WireRequestStatus = (*TxWire)(nil)
)

// NewTxWire wraps bus with transmit and receive buffers of bufferSize bytes.
func NewTxWire(bus drivers.I2C, bufferSize int) *TxWire {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &TxWire{
		bus: bus,
		tx:  make([]byte, 0, bufferSize),
		rx:  protocol.NewFifoBuffer(bufferSize),
	}
}

// BufferSize returns the transmit buffer capacity.
func (w *TxWire) BufferSize() int { return cap(w.tx) }

func (w *TxWire) Begin() error {
	if w.bus == nil {
		return ErrNoDriver
	}
	if !w.began {
		w.reset()
		w.began = true
	}
	return nil
}

// End flushes held bytes and releases the adapter.
func (w *TxWire) End() {
	w.reset()
	w.began = false
}

func (w *TxWire) reset() {
	w.flushHeld()
	w.tx = w.tx[:0]
	w.txOpen = false
	w.held = nil
	w.rx.Reset()
}

func (w *TxWire) SetClock(hz uint32) error {
	switch bus := w.bus.(type) {
	case periphSpeeder:
		return bus.SetSpeed(physicHz(hz))
	case baudRater:
		return bus.SetBaudRate(hz)
	}
	return ErrSpeedUnsupported
}

func (w *TxWire) BeginTransmission(addr I2CAddress) {
	w.tx = w.tx[:0]
	w.txAddr = addr
	w.txOpen = true
}

// Write queues as much of data as fits in the transmit buffer.
func (w *TxWire) Write(data []byte) int {
	if !w.txOpen {
		return 0
	}
	n := min(len(data), cap(w.tx)-len(w.tx))
	w.tx = append(w.tx, data[:n]...)
	return n
}

func (w *TxWire) EndTransmission(stop bool) TransmissionStatus {
	if !w.txOpen {
		return StatusOther
	}
	w.txOpen = false
	data := append([]byte(nil), w.tx...)
	w.tx = w.tx[:0]

	if status := w.flushHeld(); status != StatusOK {
		return status
	}
	if !stop {
		if status := statusOf(w.bus.Tx(uint16(w.txAddr), nil, nil), 0); status != StatusOK {
			return status
		}
		w.held = data
		w.heldAddr = w.txAddr
		return StatusOK
	}
	return statusOf(w.bus.Tx(uint16(w.txAddr), data, nil), len(data))
}

// flushHeld sends bytes held back by an earlier EndTransmission(false).
func (w *TxWire) flushHeld() TransmissionStatus {
	if w.held == nil {
		return StatusOK
	}
	held := w.held
	w.held = nil
	return statusOf(w.bus.Tx(uint16(w.heldAddr), held, nil), len(held))
}

// RequestFrom reads up to the receive buffer size. Held bytes for the same
// address become the write half of the transaction.
func (w *TxWire) RequestFrom(addr I2CAddress, n int, stop bool) int {
	w.rx.Reset()
	w.rxStatus = StatusOK
	if n <= 0 {
		return 0
	}
	n = min(n, w.rx.Cap())

	var prefix []byte
	if w.held != nil && w.heldAddr == addr {
		prefix = w.held
		w.held = nil
	} else if status := w.flushHeld(); status != StatusOK {
		w.rxStatus = status
		return 0
	}

	buf := make([]byte, n)
	if err := w.bus.Tx(uint16(addr), prefix, buf); err != nil {
		w.rxStatus = statusOf(err, len(prefix))
		return 0
	}
	return w.rx.Write(buf)
}

func (w *TxWire) Read() int {
	b, ok := w.rx.ReadByte()
	if !ok {
		return -1
	}
	return int(b)
}

// RequestStatus reports why the last RequestFrom came back empty, including
// a NACK of bytes held from an earlier EndTransmission(false).
func (w *TxWire) RequestStatus() TransmissionStatus { return w.rxStatus }

// Available returns the number of received bytes not yet read.
func (w *TxWire) Available() int { return w.rx.Available() }

// StatusError lets a bus report a precise TransmissionStatus through the
// error it returns from Tx.
type StatusError interface {
	error
	Status() TransmissionStatus
}

func statusOf(err error, written int) TransmissionStatus {
	if err == nil {
		return StatusOK
	}
	var se StatusError
	if errors.As(err, &se) {
		return se.Status()
	}
	if written == 0 {
		return StatusAddressNACK
	}
	return StatusOther
}
