package core

import (
	"fmt"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

// periphSpeeder matches periph.io buses (i2c.Bus).
type periphSpeeder interface {
	SetSpeed(f physic.Frequency) error
}

func physicHz(hz uint32) physic.Frequency {
	return physic.Frequency(hz) * physic.Hertz
}

// baudRater matches TinyGo's machine.I2C.
type baudRater interface {
	SetBaudRate(br uint32) error
}

// HardwareDevice drives a peripheral through a bus whose timing comes from a
// hardware controller, addressed with whole Tx transactions. Both
// machine.I2C and periph.io's i2c.Bus satisfy drivers.I2C.
//
// A Tx always ends with a stop condition, so the stop flags are only honoured
// inside WriteThenRead, which runs as a single Tx with a repeated start.
type HardwareDevice struct {
	addr    I2CAddress
	bus     drivers.I2C
	maxSize int
	began   bool
	log     *zap.Logger
}

var _ I2CDevice = (*HardwareDevice)(nil)

// NewHardwareDevice binds addr to bus. maxBufferSize <= 0 selects
// DefaultBufferSize.
func NewHardwareDevice(addr I2CAddress, bus drivers.I2C, maxBufferSize int, opts ...Option) (*HardwareDevice, error) {
	if bus == nil {
		return nil, ErrNoDriver
	}
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultBufferSize
	}
	return &HardwareDevice{
		addr:    addr,
		bus:     bus,
		maxSize: maxBufferSize,
		log:     buildOptions(addr, opts).log,
	}, nil
}

// Address returns the peripheral address the device was built for.
func (d *HardwareDevice) Address() I2CAddress { return d.addr }

// MaxBufferSize is the largest single transfer passed to the bus.
func (d *HardwareDevice) MaxBufferSize() int { return d.maxSize }

// Begin marks the session active. The controller itself is configured by
// whoever owns the bus.
func (d *HardwareDevice) Begin(addrDetect bool) error {
	d.began = true
	if addrDetect && !d.Detected() {
		return ErrNotDetected
	}
	return nil
}

// End marks the session inactive.
func (d *HardwareDevice) End() { d.began = false }

// Began reports whether the session is active.
func (d *HardwareDevice) Began() bool { return d.began }

// Detected probes the address with an empty Tx.
func (d *HardwareDevice) Detected() bool {
	d.began = true
	if err := d.bus.Tx(uint16(d.addr), nil, nil); err != nil {
		d.log.Debug("probe failed", zap.Error(err))
		return false
	}
	return true
}

// Read fills buf with one Tx per MaxBufferSize piece. buf is left untouched
// on failure.
func (d *HardwareDevice) Read(buf []byte, stop bool) error {
	d.began = true
	if len(buf) == 0 {
		return nil
	}

	staged := make([]byte, len(buf))
	err := readChunks(len(buf), d.maxSize, stop, func(off, size int, _ bool) error {
		return d.tx(nil, staged[off:off+size])
	})
	if err != nil {
		return err
	}
	copy(buf, staged)
	return nil
}

// Write sends prefix and buf as one Tx.
func (d *HardwareDevice) Write(buf []byte, stop bool, prefix []byte) error {
	if len(buf)+len(prefix) > d.maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrBufferOverrun, len(buf)+len(prefix), d.maxSize)
	}
	d.began = true

	w := buf
	if len(prefix) > 0 {
		w = make([]byte, 0, len(prefix)+len(buf))
		w = append(append(w, prefix...), buf...)
	}
	return d.tx(w, nil)
}

// WriteThenRead sends w and reads the first MaxBufferSize bytes of r in one
// Tx with a repeated start. The rest of r follows in plain read Tx pieces.
func (d *HardwareDevice) WriteThenRead(w, r []byte, stop bool) error {
	if len(w) > d.maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrBufferOverrun, len(w), d.maxSize)
	}
	d.began = true

	if len(r) == 0 {
		return d.tx(w, nil)
	}
	staged := make([]byte, len(r))
	err := readChunks(len(r), d.maxSize, stop, func(off, size int, _ bool) error {
		if off == 0 {
			return d.tx(w, staged[:size])
		}
		return d.tx(nil, staged[off:off+size])
	})
	if err != nil {
		return err
	}
	copy(r, staged)
	return nil
}

func (d *HardwareDevice) tx(w, r []byte) error {
	if err := d.bus.Tx(uint16(d.addr), w, r); err != nil {
		d.log.Debug("transaction failed", zap.Int("write", len(w)), zap.Int("read", len(r)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNACK, err)
	}
	return nil
}

// SetSpeed forwards to the bus when it can be retimed.
func (d *HardwareDevice) SetSpeed(hz uint32) error {
	switch bus := d.bus.(type) {
	case periphSpeeder:
		return bus.SetSpeed(physicHz(hz))
	case baudRater:
		return bus.SetBaudRate(hz)
	}
	return ErrSpeedUnsupported
}
