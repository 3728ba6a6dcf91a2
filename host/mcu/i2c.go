package mcu

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"twowire/core"
	"twowire/protocol"
)

// I2CBus is one firmware I2C bus seen from the host. It satisfies both
// TinyGo's drivers.I2C and periph.io's i2c.Bus, so core devices and periph
// device drivers can run on it unchanged. Each peripheral address is bound to
// its own firmware object the first time it is used.
type I2CBus struct {
	mcu  *MCU
	id   core.I2CBusID
	rate uint32

	mu   sync.Mutex
	oids map[uint16]uint8
}

var _ i2c.Bus = (*I2CBus)(nil)

// I2CBus returns a handle on firmware bus id clocked at rate Hz.
func (m *MCU) I2CBus(id core.I2CBusID, rate uint32) *I2CBus {
	return &I2CBus{
		mcu:  m,
		id:   id,
		rate: rate,
		oids: make(map[uint16]uint8),
	}
}

func (b *I2CBus) String() string {
	return fmt.Sprintf("mcu-i2c%d", b.id)
}

// oid returns the object bound to addr, configuring one if needed.
func (b *I2CBus) oid(addr uint16) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if oid, ok := b.oids[addr]; ok {
		return oid, nil
	}
	oid, err := b.mcu.allocOID()
	if err != nil {
		return 0, err
	}

	err = b.mcu.SendCommand("config_i2c", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
	})
	if err != nil {
		return 0, err
	}
	err = b.mcu.SendCommand("i2c_set_bus", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQUint(out, uint32(b.id))
		protocol.EncodeVLQUint(out, b.rate)
		protocol.EncodeVLQUint(out, uint32(addr))
	})
	if err != nil {
		return 0, err
	}

	b.mcu.log.Debug("i2c object configured",
		zap.Uint8("oid", oid), zap.Uint16("addr", addr), zap.Uint8("bus", uint8(b.id)))
	b.oids[addr] = oid
	return oid, nil
}

// Tx runs one transaction. An empty transaction probes the address. Failures
// are *core.TransmissionError carrying the firmware status.
func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	if len(w) > core.MaxBridgeTransfer || len(r) > core.MaxBridgeTransfer {
		return &core.TransmissionError{Code: core.StatusDataTooLong}
	}
	oid, err := b.oid(addr)
	if err != nil {
		return err
	}

	switch {
	case len(w) == 0 && len(r) == 0:
		return b.detect(oid)
	case len(r) == 0:
		return b.write(oid, w)
	}
	return b.read(oid, w, r)
}

func (b *I2CBus) detect(oid uint8) error {
	payload, err := b.mcu.Query("i2c_detect", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
	}, "i2c_detect_response")
	if err != nil {
		return err
	}
	vals, err := decodeOIDArgs(&payload, oid, 1)
	if err != nil {
		return err
	}
	if vals[0] == 0 {
		return &core.TransmissionError{Code: core.StatusAddressNACK}
	}
	return nil
}

func (b *I2CBus) write(oid uint8, w []byte) error {
	payload, err := b.mcu.Query("i2c_write", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQBytes(out, w)
	}, "i2c_write_response")
	if err != nil {
		return err
	}
	vals, err := decodeOIDArgs(&payload, oid, 1)
	if err != nil {
		return err
	}
	return statusError(vals[0])
}

func (b *I2CBus) read(oid uint8, reg, r []byte) error {
	payload, err := b.mcu.Query("i2c_read", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQBytes(out, reg)
		protocol.EncodeVLQUint(out, uint32(len(r)))
	}, "i2c_read_response")
	if err != nil {
		return err
	}
	vals, err := decodeOIDArgs(&payload, oid, 1)
	if err != nil {
		return err
	}
	if err := statusError(vals[0]); err != nil {
		return err
	}

	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return err
	}
	if len(data) != len(r) {
		return fmt.Errorf("%w: %d/%d", core.ErrShortRead, len(data), len(r))
	}
	copy(r, data)
	return nil
}

// SetSpeed retimes the bus for every bound peripheral and for those bound
// later.
func (b *I2CBus) SetSpeed(f physic.Frequency) error {
	hz := uint32(f / physic.Hertz)
	if hz == 0 {
		return core.ErrSpeedOutOfRange
	}

	b.mu.Lock()
	oids := make([]uint8, 0, len(b.oids))
	for _, oid := range b.oids {
		oids = append(oids, oid)
	}
	b.rate = hz
	b.mu.Unlock()

	for _, oid := range oids {
		payload, err := b.mcu.Query("i2c_set_speed", func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, uint32(oid))
			protocol.EncodeVLQUint(out, hz)
		}, "i2c_speed_response")
		if err != nil {
			return err
		}
		vals, err := decodeOIDArgs(&payload, oid, 1)
		if err != nil {
			return err
		}
		switch vals[0] {
		case core.SpeedStatusOK:
		case core.SpeedStatusUnsupported:
			return core.ErrSpeedUnsupported
		case core.SpeedStatusOutOfRange:
			return core.ErrSpeedOutOfRange
		default:
			return fmt.Errorf("set speed: firmware status %d", vals[0])
		}
	}
	return nil
}

var errOIDMismatch = errors.New("response for another object")

// decodeOIDArgs checks the leading oid of a response and decodes n more
// integers.
func decodeOIDArgs(payload *[]byte, oid uint8, n int) ([]uint32, error) {
	got, err := protocol.DecodeVLQUint(payload)
	if err != nil {
		return nil, err
	}
	if got != uint32(oid) {
		return nil, fmt.Errorf("%w: oid %d, expected %d", errOIDMismatch, got, oid)
	}
	vals := make([]uint32, n)
	for i := range vals {
		if vals[i], err = protocol.DecodeVLQUint(payload); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

func statusError(status uint32) error {
	if core.TransmissionStatus(status) == core.StatusOK {
		return nil
	}
	return &core.TransmissionError{Code: core.TransmissionStatus(status)}
}
