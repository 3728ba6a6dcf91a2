package core

import (
	"errors"

	"twowire/protocol"
)

// MaxBridgeTransfer is the largest write or read a single bridge command
// carries. It keeps every request and response inside one frame.
const MaxBridgeTransfer = 48

// Status codes of i2c_speed_response.
const (
	SpeedStatusOK          = 0
	SpeedStatusUnsupported = 1
	SpeedStatusOutOfRange  = 2
	SpeedStatusOther       = 3
)

type i2cSlot struct {
	oid uint8
	bus I2CBusID
	dev I2CDevice
}

func (f *Firmware) registerI2CCommands() {
	r := f.registry
	r.Register("config_i2c", "oid=%c", f.handleConfigI2C)
	r.Register("i2c_set_bus", "oid=%c i2c_bus=%u rate=%u address=%u", f.handleI2CSetBus)
	r.Register("i2c_write", "oid=%c data=%*s", f.handleI2CWrite)
	r.Register("i2c_read", "oid=%c reg=%*s read_len=%u", f.handleI2CRead)
	r.Register("i2c_detect", "oid=%c", f.handleI2CDetect)
	r.Register("i2c_set_speed", "oid=%c rate=%u", f.handleI2CSetSpeed)

	r.RegisterResponse("i2c_write_response", "oid=%c status=%c")
	r.RegisterResponse("i2c_read_response", "oid=%c status=%c response=%*s")
	r.RegisterResponse("i2c_detect_response", "oid=%c present=%c")
	r.RegisterResponse("i2c_speed_response", "oid=%c status=%c")

	f.dict.AddConstant("I2C_MAX_TRANSFER", MaxBridgeTransfer)
}

// handleConfigI2C allocates an I2C object. It is bound to a bus and address
// by i2c_set_bus.
// Format: config_i2c oid=%c
func (f *Firmware) handleConfigI2C(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.i2c[uint8(oid)] = &i2cSlot{oid: uint8(oid)}
	return nil
}

// handleI2CSetBus configures the bus and builds the device.
// Format: i2c_set_bus oid=%c i2c_bus=%u rate=%u address=%u
func (f *Firmware) handleI2CSetBus(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	busID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	address, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	slot, ok := f.i2c[uint8(oid)]
	if !ok {
		return errors.New("i2c_set_bus: unknown oid")
	}
	if f.buses == nil {
		return ErrNoDriver
	}

	bus, err := f.buses.ConfigureBus(I2CBusID(busID), rate)
	if err != nil {
		return err
	}

	// Klipper masks the address to 7 bits.
	addr := I2CAddress(address & 0x7F)

	var dev I2CDevice
	if f.software != nil {
		wire, ok := f.wires[I2CBusID(busID)]
		if !ok {
			wire = NewTxWire(bus, f.software.MaxBufferSize)
			f.wires[I2CBusID(busID)] = wire
		}
		dev, err = NewSoftwareDevice(addr, wire, *f.software, f.deviceOpts...)
	} else {
		dev, err = NewHardwareDevice(addr, bus, MaxBridgeTransfer, f.deviceOpts...)
	}
	if err != nil {
		return err
	}

	slot.bus = I2CBusID(busID)
	slot.dev = dev
	return nil
}

// lookupI2C returns the device for oid, or nil when it is unknown,
// unconfigured or the firmware is shut down.
func (f *Firmware) lookupI2C(oid uint32) I2CDevice {
	if f.shutdown {
		return nil
	}
	slot, ok := f.i2c[uint8(oid)]
	if !ok {
		return nil
	}
	return slot.dev
}

// handleI2CWrite writes data with a stop condition.
// Format: i2c_write oid=%c data=%*s
func (f *Firmware) handleI2CWrite(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	status := StatusOther
	if dev := f.lookupI2C(oid); dev != nil {
		status = StatusOf(dev.Write(payload, true, nil))
	}

	f.sendResponse("i2c_write_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, oid)
		protocol.EncodeVLQUint(out, uint32(status))
	})
	return nil
}

// handleI2CRead reads read_len bytes, first writing reg with a repeated
// start when it is not empty.
// Format: i2c_read oid=%c reg=%*s read_len=%u
func (f *Firmware) handleI2CRead(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reg, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	readLen, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	var response []byte
	status := StatusOther
	switch dev := f.lookupI2C(oid); {
	case dev == nil:
	case readLen > MaxBridgeTransfer:
		status = StatusDataTooLong
	default:
		buf := make([]byte, readLen)
		if len(reg) > 0 {
			err = dev.WriteThenRead(reg, buf, false)
		} else {
			err = dev.Read(buf, true)
		}
		status = StatusOf(err)
		if err == nil {
			response = buf
		}
	}

	f.sendResponse("i2c_read_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, oid)
		protocol.EncodeVLQUint(out, uint32(status))
		protocol.EncodeVLQBytes(out, response)
	})
	return nil
}

// Format: i2c_detect oid=%c
func (f *Firmware) handleI2CDetect(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	present := false
	if dev := f.lookupI2C(oid); dev != nil {
		present = dev.Detected()
	}

	f.sendResponse("i2c_detect_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, oid)
		protocol.EncodeVLQUint(out, boolToUint(present))
	})
	return nil
}

// Format: i2c_set_speed oid=%c rate=%u
func (f *Firmware) handleI2CSetSpeed(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	status := uint32(SpeedStatusOther)
	if dev := f.lookupI2C(oid); dev != nil {
		switch err := dev.SetSpeed(rate); {
		case err == nil:
			status = SpeedStatusOK
		case errors.Is(err, ErrSpeedUnsupported):
			status = SpeedStatusUnsupported
		case errors.Is(err, ErrSpeedOutOfRange):
			status = SpeedStatusOutOfRange
		}
	}

	f.sendResponse("i2c_speed_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, oid)
		protocol.EncodeVLQUint(out, status)
	})
	return nil
}

// shutdownI2C releases every configured bus.
func (f *Firmware) shutdownI2C() {
	for _, slot := range f.i2c {
		if slot.dev != nil {
			slot.dev.End()
		}
	}
}
