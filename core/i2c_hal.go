package core

import "tinygo.org/x/drivers"

// I2CBusID identifies a specific I2C bus (e.g., I2C0, I2C1).
type I2CBusID uint8

// I2CAddress is a 7-bit I2C device address.
type I2CAddress uint8

// TransmissionStatus is the result of WireDriver.EndTransmission. The values
// follow the Arduino Wire numbering.
type TransmissionStatus uint8

const (
	StatusOK          TransmissionStatus = 0
	StatusDataTooLong TransmissionStatus = 1
	StatusAddressNACK TransmissionStatus = 2
	StatusDataNACK    TransmissionStatus = 3
	StatusOther       TransmissionStatus = 4
	StatusTimeout     TransmissionStatus = 5
)

func (s TransmissionStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDataTooLong:
		return "data too long"
	case StatusAddressNACK:
		return "address NACK"
	case StatusDataNACK:
		return "data NACK"
	case StatusTimeout:
		return "timeout"
	default:
		return "other error"
	}
}

// WireDriver is the bus driver a device talks through. It generates the
// start, stop and acknowledge signalling; devices only frame transactions on
// top of it.
type WireDriver interface {
	// Begin initialises the driver. Calling it again must be harmless.
	Begin() error

	// BeginTransmission starts queueing a write to addr.
	BeginTransmission(addr I2CAddress)

	// Write queues data and returns how many bytes the driver accepted.
	Write(data []byte) int

	// EndTransmission sends the queued bytes. With stop false the bus is
	// left claimed for a repeated start.
	EndTransmission(stop bool) TransmissionStatus

	// RequestFrom reads n bytes from addr into the driver's receive buffer
	// and returns how many arrived.
	RequestFrom(addr I2CAddress, n int, stop bool) int

	// Read returns the next received byte, or -1 when none is left.
	Read() int
}

// WireEnder is implemented by drivers that can release the bus.
type WireEnder interface {
	End()
}

// WireClocker is implemented by drivers that can retime the bus directly.
type WireClocker interface {
	SetClock(hz uint32) error
}

// WireRequestStatus is implemented by drivers that can tell why a
// RequestFrom returned fewer bytes than asked for. StatusOK means the
// peripheral simply sent less.
type WireRequestStatus interface {
	RequestStatus() TransmissionStatus
}

// DividerRegisters is implemented by drivers whose clock comes from a
// prescaler and bit-rate divider pair, such as the AVR TWI block
// (TWSR/TWBR).
type DividerRegisters interface {
	SetPrescaler(sel uint8)
	SetBitRate(div uint8)
}

// Global default driver, used by devices constructed without one.
var wireDriver WireDriver

// SetWireDriver is called by target-specific code to register the default
// bus driver.
func SetWireDriver(d WireDriver) {
	wireDriver = d
}

// DefaultWire returns the registered default driver, or nil.
func DefaultWire() WireDriver {
	return wireDriver
}

// I2CBusProvider hands out the hardware buses the firmware can address. It
// is implemented per target.
type I2CBusProvider interface {
	// ConfigureBus sets up bus at hz and returns it. Configuring a bus twice
	// must be harmless.
	ConfigureBus(bus I2CBusID, hz uint32) (drivers.I2C, error)
}
