package core

// Addresses 0x00-0x07 and 0x78-0x7F are reserved on the I2C bus.
const (
	FirstScanAddress I2CAddress = 0x08
	LastScanAddress  I2CAddress = 0x77
)

// Scan probes every address in [from, to] with an empty write and returns
// those that acknowledged, in ascending order.
func Scan(wire WireDriver, from, to I2CAddress) ([]I2CAddress, error) {
	if wire == nil {
		wire = DefaultWire()
	}
	if wire == nil {
		return nil, ErrNoDriver
	}
	if err := wire.Begin(); err != nil {
		return nil, err
	}

	var found []I2CAddress
	for addr := int(from); addr <= int(to); addr++ {
		wire.BeginTransmission(I2CAddress(addr))
		if wire.EndTransmission(true) == StatusOK {
			found = append(found, I2CAddress(addr))
		}
	}
	return found, nil
}

// ScanDevices returns the devices among devs that acknowledge their
// address.
func ScanDevices(devs ...I2CDevice) []I2CDevice {
	var present []I2CDevice
	for _, d := range devs {
		if d.Detected() {
			present = append(present, d)
		}
	}
	return present
}
