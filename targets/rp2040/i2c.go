//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"
	"sync"

	"tinygo.org/x/drivers"

	"twowire/core"
)

var errUnknownBus = errors.New("unsupported I2C bus ID")

// rpBuses hands out the RP2040/RP2350 I2C controllers. Buses are configured
// on first use with TinyGo's default pins: I2C0 on GP4/GP5, I2C1 on GP6/GP7.
type rpBuses struct {
	mu         sync.Mutex
	configured map[core.I2CBusID]*machine.I2C
}

func newRPBuses() *rpBuses {
	return &rpBuses{configured: make(map[core.I2CBusID]*machine.I2C)}
}

func (b *rpBuses) ConfigureBus(bus core.I2CBusID, hz uint32) (drivers.I2C, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i2c, ok := b.configured[bus]; ok {
		if hz != 0 {
			if err := i2c.SetBaudRate(hz); err != nil {
				return nil, err
			}
		}
		return i2c, nil
	}

	var i2c *machine.I2C
	switch bus {
	case 0:
		i2c = machine.I2C0
	case 1:
		i2c = machine.I2C1
	default:
		return nil, errUnknownBus
	}
	if hz == 0 {
		hz = 100 * machine.KHz
	}
	if err := i2c.Configure(machine.I2CConfig{Frequency: hz}); err != nil {
		return nil, err
	}
	b.configured[bus] = i2c
	return i2c, nil
}
