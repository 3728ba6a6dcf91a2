//go:build rp2040 || rp2350

// Firmware bridging a Klipper-framed serial link to the RP2040/RP2350 I2C
// controllers.
package main

import (
	"machine"
	"time"

	"twowire/core"
)

func main() {
	// Clear any watchdog left running by a previous reset request.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	fw := core.NewFirmware(newRPBuses(),
		core.WithCompressedDictionary(),
		core.WithResetHandler(watchdogReset),
	)
	fw.Dictionary().AddConstant("MCU", "rp2040")
	fw.Dictionary().AddEnumeration("i2c_bus", []string{"i2c0", "i2c1"})

	port := &usbPort{serial: machine.Serial}
	for {
		// Serve only returns when the host goes away; start over for the
		// next connection.
		fw.Serve(port)
		time.Sleep(100 * time.Millisecond)
	}
}

// watchdogReset restarts the chip through the watchdog, which re-enumerates
// USB more reliably than SYSRESETREQ.
func watchdogReset() {
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
		return
	}
	if err := machine.Watchdog.Start(); err != nil {
		return
	}
	for {
		time.Sleep(time.Millisecond)
	}
}
