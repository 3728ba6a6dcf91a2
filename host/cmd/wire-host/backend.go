package main

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"twowire/core"
	"twowire/core/simbus"
	"twowire/host/config"
	"twowire/host/mcu"
	"twowire/host/serial"
)

// backend is an open bus. wire is set when the bus natively speaks the
// Wire model; otherwise the software variant wraps bus in a TxWire.
type backend struct {
	bus   drivers.I2C
	wire  core.WireDriver
	close func() error
}

func openBackend(cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Backend {
	case "mcu":
		return openMCU(cfg, log)
	case "linux":
		return openLinux(cfg, log)
	case "sim":
		return openSim(cfg, log)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func openMCU(cfg *config.Config, log *zap.Logger) (*backend, error) {
	m := mcu.NewMCU(
		mcu.WithLogger(log.Named("mcu")),
		mcu.WithResponseTimeout(time.Duration(cfg.Serial.ResponseTimeoutMS)*time.Millisecond),
	)
	err := m.ConnectWithConfig(&serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: time.Duration(cfg.Serial.ReadTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	if err := m.EnsureDictionary(cfg.Serial.DictionaryCache); err != nil {
		m.Close()
		return nil, err
	}
	return &backend{bus: m.I2CBus(core.I2CBusID(cfg.Bus.ID), cfg.Bus.Rate), close: m.Close}, nil
}

func openLinux(cfg *config.Config, log *zap.Logger) (*backend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(cfg.Bus.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Bus.Rate != 0 {
		if err := b.SetSpeed(physic.Frequency(cfg.Bus.Rate) * physic.Hertz); err != nil {
			log.Warn("bus rate not applied", zap.Uint32("rate", cfg.Bus.Rate), zap.Error(err))
		}
	}
	log.Debug("opened bus", zap.Stringer("bus", b))
	return &backend{bus: b, close: b.Close}, nil
}

// openSim builds a simulated bus. With bridge set the bus sits behind an
// in-process firmware reached over a pipe, exercising the whole host path.
func openSim(cfg *config.Config, log *zap.Logger) (*backend, error) {
	sim := simbus.New(cfg.Sim.BufferSize)
	for _, addr := range cfg.Sim.Memories {
		sim.Attach(core.I2CAddress(addr), &simbus.Memory{})
	}

	if !cfg.Sim.Bridge {
		return &backend{bus: sim, wire: sim, close: func() error { return nil }}, nil
	}

	fw := core.NewFirmware(simbus.Buses{core.I2CBusID(cfg.Bus.ID): sim},
		core.WithDeviceOptions(core.WithLogger(log.Named("firmware"))))
	hostConn, fwConn := net.Pipe()
	go func() {
		if err := fw.Serve(fwConn); err != nil {
			log.Warn("firmware stopped", zap.Error(err))
		}
	}()

	m := mcu.NewMCU(mcu.WithLogger(log.Named("mcu")))
	if err := m.ConnectPort(hostConn); err != nil {
		return nil, err
	}
	if err := m.RetrieveDictionary(); err != nil {
		m.Close()
		return nil, err
	}
	return &backend{bus: m.I2CBus(core.I2CBusID(cfg.Bus.ID), cfg.Bus.Rate), close: m.Close}, nil
}

// wireDriver returns the Wire model view of the backend.
func (b *backend) wireDriver(bufferSize int) core.WireDriver {
	if b.wire == nil {
		b.wire = core.NewTxWire(b.bus, bufferSize)
	}
	return b.wire
}

// device builds the configured device variant for addr.
func (b *backend) device(cfg *config.Config, addr core.I2CAddress, log *zap.Logger) (core.I2CDevice, error) {
	if cfg.Variant == "hardware" {
		return core.NewHardwareDevice(addr, b.bus, cfg.Bus.MaxBufferSize, core.WithLogger(log))
	}
	profile, err := core.ProfileByName(cfg.Platform)
	if err != nil {
		return nil, err
	}
	return core.NewSoftwareDevice(addr, b.wireDriver(profile.MaxBufferSize), profile, core.WithLogger(log))
}
