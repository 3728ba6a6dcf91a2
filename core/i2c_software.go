package core

import (
	"fmt"

	"go.uber.org/zap"
)

// SoftwareDevice drives a peripheral through a WireDriver whose timing is
// generated in software or by a hybrid driver with a fixed transmit buffer.
// Platform differences come from the Profile given at construction.
type SoftwareDevice struct {
	addr    I2CAddress
	wire    WireDriver
	profile Profile
	began   bool

	// Optional driver capabilities, resolved once.
	ender   WireEnder
	clocker WireClocker
	divider DividerRegisters
	reqStat WireRequestStatus

	log *zap.Logger
}

var _ I2CDevice = (*SoftwareDevice)(nil)

// NewSoftwareDevice binds addr to wire. A nil wire selects the driver
// registered with SetWireDriver. It fails with ErrProfile when the profile
// relies on a capability the driver does not have.
func NewSoftwareDevice(addr I2CAddress, wire WireDriver, profile Profile, opts ...Option) (*SoftwareDevice, error) {
	if wire == nil {
		wire = DefaultWire()
	}
	if wire == nil {
		return nil, ErrNoDriver
	}

	d := &SoftwareDevice{
		addr:    addr,
		wire:    wire,
		profile: profile,
		log:     buildOptions(addr, opts).log,
	}
	d.profile.MaxBufferSize = profile.bufferSize()

	if profile.SupportsTermination {
		ender, ok := wire.(WireEnder)
		if !ok {
			return nil, fmt.Errorf("%w: %s supports end() but the driver cannot end a session", ErrProfile, profile.Name)
		}
		d.ender = ender
	}

	d.reqStat, _ = wire.(WireRequestStatus)

	switch profile.ClockMode {
	case ClockDirectSet:
		// A driver without SetClock simply reports ErrSpeedUnsupported.
		d.clocker, _ = wire.(WireClocker)
	case ClockHardwareDivider:
		regs, ok := wire.(DividerRegisters)
		if !ok {
			return nil, fmt.Errorf("%w: %s uses a clock divider the driver does not expose", ErrProfile, profile.Name)
		}
		if profile.ReferenceClock == 0 {
			return nil, fmt.Errorf("%w: %s has no reference clock", ErrProfile, profile.Name)
		}
		d.divider = regs
	}

	return d, nil
}

// Address returns the peripheral address the device was built for.
func (d *SoftwareDevice) Address() I2CAddress { return d.addr }

// MaxBufferSize is the profile's write limit, prefix included.
func (d *SoftwareDevice) MaxBufferSize() int { return d.profile.MaxBufferSize }

// Profile returns the platform profile the device was built with.
func (d *SoftwareDevice) Profile() Profile { return d.profile }

// Began reports whether the bus session is active.
func (d *SoftwareDevice) Began() bool { return d.began }

// Begin starts the driver and, with addrDetect, fails with ErrNotDetected
// when nothing acknowledges the address.
func (d *SoftwareDevice) Begin(addrDetect bool) error {
	if err := d.wire.Begin(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotBegun, err)
	}
	d.began = true

	if addrDetect && !d.Detected() {
		return ErrNotDetected
	}
	return nil
}

// End releases the bus if the profile supports termination. Elsewhere it is
// a no-op and the session stays active.
func (d *SoftwareDevice) End() {
	if d.ender == nil {
		return
	}
	d.ender.End()
	d.began = false
}

func (d *SoftwareDevice) ensureBegun() error {
	if d.began {
		return nil
	}
	return d.Begin(false)
}

// Detected probes the address with an empty write and reports whether it
// was acknowledged.
func (d *SoftwareDevice) Detected() bool {
	if err := d.ensureBegun(); err != nil {
		return false
	}

	d.wire.BeginTransmission(d.addr)
	status := d.wire.EndTransmission(true)
	if status != StatusOK {
		d.log.Debug("probe not acknowledged", zap.Stringer("status", status))
		return false
	}
	return true
}

// Write sends prefix then buf in one transmission, ending it with a stop
// when stop is set. Oversized requests fail before any bus activity.
func (d *SoftwareDevice) Write(buf []byte, stop bool, prefix []byte) error {
	// Refuse before touching the bus so an oversized request never goes out
	// partially.
	if len(buf)+len(prefix) > d.MaxBufferSize() {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrBufferOverrun, len(buf)+len(prefix), d.MaxBufferSize())
	}
	if err := d.ensureBegun(); err != nil {
		return err
	}

	d.wire.BeginTransmission(d.addr)

	if len(prefix) > 0 {
		if n := d.wire.Write(prefix); n != len(prefix) {
			d.log.Debug("prefix not accepted", zap.Int("accepted", n), zap.Int("len", len(prefix)))
			return fmt.Errorf("%w: prefix %d/%d", ErrShortWrite, n, len(prefix))
		}
	}

	if n := d.wire.Write(buf); n != len(buf) {
		d.log.Debug("payload not accepted", zap.Int("accepted", n), zap.Int("len", len(buf)))
		return fmt.Errorf("%w: payload %d/%d", ErrShortWrite, n, len(buf))
	}

	if status := d.wire.EndTransmission(stop); status != StatusOK {
		d.log.Debug("write not acknowledged", zap.Stringer("status", status))
		return &TransmissionError{Code: status}
	}
	return nil
}

// Read fills buf, splitting it into MaxBufferSize pieces. Data is staged
// and copied into buf only once every piece has arrived.
func (d *SoftwareDevice) Read(buf []byte, stop bool) error {
	if err := d.ensureBegun(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	staged := make([]byte, len(buf))
	err := readChunks(len(buf), d.MaxBufferSize(), stop, func(off, size int, stop bool) error {
		return d.read(staged[off:off+size], stop)
	})
	if err != nil {
		return err
	}
	copy(buf, staged)
	return nil
}

// read requests exactly len(buf) bytes and only copies them out if all of
// them arrived.
func (d *SoftwareDevice) read(buf []byte, stop bool) error {
	if d.profile.StoplessRequest {
		stop = true
	}

	recv := d.wire.RequestFrom(d.addr, len(buf), stop)
	if recv != len(buf) {
		if d.reqStat != nil {
			if status := d.reqStat.RequestStatus(); status != StatusOK {
				d.log.Debug("read request failed", zap.Stringer("status", status))
				return &TransmissionError{Code: status}
			}
		}
		d.log.Debug("short read", zap.Int("received", recv), zap.Int("len", len(buf)))
		return fmt.Errorf("%w: %d/%d", ErrShortRead, recv, len(buf))
	}

	for i := range buf {
		c := d.wire.Read()
		if c < 0 {
			return fmt.Errorf("%w: driver ran dry at byte %d", ErrShortRead, i)
		}
		buf[i] = byte(c)
	}
	return nil
}

// WriteThenRead writes w ending with stop, then reads r.
func (d *SoftwareDevice) WriteThenRead(w, r []byte, stop bool) error {
	if err := d.Write(w, stop, nil); err != nil {
		return err
	}
	return d.Read(r, true)
}

// SetSpeed retimes the bus according to the profile's clock mode.
func (d *SoftwareDevice) SetSpeed(hz uint32) error {
	switch d.profile.ClockMode {
	case ClockHardwareDivider:
		div, err := ComputeDivider(d.profile.ReferenceClock, hz)
		if err != nil {
			return err
		}
		d.divider.SetPrescaler(div.Prescaler)
		d.divider.SetBitRate(div.BitRate)
		d.log.Debug("divider programmed",
			zap.Uint32("hz", hz),
			zap.Uint8("prescaler", div.Prescaler),
			zap.Uint8("bitrate", div.BitRate))
		return nil

	case ClockDirectSet:
		if d.clocker == nil {
			return ErrSpeedUnsupported
		}
		return d.clocker.SetClock(hz)
	}
	return ErrSpeedUnsupported
}
