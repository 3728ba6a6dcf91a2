package core

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrBufferOverrun means a write would exceed the device's MaxBufferSize.
	// Nothing is sent to the bus.
	ErrBufferOverrun = errors.New("i2c: transaction exceeds max buffer size")
	// ErrNACK means the peripheral did not acknowledge. A *TransmissionError
	// carrying the driver status matches it.
	ErrNACK = errors.New("i2c: not acknowledged")
	// ErrShortWrite means the driver accepted fewer bytes than requested.
	ErrShortWrite = errors.New("i2c: driver accepted fewer bytes than requested")
	// ErrShortRead means fewer bytes arrived than requested. The caller's
	// buffer is left untouched.
	ErrShortRead = errors.New("i2c: peripheral returned fewer bytes than requested")
	// ErrSpeedUnsupported means the device cannot change the bus clock.
	ErrSpeedUnsupported = errors.New("i2c: clock rate cannot be set on this bus")
	// ErrSpeedOutOfRange means the requested clock cannot be produced by the
	// bus clock generator.
	ErrSpeedOutOfRange = errors.New("i2c: clock rate out of range")
	// ErrNotBegun wraps a failed lazy initialisation.
	ErrNotBegun = errors.New("i2c: bus not initialised")
	// ErrNotDetected is returned by Begin(true) when nothing answers.
	ErrNotDetected = errors.New("i2c: peripheral not detected")
	// ErrNoDriver means no bus driver was given and no default is registered.
	ErrNoDriver = errors.New("i2c: no bus driver")
	// ErrProfile means a platform profile promises a capability the driver
	// lacks.
	ErrProfile = errors.New("i2c: profile does not match driver")
)

// TransmissionError reports the status of a transaction the driver did not
// complete. errors.Is(err, ErrNACK) holds for it.
type TransmissionError struct {
	Code TransmissionStatus
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrNACK, e.Code)
}

func (e *TransmissionError) Is(target error) bool { return target == ErrNACK }

// Status lets TransmissionError travel through buses that inspect
// StatusError.
func (e *TransmissionError) Status() TransmissionStatus { return e.Code }

// StatusOf condenses err into the TransmissionStatus reported to a host.
func StatusOf(err error) TransmissionStatus {
	var se StatusError
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &se):
		return se.Status()
	case errors.Is(err, ErrBufferOverrun):
		return StatusDataTooLong
	case errors.Is(err, ErrNACK), errors.Is(err, ErrNotDetected):
		return StatusAddressNACK
	}
	return StatusOther
}

// I2CDevice is one peripheral on a bus. Implementations are synchronous and
// not safe for concurrent use; callers sharing a bus between devices must
// serialise their calls.
//
// A failed Write or WriteThenRead may already have put some bytes on the
// bus; there is no rollback.
type I2CDevice interface {
	// Address returns the peripheral address the device is bound to.
	Address() I2CAddress

	// Begin initialises the bus if needed. With addrDetect it also probes
	// the peripheral and returns ErrNotDetected when it does not answer.
	Begin(addrDetect bool) error

	// End releases the bus where the driver supports it. On other platforms
	// it does nothing and the session stays active.
	End()

	// Detected reports whether the peripheral acknowledges its address.
	Detected() bool

	// Read fills buf from the peripheral. It either fills all of buf or
	// leaves it unmodified and returns an error.
	Read(buf []byte, stop bool) error

	// Write sends prefix followed by buf as one transaction. The bus is
	// released afterwards only if stop is set.
	Write(buf []byte, stop bool, prefix []byte) error

	// WriteThenRead writes w and reads r, by default without releasing the
	// bus in between.
	WriteThenRead(w, r []byte, stop bool) error

	// SetSpeed retimes the bus. On failure the previous timing is kept.
	SetSpeed(hz uint32) error

	// MaxBufferSize is the largest write, prefix included, the device
	// accepts in one transaction.
	MaxBufferSize() int
}

// Option tweaks a device at construction.
type Option func(*deviceOptions)

type deviceOptions struct {
	log *zap.Logger
}

// WithLogger routes device diagnostics to log.
func WithLogger(log *zap.Logger) Option {
	return func(o *deviceOptions) {
		if log != nil {
			o.log = log
		}
	}
}

func buildOptions(addr I2CAddress, opts []Option) deviceOptions {
	o := deviceOptions{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(zap.Uint8("addr", uint8(addr)))
	return o
}

// readChunks splits a read of n bytes into pieces of at most limit bytes.
// Every piece but the last keeps the bus claimed.
func readChunks(n, limit int, stop bool, fn func(off, size int, stop bool) error) error {
	if limit <= 0 {
		limit = n
	}
	for off := 0; off < n; {
		size := min(limit, n-off)
		chunkStop := false
		if off+size == n {
			chunkStop = stop
		}
		if err := fn(off, size, chunkStop); err != nil {
			return err
		}
		off += size
	}
	return nil
}
