package core

import (
	"errors"
	"io"
	"os"

	"twowire/protocol"
)

// Firmware is the device end of the host bridge. It owns the command
// registry and data dictionary and executes I2C commands received over a
// byte stream against the buses an I2CBusProvider hands out.
//
// Commands are executed one at a time on the goroutine running Serve.
type Firmware struct {
	registry  *CommandRegistry
	dict      *Dictionary
	transport *protocol.Transport
	output    *protocol.ScratchOutput
	input     *protocol.FifoBuffer
	sink      io.Writer
	flushErr  error

	buses      I2CBusProvider
	software   *Profile
	deviceOpts []Option
	wires      map[I2CBusID]*TxWire
	i2c        map[uint8]*i2cSlot

	configCRC    uint32
	shutdown     bool
	resetPending bool
	resetHandler func()
}

// FirmwareOption configures a Firmware.
type FirmwareOption func(*Firmware)

// WithSoftwareTiming drives every peripheral through a SoftwareDevice built
// from p on top of a TxWire, instead of a HardwareDevice.
func WithSoftwareTiming(p Profile) FirmwareOption {
	return func(f *Firmware) { f.software = &p }
}

// WithDeviceOptions passes opts to every device the firmware creates.
func WithDeviceOptions(opts ...Option) FirmwareOption {
	return func(f *Firmware) { f.deviceOpts = append(f.deviceOpts, opts...) }
}

// WithResetHandler sets what the reset command runs once its
// acknowledgement has gone out.
func WithResetHandler(fn func()) FirmwareOption {
	return func(f *Firmware) { f.resetHandler = fn }
}

// WithCompressedDictionary serves the dictionary zlib compressed.
func WithCompressedDictionary() FirmwareOption {
	return func(f *Firmware) { f.dict.SetCompression(true) }
}

func NewFirmware(buses I2CBusProvider, opts ...FirmwareOption) *Firmware {
	f := &Firmware{
		registry: NewCommandRegistry(),
		output:   protocol.NewScratchOutput(),
		input:    protocol.NewFifoBuffer(2 * protocol.MessageMax),
		buses:    buses,
		wires:    make(map[I2CBusID]*TxWire),
		i2c:      make(map[uint8]*i2cSlot),
	}
	f.dict = NewDictionary(f.registry, protocol.Version)
	for _, opt := range opts {
		opt(f)
	}

	f.transport = protocol.NewTransport(f.output, f.registry.Dispatch)
	f.transport.SetFlushCallback(f.flush)
	f.transport.SetResetCallback(f.resetState)

	f.registerCoreCommands()
	f.registerI2CCommands()
	return f
}

func (f *Firmware) Registry() *CommandRegistry { return f.registry }
func (f *Firmware) Dictionary() *Dictionary    { return f.dict }
func (f *Firmware) IsShutdown() bool           { return f.shutdown }

// registerCoreCommands registers the bootstrap and configuration commands.
// identify_response and identify must keep IDs 0 and 1: hosts assume them
// before they have the dictionary.
func (f *Firmware) registerCoreCommands() {
	r := f.registry
	r.RegisterResponse("identify_response", "offset=%u data=%*s")
	r.Register("identify", "offset=%u count=%c", f.handleIdentify)

	r.Register("get_config", "", f.handleGetConfig)
	r.Register("config_reset", "", f.handleConfigReset)
	r.Register("finalize_config", "crc=%u", f.handleFinalizeConfig)
	r.Register("allocate_oids", "count=%c", f.handleAllocateOids)
	r.Register("emergency_stop", "", f.handleEmergencyStop)
	r.Register("reset", "", f.handleReset)

	r.RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
}

func (f *Firmware) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := f.dict.GetChunk(offset, uint8(count))
	f.sendResponse("identify_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
	return nil
}

func (f *Firmware) handleGetConfig(_ *[]byte) error {
	f.sendResponse("config", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, boolToUint(f.configCRC != 0))
		protocol.EncodeVLQUint(out, f.configCRC)
		protocol.EncodeVLQUint(out, boolToUint(f.shutdown))
		protocol.EncodeVLQUint(out, 0)
	})
	return nil
}

func (f *Firmware) handleConfigReset(_ *[]byte) error {
	f.configCRC = 0
	return nil
}

func (f *Firmware) handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.configCRC = crc
	return nil
}

// handleAllocateOids accepts the count; oids are allocated on demand.
func (f *Firmware) handleAllocateOids(data *[]byte) error {
	_, err := protocol.DecodeVLQUint(data)
	return err
}

func (f *Firmware) handleEmergencyStop(_ *[]byte) error {
	f.shutdown = true
	f.shutdownI2C()
	return nil
}

// handleReset defers the reset until the acknowledgement is flushed.
func (f *Firmware) handleReset(_ *[]byte) error {
	f.resetPending = true
	return nil
}

// resetState runs when the host restarts the link.
func (f *Firmware) resetState() {
	f.configCRC = 0
	f.shutdown = false
}

func (f *Firmware) sendResponse(name string, args func(out protocol.OutputBuffer)) {
	cmd, ok := f.registry.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	f.transport.SendCommand(cmd.ID, args)
}

// flush writes queued output to the Serve stream. Outside Serve output
// accumulates until Receive collects it.
func (f *Firmware) flush() {
	if f.sink == nil {
		return
	}
	if data := f.output.Result(); len(data) > 0 {
		if _, err := f.sink.Write(data); err != nil && f.flushErr == nil {
			f.flushErr = err
		}
	}
	f.output.Reset()
}

// Receive feeds bytes from the host into the firmware and returns everything
// it answered with.
func (f *Firmware) Receive(data []byte) []byte {
	f.input.Write(data)
	f.transport.Receive(f.input)
	out := append([]byte(nil), f.output.Result()...)
	f.output.Reset()
	return out
}

// Serve reads host frames from rw and writes acknowledgements and responses
// back until rw reports end of stream.
func (f *Firmware) Serve(rw io.ReadWriter) error {
	f.sink = rw
	f.flushErr = nil
	defer func() { f.sink = nil }()

	buf := make([]byte, protocol.MessageMax)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			if w := f.input.Write(buf[:n]); w < n {
				// Overflow can only follow garbage; drop it all and resync.
				f.input.Reset()
			}
			f.transport.Receive(f.input)
			f.flush()
			if f.flushErr != nil {
				return f.flushErr
			}
			if f.resetPending {
				f.resetPending = false
				if f.resetHandler != nil {
					f.resetHandler()
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
