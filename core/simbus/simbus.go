// Package simbus is an in-memory I2C bus for exercising devices without
// hardware. It implements core.WireDriver with every optional capability and
// logs each transaction it carries.
package simbus

import (
	"fmt"

	"tinygo.org/x/drivers"

	"twowire/core"
)

// Peripheral is a simulated device attached to the bus.
type Peripheral interface {
	// Receive is handed the bytes of one write transaction. Returning
	// false NACKs the data.
	Receive(data []byte) bool

	// Transmit fills buf for a read and returns how many bytes it supplied.
	Transmit(buf []byte) int
}

type EventKind uint8

const (
	EventBegin EventKind = iota
	EventEnd
	EventWrite
	EventRead
	EventClock
	EventDivider
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventEnd:
		return "end"
	case EventWrite:
		return "write"
	case EventRead:
		return "read"
	case EventClock:
		return "clock"
	case EventDivider:
		return "divider"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is one entry of the bus log.
type Event struct {
	Kind   EventKind
	Addr   core.I2CAddress
	Data   []byte
	Stop   bool
	Status core.TransmissionStatus
	Value  uint32
}

func (e Event) String() string {
	switch e.Kind {
	case EventWrite:
		return fmt.Sprintf("write 0x%02x % x stop=%v > %s", e.Addr, e.Data, e.Stop, e.Status)
	case EventRead:
		return fmt.Sprintf("read 0x%02x % x stop=%v", e.Addr, e.Data, e.Stop)
	case EventClock, EventDivider:
		return fmt.Sprintf("%s %d", e.Kind, e.Value)
	}
	return e.Kind.String()
}

// Bus is the simulated bus. The zero value is not usable; call New.
type Bus struct {
	// BeginErr, when set, is returned by Begin.
	BeginErr error

	capacity    int
	peripherals map[core.I2CAddress]Peripheral
	events      []Event

	tx     []byte
	txAddr core.I2CAddress
	txOpen bool
	rx     []byte

	began     bool
	clock     uint32
	prescaler uint8
	bitRate   uint8
}

var (
	_ core.WireDriver       = (*Bus)(nil)
	_ core.WireEnder        = (*Bus)(nil)
	_ core.WireClocker      = (*Bus)(nil)
	_ core.DividerRegisters = (*Bus)(nil)
	_ drivers.I2C           = (*Bus)(nil)
)

// New returns a bus whose transmit and receive buffers hold capacity bytes.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = core.DefaultBufferSize
	}
	return &Bus{
		capacity:    capacity,
		peripherals: make(map[core.I2CAddress]Peripheral),
	}
}

// Attach places p at addr, replacing whatever was there.
func (b *Bus) Attach(addr core.I2CAddress, p Peripheral) {
	b.peripherals[addr] = p
}

// Detach removes the peripheral at addr.
func (b *Bus) Detach(addr core.I2CAddress) {
	delete(b.peripherals, addr)
}

// Events returns the bus log.
func (b *Bus) Events() []Event { return b.events }

// ClearEvents empties the bus log.
func (b *Bus) ClearEvents() { b.events = nil }

func (b *Bus) Began() bool      { return b.began }
func (b *Bus) Clock() uint32    { return b.clock }
func (b *Bus) Prescaler() uint8 { return b.prescaler }
func (b *Bus) BitRate() uint8   { return b.bitRate }
func (b *Bus) Capacity() int    { return b.capacity }

func (b *Bus) log(e Event) { b.events = append(b.events, e) }

func (b *Bus) Begin() error {
	if b.BeginErr != nil {
		return b.BeginErr
	}
	b.began = true
	b.log(Event{Kind: EventBegin})
	return nil
}

func (b *Bus) End() {
	b.began = false
	b.log(Event{Kind: EventEnd})
}

func (b *Bus) SetClock(hz uint32) error {
	b.clock = hz
	b.log(Event{Kind: EventClock, Value: hz})
	return nil
}

// SetBaudRate matches TinyGo's machine.I2C.
func (b *Bus) SetBaudRate(br uint32) error { return b.SetClock(br) }

func (b *Bus) SetPrescaler(sel uint8) {
	b.prescaler = sel
	b.log(Event{Kind: EventDivider, Value: uint32(sel)})
}

func (b *Bus) SetBitRate(div uint8) {
	b.bitRate = div
	b.log(Event{Kind: EventDivider, Value: uint32(div)})
}

func (b *Bus) BeginTransmission(addr core.I2CAddress) {
	b.tx = b.tx[:0]
	b.txAddr = addr
	b.txOpen = true
}

func (b *Bus) Write(data []byte) int {
	if !b.txOpen {
		return 0
	}
	n := min(len(data), b.capacity-len(b.tx))
	b.tx = append(b.tx, data[:n]...)
	return n
}

func (b *Bus) EndTransmission(stop bool) core.TransmissionStatus {
	if !b.txOpen {
		return core.StatusOther
	}
	b.txOpen = false
	data := append([]byte(nil), b.tx...)

	status := core.StatusOK
	switch p, ok := b.peripherals[b.txAddr]; {
	case !b.began:
		status = core.StatusOther
	case !ok:
		status = core.StatusAddressNACK
	case !p.Receive(data):
		status = core.StatusDataNACK
	}

	b.log(Event{Kind: EventWrite, Addr: b.txAddr, Data: data, Stop: stop, Status: status})
	return status
}

func (b *Bus) RequestFrom(addr core.I2CAddress, n int, stop bool) int {
	b.rx = b.rx[:0]
	p, ok := b.peripherals[addr]
	if !b.began || !ok || n <= 0 {
		b.log(Event{Kind: EventRead, Addr: addr, Stop: stop})
		return 0
	}

	buf := make([]byte, min(n, b.capacity))
	got := p.Transmit(buf)
	b.rx = append(b.rx, buf[:got]...)

	b.log(Event{Kind: EventRead, Addr: addr, Data: append([]byte(nil), b.rx...), Stop: stop})
	return got
}

func (b *Bus) Read() int {
	if len(b.rx) == 0 {
		return -1
	}
	c := b.rx[0]
	b.rx = b.rx[1:]
	return int(c)
}

// Tx runs a whole transaction the way a hardware controller does, so a Bus
// also serves as a drivers.I2C. Failures are *core.TransmissionError.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	a := core.I2CAddress(addr)
	if len(w) > b.capacity || len(r) > b.capacity {
		return &core.TransmissionError{Code: core.StatusDataTooLong}
	}

	p, ok := b.peripherals[a]
	if len(w) > 0 || len(r) == 0 {
		status := core.StatusOK
		switch {
		case !ok:
			status = core.StatusAddressNACK
		case !p.Receive(append([]byte(nil), w...)):
			status = core.StatusDataNACK
		}
		b.log(Event{Kind: EventWrite, Addr: a, Data: append([]byte(nil), w...), Stop: len(r) == 0, Status: status})
		if status != core.StatusOK {
			return &core.TransmissionError{Code: status}
		}
	}
	if len(r) == 0 {
		return nil
	}

	if !ok {
		b.log(Event{Kind: EventRead, Addr: a, Stop: true})
		return &core.TransmissionError{Code: core.StatusAddressNACK}
	}
	got := p.Transmit(r)
	b.log(Event{Kind: EventRead, Addr: a, Data: append([]byte(nil), r[:got]...), Stop: true})
	if got != len(r) {
		return &core.TransmissionError{Code: core.StatusOther}
	}
	return nil
}

// Buses is a core.I2CBusProvider over simulated buses.
type Buses map[core.I2CBusID]*Bus

func (bs Buses) ConfigureBus(id core.I2CBusID, hz uint32) (drivers.I2C, error) {
	b, ok := bs[id]
	if !ok {
		return nil, fmt.Errorf("simbus: no bus %d", id)
	}
	if hz != 0 {
		if err := b.SetClock(hz); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Bare hides the optional capabilities of d, leaving only core.WireDriver.
// It models driver families without end() or setClock().
func Bare(d core.WireDriver) core.WireDriver {
	return bare{d}
}

type bare struct{ core.WireDriver }
