package simbus

// Memory is a 256 byte register file in the style of a 24C02 EEPROM: the
// first byte of a write sets the register pointer, further bytes are stored
// and reads continue from the pointer. The pointer wraps.
type Memory struct {
	Data [256]byte
	ptr  uint8
}

func (m *Memory) Receive(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	m.ptr = data[0]
	for _, b := range data[1:] {
		m.Data[m.ptr] = b
		m.ptr++
	}
	return true
}

func (m *Memory) Transmit(buf []byte) int {
	for i := range buf {
		buf[i] = m.Data[m.ptr]
		m.ptr++
	}
	return len(buf)
}

// Pointer returns the current register pointer.
func (m *Memory) Pointer() uint8 { return m.ptr }

// Truncate wraps p so that reads supply at most limit bytes.
func Truncate(p Peripheral, limit int) Peripheral {
	return truncated{p, limit}
}

type truncated struct {
	Peripheral
	limit int
}

func (t truncated) Transmit(buf []byte) int {
	if len(buf) > t.limit {
		buf = buf[:t.limit]
	}
	return t.Peripheral.Transmit(buf)
}

// Deaf acknowledges its address but NACKs any data byte.
type Deaf struct{}

func (Deaf) Receive(data []byte) bool { return len(data) == 0 }
func (Deaf) Transmit(buf []byte) int  { return 0 }

// Echo is a register file whose pointer only moves on writes: every read
// starts at the register the last write addressed, so a read returns what
// was just written there.
type Echo struct {
	Data [256]byte
	reg  uint8
}

func (e *Echo) Receive(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	e.reg = data[0]
	for i, b := range data[1:] {
		e.Data[e.reg+uint8(i)] = b
	}
	return true
}

func (e *Echo) Transmit(buf []byte) int {
	for i := range buf {
		buf[i] = e.Data[e.reg+uint8(i)]
	}
	return len(buf)
}
