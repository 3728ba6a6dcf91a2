package protocol

// InputBuffer is a source of received bytes that the transports consume from
// the front.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer collects encoded bytes. Update and DataSince let a frame
// encoder patch the length byte and checksum what it has written.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer adapts a plain slice to InputBuffer.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput is a fixed MessageMax sized OutputBuffer. Bytes beyond its
// capacity are dropped.
type ScratchOutput struct {
	buf [MessageMax]byte
	pos int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

func (s *ScratchOutput) Reset() { s.pos = 0 }

// FifoBuffer is a fixed capacity byte ring. Writes beyond capacity are
// truncated and reported through the returned count.
type FifoBuffer struct {
	buf  []byte
	head int // index of the oldest byte
	n    int // bytes stored
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count stored.
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		if f.n == len(f.buf) {
			break
		}
		f.buf[(f.head+f.n)%len(f.buf)] = b
		f.n++
		written++
	}
	return written
}

// Read moves up to len(data) bytes out of the ring.
func (f *FifoBuffer) Read(data []byte) int {
	read := 0
	for read < len(data) && f.n > 0 {
		data[read] = f.buf[f.head]
		f.Pop(1)
		read++
	}
	return read
}

// ReadByte removes and returns the oldest byte. ok is false when empty.
func (f *FifoBuffer) ReadByte() (b byte, ok bool) {
	if f.n == 0 {
		return 0, false
	}
	b = f.buf[f.head]
	f.Pop(1)
	return b, true
}

func (f *FifoBuffer) Available() int { return f.n }
func (f *FifoBuffer) Free() int      { return len(f.buf) - f.n }
func (f *FifoBuffer) Cap() int       { return len(f.buf) }
func (f *FifoBuffer) IsEmpty() bool  { return f.n == 0 }

// Data returns the stored bytes in order. When the contents wrap around the
// end of the ring they are copied into a fresh slice.
func (f *FifoBuffer) Data() []byte {
	end := f.head + f.n
	if end <= len(f.buf) {
		return f.buf[f.head:end]
	}
	out := make([]byte, f.n)
	k := copy(out, f.buf[f.head:])
	copy(out[k:], f.buf[:end-len(f.buf)])
	return out
}

// Pop discards up to n bytes from the front.
func (f *FifoBuffer) Pop(n int) {
	n = min(n, f.n)
	if n <= 0 {
		return
	}
	f.head = (f.head + n) % len(f.buf)
	f.n -= n
}

func (f *FifoBuffer) Reset() {
	f.head = 0
	f.n = 0
}
