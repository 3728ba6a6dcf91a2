package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})
	buf.Pop(2)
	if buf.Available() != 3 || buf.Data()[0] != 3 {
		t.Errorf("after Pop(2): %v", buf.Data())
	}
	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Pop past the end left %d bytes", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output([]byte{1, 2, 3})
	scratch.Output([]byte{4, 5})

	if scratch.CurPosition() != 5 {
		t.Errorf("Expected position 5, got %d", scratch.CurPosition())
	}

	scratch.Update(0, 99)
	if got := scratch.Result(); got[0] != 99 {
		t.Errorf("Update did not patch byte 0: %v", got)
	}
	if since := scratch.DataSince(2); !bytes.Equal(since, []byte{3, 4, 5}) {
		t.Errorf("DataSince(2) = %v", since)
	}

	scratch.Reset()
	if scratch.CurPosition() != 0 {
		t.Errorf("After reset, expected position 0, got %d", scratch.CurPosition())
	}
}

func TestScratchOutputOverflow(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output(make([]byte, MessageMax+10))
	if scratch.CurPosition() != MessageMax {
		t.Errorf("position = %d, want %d", scratch.CurPosition(), MessageMax)
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(4)

	if !fifo.IsEmpty() {
		t.Error("New FIFO should be empty")
	}
	if n := fifo.Write([]byte{1, 2, 3, 4, 5}); n != 4 {
		t.Errorf("Write into 4 byte FIFO stored %d bytes", n)
	}
	if fifo.Free() != 0 {
		t.Errorf("Free() = %d on a full FIFO", fifo.Free())
	}

	out := make([]byte, 3)
	if n := fifo.Read(out); n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("Read = %d %v", n, out)
	}

	// Wrap around the end of the ring.
	fifo.Write([]byte{6, 7})
	if got := fifo.Data(); !bytes.Equal(got, []byte{4, 6, 7}) {
		t.Errorf("Data() across wrap = %v", got)
	}

	b, ok := fifo.ReadByte()
	if !ok || b != 4 {
		t.Errorf("ReadByte = %d %v", b, ok)
	}
	fifo.Pop(5)
	if _, ok := fifo.ReadByte(); ok {
		t.Error("ReadByte on empty FIFO reported data")
	}

	fifo.Write([]byte{9})
	fifo.Reset()
	if fifo.Available() != 0 {
		t.Errorf("Reset left %d bytes", fifo.Available())
	}
}
