package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4})
	buf.Pop(3)
	if buf.Available() != 1 || buf.Data()[0] != 4 {
		t.Errorf("Expected [4], got %v", buf.Data())
	}

	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf.Available())
	}
}

func TestScratchOutputBackPatch(t *testing.T) {
	out := NewScratchOutput()
	out.Output([]byte{0, 0x10})
	out.Output([]byte{9, 9})
	out.Update(0, 4)

	if !bytes.Equal(out.Result(), []byte{4, 0x10, 9, 9}) {
		t.Errorf("Unexpected result %v", out.Result())
	}
	if !bytes.Equal(out.DataSince(2), []byte{9, 9}) {
		t.Errorf("DataSince(2) = %v", out.DataSince(2))
	}

	// Update past the written region is ignored
	out.Update(100, 1)
	if out.CurPosition() != 4 {
		t.Errorf("Expected position 4, got %d", out.CurPosition())
	}

	out.Reset()
	if len(out.Result()) != 0 {
		t.Error("Reset did not clear the buffer")
	}
}

func TestFifoBuffer(t *testing.T) {
	f := NewFifoBuffer(8)
	if n := f.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}); n != 7 {
		t.Errorf("Expected 7 bytes to fit, wrote %d", n)
	}
	if f.Free() != 0 {
		t.Errorf("Expected no free space, got %d", f.Free())
	}

	out := make([]byte, 3)
	if n := f.Read(out); n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("Read returned %d %v", n, out)
	}
	if f.Available() != 4 {
		t.Errorf("Expected 4 available, got %d", f.Available())
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	f := NewFifoBuffer(8)
	f.Write([]byte{1, 2, 3, 4, 5, 6})
	f.Pop(5)
	f.Write([]byte{7, 8, 9, 10})

	if !bytes.Equal(f.Data(), []byte{6, 7, 8, 9, 10}) {
		t.Errorf("Expected contiguous [6 7 8 9 10], got %v", f.Data())
	}

	f.Pop(100)
	if !f.IsEmpty() {
		t.Error("Expected empty after popping everything")
	}
}
