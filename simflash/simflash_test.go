package simflash

import (
	"bytes"
	"testing"
)

func TestNewErased(t *testing.T) {
	h := New(0x1000, 16, 4, 0xFF)
	got := h.Read(0x1000, 64)
	want := bytes.Repeat([]byte{0xFF}, 64)
	if !bytes.Equal(got, want) {
		t.Errorf("New() did not pre-erase memory: got %v", got)
	}
}

func TestAddrPage(t *testing.T) {
	h := New(0x1000, 16, 4, 0xFF)
	if got := h.Addr(2); got != 0x1000+32 {
		t.Errorf("Addr(2) = %#x, want %#x", got, 0x1000+32)
	}
	if got := h.Page(0x1000 + 32); got != 2 {
		t.Errorf("Page() = %d, want 2", got)
	}
}

func TestWriteRejectsSettingClearedBit(t *testing.T) {
	h := New(0, 16, 1, 0xFF)
	if err := h.Write(0, []byte{0x00}); err != nil {
		t.Fatalf("first write (clearing bits) failed: %v", err)
	}
	if err := h.Write(0, []byte{0xFF}); err == nil {
		t.Error("write that would set an already-cleared bit back to 1 did not error")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	h := New(0, 16, 1, 0xFF)
	data := []byte{0x01, 0x02, 0x03}
	if err := h.Write(4, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got := h.Read(4, 3)
	if !bytes.Equal(got, data) {
		t.Errorf("Read() = %v, want %v", got, data)
	}
}

func TestErase(t *testing.T) {
	h := New(0, 16, 2, 0xFF)
	if err := h.Write(0, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := h.Erase(0); err != nil {
		t.Fatalf("Erase() error = %v", err)
	}
	got := h.Read(0, 2)
	if !bytes.Equal(got, []byte{0xFF, 0xFF}) {
		t.Errorf("Erase() did not reset page to erase byte: got %v", got)
	}
	erases := h.Erases()
	if len(erases) != 1 || erases[0] != 0 {
		t.Errorf("Erases() = %v, want [0]", erases)
	}
}

func TestEraseOutOfRange(t *testing.T) {
	h := New(0, 16, 2, 0xFF)
	if err := h.Erase(5); err == nil {
		t.Error("Erase() of an out-of-range page did not error")
	}
}

func TestWriteOutOfRange(t *testing.T) {
	h := New(0, 16, 1, 0xFF)
	if err := h.Write(10, []byte{0, 0, 0, 0, 0, 0, 0, 0}); err == nil {
		t.Error("Write() past the end of the region did not error")
	}
}

func TestTrace(t *testing.T) {
	h := New(0, 16, 1, 0xFF)
	h.StartTrace()
	if err := h.Write(0, []byte{0x11}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := h.Write(1, []byte{0x22}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	writes := h.Writes()
	if len(writes) != 2 {
		t.Fatalf("len(Writes()) = %d, want 2", len(writes))
	}
	if writes[0].Addr != 0 || writes[0].Data[0] != 0x11 {
		t.Errorf("writes[0] = %+v, want Addr=0 Data=[0x11]", writes[0])
	}
	if writes[1].Addr != 1 || writes[1].Data[0] != 0x22 {
		t.Errorf("writes[1] = %+v, want Addr=1 Data=[0x22]", writes[1])
	}
}

func TestNoTraceByDefault(t *testing.T) {
	h := New(0, 16, 1, 0xFF)
	if err := h.Write(0, []byte{0x11}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if writes := h.Writes(); len(writes) != 0 {
		t.Errorf("Writes() without StartTrace() = %v, want empty", writes)
	}
}
