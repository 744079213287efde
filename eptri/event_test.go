package eptri

import "testing"

func TestEventBlock(t *testing.T) {
	e := newEventBlock("test", 0x3)

	e.Raise(0x7)
	if got := e.Pending(); got != 0x3 {
		t.Fatalf("Pending = %#x, want 0x3 (unimplemented bit dropped)", got)
	}
	if e.IRQ() {
		t.Error("IRQ asserted with nothing enabled")
	}

	e.SetEnable(0xF)
	if got := e.Enable(); got != 0x3 {
		t.Errorf("Enable = %#x, want 0x3", got)
	}
	if !e.IRQ() {
		t.Error("IRQ not asserted")
	}

	e.Clear(0x1)
	e.Clear(0x1)
	if got := e.Pending(); got != 0x2 {
		t.Errorf("Pending = %#x, want 0x2", got)
	}
	if !e.IRQ() {
		t.Error("IRQ dropped with bit 1 still pending")
	}

	e.SetEnable(0x1)
	if e.IRQ() {
		t.Error("IRQ asserted for a masked event")
	}

	e.reset()
	if e.Pending() != 0 || e.Enable() != 0x1 {
		t.Errorf("after reset: pending %#x enable %#x", e.Pending(), e.Enable())
	}
}

func TestEventRegisters(t *testing.T) {
	e := newEventBlock("test", 0x1)
	e.Raise(1)

	if !e.write(RegEvEnable, 1) {
		t.Fatal("EV_ENABLE write not handled")
	}
	if v, ok := e.read(RegEvPending); !ok || v != 1 {
		t.Errorf("EV_PENDING = %d, %v", v, ok)
	}
	// Writing 0 leaves pending bits alone.
	e.write(RegEvPending, 0)
	if v, _ := e.read(RegEvPending); v != 1 {
		t.Errorf("EV_PENDING after writing 0 = %d, want 1", v)
	}
	e.write(RegEvPending, 1)
	if v, _ := e.read(RegEvPending); v != 0 {
		t.Errorf("EV_PENDING after W1C = %d, want 0", v)
	}
	if _, ok := e.read(0x00); ok {
		t.Error("offset 0 claimed by the event block")
	}
	if e.write(0x00, 1) {
		t.Error("write to offset 0 claimed by the event block")
	}
}
