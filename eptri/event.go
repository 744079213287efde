package eptri

import "github.com/ardnew/eptri/pkg"

// EventBlock is the pending/enable pair behind one interrupt line. Pending
// bits are set by hardware and cleared only by firmware writing 1 to them;
// the line is asserted while any bit is both pending and enabled.
type EventBlock struct {
	name    string
	mask    uint32 // implemented bits
	pending uint32
	enable  uint32
}

func newEventBlock(name string, mask uint32) EventBlock {
	return EventBlock{name: name, mask: mask}
}

// Raise sets pending bits.
func (e *EventBlock) Raise(bits uint32) {
	bits &= e.mask
	if bits&^e.pending != 0 {
		pkg.LogDebug(pkg.ComponentEvent, "raise", "line", e.name, "bits", bits)
	}
	e.pending |= bits
}

// Clear clears the pending bits set in w. Bits already clear are unaffected.
func (e *EventBlock) Clear(w uint32) { e.pending &^= w & e.mask }

// Pending returns the pending bits.
func (e *EventBlock) Pending() uint32 { return e.pending }

// Enable returns the enable mask.
func (e *EventBlock) Enable() uint32 { return e.enable }

// SetEnable replaces the enable mask.
func (e *EventBlock) SetEnable(v uint32) { e.enable = v & e.mask }

// IRQ reports the state of the interrupt line.
func (e *EventBlock) IRQ() bool { return e.pending&e.enable != 0 }

// reset drops pending bits and keeps the mask.
func (e *EventBlock) reset() { e.pending = 0 }

// read serves the two event registers. ok is false for any other offset.
func (e *EventBlock) read(offset uint32) (v uint32, ok bool) {
	switch offset {
	case RegEvPending:
		return e.pending, true
	case RegEvEnable:
		return e.enable, true
	}
	return 0, false
}

func (e *EventBlock) write(offset, v uint32) bool {
	switch offset {
	case RegEvPending:
		e.Clear(v)
		return true
	case RegEvEnable:
		e.SetEnable(v)
		return true
	}
	return false
}
