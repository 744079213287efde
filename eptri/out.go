package eptri

import "github.com/ardnew/eptri/usb"

// OutInterface is the OUT endpoint register block. All endpoints share one
// FIFO; EPNO names the endpoint its data came from. Registers describing a
// single endpoint act on the one chosen through SELECT.
type OutInterface struct {
	x   *crossings
	ev  EventBlock
	sel uint8
}

func newOutInterface(x *crossings) *OutInterface {
	return &OutInterface{x: x, ev: newEventBlock("out", EventOutDone)}
}

// Name implements Peripheral.
func (o *OutInterface) Name() string { return "out" }

// Registers implements Peripheral.
func (o *OutInterface) Registers() []Register { return outRegisters }

// IRQ implements Peripheral.
func (o *OutInterface) IRQ() bool { return o.ev.IRQ() }

// Events returns the OUT event block.
func (o *OutInterface) Events() *EventBlock { return &o.ev }

func (o *OutInterface) status() uint32 { return o.x.outStatus[o.sel].Get() }

// Read implements Peripheral.
func (o *OutInterface) Read(offset uint32) uint32 {
	if v, ok := o.ev.read(offset); ok {
		return v
	}
	switch offset {
	case RegOutData:
		b, err := o.x.outFIFO.Pop()
		if err != nil {
			return 0
		}
		return uint32(b)
	case RegOutEpno:
		return uint32(o.x.outOwner.Get())
	case RegOutSelect:
		return uint32(o.sel)
	case RegOutStall:
		return bit(o.status()&epStall != 0)
	case RegOutEnable:
		return bit(o.status()&epEnabled != 0)
	case RegOutHave:
		return bit(o.x.outFIFO.Readable() > 0)
	case RegOutPending:
		return bit(o.x.outAvail.Get())
	case RegOutPID:
		return bit(o.status()&epToggle != 0)
	case RegOutMaxPkt:
		return o.status() >> epMaxPktShift & epMaxPktMask
	}
	return 0
}

// Write implements Peripheral.
func (o *OutInterface) Write(offset, v uint32) {
	if o.ev.write(offset, v) {
		return
	}
	switch offset {
	case RegOutSelect:
		o.sel = uint8(v) & usb.MaxEndpoint
	case RegOutAck:
		// Unread bytes belong to the packet being released.
		o.x.outFIFO.Discard(o.x.outFIFO.Readable())
		o.x.push(command{kind: cmdOutAck})
	case RegOutStall:
		o.x.push(command{kind: cmdOutStall, ep: o.sel, value: v & 1})
	case RegOutEnable:
		o.x.push(command{kind: cmdOutEnable, ep: o.sel, value: v & 1})
	case RegOutReset:
		// A packet the engine stores after this point is not flushed.
		o.x.outFIFO.Discard(o.x.outFIFO.Readable())
		o.x.push(command{kind: cmdOutReset, value: o.x.outFIFO.Tail()})
	case RegOutPID:
		o.x.push(command{kind: cmdOutPID, ep: o.sel, value: v & 1})
	case RegOutMaxPkt:
		o.x.push(command{kind: cmdOutMaxPkt, ep: o.sel, value: v & epMaxPktMask})
	}
}

func (o *OutInterface) tick() {
	if o.x.evOutDone.Take() > 0 {
		o.ev.Raise(EventOutDone)
	}
}
