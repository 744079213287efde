package eptri

import (
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// InInterface is the IN endpoint register block. Every endpoint has its own
// FIFO; DATA pushes into the FIFO of the endpoint selected by EPNO.
type InInterface struct {
	x  *crossings
	ev EventBlock

	epno     uint8
	overflow uint64
}

func newInInterface(x *crossings) *InInterface {
	return &InInterface{x: x, ev: newEventBlock("in", EventInDone|EventInStall)}
}

// Name implements Peripheral.
func (n *InInterface) Name() string { return "in" }

// Registers implements Peripheral.
func (n *InInterface) Registers() []Register { return inRegisters }

// IRQ implements Peripheral.
func (n *InInterface) IRQ() bool { return n.ev.IRQ() }

// Events returns the IN event block.
func (n *InInterface) Events() *EventBlock { return &n.ev }

func (n *InInterface) status() uint32 { return n.x.inStatus[n.epno].Get() }

// Read implements Peripheral.
func (n *InInterface) Read(offset uint32) uint32 {
	if v, ok := n.ev.read(offset); ok {
		return v
	}
	switch offset {
	case RegInEpno:
		return uint32(n.epno)
	case RegInReady:
		return bit(n.status()&epReady != 0)
	case RegInStall:
		return bit(n.status()&epStall != 0)
	case RegInIdle:
		for _, s := range n.x.inStatus {
			if s.Get()&epReady != 0 {
				return 0
			}
		}
		return 1
	case RegInHave:
		return bit(n.x.inFIFO[n.epno].Written() > 0)
	case RegInPID:
		return bit(n.status()&epToggle != 0)
	case RegInEnable:
		return bit(n.status()&epEnabled != 0)
	case RegInMaxPkt:
		return n.status() >> epMaxPktShift & epMaxPktMask
	}
	return 0
}

// Write implements Peripheral.
func (n *InInterface) Write(offset, v uint32) {
	if n.ev.write(offset, v) {
		return
	}
	switch offset {
	case RegInData:
		if err := n.x.inFIFO[n.epno].Push(byte(v)); err != nil {
			n.overflow++
			pkg.LogDebug(pkg.ComponentIn, "FIFO overflow", "ep", n.epno, "error", err)
		}
	case RegInEpno:
		n.epno = uint8(v) & usb.MaxEndpoint
	case RegInReady:
		n.x.push(command{kind: cmdInReady, ep: n.epno, value: v & 1})
	case RegInReset:
		n.flush()
	case RegInStall:
		if v&1 == 0 {
			n.flush()
		}
		n.x.push(command{kind: cmdInStall, ep: n.epno, value: v & 1})
	case RegInPID:
		n.x.push(command{kind: cmdInPID, ep: n.epno, value: v & 1})
	case RegInEnable:
		n.x.push(command{kind: cmdInEnable, ep: n.epno, value: v & 1})
	case RegInMaxPkt:
		n.x.push(command{kind: cmdInMaxPkt, ep: n.epno, value: v & epMaxPktMask})
	}
}

// flush disarms the selected endpoint and empties its FIFO. The reader owns
// the pointer it moves, so the bytes written so far are dropped in the USB
// domain; HAVE reads 1 until the freed space has crossed back.
func (n *InInterface) flush() {
	n.x.push(command{kind: cmdInReset, ep: n.epno, value: n.x.inFIFO[n.epno].Head()})
}

func (n *InInterface) tick() {
	if n.x.evInDone.Take() > 0 {
		n.ev.Raise(EventInDone)
	}
	if n.x.evInStall.Take() > 0 {
		n.ev.Raise(EventInStall)
	}
}
