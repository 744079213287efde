package eptri

import (
	"github.com/ardnew/eptri/cdc"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// Endpoint status word, as mirrored into the system domain.
const (
	epReady       = 1 << 0
	epStall       = 1 << 1
	epToggle      = 1 << 2
	epEnabled     = 1 << 3
	epMaxPktShift = 16
	epMaxPktMask  = 0x7FF
	defaultMaxPkt = 64
)

// endpoint is the USB-domain state of one endpoint in one direction.
type endpoint struct {
	number    uint8
	in        bool
	enabled   bool
	stalled   bool
	toggle    bool // next data packet is DATA1
	ready     bool // IN only: firmware armed the FIFO
	maxPacket uint16
	fifo      *cdc.AsyncFIFO // IN only
	status    *cdc.Sync[uint32]
}

func (e *endpoint) component() pkg.Component {
	if e.in {
		return pkg.ComponentIn
	}
	return pkg.ComponentOut
}

// setStall sets or clears the stall condition.
func (e *endpoint) setStall(stalled bool) {
	if e.stalled == stalled {
		return
	}
	e.stalled = stalled
	if stalled {
		pkg.LogDebug(e.component(), "endpoint stalled", "ep", e.number)
	} else {
		pkg.LogDebug(e.component(), "endpoint stall cleared", "ep", e.number)
	}
}

// dataPID returns the PID of the next data packet.
func (e *endpoint) dataPID() usb.PID { return usb.DataPID(e.toggle) }

// flip advances the data toggle after an acknowledged packet.
func (e *endpoint) flip() { e.toggle = !e.toggle }

// clear returns the endpoint to its post-reset state. Endpoint 0 stays
// enabled; every other endpoint must be enabled again by firmware.
func (e *endpoint) clear() {
	e.enabled = e.number == 0
	e.stalled = false
	e.toggle = false
	e.ready = false
	if e.fifo != nil {
		e.fifo.Reset()
	}
}

// word packs the state published to the system domain.
func (e *endpoint) word() uint32 {
	var w uint32
	if e.ready {
		w |= epReady
	}
	if e.stalled {
		w |= epStall
	}
	if e.toggle {
		w |= epToggle
	}
	if e.enabled {
		w |= epEnabled
	}
	return w | uint32(e.maxPacket&epMaxPktMask)<<epMaxPktShift
}

func (e *endpoint) publish() { e.status.Set(e.word()) }
