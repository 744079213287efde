package phy

import (
	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/eptri/pkg"
)

// Cable is an in-memory link between a simulated host and the device-side
// transceiver. Bytes move one per USB clock in each direction, advanced by
// Tick. Received packets are separated by at least one idle clock.
type Cable struct {
	plugged bool
	pullup  gpio.Level
	line    LineState
	lineNew bool // an RXCMD is owed to the device

	toDevice [][]byte // packets queued by the host
	rxPos    int      // next byte of toDevice[0]
	gap      bool     // idle clock owed after the last packet
	sample   Signals  // current device-side sample

	txBuf  []byte
	toHost [][]byte
}

// NewCable creates an unplugged cable with the bus idle.
func NewCable() *Cable {
	return &Cable{line: J, pullup: gpio.Low, sample: Idle}
}

// Device returns the device-side transceiver.
func (c *Cable) Device() Transceiver { return deviceEnd{c} }

// Host returns the host-side port.
func (c *Cable) Host() *HostEnd { return &HostEnd{c} }

// Tick advances the device-side sample by one USB clock.
func (c *Cable) Tick() {
	switch {
	case !c.plugged:
		c.sample = Idle
	case c.lineNew:
		c.lineNew = false
		c.sample = RxCmd(c.line)
	case c.gap:
		c.gap = false
		c.sample = Idle
	case len(c.toDevice) > 0 && c.line != SE0:
		pkt := c.toDevice[0]
		c.sample = RxData(pkt[c.rxPos])
		c.rxPos++
		if c.rxPos == len(pkt) {
			c.toDevice[0] = nil
			c.toDevice = c.toDevice[1:]
			c.rxPos = 0
			c.gap = true
		}
	default:
		c.sample = Idle
	}
}

type deviceEnd struct{ c *Cable }

func (d deviceEnd) Receive() Signals { return d.c.sample }

func (d deviceEnd) Transmit(s Signals) {
	c := d.c
	if !c.plugged {
		c.txBuf = c.txBuf[:0]
		return
	}
	c.txBuf = append(c.txBuf, s.Data)
	if s.Stp == gpio.High {
		c.toHost = append(c.toHost, append([]byte(nil), c.txBuf...))
		c.txBuf = c.txBuf[:0]
	}
}

func (d deviceEnd) SetPullup(l gpio.Level) {
	if d.c.pullup != l {
		pkg.LogDebug(pkg.ComponentPHY, "pull-up", "level", l)
	}
	d.c.pullup = l
}

func (d deviceEnd) Attached() bool { return d.c.plugged }

// HostEnd is the host side of a Cable.
type HostEnd struct{ c *Cable }

// Plug applies VBUS.
func (h *HostEnd) Plug() {
	h.c.plugged = true
	pkg.LogDebug(pkg.ComponentPHY, "plug")
}

// Unplug removes VBUS and discards everything in flight.
func (h *HostEnd) Unplug() {
	c := h.c
	c.plugged = false
	clear(c.toDevice)
	c.toDevice = c.toDevice[:0]
	c.rxPos = 0
	c.gap = false
	c.txBuf = c.txBuf[:0]
	c.toHost = c.toHost[:0]
	pkg.LogDebug(pkg.ComponentPHY, "unplug")
}

// Connected reports whether the device is attached with its pull-up on.
func (h *HostEnd) Connected() bool { return h.c.plugged && h.c.pullup == gpio.High }

// DriveLineState drives the bus into ls. The device learns of the change
// through an RXCMD on a following clock.
func (h *HostEnd) DriveLineState(ls LineState) {
	c := h.c
	if c.line == ls {
		return
	}
	c.line = ls
	c.lineNew = true
	pkg.LogDebug(pkg.ComponentPHY, "line state", "state", ls)
}

// LineState returns the state currently driven by the host.
func (h *HostEnd) LineState() LineState { return h.c.line }

// Send queues an encoded packet for delivery to the device.
func (h *HostEnd) Send(raw []byte) error {
	if !h.c.plugged {
		return pkg.ErrNoDevice
	}
	if len(raw) == 0 {
		return pkg.ErrInvalidParameter
	}
	h.c.toDevice = append(h.c.toDevice, append([]byte(nil), raw...))
	return nil
}

// Busy reports whether packets are still being delivered to the device.
func (h *HostEnd) Busy() bool { return len(h.c.toDevice) > 0 || h.c.gap }

// Receive returns the oldest complete packet sent by the device.
func (h *HostEnd) Receive() ([]byte, bool) {
	c := h.c
	if len(c.toHost) == 0 {
		return nil, false
	}
	pkt := c.toHost[0]
	c.toHost[0] = nil
	c.toHost = c.toHost[1:]
	return pkt, true
}

// Flush discards packets sent by the device and not yet received.
func (h *HostEnd) Flush() {
	clear(h.c.toHost)
	h.c.toHost = h.c.toHost[:0]
}
