package eptri

import (
	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// Controller is the device-controller register block: connection, address,
// speed, status and the bus reset event.
type Controller struct {
	x  *crossings
	ev EventBlock

	connect    bool
	configured bool

	// softReset performs a firmware-requested reset of both domains.
	softReset func()
}

func newController(x *crossings) *Controller {
	return &Controller{x: x, ev: newEventBlock("controller", EventReset|EventSpeed)}
}

// Name implements Peripheral.
func (c *Controller) Name() string { return "controller" }

// Registers implements Peripheral.
func (c *Controller) Registers() []Register { return controllerRegisters }

// IRQ implements Peripheral.
func (c *Controller) IRQ() bool { return c.ev.IRQ() }

// Events returns the controller event block.
func (c *Controller) Events() *EventBlock { return &c.ev }

// Read implements Peripheral.
func (c *Controller) Read(offset uint32) uint32 {
	if v, ok := c.ev.read(offset); ok {
		return v
	}
	switch offset {
	case RegControllerConnect:
		return bit(c.connect)
	case RegControllerSpeed:
		return uint32(c.x.speed.Get())
	case RegControllerAddress:
		return uint32(c.deviceAddress())
	case RegControllerStatus:
		return c.x.status.Get() &^ lineSE0
	case RegControllerReset:
		return bit(c.x.status.Get()&lineSE0 != 0)
	case RegControllerConfigured:
		return bit(c.configured)
	}
	return 0
}

// Write implements Peripheral.
func (c *Controller) Write(offset, v uint32) {
	if c.ev.write(offset, v) {
		return
	}
	switch offset {
	case RegControllerConnect:
		c.connect = v&1 != 0
		c.x.push(command{kind: cmdConnect, value: v & 1})
	case RegControllerAddress:
		c.setAddress(uint8(v) & usb.MaxAddress)
	case RegControllerReset:
		if v&1 != 0 && c.softReset != nil {
			c.softReset()
		}
	case RegControllerConfigured:
		c.configured = v&1 != 0
		c.x.push(command{kind: cmdConfigured, value: v & 1})
	}
}

// setAddress asks the engine to answer to a. ADDRESS reads back the address
// the engine holds, so a write the device state rejects is never seen.
func (c *Controller) setAddress(a uint8) {
	c.x.push(command{kind: cmdAddress, value: uint32(a)})
}

func (c *Controller) deviceAddress() uint8 { return c.x.address.Get() }

// State returns the device state as last synchronized into the system
// domain.
func (c *Controller) State() device.State {
	return device.State((c.x.status.Get() & StatusStateMask) >> StatusStateShift)
}

// tick collects controller events that crossed this clock. It reports
// whether a bus reset arrived.
func (c *Controller) tick() bool {
	reset := c.x.evReset.Take() > 0
	if reset {
		c.configured = false
		c.ev.Raise(EventReset)
		pkg.LogDebug(pkg.ComponentController, "reset visible to firmware")
	}
	if c.x.evSpeed.Take() > 0 {
		c.ev.Raise(EventSpeed)
	}
	return reset
}

// clear returns the registers written by firmware to their reset values.
func (c *Controller) clear() {
	c.configured = false
}

func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
