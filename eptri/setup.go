package eptri

import (
	"encoding/binary"

	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// SetupInterface holds the last SETUP packet for firmware. A new packet
// replaces the latched one even if firmware has not acknowledged it, and
// restarts the DATA read port at byte 0; PACKET0 and PACKET1 always return
// the eight bytes of one packet.
type SetupInterface struct {
	x    *crossings
	ctrl *Controller
	ev   EventBlock

	latch   [usb.SetupPacketSize]byte
	seen    uint32
	have    int // bytes latched
	pos     int // next DATA byte
	pending bool
}

func newSetupInterface(x *crossings, ctrl *Controller) *SetupInterface {
	return &SetupInterface{x: x, ctrl: ctrl, ev: newEventBlock("setup", EventSetupReady)}
}

// Name implements Peripheral.
func (s *SetupInterface) Name() string { return "setup" }

// Registers implements Peripheral.
func (s *SetupInterface) Registers() []Register { return setupRegisters }

// IRQ implements Peripheral.
func (s *SetupInterface) IRQ() bool { return s.ev.IRQ() }

// Events returns the setup event block.
func (s *SetupInterface) Events() *EventBlock { return &s.ev }

// Read implements Peripheral.
func (s *SetupInterface) Read(offset uint32) uint32 {
	if v, ok := s.ev.read(offset); ok {
		return v
	}
	switch offset {
	case RegSetupData:
		if s.pos >= s.have {
			return 0
		}
		b := s.latch[s.pos]
		s.pos++
		return uint32(b)
	case RegSetupEpno:
		return 0
	case RegSetupHave:
		return bit(s.pos < s.have)
	case RegSetupPending:
		return bit(s.pending)
	case RegSetupAddress:
		return uint32(s.ctrl.deviceAddress())
	case RegSetupPacket0:
		if s.have == 0 {
			return 0
		}
		return binary.LittleEndian.Uint32(s.latch[0:4])
	case RegSetupPacket1:
		if s.have == 0 {
			return 0
		}
		return binary.LittleEndian.Uint32(s.latch[4:8])
	}
	return 0
}

// Write implements Peripheral.
func (s *SetupInterface) Write(offset, v uint32) {
	if s.ev.write(offset, v) {
		return
	}
	switch offset {
	case RegSetupReset:
		s.clear()
	case RegSetupAck:
		s.pending = false
	case RegSetupAddress:
		s.ctrl.setAddress(uint8(v) & usb.MaxAddress)
	}
}

func (s *SetupInterface) tick() {
	if l := s.x.setup.Get(); l.seq != s.seen {
		s.seen = l.seq
		if l.valid {
			if s.pending {
				pkg.LogDebug(pkg.ComponentSetup, "unacknowledged SETUP overwritten")
			}
			s.latch = l.data
			s.have = len(s.latch)
			s.pos = 0
			s.pending = true
		} else {
			s.clear()
		}
	}
	if s.x.evSetup.Take() > 0 {
		s.ev.Raise(EventSetupReady)
	}
}

func (s *SetupInterface) clear() {
	s.latch = [usb.SetupPacketSize]byte{}
	s.have = 0
	s.pos = 0
	s.pending = false
}
