package eptri

import "strings"

// Access describes how firmware may use a register.
type Access uint8

// Access flags.
const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessClear // write 1 to clear

	AccessReadWrite = AccessRead | AccessWrite
)

// String returns the conventional access notation, e.g. "RW" or "R/W1C".
func (a Access) String() string {
	var b strings.Builder
	if a&AccessRead != 0 {
		b.WriteString("R")
	}
	if a&AccessClear != 0 {
		if b.Len() > 0 {
			b.WriteString("/")
		}
		b.WriteString("W1C")
	} else if a&AccessWrite != 0 {
		b.WriteString("W")
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// Register is one 32-bit word in a peripheral window.
type Register struct {
	Name   string
	Offset uint32
	Access Access
	Doc    string
}

// Readable reports whether firmware reads of r have an effect.
func (r Register) Readable() bool { return r.Access&AccessRead != 0 }

// Writable reports whether firmware writes to r have an effect.
func (r Register) Writable() bool { return r.Access&(AccessWrite|AccessClear) != 0 }

// Event register offsets, common to every window.
const (
	RegEvPending = 0x100
	RegEvEnable  = 0x104
)

// Device controller window.
const (
	RegControllerConnect    = 0x00
	RegControllerSpeed      = 0x04
	RegControllerAddress    = 0x08
	RegControllerStatus     = 0x0C
	RegControllerReset      = 0x10
	RegControllerConfigured = 0x14
)

// Setup window.
const (
	RegSetupData    = 0x00
	RegSetupReset   = 0x04
	RegSetupEpno    = 0x08
	RegSetupHave    = 0x0C
	RegSetupPending = 0x10
	RegSetupAck     = 0x14
	RegSetupAddress = 0x18
	RegSetupPacket0 = 0x20
	RegSetupPacket1 = 0x24
)

// IN window.
const (
	RegInData   = 0x00
	RegInEpno   = 0x04
	RegInReady  = 0x08
	RegInReset  = 0x0C
	RegInStall  = 0x10
	RegInIdle   = 0x14
	RegInHave   = 0x18
	RegInPID    = 0x1C
	RegInEnable = 0x20
	RegInMaxPkt = 0x24
)

// OUT window.
const (
	RegOutData    = 0x00
	RegOutEpno    = 0x04
	RegOutSelect  = 0x08
	RegOutAck     = 0x0C
	RegOutStall   = 0x10
	RegOutEnable  = 0x14
	RegOutHave    = 0x18
	RegOutPending = 0x1C
	RegOutReset   = 0x20
	RegOutPID     = 0x24
	RegOutMaxPkt  = 0x28
)

// Window offsets from the base address.
const (
	ControllerWindow = 0 * WindowSize
	SetupWindow      = 1 * WindowSize
	InWindow         = 2 * WindowSize
	OutWindow        = 3 * WindowSize
)

// Event bits.
const (
	EventReset = 1 << 0 // controller: bus reset detected
	EventSpeed = 1 << 1 // controller: speed negotiated

	EventSetupReady = 1 << 0

	EventInDone  = 1 << 0
	EventInStall = 1 << 1

	EventOutDone = 1 << 0
)

// Status register fields.
const (
	StatusConnected  = 1 << 0
	StatusStateShift = 8
	StatusStateMask  = 0x7 << StatusStateShift
)

func eventRegisters() []Register {
	return []Register{
		{"EV_PENDING", RegEvPending, AccessRead | AccessClear, "pending events, write 1 to clear"},
		{"EV_ENABLE", RegEvEnable, AccessReadWrite, "event interrupt mask"},
	}
}

var controllerRegisters = append([]Register{
	{"CONNECT", RegControllerConnect, AccessReadWrite, "bit0 drives the D+ pull-up"},
	{"SPEED", RegControllerSpeed, AccessRead, "0 high, 1 full, 2 low, 3 unknown"},
	{"ADDRESS", RegControllerAddress, AccessReadWrite, "7-bit device address; reads the address the engine holds"},
	{"STATUS", RegControllerStatus, AccessRead, "bit0 connected, bits 8..10 device state"},
	{"RESET", RegControllerReset, AccessReadWrite, "write 1 resets the controller; bit0 reads SE0 held"},
	{"CONFIGURED", RegControllerConfigured, AccessReadWrite, "bit0 marks the device configured"},
}, eventRegisters()...)

var setupRegisters = append([]Register{
	{"DATA", RegSetupData, AccessRead, "next SETUP byte, 0 when empty"},
	{"RESET", RegSetupReset, AccessWrite, "discard the latched packet"},
	{"EPNO", RegSetupEpno, AccessRead, "endpoint the packet arrived on"},
	{"HAVE", RegSetupHave, AccessRead, "bit0 unread bytes remain"},
	{"PENDING", RegSetupPending, AccessRead, "bit0 packet not yet acknowledged"},
	{"ACK", RegSetupAck, AccessWrite, "acknowledge the latched packet"},
	{"ADDRESS", RegSetupAddress, AccessReadWrite, "alias of the controller ADDRESS"},
	{"PACKET0", RegSetupPacket0, AccessRead, "latched bytes 0..3, little-endian"},
	{"PACKET1", RegSetupPacket1, AccessRead, "latched bytes 4..7, little-endian"},
}, eventRegisters()...)

var inRegisters = append([]Register{
	{"DATA", RegInData, AccessWrite, "push a byte into the selected endpoint FIFO"},
	{"EPNO", RegInEpno, AccessReadWrite, "selected endpoint"},
	{"READY", RegInReady, AccessReadWrite, "bit0 arms the selected endpoint"},
	{"RESET", RegInReset, AccessWrite, "flush the selected endpoint; HAVE reads 1 until the flush crosses"},
	{"STALL", RegInStall, AccessReadWrite, "bit0 stalls the selected endpoint"},
	{"IDLE", RegInIdle, AccessRead, "bit0 no endpoint armed"},
	{"HAVE", RegInHave, AccessRead, "bit0 selected FIFO holds data"},
	{"PID", RegInPID, AccessReadWrite, "bit0 next data toggle of the selected endpoint"},
	{"ENABLE", RegInEnable, AccessReadWrite, "bit0 the selected endpoint answers tokens"},
	{"MAXPKT", RegInMaxPkt, AccessReadWrite, "max packet size of the selected endpoint"},
}, eventRegisters()...)

var outRegisters = append([]Register{
	{"DATA", RegOutData, AccessRead, "next received byte, 0 when empty"},
	{"EPNO", RegOutEpno, AccessRead, "endpoint the FIFO data belongs to"},
	{"SELECT", RegOutSelect, AccessReadWrite, "endpoint addressed by STALL, ENABLE, PID and MAXPKT"},
	{"ACK", RegOutAck, AccessWrite, "release the FIFO for the next packet"},
	{"STALL", RegOutStall, AccessReadWrite, "bit0 stalls the selected endpoint"},
	{"ENABLE", RegOutEnable, AccessReadWrite, "bit0 the selected endpoint accepts data"},
	{"HAVE", RegOutHave, AccessRead, "bit0 unread bytes remain"},
	{"PENDING", RegOutPending, AccessRead, "bit0 a received packet awaits ACK"},
	{"RESET", RegOutReset, AccessWrite, "flush the unread bytes; a later packet is kept"},
	{"PID", RegOutPID, AccessReadWrite, "bit0 expected data toggle of the selected endpoint"},
	{"MAXPKT", RegOutMaxPkt, AccessReadWrite, "max packet size of the selected endpoint"},
}, eventRegisters()...)

// lookup returns the register at offset in regs.
func lookup(regs []Register, offset uint32) (Register, bool) {
	for _, r := range regs {
		if r.Offset == offset {
			return r, true
		}
	}
	return Register{}, false
}
