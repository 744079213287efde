package eptri

import (
	"fmt"

	"github.com/ardnew/eptri/cdc"
	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// cmdKind identifies a firmware request carried from the system domain to
// the USB domain.
type cmdKind uint8

const (
	cmdConnect cmdKind = iota
	cmdAddress
	cmdConfigured
	cmdInReady
	cmdInStall
	cmdInPID
	cmdInEnable
	cmdInMaxPkt
	cmdInReset
	cmdOutAck
	cmdOutStall
	cmdOutEnable
	cmdOutPID
	cmdOutMaxPkt
	cmdOutReset
)

var cmdNames = [...]string{
	cmdConnect:    "connect",
	cmdAddress:    "address",
	cmdConfigured: "configured",
	cmdInReady:    "in-ready",
	cmdInStall:    "in-stall",
	cmdInPID:      "in-pid",
	cmdInEnable:   "in-enable",
	cmdInMaxPkt:   "in-maxpkt",
	cmdInReset:    "in-reset",
	cmdOutAck:     "out-ack",
	cmdOutStall:   "out-stall",
	cmdOutEnable:  "out-enable",
	cmdOutPID:     "out-pid",
	cmdOutMaxPkt:  "out-maxpkt",
	cmdOutReset:   "out-reset",
}

func (k cmdKind) String() string {
	if int(k) < len(cmdNames) {
		return cmdNames[k]
	}
	return fmt.Sprintf("cmd(%d)", uint8(k))
}

type command struct {
	kind  cmdKind
	ep    uint8
	value uint32
}

// setupLatch is the last SETUP packet as it crosses to the system domain.
// seq changes with every update so that a repeat of identical bytes is still
// seen as new. A latch that is not valid empties the system-side copy.
type setupLatch struct {
	data  [usb.SetupPacketSize]byte
	seq   uint32
	valid bool
}

// crossings holds every signal shared by the two domains. Nothing else is
// touched from both sides.
type crossings struct {
	cmds *cdc.Queue[command] // system -> USB

	speed     *cdc.Sync[device.Speed]
	address   *cdc.Sync[uint8]  // address the engine answers to
	status    *cdc.Sync[uint32] // controllerStatus bits
	setup     *cdc.Sync[setupLatch]
	inStatus  [usb.NumEndpoints]*cdc.Sync[uint32]
	outStatus [usb.NumEndpoints]*cdc.Sync[uint32]
	outOwner  *cdc.Sync[uint8]
	outAvail  *cdc.Sync[bool]

	evReset   *cdc.EventSync
	evSpeed   *cdc.EventSync
	evSetup   *cdc.EventSync
	evInDone  *cdc.EventSync
	evInStall *cdc.EventSync
	evOutDone *cdc.EventSync

	inFIFO  [usb.NumEndpoints]*cdc.AsyncFIFO // written by system, read by USB
	outFIFO *cdc.AsyncFIFO                   // written by USB, read by system
}

// Bits of the controller status crossing. The device state occupies the
// same field as in the STATUS register.
const (
	lineConnected = 1 << 0
	lineSE0       = 1 << 1
)

func newCrossings(cfg *Config) *crossings {
	n := cfg.SyncStages
	x := &crossings{
		cmds:      cdc.NewQueue[command](cfg.CommandDepth, n),
		speed:     cdc.NewSync(n, device.SpeedUnknown),
		address:   cdc.NewSync[uint8](n, 0),
		status:    cdc.NewSync[uint32](n, 0),
		setup:     cdc.NewSync(n, setupLatch{}),
		outOwner:  cdc.NewSync[uint8](n, 0),
		outAvail:  cdc.NewSync(n, false),
		evReset:   cdc.NewEventSync(n),
		evSpeed:   cdc.NewEventSync(n),
		evSetup:   cdc.NewEventSync(n),
		evInDone:  cdc.NewEventSync(n),
		evInStall: cdc.NewEventSync(n),
		evOutDone: cdc.NewEventSync(n),
		outFIFO:   cdc.NewAsyncFIFO(cfg.OutFIFODepth, n),
	}
	for i := range x.inFIFO {
		x.inFIFO[i] = cdc.NewAsyncFIFO(cfg.InFIFODepth, n)
		x.inStatus[i] = cdc.NewSync[uint32](n, 0)
		x.outStatus[i] = cdc.NewSync[uint32](n, 0)
	}
	return x
}

// tickSys clocks the synchronizers whose destination is the system domain.
func (x *crossings) tickSys() {
	x.speed.Tick()
	x.address.Tick()
	x.status.Tick()
	x.setup.Tick()
	for i := range x.inStatus {
		x.inStatus[i].Tick()
		x.outStatus[i].Tick()
		x.inFIFO[i].TickWriter()
	}
	x.outOwner.Tick()
	x.outAvail.Tick()
	x.evReset.Tick()
	x.evSpeed.Tick()
	x.evSetup.Tick()
	x.evInDone.Tick()
	x.evInStall.Tick()
	x.evOutDone.Tick()
	x.outFIFO.TickReader()
}

// tickUSB clocks the synchronizers whose destination is the USB domain.
func (x *crossings) tickUSB() {
	x.cmds.Tick()
	for _, f := range x.inFIFO {
		f.TickReader()
	}
	x.outFIFO.TickWriter()
}

// flush clears every FIFO and drops interface events still in flight. The
// reset event itself is not dropped.
func (x *crossings) flush() {
	x.cmds.Clear()
	for _, f := range x.inFIFO {
		f.Reset()
	}
	x.outFIFO.Reset()
	x.address.Force(0)
	x.setup.Force(setupLatch{seq: x.setup.Source().seq + 1})
	x.evSetup.Drop()
	x.evInDone.Drop()
	x.evInStall.Drop()
	x.evOutDone.Drop()
}

// push hands a command to the USB domain. Callers wait for room first; a
// command that still finds the queue full is dropped and logged.
func (x *crossings) push(c command) {
	if err := x.cmds.Push(c); err != nil {
		pkg.LogWarn(pkg.ComponentCDC, "command dropped", "kind", c.kind, "ep", c.ep, "error", err)
	}
}
