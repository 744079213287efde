package driver

import (
	"fmt"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/eptri"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// Bus is the register bus the driver runs on. *eptri.Sim implements it.
type Bus interface {
	Read(addr uint32) uint32
	Write(addr, value uint32)
}

// Handler receives the events the driver decodes. Methods run from
// HandleInterrupt and may call back into the driver.
type Handler interface {
	BusReset(speed device.Speed)
	Setup(p device.SetupPacket)
	// TransferComplete reports a finished transfer; ep carries the direction
	// bit and n is the number of bytes moved.
	TransferComplete(ep uint8, n int)
}

// Stats counts driver activity.
type Stats struct {
	Interrupts     uint64
	Resets         uint64
	Setups         uint64
	BadSetups      uint64 // SETUP reads that did not yield 8 bytes
	InPackets      uint64
	OutPackets     uint64
	OutOverruns    uint64 // bytes received beyond the posted buffer
	OutUnclaimed   uint64 // packets for an endpoint with no buffer posted
	AddressChanges uint64
}

type txBuffer struct {
	active bool
	buf    []byte
	off    int // bytes queued into the FIFO
	last   int // size of the packet in flight
}

type rxBuffer struct {
	active bool
	buf    []byte
	off    int
}

// Driver is the firmware half of the device: it owns the register bus and
// turns controller events into Handler calls.
type Driver struct {
	bus  Bus
	base uint32
	h    Handler

	maxPacket [usb.NumEndpoints]int
	halted    [usb.NumEndpoints]bool // IN endpoints stalled by Stall
	tx        [usb.NumEndpoints]txBuffer
	rx        [usb.NumEndpoints]rxBuffer
	txEP      uint8
	txActive  bool

	pendingAddr int // applied after the EP0 status stage, -1 when none

	stats Stats
}

// maxPacketSize is the largest full-speed bulk or interrupt packet, and the
// packet size of endpoint 0.
const maxPacketSize = 64

// flushPolls bounds the wait for an IN flush to cross to the USB domain and
// back.
const flushPolls = 256

// New creates a driver for a controller whose windows start at base.
func New(bus Bus, base uint32, h Handler) *Driver {
	d := &Driver{bus: bus, base: base, h: h, pendingAddr: -1}
	for i := range d.maxPacket {
		d.maxPacket[i] = maxPacketSize
	}
	return d
}

// SetHandler replaces the event handler.
func (d *Driver) SetHandler(h Handler) { d.h = h }

// Stats returns the driver counters.
func (d *Driver) Stats() Stats { return d.stats }

func (d *Driver) read(window, offset uint32) uint32 {
	return d.bus.Read(d.base + window + offset)
}

func (d *Driver) write(window, offset, v uint32) {
	d.bus.Write(d.base+window+offset, v)
}

// ack clears every pending event of a window and returns what was pending.
func (d *Driver) ack(window uint32) uint32 {
	v := d.read(window, eptri.RegEvPending)
	if v != 0 {
		d.write(window, eptri.RegEvPending, v)
	}
	return v
}

// Init brings the controller to a known state with the pull-up off, every
// FIFO flushed and all events enabled.
func (d *Driver) Init() {
	d.write(eptri.ControllerWindow, eptri.RegControllerConnect, 0)
	d.write(eptri.SetupWindow, eptri.RegSetupReset, 1)
	for ep := range usb.NumEndpoints {
		d.flushIn(uint8(ep))
	}
	d.write(eptri.OutWindow, eptri.RegOutReset, 1)
	d.clearEndpoints()

	for _, w := range []uint32{eptri.ControllerWindow, eptri.SetupWindow, eptri.InWindow, eptri.OutWindow} {
		d.ack(w)
	}
	d.write(eptri.ControllerWindow, eptri.RegEvEnable, eptri.EventReset)
	d.write(eptri.SetupWindow, eptri.RegEvEnable, eptri.EventSetupReady)
	d.write(eptri.InWindow, eptri.RegEvEnable, eptri.EventInDone)
	d.write(eptri.OutWindow, eptri.RegEvEnable, eptri.EventOutDone)
	pkg.LogDebug(pkg.ComponentDriver, "initialized")
}

// Connect turns on the pull-up.
func (d *Driver) Connect() {
	d.write(eptri.ControllerWindow, eptri.RegControllerConnect, 1)
	pkg.LogDebug(pkg.ComponentDriver, "connect")
}

// Disconnect turns off the pull-up. Pending transfers are abandoned.
func (d *Driver) Disconnect() {
	d.write(eptri.ControllerWindow, eptri.RegControllerConnect, 0)
	d.clearEndpoints()
	pkg.LogDebug(pkg.ComponentDriver, "disconnect")
}

func (d *Driver) clearEndpoints() {
	d.tx = [usb.NumEndpoints]txBuffer{}
	d.rx = [usb.NumEndpoints]rxBuffer{}
	d.halted = [usb.NumEndpoints]bool{}
	d.txEP = 0
	d.txActive = false
	d.pendingAddr = -1
}

// HandleInterrupt services events until none is pending, in priority order
// reset, setup, IN, OUT. It is meant to be installed as the controller's
// interrupt handler.
func (d *Driver) HandleInterrupt() {
	d.stats.Interrupts++
	for {
		switch {
		case d.read(eptri.ControllerWindow, eptri.RegEvPending) != 0:
			d.handleReset()
		case d.read(eptri.SetupWindow, eptri.RegEvPending) != 0:
			d.handleSetup()
		case d.read(eptri.InWindow, eptri.RegEvPending) != 0:
			d.handleIn()
		case d.read(eptri.OutWindow, eptri.RegEvPending) != 0:
			d.handleOut()
		default:
			return
		}
	}
}

func (d *Driver) handleReset() {
	d.ack(eptri.ControllerWindow)
	d.stats.Resets++

	d.write(eptri.SetupWindow, eptri.RegSetupAddress, 0)
	d.write(eptri.SetupWindow, eptri.RegSetupReset, 1)
	d.write(eptri.OutWindow, eptri.RegOutReset, 1)
	d.clearEndpoints()
	for i := range d.maxPacket {
		d.maxPacket[i] = maxPacketSize
	}
	d.ack(eptri.SetupWindow)
	d.ack(eptri.InWindow)
	d.ack(eptri.OutWindow)

	speed := device.Speed(d.read(eptri.ControllerWindow, eptri.RegControllerSpeed))
	pkg.LogDebug(pkg.ComponentDriver, "bus reset", "speed", speed)
	if d.h != nil {
		d.h.BusReset(speed)
	}
}

func (d *Driver) handleSetup() {
	var raw [device.SetupPacketSize]byte
	n := 0
	for d.read(eptri.SetupWindow, eptri.RegSetupHave) != 0 {
		c := byte(d.read(eptri.SetupWindow, eptri.RegSetupData))
		if n < len(raw) {
			raw[n] = c
		}
		n++
	}
	d.write(eptri.SetupWindow, eptri.RegSetupAck, 1)
	d.ack(eptri.SetupWindow)

	if n != device.SetupPacketSize {
		d.stats.BadSetups++
		pkg.LogWarn(pkg.ComponentDriver, "short SETUP read", "bytes", n)
		return
	}
	d.stats.Setups++

	// The controller voided EP0 on this SETUP; so does the driver, together
	// with any reply bytes still crossing.
	d.abortEP0()

	var p device.SetupPacket
	if err := device.ParseSetupPacket(raw[:], &p); err != nil {
		d.stats.BadSetups++
		return
	}
	pkg.LogDebug(pkg.ComponentDriver, "setup", "packet", p.String())
	if d.h != nil {
		d.h.Setup(p)
	}
}

func (d *Driver) abortEP0() {
	d.rx[0] = rxBuffer{}
	d.pendingAddr = -1
	armed := d.txActive && d.txEP == 0
	d.tx[0] = txBuffer{}
	d.flushIn(0)
	if armed {
		d.dropDone()
		d.next()
	}
}

// next arms the next posted IN transfer, if any.
func (d *Driver) next() {
	if d.advance() {
		d.more()
	} else {
		d.txActive = false
	}
}

// dropDone clears a DONE owed to a packet that was just flushed. The event
// fired before the flush reached the USB domain, so once HAVE reads 0 it
// has crossed; left pending it would complete the wrong transfer.
func (d *Driver) dropDone() {
	if d.read(eptri.InWindow, eptri.RegEvPending)&eptri.EventInDone != 0 {
		d.write(eptri.InWindow, eptri.RegEvPending, eptri.EventInDone)
	}
}

// flushIn empties IN endpoint n and waits until its FIFO reads empty, so
// that the next packet has the whole FIFO and no stale byte ahead of it.
func (d *Driver) flushIn(n uint8) {
	d.write(eptri.InWindow, eptri.RegInEpno, uint32(n))
	d.write(eptri.InWindow, eptri.RegInReset, 1)
	d.waitFlushed(n)
}

// waitFlushed polls HAVE on the selected IN endpoint n.
func (d *Driver) waitFlushed(n uint8) {
	for range flushPolls {
		if d.read(eptri.InWindow, eptri.RegInHave) == 0 {
			return
		}
	}
	pkg.LogWarn(pkg.ComponentDriver, "IN flush did not complete", "ep", n)
}

func (d *Driver) handleIn() {
	ev := d.ack(eptri.InWindow)
	if ev&eptri.EventInDone != 0 {
		d.stats.InPackets++
		d.processTx()
	}
}

// advance moves txEP to the next endpoint with a transfer posted and not
// halted, searching round-robin from the one after the current endpoint.
func (d *Driver) advance() bool {
	for i := 1; i <= usb.NumEndpoints; i++ {
		ep := (d.txEP + uint8(i)) & usb.MaxEndpoint
		if d.tx[ep].active && !d.halted[ep] {
			d.txEP = ep
			return true
		}
	}
	return false
}

// more queues the next packet of the current IN transfer and arms the
// endpoint.
func (d *Driver) more() {
	t := &d.tx[d.txEP]
	n := min(d.maxPacket[d.txEP], len(t.buf)-t.off)
	d.write(eptri.InWindow, eptri.RegInEpno, uint32(d.txEP))
	for _, c := range t.buf[t.off : t.off+n] {
		d.write(eptri.InWindow, eptri.RegInData, uint32(c))
	}
	t.off += n
	t.last = n
	d.write(eptri.InWindow, eptri.RegInReady, 1)
}

func (d *Driver) processTx() {
	if !d.txActive {
		return
	}
	t := &d.tx[d.txEP]
	if !t.active {
		d.next()
		return
	}

	// A full-size packet that ended the buffer still needs no ZLP: the
	// transfer length is known to the class layer.
	if t.off >= len(t.buf) {
		ep, n := d.txEP, len(t.buf)
		*t = txBuffer{}
		if !d.advance() {
			d.txActive = false
		}
		if ep == 0 && d.pendingAddr >= 0 {
			d.write(eptri.SetupWindow, eptri.RegSetupAddress, uint32(d.pendingAddr))
			pkg.LogDebug(pkg.ComponentDriver, "address active", "address", d.pendingAddr)
			d.pendingAddr = -1
			d.stats.AddressChanges++
		}
		if d.txActive {
			d.more()
		}
		if d.h != nil {
			d.h.TransferComplete(ep|device.EndpointDirIn, n)
		}
		return
	}
	d.more()
}

func (d *Driver) handleOut() {
	d.ack(eptri.OutWindow)
	ep := uint8(d.read(eptri.OutWindow, eptri.RegOutEpno)) & usb.MaxEndpoint
	r := &d.rx[ep]

	got := 0
	for d.read(eptri.OutWindow, eptri.RegOutHave) != 0 {
		c := byte(d.read(eptri.OutWindow, eptri.RegOutData))
		if r.active && r.off < len(r.buf) {
			r.buf[r.off] = c
			r.off++
		} else if r.active {
			d.stats.OutOverruns++
		}
		got++
	}
	d.write(eptri.OutWindow, eptri.RegOutAck, 1)
	d.stats.OutPackets++

	if !r.active {
		d.stats.OutUnclaimed++
		pkg.LogDebug(pkg.ComponentDriver, "OUT data without a buffer", "ep", ep, "len", got)
		return
	}
	if got == d.maxPacket[ep] && r.off < len(r.buf) {
		return
	}

	// Full buffer or short packet.
	n := r.off
	*r = rxBuffer{}
	if ep != 0 {
		d.write(eptri.OutWindow, eptri.RegOutSelect, uint32(ep))
		d.write(eptri.OutWindow, eptri.RegOutEnable, 0)
	}
	if d.h != nil {
		d.h.TransferComplete(ep, n)
	}
}

func endpoint(addr uint8) (uint8, bool, error) {
	n := addr & usb.MaxEndpoint
	if addr&^(device.EndpointDirIn|usb.MaxEndpoint) != 0 {
		return 0, false, fmt.Errorf("endpoint 0x%02X: %w", addr, pkg.ErrInvalidEndpoint)
	}
	return n, addr&device.EndpointDirIn != 0, nil
}

// OpenEndpoint configures the endpoint described by desc. IN endpoints
// start answering tokens with NAK; OUT endpoints NAK until a transfer is
// posted.
func (d *Driver) OpenEndpoint(desc device.EndpointDescriptor) error {
	n, in, err := endpoint(desc.Address)
	if err != nil {
		return err
	}
	if desc.Attributes&0x03 == device.EndpointTypeIsochronous {
		return fmt.Errorf("isochronous endpoint 0x%02X: %w", desc.Address, pkg.ErrNotSupported)
	}
	mps := int(desc.MaxPacketSize & 0x7FF)
	if mps == 0 || mps > maxPacketSize {
		return fmt.Errorf("endpoint 0x%02X max packet %d: %w", desc.Address, mps, pkg.ErrInvalidParameter)
	}
	d.maxPacket[n] = mps
	if in {
		d.tx[n] = txBuffer{}
		d.write(eptri.InWindow, eptri.RegInEpno, uint32(n))
		d.write(eptri.InWindow, eptri.RegInMaxPkt, uint32(mps))
		d.write(eptri.InWindow, eptri.RegInPID, 0)
		d.write(eptri.InWindow, eptri.RegInEnable, 1)
	} else {
		d.rx[n] = rxBuffer{}
		d.write(eptri.OutWindow, eptri.RegOutSelect, uint32(n))
		d.write(eptri.OutWindow, eptri.RegOutMaxPkt, uint32(mps))
		d.write(eptri.OutWindow, eptri.RegOutPID, 0)
	}
	pkg.LogDebug(pkg.ComponentDriver, "endpoint open", "ep", desc.Address, "maxpkt", mps)
	return nil
}

// CloseEndpoint disables an endpoint and drops its transfer.
func (d *Driver) CloseEndpoint(addr uint8) error {
	n, in, err := endpoint(addr)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("endpoint 0 cannot be closed: %w", pkg.ErrInvalidEndpoint)
	}
	if in {
		armed := d.txActive && d.txEP == n
		d.tx[n] = txBuffer{}
		d.flushIn(n)
		d.write(eptri.InWindow, eptri.RegInEnable, 0)
		if armed {
			d.dropDone()
			d.next()
		}
	} else {
		d.rx[n] = rxBuffer{}
		d.write(eptri.OutWindow, eptri.RegOutSelect, uint32(n))
		d.write(eptri.OutWindow, eptri.RegOutEnable, 0)
	}
	return nil
}

// Transfer posts buf on endpoint addr. For IN endpoints buf is sent in
// max-packet pieces, with an empty buf sending one zero-length packet. For
// OUT endpoints data is received into buf until it is full or a short packet
// arrives. Completion is reported through Handler.TransferComplete.
func (d *Driver) Transfer(addr uint8, buf []byte) error {
	n, in, err := endpoint(addr)
	if err != nil {
		return err
	}
	if in {
		if d.tx[n].active {
			return fmt.Errorf("IN endpoint %d: %w", n, pkg.ErrBusy)
		}
		d.tx[n] = txBuffer{active: true, buf: buf}
		if !d.txActive && !d.halted[n] {
			d.txEP = n
			d.txActive = true
			d.more()
		}
		return nil
	}
	if d.rx[n].active {
		return fmt.Errorf("OUT endpoint %d: %w", n, pkg.ErrBusy)
	}
	d.rx[n] = rxBuffer{active: true, buf: buf}
	d.write(eptri.OutWindow, eptri.RegOutSelect, uint32(n))
	d.write(eptri.OutWindow, eptri.RegOutEnable, 1)
	return nil
}

// Busy reports whether a transfer is posted on addr.
func (d *Driver) Busy(addr uint8) bool {
	n, in, err := endpoint(addr)
	if err != nil {
		return false
	}
	if in {
		return d.tx[n].active
	}
	return d.rx[n].active
}

// SetAddress sends the zero-length status stage of SET_ADDRESS and switches
// to the new address once the host has acknowledged it.
func (d *Driver) SetAddress(addr uint8) error {
	if addr > usb.MaxAddress {
		return fmt.Errorf("address %d: %w", addr, pkg.ErrInvalidParameter)
	}
	if err := d.Transfer(device.EndpointDirIn, nil); err != nil {
		return err
	}
	d.pendingAddr = int(addr)
	return nil
}

// SetConfigured tells the controller whether the device is configured.
func (d *Driver) SetConfigured(on bool) {
	var v uint32
	if on {
		v = 1
	}
	d.write(eptri.ControllerWindow, eptri.RegControllerConfigured, v)
}

// Stall halts an endpoint. Endpoint 0 is stalled in both directions until
// the next SETUP.
func (d *Driver) Stall(addr uint8) error {
	n, in, err := endpoint(addr)
	if err != nil {
		return err
	}
	if in || n == 0 {
		d.write(eptri.InWindow, eptri.RegInEpno, uint32(n))
		d.write(eptri.InWindow, eptri.RegInStall, 1)
	}
	if in && n != 0 && !d.halted[n] {
		d.halt(n)
	}
	if !in || n == 0 {
		d.write(eptri.OutWindow, eptri.RegOutSelect, uint32(n))
		d.write(eptri.OutWindow, eptri.RegOutStall, 1)
	}
	pkg.LogDebug(pkg.ComponentDriver, "stall", "ep", addr)
	return nil
}

// ClearStall clears a halt and resets the endpoint's data toggle to DATA0.
// Clearing an IN halt also flushes data the endpoint held.
func (d *Driver) ClearStall(addr uint8) error {
	n, in, err := endpoint(addr)
	if err != nil {
		return err
	}
	if in {
		// Writing STALL=0 flushes the endpoint FIFO.
		wasHalted := d.halted[n]
		d.halted[n] = false
		d.write(eptri.InWindow, eptri.RegInEpno, uint32(n))
		d.write(eptri.InWindow, eptri.RegInStall, 0)
		d.write(eptri.InWindow, eptri.RegInPID, 0)
		d.waitFlushed(n)
		t := &d.tx[n]
		switch {
		case !t.active:
		case !wasHalted && d.txActive && d.txEP == n:
			d.dropDone()
			t.off -= t.last
			d.more()
		case wasHalted && !d.txActive:
			d.txEP = n
			d.txActive = true
			d.more()
		}
	} else {
		d.write(eptri.OutWindow, eptri.RegOutSelect, uint32(n))
		d.write(eptri.OutWindow, eptri.RegOutStall, 0)
		d.write(eptri.OutWindow, eptri.RegOutPID, 0)
	}
	pkg.LogDebug(pkg.ComponentDriver, "stall cleared", "ep", addr)
	return nil
}

// halt parks the transfer on IN endpoint n so that a stalled endpoint does
// not hold up the others. Its unacknowledged packet is flushed and queued
// again once the halt is cleared.
func (d *Driver) halt(n uint8) {
	d.halted[n] = true
	t := &d.tx[n]
	if !t.active || !d.txActive || d.txEP != n {
		return
	}
	d.flushIn(n)
	d.dropDone()
	t.off -= t.last
	t.last = 0
	d.next()
}
