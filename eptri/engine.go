package eptri

import (
	"log/slog"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/phy"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// txnState tracks the transaction in progress on the bus.
type txnState uint8

const (
	txnIdle      txnState = iota
	txnSetupData          // SETUP token accepted, DATA0 expected
	txnOutData            // OUT token accepted, DATAx expected
	txnInAck              // IN data sent, host handshake expected
)

// LinkStats counts link-layer activity.
type LinkStats struct {
	PacketsIn  uint64 // well-formed packets received
	PacketsOut uint64 // packets transmitted
	Dropped    uint64 // malformed packets discarded
	Ignored    uint64 // tokens not addressed to this device
	NAKs       uint64
	Stalls     uint64
	Timeouts   uint64
	BusResets  uint64
	Frame      uint16 // last SOF frame number
}

// engine is the USB-domain half of the controller: the link layer receiver
// and transmitter, the transaction state machine and the device state.
type engine struct {
	cfg  *Config
	xcvr phy.Transceiver
	x    *crossings

	in  [usb.NumEndpoints]endpoint
	out [usb.NumEndpoints]endpoint

	state   device.State
	address uint8
	speed   device.Speed
	pullup  bool

	rx     []byte
	rxBusy bool
	line   phy.LineState
	se0    int

	tx    []byte
	txPos int

	txn     txnState
	txnEP   uint8
	txnLen  int
	txnWait int
	payload []byte

	outAvail bool
	outOwner uint8

	stats LinkStats
}

func newEngine(cfg *Config, xcvr phy.Transceiver, x *crossings) *engine {
	e := &engine{
		cfg:     cfg,
		xcvr:    xcvr,
		x:       x,
		speed:   device.SpeedUnknown,
		line:    phy.J,
		rx:      make([]byte, 0, usb.MaxPacketSize),
		tx:      make([]byte, 0, usb.MaxPacketSize),
		payload: make([]byte, usb.MaxDataPayload),
	}
	for i := range e.in {
		e.in[i] = endpoint{
			number:    uint8(i),
			in:        true,
			maxPacket: defaultMaxPkt,
			fifo:      x.inFIFO[i],
			status:    x.inStatus[i],
		}
		e.out[i] = endpoint{
			number:    uint8(i),
			maxPacket: defaultMaxPkt,
			status:    x.outStatus[i],
		}
		e.in[i].clear()
		e.out[i].clear()
	}
	e.publish()
	return e
}

// Tick runs one USB clock.
func (e *engine) Tick() {
	e.trackConnection()
	e.applyCommands()
	e.transmit()

	s := e.xcvr.Receive()
	switch {
	case s.IsRxData():
		if len(e.rx) < cap(e.rx) {
			e.rx = append(e.rx, s.Data)
		}
		e.rxBusy = true
	default:
		if e.rxBusy {
			e.receive(e.rx)
			e.rx = e.rx[:0]
			e.rxBusy = false
		}
		if s.IsRxCmd() {
			e.line = s.LineState()
		}
	}

	e.detectReset()
	e.expire()
	e.publish()
}

func (e *engine) trackConnection() {
	connected := e.pullup && e.xcvr.Attached()
	switch {
	case !connected && e.state != device.StateDetached:
		e.detach()
	case connected && e.state == device.StateDetached:
		e.setState(device.StatePowered)
	}
}

// applyCommands applies every firmware command that has crossed. An address
// change waits for the bus to be idle so that it takes effect for the next
// token and never for the transaction in flight.
func (e *engine) applyCommands() {
	for {
		c, ok := e.x.cmds.Peek()
		if !ok {
			return
		}
		if c.kind == cmdAddress && (e.txn != txnIdle || e.txPos < len(e.tx)) {
			return
		}
		e.x.cmds.Pop()
		e.apply(c)
	}
}

func (e *engine) apply(c command) {
	on := c.value&1 != 0
	ep := c.ep & usb.MaxEndpoint
	switch c.kind {
	case cmdConnect:
		e.pullup = on
		e.xcvr.SetPullup(gpio.Level(on))
		if !on {
			e.detach()
		}
	case cmdAddress:
		e.setAddress(uint8(c.value) & usb.MaxAddress)
	case cmdConfigured:
		switch {
		case on && e.state == device.StateAddressed:
			e.setState(device.StateConfigured)
		case !on && e.state == device.StateConfigured:
			e.setState(device.StateAddressed)
		}
	case cmdInReady:
		e.in[ep].ready = on
	case cmdInStall:
		e.in[ep].setStall(on)
	case cmdInPID:
		e.in[ep].toggle = on
	case cmdInEnable:
		e.in[ep].enabled = on || ep == 0
	case cmdInMaxPkt:
		e.in[ep].maxPacket = uint16(c.value & epMaxPktMask)
	case cmdInReset:
		e.inReset(ep, c.value)
	case cmdOutAck:
		e.outAvail = false
	case cmdOutStall:
		e.out[ep].setStall(on)
	case cmdOutEnable:
		e.out[ep].enabled = on || ep == 0
	case cmdOutPID:
		e.out[ep].toggle = on
	case cmdOutMaxPkt:
		e.out[ep].maxPacket = uint16(c.value & epMaxPktMask)
	case cmdOutReset:
		// Pending clears only if the reader has flushed everything stored.
		if e.x.outFIFO.Head() == c.value {
			e.outAvail = false
		}
	}
	pkg.LogDebug(pkg.ComponentController, "command", "kind", c.kind, "ep", ep, "value", c.value)
}

// inReset drops the bytes written before mark and disarms the endpoint. A
// handshake still owed for the flushed packet is forgotten, so it cannot
// consume data queued after the reset.
func (e *engine) inReset(n uint8, mark uint32) {
	ep := &e.in[n]
	dropped := ep.fifo.DiscardTo(mark)
	ep.ready = false
	if e.txn == txnInAck && e.txnEP == n {
		e.txn = txnIdle
		pkg.LogDebug(pkg.ComponentIn, "handshake abandoned by reset", "ep", n)
	}
	pkg.LogDebug(pkg.ComponentIn, "FIFO reset", "ep", n, "dropped", dropped)
}

func (e *engine) setState(s device.State) {
	if e.state == s {
		return
	}
	pkg.LogDebug(pkg.ComponentController, "state", "from", e.state, "to", s)
	e.state = s
}

func (e *engine) setAddress(a uint8) {
	switch e.state {
	case device.StateDetached, device.StatePowered:
		pkg.LogDebug(pkg.ComponentController, "address ignored", "address", a, "state", e.state)
		return
	}
	e.address = a
	switch {
	case a == 0:
		e.setState(device.StateDefault)
	case e.state == device.StateDefault:
		e.setState(device.StateAddressed)
	}
	pkg.LogDebug(pkg.ComponentController, "address latched", "address", a)
}

// detach drops the device off the bus and silently clears endpoint state.
func (e *engine) detach() {
	e.clearAll()
	e.setState(device.StateDetached)
}

// busReset handles a reset signaled by the host.
func (e *engine) busReset() {
	e.stats.BusResets++
	e.clearAll()
	e.setState(device.StateDefault)
	if e.speed != device.SpeedFull {
		e.speed = device.SpeedFull
		e.x.evSpeed.Fire()
	}
	e.x.evReset.Fire()
	pkg.LogDebug(pkg.ComponentController, "bus reset")
}

// clearAll cancels everything in flight and returns the endpoints, FIFOs and
// address to their reset values.
func (e *engine) clearAll() {
	e.x.flush()
	for i := range e.in {
		e.in[i].clear()
		e.out[i].clear()
	}
	e.address = 0
	e.outAvail = false
	e.outOwner = 0
	e.txn = txnIdle
	e.tx = e.tx[:0]
	e.txPos = 0
	e.rx = e.rx[:0]
	e.rxBusy = false
}

func (e *engine) detectReset() {
	if e.line != phy.SE0 || e.state == device.StateDetached {
		e.se0 = 0
		return
	}
	e.se0++
	if e.se0 == e.cfg.ResetDetectTicks {
		e.busReset()
	}
}

// expire abandons a transaction whose next packet never came.
func (e *engine) expire() {
	if e.txn == txnIdle || e.txPos < len(e.tx) {
		return
	}
	e.txnWait++
	if e.txnWait <= e.cfg.HandshakeTimeout {
		return
	}
	e.stats.Timeouts++
	if e.txn == txnInAck {
		pkg.LogDebug(pkg.ComponentIn, "no handshake, data kept for retry", "ep", e.txnEP)
	} else {
		pkg.LogDebug(pkg.ComponentLink, "data stage timeout", "ep", e.txnEP)
	}
	e.txn = txnIdle
}

func (e *engine) transmit() {
	if e.txPos >= len(e.tx) {
		return
	}
	last := e.txPos == len(e.tx)-1
	e.xcvr.Transmit(phy.TxData(e.tx[e.txPos], last))
	e.txPos++
}

func (e *engine) send(p usb.Packet) {
	e.tx = p.Append(e.tx[:0])
	e.txPos = 0
	e.stats.PacketsOut++
}

func (e *engine) handshake(h usb.Handshake) {
	switch h {
	case usb.HandshakeNAK:
		e.stats.NAKs++
	case usb.HandshakeSTALL:
		e.stats.Stalls++
	}
	if p, ok := usb.HandshakePacket(h); ok {
		e.send(p)
	}
}

// receive decodes one packet. Malformed packets vanish here.
func (e *engine) receive(raw []byte) {
	var p usb.Packet
	if err := usb.Decode(raw, &p); err != nil {
		e.stats.Dropped++
		pkg.LogDebug(pkg.ComponentLink, "packet dropped", "error", err)
		return
	}
	e.stats.PacketsIn++
	switch p.PID.Kind() {
	case usb.KindToken:
		e.token(&p)
	case usb.KindData:
		e.data(&p)
	case usb.KindHandshake:
		e.hostHandshake(&p)
	}
}

func (e *engine) token(p *usb.Packet) {
	if p.PID == usb.PIDSOF {
		e.stats.Frame = p.Frame
		return
	}
	if e.txn == txnInAck {
		e.stats.Timeouts++
		pkg.LogDebug(pkg.ComponentIn, "token before handshake, data kept for retry", "ep", e.txnEP)
	}
	e.txn = txnIdle

	if e.state < device.StateDefault || p.Address != e.address {
		e.stats.Ignored++
		if pkg.Enabled(slog.LevelDebug) {
			pkg.LogDebug(pkg.ComponentLink, "token ignored", "token", p.String(), "address", e.address)
		}
		return
	}

	switch p.PID {
	case usb.PIDSetup:
		if p.Endpoint != 0 {
			e.stats.Ignored++
			return
		}
		e.begin(txnSetupData, 0)
	case usb.PIDOut:
		e.begin(txnOutData, p.Endpoint)
	case usb.PIDIn:
		e.inToken(p.Endpoint)
	}
}

func (e *engine) begin(s txnState, ep uint8) {
	e.txn = s
	e.txnEP = ep
	e.txnWait = 0
}

func (e *engine) inToken(n uint8) {
	ep := &e.in[n]
	switch {
	case !ep.enabled:
		pkg.LogDebug(pkg.ComponentIn, "token for disabled endpoint", "ep", n)
	case ep.stalled:
		e.handshake(usb.HandshakeSTALL)
		e.x.evInStall.Fire()
	case !ep.ready:
		e.handshake(usb.HandshakeNAK)
	default:
		limit := min(int(ep.maxPacket), len(e.payload))
		size := ep.fifo.Peek(e.payload[:limit])
		e.send(usb.Data(ep.toggle, e.payload[:size]))
		e.begin(txnInAck, n)
		e.txnLen = size
		pkg.LogDebug(pkg.ComponentIn, "data sent", "ep", n, "pid", ep.dataPID(), "len", size)
	}
}

func (e *engine) data(p *usb.Packet) {
	s := e.txn
	e.txn = txnIdle
	switch s {
	case txnSetupData:
		e.setupData(p)
	case txnOutData:
		e.outData(p)
	default:
		pkg.LogDebug(pkg.ComponentLink, "stray data packet", "pid", p.PID)
	}
}

func (e *engine) setupData(p *usb.Packet) {
	if p.PID != usb.PIDData0 || len(p.Data) != usb.SetupPacketSize {
		e.stats.Dropped++
		pkg.LogDebug(pkg.ComponentSetup, "malformed SETUP dropped", "pid", p.PID, "len", len(p.Data))
		return
	}
	e.handshake(usb.HandshakeACK)

	l := setupLatch{seq: e.x.setup.Source().seq + 1, valid: true}
	copy(l.data[:], p.Data)
	e.x.setup.Set(l)
	e.x.evSetup.Fire()

	// The control pipe restarts: stale IN data is void and both data
	// stages continue with DATA1. Bytes still crossing from firmware are
	// not visible here; the firmware flushes EP0 IN before its reply.
	in, out := &e.in[0], &e.out[0]
	in.ready = false
	in.fifo.Discard(in.fifo.Readable())
	in.setStall(false)
	out.setStall(false)
	in.toggle = true
	out.toggle = true
	pkg.LogDebug(pkg.ComponentSetup, "SETUP received", "seq", l.seq)
}

func (e *engine) outData(p *usb.Packet) {
	n := e.txnEP
	ep := &e.out[n]
	size := len(p.Data)
	if size > int(ep.maxPacket) || size > e.x.outFIFO.Depth() {
		e.stats.Dropped++
		pkg.LogDebug(pkg.ComponentOut, "oversize packet dropped", "ep", n, "len", size)
		return
	}
	switch {
	case ep.stalled:
		e.handshake(usb.HandshakeSTALL)
	case !ep.enabled, e.outAvail:
		e.handshake(usb.HandshakeNAK)
		pkg.LogDebug(pkg.ComponentOut, "NAK", "ep", n, "enabled", ep.enabled, "pending", e.outAvail)
	case e.x.outFIFO.Writable() < size:
		e.handshake(usb.HandshakeNAK)
		pkg.LogDebug(pkg.ComponentOut, "NAK, FIFO not yet drained", "ep", n)
	case p.PID != ep.dataPID():
		// Retransmission of a packet already accepted.
		e.handshake(usb.HandshakeACK)
		pkg.LogDebug(pkg.ComponentOut, "duplicate discarded", "ep", n, "pid", p.PID)
	default:
		for _, b := range p.Data {
			e.x.outFIFO.Push(b)
		}
		e.outAvail = true
		e.outOwner = n
		ep.flip()
		e.handshake(usb.HandshakeACK)
		e.x.evOutDone.Fire()
		pkg.LogDebug(pkg.ComponentOut, "data received", "ep", n, "len", size)
	}
}

func (e *engine) hostHandshake(p *usb.Packet) {
	if e.txn != txnInAck || p.PID != usb.PIDAck {
		return
	}
	e.txn = txnIdle
	ep := &e.in[e.txnEP]
	ep.fifo.Discard(e.txnLen)
	ep.flip()
	ep.ready = false
	e.x.evInDone.Fire()
	pkg.LogDebug(pkg.ComponentIn, "transfer complete", "ep", ep.number, "len", e.txnLen)
}

// publish mirrors USB-domain state toward the system domain.
func (e *engine) publish() {
	var st uint32
	if e.pullup && e.xcvr.Attached() {
		st |= lineConnected
	}
	if e.line == phy.SE0 {
		st |= lineSE0
	}
	st |= uint32(e.state) << StatusStateShift
	e.x.status.Set(st)
	e.x.speed.Set(e.speed)
	e.x.address.Set(e.address)
	e.x.outAvail.Set(e.outAvail)
	e.x.outOwner.Set(e.outOwner)
	for i := range e.in {
		e.in[i].publish()
		e.out[i].publish()
	}
}
