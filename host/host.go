package host

import (
	"context"
	"fmt"

	"github.com/ardnew/eptri/phy"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// Port is the host end of a cable. Wait lets n USB clocks of bus time pass;
// the device only makes progress while the host waits.
type Port interface {
	Send(raw []byte) error
	Receive() ([]byte, bool)
	Busy() bool
	Connected() bool
	DriveLineState(ls phy.LineState)
	Wait(n int)
}

// Stats counts host activity.
type Stats struct {
	Transactions uint64
	Resets       uint64
	NAKs         uint64
	Stalls       uint64
	Timeouts     uint64
	Duplicates   uint64 // IN data discarded for a toggle mismatch

	// Results counts finished transfers by outcome, indexed by
	// pkg.TransferStatus.
	Results [pkg.NumTransferStatus]uint64
}

// Host is a single-port USB host. It is not safe for concurrent use.
type Host struct {
	port Port
	opts Options

	devices     [MaxDevices]*Device
	nextAddress uint8
	generation  uint64 // bumped by every bus reset

	stats Stats
}

// New creates a host on port.
func New(port Port, opts Options) *Host {
	return &Host{port: port, opts: opts.withDefaults(), nextAddress: 1}
}

// Stats returns the host counters.
func (h *Host) Stats() Stats { return h.stats }

// Devices returns the enumerated devices in address order.
func (h *Host) Devices() []*Device {
	var result []*Device
	for _, d := range h.devices {
		if d != nil {
			result = append(result, d)
		}
	}
	return result
}

// GetDevice returns the device at address, or nil.
func (h *Host) GetDevice(address uint8) *Device {
	if address == 0 || address > MaxDevices {
		return nil
	}
	return h.devices[address-1]
}

func (h *Host) allocateAddress() uint8 {
	for range MaxDevices {
		addr := h.nextAddress
		h.nextAddress++
		if h.nextAddress > MaxDevices {
			h.nextAddress = 1
		}
		if h.devices[addr-1] == nil {
			return addr
		}
	}
	return 0
}

// Reset signals a bus reset and waits for the device to recover. Every
// device is forgotten: after a reset the only address on the bus is 0.
func (h *Host) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrCancelled, err)
	}
	if !h.port.Connected() {
		return pkg.ErrNoDevice
	}
	h.stats.Resets++
	h.generation++
	h.devices = [MaxDevices]*Device{}
	h.port.DriveLineState(phy.SE0)
	h.port.Wait(h.opts.ResetTicks)
	h.port.DriveLineState(phy.J)
	h.port.Wait(h.opts.RecoveryTicks)
	pkg.LogDebug(pkg.ComponentHost, "bus reset")
	return nil
}

// record counts the outcome of a transfer and passes err through.
func (h *Host) record(err error) error {
	h.stats.Results[pkg.StatusOf(err)]++
	return err
}

// check rejects a device handle that a bus reset has invalidated.
func (h *Host) check(dev *Device) error {
	if dev.generation != h.generation {
		return fmt.Errorf("device %d: %w", dev.address, pkg.ErrReset)
	}
	return nil
}

func (h *Host) send(p usb.Packet) bool {
	if err := h.port.Send(p.Append(nil)); err != nil {
		pkg.LogDebug(pkg.ComponentHost, "send failed", "pid", p.PID, "error", err)
		return false
	}
	return true
}

// reply waits for the packet the device sends in answer to what was just
// sent. Packets that fail to decode count as no answer.
func (h *Host) reply() (usb.Packet, bool) {
	for h.port.Busy() {
		h.port.Wait(1)
	}
	for range h.opts.ReplyTicks {
		h.port.Wait(1)
		raw, ok := h.port.Receive()
		if !ok {
			continue
		}
		var p usb.Packet
		if err := usb.Decode(raw, &p); err != nil {
			pkg.LogDebug(pkg.ComponentHost, "bad packet from device", "error", err)
			return usb.Packet{}, false
		}
		return p, true
	}
	return usb.Packet{}, false
}

func (h *Host) handshake() usb.Handshake {
	p, ok := h.reply()
	if !ok {
		h.stats.Timeouts++
		return usb.HandshakeTimeout
	}
	if p.PID.Kind() != usb.KindHandshake {
		pkg.LogDebug(pkg.ComponentHost, "expected handshake", "got", p.String())
		h.stats.Timeouts++
		return usb.HandshakeTimeout
	}
	return h.count(usb.HandshakeOf(p.PID))
}

func (h *Host) count(hs usb.Handshake) usb.Handshake {
	switch hs {
	case usb.HandshakeNAK:
		h.stats.NAKs++
	case usb.HandshakeSTALL:
		h.stats.Stalls++
	}
	return hs
}

// Setup sends a SETUP transaction carrying the 8-byte request in data.
func (h *Host) Setup(addr uint8, data []byte) usb.Handshake {
	h.stats.Transactions++
	if !h.send(usb.Token(usb.PIDSetup, addr, 0)) || !h.send(usb.Data(false, data)) {
		return usb.HandshakeTimeout
	}
	return h.handshake()
}

// Out sends an OUT transaction with the given data toggle.
func (h *Host) Out(addr, ep uint8, toggle bool, data []byte) usb.Handshake {
	h.stats.Transactions++
	if !h.send(usb.Token(usb.PIDOut, addr, ep)) || !h.send(usb.Data(toggle, data)) {
		return usb.HandshakeTimeout
	}
	return h.handshake()
}

// In sends an IN transaction expecting the given data toggle. Data is
// acknowledged and returned with HandshakeACK. Data carrying the other
// toggle is a retransmission: it is acknowledged, discarded, and reported
// as HandshakeNone.
func (h *Host) In(addr, ep uint8, toggle bool) ([]byte, usb.Handshake) {
	h.stats.Transactions++
	if !h.send(usb.Token(usb.PIDIn, addr, ep)) {
		return nil, usb.HandshakeTimeout
	}
	p, ok := h.reply()
	switch {
	case !ok:
		h.stats.Timeouts++
		return nil, usb.HandshakeTimeout
	case p.PID.Kind() == usb.KindHandshake:
		return nil, h.count(usb.HandshakeOf(p.PID))
	case p.PID.Kind() != usb.KindData:
		h.stats.Timeouts++
		return nil, usb.HandshakeTimeout
	}
	data := append([]byte{}, p.Data...)
	ack, _ := usb.HandshakePacket(usb.HandshakeACK)
	h.send(ack)
	for h.port.Busy() {
		h.port.Wait(1)
	}
	if p.PID != usb.DataPID(toggle) {
		h.stats.Duplicates++
		pkg.LogDebug(pkg.ComponentHost, "duplicate IN data", "ep", ep, "pid", p.PID)
		return nil, usb.HandshakeNone
	}
	return data, usb.HandshakeACK
}

// retry repeats txn until the device acknowledges it. NAKs are retried up to
// the NAK limit and timeouts up to the error limit; a STALL ends the
// transaction at once.
func (h *Host) retry(ctx context.Context, txn func() usb.Handshake) error {
	naks, errs := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", pkg.ErrCancelled, err)
		}
		switch txn() {
		case usb.HandshakeACK:
			return nil
		case usb.HandshakeSTALL:
			return pkg.ErrStall
		case usb.HandshakeNAK:
			naks++
			if naks > h.opts.NAKLimit {
				return fmt.Errorf("%d consecutive NAKs: %w", naks, pkg.ErrNAK)
			}
			errs = 0
		case usb.HandshakeTimeout:
			errs++
			if errs >= h.opts.ErrorLimit {
				return pkg.ErrTimeout
			}
		}
		h.port.Wait(h.opts.RetryTicks)
	}
}
