package eptri

import (
	"testing"

	"github.com/ardnew/eptri/phy"
	"github.com/ardnew/eptri/usb"
)

// replyTicks bounds how long the bench waits for the device to answer.
const replyTicks = 64

// bench drives a Sim from both sides: a minimal host on the cable and
// register accesses standing in for firmware.
type bench struct {
	t *testing.T
	s *Sim
	h *HostPort
}

// newBench returns a connected device that has seen one bus reset, with
// the controller events cleared.
func newBench(t *testing.T) *bench {
	t.Helper()
	s, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	b := &bench{t: t, s: s, h: s.HostPort()}
	b.h.Plug()
	b.write(ControllerWindow, RegControllerConnect, 1)
	b.s.RunUSB(10)
	if !b.h.Connected() {
		t.Fatal("device did not connect")
	}
	b.busReset()
	b.write(ControllerWindow, RegEvPending, 0xFF)
	return b
}

func (b *bench) busReset() {
	b.h.DriveLineState(phy.SE0)
	b.s.RunUSB(b.s.cfg.ResetDetectTicks + 4)
	b.h.DriveLineState(phy.J)
	b.settle()
}

// settle lets every crossing in flight complete.
func (b *bench) settle() { b.s.RunUSB(20) }

func (b *bench) read(window, offset uint32) uint32 {
	return b.s.Read(b.s.Addr(window, offset))
}

func (b *bench) write(window, offset, v uint32) {
	b.s.Write(b.s.Addr(window, offset), v)
}

func (b *bench) send(pkts ...usb.Packet) {
	b.t.Helper()
	for _, p := range pkts {
		if err := b.h.Send(p.Append(nil)); err != nil {
			b.t.Fatal(err)
		}
	}
}

// reply waits for the next packet from the device.
func (b *bench) reply() (usb.Packet, bool) {
	b.t.Helper()
	for i := 0; i < replyTicks; i++ {
		b.s.RunUSB(1)
		if raw, ok := b.h.Receive(); ok {
			var p usb.Packet
			if err := usb.Decode(raw, &p); err != nil {
				b.t.Fatalf("device sent malformed packet % X: %v", raw, err)
			}
			return p, true
		}
	}
	return usb.Packet{}, false
}

func (b *bench) handshake() usb.Handshake {
	b.t.Helper()
	p, ok := b.reply()
	if !ok {
		return usb.HandshakeTimeout
	}
	if p.PID.Kind() != usb.KindHandshake {
		b.t.Fatalf("got %s, want a handshake", p.String())
	}
	return usb.HandshakeOf(p.PID)
}

func (b *bench) setup(addr uint8, data []byte) usb.Handshake {
	b.t.Helper()
	b.send(usb.Token(usb.PIDSetup, addr, 0), usb.Data(false, data))
	return b.handshake()
}

func (b *bench) out(addr, ep uint8, toggle bool, data []byte) usb.Handshake {
	b.t.Helper()
	b.send(usb.Token(usb.PIDOut, addr, ep), usb.Data(toggle, data))
	return b.handshake()
}

// in sends an IN token. Data returned by the device is acknowledged when
// ack is set; the handshake result is HandshakeNone for data.
func (b *bench) in(addr, ep uint8, ack bool) (usb.Packet, usb.Handshake) {
	b.t.Helper()
	b.send(usb.Token(usb.PIDIn, addr, ep))
	p, ok := b.reply()
	if !ok {
		return p, usb.HandshakeTimeout
	}
	if p.PID.Kind() == usb.KindHandshake {
		return p, usb.HandshakeOf(p.PID)
	}
	p.Data = append([]byte{}, p.Data...)
	if ack {
		pkt, _ := usb.HandshakePacket(usb.HandshakeACK)
		b.send(pkt)
		b.settle()
	}
	return p, usb.HandshakeNone
}

func (b *bench) enableIn(ep uint8) {
	b.write(InWindow, RegInEpno, uint32(ep))
	b.write(InWindow, RegInEnable, 1)
	b.settle()
}

func (b *bench) enableOut(ep uint8) {
	b.write(OutWindow, RegOutSelect, uint32(ep))
	b.write(OutWindow, RegOutEnable, 1)
	b.settle()
}

func (b *bench) armIn(ep uint8, data []byte) {
	b.write(InWindow, RegInEpno, uint32(ep))
	for _, c := range data {
		b.write(InWindow, RegInData, uint32(c))
	}
	b.write(InWindow, RegInReady, 1)
	b.settle()
}

func (b *bench) drainOut() []byte {
	got := []byte{}
	for b.read(OutWindow, RegOutHave) != 0 {
		got = append(got, byte(b.read(OutWindow, RegOutData)))
	}
	return got
}

func (b *bench) drainSetup() []byte {
	got := []byte{}
	for b.read(SetupWindow, RegSetupHave) != 0 {
		got = append(got, byte(b.read(SetupWindow, RegSetupData)))
	}
	return got
}
