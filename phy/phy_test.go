package phy

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/eptri/pkg"
)

func TestSignalsClassification(t *testing.T) {
	tests := []struct {
		name  string
		s     Signals
		data  bool
		rxcmd bool
		line  LineState
	}{
		{"idle", Idle, false, false, SE0},
		{"data", RxData(0x5A), true, false, LineState(0x5A & 3)},
		{"rxcmd se0", RxCmd(SE0), false, true, SE0},
		{"rxcmd j", RxCmd(J), false, true, J},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.IsRxData(); got != tt.data {
				t.Errorf("IsRxData() = %v, want %v", got, tt.data)
			}
			if got := tt.s.IsRxCmd(); got != tt.rxcmd {
				t.Errorf("IsRxCmd() = %v, want %v", got, tt.rxcmd)
			}
			if got := tt.s.LineState(); got != tt.line {
				t.Errorf("LineState() = %v, want %v", got, tt.line)
			}
		})
	}
}

func TestLineStateString(t *testing.T) {
	if SE0.String() != "SE0" || K.String() != "K" || LineState(9).String() != "LineState(9)" {
		t.Error("unexpected LineState names")
	}
}

func TestCableDeliversOneBytePerTick(t *testing.T) {
	c := NewCable()
	host, dev := c.Host(), c.Device()
	host.Plug()

	if err := host.Send([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := host.Send([]byte{4}); err != nil {
		t.Fatal(err)
	}

	var got []Signals
	for i := 0; i < 7; i++ {
		c.Tick()
		got = append(got, dev.Receive())
	}
	want := []Signals{RxData(1), RxData(2), RxData(3), Idle, RxData(4), Idle, Idle}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	if host.Busy() {
		t.Error("Busy() = true after delivery")
	}
}

func TestCableLineStateRxCmd(t *testing.T) {
	c := NewCable()
	host, dev := c.Host(), c.Device()
	host.Plug()
	host.Send([]byte{0xA5})
	host.DriveLineState(SE0)

	c.Tick()
	if s := dev.Receive(); !s.IsRxCmd() || s.LineState() != SE0 {
		t.Fatalf("first sample = %+v, want RXCMD SE0", s)
	}
	// Packets are held while SE0 is driven.
	c.Tick()
	if s := dev.Receive(); s != Idle {
		t.Fatalf("sample during SE0 = %+v, want idle", s)
	}
	host.DriveLineState(J)
	c.Tick()
	if s := dev.Receive(); s.LineState() != J {
		t.Fatalf("sample = %+v, want RXCMD J", s)
	}
	c.Tick()
	if s := dev.Receive(); s != RxData(0xA5) {
		t.Fatalf("sample = %+v, want data 0xA5", s)
	}
}

func TestCableTransmit(t *testing.T) {
	c := NewCable()
	host, dev := c.Host(), c.Device()
	host.Plug()

	dev.Transmit(TxData(0xD2, true))
	dev.Transmit(TxData(0xC3, false))
	dev.Transmit(TxData(0x00, true))

	var got [][]byte
	for {
		p, ok := host.Receive()
		if !ok {
			break
		}
		got = append(got, p)
	}
	want := [][]byte{{0xD2}, {0xC3, 0x00}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}

func TestCableConnectAndUnplug(t *testing.T) {
	c := NewCable()
	host, dev := c.Host(), c.Device()

	if dev.Attached() {
		t.Fatal("Attached() before Plug")
	}
	if err := host.Send([]byte{1}); !errors.Is(err, pkg.ErrNoDevice) {
		t.Fatalf("Send unplugged error = %v, want ErrNoDevice", err)
	}

	host.Plug()
	if host.Connected() {
		t.Fatal("Connected() without pull-up")
	}
	dev.SetPullup(gpio.High)
	if !host.Connected() {
		t.Fatal("Connected() = false with pull-up")
	}

	host.Send([]byte{1, 2})
	dev.Transmit(TxData(0x4B, true))
	host.Unplug()
	c.Tick()
	if dev.Receive() != Idle {
		t.Error("device sees data after Unplug")
	}
	if _, ok := host.Receive(); ok {
		t.Error("host received packet after Unplug")
	}
	if host.Busy() {
		t.Error("Busy() after Unplug")
	}
}
