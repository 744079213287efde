// Package phy abstracts the byte-wide USB transceiver seen by the link layer.
//
// The device side samples one [Signals] value per USB clock, in the manner of
// ULPI: while DIR is high the PHY owns the data bus and either delivers a
// received byte (NXT high) or an RXCMD carrying the line state (NXT low). DIR
// falling ends a received packet. On transmit the link drives one byte per
// clock and raises STP with the last one.
package phy

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// LineState is the differential state of D+/D-.
type LineState uint8

// Full-speed line states.
const (
	SE0 LineState = iota // both lines low; held by the host for bus reset
	J                    // idle
	K
	SE1
)

// String returns the conventional name of the line state.
func (s LineState) String() string {
	switch s {
	case SE0:
		return "SE0"
	case J:
		return "J"
	case K:
		return "K"
	case SE1:
		return "SE1"
	default:
		return fmt.Sprintf("LineState(%d)", uint8(s))
	}
}

// Signals is one clock sample of the transceiver's link-side pins.
type Signals struct {
	Dir  gpio.Level // PHY drives Data when High
	Nxt  gpio.Level
	Stp  gpio.Level // link marks the final transmit byte
	Data byte
}

// Idle is the bus with the link in control and nothing happening.
var Idle = Signals{Dir: gpio.Low, Nxt: gpio.Low, Stp: gpio.Low}

// RxData returns the sample that delivers one received byte.
func RxData(b byte) Signals {
	return Signals{Dir: gpio.High, Nxt: gpio.High, Data: b}
}

// RxCmd returns the sample that reports a line-state change.
func RxCmd(ls LineState) Signals {
	return Signals{Dir: gpio.High, Nxt: gpio.Low, Data: byte(ls) & 0x3}
}

// TxData returns the link-driven sample carrying b. last marks the final
// byte of the packet.
func TxData(b byte, last bool) Signals {
	s := Signals{Data: b, Stp: gpio.Low}
	if last {
		s.Stp = gpio.High
	}
	return s
}

// IsRxData reports whether s carries a received byte.
func (s Signals) IsRxData() bool { return s.Dir == gpio.High && s.Nxt == gpio.High }

// IsRxCmd reports whether s carries an RXCMD.
func (s Signals) IsRxCmd() bool { return s.Dir == gpio.High && s.Nxt == gpio.Low }

// LineState decodes the line state from an RXCMD sample.
func (s Signals) LineState() LineState { return LineState(s.Data & 0x3) }

// Transceiver is the device-side view of the PHY.
type Transceiver interface {
	// Receive returns this clock's sample.
	Receive() Signals
	// Transmit drives one byte toward the host.
	Transmit(Signals)
	// SetPullup drives the D+ pull-up that signals device presence.
	SetPullup(gpio.Level)
	// Attached reports whether VBUS is present.
	Attached() bool
}
