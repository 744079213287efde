package device

import "fmt"

// Speed is the bus speed as reported by the controller SPEED register.
type Speed uint8

// Speed encodings. The controller reports SpeedUnknown until the first bus
// reset has been seen.
const (
	SpeedHigh    Speed = 0 // 480 Mbps
	SpeedFull    Speed = 1 // 12 Mbps
	SpeedLow     Speed = 2 // 1.5 Mbps
	SpeedUnknown Speed = 3
)

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	case SpeedUnknown:
		return "Unknown Speed"
	default:
		return fmt.Sprintf("Speed(%d)", uint8(s))
	}
}

// MaxPacketSize0 returns the largest endpoint 0 packet allowed at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	switch s {
	case SpeedFull, SpeedHigh:
		return 64
	default:
		return 8
	}
}

// State is the USB device state (USB 2.0 section 9.1).
type State uint8

// Device states. Suspend is not modeled.
const (
	StateDetached   State = 0 // no pull-up or no VBUS
	StatePowered    State = 1 // connected, waiting for the first bus reset
	StateDefault    State = 2 // reset seen, answering address 0
	StateAddressed  State = 3 // unique address assigned
	StateConfigured State = 4
)

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddressed:
		return "Addressed"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// HasAddress reports whether a non-zero address is legal in s.
func (s State) HasAddress() bool {
	return s == StateAddressed || s == StateConfigured
}
