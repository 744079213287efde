package usb

import "fmt"

// PID is a 4-bit USB packet identifier.
type PID uint8

// Packet identifiers (USB 2.0 Table 8-1).
const (
	PIDOut   PID = 0x1
	PIDIn    PID = 0x9
	PIDSOF   PID = 0x5
	PIDSetup PID = 0xD
	PIDData0 PID = 0x3
	PIDData1 PID = 0xB
	PIDAck   PID = 0x2
	PIDNak   PID = 0xA
	PIDStall PID = 0xE
)

// Kind classifies a PID by packet format.
type Kind uint8

// Packet kinds.
const (
	KindInvalid Kind = iota
	KindToken
	KindData
	KindHandshake
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindData:
		return "data"
	case KindHandshake:
		return "handshake"
	default:
		return "invalid"
	}
}

// Kind returns the packet format for p.
func (p PID) Kind() Kind {
	switch p {
	case PIDOut, PIDIn, PIDSOF, PIDSetup:
		return KindToken
	case PIDData0, PIDData1:
		return KindData
	case PIDAck, PIDNak, PIDStall:
		return KindHandshake
	default:
		return KindInvalid
	}
}

// Byte returns the on-wire PID byte: the PID in the low nibble and its
// one's complement check field in the high nibble.
func (p PID) Byte() byte {
	v := byte(p) & 0x0F
	return v | (^v&0x0F)<<4
}

// ParsePID decodes a PID byte, verifying the check nibble.
func ParsePID(b byte) (PID, bool) {
	lo := b & 0x0F
	hi := b >> 4
	if lo^hi != 0x0F {
		return 0, false
	}
	p := PID(lo)
	return p, p.Kind() != KindInvalid
}

// DataPID returns DATA1 if toggle is set, DATA0 otherwise.
func DataPID(toggle bool) PID {
	if toggle {
		return PIDData1
	}
	return PIDData0
}

// String returns the PID mnemonic.
func (p PID) String() string {
	switch p {
	case PIDOut:
		return "OUT"
	case PIDIn:
		return "IN"
	case PIDSOF:
		return "SOF"
	case PIDSetup:
		return "SETUP"
	case PIDData0:
		return "DATA0"
	case PIDData1:
		return "DATA1"
	case PIDAck:
		return "ACK"
	case PIDNak:
		return "NAK"
	case PIDStall:
		return "STALL"
	default:
		return fmt.Sprintf("PID(0x%X)", uint8(p))
	}
}

// Handshake is the outcome of a transaction as seen on the bus.
type Handshake uint8

// Handshake outcomes. HandshakeNone means no handshake was sent, either
// because the packet was ignored or because the response was data.
// HandshakeTimeout means the responder stayed silent past the turnaround
// window.
const (
	HandshakeNone Handshake = iota
	HandshakeACK
	HandshakeNAK
	HandshakeSTALL
	HandshakeTimeout
)

// String returns the handshake name.
func (h Handshake) String() string {
	switch h {
	case HandshakeACK:
		return "ACK"
	case HandshakeNAK:
		return "NAK"
	case HandshakeSTALL:
		return "STALL"
	case HandshakeTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// PID returns the handshake packet identifier, if h is sent as a packet.
func (h Handshake) PID() (PID, bool) {
	switch h {
	case HandshakeACK:
		return PIDAck, true
	case HandshakeNAK:
		return PIDNak, true
	case HandshakeSTALL:
		return PIDStall, true
	default:
		return 0, false
	}
}

// HandshakeOf maps a handshake PID to its outcome.
func HandshakeOf(p PID) Handshake {
	switch p {
	case PIDAck:
		return HandshakeACK
	case PIDNak:
		return HandshakeNAK
	case PIDStall:
		return HandshakeSTALL
	default:
		return HandshakeNone
	}
}
