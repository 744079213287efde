package usb

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/eptri/pkg"
)

// Size limits for full-speed packets.
const (
	TokenSize       = 3    // PID + 16-bit field
	HandshakeSize   = 1    // PID only
	DataOverhead    = 3    // PID + CRC16
	MaxDataPayload  = 1023 // isochronous maximum; bulk/control use <= 64
	MaxPacketSize   = MaxDataPayload + DataOverhead
	MaxAddress      = 0x7F
	MaxEndpoint     = 0x0F
	MaxFrameNumber  = 0x7FF
	NumEndpoints    = 16
	SetupPacketSize = 8
)

// Packet is a decoded USB packet. Only the fields meaningful for the PID's
// kind are populated.
type Packet struct {
	PID      PID
	Address  uint8  // token: device address
	Endpoint uint8  // token: endpoint number
	Frame    uint16 // SOF: frame number
	Data     []byte // data: payload without CRC (references the decoded buffer)
}

// Token returns a token packet for the given address and endpoint.
func Token(pid PID, address, endpoint uint8) Packet {
	return Packet{PID: pid, Address: address & MaxAddress, Endpoint: endpoint & MaxEndpoint}
}

// Data returns a data packet carrying payload.
func Data(toggle bool, payload []byte) Packet {
	return Packet{PID: DataPID(toggle), Data: payload}
}

// HandshakePacket returns the handshake packet for h.
// The boolean is false if h is not sent on the wire.
func HandshakePacket(h Handshake) (Packet, bool) {
	p, ok := h.PID()
	return Packet{PID: p}, ok
}

// Size returns the encoded length of the packet in bytes.
func (p *Packet) Size() int {
	switch p.PID.Kind() {
	case KindToken:
		return TokenSize
	case KindData:
		return DataOverhead + len(p.Data)
	case KindHandshake:
		return HandshakeSize
	default:
		return 0
	}
}

// MarshalTo encodes the packet into buf and returns the number of bytes
// written, or 0 if buf is too small or the PID is invalid.
func (p *Packet) MarshalTo(buf []byte) int {
	n := p.Size()
	if n == 0 || len(buf) < n {
		return 0
	}
	buf[0] = p.PID.Byte()
	switch p.PID.Kind() {
	case KindToken:
		var field uint16
		if p.PID == PIDSOF {
			field = p.Frame & MaxFrameNumber
		} else {
			field = uint16(p.Address&MaxAddress) | uint16(p.Endpoint&MaxEndpoint)<<7
		}
		field |= uint16(CRC5(field)) << 11
		binary.LittleEndian.PutUint16(buf[1:3], field)
	case KindData:
		copy(buf[1:], p.Data)
		binary.LittleEndian.PutUint16(buf[1+len(p.Data):], CRC16(p.Data))
	}
	return n
}

// Append encodes the packet and appends it to buf.
func (p *Packet) Append(buf []byte) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, p.Size())...)
	p.MarshalTo(buf[start:])
	return buf
}

// Decode parses a complete packet from raw into out. The data payload of out
// references raw. Packets with a bad PID check field, a wrong length for
// their kind or a CRC mismatch are rejected.
func Decode(raw []byte, out *Packet) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty packet: %w", pkg.ErrProtocol)
	}
	pid, ok := ParsePID(raw[0])
	if !ok {
		return fmt.Errorf("pid byte 0x%02X: %w", raw[0], pkg.ErrProtocol)
	}
	*out = Packet{PID: pid}

	switch pid.Kind() {
	case KindToken:
		if len(raw) != TokenSize {
			return fmt.Errorf("%s length %d: %w", pid, len(raw), pkg.ErrProtocol)
		}
		field := binary.LittleEndian.Uint16(raw[1:3])
		if CRC5(field&0x7FF) != uint8(field>>11) {
			return fmt.Errorf("%s: %w", pid, pkg.ErrCRC)
		}
		if pid == PIDSOF {
			out.Frame = field & MaxFrameNumber
		} else {
			out.Address = uint8(field) & MaxAddress
			out.Endpoint = uint8(field>>7) & MaxEndpoint
		}
	case KindData:
		if len(raw) < DataOverhead || len(raw) > MaxPacketSize {
			return fmt.Errorf("%s length %d: %w", pid, len(raw), pkg.ErrProtocol)
		}
		payload := raw[1 : len(raw)-2]
		if CRC16(payload) != binary.LittleEndian.Uint16(raw[len(raw)-2:]) {
			return fmt.Errorf("%s: %w", pid, pkg.ErrCRC)
		}
		out.Data = payload
	case KindHandshake:
		if len(raw) != HandshakeSize {
			return fmt.Errorf("%s length %d: %w", pid, len(raw), pkg.ErrProtocol)
		}
	}
	return nil
}

// String returns a human-readable representation of the packet.
func (p *Packet) String() string {
	switch p.PID.Kind() {
	case KindToken:
		if p.PID == PIDSOF {
			return fmt.Sprintf("SOF[frame=%d]", p.Frame)
		}
		return fmt.Sprintf("%s[addr=%d ep=%d]", p.PID, p.Address, p.Endpoint)
	case KindData:
		return fmt.Sprintf("%s[len=%d]", p.PID, len(p.Data))
	default:
		return p.PID.String()
	}
}
