// Package usb implements the packet layer of a USB 2.0 full-speed link:
// packet identifiers, CRC5/CRC16 and the token, data and handshake packet
// formats exchanged over the PHY's byte interface.
//
// A packet on the wire is the PID byte followed by its payload:
//
//	token:     PID | ADDR[6:0] ENDP[3:0] CRC5[4:0]   (3 bytes)
//	SOF:       PID | FRAME[10:0] CRC5[4:0]           (3 bytes)
//	data:      PID | DATA[0..1023] CRC16              (3+ bytes)
//	handshake: PID                                    (1 byte)
//
// Multi-bit fields are transmitted least-significant bit first, so the
// 16-bit token fields and the CRC16 are little-endian on the byte bus.
package usb
