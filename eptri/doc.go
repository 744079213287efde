// Package eptri models the LUNA eptri USB device controller at the level
// firmware sees it: four register windows, three FIFO interfaces and four
// interrupt lines, with the USB and system clock domains kept apart.
//
// # Register Map
//
// Each block occupies a 4 KiB window above [Config.BaseAddress]:
//
//	+0x0000  controller  CONNECT SPEED ADDRESS STATUS RESET CONFIGURED
//	+0x1000  setup       DATA RESET EPNO HAVE PENDING ACK ADDRESS PACKET0 PACKET1
//	+0x2000  in          DATA EPNO READY RESET STALL IDLE HAVE PID ENABLE MAXPKT
//	+0x3000  out         DATA EPNO SELECT ACK STALL ENABLE HAVE PENDING RESET PID MAXPKT
//
// Every window carries EV_PENDING at 0x100 (write 1 to clear) and EV_ENABLE
// at 0x104. An interrupt line is asserted while pending AND enable is
// non-zero. Unmapped addresses and undefined offsets read as zero and ignore
// writes. [Sim.AddressMap] lists the full map.
//
// # Clock Domains
//
// The link layer and transaction engine run on the USB clock; registers are
// accessed on the system clock. Firmware writes reach the engine through a
// command queue, and engine state reaches the registers through
// synchronizers, both delayed by [Config.SyncStages] clocks of the receiving
// domain. A bus reset is the exception: it clears FIFOs, stalls, toggles and
// the address in both domains at once, and firmware learns of it when the
// RESET event crosses.
//
// # Protocol Behavior
//
//   - An IN token for an endpoint that is not READY is answered with NAK and
//     raises nothing. A stalled endpoint answers STALL and raises the STALL
//     event. Data leaves the FIFO only when the host acknowledges it.
//   - An OUT packet arriving while the shared FIFO still holds an
//     unacknowledged packet is answered with NAK and does not touch the FIFO.
//   - A SETUP packet always replaces the latched one and re-raises READY.
//   - Malformed packets are dropped in the link layer without a response.
//   - IN and OUT RESET flush in the domain that reads the FIFO. Bytes
//     written after the reset survive it, and an IN handshake still owed for
//     a flushed packet is forgotten. Firmware waits for IN HAVE to read 0
//     before refilling a flushed endpoint.
//   - ADDRESS reads back the address the engine answers to, so a write made
//     before the first bus reset reads as 0.
package eptri
