// Package driver is device firmware for the eptri controller: an
// interrupt-driven endpoint driver that talks to the controller only through
// word reads and writes on its register bus, and a Stack that answers the
// standard control requests on top of it.
//
// The driver keeps a single IN endpoint armed at a time. It stays on that
// endpoint until its transfer finishes and then moves to the next endpoint
// with pending data in round-robin order, so every IN DONE event belongs to
// the endpoint it last armed. OUT data lands in the shared OUT
// FIFO and is drained into the buffer posted for the endpoint named by the
// FIFO owner.
//
// Nothing blocks. Operations that firmware on real hardware would wait for,
// such as the status stage before an address change, complete from
// HandleInterrupt. Code that calls into the driver from outside the
// interrupt handler on a simulated controller wraps the calls in
// eptri.Sim.Masked.
//
// An IN flush is not finished when RESET is written: the freed space crosses
// back to the system domain a few clocks later. The driver waits for HAVE to
// drop before it refills, and drops any DONE left over from the flushed
// packet.
//
// Class functions, such as the DFU interface in device/class/dfu, attach to
// an interface number with Stack.Attach and receive its class requests,
// including their OUT data stages, and its SET_INTERFACE selections.
package driver
