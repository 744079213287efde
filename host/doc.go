// Package host implements a simulated USB full-speed host.
//
// The host talks to a device through a [Port]: the host end of a simulated
// cable plus a way to let bus time pass. *eptri.HostPort is one. Everything
// is driven from the caller's goroutine; waiting for the device means
// stepping the simulation, so there are no timers and no background work.
//
// # Layers
//
//   - Transactions: [Host.Setup], [Host.In] and [Host.Out] send one token
//     and report the device's handshake as a [usb.Handshake].
//   - Transfers: [Host.ControlTransfer], [Host.BulkIn] and [Host.BulkOut]
//     split data into packets, track data toggles per device and retry NAKs
//     up to a limit, turning failures into pkg.ErrNAK, pkg.ErrStall and
//     pkg.ErrTimeout.
//   - Enumeration: [Host.Enumerate] resets the bus and walks a new device
//     from the default address to its first configuration.
//
// # Example
//
//	h := host.New(sim.HostPort(), host.Options{})
//	dev, err := h.Enumerate(ctx)
//	if err != nil {
//	    return err
//	}
//	n, err := h.BulkOut(ctx, dev, 0x01, payload)
package host
