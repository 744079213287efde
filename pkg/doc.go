// Package pkg holds the sentinel errors and the component-tagged logger
// shared by every package in the module.
//
// Records carry a component attribute naming the block that wrote them, so
// the USB-domain engine and the system-domain registers can be told apart
// in one stream:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentOut, "NAK, FIFO not yet drained", "ep", 2)
//
// Errors are compared with [errors.Is]. Transfers that end badly are
// classified with [StatusOf]:
//
//	if pkg.StatusOf(err) == pkg.TransferStatusStall {
//		// clear the halt, then retry
//	}
package pkg
