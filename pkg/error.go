package pkg

import (
	"errors"
	"fmt"
)

// Link and transaction errors, as seen by the host side of the cable.
var (
	ErrStall     = errors.New("endpoint stalled")
	ErrNAK       = errors.New("NAK limit reached")
	ErrTimeout   = errors.New("no handshake")
	ErrCancelled = errors.New("transfer cancelled")
	ErrOverrun   = errors.New("data overrun")
	ErrCRC       = errors.New("CRC mismatch")
	ErrProtocol  = errors.New("protocol error")
	ErrNoDevice  = errors.New("no device on port")

	// ErrReset is returned for work started before the most recent bus
	// reset.
	ErrReset = errors.New("bus reset")
)

// Request and endpoint errors, shared by the driver and the host model.
var (
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrInvalidState    = errors.New("invalid device state")
	ErrInvalidRequest  = errors.New("unsupported request")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrNotSupported    = errors.New("not supported")
	ErrBusy            = errors.New("endpoint busy")

	// ErrInvalidParameter reports an argument outside its allowed range.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Wire format errors.
var (
	ErrDescriptorTooShort     = errors.New("descriptor too short")
	ErrDescriptorTypeMismatch = errors.New("unexpected descriptor type")
	ErrSetupPacketTooShort    = errors.New("setup packet shorter than 8 bytes")
)

// Register model errors.
var (
	ErrFIFOFull      = errors.New("fifo full")
	ErrFIFOEmpty     = errors.New("fifo empty")
	ErrQueueFull     = errors.New("handoff queue full")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// TransferStatus classifies how a transfer ended.
type TransferStatus int

// Transfer outcomes. Counters indexed by status use NumTransferStatus.
const (
	TransferStatusSuccess TransferStatus = iota
	TransferStatusError
	TransferStatusStall
	TransferStatusNAK
	TransferStatusTimeout
	TransferStatusCancelled
	TransferStatusOverrun
	NumTransferStatus int = iota
)

var statusTable = [NumTransferStatus]struct {
	name string
	err  error
}{
	TransferStatusSuccess:   {"success", nil},
	TransferStatusError:     {"error", ErrProtocol},
	TransferStatusStall:     {"stall", ErrStall},
	TransferStatusNAK:       {"nak", ErrNAK},
	TransferStatusTimeout:   {"timeout", ErrTimeout},
	TransferStatusCancelled: {"cancelled", ErrCancelled},
	TransferStatusOverrun:   {"overrun", ErrOverrun},
}

func (s TransferStatus) valid() bool { return s >= 0 && int(s) < NumTransferStatus }

// String returns the lower-case status name.
func (s TransferStatus) String() string {
	if !s.valid() {
		return fmt.Sprintf("TransferStatus(%d)", int(s))
	}
	return statusTable[s].name
}

// Error returns the sentinel error for s, nil for success. Unknown values
// map to ErrProtocol.
func (s TransferStatus) Error() error {
	if !s.valid() {
		return ErrProtocol
	}
	return statusTable[s].err
}

// StatusOf classifies an error returned by a transfer. Wrapped sentinels
// are recognized; anything unrecognized is TransferStatusError.
func StatusOf(err error) TransferStatus {
	if err == nil {
		return TransferStatusSuccess
	}
	for s := TransferStatusStall; int(s) < NumTransferStatus; s++ {
		if errors.Is(err, statusTable[s].err) {
			return s
		}
	}
	return TransferStatusError
}
