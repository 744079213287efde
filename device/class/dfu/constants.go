package dfu

import "fmt"

// Interface codes of a DFU interface.
const (
	SubClassDFU = 0x01
	ProtocolRT  = 0x01
	ProtocolDFU = 0x02 // DFU mode
)

// The functional descriptor follows the interface descriptors.
const (
	DescriptorTypeFunctional = 0x21
	FunctionalDescriptorSize = 9
)

// Class requests.
const (
	RequestDetach    = 0x00
	RequestDnload    = 0x01
	RequestUpload    = 0x02
	RequestGetStatus = 0x03
	RequestClrStatus = 0x04
	RequestGetState  = 0x05
	RequestAbort     = 0x06
)

// StatusSize is the length of the GETSTATUS reply.
const StatusSize = 6

// Functional descriptor bmAttributes.
const (
	AttrCanDownload           = 0x01
	AttrCanUpload             = 0x02
	AttrManifestationTolerant = 0x04
	AttrWillDetach            = 0x08
)

// State is bState of the GETSTATUS and GETSTATE replies.
type State uint8

// States.
const (
	StateAppIdle State = iota
	StateAppDetach
	StateIdle
	StateDnloadSync
	StateDnBusy
	StateDnloadIdle
	StateManifestSync
	StateManifest
	StateManifestWaitReset
	StateUploadIdle
	StateError
)

var stateNames = [...]string{
	"appIDLE", "appDETACH", "dfuIDLE", "dfuDNLOAD-SYNC", "dfuDNBUSY",
	"dfuDNLOAD-IDLE", "dfuMANIFEST-SYNC", "dfuMANIFEST",
	"dfuMANIFEST-WAIT-RESET", "dfuUPLOAD-IDLE", "dfuERROR",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Status is bStatus of the GETSTATUS reply.
type Status uint8

// Statuses.
const (
	StatusOK Status = iota
	StatusErrTarget
	StatusErrFile
	StatusErrWrite
	StatusErrErase
	StatusErrCheckErased
	StatusErrProg
	StatusErrVerify
	StatusErrAddress
	StatusErrNotDone
	StatusErrFirmware
	StatusErrVendor
	StatusErrUSBR
	StatusErrPOR
	StatusErrUnknown
	StatusErrStalledPkt
)

var statusNames = [...]string{
	"OK", "errTARGET", "errFILE", "errWRITE", "errERASE", "errCHECK_ERASED",
	"errPROG", "errVERIFY", "errADDRESS", "errNOTDONE", "errFIRMWARE",
	"errVENDOR", "errUSBR", "errPOR", "errUNKNOWN", "errSTALLEDPKT",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}
