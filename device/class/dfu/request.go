package dfu

import "github.com/ardnew/eptri/device"

func request(in bool, req uint8, value, iface, length uint16) device.SetupPacket {
	t := uint8(device.RequestDirectionOut)
	if in {
		t = device.RequestDirectionIn
	}
	return device.SetupPacket{
		RequestType: t | device.RequestTypeClass | device.RequestRecipientInterface,
		Request:     req,
		Value:       value,
		Index:       iface,
		Length:      length,
	}
}

// DnloadRequest builds DFU_DNLOAD of length bytes as block. A zero length
// ends the download.
func DnloadRequest(iface uint8, block, length uint16) device.SetupPacket {
	return request(false, RequestDnload, block, uint16(iface), length)
}

// UploadRequest builds DFU_UPLOAD of up to length bytes of block.
func UploadRequest(iface uint8, block, length uint16) device.SetupPacket {
	return request(true, RequestUpload, block, uint16(iface), length)
}

// GetStatusRequest builds DFU_GETSTATUS.
func GetStatusRequest(iface uint8) device.SetupPacket {
	return request(true, RequestGetStatus, 0, uint16(iface), StatusSize)
}

// GetStateRequest builds DFU_GETSTATE.
func GetStateRequest(iface uint8) device.SetupPacket {
	return request(true, RequestGetState, 0, uint16(iface), 1)
}

// ClrStatusRequest builds DFU_CLRSTATUS.
func ClrStatusRequest(iface uint8) device.SetupPacket {
	return request(false, RequestClrStatus, 0, uint16(iface), 0)
}

// AbortRequest builds DFU_ABORT.
func AbortRequest(iface uint8) device.SetupPacket {
	return request(false, RequestAbort, 0, uint16(iface), 0)
}

// DetachRequest builds DFU_DETACH with a timeout in milliseconds.
func DetachRequest(iface uint8, timeout uint16) device.SetupPacket {
	return request(false, RequestDetach, timeout, uint16(iface), 0)
}

// StatusReply is a decoded DFU_GETSTATUS reply.
type StatusReply struct {
	Status      Status
	PollTimeout uint32 // milliseconds
	State       State
	StringIndex uint8
}

// ParseStatus decodes a DFU_GETSTATUS reply.
func ParseStatus(b []byte) (StatusReply, bool) {
	if len(b) < StatusSize {
		return StatusReply{}, false
	}
	return StatusReply{
		Status:      Status(b[0]),
		PollTimeout: uint32(b[1]) | uint32(b[2])<<8 | uint32(b[3])<<16,
		State:       State(b[4]),
		StringIndex: b[5],
	}, true
}
