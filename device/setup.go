package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/eptri/pkg"
)

// Standard request codes (USB 2.0 Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
)

// Feature selectors (USB 2.0 Table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
)

// bmRequestType fields.
const (
	RequestDirectionMask = 0x80
	RequestTypeMask      = 0x60
	RequestRecipientMask = 0x1F

	RequestDirectionOut = 0x00 // host to device
	RequestDirectionIn  = 0x80 // device to host

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
)

// SetupPacketSize is the size of a SETUP data stage in bytes.
const SetupPacketSize = 8

// SetupPacket is the 8-byte request carried by a SETUP transaction.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetupPacket decodes the first 8 bytes of data into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return fmt.Errorf("%d bytes: %w", len(data), pkg.ErrSetupPacketTooShort)
	}
	*out = SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:]),
		Index:       binary.LittleEndian.Uint16(data[4:]),
		Length:      binary.LittleEndian.Uint16(data[6:]),
	}
	return nil
}

// MarshalTo encodes the packet into buf and returns 8, or 0 if buf is short.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// Bytes returns the encoded packet.
func (s *SetupPacket) Bytes() [SetupPacketSize]byte {
	var b [SetupPacketSize]byte
	s.MarshalTo(b[:])
	return b
}

// IsIn reports whether the data stage, if any, moves toward the host.
func (s *SetupPacket) IsIn() bool { return s.RequestType&RequestDirectionMask == RequestDirectionIn }

// Type returns the request type bits.
func (s *SetupPacket) Type() uint8 { return s.RequestType & RequestTypeMask }

// Recipient returns the recipient bits.
func (s *SetupPacket) Recipient() uint8 { return s.RequestType & RequestRecipientMask }

// DescriptorType returns the descriptor type requested by GET_DESCRIPTOR.
func (s *SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex returns the descriptor index requested by GET_DESCRIPTOR.
func (s *SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// String returns a one-line summary.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsIn() {
		dir = "IN"
	}
	name, ok := requestNames[s.Request]
	if !ok || s.Type() != RequestTypeStandard {
		name = fmt.Sprintf("0x%02X", s.Request)
	}
	return fmt.Sprintf("SETUP %s %s type=0x%02X value=0x%04X index=0x%04X length=%d",
		dir, name, s.RequestType, s.Value, s.Index, s.Length)
}

var requestNames = map[uint8]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestSetDescriptor:    "SET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
}

func standard(dir, recipient, request uint8, value, index, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: dir | RequestTypeStandard | recipient,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

// GetDescriptorRequest builds GET_DESCRIPTOR.
func GetDescriptorRequest(descType, index uint8, length uint16) SetupPacket {
	return standard(RequestDirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(descType)<<8|uint16(index), 0, length)
}

// GetStringRequest builds GET_DESCRIPTOR for a string in the given language.
func GetStringRequest(index uint8, langID, length uint16) SetupPacket {
	p := GetDescriptorRequest(DescriptorTypeString, index, length)
	p.Index = langID
	return p
}

// SetAddressRequest builds SET_ADDRESS.
func SetAddressRequest(address uint8) SetupPacket {
	return standard(RequestDirectionOut, RequestRecipientDevice, RequestSetAddress, uint16(address), 0, 0)
}

// GetConfigurationRequest builds GET_CONFIGURATION.
func GetConfigurationRequest() SetupPacket {
	return standard(RequestDirectionIn, RequestRecipientDevice, RequestGetConfiguration, 0, 0, 1)
}

// SetConfigurationRequest builds SET_CONFIGURATION.
func SetConfigurationRequest(value uint8) SetupPacket {
	return standard(RequestDirectionOut, RequestRecipientDevice, RequestSetConfiguration, uint16(value), 0, 0)
}

// GetStatusRequest builds GET_STATUS.
func GetStatusRequest(recipient uint8, index uint16) SetupPacket {
	return standard(RequestDirectionIn, recipient, RequestGetStatus, 0, index, 2)
}

// GetInterfaceRequest builds GET_INTERFACE.
func GetInterfaceRequest(number uint8) SetupPacket {
	return standard(RequestDirectionIn, RequestRecipientInterface, RequestGetInterface, 0, uint16(number), 1)
}

// SetInterfaceRequest builds SET_INTERFACE.
func SetInterfaceRequest(number, alt uint8) SetupPacket {
	return standard(RequestDirectionOut, RequestRecipientInterface, RequestSetInterface, uint16(alt), uint16(number), 0)
}

// SetFeatureRequest builds SET_FEATURE.
func SetFeatureRequest(recipient uint8, feature, index uint16) SetupPacket {
	return standard(RequestDirectionOut, recipient, RequestSetFeature, feature, index, 0)
}

// ClearFeatureRequest builds CLEAR_FEATURE.
func ClearFeatureRequest(recipient uint8, feature, index uint16) SetupPacket {
	return standard(RequestDirectionOut, recipient, RequestClearFeature, feature, index, 0)
}
