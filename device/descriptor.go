package device

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/eptri/pkg"
)

// Descriptor types (USB 2.0 Table 9-5).
const (
	DescriptorTypeDevice          = 0x01
	DescriptorTypeConfiguration   = 0x02
	DescriptorTypeString          = 0x03
	DescriptorTypeInterface       = 0x04
	DescriptorTypeEndpoint        = 0x05
	DescriptorTypeDeviceQualifier = 0x06
)

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
	maxStringDescriptorSize     = 255
)

// Class codes used by the simulated device.
const (
	ClassPerInterface        = 0x00
	ClassApplicationSpecific = 0xFE
	ClassVendor              = 0xFF
)

// Configuration attributes.
const (
	ConfigAttrBusPowered   = 0x80 // reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

// EndpointDirIn marks an IN endpoint address.
const EndpointDirIn = 0x80

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// DeviceDescriptor is the standard device descriptor. bLength and
// bDescriptorType are implied.
type DeviceDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo encodes d into buf and returns the bytes written, or 0 if buf
// is short.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0], buf[1] = DeviceDescriptorSize, DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:], d.USBVersion)
	buf[4], buf[5], buf[6], buf[7] = d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:], d.DeviceVersion)
	buf[14], buf[15], buf[16], buf[17] = d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor decodes data into out. A prefix of at least 8 bytes
// fills the fields up to MaxPacketSize0, which is what a host learns from
// the first, short GET_DESCRIPTOR.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkHeader(data, 8, DescriptorTypeDevice); err != nil {
		return err
	}
	*out = DeviceDescriptor{
		USBVersion:     binary.LittleEndian.Uint16(data[2:]),
		DeviceClass:    data[4],
		DeviceSubClass: data[5],
		DeviceProtocol: data[6],
		MaxPacketSize0: data[7],
	}
	if len(data) < DeviceDescriptorSize {
		return nil
	}
	out.VendorID = binary.LittleEndian.Uint16(data[8:])
	out.ProductID = binary.LittleEndian.Uint16(data[10:])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// EndpointDescriptor is the standard endpoint descriptor.
type EndpointDescriptor struct {
	Address       uint8 // number | EndpointDirIn
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// Number returns the endpoint number.
func (e *EndpointDescriptor) Number() uint8 { return e.Address & 0x0F }

// IsIn reports whether the endpoint sends data to the host.
func (e *EndpointDescriptor) IsIn() bool { return e.Address&EndpointDirIn != 0 }

// InterfaceDescriptor is the standard interface descriptor together with
// the endpoints it owns. Each alternate setting is its own entry.
type InterfaceDescriptor struct {
	Number           uint8
	AlternateSetting uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	StringIndex      uint8
	// Extra holds encoded class-specific descriptors sent between the
	// interface descriptor and its endpoints.
	Extra     []byte
	Endpoints []EndpointDescriptor
}

// Configuration is a configuration descriptor with its interfaces, the unit
// returned by GET_DESCRIPTOR(CONFIGURATION).
type Configuration struct {
	Value       uint8
	StringIndex uint8
	Attributes  uint8
	MaxPower    uint8 // 2 mA units
	Interfaces  []InterfaceDescriptor
}

// TotalLength returns wTotalLength.
func (c *Configuration) TotalLength() int {
	n := ConfigurationDescriptorSize
	for _, in := range c.Interfaces {
		n += InterfaceDescriptorSize + len(in.Extra) + len(in.Endpoints)*EndpointDescriptorSize
	}
	return n
}

// NumInterfaces returns bNumInterfaces: alternate settings do not count.
func (c *Configuration) NumInterfaces() int {
	n := 0
	for _, in := range c.Interfaces {
		if in.AlternateSetting == 0 {
			n++
		}
	}
	return n
}

// MarshalTo encodes the configuration and every subordinate descriptor into
// buf. It returns the bytes written, or 0 if buf is short.
func (c *Configuration) MarshalTo(buf []byte) int {
	total := c.TotalLength()
	if len(buf) < total {
		return 0
	}
	buf[0], buf[1] = ConfigurationDescriptorSize, DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:], uint16(total))
	buf[4] = uint8(c.NumInterfaces())
	buf[5], buf[6], buf[7], buf[8] = c.Value, c.StringIndex, c.Attributes|ConfigAttrBusPowered, c.MaxPower
	n := ConfigurationDescriptorSize
	for _, in := range c.Interfaces {
		b := buf[n:]
		b[0], b[1] = InterfaceDescriptorSize, DescriptorTypeInterface
		b[2], b[3], b[4] = in.Number, in.AlternateSetting, uint8(len(in.Endpoints))
		b[5], b[6], b[7], b[8] = in.Class, in.SubClass, in.Protocol, in.StringIndex
		n += InterfaceDescriptorSize
		n += copy(buf[n:], in.Extra)
		for _, ep := range in.Endpoints {
			b := buf[n:]
			b[0], b[1] = EndpointDescriptorSize, DescriptorTypeEndpoint
			b[2], b[3] = ep.Address, ep.Attributes
			binary.LittleEndian.PutUint16(b[4:], ep.MaxPacketSize)
			b[6] = ep.Interval
			n += EndpointDescriptorSize
		}
	}
	return n
}

// ParseConfiguration decodes a full configuration descriptor set. Descriptors
// of types it does not know are skipped.
func ParseConfiguration(data []byte, out *Configuration) error {
	if err := checkHeader(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return err
	}
	total := int(binary.LittleEndian.Uint16(data[2:]))
	if len(data) < total {
		return fmt.Errorf("configuration has %d of %d bytes: %w", len(data), total, pkg.ErrDescriptorTooShort)
	}
	*out = Configuration{Value: data[5], StringIndex: data[6], Attributes: data[7], MaxPower: data[8]}

	var cur *InterfaceDescriptor
	for p := int(data[0]); p < total; {
		d := data[p:total]
		if len(d) < 2 || d[0] < 2 || int(d[0]) > len(d) {
			return fmt.Errorf("descriptor at offset %d: %w", p, pkg.ErrDescriptorTooShort)
		}
		switch d[1] {
		case DescriptorTypeInterface:
			if d[0] < InterfaceDescriptorSize {
				return fmt.Errorf("interface at offset %d: %w", p, pkg.ErrDescriptorTooShort)
			}
			out.Interfaces = append(out.Interfaces, InterfaceDescriptor{
				Number: d[2], AlternateSetting: d[3],
				Class: d[5], SubClass: d[6], Protocol: d[7], StringIndex: d[8],
			})
			cur = &out.Interfaces[len(out.Interfaces)-1]
		case DescriptorTypeEndpoint:
			if d[0] < EndpointDescriptorSize {
				return fmt.Errorf("endpoint at offset %d: %w", p, pkg.ErrDescriptorTooShort)
			}
			if cur == nil {
				return fmt.Errorf("endpoint at offset %d outside an interface: %w", p, pkg.ErrDescriptorTypeMismatch)
			}
			cur.Endpoints = append(cur.Endpoints, EndpointDescriptor{
				Address:       d[2],
				Attributes:    d[3],
				MaxPacketSize: binary.LittleEndian.Uint16(d[4:]),
				Interval:      d[6],
			})
		default:
			if cur != nil && len(cur.Endpoints) == 0 {
				cur.Extra = append(cur.Extra, d[:d[0]]...)
			}
		}
		p += int(d[0])
	}
	return nil
}

func checkHeader(data []byte, size int, descType uint8) error {
	if len(data) < size {
		return fmt.Errorf("%d bytes, want %d: %w", len(data), size, pkg.ErrDescriptorTooShort)
	}
	if data[1] != descType {
		return fmt.Errorf("type 0x%02X, want 0x%02X: %w", data[1], descType, pkg.ErrDescriptorTypeMismatch)
	}
	return nil
}

// StringDescriptorTo encodes s as a UTF-16LE string descriptor into buf and
// returns the bytes written, or 0 if buf is short. Strings longer than a
// descriptor can hold are truncated.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if limit := (maxStringDescriptorSize - 2) / 2; len(units) > limit {
		units = units[:limit]
	}
	n := 2 + 2*len(units)
	if len(buf) < n {
		return 0
	}
	buf[0], buf[1] = uint8(n), DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+2*i:], u)
	}
	return n
}

// LanguageDescriptorTo writes string descriptor zero listing langIDs.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	n := 2 + 2*len(langIDs)
	if len(buf) < n {
		return 0
	}
	buf[0], buf[1] = uint8(n), DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+2*i:], id)
	}
	return n
}

// ParseString decodes a string descriptor.
func ParseString(data []byte) (string, error) {
	if err := checkHeader(data, 2, DescriptorTypeString); err != nil {
		return "", err
	}
	n := min(int(data[0]), len(data))
	units := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(units)), nil
}
