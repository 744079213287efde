package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/eptri/pkg"
)

func testDeviceDescriptor() DeviceDescriptor {
	return DeviceDescriptor{
		USBVersion:        0x0200,
		MaxPacketSize0:    64,
		VendorID:          0x1209,
		ProductID:         0x5BF0,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		NumConfigurations: 1,
	}
}

func testConfiguration() Configuration {
	return Configuration{
		Value:    1,
		MaxPower: 50,
		Interfaces: []InterfaceDescriptor{{
			Number: 0,
			Class:  ClassVendor,
			Endpoints: []EndpointDescriptor{
				{Address: EndpointDirIn | 1, Attributes: EndpointTypeBulk, MaxPacketSize: 64},
				{Address: 2, Attributes: EndpointTypeBulk, MaxPacketSize: 64},
			},
		}},
	}
}

func TestDeviceDescriptorMarshalTo(t *testing.T) {
	d := testDeviceDescriptor()
	buf := make([]byte, DeviceDescriptorSize)
	if n := d.MarshalTo(buf); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d", n)
	}
	want := []byte{
		18, 0x01, 0x00, 0x02, 0, 0, 0, 64,
		0x09, 0x12, 0xF0, 0x5B, 0x00, 0x01, 1, 2, 0, 1,
	}
	if diff := cmp.Diff(want, buf); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}

	var got DeviceDescriptor
	if err := ParseDeviceDescriptor(buf, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}

	if n := d.MarshalTo(buf[:17]); n != 0 {
		t.Errorf("MarshalTo(17 bytes) = %d, want 0", n)
	}
}

func TestParseDeviceDescriptorPrefix(t *testing.T) {
	d := testDeviceDescriptor()
	buf := make([]byte, DeviceDescriptorSize)
	d.MarshalTo(buf)

	var got DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:8], &got); err != nil {
		t.Fatal(err)
	}
	if got.MaxPacketSize0 != 64 || got.VendorID != 0 {
		t.Errorf("prefix decoded as %+v", got)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", buf[:7], pkg.ErrDescriptorTooShort},
		{"wrong type", []byte{18, DescriptorTypeString, 0, 0, 0, 0, 0, 0}, pkg.ErrDescriptorTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ParseDeviceDescriptor(tt.data, &got); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfigurationMarshalTo(t *testing.T) {
	c := testConfiguration()
	if got := c.TotalLength(); got != 32 {
		t.Fatalf("TotalLength() = %d, want 32", got)
	}
	buf := make([]byte, 64)
	n := c.MarshalTo(buf)
	want := []byte{
		9, 0x02, 32, 0, 1, 1, 0, 0x80, 50,
		9, 0x04, 0, 0, 2, 0xFF, 0, 0, 0,
		7, 0x05, 0x81, 0x02, 64, 0, 0,
		7, 0x05, 0x02, 0x02, 64, 0, 0,
	}
	if diff := cmp.Diff(want, buf[:n]); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}
	if n := c.MarshalTo(buf[:31]); n != 0 {
		t.Errorf("MarshalTo(31 bytes) = %d, want 0", n)
	}

	var got Configuration
	if err := ParseConfiguration(buf[:n], &got); err != nil {
		t.Fatal(err)
	}
	c.Attributes = ConfigAttrBusPowered
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}
	ep := got.Interfaces[0].Endpoints[0]
	if !ep.IsIn() || ep.Number() != 1 {
		t.Errorf("endpoint 0x%02X: IsIn %v Number %d", ep.Address, ep.IsIn(), ep.Number())
	}
}

// Alternate settings share bNumInterfaces and carry their class-specific
// descriptors through the round trip.
func TestConfigurationAlternates(t *testing.T) {
	functional := []byte{9, 0x21, 0x0F, 0xE8, 0x03, 0x00, 0x01, 0x10, 0x01}
	c := testConfiguration()
	c.Interfaces = append(c.Interfaces,
		InterfaceDescriptor{Number: 1, Class: ClassApplicationSpecific, SubClass: 1, Protocol: 2, StringIndex: 4},
		InterfaceDescriptor{Number: 1, AlternateSetting: 1, Class: ClassApplicationSpecific, SubClass: 1, Protocol: 2, StringIndex: 5, Extra: functional},
	)
	if got := c.NumInterfaces(); got != 2 {
		t.Errorf("NumInterfaces() = %d, want 2", got)
	}
	want := 32 + 2*InterfaceDescriptorSize + len(functional)
	if got := c.TotalLength(); got != want {
		t.Fatalf("TotalLength() = %d, want %d", got, want)
	}
	buf := make([]byte, 128)
	n := c.MarshalTo(buf)
	if n != want || buf[4] != 2 {
		t.Fatalf("MarshalTo = %d bytes, bNumInterfaces %d", n, buf[4])
	}

	var got Configuration
	if err := ParseConfiguration(buf[:n], &got); err != nil {
		t.Fatal(err)
	}
	c.Attributes = ConfigAttrBusPowered
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfigurationErrors(t *testing.T) {
	c := testConfiguration()
	buf := make([]byte, c.TotalLength())
	c.MarshalTo(buf)

	stray := append([]byte{}, buf[:9]...)
	stray[2] = 16
	stray = append(stray, buf[18:25]...)

	// An unknown descriptor between the interface and its endpoints.
	withClass := append([]byte{}, buf[:18]...)
	withClass = append(withClass, 4, 0x24, 0xAA, 0xBB)
	withClass = append(withClass, buf[18:]...)
	withClass[2] = byte(len(withClass))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"header only", buf[:9], pkg.ErrDescriptorTooShort},
		{"truncated endpoint", append(append([]byte{}, buf[:9]...), buf[9:20]...), pkg.ErrDescriptorTooShort},
		{"endpoint outside interface", stray, pkg.ErrDescriptorTypeMismatch},
		{"unknown descriptor skipped", withClass, nil},
	}
	tests[1].data[2] = 20
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Configuration
			if err := ParseConfiguration(tt.data, &got); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStringDescriptor(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want []byte
	}{
		{"ascii", "Hi", []byte{6, 0x03, 'H', 0, 'i', 0}},
		{"empty", "", []byte{2, 0x03}},
		{"surrogate pair", "\U0001F600", []byte{6, 0x03, 0x3D, 0xD8, 0x00, 0xDE}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			n := StringDescriptorTo(buf, tt.s)
			if diff := cmp.Diff(tt.want, buf[:n]); diff != "" {
				t.Errorf("encoding mismatch (-want +got):\n%s", diff)
			}
			got, err := ParseString(buf[:n])
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.s {
				t.Errorf("ParseString() = %q, want %q", got, tt.s)
			}
		})
	}
}

func TestStringDescriptorLimits(t *testing.T) {
	buf := make([]byte, 512)
	if n := StringDescriptorTo(buf, strings.Repeat("x", 200)); n != 254 {
		t.Errorf("long string encoded in %d bytes, want 254", n)
	}
	if n := StringDescriptorTo(buf[:5], "abc"); n != 0 {
		t.Errorf("short buffer: %d, want 0", n)
	}
	n := LanguageDescriptorTo(buf, LangIDUSEnglish)
	if diff := cmp.Diff([]byte{4, 0x03, 0x09, 0x04}, buf[:n]); diff != "" {
		t.Errorf("language descriptor mismatch (-want +got):\n%s", diff)
	}
	if _, err := ParseString([]byte{4, DescriptorTypeDevice, 0, 0}); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("ParseString(device) error = %v", err)
	}
}
