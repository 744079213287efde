package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/eptri/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    SetupPacket
		wantErr error
	}{
		{
			name: "GET_DESCRIPTOR device",
			data: []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
			want: SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18},
		},
		{
			name: "SET_ADDRESS",
			data: []byte{0x00, 0x05, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: SetupPacket{Request: 0x05, Value: 5},
		},
		{
			name: "CLEAR_FEATURE halt EP1 IN",
			data: []byte{0x02, 0x01, 0x00, 0x00, 0x81, 0x00, 0x00, 0x00},
			want: SetupPacket{RequestType: 0x02, Request: 0x01, Index: 0x81},
		},
		{
			name:    "too short",
			data:    []byte{0x80, 0x06, 0x00},
			wantErr: pkg.ErrSetupPacketTooShort,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			err := ParseSetupPacket(tt.data, &got)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSetupPacket() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			b := got.Bytes()
			if diff := cmp.Diff(tt.data, b[:]); diff != "" {
				t.Errorf("re-encoding mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetupPacketMarshalToShortBuffer(t *testing.T) {
	p := SetAddressRequest(1)
	if n := p.MarshalTo(make([]byte, 7)); n != 0 {
		t.Errorf("MarshalTo(7 bytes) = %d, want 0", n)
	}
}

func TestRequestBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  SetupPacket
		want []byte
		in   bool
	}{
		{"GET_DESCRIPTOR", GetDescriptorRequest(DescriptorTypeDevice, 0, 64),
			[]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x40, 0x00}, true},
		{"GET_DESCRIPTOR string", GetStringRequest(2, LangIDUSEnglish, 255),
			[]byte{0x80, 0x06, 0x02, 0x03, 0x09, 0x04, 0xFF, 0x00}, true},
		{"SET_ADDRESS", SetAddressRequest(5),
			[]byte{0x00, 0x05, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00}, false},
		{"GET_CONFIGURATION", GetConfigurationRequest(),
			[]byte{0x80, 0x08, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}, true},
		{"SET_CONFIGURATION", SetConfigurationRequest(1),
			[]byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}, false},
		{"GET_STATUS endpoint", GetStatusRequest(RequestRecipientEndpoint, 0x81),
			[]byte{0x82, 0x00, 0x00, 0x00, 0x81, 0x00, 0x02, 0x00}, true},
		{"SET_FEATURE halt", SetFeatureRequest(RequestRecipientEndpoint, FeatureEndpointHalt, 0x02),
			[]byte{0x02, 0x03, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}, false},
		{"CLEAR_FEATURE halt", ClearFeatureRequest(RequestRecipientEndpoint, FeatureEndpointHalt, 0x02),
			[]byte{0x02, 0x01, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}, false},
		{"GET_INTERFACE", GetInterfaceRequest(1),
			[]byte{0x81, 0x0A, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00}, true},
		{"SET_INTERFACE", SetInterfaceRequest(1, 2),
			[]byte{0x01, 0x0B, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.got.Bytes()
			if diff := cmp.Diff(tt.want, b[:]); diff != "" {
				t.Errorf("encoding mismatch (-want +got):\n%s", diff)
			}
			if tt.got.IsIn() != tt.in {
				t.Errorf("IsIn() = %v, want %v", tt.got.IsIn(), tt.in)
			}
			if tt.got.Type() != RequestTypeStandard {
				t.Errorf("Type() = 0x%02X", tt.got.Type())
			}
		})
	}
}

func TestSetupPacketAccessors(t *testing.T) {
	p := GetDescriptorRequest(DescriptorTypeString, 3, 255)
	if p.DescriptorType() != DescriptorTypeString || p.DescriptorIndex() != 3 {
		t.Errorf("descriptor fields = 0x%02X/%d", p.DescriptorType(), p.DescriptorIndex())
	}
	if p.Recipient() != RequestRecipientDevice {
		t.Errorf("Recipient() = %d", p.Recipient())
	}
	q := SetupPacket{RequestType: RequestTypeVendor | RequestRecipientInterface, Request: 0x42}
	if q.Type() != RequestTypeVendor || q.Recipient() != RequestRecipientInterface {
		t.Errorf("vendor request decoded as type 0x%02X recipient %d", q.Type(), q.Recipient())
	}
}

func TestSetupPacketString(t *testing.T) {
	tests := []struct {
		p    SetupPacket
		want string
	}{
		{SetAddressRequest(5),
			"SETUP OUT SET_ADDRESS type=0x00 value=0x0005 index=0x0000 length=0"},
		{GetDescriptorRequest(DescriptorTypeDevice, 0, 18),
			"SETUP IN GET_DESCRIPTOR type=0x80 value=0x0100 index=0x0000 length=18"},
		{SetupPacket{RequestType: 0xC0, Request: 0x06, Length: 4},
			"SETUP IN 0x06 type=0xC0 value=0x0000 index=0x0000 length=4"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
