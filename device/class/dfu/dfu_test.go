package dfu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/pkg"
)

func newTestDFU(opts Options) *DFU {
	return New(opts,
		NewPartition("main-gateware @0x100000", 1024, 1),
		NewPartition("main-firmware @0x400000", 512, 100))
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func status(t *testing.T, d *DFU) StatusReply {
	t.Helper()
	b, err := d.HandleSetup(GetStatusRequest(0), nil)
	if err != nil {
		t.Fatalf("GETSTATUS: %v", err)
	}
	st, ok := ParseStatus(b)
	if !ok {
		t.Fatalf("GETSTATUS reply % X too short", b)
	}
	return st
}

func TestDownloadSequence(t *testing.T) {
	d := newTestDFU(Options{})
	var manifested []byte
	d.SetOnManifest(func(alt uint8, image []byte) { manifested = image })

	first, second := pattern(256, 0x10), pattern(40, 0x80)
	steps := []struct {
		name string
		p    device.SetupPacket
		data []byte
		want StatusReply // checked for GETSTATUS
	}{
		{name: "block 0", p: DnloadRequest(0, 0, 256), data: first},
		{name: "written", p: GetStatusRequest(0), want: StatusReply{PollTimeout: 1, State: StateDnBusy}},
		{name: "block done", p: GetStatusRequest(0), want: StatusReply{State: StateDnloadIdle}},
		{name: "block 1", p: DnloadRequest(0, 1, 40), data: second},
		{name: "written again", p: GetStatusRequest(0), want: StatusReply{PollTimeout: 1, State: StateDnBusy}},
		{name: "block 1 done", p: GetStatusRequest(0), want: StatusReply{State: StateDnloadIdle}},
		{name: "end", p: DnloadRequest(0, 2, 0)},
		{name: "manifest", p: GetStatusRequest(0), want: StatusReply{State: StateManifest}},
		{name: "idle", p: GetStatusRequest(0), want: StatusReply{State: StateIdle}},
	}
	for _, st := range steps {
		resp, err := d.HandleSetup(st.p, st.data)
		if err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if st.p.Request != RequestGetStatus {
			continue
		}
		got, _ := ParseStatus(resp)
		if diff := cmp.Diff(st.want, got); diff != "" {
			t.Errorf("%s: status (-want +got):\n%s", st.name, diff)
		}
	}

	want := append(append([]byte{}, first...), second...)
	if diff := cmp.Diff(want, d.Partition(0).Image()); diff != "" {
		t.Errorf("partition image (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, manifested); diff != "" {
		t.Errorf("manifested image (-want +got):\n%s", diff)
	}
	if got := d.Partition(1).Image(); len(got) != 0 {
		t.Errorf("partition 1 written with %d bytes", len(got))
	}
	if diff := cmp.Diff(Stats{BlocksWritten: 2, Manifests: 1}, d.Stats()); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
}

func TestUploadBlocks(t *testing.T) {
	d := newTestDFU(Options{})
	image := pattern(300, 0x33)
	if err := d.Partition(0).Load(image); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		block     uint16
		want      []byte
		wantState State
	}{
		{0, image[:256], StateUploadIdle},
		{1, image[256:], StateIdle},
		{2, []byte{}, StateIdle},
	}
	for _, tt := range tests {
		got, err := d.HandleSetup(UploadRequest(0, tt.block, 256), nil)
		if err != nil {
			t.Fatalf("block %d: %v", tt.block, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("block %d = %d bytes, want %d", tt.block, len(got), len(tt.want))
		}
		if d.State() != tt.wantState {
			t.Errorf("block %d: state %s, want %s", tt.block, d.State(), tt.wantState)
		}
	}
}

// Every refused request stalls, parks the interface in dfuERROR with
// errSTALLEDPKT, and CLRSTATUS recovers it.
func TestRefusedRequests(t *testing.T) {
	tests := []struct {
		name  string
		setup []device.SetupPacket
		p     device.SetupPacket
	}{
		{name: "empty download in idle", p: DnloadRequest(0, 0, 0)},
		{name: "clear without error", p: ClrStatusRequest(0)},
		{name: "oversized block", p: DnloadRequest(0, 0, 257)},
		{name: "upload while downloading", setup: []device.SetupPacket{DnloadRequest(0, 0, 4)}, p: UploadRequest(0, 0, 64)},
		{name: "unknown request", p: device.SetupPacket{RequestType: device.RequestTypeClass | device.RequestRecipientInterface, Request: 0x42}},
		{name: "status in wrong direction", p: device.SetupPacket{RequestType: device.RequestTypeClass | device.RequestRecipientInterface, Request: RequestGetStatus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDFU(Options{})
			for _, p := range tt.setup {
				if _, err := d.HandleSetup(p, make([]byte, p.Length)); err != nil {
					t.Fatalf("setup %s: %v", p.String(), err)
				}
			}
			if _, err := d.HandleSetup(tt.p, nil); !errors.Is(err, pkg.ErrInvalidRequest) {
				t.Fatalf("HandleSetup(%s) = %v, want ErrInvalidRequest", tt.p.String(), err)
			}
			if got := status(t, d); got.State != StateError || got.Status != StatusErrStalledPkt {
				t.Errorf("after refusal: %s/%s, want dfuERROR/errSTALLEDPKT", got.State, got.Status)
			}
			if _, err := d.HandleSetup(ClrStatusRequest(0), nil); err != nil {
				t.Fatalf("CLRSTATUS: %v", err)
			}
			if got := status(t, d); got.State != StateIdle || got.Status != StatusOK {
				t.Errorf("after CLRSTATUS: %s/%s, want dfuIDLE/OK", got.State, got.Status)
			}
		})
	}
}

func TestDownloadPastPartition(t *testing.T) {
	d := newTestDFU(Options{})
	if err := d.SetAlternate(1); err != nil {
		t.Fatal(err)
	}
	// Partition 1 holds two blocks.
	if _, err := d.HandleSetup(DnloadRequest(0, 2, 16), pattern(16, 0)); err != nil {
		t.Fatal(err)
	}
	got := status(t, d)
	want := StatusReply{Status: StatusErrAddress, State: StateError}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}
	if d.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", d.Stats().Errors)
	}
}

func TestAbort(t *testing.T) {
	tests := []struct {
		name    string
		setup   []device.SetupPacket
		wantErr bool
	}{
		{name: "idle"},
		{name: "download sync", setup: []device.SetupPacket{DnloadRequest(0, 0, 8)}},
		{name: "download idle", setup: []device.SetupPacket{DnloadRequest(0, 0, 8), GetStatusRequest(0), GetStatusRequest(0)}},
		{name: "error", setup: []device.SetupPacket{ClrStatusRequest(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDFU(Options{})
			for _, p := range tt.setup {
				d.HandleSetup(p, make([]byte, p.Length))
			}
			_, err := d.HandleSetup(AbortRequest(0), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ABORT error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d.State() != StateIdle {
				t.Errorf("state %s after ABORT, want dfuIDLE", d.State())
			}
		})
	}
}

func TestManifestWaitReset(t *testing.T) {
	d := newTestDFU(Options{Attributes: AttrCanDownload})
	for _, p := range []device.SetupPacket{DnloadRequest(0, 0, 8), GetStatusRequest(0), GetStatusRequest(0), DnloadRequest(0, 1, 0)} {
		if _, err := d.HandleSetup(p, make([]byte, p.Length)); err != nil {
			t.Fatalf("%s: %v", p.String(), err)
		}
	}
	if got := status(t, d); got.State != StateManifestWaitReset {
		t.Errorf("state %s, want dfuMANIFEST-WAIT-RESET", got.State)
	}
	if _, err := d.HandleSetup(UploadRequest(0, 0, 64), nil); err == nil {
		t.Error("upload allowed without AttrCanUpload")
	}
	d.Reset()
	if d.State() != StateIdle || d.Status() != StatusOK {
		t.Errorf("after Reset: %s/%s", d.State(), d.Status())
	}
}

func TestSetAlternate(t *testing.T) {
	d := newTestDFU(Options{})
	d.HandleSetup(DnloadRequest(0, 0, 8), make([]byte, 8))
	if err := d.SetAlternate(1); err != nil {
		t.Fatal(err)
	}
	if d.Alternate() != 1 || d.State() != StateIdle {
		t.Errorf("alt %d state %s, want 1 dfuIDLE", d.Alternate(), d.State())
	}
	if err := d.SetAlternate(2); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("SetAlternate(2) = %v", err)
	}
	d.Reset()
	if d.Alternate() != 0 {
		t.Errorf("Reset kept alternate %d", d.Alternate())
	}
}

func TestDetach(t *testing.T) {
	d := newTestDFU(Options{})
	detached := 0
	d.SetOnDetach(func() { detached++ })
	if _, err := d.HandleSetup(DetachRequest(0, 1000), nil); err != nil {
		t.Fatal(err)
	}
	if detached != 1 || d.State() != StateIdle {
		t.Errorf("detached %d state %s", detached, d.State())
	}
}

// The interfaces survive the configuration descriptor round trip with the
// functional descriptor attached to the last alternate setting.
func TestInterfacesDescriptor(t *testing.T) {
	d := newTestDFU(Options{})
	cfg := device.Configuration{Value: 1, Interfaces: d.Interfaces(0, 4)}
	buf := make([]byte, 128)
	n := cfg.MarshalTo(buf)
	if want := 9 + 2*9 + FunctionalDescriptorSize; n != want {
		t.Fatalf("MarshalTo = %d bytes, want %d", n, want)
	}
	if buf[4] != 1 {
		t.Errorf("bNumInterfaces = %d, want 1", buf[4])
	}

	var got device.Configuration
	if err := device.ParseConfiguration(buf[:n], &got); err != nil {
		t.Fatal(err)
	}
	cfg.Attributes = device.ConfigAttrBusPowered
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("configuration (-want +got):\n%s", diff)
	}
	want := []byte{9, DescriptorTypeFunctional, 0x0F, 0xE8, 0x03, 0x00, 0x01, 0x10, 0x01}
	if diff := cmp.Diff(want, got.Interfaces[1].Extra); diff != "" {
		t.Errorf("functional descriptor (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"main-gateware @0x100000", "main-firmware @0x400000"}, d.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
}

func TestNames(t *testing.T) {
	if got := StateDnloadIdle.String(); got != "dfuDNLOAD-IDLE" {
		t.Errorf("state name %q", got)
	}
	if got := StatusErrStalledPkt.String(); got != "errSTALLEDPKT" {
		t.Errorf("status name %q", got)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("unknown state %q", got)
	}
}
