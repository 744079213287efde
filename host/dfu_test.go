package host

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/device/class/dfu"
	"github.com/ardnew/eptri/pkg"
)

// newDFURig is a rig whose only interface is a two-partition DFU function.
func newDFURig(t *testing.T) (*rig, *dfu.DFU) {
	t.Helper()
	fw := dfu.New(dfu.Options{},
		dfu.NewPartition("main-gateware @0x100000", 2048, 1),
		dfu.NewPartition("main-firmware @0x400000", 1024, 100))
	cfg := device.Configuration{Value: 1, MaxPower: 50, Interfaces: fw.Interfaces(0, 4)}
	r := newRigWith(t, cfg, append([]string{"eptri", "dfu", "0001"}, fw.Names()...)...)
	r.stack.Attach(0, fw)
	return r, fw
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestDFUDownloadUpload(t *testing.T) {
	r, fw := newDFURig(t)
	var manifested []byte
	fw.SetOnManifest(func(alt uint8, image []byte) { manifested = image })
	dev := r.enumerate(t)
	ctx := context.Background()

	if got := len(dev.Config().Interfaces); got != 2 {
		t.Fatalf("enumerated %d interface descriptors, want 2", got)
	}
	if size, err := DFUTransferSize(dev, 0); err != nil || size != 256 {
		t.Fatalf("DFUTransferSize = %d, %v; want 256", size, err)
	}
	if name, err := r.host.GetString(ctx, dev, dev.Config().Interfaces[1].StringIndex); err != nil || name != "main-firmware @0x400000" {
		t.Errorf("alternate 1 name = %q, %v", name, err)
	}

	if err := r.host.SetInterface(ctx, dev, 0, 1); err != nil {
		t.Fatal(err)
	}
	if alt, err := r.host.GetInterface(ctx, dev, 0); err != nil || alt != 1 {
		t.Fatalf("GetInterface = %d, %v; want 1", alt, err)
	}
	if r.stack.Alternate(0) != 1 || fw.Alternate() != 1 {
		t.Fatalf("device alternate stack=%d dfu=%d, want 1", r.stack.Alternate(0), fw.Alternate())
	}

	image := pattern(700, 0x21)
	if err := r.host.DFUDownload(ctx, dev, 0, image); err != nil {
		t.Fatalf("DFUDownload: %v", err)
	}
	if diff := cmp.Diff(image, fw.Partition(1).Image()); diff != "" {
		t.Errorf("flashed image (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(image, manifested); diff != "" {
		t.Errorf("manifested image (-want +got):\n%s", diff)
	}
	if got := fw.Partition(0).Image(); len(got) != 0 {
		t.Errorf("partition 0 holds %d bytes", len(got))
	}

	buf := make([]byte, 1024)
	n, err := r.host.DFUUpload(ctx, dev, 0, buf)
	if err != nil {
		t.Fatalf("DFUUpload: %v", err)
	}
	if diff := cmp.Diff(image, buf[:n]); diff != "" {
		t.Errorf("uploaded image (-want +got):\n%s", diff)
	}
	if fw.State() != dfu.StateIdle {
		t.Errorf("state %s after upload, want dfuIDLE", fw.State())
	}
	want := dfu.Stats{BlocksWritten: 3, BlocksRead: 3, Manifests: 1}
	if diff := cmp.Diff(want, fw.Stats()); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
}

// An upload that fills the caller's buffer aborts the rest.
func TestDFUUploadTruncated(t *testing.T) {
	r, fw := newDFURig(t)
	image := pattern(600, 0x05)
	if err := fw.Partition(0).Load(image); err != nil {
		t.Fatal(err)
	}
	dev := r.enumerate(t)

	buf := make([]byte, 300)
	n, err := r.host.DFUUpload(context.Background(), dev, 0, buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(image[:300], buf[:n]); diff != "" {
		t.Errorf("uploaded prefix (-want +got):\n%s", diff)
	}
	if fw.State() != dfu.StateIdle {
		t.Errorf("state %s, want dfuIDLE", fw.State())
	}
}

func TestDFUErrors(t *testing.T) {
	r, fw := newDFURig(t)
	dev := r.enumerate(t)
	ctx := context.Background()

	if err := r.host.SetInterface(ctx, dev, 0, 2); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SetInterface(alt 2) = %v, want stall", err)
	}

	// Alternate 1 holds four blocks.
	if err := r.host.SetInterface(ctx, dev, 0, 1); err != nil {
		t.Fatal(err)
	}
	err := r.host.DFUDownload(ctx, dev, 0, pattern(1300, 0))
	if !errors.Is(err, pkg.ErrProtocol) {
		t.Fatalf("oversized DFUDownload = %v, want ErrProtocol", err)
	}
	st, err := r.host.DFUStatus(ctx, dev, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(dfu.StatusReply{Status: dfu.StatusErrAddress, State: dfu.StateError}, st); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}

	// dfuERROR refuses everything but GETSTATUS, GETSTATE and CLRSTATUS.
	if err := r.host.DFUAbort(ctx, dev, 0); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("DFUAbort in dfuERROR = %v, want stall", err)
	}
	if err := r.host.DFUClearStatus(ctx, dev, 0); err != nil {
		t.Fatal(err)
	}
	if st, err := r.host.DFUStatus(ctx, dev, 0); err != nil || st.State != dfu.StateIdle || st.Status != dfu.StatusOK {
		t.Errorf("after CLRSTATUS: %+v, %v", st, err)
	}

	// A bus reset puts the function back on alternate 0.
	dev = r.enumerate(t)
	if fw.Alternate() != 0 || r.stack.Alternate(0) != 0 {
		t.Errorf("alternate after reset dfu=%d stack=%d, want 0", fw.Alternate(), r.stack.Alternate(0))
	}
	if alt, err := r.host.GetInterface(ctx, dev, 0); err != nil || alt != 0 {
		t.Errorf("GetInterface after reset = %d, %v", alt, err)
	}
}

func TestDFUTransferSizeMissing(t *testing.T) {
	r := newRig(t)
	dev := r.enumerate(t)
	if _, err := DFUTransferSize(dev, 0); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("DFUTransferSize on a vendor interface = %v", err)
	}
	if err := r.host.DFUDownload(context.Background(), dev, 0, []byte{1}); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("DFUDownload on a vendor interface = %v", err)
	}
}
