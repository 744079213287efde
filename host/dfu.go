package host

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/device/class/dfu"
	"github.com/ardnew/eptri/pkg"
)

// maxDFUPolls bounds the GETSTATUS requests spent waiting out one
// synchronous state.
const maxDFUPolls = 16

// SetInterface selects alternate setting alt of interface iface.
func (h *Host) SetInterface(ctx context.Context, dev *Device, iface, alt uint8) error {
	_, err := h.ControlTransfer(ctx, dev, device.SetInterfaceRequest(iface, alt), nil)
	return err
}

// GetInterface returns the alternate setting of interface iface.
func (h *Host) GetInterface(ctx context.Context, dev *Device, iface uint8) (uint8, error) {
	var buf [1]byte
	n, err := h.ControlTransfer(ctx, dev, device.GetInterfaceRequest(iface), buf[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("alternate setting %d bytes: %w", n, pkg.ErrProtocol)
	}
	return buf[0], nil
}

// DFUTransferSize returns wTransferSize from the functional descriptor of
// DFU interface iface.
func DFUTransferSize(dev *Device, iface uint8) (int, error) {
	for _, in := range dev.config.Interfaces {
		if in.Number != iface || in.Class != device.ClassApplicationSpecific || in.SubClass != dfu.SubClassDFU {
			continue
		}
		for b := in.Extra; len(b) >= 2 && int(b[0]) <= len(b); b = b[b[0]:] {
			if b[0] >= dfu.FunctionalDescriptorSize && b[1] == dfu.DescriptorTypeFunctional {
				return int(binary.LittleEndian.Uint16(b[5:])), nil
			}
			if b[0] < 2 {
				break
			}
		}
	}
	return 0, fmt.Errorf("interface %d has no DFU functional descriptor: %w", iface, pkg.ErrNotSupported)
}

// DFUStatus runs DFU_GETSTATUS on interface iface.
func (h *Host) DFUStatus(ctx context.Context, dev *Device, iface uint8) (dfu.StatusReply, error) {
	var buf [dfu.StatusSize]byte
	n, err := h.ControlTransfer(ctx, dev, dfu.GetStatusRequest(iface), buf[:])
	if err != nil {
		return dfu.StatusReply{}, err
	}
	st, ok := dfu.ParseStatus(buf[:n])
	if !ok {
		return st, fmt.Errorf("DFU status %d bytes: %w", n, pkg.ErrProtocol)
	}
	return st, nil
}

// DFUClearStatus leaves dfuERROR.
func (h *Host) DFUClearStatus(ctx context.Context, dev *Device, iface uint8) error {
	_, err := h.ControlTransfer(ctx, dev, dfu.ClrStatusRequest(iface), nil)
	return err
}

// DFUAbort returns the interface to dfuIDLE.
func (h *Host) DFUAbort(ctx context.Context, dev *Device, iface uint8) error {
	_, err := h.ControlTransfer(ctx, dev, dfu.AbortRequest(iface), nil)
	return err
}

// pollDFU runs DFU_GETSTATUS until the interface reaches want. The poll
// timeout the device reports is logged, not waited out: the simulated
// flash finishes a block before it answers.
func (h *Host) pollDFU(ctx context.Context, dev *Device, iface uint8, want dfu.State) error {
	for range maxDFUPolls {
		st, err := h.DFUStatus(ctx, dev, iface)
		if err != nil {
			return err
		}
		switch st.State {
		case want:
			return nil
		case dfu.StateError:
			return fmt.Errorf("DFU %s: %w", st.Status, pkg.ErrProtocol)
		}
		pkg.LogDebug(pkg.ComponentHost, "DFU busy", "state", st.State.String(), "poll_ms", st.PollTimeout)
		h.port.Wait(h.opts.RetryTicks)
	}
	return fmt.Errorf("DFU never reached %s: %w", want, pkg.ErrTimeout)
}

// DFUDownload writes image through DFU interface iface in blocks of the
// interface's transfer size, then manifests it.
func (h *Host) DFUDownload(ctx context.Context, dev *Device, iface uint8, image []byte) error {
	size, err := DFUTransferSize(dev, iface)
	if err != nil {
		return err
	}
	block := uint16(0)
	for off := 0; off < len(image); off += size {
		chunk := image[off:min(off+size, len(image))]
		if _, err := h.ControlTransfer(ctx, dev, dfu.DnloadRequest(iface, block, uint16(len(chunk))), chunk); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		if err := h.pollDFU(ctx, dev, iface, dfu.StateDnloadIdle); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		block++
	}
	if _, err := h.ControlTransfer(ctx, dev, dfu.DnloadRequest(iface, block, 0), nil); err != nil {
		return fmt.Errorf("end of download: %w", err)
	}
	if err := h.pollDFU(ctx, dev, iface, dfu.StateIdle); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	pkg.LogDebug(pkg.ComponentHost, "DFU download", "address", dev.address, "bytes", len(image), "blocks", block)
	return nil
}

// DFUUpload reads the image behind DFU interface iface into buf until the
// device sends a short block or buf is full.
func (h *Host) DFUUpload(ctx context.Context, dev *Device, iface uint8, buf []byte) (int, error) {
	size, err := DFUTransferSize(dev, iface)
	if err != nil {
		return 0, err
	}
	off := 0
	for block := uint16(0); off < len(buf); block++ {
		chunk := buf[off:min(off+size, len(buf))]
		n, err := h.ControlTransfer(ctx, dev, dfu.UploadRequest(iface, block, uint16(len(chunk))), chunk)
		off += n
		if err != nil {
			return off, fmt.Errorf("block %d: %w", block, err)
		}
		if n < len(chunk) {
			return off, nil
		}
	}
	// A full buffer leaves the interface in dfuUPLOAD-IDLE.
	return off, h.DFUAbort(ctx, dev, iface)
}
