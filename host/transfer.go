package host

import (
	"context"
	"fmt"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// ControlTransfer runs a control transfer on endpoint 0 of dev. For a
// request with a data stage, data must hold at least p.Length bytes; the
// first p.Length are sent (OUT) or filled (IN). It returns the number of
// data bytes moved.
func (h *Host) ControlTransfer(ctx context.Context, dev *Device, p device.SetupPacket, data []byte) (int, error) {
	n, err := h.control(ctx, dev, p, data)
	return n, h.record(err)
}

func (h *Host) control(ctx context.Context, dev *Device, p device.SetupPacket, data []byte) (int, error) {
	if err := h.check(dev); err != nil {
		return 0, err
	}
	if int(p.Length) > len(data) {
		return 0, fmt.Errorf("control data %d < wLength %d: %w", len(data), p.Length, pkg.ErrBufferTooSmall)
	}
	data = data[:p.Length]
	raw := p.Bytes()
	pkg.LogDebug(pkg.ComponentHost, "control", "address", dev.address, "setup", p.String())

	if err := h.retry(ctx, func() usb.Handshake { return h.Setup(dev.address, raw[:]) }); err != nil {
		return 0, fmt.Errorf("setup stage: %w", err)
	}

	n := 0
	var err error
	if p.IsIn() {
		n, err = h.controlIn(ctx, dev, data)
	} else {
		n, err = h.controlOut(ctx, dev, data)
	}
	if err != nil {
		return n, fmt.Errorf("data stage: %w", err)
	}

	// Status stage runs opposite to the data, always DATA1.
	if p.IsIn() && p.Length > 0 {
		err = h.retry(ctx, func() usb.Handshake { return h.Out(dev.address, 0, true, nil) })
	} else {
		err = h.retry(ctx, func() usb.Handshake {
			b, hs := h.In(dev.address, 0, true)
			if hs == usb.HandshakeACK && len(b) != 0 {
				return usb.HandshakeTimeout
			}
			return hs
		})
	}
	if err != nil {
		return n, fmt.Errorf("status stage: %w", err)
	}
	return n, nil
}

func (h *Host) controlIn(ctx context.Context, dev *Device, data []byte) (int, error) {
	toggle, off := true, 0
	for off < len(data) {
		var pkt []byte
		err := h.retry(ctx, func() usb.Handshake {
			var hs usb.Handshake
			pkt, hs = h.In(dev.address, 0, toggle)
			return hs
		})
		if err != nil {
			return off, err
		}
		toggle = !toggle
		off += copy(data[off:], pkt)
		if len(pkt) < dev.maxPacket0 {
			break
		}
	}
	return off, nil
}

func (h *Host) controlOut(ctx context.Context, dev *Device, data []byte) (int, error) {
	toggle, off := true, 0
	for off < len(data) {
		pkt := data[off:min(off+dev.maxPacket0, len(data))]
		if err := h.retry(ctx, func() usb.Handshake { return h.Out(dev.address, 0, toggle, pkt) }); err != nil {
			return off, err
		}
		toggle = !toggle
		off += len(pkt)
	}
	return off, nil
}

// BulkIn reads from IN endpoint ep until buf is full or the device ends the
// transfer with a short packet.
func (h *Host) BulkIn(ctx context.Context, dev *Device, ep uint8, buf []byte) (int, error) {
	n, err := h.bulkIn(ctx, dev, ep|device.EndpointDirIn, buf)
	return n, h.record(err)
}

// usable reports whether dev may run bulk transfers on ep.
func (h *Host) usable(dev *Device, ep uint8) error {
	if err := h.check(dev); err != nil {
		return err
	}
	if dev.configured == 0 {
		return fmt.Errorf("device %d not configured: %w", dev.address, pkg.ErrInvalidState)
	}
	if _, ok := dev.Endpoint(ep); !ok {
		return fmt.Errorf("endpoint 0x%02X: %w", ep, pkg.ErrInvalidEndpoint)
	}
	return nil
}

func (h *Host) bulkIn(ctx context.Context, dev *Device, ep uint8, buf []byte) (int, error) {
	if err := h.usable(dev, ep); err != nil {
		return 0, err
	}
	mps := dev.maxPacket(ep)
	off := 0
	for off < len(buf) {
		var pkt []byte
		err := h.retry(ctx, func() usb.Handshake {
			var hs usb.Handshake
			pkt, hs = h.In(dev.address, ep, dev.Toggle(ep))
			return hs
		})
		if err != nil {
			return off, fmt.Errorf("bulk IN 0x%02X: %w", ep, err)
		}
		dev.flip(ep)
		n := copy(buf[off:], pkt)
		off += n
		if n < len(pkt) {
			return off, fmt.Errorf("bulk IN 0x%02X: %w", ep, pkg.ErrOverrun)
		}
		if len(pkt) < mps {
			break
		}
	}
	return off, nil
}

// BulkOut writes data to OUT endpoint ep in max-packet pieces. An empty
// data sends one zero-length packet.
func (h *Host) BulkOut(ctx context.Context, dev *Device, ep uint8, data []byte) (int, error) {
	n, err := h.bulkOut(ctx, dev, ep&^device.EndpointDirIn, data)
	return n, h.record(err)
}

func (h *Host) bulkOut(ctx context.Context, dev *Device, ep uint8, data []byte) (int, error) {
	if err := h.usable(dev, ep); err != nil {
		return 0, err
	}
	mps := dev.maxPacket(ep)
	off := 0
	for {
		pkt := data[off:min(off+mps, len(data))]
		err := h.retry(ctx, func() usb.Handshake { return h.Out(dev.address, ep, dev.Toggle(ep), pkt) })
		if err != nil {
			return off, fmt.Errorf("bulk OUT 0x%02X: %w", ep, err)
		}
		dev.flip(ep)
		off += len(pkt)
		if off >= len(data) {
			return off, nil
		}
	}
}

// GetDescriptor reads descriptor descType/index into buf.
func (h *Host) GetDescriptor(ctx context.Context, dev *Device, descType, index uint8, buf []byte) (int, error) {
	return h.ControlTransfer(ctx, dev, device.GetDescriptorRequest(descType, index, uint16(len(buf))), buf)
}

// GetString reads string descriptor index in US English.
func (h *Host) GetString(ctx context.Context, dev *Device, index uint8) (string, error) {
	var buf [255]byte
	n, err := h.ControlTransfer(ctx, dev, device.GetStringRequest(index, device.LangIDUSEnglish, uint16(len(buf))), buf[:])
	if err != nil {
		return "", err
	}
	return device.ParseString(buf[:n])
}

// SetConfiguration selects configuration value on dev. Every data toggle
// except endpoint 0's restarts at DATA0.
func (h *Host) SetConfiguration(ctx context.Context, dev *Device, value uint8) error {
	if _, err := h.ControlTransfer(ctx, dev, device.SetConfigurationRequest(value), nil); err != nil {
		return err
	}
	dev.configured = value
	dev.resetToggles()
	pkg.LogDebug(pkg.ComponentHost, "configured", "address", dev.address, "value", value)
	return nil
}

// GetStatus returns the status word of the device, interface or endpoint
// named by recipient and index.
func (h *Host) GetStatus(ctx context.Context, dev *Device, recipient uint8, index uint16) (uint16, error) {
	var buf [2]byte
	n, err := h.ControlTransfer(ctx, dev, device.GetStatusRequest(recipient, index), buf[:])
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("status %d bytes: %w", n, pkg.ErrProtocol)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// ClearHalt clears the halt feature of endpoint ep and restarts its toggle.
func (h *Host) ClearHalt(ctx context.Context, dev *Device, ep uint8) error {
	p := device.ClearFeatureRequest(device.RequestRecipientEndpoint, device.FeatureEndpointHalt, uint16(ep))
	if _, err := h.ControlTransfer(ctx, dev, p, nil); err != nil {
		return err
	}
	dev.resetToggle(ep)
	return nil
}
