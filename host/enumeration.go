package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/pkg"
)

// Enumeration errors.
var (
	ErrEnumerationFailed = errors.New("enumeration failed")
	ErrNoAddress         = errors.New("no address available")
)

// Enumerate resets the bus and brings the attached device from the default
// address to its first configuration: it reads the first 8 bytes of the
// device descriptor for bMaxPacketSize0, assigns an address, reads the full
// device and configuration descriptors and the strings they name, and sets
// the configuration.
func (h *Host) Enumerate(ctx context.Context) (*Device, error) {
	if err := h.Reset(ctx); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentHost, "starting enumeration")

	dev := newDevice(0, device.SpeedFull, h.generation)

	var buf [MaxDescriptorSize]byte
	n, err := h.GetDescriptor(ctx, dev, device.DescriptorTypeDevice, 0, buf[:8])
	if err != nil {
		return nil, fmt.Errorf("%w: device descriptor: %w", ErrEnumerationFailed, err)
	}
	if n < 8 {
		return nil, fmt.Errorf("%w: device descriptor prefix %d bytes", ErrEnumerationFailed, n)
	}
	if mps := int(buf[7]); mps != 0 {
		dev.maxPacket0 = mps
	}
	pkg.LogDebug(pkg.ComponentHost, "got max packet size", "size", dev.maxPacket0)

	address := h.allocateAddress()
	if address == 0 {
		return nil, ErrNoAddress
	}
	if _, err := h.ControlTransfer(ctx, dev, device.SetAddressRequest(address), nil); err != nil {
		return nil, fmt.Errorf("%w: set address %d: %w", ErrEnumerationFailed, address, err)
	}
	dev.address = address
	h.port.Wait(h.opts.RecoveryTicks)
	pkg.LogDebug(pkg.ComponentHost, "assigned address", "address", address)

	n, err = h.GetDescriptor(ctx, dev, device.DescriptorTypeDevice, 0, buf[:device.DeviceDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("%w: device descriptor: %w", ErrEnumerationFailed, err)
	}
	if err := device.ParseDeviceDescriptor(buf[:n], &dev.descriptor); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}
	pkg.LogDebug(pkg.ComponentHost, "device descriptor",
		"vendorID", dev.descriptor.VendorID,
		"productID", dev.descriptor.ProductID,
		"class", dev.descriptor.DeviceClass)

	// Configuration header first for wTotalLength, then the whole tree.
	n, err = h.GetDescriptor(ctx, dev, device.DescriptorTypeConfiguration, 0, buf[:device.ConfigurationDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("%w: configuration header: %w", ErrEnumerationFailed, err)
	}
	if n < device.ConfigurationDescriptorSize {
		return nil, fmt.Errorf("%w: configuration header %d bytes", ErrEnumerationFailed, n)
	}
	total := min(int(buf[2])|int(buf[3])<<8, len(buf))
	n, err = h.GetDescriptor(ctx, dev, device.DescriptorTypeConfiguration, 0, buf[:total])
	if err != nil {
		return nil, fmt.Errorf("%w: configuration: %w", ErrEnumerationFailed, err)
	}
	if err := device.ParseConfiguration(buf[:n], &dev.config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}
	pkg.LogDebug(pkg.ComponentHost, "configuration descriptor",
		"numInterfaces", len(dev.config.Interfaces),
		"configValue", dev.config.Value)

	h.readStrings(ctx, dev)

	if dev.config.Value > 0 {
		if err := h.SetConfiguration(ctx, dev, dev.config.Value); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
		}
	}

	h.devices[address-1] = dev
	pkg.LogInfo(pkg.ComponentHost, "device enumerated",
		"address", dev.address,
		"vendor", dev.descriptor.VendorID,
		"product", dev.descriptor.ProductID)
	return dev, nil
}

// readStrings fetches the manufacturer, product and serial strings. A
// missing or stalled string is left empty.
func (h *Host) readStrings(ctx context.Context, dev *Device) {
	for _, s := range []struct {
		index uint8
		dst   *string
	}{
		{dev.descriptor.ManufacturerIndex, &dev.manufacturer},
		{dev.descriptor.ProductIndex, &dev.product},
		{dev.descriptor.SerialNumberIndex, &dev.serial},
	} {
		if s.index == 0 {
			continue
		}
		v, err := h.GetString(ctx, dev, s.index)
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "string descriptor read failed", "index", s.index, "error", err)
			continue
		}
		*s.dst = v
	}
}
