package host

import (
	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/usb"
)

// Device is a device on the bus as the host sees it.
type Device struct {
	address    uint8
	generation uint64
	speed      device.Speed
	maxPacket0 int

	descriptor device.DeviceDescriptor
	config     device.Configuration
	configured uint8

	manufacturer string
	product      string
	serial       string

	// Data toggles, indexed [in][endpoint]; true is DATA1.
	toggles [2][usb.NumEndpoints]bool
}

func newDevice(address uint8, speed device.Speed, generation uint64) *Device {
	return &Device{address: address, speed: speed, maxPacket0: defaultMaxPacket0, generation: generation}
}

// Address returns the device address.
func (d *Device) Address() uint8 { return d.address }

// Speed returns the speed the device was enumerated at.
func (d *Device) Speed() device.Speed { return d.speed }

// MaxPacket0 returns the endpoint 0 packet size.
func (d *Device) MaxPacket0() int { return d.maxPacket0 }

// Descriptor returns the device descriptor.
func (d *Device) Descriptor() device.DeviceDescriptor { return d.descriptor }

// Config returns the configuration read during enumeration.
func (d *Device) Config() device.Configuration { return d.config }

// Configuration returns the configuration value the host selected, 0 if
// none.
func (d *Device) Configuration() uint8 { return d.configured }

// Manufacturer returns the manufacturer string, if the device has one.
func (d *Device) Manufacturer() string { return d.manufacturer }

// Product returns the product string, if the device has one.
func (d *Device) Product() string { return d.product }

// Serial returns the serial number string, if the device has one.
func (d *Device) Serial() string { return d.serial }

// Endpoint returns the descriptor of endpoint addr in the current
// configuration.
func (d *Device) Endpoint(addr uint8) (device.EndpointDescriptor, bool) {
	for _, in := range d.config.Interfaces {
		for _, ep := range in.Endpoints {
			if ep.Address == addr {
				return ep, true
			}
		}
	}
	return device.EndpointDescriptor{}, false
}

func (d *Device) maxPacket(addr uint8) int {
	if ep, ok := d.Endpoint(addr); ok && ep.MaxPacketSize > 0 {
		return int(ep.MaxPacketSize & 0x7FF)
	}
	return d.maxPacket0
}

func dir(addr uint8) int {
	if addr&device.EndpointDirIn != 0 {
		return 1
	}
	return 0
}

// Toggle returns the data toggle the next packet on addr will carry.
func (d *Device) Toggle(addr uint8) bool {
	return d.toggles[dir(addr)][addr&usb.MaxEndpoint]
}

func (d *Device) flip(addr uint8) {
	t := &d.toggles[dir(addr)][addr&usb.MaxEndpoint]
	*t = !*t
}

func (d *Device) resetToggle(addr uint8) {
	d.toggles[dir(addr)][addr&usb.MaxEndpoint] = false
}

func (d *Device) resetToggles() {
	d.toggles = [2][usb.NumEndpoints]bool{}
}
