package driver

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/pkg"
)

// maxControlData bounds the data stage of a control transfer.
const maxControlData = 512

// VendorFunc answers a class or vendor control request. For requests with
// an OUT data stage, data holds the received bytes. The returned slice is
// the IN data stage. Returning an error stalls the request.
type VendorFunc func(p device.SetupPacket, data []byte) ([]byte, error)

// Class is a function bound to one interface. It receives the class
// requests addressed to that interface.
type Class interface {
	// HandleSetup answers a class request like a VendorFunc.
	HandleSetup(p device.SetupPacket, data []byte) ([]byte, error)
	// SetAlternate selects an alternate setting the configuration declares.
	SetAlternate(alt uint8) error
	// Reset returns the function to its power-on state on bus reset and
	// on SET_CONFIGURATION.
	Reset()
}

// Stack is a device that answers the standard requests from its descriptors
// on top of a Driver. It implements Handler.
type Stack struct {
	drv *Driver

	Device  device.DeviceDescriptor
	Config  device.Configuration
	Strings []string // string descriptor i+1

	// Vendor handles non-standard requests; nil stalls them.
	Vendor VendorFunc
	// OnConfigured runs after SET_CONFIGURATION with the new value.
	OnConfigured func(value uint8)
	// OnTransfer receives completions of transfers on endpoints other
	// than 0.
	OnTransfer func(ep uint8, n int)

	speed        device.Speed
	configValue  uint8
	remoteWakeup bool
	halted       map[uint8]bool
	classes      map[uint8]Class
	alt          map[uint8]uint8

	ctrl     device.SetupPacket
	ctrlOut  bool // OUT data stage in progress
	zlp      bool // IN data stage owes a zero-length packet
	ctrlBuf  [maxControlData]byte
	resp     [maxControlData]byte
	requests uint64
	stalls   uint64
}

// NewStack creates a stack on drv and installs itself as its handler.
func NewStack(drv *Driver, dev device.DeviceDescriptor, cfg device.Configuration, strings ...string) *Stack {
	s := &Stack{
		drv:     drv,
		Device:  dev,
		Config:  cfg,
		Strings: strings,
		speed:   device.SpeedUnknown,
		halted:  map[uint8]bool{},
		classes: map[uint8]Class{},
		alt:     map[uint8]uint8{},
	}
	drv.SetHandler(s)
	return s
}

// Attach binds c to interface number iface. Class requests to that
// interface go to c instead of Vendor.
func (s *Stack) Attach(iface uint8, c Class) {
	s.classes[iface] = c
}

// Alternate returns the selected alternate setting of interface iface.
func (s *Stack) Alternate(iface uint8) uint8 { return s.alt[iface] }

// Configuration returns the active configuration value, 0 if none.
func (s *Stack) Configuration() uint8 { return s.configValue }

// Speed returns the speed reported at the last bus reset.
func (s *Stack) Speed() device.Speed { return s.speed }

// Requests returns the number of SETUP packets handled and how many of them
// were stalled.
func (s *Stack) Requests() (handled, stalled uint64) { return s.requests, s.stalls }

// BusReset implements Handler.
func (s *Stack) BusReset(speed device.Speed) {
	s.speed = speed
	s.configValue = 0
	s.remoteWakeup = false
	clear(s.halted)
	s.ctrlOut = false
	s.resetClasses()
}

func (s *Stack) resetClasses() {
	clear(s.alt)
	for _, c := range s.classes {
		c.Reset()
	}
}

// Setup implements Handler.
func (s *Stack) Setup(p device.SetupPacket) {
	s.requests++
	s.ctrl = p
	s.ctrlOut = false
	s.zlp = false

	if !p.IsIn() && p.Length > 0 {
		if int(p.Length) > len(s.ctrlBuf) || p.Type() == device.RequestTypeStandard {
			s.stall(p, pkg.ErrNotSupported)
			return
		}
		// Receive the data stage first; the request runs on completion.
		s.ctrlOut = true
		if err := s.drv.Transfer(0, s.ctrlBuf[:p.Length]); err != nil {
			s.stall(p, err)
		}
		return
	}

	var (
		resp []byte
		err  error
	)
	if p.Type() == device.RequestTypeStandard {
		resp, err = s.standard(&p)
	} else {
		resp, err = s.request(p, nil)
	}
	if err != nil {
		s.stall(p, err)
		return
	}
	if p.Request == device.RequestSetAddress && p.Type() == device.RequestTypeStandard {
		return // status stage sent by SetAddress
	}
	s.reply(p, resp)
}

// reply runs the data and status stages of a request with no OUT data.
func (s *Stack) reply(p device.SetupPacket, resp []byte) {
	if !p.IsIn() {
		if err := s.drv.Transfer(device.EndpointDirIn, nil); err != nil {
			s.stall(p, err)
		}
		return
	}
	if len(resp) > int(p.Length) {
		resp = resp[:p.Length]
	}
	// A reply shorter than asked for that ends on a packet boundary is
	// terminated by a zero-length packet.
	s.zlp = len(resp) < int(p.Length) && len(resp) > 0 && len(resp)%maxPacketSize == 0
	if err := s.drv.Transfer(device.EndpointDirIn, resp); err != nil {
		s.stall(p, err)
		return
	}
	// Status stage: zero-length OUT from the host.
	if err := s.drv.Transfer(0, nil); err != nil {
		s.stall(p, err)
	}
}

func (s *Stack) stall(p device.SetupPacket, err error) {
	s.stalls++
	pkg.LogDebug(pkg.ComponentDriver, "request stalled", "packet", p.String(), "error", err)
	s.drv.Stall(0)
}

// request routes a non-standard request to the class bound to its
// interface, or to Vendor.
func (s *Stack) request(p device.SetupPacket, data []byte) ([]byte, error) {
	if p.Type() == device.RequestTypeClass && p.Recipient() == device.RequestRecipientInterface {
		if c, ok := s.classes[uint8(p.Index)]; ok && p.Index <= 0xFF {
			if s.configValue == 0 {
				return nil, fmt.Errorf("interface %d unconfigured: %w", p.Index, pkg.ErrInvalidState)
			}
			return c.HandleSetup(p, data)
		}
	}
	if s.Vendor == nil {
		return nil, pkg.ErrInvalidRequest
	}
	return s.Vendor(p, data)
}

// TransferComplete implements Handler.
func (s *Stack) TransferComplete(ep uint8, n int) {
	if ep&^device.EndpointDirIn != 0 {
		if s.OnTransfer != nil {
			s.OnTransfer(ep, n)
		}
		return
	}
	if ep == device.EndpointDirIn && s.zlp {
		s.zlp = false
		if err := s.drv.Transfer(device.EndpointDirIn, nil); err != nil {
			s.stall(s.ctrl, err)
		}
		return
	}
	if ep == 0 && s.ctrlOut {
		s.ctrlOut = false
		p := s.ctrl
		if _, err := s.request(p, s.ctrlBuf[:n]); err != nil {
			s.stall(p, err)
			return
		}
		if err := s.drv.Transfer(device.EndpointDirIn, nil); err != nil {
			s.stall(p, err)
		}
	}
}

func (s *Stack) standard(p *device.SetupPacket) ([]byte, error) {
	switch p.Recipient() {
	case device.RequestRecipientDevice:
		return s.deviceRequest(p)
	case device.RequestRecipientInterface:
		return s.interfaceRequest(p)
	case device.RequestRecipientEndpoint:
		return s.endpointRequest(p)
	}
	return nil, pkg.ErrInvalidRequest
}

func (s *Stack) deviceRequest(p *device.SetupPacket) ([]byte, error) {
	switch p.Request {
	case device.RequestGetStatus:
		var st uint16
		if s.Config.Attributes&device.ConfigAttrSelfPowered != 0 {
			st |= 1
		}
		if s.remoteWakeup {
			st |= 2
		}
		binary.LittleEndian.PutUint16(s.resp[:], st)
		return s.resp[:2], nil
	case device.RequestClearFeature, device.RequestSetFeature:
		if p.Value != device.FeatureDeviceRemoteWakeup {
			return nil, pkg.ErrInvalidRequest
		}
		s.remoteWakeup = p.Request == device.RequestSetFeature
		return nil, nil
	case device.RequestSetAddress:
		if p.Value > 127 || p.Index != 0 || p.Length != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		return nil, s.drv.SetAddress(uint8(p.Value))
	case device.RequestGetDescriptor:
		return s.descriptor(p)
	case device.RequestGetConfiguration:
		s.resp[0] = s.configValue
		return s.resp[:1], nil
	case device.RequestSetConfiguration:
		return nil, s.setConfiguration(uint8(p.Value))
	}
	return nil, pkg.ErrInvalidRequest
}

func (s *Stack) descriptor(p *device.SetupPacket) ([]byte, error) {
	var n int
	switch idx := p.DescriptorIndex(); p.DescriptorType() {
	case device.DescriptorTypeDevice:
		n = s.Device.MarshalTo(s.resp[:])
	case device.DescriptorTypeConfiguration:
		if idx != 0 {
			return nil, fmt.Errorf("configuration %d: %w", idx, pkg.ErrInvalidRequest)
		}
		n = s.Config.MarshalTo(s.resp[:])
	case device.DescriptorTypeString:
		switch {
		case idx == 0:
			n = device.LanguageDescriptorTo(s.resp[:], device.LangIDUSEnglish)
		case int(idx) <= len(s.Strings):
			n = device.StringDescriptorTo(s.resp[:], s.Strings[idx-1])
		default:
			return nil, fmt.Errorf("string %d: %w", idx, pkg.ErrInvalidRequest)
		}
	default:
		// Full-speed only: no device qualifier.
		return nil, fmt.Errorf("descriptor type 0x%02X: %w", p.DescriptorType(), pkg.ErrNotSupported)
	}
	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	return s.resp[:n], nil
}

func (s *Stack) setConfiguration(v uint8) error {
	switch v {
	case 0:
		s.closeEndpoints()
		s.configValue = 0
		s.drv.SetConfigured(false)
	case s.Config.Value:
		s.closeEndpoints()
		for _, in := range s.Config.Interfaces {
			for _, ep := range in.Endpoints {
				if err := s.drv.OpenEndpoint(ep); err != nil {
					return err
				}
			}
		}
		s.configValue = v
		s.drv.SetConfigured(true)
	default:
		return fmt.Errorf("configuration %d: %w", v, pkg.ErrInvalidRequest)
	}
	clear(s.halted)
	s.resetClasses()
	pkg.LogDebug(pkg.ComponentDriver, "configuration", "value", v)
	if s.OnConfigured != nil {
		s.OnConfigured(v)
	}
	return nil
}

func (s *Stack) closeEndpoints() {
	if s.configValue == 0 {
		return
	}
	for _, in := range s.Config.Interfaces {
		for _, ep := range in.Endpoints {
			s.drv.CloseEndpoint(ep.Address)
		}
	}
}

func (s *Stack) findInterface(n uint16) bool {
	if s.configValue == 0 {
		return false
	}
	for _, in := range s.Config.Interfaces {
		if uint16(in.Number) == n {
			return true
		}
	}
	return false
}

func (s *Stack) interfaceRequest(p *device.SetupPacket) ([]byte, error) {
	if !s.findInterface(p.Index) {
		return nil, fmt.Errorf("interface %d: %w", p.Index, pkg.ErrInvalidRequest)
	}
	switch p.Request {
	case device.RequestGetStatus:
		s.resp[0], s.resp[1] = 0, 0
		return s.resp[:2], nil
	case device.RequestGetInterface:
		s.resp[0] = s.alt[uint8(p.Index)]
		return s.resp[:1], nil
	case device.RequestSetInterface:
		return nil, s.setInterface(uint8(p.Index), p.Value)
	}
	return nil, pkg.ErrInvalidRequest
}

func (s *Stack) setInterface(n uint8, v uint16) error {
	found := false
	for _, in := range s.Config.Interfaces {
		if in.Number == n && uint16(in.AlternateSetting) == v {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("interface %d alternate setting %d: %w", n, v, pkg.ErrNotSupported)
	}
	if c, ok := s.classes[n]; ok {
		if err := c.SetAlternate(uint8(v)); err != nil {
			return err
		}
	}
	s.alt[n] = uint8(v)
	pkg.LogDebug(pkg.ComponentDriver, "alternate setting", "interface", n, "alt", v)
	return nil
}

func (s *Stack) findEndpoint(addr uint8) bool {
	if addr&^device.EndpointDirIn == 0 {
		return true
	}
	if s.configValue == 0 {
		return false
	}
	for _, in := range s.Config.Interfaces {
		for _, ep := range in.Endpoints {
			if ep.Address == addr {
				return true
			}
		}
	}
	return false
}

func (s *Stack) endpointRequest(p *device.SetupPacket) ([]byte, error) {
	addr := uint8(p.Index)
	if p.Index > 0xFF || !s.findEndpoint(addr) {
		return nil, fmt.Errorf("endpoint 0x%02X: %w", p.Index, pkg.ErrInvalidEndpoint)
	}
	switch p.Request {
	case device.RequestGetStatus:
		var st uint16
		if s.halted[addr] {
			st = 1
		}
		binary.LittleEndian.PutUint16(s.resp[:], st)
		return s.resp[:2], nil
	case device.RequestSetFeature, device.RequestClearFeature:
		if p.Value != device.FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		if addr&^device.EndpointDirIn == 0 {
			return nil, nil
		}
		if p.Request == device.RequestSetFeature {
			s.halted[addr] = true
			return nil, s.drv.Stall(addr)
		}
		delete(s.halted, addr)
		return nil, s.drv.ClearStall(addr)
	}
	return nil, pkg.ErrInvalidRequest
}
