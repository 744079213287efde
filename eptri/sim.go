package eptri

import (
	"fmt"

	"github.com/ardnew/eptri/cdc"
	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/phy"
	"github.com/ardnew/eptri/pkg"
)

// Line identifies one of the four interrupt lines.
type Line uint8

// Interrupt lines, in the order firmware services them.
const (
	LineController Line = iota
	LineSetup
	LineIn
	LineOut
	NumLines
)

// String returns the line name.
func (l Line) String() string {
	switch l {
	case LineController:
		return "controller"
	case LineSetup:
		return "setup"
	case LineIn:
		return "in"
	case LineOut:
		return "out"
	default:
		return fmt.Sprintf("Line(%d)", uint8(l))
	}
}

// Stats is a snapshot of simulator activity.
type Stats struct {
	SysCycles   uint64
	USBCycles   uint64
	BusReads    uint64
	BusWrites   uint64
	Decode      DecodeStats
	InOverflows uint64 // DATA writes into a full IN FIFO
	Link        LinkStats
}

// Sim is a controller instance attached to a simulated cable, with its two
// clock domains and the register bus. It is not safe for concurrent use;
// the simulation is single-threaded and deterministic.
type Sim struct {
	cfg   Config
	sched *cdc.Scheduler
	sys   *cdc.Domain
	usb   *cdc.Domain
	cable *phy.Cable

	x     *crossings
	eng   *engine
	ctrl  *Controller
	setup *SetupInterface
	in    *InInterface
	out   *OutInterface
	dec   *Decoder
	lines [NumLines]Peripheral

	handler   func()
	inHandler bool

	reads, writes uint64
}

// New creates a simulator. The cable starts unplugged and firmware has not
// connected.
func New(cfg Config) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sys, err := cdc.NewDomain("sys", cfg.SysClock)
	if err != nil {
		return nil, err
	}
	usbClk, err := cdc.NewDomain("usb", cfg.USBClock)
	if err != nil {
		return nil, err
	}

	s := &Sim{
		cfg:   cfg,
		sys:   sys,
		usb:   usbClk,
		cable: phy.NewCable(),
		dec:   NewDecoder(cfg.BaseAddress),
	}
	s.x = newCrossings(&s.cfg)
	s.eng = newEngine(&s.cfg, s.cable.Device(), s.x)
	s.ctrl = newController(s.x)
	s.ctrl.softReset = s.softReset
	s.setup = newSetupInterface(s.x, s.ctrl)
	s.in = newInInterface(s.x)
	s.out = newOutInterface(s.x)
	s.lines = [NumLines]Peripheral{s.ctrl, s.setup, s.in, s.out}

	for i, p := range s.lines {
		if err := s.dec.Map(uint32(i)*WindowSize, p); err != nil {
			return nil, err
		}
	}

	// Coincident edges deliver the USB domain first.
	s.sched = cdc.NewScheduler(usbClk, sys)
	usbClk.Attach(cdc.TickFunc(s.cable.Tick))
	usbClk.Attach(cdc.TickFunc(s.x.tickUSB))
	usbClk.Attach(s.eng)
	sys.Attach(cdc.TickFunc(s.x.tickSys))
	sys.Attach(cdc.TickFunc(s.tickSys))

	pkg.LogDebug(pkg.ComponentSim, "created",
		"base", fmt.Sprintf("0x%08X", cfg.BaseAddress),
		"sys", cfg.SysClock, "usb", cfg.USBClock, "stages", cfg.SyncStages)
	return s, nil
}

func (s *Sim) tickSys() {
	if s.ctrl.tick() {
		s.setup.ev.reset()
		s.in.ev.reset()
		s.out.ev.reset()
	}
	s.setup.tick()
	s.in.tick()
	s.out.tick()
}

// softReset clears both domains at once, as requested through the
// controller RESET register. No reset event is raised.
func (s *Sim) softReset() {
	pkg.LogDebug(pkg.ComponentController, "firmware reset")
	s.eng.clearAll()
	if s.eng.state != device.StateDetached {
		s.eng.setState(device.StatePowered)
	}
	s.ctrl.clear()
	s.setup.clear()
	for _, p := range []*EventBlock{&s.ctrl.ev, &s.setup.ev, &s.in.ev, &s.out.ev} {
		p.reset()
	}
	s.x.evReset.Drop()
	s.x.evSpeed.Drop()
}

// Config returns the configuration the simulator was built with.
func (s *Sim) Config() Config { return s.cfg }

// Step delivers one clock edge. After a system clock edge the interrupt
// handler runs if any line is asserted and it is not already running.
func (s *Sim) Step() {
	d := s.sched.Step()
	if d != s.sys || s.handler == nil || s.inHandler || s.IRQs() == 0 {
		return
	}
	s.inHandler = true
	defer func() { s.inHandler = false }()
	s.handler()
}

// RunUSB advances the simulation by n USB clocks.
func (s *Sim) RunUSB(n int) {
	target := s.usb.Ticks() + uint64(n)
	for s.usb.Ticks() < target {
		s.Step()
	}
}

// RunSys advances the simulation by n system clocks.
func (s *Sim) RunSys(n int) {
	target := s.sys.Ticks() + uint64(n)
	for s.sys.Ticks() < target {
		s.Step()
	}
}

// Read performs a register read on the system bus. The access takes
// BusLatency system clocks.
func (s *Sim) Read(addr uint32) uint32 {
	s.reads++
	v := s.dec.Read(addr)
	s.RunSys(s.cfg.BusLatency)
	return v
}

// Write performs a register write on the system bus. The access takes
// BusLatency system clocks, plus any clocks spent waiting for room in the
// command queue to the USB domain.
func (s *Sim) Write(addr, v uint32) {
	for s.x.cmds.Full() {
		s.Step()
	}
	s.writes++
	s.dec.Write(addr, v)
	s.RunSys(s.cfg.BusLatency)
}

// IRQ reports whether line is asserted.
func (s *Sim) IRQ(l Line) bool {
	if l >= NumLines {
		return false
	}
	return s.lines[l].IRQ()
}

// IRQs returns the asserted lines as a bit mask indexed by Line.
func (s *Sim) IRQs() uint32 {
	var m uint32
	for i, p := range s.lines {
		if p.IRQ() {
			m |= 1 << i
		}
	}
	return m
}

// SetInterruptHandler installs the function run when an interrupt line is
// asserted. It may access registers; it is never re-entered.
func (s *Sim) SetInterruptHandler(f func()) { s.handler = f }

// Masked runs f with the interrupt handler held off, the way firmware
// touches driver state outside its handler. An interrupt raised meanwhile
// is taken at the first system clock edge after f returns.
func (s *Sim) Masked(f func()) {
	if s.inHandler {
		f()
		return
	}
	s.inHandler = true
	defer func() { s.inHandler = false }()
	f()
}

// Controller returns the device-controller register block.
func (s *Sim) Controller() *Controller { return s.ctrl }

// Setup returns the setup register block.
func (s *Sim) Setup() *SetupInterface { return s.setup }

// In returns the IN register block.
func (s *Sim) In() *InInterface { return s.in }

// Out returns the OUT register block.
func (s *Sim) Out() *OutInterface { return s.out }

// AddressMap lists every register in address order.
func (s *Sim) AddressMap() []MappedRegister { return s.dec.AddressMap() }

// Addr returns the bus address of a register given its window and offset.
func (s *Sim) Addr(window, offset uint32) uint32 {
	return s.cfg.BaseAddress + window + offset
}

// DeviceState returns the USB-domain device state without synchronization
// delay. It is an observation point for tests and tools, not a register.
func (s *Sim) DeviceState() device.State { return s.eng.state }

// DeviceAddress returns the address the engine currently answers to.
func (s *Sim) DeviceAddress() uint8 { return s.eng.address }

// Stats returns a snapshot of the counters.
func (s *Sim) Stats() Stats {
	return Stats{
		SysCycles:   s.sys.Ticks(),
		USBCycles:   s.usb.Ticks(),
		BusReads:    s.reads,
		BusWrites:   s.writes,
		Decode:      s.dec.Stats(),
		InOverflows: s.in.overflow,
		Link:        s.eng.stats,
	}
}

// HostPort returns the host side of the simulated cable, clocked by this
// simulator.
func (s *Sim) HostPort() *HostPort {
	return &HostPort{HostEnd: s.cable.Host(), sim: s}
}

// HostPort is the host end of the cable plus the means to let bus time pass.
type HostPort struct {
	*phy.HostEnd
	sim *Sim
}

// Wait advances the simulation by n USB clocks.
func (p *HostPort) Wait(n int) { p.sim.RunUSB(n) }
