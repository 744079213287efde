package eptri

import (
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/eptri/cdc"
	"github.com/ardnew/eptri/pkg"
	"github.com/ardnew/eptri/usb"
)

// WindowSize is the size of each peripheral's register window.
const WindowSize = 0x1000

// Config holds the parameters of a simulated controller.
type Config struct {
	// BaseAddress is where the device-controller window starts. The setup, IN
	// and OUT windows follow at 4 KiB steps.
	BaseAddress uint32

	SysClock physic.Frequency
	USBClock physic.Frequency

	// SyncStages is the synchronizer depth of every clock-domain crossing.
	SyncStages int

	// BusLatency is the number of system clocks one register access takes.
	BusLatency int

	InFIFODepth  int
	OutFIFODepth int

	// CommandDepth bounds firmware commands in flight to the USB domain.
	CommandDepth int

	// HandshakeTimeout is how many USB clocks the engine waits for the data
	// or handshake packet that completes a transaction.
	HandshakeTimeout int

	// ResetDetectTicks is how many USB clocks of SE0 make a bus reset.
	ResetDetectTicks int
}

// DefaultConfig returns the configuration used by the simulator when no
// flags are given.
func DefaultConfig() Config {
	return Config{
		BaseAddress:      0xE000_0000,
		SysClock:         60 * physic.MegaHertz,
		USBClock:         60 * physic.MegaHertz,
		SyncStages:       2,
		BusLatency:       2,
		InFIFODepth:      64,
		OutFIFODepth:     64,
		CommandDepth:     16,
		HandshakeTimeout: 128,
		ResetDetectTicks: 150,
	}
}

// Validate reports the first out-of-range field.
func (c *Config) Validate() error {
	switch {
	case c.BaseAddress&0xFFFF != 0:
		return fmt.Errorf("base address 0x%08X not 64 KiB aligned: %w", c.BaseAddress, pkg.ErrInvalidConfig)
	case uint64(c.BaseAddress)+4*WindowSize > 1<<32:
		return fmt.Errorf("base address 0x%08X leaves no room for windows: %w", c.BaseAddress, pkg.ErrInvalidConfig)
	case c.SysClock <= 0 || c.USBClock <= 0:
		return fmt.Errorf("clock rates %s/%s: %w", c.SysClock, c.USBClock, pkg.ErrInvalidConfig)
	case c.SyncStages < cdc.MinStages:
		return fmt.Errorf("sync stages %d below %d: %w", c.SyncStages, cdc.MinStages, pkg.ErrInvalidConfig)
	case c.BusLatency < 1:
		return fmt.Errorf("bus latency %d: %w", c.BusLatency, pkg.ErrInvalidConfig)
	case c.InFIFODepth < 1 || c.InFIFODepth > usb.MaxDataPayload:
		return fmt.Errorf("IN FIFO depth %d: %w", c.InFIFODepth, pkg.ErrInvalidConfig)
	case c.OutFIFODepth < 1 || c.OutFIFODepth > usb.MaxDataPayload:
		return fmt.Errorf("OUT FIFO depth %d: %w", c.OutFIFODepth, pkg.ErrInvalidConfig)
	case c.CommandDepth < 1:
		return fmt.Errorf("command depth %d: %w", c.CommandDepth, pkg.ErrInvalidConfig)
	case c.HandshakeTimeout < 1:
		return fmt.Errorf("handshake timeout %d: %w", c.HandshakeTimeout, pkg.ErrInvalidConfig)
	case c.ResetDetectTicks < 1:
		return fmt.Errorf("reset detect ticks %d: %w", c.ResetDetectTicks, pkg.ErrInvalidConfig)
	}
	return nil
}
