package eptri

import (
	"errors"
	"testing"

	"github.com/ardnew/eptri/pkg"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"unaligned base", func(c *Config) { c.BaseAddress = 0xE000_1000 }, false},
		{"base at top", func(c *Config) { c.BaseAddress = 0xFFFF_0000 }, true},
		{"zero sys clock", func(c *Config) { c.SysClock = 0 }, false},
		{"zero usb clock", func(c *Config) { c.USBClock = 0 }, false},
		{"one stage", func(c *Config) { c.SyncStages = 1 }, false},
		{"deep sync", func(c *Config) { c.SyncStages = 5 }, true},
		{"zero latency", func(c *Config) { c.BusLatency = 0 }, false},
		{"empty IN FIFO", func(c *Config) { c.InFIFODepth = 0 }, false},
		{"huge OUT FIFO", func(c *Config) { c.OutFIFODepth = 4096 }, false},
		{"no commands", func(c *Config) { c.CommandDepth = 0 }, false},
		{"no timeout", func(c *Config) { c.HandshakeTimeout = 0 }, false},
		{"no reset detect", func(c *Config) { c.ResetDetectTicks = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, pkg.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if _, err := New(cfg); (err == nil) != tt.ok {
				t.Errorf("New() error = %v", err)
			}
		})
	}
}

func TestSyncStagesSetDelay(t *testing.T) {
	for _, stages := range []int{2, 3, 5} {
		cfg := DefaultConfig()
		cfg.SyncStages = stages
		cfg.BusLatency = 1
		s, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		s.HostPort().Plug()
		s.Write(s.Addr(ControllerWindow, RegControllerConnect), 1)

		// The command needs stages USB clocks to arrive and the status
		// another stages system clocks to come back.
		var n int
		for n = 1; n < 100; n++ {
			if s.Read(s.Addr(ControllerWindow, RegControllerStatus))&StatusConnected != 0 {
				break
			}
		}
		if n < stages {
			t.Errorf("stages=%d: connected after %d reads, want at least %d", stages, n, stages)
		}
		if n == 100 {
			t.Errorf("stages=%d: never connected", stages)
		}
	}
}
