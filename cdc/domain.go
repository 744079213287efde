package cdc

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/eptri/pkg"
)

// picosPerMicrohertz converts a physic.Frequency (µHz) to a period in ps.
const picosPerMicrohertz = int64(1e18)

// Ticker is a component clocked by a Domain.
type Ticker interface {
	Tick()
}

// TickFunc adapts a function to the Ticker interface.
type TickFunc func()

// Tick calls f.
func (f TickFunc) Tick() { f() }

// Domain is a clock domain.
type Domain struct {
	name    string
	freq    physic.Frequency
	period  int64 // ps
	next    int64 // ps, time of the next rising edge
	ticks   uint64
	tickers []Ticker
}

// NewDomain creates a clock domain running at freq.
func NewDomain(name string, freq physic.Frequency) (*Domain, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("domain %s frequency %s: %w", name, freq, pkg.ErrInvalidConfig)
	}
	period := picosPerMicrohertz / int64(freq)
	if period <= 0 {
		return nil, fmt.Errorf("domain %s frequency %s: %w", name, freq, pkg.ErrInvalidConfig)
	}
	return &Domain{name: name, freq: freq, period: period, next: period}, nil
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Frequency returns the domain clock rate.
func (d *Domain) Frequency() physic.Frequency { return d.freq }

// Period returns the clock period, truncated to nanoseconds.
func (d *Domain) Period() time.Duration {
	return time.Duration(d.period / 1000)
}

// Ticks returns the number of rising edges seen so far.
func (d *Domain) Ticks() uint64 { return d.ticks }

// Attach adds t to the components clocked by d.
func (d *Domain) Attach(t Ticker) {
	d.tickers = append(d.tickers, t)
}

// tick runs one rising edge.
func (d *Domain) tick() {
	d.ticks++
	for _, t := range d.tickers {
		t.Tick()
	}
	d.next += d.period
}

// Scheduler interleaves the rising edges of several domains.
type Scheduler struct {
	domains []*Domain
	now     int64 // ps
}

// NewScheduler creates a scheduler over domains. Edges that coincide are
// delivered in the order the domains are listed.
func NewScheduler(domains ...*Domain) *Scheduler {
	return &Scheduler{domains: domains}
}

// Now returns the simulated time of the last delivered edge.
func (s *Scheduler) Now() time.Duration {
	return time.Duration(s.now / 1000)
}

// Step delivers the earliest pending rising edge and returns its domain.
func (s *Scheduler) Step() *Domain {
	var next *Domain
	for _, d := range s.domains {
		if next == nil || d.next < next.next {
			next = d
		}
	}
	if next == nil {
		return nil
	}
	s.now = next.next
	next.tick()
	return next
}

// RunUntil steps until d has advanced by n ticks.
func (s *Scheduler) RunUntil(d *Domain, n int) {
	target := d.ticks + uint64(n)
	for d.ticks < target {
		s.Step()
	}
}
