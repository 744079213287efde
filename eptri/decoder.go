package eptri

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/ardnew/eptri/pkg"
)

// Peripheral is a register block reachable through the Decoder. Its port
// list is the static table returned by Registers.
type Peripheral interface {
	Name() string
	Registers() []Register
	Read(offset uint32) uint32
	Write(offset, value uint32)
	IRQ() bool
}

type window struct {
	offset uint32
	p      Peripheral
}

// DecodeStats counts accesses that reached no register.
type DecodeStats struct {
	Misses    uint64 // outside every window or unaligned
	Undefined uint64 // inside a window but no register, or wrong direction
}

// Decoder routes word accesses to the peripheral owning the 4 KiB window
// they fall in. Accesses that reach no register read as zero and are
// otherwise ignored.
type Decoder struct {
	base    uint32
	windows []window
	stats   DecodeStats
}

// NewDecoder creates a decoder for windows placed relative to base.
func NewDecoder(base uint32) *Decoder {
	return &Decoder{base: base}
}

// Map places p at the window starting offset bytes above the base.
func (d *Decoder) Map(offset uint32, p Peripheral) error {
	if offset%WindowSize != 0 {
		return fmt.Errorf("window offset 0x%X: %w", offset, pkg.ErrInvalidParameter)
	}
	for _, w := range d.windows {
		if w.offset == offset {
			return fmt.Errorf("window 0x%X already holds %s: %w", offset, w.p.Name(), pkg.ErrBusy)
		}
	}
	d.windows = append(d.windows, window{offset: offset, p: p})
	sort.Slice(d.windows, func(i, j int) bool { return d.windows[i].offset < d.windows[j].offset })
	return nil
}

// decode finds the register at addr.
func (d *Decoder) decode(addr uint32) (Peripheral, Register, bool) {
	if addr&3 != 0 || addr < d.base {
		d.miss(addr)
		return nil, Register{}, false
	}
	rel := addr - d.base
	for _, w := range d.windows {
		if rel >= w.offset && rel < w.offset+WindowSize {
			reg, ok := lookup(w.p.Registers(), rel-w.offset)
			return w.p, reg, ok
		}
	}
	d.miss(addr)
	return nil, Register{}, false
}

func (d *Decoder) miss(addr uint32) {
	d.stats.Misses++
	if pkg.Enabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentBus, "decode miss", "addr", fmt.Sprintf("0x%08X", addr))
	}
}

// Read performs a word read.
func (d *Decoder) Read(addr uint32) uint32 {
	p, reg, ok := d.decode(addr)
	if p == nil {
		return 0
	}
	if !ok || !reg.Readable() {
		d.stats.Undefined++
		return 0
	}
	return p.Read(reg.Offset)
}

// Write performs a word write.
func (d *Decoder) Write(addr, value uint32) {
	p, reg, ok := d.decode(addr)
	if p == nil {
		return
	}
	if !ok || !reg.Writable() {
		d.stats.Undefined++
		return
	}
	p.Write(reg.Offset, value)
}

// Stats returns the decode counters.
func (d *Decoder) Stats() DecodeStats { return d.stats }

// MappedRegister is one entry of the address map.
type MappedRegister struct {
	Peripheral string
	Address    uint32
	Register
}

// AddressMap lists every register in address order.
func (d *Decoder) AddressMap() []MappedRegister {
	var m []MappedRegister
	for _, w := range d.windows {
		for _, r := range w.p.Registers() {
			m = append(m, MappedRegister{
				Peripheral: w.p.Name(),
				Address:    d.base + w.offset + r.Offset,
				Register:   r,
			})
		}
	}
	sort.Slice(m, func(i, j int) bool { return m[i].Address < m[j].Address })
	return m
}
