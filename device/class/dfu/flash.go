package dfu

import (
	"fmt"

	"github.com/ardnew/eptri/pkg"
)

// erased is the value of a byte after an erase.
const erased = 0xFF

// Partition is one in-memory flash region, selected by an alternate
// setting.
type Partition struct {
	// Name is the alternate setting's string.
	Name string
	// PollTimeout is the bwPollTimeout in milliseconds reported while a
	// block is written.
	PollTimeout uint32

	mem    []byte
	length int // bytes of the image last downloaded
}

// NewPartition returns an erased partition of size bytes.
func NewPartition(name string, size int, pollTimeout uint32) *Partition {
	p := &Partition{Name: name, PollTimeout: pollTimeout, mem: make([]byte, size)}
	p.Erase()
	return p
}

// Size returns the capacity in bytes.
func (p *Partition) Size() int { return len(p.mem) }

// Image returns a copy of the stored image.
func (p *Partition) Image() []byte {
	return append([]byte(nil), p.mem[:p.length]...)
}

// Erase clears the partition and forgets the stored image.
func (p *Partition) Erase() {
	for i := range p.mem {
		p.mem[i] = erased
	}
	p.length = 0
}

// Load stores image as if it had been downloaded.
func (p *Partition) Load(image []byte) error {
	p.Erase()
	return p.write(0, image)
}

func (p *Partition) write(off int, data []byte) error {
	if off < 0 || off+len(data) > len(p.mem) {
		return fmt.Errorf("%s: write of %d at 0x%X past 0x%X: %w",
			p.Name, len(data), off, len(p.mem), pkg.ErrInvalidParameter)
	}
	copy(p.mem[off:], data)
	p.length = max(p.length, off+len(data))
	return nil
}

// read copies image bytes at off into buf and returns how many it copied.
func (p *Partition) read(off int, buf []byte) int {
	if off >= p.length {
		return 0
	}
	return copy(buf, p.mem[off:p.length])
}
