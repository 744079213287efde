package cdc

import "github.com/ardnew/eptri/pkg"

// AsyncFIFO is a dual-clock byte FIFO. The write pointer crosses to the
// reader through a Sync clocked by the reader domain, and the read pointer
// crosses back through a Sync clocked by the writer domain. Both sides
// therefore judge empty/full from a stale view of the other pointer, which
// is conservative: the reader never passes the writer and the writer never
// overwrites unread data.
type AsyncFIFO struct {
	buf   []byte
	wptr  uint32
	rptr  uint32
	wsync *Sync[uint32] // write pointer as seen by the reader
	rsync *Sync[uint32] // read pointer as seen by the writer
}

// NewAsyncFIFO creates a FIFO holding depth bytes.
func NewAsyncFIFO(depth, stages int) *AsyncFIFO {
	return &AsyncFIFO{
		buf:   make([]byte, depth),
		wsync: NewSync[uint32](stages, 0),
		rsync: NewSync[uint32](stages, 0),
	}
}

// Depth returns the FIFO capacity.
func (f *AsyncFIFO) Depth() int { return len(f.buf) }

// TickReader clocks the reader-side synchronizer.
func (f *AsyncFIFO) TickReader() { f.wsync.Tick() }

// TickWriter clocks the writer-side synchronizer.
func (f *AsyncFIFO) TickWriter() { f.rsync.Tick() }

// Writable returns the free space visible to the writer.
func (f *AsyncFIFO) Writable() int {
	return len(f.buf) - int(f.wptr-f.rsync.Get())
}

// Push writes one byte from the writer domain.
func (f *AsyncFIFO) Push(b byte) error {
	if f.Writable() <= 0 {
		return pkg.ErrFIFOFull
	}
	f.buf[f.wptr%uint32(len(f.buf))] = b
	f.wptr++
	f.wsync.Set(f.wptr)
	return nil
}

// Written returns the number of bytes pushed and not yet known to be read,
// as seen by the writer.
func (f *AsyncFIFO) Written() int { return int(f.wptr - f.rsync.Get()) }

// Readable returns the number of bytes visible to the reader.
func (f *AsyncFIFO) Readable() int { return int(f.wsync.Get() - f.rptr) }

// Pop reads one byte in the reader domain.
func (f *AsyncFIFO) Pop() (byte, error) {
	if f.Readable() <= 0 {
		return 0, pkg.ErrFIFOEmpty
	}
	b := f.buf[f.rptr%uint32(len(f.buf))]
	f.rptr++
	f.rsync.Set(f.rptr)
	return b, nil
}

// Peek copies up to len(dst) visible bytes without consuming them.
func (f *AsyncFIFO) Peek(dst []byte) int {
	n := min(f.Readable(), len(dst))
	for i := 0; i < n; i++ {
		dst[i] = f.buf[(f.rptr+uint32(i))%uint32(len(f.buf))]
	}
	return n
}

// Discard consumes up to n visible bytes and returns how many were dropped.
func (f *AsyncFIFO) Discard(n int) int {
	n = min(n, f.Readable())
	f.rptr += uint32(n)
	f.rsync.Set(f.rptr)
	return n
}

// Head returns the writer's pointer, the count of bytes ever pushed. A
// reader given this mark can flush exactly the bytes written before it.
func (f *AsyncFIFO) Head() uint32 { return f.wptr }

// Tail returns the reader's pointer, the count of bytes ever consumed.
func (f *AsyncFIFO) Tail() uint32 { return f.rptr }

// DiscardTo consumes visible bytes up to mark, a value of Head taken in the
// writer domain. Bytes pushed after mark stay. The writer sees the freed
// space once the read pointer has crossed back.
func (f *AsyncFIFO) DiscardTo(mark uint32) int {
	n := int32(mark - f.rptr)
	if n <= 0 {
		return 0
	}
	return f.Discard(int(n))
}

// Reset empties the FIFO on both sides at once. Only a reset of the whole
// model may do this; a flush requested by one side uses DiscardTo.
func (f *AsyncFIFO) Reset() {
	f.wptr, f.rptr = 0, 0
	f.wsync.Force(0)
	f.rsync.Force(0)
}
