package cdc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/eptri/pkg"
)

func TestNewDomainRejectsZeroFrequency(t *testing.T) {
	if _, err := NewDomain("sys", 0); !errors.Is(err, pkg.ErrInvalidConfig) {
		t.Errorf("NewDomain(0) error = %v, want ErrInvalidConfig", err)
	}
}

func TestDomainPeriod(t *testing.T) {
	d, err := NewDomain("usb", 60*physic.MegaHertz)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Period(); got != 16 {
		t.Errorf("Period() = %v, want 16ns", got)
	}
}

func TestSchedulerInterleavesEdges(t *testing.T) {
	fast, _ := NewDomain("fast", 100*physic.MegaHertz) // 10ns
	slow, _ := NewDomain("slow", 50*physic.MegaHertz)  // 20ns

	var order []string
	fast.Attach(TickFunc(func() { order = append(order, "fast") }))
	slow.Attach(TickFunc(func() { order = append(order, "slow") }))

	s := NewScheduler(slow, fast)
	for i := 0; i < 6; i++ {
		s.Step()
	}

	// At 20ns and 40ns both domains have an edge; slow is listed first.
	want := []string{"fast", "slow", "fast", "fast", "slow", "fast"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("edge order mismatch (-want +got):\n%s", diff)
	}
	if got := s.Now(); got != 40 {
		t.Errorf("Now() = %v, want 40ns", got)
	}
}

func TestSchedulerRunUntil(t *testing.T) {
	a, _ := NewDomain("a", 60*physic.MegaHertz)
	b, _ := NewDomain("b", 48*physic.MegaHertz)
	s := NewScheduler(a, b)
	s.RunUntil(b, 10)
	if b.Ticks() != 10 {
		t.Errorf("b.Ticks() = %d, want 10", b.Ticks())
	}
	if a.Ticks() < 12 {
		t.Errorf("a.Ticks() = %d, want at least 12", a.Ticks())
	}
}

func TestSyncDelay(t *testing.T) {
	for _, stages := range []int{2, 3, 5} {
		s := NewSync(stages, false)
		s.Set(true)
		for i := 1; i < stages; i++ {
			s.Tick()
			if s.Get() {
				t.Fatalf("stages=%d: visible after %d ticks", stages, i)
			}
		}
		s.Tick()
		if !s.Get() {
			t.Errorf("stages=%d: not visible after %d ticks", stages, stages)
		}
	}
}

func TestSyncForce(t *testing.T) {
	s := NewSync[uint8](2, 0)
	s.Set(7)
	s.Tick()
	s.Force(0)
	s.Tick()
	s.Tick()
	if s.Get() != 0 {
		t.Errorf("Get() = %d after Force(0), want 0", s.Get())
	}
}

func TestEventSyncKeepsEveryPulse(t *testing.T) {
	e := NewEventSync(2)
	e.Fire()
	e.Fire()
	e.Tick()
	e.Fire()
	if n := e.Take(); n != 0 {
		t.Fatalf("Take() = %d before crossing, want 0", n)
	}
	e.Tick()
	if n := e.Take(); n != 2 {
		t.Fatalf("Take() = %d, want 2", n)
	}
	e.Tick()
	if n := e.Take(); n != 1 {
		t.Fatalf("Take() = %d, want 1", n)
	}
	if n := e.Take(); n != 0 {
		t.Errorf("second Take() = %d, want 0", n)
	}
}

func TestEventSyncDrop(t *testing.T) {
	e := NewEventSync(2)
	e.Fire()
	e.Tick()
	e.Drop()
	e.Tick()
	e.Tick()
	if n := e.Take(); n != 0 {
		t.Errorf("Take() = %d after Drop, want 0", n)
	}
}

func TestQueue(t *testing.T) {
	q := NewQueue[int](2, 2)
	if err := q.Push(1); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(2); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(3); !errors.Is(err, pkg.ErrQueueFull) {
		t.Fatalf("Push on full queue error = %v, want ErrQueueFull", err)
	}

	if _, ok := q.Pop(); ok {
		t.Fatal("Pop succeeded before crossing")
	}
	q.Tick()
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop succeeded after one tick")
	}
	q.Tick()

	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	q.Push(4)
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", q.Len())
	}
}

func TestAsyncFIFOCrossing(t *testing.T) {
	f := NewAsyncFIFO(4, 2)
	for _, b := range []byte{0xA, 0xB, 0xC} {
		if err := f.Push(b); err != nil {
			t.Fatal(err)
		}
	}
	if f.Readable() != 0 {
		t.Fatalf("Readable() = %d before reader ticks, want 0", f.Readable())
	}
	if _, err := f.Pop(); !errors.Is(err, pkg.ErrFIFOEmpty) {
		t.Fatalf("Pop error = %v, want ErrFIFOEmpty", err)
	}

	f.TickReader()
	f.TickReader()
	if f.Readable() != 3 {
		t.Fatalf("Readable() = %d, want 3", f.Readable())
	}

	peek := make([]byte, 8)
	n := f.Peek(peek)
	if diff := cmp.Diff([]byte{0xA, 0xB, 0xC}, peek[:n]); diff != "" {
		t.Errorf("Peek mismatch (-want +got):\n%s", diff)
	}

	b, err := f.Pop()
	if err != nil || b != 0xA {
		t.Fatalf("Pop() = %#x, %v; want 0xA", b, err)
	}

	// Writer has not yet seen the freed slot.
	f.Push(0xD)
	if err := f.Push(0xE); !errors.Is(err, pkg.ErrFIFOFull) {
		t.Fatalf("Push error = %v, want ErrFIFOFull", err)
	}
	f.TickWriter()
	f.TickWriter()
	if err := f.Push(0xE); err != nil {
		t.Fatalf("Push after writer sync: %v", err)
	}
}

func TestAsyncFIFOReset(t *testing.T) {
	f := NewAsyncFIFO(8, 2)
	f.Push(1)
	f.Push(2)
	f.TickReader()
	f.Reset()
	f.TickReader()
	f.TickReader()
	if f.Readable() != 0 || f.Written() != 0 {
		t.Errorf("after Reset Readable=%d Written=%d, want 0, 0", f.Readable(), f.Written())
	}
	if got := f.Discard(4); got != 0 {
		t.Errorf("Discard on empty = %d, want 0", got)
	}
}

// A flush by the reader up to a writer mark keeps bytes pushed after it.
func TestAsyncFIFODiscardTo(t *testing.T) {
	f := NewAsyncFIFO(8, 2)
	f.Push(1)
	f.Push(2)
	mark := f.Head()
	f.Push(3)
	f.TickReader()
	f.TickReader()

	if got := f.DiscardTo(mark); got != 2 {
		t.Fatalf("DiscardTo = %d, want 2", got)
	}
	if got := f.DiscardTo(mark); got != 0 {
		t.Errorf("second DiscardTo = %d, want 0", got)
	}
	if b, err := f.Pop(); err != nil || b != 3 {
		t.Errorf("Pop() = %d, %v; want 3", b, err)
	}
	if f.Tail() != f.Head() {
		t.Errorf("Tail() = %d, Head() = %d", f.Tail(), f.Head())
	}
}
