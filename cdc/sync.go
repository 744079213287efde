package cdc

// MinStages is the smallest synchronizer depth accepted by the model.
const MinStages = 2

// Sync is a multi-stage level synchronizer. The source domain writes with
// Set; the destination domain clocks it with Tick and reads with Get. A value
// set in the source appears at the output after exactly Stages destination
// ticks.
type Sync[T any] struct {
	src    T
	stages []T
}

// NewSync creates a synchronizer with the given depth and initial value.
func NewSync[T any](stages int, init T) *Sync[T] {
	if stages < 1 {
		stages = 1
	}
	s := &Sync[T]{src: init, stages: make([]T, stages)}
	for i := range s.stages {
		s.stages[i] = init
	}
	return s
}

// Set drives the source side.
func (s *Sync[T]) Set(v T) { s.src = v }

// Source returns the value currently driven by the source side.
func (s *Sync[T]) Source() T { return s.src }

// Get returns the synchronized value seen by the destination.
func (s *Sync[T]) Get() T { return s.stages[len(s.stages)-1] }

// Stages returns the synchronizer depth.
func (s *Sync[T]) Stages() int { return len(s.stages) }

// Tick shifts the synchronizer on a destination clock edge.
func (s *Sync[T]) Tick() {
	copy(s.stages[1:], s.stages[:len(s.stages)-1])
	s.stages[0] = s.src
}

// Force sets source and every stage to v at once. Used for resets, which
// clear both sides of a crossing together.
func (s *Sync[T]) Force(v T) {
	s.src = v
	for i := range s.stages {
		s.stages[i] = v
	}
}

// EventSync carries pulses across domains as a synchronized event count, so
// bursts shorter than the synchronizer delay are not merged or lost.
type EventSync struct {
	count uint32
	sync  *Sync[uint32]
	seen  uint32
}

// NewEventSync creates a pulse crossing with the given depth.
func NewEventSync(stages int) *EventSync {
	return &EventSync{sync: NewSync[uint32](stages, 0)}
}

// Fire records one pulse in the source domain.
func (e *EventSync) Fire() {
	e.count++
	e.sync.Set(e.count)
}

// Tick clocks the destination side.
func (e *EventSync) Tick() { e.sync.Tick() }

// Take returns the number of pulses that reached the destination since the
// last call.
func (e *EventSync) Take() int {
	now := e.sync.Get()
	n := int(now - e.seen)
	e.seen = now
	return n
}

// Drop discards pulses in flight and any not yet taken.
func (e *EventSync) Drop() {
	e.sync.Force(e.count)
	e.seen = e.count
}
