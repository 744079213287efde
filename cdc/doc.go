// Package cdc models clock domains and the primitives that move state
// between them.
//
// Nothing written in one domain is visible in another in the same simulated
// step. Every crossing goes through a synchronizer whose output lags its
// input by a fixed number of destination-clock ticks:
//
//   - [Sync] carries a level (flag, pointer, status word)
//   - [EventSync] carries pulses without losing any
//   - [Queue] hands off commands in order
//   - [AsyncFIFO] moves bytes with synchronized read and write pointers
//
// A [Scheduler] interleaves the edges of several [Domain] clocks in time
// order. Components attach to a domain as [Ticker] values and are ticked in
// attachment order on each rising edge.
package cdc
