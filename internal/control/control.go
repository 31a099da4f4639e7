// Package control implements the pipeline's single control plane: a
// broadcast bus carrying Shutdown and PrintStats messages to every stage,
// plus a process-wide terminate flag used as a fast, lock-free check from
// the hot path.
package control

import (
	"sync"
	"sync/atomic"
)

// Signal is one control-plane message.
type Signal struct {
	Kind      Kind
	Immediate bool // only meaningful when Kind == Shutdown
}

// Kind enumerates the two control messages the bus carries.
type Kind int

const (
	// Shutdown asks every stage to wind down. Immediate=false means finish
	// in-flight work and flush; Immediate=true means drop buffered state
	// and return right away.
	Shutdown Kind = iota
	// PrintStats asks the sink to render a one-line statistics snapshot to
	// stderr without otherwise interrupting processing.
	PrintStats
)

// Bus is a single broadcast channel fanned out to every subscriber. Each
// subscriber gets its own buffered channel so a slow reader never blocks
// the others; Send is therefore non-blocking from the caller's perspective
// once the bus-wide buffer (rarely more than a couple of signals) drains.
// Subscribe and Send are both safe for concurrent use, since every pipeline
// stage subscribes from its own goroutine as it starts up.
type Bus struct {
	mu        sync.Mutex
	subs      []chan Signal
	terminate atomic.Bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new listener and returns its receive-only channel.
func (b *Bus) Subscribe() <-chan Signal {
	ch := make(chan Signal, 4)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Send broadcasts a signal to every subscriber registered so far. Shutdown
// signals also set the terminate flag so code outside the select-loop (e.g.
// the sink's per-line emission check) can observe it without a channel
// receive.
func (b *Bus) Send(sig Signal) {
	if sig.Kind == Shutdown {
		b.terminate.Store(true)
	}
	b.mu.Lock()
	subs := append([]chan Signal(nil), b.subs...)
	b.mu.Unlock()
	for _, ch := range subs {
		ch <- sig
	}
}

// ShouldTerminate reports whether a Shutdown has been broadcast, or the
// terminate flag set directly via SetTerminate. Safe for concurrent use;
// intended as a cheap poll point for loops that can't always afford to
// select on the bus channel (e.g. inside a tight per-line scan).
func (b *Bus) ShouldTerminate() bool {
	return b.terminate.Load()
}

// SetTerminate flips the terminate flag without broadcasting a Shutdown
// signal to subscribers. Used by a stage that has privately decided to stop
// producing further output (e.g. the sink reaching its take-limit) but must
// not ask upstream stages (batcher, workers) to wind down early, since they
// still need to drain the remaining input to report accurate line counts.
func (b *Bus) SetTerminate() {
	b.terminate.Store(true)
}
