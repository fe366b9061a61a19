// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package barrier implements the discovery-event barrier (component D): a bitset tracking which
// methods have published their terminal event this cycle, with a blocking poke that an external
// readiness daemon effectively rides on by waiting for every end event. Missing an end event
// deadlocks boot, so every worker -- enabled or not, successful or not -- must publish its pair.
package barrier

import (
	"sync"
	"time"

	log "github.com/hpe-storage/iscsid-core/logger"
	"github.com/hpe-storage/iscsid-core/discovery/eventbus"
	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// pollInterval is the barrier's wait-loop granularity, matching spec.md 4.D's "1-second polling
// delay" exactly.
const pollInterval = 1 * time.Second

// WakeFunc wakes the worker for every method set in the method mask (or every worker when method
// is MethodUnknown).
// The dispatcher supplies this; the barrier itself knows nothing about worker threads.
type WakeFunc func(method model.DiscoveryMethod)

// Barrier tracks emitted end events for one discovery cycle at a time.
type Barrier struct {
	mu           sync.Mutex
	emittedEnds  model.DiscoveryMethod
	inProgress   bool
	sink         eventbus.EventSink
	wake         WakeFunc
}

// New returns a Barrier that publishes through sink and wakes workers through wake. wake may be
// nil at construction time and supplied later with SetWake, since the dispatcher that owns the
// workers is typically constructed after its barrier.
func New(sink eventbus.EventSink, wake WakeFunc) *Barrier {
	return &Barrier{sink: sink, wake: wake}
}

// SetWake installs (or replaces) the barrier's wake function. Callers typically build the barrier
// first, construct their dispatcher around it, then call SetWake(dispatcher.Wake) to close the
// loop.
func (b *Barrier) SetWake(wake WakeFunc) {
	b.mu.Lock()
	b.wake = wake
	b.mu.Unlock()
}

// Start publishes method's START event and marks a cycle in progress. It does not touch the
// emitted-ends bitset -- only End does that.
func (b *Barrier) Start(method model.DiscoveryMethod) {
	b.mu.Lock()
	b.inProgress = true
	b.mu.Unlock()

	log.Tracef("barrier: start method=%v", method)
	b.sink.Publish(eventbus.StartSubclass(method), method)
}

// End sets method's bit in the emitted-ends bitset and publishes its END event. End must be
// called on every exit path of a worker's cycle body, including disabled and failed ones.
func (b *Barrier) End(method model.DiscoveryMethod) {
	b.mu.Lock()
	b.emittedEnds |= method
	b.mu.Unlock()

	log.Tracef("barrier: end method=%v", method)
	b.sink.Publish(eventbus.EndSubclass(method), method)
}

// Poke clears the emitted-ends bitset, wakes the requested method (or every method when method
// is MethodUnknown), and blocks, polling every second, until every targeted method has
// re-published its end event. The caller observes all end events for the targeted methods before
// Poke returns.
func (b *Barrier) Poke(method model.DiscoveryMethod) {
	target := method
	if target == model.MethodUnknown {
		target = model.AllMethods
	}

	b.mu.Lock()
	b.emittedEnds = model.MethodUnknown
	b.inProgress = true
	wake := b.wake
	b.mu.Unlock()

	if wake != nil {
		wake(method)
	}

	for {
		b.mu.Lock()
		done := b.emittedEnds&target == target
		b.mu.Unlock()
		if done {
			break
		}
		time.Sleep(pollInterval)
	}

	b.mu.Lock()
	b.inProgress = false
	b.mu.Unlock()
}

// InProgress reports whether a cycle is currently underway.
func (b *Barrier) InProgress() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inProgress
}

// EmittedEnds returns a snapshot of which methods have published their end event in the current
// cycle, for tests and props_get.
func (b *Barrier) EmittedEnds() model.DiscoveryMethod {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emittedEnds
}
