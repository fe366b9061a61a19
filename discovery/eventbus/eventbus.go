// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package eventbus is the outbound port the event barrier (component D) publishes through.
// Design Note 3 in spec.md calls this out explicitly: the core depends on an EventSink port, not
// on the OS service bus directly, so the barrier and its tests never know whether the other end
// is sysevent, a websocket, or a slice in memory.
package eventbus

import (
	"sync"
	"time"

	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// Subclass names the discovery event kind published on every barrier transition. Names match
// spec.md section 6 (EXTERNAL INTERFACES, Event bus produced) exactly.
type Subclass string

const (
	StaticStart      Subclass = "STATIC_START"
	StaticEnd        Subclass = "STATIC_END"
	SendTargetsStart Subclass = "SEND_TARGETS_START"
	SendTargetsEnd   Subclass = "SEND_TARGETS_END"
	SLPStart         Subclass = "SLP_START"
	SLPEnd           Subclass = "SLP_END"
	ISNSStart        Subclass = "ISNS_START"
	ISNSEnd          Subclass = "ISNS_END"
)

// StartSubclass returns the START event for the given method.
func StartSubclass(m model.DiscoveryMethod) Subclass {
	switch m {
	case model.MethodStatic:
		return StaticStart
	case model.MethodSendTargets:
		return SendTargetsStart
	case model.MethodSLP:
		return SLPStart
	case model.MethodISNS:
		return ISNSStart
	default:
		return Subclass("")
	}
}

// EndSubclass returns the END event for the given method.
func EndSubclass(m model.DiscoveryMethod) Subclass {
	switch m {
	case model.MethodStatic:
		return StaticEnd
	case model.MethodSendTargets:
		return SendTargetsEnd
	case model.MethodSLP:
		return SLPEnd
	case model.MethodISNS:
		return ISNSEnd
	default:
		return Subclass("")
	}
}

// Event is the envelope published for every barrier transition.
type Event struct {
	ID       string          `json:"id"`
	Subclass Subclass        `json:"subclass"`
	Method   model.DiscoveryMethod `json:"method"`
	Time     time.Time       `json:"time"`
}

// EventSink is the port components publish discovery events through.
type EventSink interface {
	Publish(subclass Subclass, method model.DiscoveryMethod)
}

// FakeSink records every published event in order, for tests asserting on the exact set and
// order of events a barrier cycle produced (spec.md section 8, scenario 1).
type FakeSink struct {
	mu     sync.Mutex
	events []Event
	nextID int
}

// NewFakeSink returns an empty FakeSink.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// Publish implements EventSink.
func (f *FakeSink) Publish(subclass Subclass, method model.DiscoveryMethod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.events = append(f.events, Event{
		ID:       fakeEventID(f.nextID),
		Subclass: subclass,
		Method:   method,
	})
}

// Events returns a snapshot of every event published so far, in publish order.
func (f *FakeSink) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Subclasses returns just the Subclass of every published event, the shape scenario 1 asserts
// against (a set, since ordering across methods is not guaranteed, only start-before-end within
// one method).
func (f *FakeSink) Subclasses() map[Subclass]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Subclass]bool, len(f.events))
	for _, e := range f.events {
		out[e.Subclass] = true
	}
	return out
}

func fakeEventID(n int) string {
	const hex = "0123456789abcdef"
	b := []byte{hex[(n>>4)&0xf], hex[n&0xf]}
	return "evt-" + string(b)
}
