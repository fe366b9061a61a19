// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package barrier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hpe-storage/iscsid-core/discovery/eventbus"
	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// fakeWorkers drives End for every woken method after a short delay, standing in for the
// dispatcher's worker goroutines during a Poke cycle.
type fakeWorkers struct {
	b *Barrier
}

func (w *fakeWorkers) wake(method model.DiscoveryMethod) {
	targets := []model.DiscoveryMethod{model.MethodStatic, model.MethodSendTargets, model.MethodSLP, model.MethodISNS}
	for _, m := range targets {
		if method != model.MethodUnknown && method != m {
			continue
		}
		go func(m model.DiscoveryMethod) {
			w.b.Start(m)
			time.Sleep(10 * time.Millisecond)
			w.b.End(m)
		}(m)
	}
}

func TestPokeAllWaitsForEveryMethod(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := New(sink, nil)
	fw := &fakeWorkers{b: b}
	b.wake = fw.wake

	b.Poke(model.MethodUnknown)

	assert.Equal(t, model.AllMethods, b.EmittedEnds())
	assert.False(t, b.InProgress())

	subs := sink.Subclasses()
	assert.True(t, subs[eventbus.StaticStart])
	assert.True(t, subs[eventbus.StaticEnd])
	assert.True(t, subs[eventbus.SendTargetsStart])
	assert.True(t, subs[eventbus.SendTargetsEnd])
	assert.True(t, subs[eventbus.SLPStart])
	assert.True(t, subs[eventbus.SLPEnd])
	assert.True(t, subs[eventbus.ISNSStart])
	assert.True(t, subs[eventbus.ISNSEnd])
}

func TestPokeSingleMethodOnlyWaitsOnThatMethod(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := New(sink, nil)
	fw := &fakeWorkers{b: b}
	b.wake = fw.wake

	b.Poke(model.MethodStatic)

	assert.Equal(t, model.MethodStatic, b.EmittedEnds())
}

func TestPokeClearsEmittedEndsBeforeWaking(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := New(sink, func(model.DiscoveryMethod) {})
	b.emittedEnds = model.AllMethods

	var wg sync.WaitGroup
	wg.Add(1)
	b.wake = func(method model.DiscoveryMethod) {
		defer wg.Done()
		b.mu.Lock()
		cleared := b.emittedEnds == model.MethodUnknown
		b.mu.Unlock()
		assert.True(t, cleared)
		go b.End(model.MethodStatic)
	}

	b.Poke(model.MethodStatic)
	wg.Wait()
}
