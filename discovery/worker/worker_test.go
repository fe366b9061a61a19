// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hpe-storage/iscsid-core/discovery/barrier"
	"github.com/hpe-storage/iscsid-core/discovery/eventbus"
	"github.com/hpe-storage/iscsid-core/discovery/isnscodec"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/discovery/registry"
	"github.com/hpe-storage/iscsid-core/discovery/store"
	"github.com/hpe-storage/iscsid-core/discovery/transport"
)

type fakeBitmap struct{ mask model.DiscoveryMethod }

func (f fakeBitmap) Enabled(m model.DiscoveryMethod) bool { return f.mask.Has(m) }

func waitForEnd(t *testing.T, sink *eventbus.FakeSink, end eventbus.Subclass) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.Subclasses()[end] {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", end)
}

func TestStaticWorkerDisabledStillEmitsEndPair(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := barrier.New(sink, func(model.DiscoveryMethod) {})
	st := store.NewMemStore()
	reg := registry.New(transport.NewFakeEngine(), store.ConfiguredSessionsAdapter{Store: st}, st)

	w := NewStatic(b, fakeBitmap{mask: model.MethodUnknown}, st, reg)
	defer w.Stop()

	w.Wake()
	waitForEnd(t, sink, eventbus.StaticEnd)
	assert.Len(t, reg.Sessions(), 0)
}

func TestStaticWorkerEnabledAddsFromStore(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := barrier.New(sink, func(model.DiscoveryMethod) {})
	st := store.NewMemStore()
	addr := model.Address{Family: model.FamilyV4, Bytes: []byte{10, 0, 0, 1}, Port: 3260}
	st.PutStaticAddr(&model.StaticTargetEntry{TargetName: "iqn.a", Addr: addr, TPGT: 1})
	reg := registry.New(transport.NewFakeEngine(), store.ConfiguredSessionsAdapter{Store: st}, st)

	w := NewStatic(b, fakeBitmap{mask: model.MethodStatic}, st, reg)
	defer w.Stop()

	w.Wake()
	waitForEnd(t, sink, eventbus.StaticEnd)
	assert.Len(t, reg.Sessions(), 1)
}

func TestSendTargetsWorkerAddsReturnedPortals(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := barrier.New(sink, func(model.DiscoveryMethod) {})
	st := store.NewMemStore()
	da := model.Address{Family: model.FamilyV4, Bytes: []byte{10, 0, 0, 2}, Port: 3260}
	st.PutDiscAddr(da)

	engine := transport.NewFakeEngine()
	engine.SendTargetsFn = func(addr model.Address, capacity int) ([]model.DiscoveredPortal, int, error) {
		return []model.DiscoveredPortal{{TargetName: "iqn.b", TargetAddr: addr, TPGT: 0}}, 1, nil
	}
	reg := registry.New(engine, store.ConfiguredSessionsAdapter{Store: st}, st)

	w := NewSendTargets(b, fakeBitmap{mask: model.MethodSendTargets}, st, engine, reg)
	defer w.Stop()

	w.Wake()
	waitForEnd(t, sink, eventbus.SendTargetsEnd)
	assert.Len(t, reg.Sessions(), 1)
}

func TestSLPWorkerImmediatelyCompletesBarrier(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := barrier.New(sink, func(model.DiscoveryMethod) {})
	w := NewSLP(b)
	defer w.Stop()

	w.Wake()
	waitForEnd(t, sink, eventbus.SLPEnd)
}

func TestISNSWorkerDeregistersOnStopWhenRegistered(t *testing.T) {
	sink := eventbus.NewFakeSink()
	b := barrier.New(sink, func(model.DiscoveryMethod) {})
	st := store.NewMemStore()
	reg := registry.New(transport.NewFakeEngine(), store.ConfiguredSessionsAdapter{Store: st}, st)
	codec := isnscodec.NewFakeCodec()

	w := NewISNS(b, fakeBitmap{mask: model.MethodISNS}, codec, func(isnscodec.ScnType, model.SessionKey) {}, reg)
	w.Wake()
	waitForEnd(t, sink, eventbus.ISNSEnd)
	assert.True(t, codec.Registered())

	w.Stop()
	assert.False(t, codec.Registered())
}
