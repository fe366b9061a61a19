// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package dispatcher

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

func newTestDispatcher(stormDelay time.Duration) (*Dispatcher, *eventbus.FakeSink) {
	sink := eventbus.NewFakeSink()
	st := store.NewMemStore()
	engine := transport.NewFakeEngine()
	codec := isnscodec.NewFakeCodec()
	reg := registry.New(engine, store.ConfiguredSessionsAdapter{Store: st}, st)

	b := barrier.New(sink, nil)
	d := New(b, st, engine, codec, reg, stormDelay)
	b.SetWake(d.Wake)
	return d, sink
}

func TestInitOnEmptyStoreReleasesBarrierForEveryMethod(t *testing.T) {
	d, sink := newTestDispatcher(time.Minute)
	defer d.Fini()

	err := d.Init(false)
	assert.Nil(t, err)

	subs := sink.Subclasses()
	for _, sub := range []eventbus.Subclass{
		eventbus.StaticStart, eventbus.StaticEnd,
		eventbus.SendTargetsStart, eventbus.SendTargetsEnd,
		eventbus.SLPStart, eventbus.SLPEnd,
		eventbus.ISNSStart, eventbus.ISNSEnd,
	} {
		assert.True(t, subs[sub], "missing %s", sub)
	}
}

// TestInitWithEnabledMethodsStillReleasesBarrierForEveryMethod guards against Init only
// bracketing the *disabled* complement: methods persisted as enabled must also get their
// start/end pair during the same Init call, since an external readiness daemon blocks on all
// eight events regardless of which methods are actually turned on.
func TestInitWithEnabledMethodsStillReleasesBarrierForEveryMethod(t *testing.T) {
	d, sink := newTestDispatcher(time.Minute)
	defer d.Fini()

	mem := d.store.(*store.MemStore)
	mem.SetDiscMeth(model.MethodStatic | model.MethodISNS)

	err := d.Init(false)
	assert.Nil(t, err)

	subs := sink.Subclasses()
	for _, sub := range []eventbus.Subclass{
		eventbus.StaticStart, eventbus.StaticEnd,
		eventbus.SendTargetsStart, eventbus.SendTargetsEnd,
		eventbus.SLPStart, eventbus.SLPEnd,
		eventbus.ISNSStart, eventbus.ISNSEnd,
	} {
		assert.True(t, subs[sub], "missing %s", sub)
	}
	assert.True(t, d.Enabled(model.MethodStatic))
	assert.True(t, d.Enabled(model.MethodISNS))
}

func TestInitRestartReloadsStoreOnlyOnRestart(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute)
	defer d.Fini()

	mem := d.store.(*store.MemStore)
	assert.Nil(t, d.Init(false))
	assert.Equal(t, 0, mem.ReloadCalls)

	assert.Nil(t, d.Init(true))
	assert.Equal(t, 1, mem.ReloadCalls)
}

func TestEnableBeforeInitFailsWithWorkerMissing(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute)
	err := d.Enable(model.MethodStatic, false)
	assert.NotNil(t, err)
}

func TestConfigOneStormProtectionPokesOnce(t *testing.T) {
	d, sink := newTestDispatcher(60 * time.Second)
	defer d.Fini()
	assert.Nil(t, d.Init(false))

	before := len(sink.Events())

	assert.Nil(t, d.ConfigOne("iqn.x", true))
	afterFirst := len(sink.Events())

	assert.Nil(t, d.ConfigOne("iqn.x", true))
	afterSecond := len(sink.Events())

	assert.True(t, afterFirst > before, "first config_one should have poked")
	assert.Equal(t, afterFirst, afterSecond, "second config_one within debounce window should not poke again")
}

func TestDisableClearsEnabledBitOnSuccessfulDel(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute)
	defer d.Fini()
	assert.Nil(t, d.Init(false))

	assert.Nil(t, d.Enable(model.MethodStatic, false))
	assert.True(t, d.Enabled(model.MethodStatic))

	assert.Nil(t, d.Disable(model.MethodStatic))
	assert.False(t, d.Enabled(model.MethodStatic))
}

func discAddr(b byte) model.Address {
	return model.Address{Family: model.FamilyV4, Bytes: []byte{10, 0, 0, b}, Port: 3260}
}

// TestReactToSCNObjRemovedDestroysBothSessionsAndClearsParam is spec.md §8 scenario 5: two
// iSNS-discovered sessions for one target, an ObjRemoved SCN destroys both and the orphaned
// per-target param record is cleaned up with them.
func TestReactToSCNObjRemovedDestroysBothSessionsAndClearsParam(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute)
	defer d.Fini()

	mem := d.store.(*store.MemStore)
	mem.PutConfigSession("iqn.a", model.ConfiguredSessions{Count: 2, Bound: true})
	mem.PutParam(&model.PersistentParamRecord{Name: "iqn.a"})

	da := discAddr(9)
	assert.Nil(t, d.registry.Add(model.MethodISNS, da, "iqn.a", 1, da))
	assert.Len(t, d.registry.Sessions(), 2)

	d.reactToSCN(isnscodec.ObjRemoved, model.SessionKey{TargetName: "iqn.a", Method: model.MethodISNS, DiscAddr: da})

	assert.Len(t, d.registry.Sessions(), 0)
	_, err := d.store.ParamGet("iqn.a")
	assert.NotNil(t, err, "orphaned param record for iqn.a should have been removed")
}

func TestReactToSCNObjAddedQueriesNodeAndAddsPortals(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute)
	defer d.Fini()

	da := discAddr(10)
	key := model.SessionKey{TargetName: "iqn.b", Method: model.MethodISNS, DiscAddr: da}
	codec := d.codec.(*isnscodec.FakeCodec)
	codec.QueryOneNodeResult[key] = []model.DiscoveredPortal{
		{TargetName: "iqn.b", TargetAddr: da, TPGT: 0},
	}

	d.reactToSCN(isnscodec.ObjAdded, key)

	assert.Len(t, d.registry.Sessions(), 1)
}

func TestReactToSCNObjUpdatedAndOtherDoNotTouchRegistry(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute)
	defer d.Fini()

	key := model.SessionKey{TargetName: "iqn.c", Method: model.MethodISNS, DiscAddr: discAddr(11)}
	d.reactToSCN(isnscodec.ObjUpdated, key)
	d.reactToSCN(isnscodec.ScnType(99), key)

	assert.Len(t, d.registry.Sessions(), 0)
}
