// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpe-storage/iscsid-core/discovery/model"
)

type fakeTransport struct {
	nextID      int
	destroyFail map[interface{}]bool
	destroyed   []interface{}
	onlined     []interface{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{destroyFail: map[interface{}]bool{}}
}

func (t *fakeTransport) SessGetOrCreate(key model.SessionKey, tpgt uint16, state model.SessionState) (interface{}, error) {
	t.nextID++
	return t.nextID, nil
}

func (t *fakeTransport) ConnGetOrCreate(sess interface{}, targetAddr model.Address) error {
	return nil
}

func (t *fakeTransport) Destroy(sess interface{}) error {
	if t.destroyFail[sess] {
		return assert.AnError
	}
	t.destroyed = append(t.destroyed, sess)
	return nil
}

func (t *fakeTransport) Online(sess interface{}) error {
	t.onlined = append(t.onlined, sess)
	return nil
}

type fakeStore struct {
	counts map[string]model.ConfiguredSessions
}

func (s *fakeStore) ConfiguredSessions(targetName string) model.ConfiguredSessions {
	if c, ok := s.counts[targetName]; ok {
		return c
	}
	return model.DefaultConfiguredSessions
}

type fakeParamRemover struct {
	removed []string
}

func (f *fakeParamRemover) RemoveTargetParam(targetName string) error {
	f.removed = append(f.removed, targetName)
	return nil
}

func addr(b byte) model.Address {
	return model.Address{Family: model.FamilyV4, Bytes: []byte{10, 0, 0, b}, Port: 3260}
}

func TestAddCreatesConfiguredSessionCount(t *testing.T) {
	tx := newFakeTransport()
	store := &fakeStore{counts: map[string]model.ConfiguredSessions{"iqn.a": {Count: 2, Bound: true}}}
	r := New(tx, store, nil)

	err := r.Add(model.MethodSendTargets, addr(1), "iqn.a", 0, addr(2))
	assert.Nil(t, err)
	assert.Len(t, r.Sessions(), 2)
}

func TestAddPartialFailureLeavesEarlierSessions(t *testing.T) {
	tx := newFakeTransport()
	store := &fakeStore{counts: map[string]model.ConfiguredSessions{"iqn.a": {Count: 3, Bound: true}}}
	r := New(tx, store, nil)

	// fail conn create on the third isid by counting ConnGetOrCreate calls
	orig := tx
	calls := 0
	wrapped := &failingTransport{fakeTransport: orig, failOn: 2, calls: &calls}
	r.transport = wrapped

	err := r.Add(model.MethodSendTargets, addr(1), "iqn.a", 0, addr(2))
	assert.NotNil(t, err)
	assert.Len(t, r.Sessions(), 2)
}

type failingTransport struct {
	*fakeTransport
	failOn int
	calls  *int
}

func (f *failingTransport) ConnGetOrCreate(sess interface{}, targetAddr model.Address) error {
	defer func() { *f.calls++ }()
	if *f.calls == f.failOn {
		return assert.AnError
	}
	return f.fakeTransport.ConnGetOrCreate(sess, targetAddr)
}

func TestDelMatchesSendTargetsByDiscoveryAddress(t *testing.T) {
	tx := newFakeTransport()
	store := &fakeStore{counts: map[string]model.ConfiguredSessions{}}
	params := &fakeParamRemover{}
	r := New(tx, store, params)

	assert.Nil(t, r.Add(model.MethodSendTargets, addr(1), "iqn.a", 0, addr(2)))

	da := addr(1)
	err := r.Del(nil, model.MethodSendTargets, &da)
	assert.Nil(t, err)
	assert.Len(t, r.Sessions(), 0)
	assert.Equal(t, []string{"iqn.a"}, params.removed)
}

func TestDelStaticMatchesByActiveConnectionAddress(t *testing.T) {
	tx := newFakeTransport()
	store := &fakeStore{}
	r := New(tx, store, nil)

	// for static, discovered_addr == target_addr at add time
	assert.Nil(t, r.Add(model.MethodStatic, addr(5), "iqn.b", 0, addr(5)))

	target := addr(5)
	err := r.Del(nil, model.MethodStatic, &target)
	assert.Nil(t, err)
	assert.Len(t, r.Sessions(), 0)
}

func TestDelBusySessionLeftInPlaceAndReportsFailure(t *testing.T) {
	tx := newFakeTransport()
	store := &fakeStore{}
	r := New(tx, store, nil)

	assert.Nil(t, r.Add(model.MethodSendTargets, addr(1), "iqn.a", 0, addr(2)))
	sess := r.entries[0].tx
	tx.destroyFail[sess] = true

	err := r.Del(nil, model.MethodSendTargets, nil)
	assert.NotNil(t, err)
	assert.Len(t, r.Sessions(), 1)
}

func TestLoginTargetsUnknownMethodMatchesEverySession(t *testing.T) {
	tx := newFakeTransport()
	store := &fakeStore{}
	r := New(tx, store, nil)

	assert.Nil(t, r.Add(model.MethodStatic, addr(1), "iqn.a", 0, addr(1)))
	assert.Nil(t, r.Add(model.MethodSendTargets, addr(2), "iqn.b", 0, addr(3)))

	matched := r.LoginTargets(nil, model.MethodUnknown, nil)
	assert.True(t, matched)
	assert.Len(t, tx.onlined, 2)
}

func TestLoginTargetsNoMatchReturnsFalse(t *testing.T) {
	tx := newFakeTransport()
	store := &fakeStore{}
	r := New(tx, store, nil)

	matched := r.LoginTargets(nil, model.MethodISNS, nil)
	assert.False(t, matched)
}
