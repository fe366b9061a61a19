// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package transport is the outbound port to the kernel/HBA transport engine (spec.md section 6,
// "Transport engine (consumed)"). The discovery core never issues an ioctl directly; every path
// -- registry adds, disables, parameter installs -- goes through this interface, so tests run
// against FakeEngine instead of real hardware.
package transport

import (
	"sync"

	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// Engine is the transport engine port. It satisfies registry.Transport and additionally exposes
// SetParams (used by dispatcher's init_config/init_targets) and the SendTargets ioctl consumed by
// discovery/sendtargets.
type Engine interface {
	SessGetOrCreate(key model.SessionKey, tpgt uint16, state model.SessionState) (interface{}, error)
	ConnGetOrCreate(sess interface{}, targetAddr model.Address) error
	Destroy(sess interface{}) error
	Online(sess interface{}) error

	// SetParams installs a login parameter on either the per-initiator default (target == "") or
	// a specific target's override record.
	SetParams(target string, req *model.SetRequest) error

	// IoctlSendTargetsGet issues the SendTargets RPC against discoveryAddr with a response buffer
	// sized for capacity entries. When the server has more entries than capacity, returned exceeds
	// capacity and portals is truncated to capacity; the caller (discovery/sendtargets) is
	// responsible for the grow-and-retry-once dance spec.md 4.E describes.
	IoctlSendTargetsGet(discoveryAddr model.Address, capacity int) (portals []model.DiscoveredPortal, returned int, err error)
}

type session struct {
	id    int
	key   model.SessionKey
	tpgt  uint16
	state model.SessionState
	conns []model.Address
}

// FakeEngine is an in-memory Engine for tests, grounded in the pack's hand-written-fake
// convention (no mocking framework appears anywhere in the retrieved examples).
type FakeEngine struct {
	mu sync.Mutex

	nextID   int
	sessions map[model.SessionKey]*session

	DestroyErr map[interface{}]error
	OnlineErr  map[interface{}]error

	SetParamsCalls []SetParamsCall
	SendTargetsFn  func(discoveryAddr model.Address, capacity int) ([]model.DiscoveredPortal, int, error)
}

// SetParamsCall records one SetParams invocation for assertions.
type SetParamsCall struct {
	Target string
	Req    *model.SetRequest
}

// NewFakeEngine returns an empty FakeEngine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		sessions:   map[model.SessionKey]*session{},
		DestroyErr: map[interface{}]error{},
		OnlineErr:  map[interface{}]error{},
	}
}

func (f *FakeEngine) SessGetOrCreate(key model.SessionKey, tpgt uint16, state model.SessionState) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[key]; ok {
		return s.id, nil
	}
	f.nextID++
	s := &session{id: f.nextID, key: key, tpgt: tpgt, state: state}
	f.sessions[key] = s
	return s.id, nil
}

func (f *FakeEngine) ConnGetOrCreate(sess interface{}, targetAddr model.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.id == sess {
			s.conns = append(s.conns, targetAddr)
			return nil
		}
	}
	return nil
}

func (f *FakeEngine) Destroy(sess interface{}) error {
	if err := f.DestroyErr[sess]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, s := range f.sessions {
		if s.id == sess {
			delete(f.sessions, key)
			return nil
		}
	}
	return nil
}

func (f *FakeEngine) Online(sess interface{}) error {
	return f.OnlineErr[sess]
}

func (f *FakeEngine) SetParams(target string, req *model.SetRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetParamsCalls = append(f.SetParamsCalls, SetParamsCall{Target: target, Req: req})
	return nil
}

func (f *FakeEngine) IoctlSendTargetsGet(discoveryAddr model.Address, capacity int) ([]model.DiscoveredPortal, int, error) {
	if f.SendTargetsFn == nil {
		return nil, 0, nil
	}
	return f.SendTargetsFn(discoveryAddr, capacity)
}
