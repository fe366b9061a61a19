// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package isnscodec is the outbound port to the iSNS protocol codec (spec.md section 6, "iSNS
// codec (consumed)"). The discovery core never speaks the iSNS wire protocol directly; it drives
// queries and registration through this interface and receives SCN upcalls through ScnHandler.
package isnscodec

import (
	"sync"

	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// ScnType enumerates the State Change Notification kinds the iSNS server can deliver.
type ScnType int

const (
	ObjAdded ScnType = iota
	ObjRemoved
	ObjUpdated
	ObjOther
)

// ScnHandler is invoked asynchronously by the codec with the SCN kind and the source node's
// session key, on whatever thread the codec selects.
type ScnHandler func(scnType ScnType, sourceKey model.SessionKey)

// Codec is the iSNS codec port.
type Codec interface {
	// Query performs a full query against every registered iSNS server, per spec.md's
	// isns_query_all used by the iSNS worker's periodic sweep.
	Query() ([]model.DiscoveredPortal, error)
	// QueryOneServer queries a single iSNS server.
	QueryOneServer(server model.Address) ([]model.DiscoveredPortal, error)
	// QueryOneNode queries a single node by session key, used by the ObjAdded reaction path.
	QueryOneNode(key model.SessionKey) ([]model.DiscoveredPortal, error)
	// Reg registers the initiator with the iSNS service, supplying the SCN callback. Idempotent
	// by protocol: re-registering while already registered is not an error.
	Reg(callback ScnHandler) error
	// Dereg deregisters the initiator, called on worker stop.
	Dereg() error
}

// FakeCodec is an in-memory Codec, the hand-written fake tests drive instead of a mock framework.
type FakeCodec struct {
	mu sync.Mutex

	registered bool
	callback   ScnHandler

	QueryResult          []model.DiscoveredPortal
	QueryErr             error
	QueryOneServerResult map[model.Address][]model.DiscoveredPortal
	QueryOneNodeResult   map[model.SessionKey][]model.DiscoveredPortal
	RegErr               error
	DeregErr             error
}

// NewFakeCodec returns an unregistered FakeCodec.
func NewFakeCodec() *FakeCodec {
	return &FakeCodec{
		QueryOneServerResult: map[model.Address][]model.DiscoveredPortal{},
		QueryOneNodeResult:   map[model.SessionKey][]model.DiscoveredPortal{},
	}
}

func (f *FakeCodec) Query() ([]model.DiscoveredPortal, error) {
	return f.QueryResult, f.QueryErr
}

func (f *FakeCodec) QueryOneServer(server model.Address) ([]model.DiscoveredPortal, error) {
	return f.QueryOneServerResult[server], nil
}

func (f *FakeCodec) QueryOneNode(key model.SessionKey) ([]model.DiscoveredPortal, error) {
	return f.QueryOneNodeResult[key], nil
}

func (f *FakeCodec) Reg(callback ScnHandler) error {
	if f.RegErr != nil {
		return f.RegErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = true
	f.callback = callback
	return nil
}

func (f *FakeCodec) Dereg() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = false
	f.callback = nil
	return f.DeregErr
}

// DeliverSCN lets a test simulate the codec calling back into the core.
func (f *FakeCodec) DeliverSCN(scnType ScnType, sourceKey model.SessionKey) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb(scnType, sourceKey)
	}
}

// Registered reports whether Reg has been called without a subsequent Dereg, for tests asserting
// idempotent re-registration.
func (f *FakeCodec) Registered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered
}
