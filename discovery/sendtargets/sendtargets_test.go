// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package sendtargets

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/discovery/transport"
)

func portal(n int) model.DiscoveredPortal {
	return model.DiscoveredPortal{TargetName: "iqn.target", TargetAddr: model.Address{Family: model.FamilyV4, Bytes: []byte{10, 0, 0, byte(n)}, Port: 3260}}
}

func TestQueryWithinCapacityReturnsDirectly(t *testing.T) {
	engine := transport.NewFakeEngine()
	engine.SendTargetsFn = func(addr model.Address, capacity int) ([]model.DiscoveredPortal, int, error) {
		return []model.DiscoveredPortal{portal(1)}, 1, nil
	}

	portals, err := Query(engine, model.Address{})
	assert.Nil(t, err)
	assert.Len(t, portals, 1)
}

func TestQueryGrowsAndRetriesOnceOnOverflow(t *testing.T) {
	engine := transport.NewFakeEngine()
	calls := 0
	engine.SendTargetsFn = func(addr model.Address, capacity int) ([]model.DiscoveredPortal, int, error) {
		calls++
		if capacity == DefaultCapacity {
			return nil, 15, nil
		}
		return []model.DiscoveredPortal{portal(1), portal(2)}, 2, nil
	}

	portals, err := Query(engine, model.Address{})
	assert.Nil(t, err)
	assert.Len(t, portals, 2)
	assert.Equal(t, 2, calls)
}

func TestQuerySkipsAfterSecondOverflow(t *testing.T) {
	engine := transport.NewFakeEngine()
	engine.SendTargetsFn = func(addr model.Address, capacity int) ([]model.DiscoveredPortal, int, error) {
		return nil, capacity + 5, nil
	}

	_, err := Query(engine, model.Address{})
	de, ok := err.(*cerrors.DiscoveryError)
	assert.True(t, ok)
	assert.Equal(t, cerrors.Overflow, de.ErrorCode())
}

func TestQueryRPCFailure(t *testing.T) {
	engine := transport.NewFakeEngine()
	engine.SendTargetsFn = func(addr model.Address, capacity int) ([]model.DiscoveredPortal, int, error) {
		return nil, 0, assert.AnError
	}

	_, err := Query(engine, model.Address{})
	de, ok := err.(*cerrors.DiscoveryError)
	assert.True(t, ok)
	assert.Equal(t, cerrors.RPCFailure, de.ErrorCode())
}
