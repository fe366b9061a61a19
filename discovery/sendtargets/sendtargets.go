// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package sendtargets implements the SendTargets probe the SendTargets worker runs against each
// persisted discovery address: issue the RPC with a preallocated buffer, grow and retry once on
// overflow, skip the address if it still overflows.
package sendtargets

import (
	log "github.com/hpe-storage/iscsid-core/logger"
	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/discovery/transport"
)

// DefaultCapacity is the preallocated response buffer size, per spec.md 4.E ("default 10").
const DefaultCapacity = 10

// Query probes discoveryAddr through engine, growing the response buffer and retrying exactly
// once if the server reports more entries than fit. A second overflow is not retried again: the
// address is skipped and the caller should continue on to the next discovery address.
func Query(engine transport.Engine, discoveryAddr model.Address) ([]model.DiscoveredPortal, error) {
	portals, returned, err := engine.IoctlSendTargetsGet(discoveryAddr, DefaultCapacity)
	if err != nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.RPCFailure, "sendtargets rpc to %v failed: %v", discoveryAddr, err)
	}

	if returned <= DefaultCapacity {
		return portals, nil
	}

	log.Infof("sendtargets: %v returned %d entries, capacity %d, growing and retrying once", discoveryAddr, returned, DefaultCapacity)
	portals, returned2, err := engine.IoctlSendTargetsGet(discoveryAddr, returned)
	if err != nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.RPCFailure, "sendtargets retry rpc to %v failed: %v", discoveryAddr, err)
	}

	if returned2 > returned {
		log.Warnf("sendtargets: %v still overflowing after grow-retry (returned=%d, capacity=%d), skipping", discoveryAddr, returned2, returned)
		return nil, cerrors.NewDiscoveryErrorf(cerrors.Overflow, "sendtargets %v overflowed after retry", discoveryAddr)
	}

	return portals, nil
}
