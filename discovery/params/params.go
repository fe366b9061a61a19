// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package params projects a persisted login-parameter record onto the typed set-request the
// transport engine expects. Callers loop over a PersistentParamRecord's override bitmap; this
// package centralizes the catalogue so it is testable in isolation from that loop.
package params

import (
	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// boolParams lists which catalogued parameters carry a boolean value; everything else in the
// catalogue is integer-valued.
var boolParams = map[model.ParamID]func(model.LoginParams) bool{
	model.ParamDataDigest:          func(p model.LoginParams) bool { return p.DataDigest },
	model.ParamHeaderDigest:        func(p model.LoginParams) bool { return p.HeaderDigest },
	model.ParamDataSequenceInOrder: func(p model.LoginParams) bool { return p.DataSequenceInOrder },
	model.ParamDataPDUInOrder:      func(p model.LoginParams) bool { return p.DataPDUInOrder },
	model.ParamImmediateData:       func(p model.LoginParams) bool { return p.ImmediateData },
	model.ParamInitialR2T:          func(p model.LoginParams) bool { return p.InitialR2T },
}

var intParams = map[model.ParamID]func(model.LoginParams) int{
	model.ParamLoginTimeout:       func(p model.LoginParams) int { return p.LoginTimeout },
	model.ParamLogoutTimeout:      func(p model.LoginParams) int { return p.LogoutTimeout },
	model.ParamFirstBurstLength:   func(p model.LoginParams) int { return p.FirstBurstLength },
	model.ParamMaxBurstLength:     func(p model.LoginParams) int { return p.MaxBurstLength },
	model.ParamMaxRecvDataSegLen:  func(p model.LoginParams) int { return p.MaxRecvDataSegLen },
	model.ParamMaxConnections:     func(p model.LoginParams) int { return p.MaxConnections },
	model.ParamOutstandingR2T:     func(p model.LoginParams) int { return p.OutstandingR2T },
	model.ParamErrorRecoveryLevel: func(p model.LoginParams) int { return p.ErrorRecoveryLevel },
}

// Project maps (id, params) onto a typed SetRequest. Parameters outside the catalogue, and the
// three currently-unsettable integers (MaxConnections, OutstandingR2T, ErrorRecoveryLevel), fail
// with Unsupported.
func Project(id model.ParamID, p model.LoginParams) (*model.SetRequest, error) {
	if model.IsUnsettable(id) {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.Unsupported, "parameter %s is not settable", id)
	}

	if get, ok := boolParams[id]; ok {
		return &model.SetRequest{Param: id, Kind: model.ValueBool, BoolValue: get(p)}, nil
	}
	if get, ok := intParams[id]; ok {
		return &model.SetRequest{Param: id, Kind: model.ValueInt, IntValue: get(p)}, nil
	}

	return nil, cerrors.NewDiscoveryErrorf(cerrors.Unsupported, "unrecognized parameter %s", id)
}

// ProjectOverrides walks an override bitmap and projects every set bit, skipping entries whose
// name isn't in the catalogue (a persisted record written by a newer daemon version may carry
// names this build doesn't recognize). It does not fail the whole batch on one Unsupported
// parameter; the caller gets back one SetRequest per overridden-and-projectable name.
func ProjectOverrides(overrides model.OverrideBitmap, p model.LoginParams) []*model.SetRequest {
	var reqs []*model.SetRequest
	for id, set := range overrides {
		if !set {
			continue
		}
		req, err := Project(id, p)
		if err != nil {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs
}
