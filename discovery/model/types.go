// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

///////////////////////////////////////////////////////////////////////////////////////////////////
//
// Package model defines the data types shared between every discovery-core component: the method
// bitmask, address forms, the session table's key and value types, and the persisted parameter
// record the parameter projector (component B) consumes. Nothing in this package talks to a
// store, a transport, or a socket -- it is pure data, matched to the wire shapes the persistent
// store and transport engine interfaces pass across their boundaries.
//
///////////////////////////////////////////////////////////////////////////////////////////////////

package model

import "fmt"

// DiscoveryMethod is both an enum value and a bit within a method bitmask: several methods can be
// enabled at once, and the dispatcher's disable path passes the complement of the enabled set.
type DiscoveryMethod uint8

const (
	// MethodUnknown is the sentinel used by config_one/config_all and poke to mean "any method".
	MethodUnknown DiscoveryMethod = 0

	// MethodStatic discovers targets from the persisted static-target list.
	MethodStatic DiscoveryMethod = 1 << 0

	// MethodSendTargets discovers targets via the iSCSI SendTargets text command.
	MethodSendTargets DiscoveryMethod = 1 << 1

	// MethodSLP is the unimplemented placeholder method.
	MethodSLP DiscoveryMethod = 1 << 2

	// MethodISNS discovers targets via the Internet Storage Name Service.
	MethodISNS DiscoveryMethod = 1 << 3
)

// AllMethods is the full method bitmask; the event barrier considers its cycle complete once
// every bit here has an emitted end event.
const AllMethods = MethodStatic | MethodSendTargets | MethodSLP | MethodISNS

// Methods lists the four concrete methods in worker-table order.
var Methods = []DiscoveryMethod{MethodStatic, MethodSendTargets, MethodSLP, MethodISNS}

// Has reports whether method m's bit is set in the receiver bitmask.
func (mask DiscoveryMethod) Has(m DiscoveryMethod) bool {
	return mask&m != 0
}

// Complement returns the bits of AllMethods not set in the receiver, used by disable(!enabled).
func (mask DiscoveryMethod) Complement() DiscoveryMethod {
	return AllMethods &^ mask
}

func (m DiscoveryMethod) String() string {
	switch m {
	case MethodUnknown:
		return "unknown"
	case MethodStatic:
		return "static"
	case MethodSendTargets:
		return "sendtargets"
	case MethodSLP:
		return "slp"
	case MethodISNS:
		return "isns"
	default:
		return fmt.Sprintf("mask(0x%x)", uint8(m))
	}
}

// ParseMethodMask ORs together the DiscoveryMethod named by each element of names, for decoding
// a control-surface request body's method list into a bitmask.
func ParseMethodMask(names []string) (DiscoveryMethod, error) {
	var mask DiscoveryMethod
	for _, n := range names {
		switch n {
		case "static":
			mask |= MethodStatic
		case "sendtargets":
			mask |= MethodSendTargets
		case "slp":
			mask |= MethodSLP
		case "isns":
			mask |= MethodISNS
		default:
			return 0, fmt.Errorf("unrecognized discovery method %q", n)
		}
	}
	return mask, nil
}

// AddressFamily distinguishes IPv4 from IPv6 canonical addresses.
type AddressFamily uint8

const (
	FamilyV4 AddressFamily = 4
	FamilyV6 AddressFamily = 16
)

// Address is the canonical output of the address normalizer (component A). Equality between two
// Address values is byte-exact, matching how the session registry compares discovery/target
// addresses.
type Address struct {
	Family AddressFamily `json:"family"`
	Bytes  []byte        `json:"bytes"` // 4 bytes for FamilyV4, 16 bytes for FamilyV6
	Port   uint16        `json:"port"`
}

// Equal reports whether two addresses are byte-exact matches.
func (a Address) Equal(other Address) bool {
	if a.Family != other.Family || a.Port != other.Port {
		return false
	}
	if len(a.Bytes) != len(other.Bytes) {
		return false
	}
	for i := range a.Bytes {
		if a.Bytes[i] != other.Bytes[i] {
			return false
		}
	}
	return true
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", ipString(a.Bytes), a.Port)
}

func ipString(b []byte) string {
	if len(b) == 4 {
		return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
	}
	if len(b) == 16 {
		s := ""
		for i := 0; i < 16; i += 2 {
			if i > 0 {
				s += ":"
			}
			s += fmt.Sprintf("%02x%02x", b[i], b[i+1])
		}
		return s
	}
	return "<invalid>"
}

// DiscoveryAddress is a discovery endpoint plus the target portal group tag it was probed with.
type DiscoveryAddress struct {
	Addr Address `json:"addr"`
	TPGT uint16  `json:"tpgt"`
}

// SessionKey is the composite identity under which the session registry stores a Session.
type SessionKey struct {
	TargetName string          `json:"target_name"`
	Method     DiscoveryMethod `json:"method"`
	DiscAddr   Address         `json:"disc_addr"`
	ISID       int             `json:"isid"`
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%d", k.TargetName, k.Method, k.DiscAddr, k.ISID)
}

// SessionState mirrors the transport engine's session lifecycle, opaque to the core beyond these
// states.
type SessionState uint8

const (
	SessionNormal      SessionState = 0
	SessionOnline      SessionState = 1
	SessionDestroyable SessionState = 2
)

// Session is the entity owned by the registry. At most one Session exists per SessionKey.
type Session struct {
	Key           SessionKey   `json:"key"`
	TargetAddr    Address      `json:"target_addr"`
	TPGT          uint16       `json:"tpgt"`
	DiscoveredBy  DiscoveryMethod `json:"discovered_by"`
	State         SessionState `json:"state"`
	TransportOpaque interface{} `json:"-"` // handle returned by the transport engine's sess_create
}

// ConfiguredSessions is the resolved (count, bound) pair for a target, following the
// per-target -> per-initiator -> default(1, true) resolution chain.
type ConfiguredSessions struct {
	Count int  `json:"count"`
	Bound bool `json:"bound"`
}

// DefaultConfiguredSessions is used when neither a per-target nor a per-initiator record exists.
var DefaultConfiguredSessions = ConfiguredSessions{Count: 1, Bound: true}

// ParamID identifies a catalogued login parameter. Only the parameters listed here may be
// projected by component B; everything else is Unsupported.
type ParamID string

const (
	ParamDataDigest          ParamID = "data_digest"
	ParamHeaderDigest        ParamID = "header_digest"
	ParamDataSequenceInOrder ParamID = "data_sequence_in_order"
	ParamDataPDUInOrder      ParamID = "data_pdu_in_order"
	ParamImmediateData       ParamID = "immediate_data"
	ParamInitialR2T          ParamID = "initial_r2t"
	ParamLoginTimeout        ParamID = "login_timeout"
	ParamLogoutTimeout       ParamID = "logout_timeout"
	ParamFirstBurstLength    ParamID = "first_burst_length"
	ParamMaxBurstLength      ParamID = "max_burst_length"
	ParamMaxRecvDataSegLen   ParamID = "max_recv_data_segment_length"

	// The following three are recognized by the catalogue but not currently settable; the
	// projector reports Unsupported for them, matching spec.md 4.B.
	ParamMaxConnections      ParamID = "max_connections"
	ParamOutstandingR2T      ParamID = "outstanding_r2t"
	ParamErrorRecoveryLevel  ParamID = "error_recovery_level"
)

// unsettableParams is the subset of the catalogue the projector refuses even though the name is
// recognized.
var unsettableParams = map[ParamID]bool{
	ParamMaxConnections:     true,
	ParamOutstandingR2T:     true,
	ParamErrorRecoveryLevel: true,
}

// IsUnsettable reports whether id is a catalogued-but-not-settable parameter.
func IsUnsettable(id ParamID) bool {
	return unsettableParams[id]
}

// LoginParams holds one field per catalogued parameter -- each parameter owns its own struct
// field, deliberately not reproducing the upstream aliasing bug flagged in spec.md 4.B /
// DESIGN.md between DataSequenceInOrder and DataPDUInOrder.
type LoginParams struct {
	DataDigest          bool
	HeaderDigest        bool
	DataSequenceInOrder bool
	DataPDUInOrder      bool
	ImmediateData       bool
	InitialR2T          bool
	LoginTimeout        int
	LogoutTimeout       int
	FirstBurstLength    int
	MaxBurstLength      int
	MaxRecvDataSegLen   int
	MaxConnections      int
	OutstandingR2T      int
	ErrorRecoveryLevel  int
}

// SetRequestValueKind distinguishes a boolean set-request from an integer one.
type SetRequestValueKind uint8

const (
	ValueBool SetRequestValueKind = iota
	ValueInt
)

// SetRequest is the typed set-request the parameter projector (component B) produces for the
// transport engine's set_params call.
type SetRequest struct {
	Param     ParamID             `json:"param"`
	Kind      SetRequestValueKind `json:"kind"`
	BoolValue bool                `json:"bool_value,omitempty"`
	IntValue  int                 `json:"int_value,omitempty"`
}

// OverrideBitmap marks which fields of a PersistentParamRecord were explicitly set by the user,
// as opposed to carrying catalogue defaults.
type OverrideBitmap map[ParamID]bool

// PersistentParamRecord is a per-name (target or initiator) parameter override record as stored
// by the persistent store.
type PersistentParamRecord struct {
	Name      string         `json:"name"`
	Overrides OverrideBitmap `json:"overrides"`
	Params    LoginParams    `json:"params"`
}

// ChapRecord is the CHAP credential persisted for the initiator or a specific target.
type ChapRecord struct {
	User   string `json:"user"`
	Secret string `json:"secret,omitempty"`
}

// StaticTargetEntry is one row of the persisted static-target list.
type StaticTargetEntry struct {
	TargetName string  `json:"target_name"`
	Addr       Address `json:"addr"`
	TPGT       uint16  `json:"tpgt"`
}

// DiscoveredPortal is one (target_name, target_addr, tpgt) tuple a discovery probe returns.
type DiscoveredPortal struct {
	TargetName string  `json:"target_name"`
	TargetAddr Address `json:"target_addr"`
	TPGT       uint16  `json:"tpgt"`
}
