// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package addr normalizes raw (family, bytes, port) triples into the canonical model.Address
// form the session registry compares byte-wise. Every producer of an address that will ever
// enter the registry -- static targets, SendTargets results, iSNS portals -- funnels through
// Normalize so that two addresses for the same endpoint always compare equal.
package addr

import (
	"net"
	"strconv"

	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// Normalize converts a raw address of insize bytes into a canonical model.Address. insize must
// be 4 (IPv4) or 16 (IPv6); any other length fails with BadAddress.
func Normalize(insize int, raw []byte, port uint16) (model.Address, error) {
	switch insize {
	case 4:
		if len(raw) < 4 {
			return model.Address{}, cerrors.NewDiscoveryErrorf(cerrors.BadAddress,
				"address length %d shorter than declared insize %d", len(raw), insize)
		}
		b := make([]byte, 4)
		copy(b, raw[:4])
		return model.Address{Family: model.FamilyV4, Bytes: b, Port: port}, nil
	case 16:
		if len(raw) < 16 {
			return model.Address{}, cerrors.NewDiscoveryErrorf(cerrors.BadAddress,
				"address length %d shorter than declared insize %d", len(raw), insize)
		}
		b := make([]byte, 16)
		copy(b, raw[:16])
		return model.Address{Family: model.FamilyV6, Bytes: b, Port: port}, nil
	default:
		return model.Address{}, cerrors.NewDiscoveryErrorf(cerrors.BadAddress,
			"unrecognized address length %d", insize)
	}
}

// FromIPv4String builds a canonical IPv4 Address from a four-byte array and port; it is
// Normalize(4, ...) for callers that already hold the address as a [4]byte.
func FromIPv4String(ip [4]byte, port uint16) (model.Address, error) {
	return Normalize(4, ip[:], port)
}

// ParseHostPort turns a "host:port" string (as accepted by the control surface's do_sendtgts
// request) into a canonical Address. IPv4 and IPv6 literals are both accepted; hostnames are not,
// since the control surface is expected to resolve before calling in.
func ParseHostPort(hostport string) (model.Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return model.Address{}, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "malformed host:port %q: %v", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return model.Address{}, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "malformed port in %q: %v", hostport, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return model.Address{}, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "unparseable address %q", host)
	}
	if v4 := ip.To4(); v4 != nil {
		return Normalize(4, v4, uint16(port))
	}
	return Normalize(16, ip.To16(), uint16(port))
}
