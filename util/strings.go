// (c) Copyright 2021 Hewlett Packard Enterprise Development LP

package util

import (
	"crypto/md5"
	"encoding/hex"
)

// GetMD5HashOfTwoStrings combines two strings deterministically into a single MD5 hex digest,
// used by identity.FingerprintSecret to fold a NIC's MAC address and the host's name into one
// reproducible host fingerprint.
func GetMD5HashOfTwoStrings(a, b string) string {
	sum := md5.Sum([]byte(a + ":" + b))
	return hex.EncodeToString(sum[:])
}
