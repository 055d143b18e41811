// Package device computes the anonymous device identifier attached to
// outcome telemetry (spec.md §4.11).
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

const salt = "opt-outta-device-salt-v1"

// ID returns sha256(hostname || salt), hex-encoded. It never changes for a
// given machine, and carries no PII.
func ID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	sum := sha256.Sum256([]byte(hostname + salt))
	return hex.EncodeToString(sum[:])
}
