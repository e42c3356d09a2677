package ratelimit

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// ClientIdentity derives a privacy-preserving identity from the caller's
// network origin and declared client identifier (user-agent). Only a
// truncated one-way hash of the identifier is ever used in cache keys, so raw
// client strings are never persisted.
func ClientIdentity(remoteIP, userAgent string) string {
	if remoteIP == "" {
		remoteIP = "unknown"
	}
	digest := fmt.Sprintf("%016x", murmur3.Sum64([]byte(userAgent)))
	return remoteIP + ":" + digest[:8]
}
