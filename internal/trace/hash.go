package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash hashes a canonical trace encoding. The input must come
// from ExecutionTrace.CanonicalJSON so the hash covers the canonical event
// order rather than insertion order.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
