// Package sid mints and parses the two identifier kinds the stack uses: the
// Engine.IO session id (esid) and the Socket.IO sid derived from it.
package sid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
)

// globalSeq is a process-wide monotonic counter combined with a connection's
// esid to derive collision-free Socket.IO sids without coordination, per
// spec.md §9 "Global sid counter".
var globalSeq atomic.Uint64

// NewEngineSid mints a fresh opaque Engine.IO session id. Engine sids are
// random, not derived from the counter, since they identify the transport
// session independent of namespace.
func NewEngineSid() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the platform's entropy source is
		// unavailable; nothing downstream can recover from that.
		panic(fmt.Sprintf("sid: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// NewSocketSid derives a Socket.IO sid for a (connection, namespace) pair
// from its engine sid and the next value of the global sequence counter.
// The result is reversible via EngineSidOf.
func NewSocketSid(esid string) string {
	seq := globalSeq.Add(1)
	raw := fmt.Sprintf("%s-%d", esid, seq)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// EngineSidOf recovers the engine sid embedded in a Socket.IO sid minted by
// NewSocketSid.
func EngineSidOf(socketSid string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(socketSid)
	if err != nil {
		return "", fmt.Errorf("decoding socket sid: %w", err)
	}
	idx := strings.LastIndexByte(string(raw), '-')
	if idx < 0 {
		return "", fmt.Errorf("socket sid %q missing esid separator", socketSid)
	}
	return string(raw[:idx]), nil
}
