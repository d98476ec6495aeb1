// Package xid generates prefixed identifiers for store records, e.g.
// "sale-18f3c2a9b4-6d1e0f7a92c3". The prefix names the entity kind so IDs
// stay greppable in logs and audit trails; the timestamp component keeps
// IDs of one kind roughly creation-ordered.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const randomBytes = 6

// New returns a fresh identifier with the given entity prefix.
func New(prefix string) string {
	now := time.Now().UnixMilli()
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		// Purely time-based fallback when crypto/rand is unavailable.
		return fmt.Sprintf("%s-%x", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%x-%s", prefix, now, hex.EncodeToString(buf))
}
