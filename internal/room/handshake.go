package room

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashClaimKey mirrors the original GM shared-secret scheme: a room with no
// registered owner can still have a GM claimed by whoever first supplies a
// key, and that key's hash gates every later claim attempt.
func hashClaimKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
