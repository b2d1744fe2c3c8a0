package authsvc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// generateUserID mints an opaque account id, the same random-hex scheme
// the teacher uses for its throwaway client ids in main.go.
func generateUserID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "user-fallback"
	}
	return "user-" + hex.EncodeToString(b)
}

var anonAdjectives = []string{"Creative", "Artistic", "Swift", "Bold", "Bright", "Quick", "Cool", "Daring"}
var anonNouns = []string{"Ranger", "Wizard", "Rogue", "Cartographer", "Herald", "Scout", "Warden", "Bard"}

// GenerateDisplayName picks a random two-word handle for players who join
// anonymously without registering an account.
func GenerateDisplayName() string {
	adjIdx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(anonAdjectives))))
	nounIdx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(anonNouns))))
	return fmt.Sprintf("%s %s", anonAdjectives[adjIdx.Int64()], anonNouns[nounIdx.Int64()])
}
