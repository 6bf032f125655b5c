package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signature builds the normalized signature pattern for a failure and
// its SHA-256 hash. Hashing is stdlib crypto/sha256: there is no
// third-party fingerprinting library in the pack that would improve on
// a plain cryptographic digest here.
func Signature(category Category, caseName, errorText string) (sig string, pattern string) {
	pattern = fmt.Sprintf("%s::%s::%s", category, caseName, Normalize(errorText))
	sum := sha256.Sum256([]byte(pattern))
	sig = hex.EncodeToString(sum[:])
	return sig, pattern
}
