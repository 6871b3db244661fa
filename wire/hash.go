package wire

import (
	"crypto/sha256"
	"encoding/hex"
)

// LegendIDLen is the number of leading bytes of sha256(packed) that make up
// a legend ID.
const LegendIDLen = 20

// LegendID returns the hex-encoded legend ID for packed legend bytes: the
// first LegendIDLen bytes of sha256(packed), lowercase hex.
func LegendID(packed []byte) string {
	sum := sha256.Sum256(packed)
	return hex.EncodeToString(sum[:LegendIDLen])
}

// SHA256 returns the full SHA-256 digest of data.
func SHA256(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}
