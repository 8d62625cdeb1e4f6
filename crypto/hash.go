package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// ProgramAddress derives a 64-char address from seeds. It has the shape of
// an ed25519 public key but no private key exists for it, so only program
// code can move what it holds.
func ProgramAddress(seeds ...string) string {
	return Hash([]byte("program:" + strings.Join(seeds, "/")))
}
