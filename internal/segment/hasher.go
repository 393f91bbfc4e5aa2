package segment

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// EmptyHash is the sentinel hash for empty text.
const EmptyHash = "empty"

// hashLen is the number of hex characters kept from the digest. 16 hex
// chars (64 bits) makes accidental collision a non-issue for change
// detection; this is not a security boundary.
const hashLen = 16

// Hash returns a short, deterministic content hash of text, used to
// decide whether a block changed between edits.
func Hash(text string) string {
	if text == "" {
		return EmptyHash
	}
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:hashLen]
}
