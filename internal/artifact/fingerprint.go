package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// NewHasher returns the hash used for artifact fingerprints.
func NewHasher() hash.Hash {
	return sha256.New()
}

// SumHex formats the current digest of h as a fingerprint.
func SumHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint consumes r and returns its fingerprint and byte count.
func Fingerprint(r io.Reader) (string, int64, error) {
	h := NewHasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return SumHex(h), n, nil
}
