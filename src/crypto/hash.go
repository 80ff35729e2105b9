package crypto

import (
	"crypto/sha256"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// DomainHash returns the SHA256 hash of domain, a zero separator byte, and
// data. Distinct domains keep fact hashes and tree hashes from ever colliding
// with each other.
func DomainHash(domain string, data []byte) []byte {
	hasher := sha256.New()
	hasher.Write([]byte(domain))
	hasher.Write([]byte{0})
	hasher.Write(data)
	return hasher.Sum(nil)
}

// DomainHashConcat is DomainHash over the concatenation of parts.
func DomainHashConcat(domain string, parts ...[]byte) []byte {
	hasher := sha256.New()
	hasher.Write([]byte(domain))
	hasher.Write([]byte{0})
	for _, p := range parts {
		hasher.Write(p)
	}
	return hasher.Sum(nil)
}
