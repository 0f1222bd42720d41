// Package hasher wraps bcrypt as a hash/verify pair for stored credentials.
package hasher

import "golang.org/x/crypto/bcrypt"

const DefaultCost = bcrypt.DefaultCost

// Hash produces a salted bcrypt digest of the plaintext. The salt is random,
// so hashing the same plaintext twice yields different digests.
func Hash(plaintext string, cost int) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}

	return string(digest), nil
}

// Verify compares plaintext against a stored digest in constant time.
// A malformed digest counts as a mismatch, not an error.
func Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
