package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingPasswordHash = errors.New("password verifier: bcrypt hash required")
	ErrInvalidPassword     = errors.New("password verifier: password mismatch")
)

// PasswordVerifier checks a submitted presenter password against a configured
// bcrypt hash. The hash is provisioned out-of-band; no plaintext is stored.
type PasswordVerifier struct {
	hash []byte
}

// NewPasswordVerifier constructs a verifier from a bcrypt hash string.
func NewPasswordVerifier(bcryptHash string) (*PasswordVerifier, error) {
	if bcryptHash == "" {
		return nil, ErrMissingPasswordHash
	}
	if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
		return nil, ErrMissingPasswordHash
	}
	return &PasswordVerifier{hash: []byte(bcryptHash)}, nil
}

// Verify returns nil when the candidate password matches the configured hash.
func (v *PasswordVerifier) Verify(candidate string) error {
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(candidate)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}
