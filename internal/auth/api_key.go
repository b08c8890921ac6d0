package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// APIKeyVerifier accepts a single shared key. Digests are compared so the
// comparison time does not depend on the presented key's length.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) error {
	if apiKey == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	got := sha256.Sum256([]byte(apiKey))
	want := sha256.Sum256([]byte(v.Expected))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
