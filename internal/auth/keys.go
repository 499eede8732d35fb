package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// KeyRing maps pre-shared API keys to roles. Ground stations exchange a key
// for a short-lived access token instead of sending the key on every call.
type KeyRing struct {
	entries []keyEntry
}

type keyEntry struct {
	digest [sha256.Size]byte
	role   Role
}

// NewKeyRing builds a key ring. Empty keys are skipped.
func NewKeyRing(operatorKey, observerKey string) *KeyRing {
	kr := &KeyRing{}
	kr.add(operatorKey, RoleOperator)
	kr.add(observerKey, RoleObserver)
	return kr
}

func (kr *KeyRing) add(key string, role Role) {
	if key == "" {
		return
	}
	kr.entries = append(kr.entries, keyEntry{digest: sha256.Sum256([]byte(key)), role: role})
}

// Authenticate returns the role bound to key. Every entry is compared in
// constant time so the result does not leak which key matched.
func (kr *KeyRing) Authenticate(key string) (Role, error) {
	if key == "" {
		return "", ErrInvalidCredentials
	}
	digest := sha256.Sum256([]byte(key))
	var role Role
	for _, e := range kr.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			role = e.role
		}
	}
	if role == "" {
		return "", ErrInvalidCredentials
	}
	return role, nil
}
