// Package id mints analysis identifiers.
package id

import "github.com/google/uuid"

// UUIDGenerator mints random (v4) UUIDs.
type UUIDGenerator struct{}

// NewID returns a new UUID string.
func (UUIDGenerator) NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
