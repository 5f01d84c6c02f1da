// Package id generates opaque identifiers for domain records.
//
// Identifiers are UUIDv4 bytes encoded as lowercase base32 without padding,
// which keeps them URL-safe and case-insensitive while preserving 122 bits
// of randomness.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a fresh 26-character identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
