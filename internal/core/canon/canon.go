// SPDX-License-Identifier: Apache-2.0

// Package canon produces RFC 8785 canonical JSON and content hashes. Policy
// snapshot IDs, proposal fingerprints, and planned-action hashes all go
// through here so the same value always hashes the same way.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Bytes returns the RFC 8785 canonical JSON encoding of v.
func Bytes(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshaling value: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("error canonicalizing value: %w", err)
	}
	return canonical, nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
