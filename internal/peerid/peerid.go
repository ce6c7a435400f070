// Package peerid generates the local client's 20-byte BitTorrent peer
// identity once per process.
package peerid

import (
	"crypto/rand"
	"fmt"
)

const (
	// Size is the fixed length of a BitTorrent peer id.
	Size = 20
	// tagSize is the number of leading bytes reserved for the client tag.
	tagSize = 3
)

// New returns a fresh 20-byte peer id: tag's first 3 bytes followed by 17
// cryptographically random bytes. tag is truncated or zero-padded to 3
// bytes if it is not already exactly that long.
func New(tag string) ([Size]byte, error) {
	var id [Size]byte

	copy(id[:tagSize], tag)

	if _, err := rand.Read(id[tagSize:]); err != nil {
		return id, fmt.Errorf("peerid: generate random suffix: %w", err)
	}

	return id, nil
}
