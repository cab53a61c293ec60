// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// eventDomainKey is the 32-byte key for BLAKE3 keyed hashing of event
// identities. Domain separation keeps event dedup keys from colliding
// with any other keyed hash a deployment might compute over the same
// bytes. The byte values are the ASCII encoding of the domain name,
// zero-padded to 32 bytes; changing them invalidates all dedup keys
// in flight.
var eventDomainKey = [32]byte{
	'g', 'i', 't', 'h', 'u', 'b', '-', 'm', 'o', 'n', 'i', 't', 'o', 'r', '.',
	'e', 'v', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// dedupKey computes the deduplication identity for one detected
// change. The timestamp is normalized to UTC RFC3339Nano so the same
// observation always hashes identically regardless of zone.
func dedupKey(repository string, number int, transition Transition, timestamp time.Time) string {
	hasher, err := blake3.NewKeyed(eventDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length; the key is a
		// compile-time constant of the right size.
		panic(fmt.Sprintf("event: keyed hasher: %v", err))
	}
	fmt.Fprintf(hasher, "%s\x00%d\x00%s\x00%s",
		repository, number, transition, timestamp.UTC().Format(time.RFC3339Nano))
	digest := hasher.Sum(nil)
	return hex.EncodeToString(digest)
}
