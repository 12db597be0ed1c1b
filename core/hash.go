// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package core

import (
	"crypto/sha512"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// HashLength is the length, in hex characters, of a blob hash: the hex
// encoding of a SHA-384 digest.
const HashLength = 96

// ErrInvalidHash is returned when a string fails to parse as a Hash.
var ErrInvalidHash = errors.New("invalid hash: must be 96 lowercase hex characters")

// Hash is a content hash: the hex-encoded SHA-384 digest of a blob's
// payload. It is always well-formed once constructed; invalid input
// is rejected at the parse boundary instead of being carried around as
// a bare string.
type Hash struct {
	hex string
}

// ZeroHash is the empty Hash value, never equal to any valid hash.
var ZeroHash = Hash{}

// ParseHash validates s and returns the corresponding Hash.
func ParseHash(s string) (Hash, error) {
	if len(s) != HashLength {
		return Hash{}, ErrInvalidHash
	}
	if _, err := hex.DecodeString(s); err != nil {
		return Hash{}, ErrInvalidHash
	}
	if strings.ToLower(s) != s {
		return Hash{}, ErrInvalidHash
	}
	return Hash{hex: s}, nil
}

// MustParseHash is like ParseHash but panics on error. Intended for
// tests and compile-time constants, not request handling.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// ComputeHash returns the Hash of payload.
func ComputeHash(payload []byte) Hash {
	sum := sha512.Sum384(payload)
	return Hash{hex: hex.EncodeToString(sum[:])}
}

// Verify reports whether payload hashes to h.
func (h Hash) Verify(payload []byte) bool {
	return h == ComputeHash(payload)
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	return h.hex
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h.hex == ""
}

// MarshalJSON implements json.Marshaler.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.hex)
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return fmt.Errorf("unmarshal hash: %w", err)
	}
	*h = parsed
	return nil
}

// Value implements driver.Valuer, for index backends that store a Hash
// as a plain string column/key.
func (h Hash) Value() (driver.Value, error) {
	return h.hex, nil
}
