// Copyright 2025 Blink Labs Software
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

// Package digest computes and parses the SHA-256 content digests that
// identify certificate documents.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Size is the length of a digest in bytes
	Size = sha256.Size
	// HexSize is the length of a hex-encoded digest
	HexSize = Size * 2
	// MemoSize is the number of hex characters that fit in a ledger text memo
	MemoSize = 28
)

var ErrInvalidHex = errors.New("digest is not valid hex")

// LengthError is returned when a digest does not have exactly HexSize hex
// characters (or Size bytes)
type LengthError struct {
	Got  int
	Want int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf(
		"invalid digest length: expected %d, got %d",
		e.Want,
		e.Got,
	)
}

// Digest is a SHA-256 content digest
type Digest [Size]byte

// Sum returns the digest of data. Empty input is valid.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// FromReader returns the digest of everything read from r
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, fmt.Errorf("hash input: %w", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// FromBytes copies a raw 32-byte value into a Digest
func FromBytes(b []byte) (Digest, error) {
	if len(b) != Size {
		return Digest{}, &LengthError{Got: len(b), Want: Size}
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// ParseHex parses a 64 character hex digest. Values of any other length are
// rejected rather than padded or truncated.
func ParseHex(s string) (Digest, error) {
	if len(s) != HexSize {
		return Digest{}, &LengthError{Got: len(s), Want: HexSize}
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %s", ErrInvalidHex, err)
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// Hex returns the lowercase hex representation
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// Bytes returns a copy of the raw digest
func (d Digest) Bytes() []byte {
	ret := make([]byte, Size)
	copy(ret, d[:])
	return ret
}

// MemoText returns the digest prefix embedded in anchoring transactions
func (d Digest) MemoText() string {
	return d.Hex()[:MemoSize]
}

// IsZero reports whether the digest is unset
func (d Digest) IsZero() bool {
	return d == Digest{}
}
