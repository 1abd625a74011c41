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

// Package identity validates ledger account identities and decides which
// identities may approve or reject certificates.
package identity

import (
	"errors"
	"fmt"
)

const (
	// Length is the length of an account identity string
	Length = 56
	// Prefix is the leading character of every account identity
	Prefix = 'G'
)

var ErrInvalidIdentity = errors.New("invalid wallet address")

// IsValid reports whether s is a syntactically valid account identity: the
// prefix character followed by 55 characters from [A-Z0-9]
func IsValid(s string) bool {
	if len(s) != Length || s[0] != Prefix {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Validate returns ErrInvalidIdentity if s is not a valid identity
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return nil
}

// Short returns the first 8 characters of an identity, used in storage keys
// and log messages
func Short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
