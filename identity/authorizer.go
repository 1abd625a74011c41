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

package identity

import (
	"fmt"
	"slices"
	"sync"
)

const (
	PolicyAdmin      = "admin"
	PolicyValidators = "validators"
)

// Authorizer decides whether an identity may approve or reject certificates
type Authorizer interface {
	CanDecide(identity string) bool
}

// Lister is implemented by authorizers that can enumerate the identities
// they authorize
type Lister interface {
	List() []string
}

// FixedAdmin authorizes exactly one administrator identity
type FixedAdmin struct {
	admin string
}

func NewFixedAdmin(admin string) (*FixedAdmin, error) {
	if err := Validate(admin); err != nil {
		return nil, fmt.Errorf("admin identity: %w", err)
	}
	return &FixedAdmin{admin: admin}, nil
}

func (f *FixedAdmin) CanDecide(identity string) bool {
	return identity != "" && identity == f.admin
}

// Admin returns the configured administrator identity
func (f *FixedAdmin) Admin() string {
	return f.admin
}

func (f *FixedAdmin) List() []string {
	return []string{f.admin}
}

// AllowList authorizes any identity on a list of validators. The list may be
// replaced at runtime.
type AllowList struct {
	validators map[string]struct{}
	mu         sync.RWMutex
}

func NewAllowList(validators ...string) (*AllowList, error) {
	a := &AllowList{}
	if err := a.Set(validators...); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AllowList) CanDecide(identity string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.validators[identity]
	return ok
}

// Set replaces the validator list
func (a *AllowList) Set(validators ...string) error {
	tmp := make(map[string]struct{}, len(validators))
	for _, v := range validators {
		if err := Validate(v); err != nil {
			return fmt.Errorf("validator identity: %w", err)
		}
		tmp[v] = struct{}{}
	}
	a.mu.Lock()
	a.validators = tmp
	a.mu.Unlock()
	return nil
}

// List returns the validators in sorted order
func (a *AllowList) List() []string {
	a.mu.RLock()
	ret := make([]string, 0, len(a.validators))
	for v := range a.validators {
		ret = append(ret, v)
	}
	a.mu.RUnlock()
	slices.Sort(ret)
	return ret
}

// NewAuthorizer returns the Authorizer for the named policy. An empty policy
// selects the single administrator.
func NewAuthorizer(
	policy string,
	admin string,
	validators []string,
) (Authorizer, error) {
	switch policy {
	case PolicyAdmin, "":
		return NewFixedAdmin(admin)
	case PolicyValidators:
		return NewAllowList(validators...)
	default:
		return nil, fmt.Errorf("unknown authorization policy: %s", policy)
	}
}
