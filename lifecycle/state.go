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

package lifecycle

// State is a step of the certificate lifecycle
type State uint8

const (
	StateUploading State = iota + 1
	StateAwaitingOwnerSignature
	StateAnchoring
	StateRegisteringOnContract
	StatePersistedPending
	StateAwaitingValidatorSignature
	StateSubmitting
	StateContractUpdated
	StatePersistedApproved
	StatePersistedRejected
)

func (s State) String() string {
	switch s {
	case StateUploading:
		return "uploading"
	case StateAwaitingOwnerSignature:
		return "awaiting_owner_signature"
	case StateAnchoring:
		return "anchoring"
	case StateRegisteringOnContract:
		return "registering_on_contract"
	case StatePersistedPending:
		return "persisted_pending"
	case StateAwaitingValidatorSignature:
		return "awaiting_validator_signature"
	case StateSubmitting:
		return "submitting"
	case StateContractUpdated:
		return "contract_updated"
	case StatePersistedApproved:
		return "persisted_approved"
	case StatePersistedRejected:
		return "persisted_rejected"
	default:
		return "unknown"
	}
}
