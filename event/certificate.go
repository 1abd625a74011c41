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

package event

import "github.com/wrever/certix/database/models"

const (
	CertificateRegisteredEventType EventType = "certificate.registered"
	AnchorOrphanedEventType        EventType = "certificate.anchor_orphaned"
	CertificateDecidedEventType    EventType = "certificate.decided"
	CertificateVerifiedEventType   EventType = "certificate.verified"
)

// CertificateRegisteredEvent is published once a certificate is anchored and
// stored
type CertificateRegisteredEvent struct {
	CertificateID string
	Owner         string
	Digest        string
	AnchorTxRef   string
	RegistryRef   string
}

// AnchorOrphanedEvent is published when an anchor transaction was accepted by
// the ledger but the certificate could not be stored
type AnchorOrphanedEvent struct {
	Owner       string
	Digest      string
	AnchorTxRef string
	Error       string
}

// CertificateDecidedEvent is published when a validator approves or rejects
// a certificate
type CertificateDecidedEvent struct {
	CertificateID string
	Status        models.Status
	Validator     string
	DecisionTxRef string
}

// CertificateVerifiedEvent is published after a public verification
type CertificateVerifiedEvent struct {
	CertificateID string
	Valid         bool
	Approved      bool
}
